// Package web hosts the task view for browsers: REST intents drive one
// client.Controller per browser session and a WebSocket pushes its
// ViewState.
package web

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/taskflow/client"
	"github.com/example/taskflow/gateway"
	"github.com/example/taskflow/modules/feed"
)

const (
	defaultPort        = 3000
	defaultIdleTimeout = 30 * time.Minute
	sweepInterval      = time.Minute
	bodyLimit          = 8 << 20
)

// GatewayFactory returns a fresh gateway for a new browser session.
type GatewayFactory func() (gateway.Gateway, error)

// Config holds the web module settings.
type Config struct {
	// Port of the Fiber server; 0 builds the app without listening.
	Port int
	// IdleTimeout closes browser sessions not seen for this long.
	IdleTimeout time.Duration
	// Mode names the active gateway in health output.
	Mode string
	// Options are applied to every controller.
	Options []client.Option
}

// WebModule serves the browser API and the view WebSocket.
type WebModule struct {
	cfg      Config
	factory  GatewayFactory
	hub      *feed.Hub
	sessions *registry
	logger   types.Logger

	app       *fiber.App
	stopSweep context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*WebModule)(nil)
var _ mono.HealthCheckableModule = (*WebModule)(nil)

// NewModule creates the web module. PORT sets the listen port and
// SESSION_IDLE_TIMEOUT (a Go duration) the browser session lifetime.
func NewModule(logger types.Logger) *WebModule {
	cfg := Config{Port: defaultPort, IdleTimeout: defaultIdleTimeout}
	if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Port = v
	}
	if v, err := time.ParseDuration(os.Getenv("SESSION_IDLE_TIMEOUT")); err == nil && v > 0 {
		cfg.IdleTimeout = v
	}
	return NewModuleWithConfig(cfg, logger)
}

// NewModuleWithConfig creates the web module with explicit settings.
func NewModuleWithConfig(cfg Config, logger types.Logger) *WebModule {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &WebModule{cfg: cfg, logger: logger}
}

func (m *WebModule) Name() string {
	return "web"
}

// SetGatewayFactory sets how browser sessions obtain a gateway (called from
// main.go). Without one the view reports the configuration-required state.
func (m *WebModule) SetGatewayFactory(mode string, factory GatewayFactory) {
	m.cfg.Mode = mode
	m.factory = factory
}

// SetHub exposes the embedded change feed in health output.
func (m *WebModule) SetHub(hub *feed.Hub) {
	m.hub = hub
}

func (m *WebModule) Start(_ context.Context) error {
	m.sessions = newRegistry(m.factory, m.cfg.Options, m.logger)

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		BodyLimit:             bodyLimit,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})
	m.app.Use(recover.New())
	m.app.Use(m.loggerMiddleware())
	m.setupRoutes()

	sweepCtx, cancel := context.WithCancel(context.Background())
	m.stopSweep = cancel
	go m.sweep(sweepCtx)

	if m.cfg.Port > 0 {
		go func() {
			if err := m.app.Listen(fmt.Sprintf(":%d", m.cfg.Port)); err != nil {
				m.logger.Error("HTTP server error", "error", err)
			}
		}()
		m.logger.Info("HTTP server started", "port", m.cfg.Port, "mode", m.cfg.Mode)
	}
	return nil
}

func (m *WebModule) Stop(_ context.Context) error {
	if m.stopSweep != nil {
		m.stopSweep()
	}
	if m.sessions != nil {
		m.sessions.closeAll()
	}
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	return m.app.Shutdown()
}

func (m *WebModule) Health(_ context.Context) mono.HealthStatus {
	if m.app == nil {
		return mono.HealthStatus{Healthy: false, Message: "server not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: m.healthDetails(),
	}
}

// App returns the Fiber app; nil before Start.
func (m *WebModule) App() *fiber.App {
	return m.app
}

func (m *WebModule) healthDetails() map[string]any {
	details := map[string]any{
		"module":     "web",
		"mode":       m.cfg.Mode,
		"configured": m.factory != nil,
		"sessions":   m.sessions.count(),
	}
	if m.hub != nil {
		published, dropped := m.hub.Stats()
		details["feed_subscribers"] = m.hub.SubscriberCount()
		details["feed_published"] = published
		details["feed_dropped"] = dropped
	}
	return details
}

func (m *WebModule) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.sessions.sweep(now.Add(-m.cfg.IdleTimeout)); n > 0 {
				m.logger.Info("Closed idle browser sessions", "count", n)
			}
		}
	}
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

func (m *WebModule) loggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		m.logger.Debug("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
}
