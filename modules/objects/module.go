package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
	"github.com/example/taskflow/modules/auth"
)

// ServiceUpload is the request-reply service storing an image.
const ServiceUpload = "upload"

// ObjectsPort uploads task images on behalf of a session.
type ObjectsPort interface {
	Upload(ctx context.Context, token, path string, img task.Image) (string, error)
}

// TokenValidator resolves an access token to its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*auth.Claims, error)
}

// Module owns the task-images bucket and its public HTTP server.
type Module struct {
	storage   *fsjetstream.PluginModule
	service   *Service
	validator TokenValidator
	logger    types.Logger

	port    int
	baseURL string
	engine  *gin.Engine
	server  *http.Server
}

var (
	_ mono.Module                = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ ObjectsPort                = (*Module)(nil)
)

// NewModule creates the objects module. STORAGE_PORT sets the public server
// port (0 disables it) and PUBLIC_STORAGE_URL the base of public URLs.
func NewModule(logger types.Logger) *Module {
	port := 8081
	if v, err := strconv.Atoi(os.Getenv("STORAGE_PORT")); err == nil {
		port = v
	}
	baseURL := os.Getenv("PUBLIC_STORAGE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", port)
	}
	return NewModuleWithConfig(port, baseURL, logger)
}

// NewModuleWithConfig creates the objects module with explicit settings.
func NewModuleWithConfig(port int, baseURL string, logger types.Logger) *Module {
	return &Module{port: port, baseURL: baseURL, logger: logger}
}

func (m *Module) Name() string {
	return "objects"
}

func (m *Module) Dependencies() []string {
	return []string{"auth"}
}

func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "auth" {
		m.validator = auth.NewAuthAdapter(container)
	}
}

// SetPlugin receives the fs-jetstream storage plugin.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != "storage" {
		return
	}
	storage, ok := plugin.(*fsjetstream.PluginModule)
	if !ok {
		m.logger.Error("Invalid plugin type for storage",
			"alias", alias,
			"expected", "*fsjetstream.PluginModule")
		return
	}
	m.storage = storage
	m.logger.Info("Received storage plugin", "alias", alias)
}

func (m *Module) Start(_ context.Context) error {
	if m.storage == nil {
		return fmt.Errorf("required plugin 'storage' not registered")
	}
	if m.validator == nil {
		return fmt.Errorf("auth dependency not set")
	}
	bucket := m.storage.Bucket(gateway.ImageBucket)
	if bucket == nil {
		return fmt.Errorf("bucket '%s' not found in storage plugin", gateway.ImageBucket)
	}
	m.service = NewService(bucket, m.baseURL)

	gin.SetMode(gin.ReleaseMode)
	m.engine = m.routes()

	if m.port > 0 {
		m.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", m.port),
			Handler:           m.engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			m.logger.Info("Public storage server starting", "port", m.port, "base_url", m.baseURL)
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				m.logger.Error("Public storage server error", "error", err)
			}
		}()
	}

	m.logger.Info("Objects module started", "bucket", gateway.ImageBucket)
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.server != nil {
		m.logger.Info("Shutting down public storage server")
		return m.server.Shutdown(ctx)
	}
	return nil
}

func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "service not initialized"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"bucket":   gateway.ImageBucket,
			"base_url": m.baseURL,
			"port":     m.port,
		},
	}
}

// Service returns the object service; nil before Start.
func (m *Module) Service() *Service {
	return m.service
}

// Handler returns the public HTTP handler; nil before Start.
func (m *Module) Handler() http.Handler {
	return m.engine
}

func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceUpload, json.Unmarshal, json.Marshal, m.handleUpload,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceUpload, err)
	}
	return nil
}

// Upload validates token and stores img under path. In-process callers use it
// directly instead of the upload service.
func (m *Module) Upload(ctx context.Context, token, path string, img task.Image) (string, error) {
	if token == "" {
		return "", gateway.ErrUnauthenticated
	}
	claims, err := m.validator.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	if !claims.EmailConfirmed {
		return "", gateway.ErrEmailNotConfirmed
	}
	url, err := m.service.Upload(ctx, claims.UserID, path, img)
	if err != nil {
		m.logger.Warn("Image upload rejected", "user_id", claims.UserID, "path", path, "error", err)
		return "", err
	}
	m.logger.Info("Image stored", "user_id", claims.UserID, "path", path, "size", img.Size())
	return url, nil
}

func (m *Module) handleUpload(ctx context.Context, req UploadRequest, _ *mono.Msg) (UploadResponse, error) {
	url, err := m.Upload(ctx, req.Token, req.Path, task.Image{
		Name:        req.Name,
		ContentType: req.ContentType,
		Data:        req.Data,
	})
	if err != nil {
		return UploadResponse{Code: errorCode(err), Error: err.Error()}, nil
	}
	return UploadResponse{URL: url}, nil
}

func (m *Module) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(m.loggingMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "objects"})
	})
	engine.GET(PublicPrefix+"*path", m.getObject)
	engine.HEAD(PublicPrefix+"*path", m.getObject)
	return engine
}

// getObject serves a stored image (GET /storage/v1/object/public/task-images/*path).
func (m *Module) getObject(c *gin.Context) {
	data, obj, err := m.service.Open(c.Param("path"))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Object not found"})
			return
		}
		m.logger.Error("Failed to read object", "path", c.Param("path"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read object"})
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	c.Header("ETag", fmt.Sprintf("%q", obj.Digest))
	c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
	c.Header("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, obj.ContentType, data)
}

func (m *Module) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
