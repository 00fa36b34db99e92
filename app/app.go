// Package app assembles the embedded mono application and picks the gateway
// client sessions talk to.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"

	"github.com/example/taskflow/gateway"
	"github.com/example/taskflow/gateway/embedded"
	"github.com/example/taskflow/gateway/supabase"
	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/cache"
	"github.com/example/taskflow/modules/feed"
	"github.com/example/taskflow/modules/objects"
	taskmod "github.com/example/taskflow/modules/task"
)

// ShutdownTimeout bounds the graceful stop of the mono application.
const ShutdownTimeout = 30 * time.Second

// Gateway modes.
const (
	ModeEmbedded      = "embedded"
	ModeSupabase      = "supabase"
	ModeNotConfigured = "not-configured"
)

// imageBucketBytes caps the task-images bucket.
const imageBucketBytes = 1024 * 1024 * 1024

// Config selects how the application is assembled.
type Config struct {
	// Quiet lowers the framework log level to errors only.
	Quiet        bool
	JetStreamDir string
	RedisAddr    string
	Supabase     supabase.Config
}

// ConfigFromEnv reads JETSTREAM_DIR, REDIS_ADDR and the Supabase settings.
func ConfigFromEnv() Config {
	return Config{
		JetStreamDir: GetEnv("JETSTREAM_DIR", "/tmp/taskflow"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		Supabase:     supabase.ConfigFromEnv(),
	}
}

// Mode reports which gateway client sessions use. Both Supabase variables
// select the hosted gateway, neither selects the embedded one, and exactly
// one of them is a configuration error.
func (c Config) Mode() string {
	switch {
	case c.Supabase.Configured():
		return ModeSupabase
	case c.Supabase.URL == "" && c.Supabase.AnonKey == "":
		return ModeEmbedded
	default:
		return ModeNotConfigured
	}
}

// Stack is the running application as seen by a presentation layer.
type Stack struct {
	Mode    string
	Logger  types.Logger
	Hub     *feed.Hub
	factory func() (gateway.Gateway, error)
	stop    func(ctx context.Context) error
}

// NewGateway returns a fresh gateway for one client session, or nil when
// nothing is configured.
func (s *Stack) NewGateway() (gateway.Gateway, error) {
	if s.factory == nil {
		return nil, nil
	}
	return s.factory()
}

// Configured reports whether NewGateway can produce a gateway.
func (s *Stack) Configured() bool {
	return s.factory != nil
}

// Stop stops every registered module.
func (s *Stack) Stop(ctx context.Context) error {
	return s.stop(ctx)
}

// Start creates the mono application, registers the embedded modules when
// the embedded gateway is selected, then the modules returned by
// presentation, and starts them all.
func Start(ctx context.Context, cfg Config, presentation func(*Stack) []mono.Module) (*Stack, error) {
	level := mono.LogLevelInfo
	if cfg.Quiet {
		level = mono.LogLevelError
	}
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(ShutdownTimeout),
		mono.WithLogLevel(level),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(cfg.JetStreamDir),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	stack := &Stack{Mode: cfg.Mode(), Logger: app.Logger(), stop: app.Stop}

	switch stack.Mode {
	case ModeNotConfigured:
		stack.Logger.Warn("Only one of SUPABASE_URL and SUPABASE_ANON_KEY is set, no gateway configured")
	case ModeSupabase:
		sbCfg := cfg.Supabase
		logger := stack.Logger.WithModule("supabase")
		stack.factory = func() (gateway.Gateway, error) {
			return supabase.New(sbCfg, logger)
		}
	case ModeEmbedded:
		storagePlugin, err := fsjetstream.New(fsjetstream.Config{
			Buckets: []fsjetstream.BucketConfig{
				{
					Name:        gateway.ImageBucket,
					Description: "Task images",
					MaxBytes:    imageBucketBytes,
					Storage:     fsjetstream.FileStorage,
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage plugin: %w", err)
		}
		if err := app.RegisterPlugin(storagePlugin, "storage"); err != nil {
			return nil, fmt.Errorf("failed to register storage plugin: %w", err)
		}
		if err := app.RegisterPlugin(cache.NewPluginModule(cfg.RedisAddr), "cache"); err != nil {
			return nil, fmt.Errorf("failed to register cache plugin: %w", err)
		}

		objectsModule := objects.NewModule(stack.Logger.WithModule("objects"))
		feedModule := feed.NewModule(stack.Logger.WithModule("feed"))
		gatewayModule := embedded.NewModule(objectsModule, feedModule.Hub(), stack.Logger)

		// Independent modules first, then the ones depending on them.
		for _, m := range []mono.Module{
			auth.NewModule(),
			taskmod.NewModule(),
			objectsModule,
			feedModule,
			gatewayModule,
		} {
			if err := app.Register(m); err != nil {
				return nil, fmt.Errorf("failed to register %s module: %w", m.Name(), err)
			}
		}

		stack.Hub = feedModule.Hub()
		stack.factory = func() (gateway.Gateway, error) {
			return gatewayModule.NewGateway(), nil
		}
	}

	if presentation != nil {
		for _, m := range presentation(stack) {
			if err := app.Register(m); err != nil {
				return nil, fmt.Errorf("failed to register %s module: %w", m.Name(), err)
			}
		}
	}

	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start application: %w", err)
	}
	return stack, nil
}

// GetEnv returns the environment variable value or def.
func GetEnv(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

// GetEnvInt returns the environment variable as an int or def.
func GetEnvInt(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return def
}
