package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/taskflow/events"
)

// Config configures the auth module.
type Config struct {
	DBPath      string
	RedisAddr   string
	AutoConfirm bool
	BcryptCost  int
	JWT         JWTConfig
}

// ConfigFromEnv reads DB_PATH, REDIS_ADDR, AUTO_CONFIRM_EMAIL, JWT_SECRET
// and JWT_ISSUER.
func ConfigFromEnv() Config {
	cfg := Config{
		DBPath:     os.Getenv("DB_PATH"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		BcryptCost: DefaultBcryptCost,
		JWT:        DefaultJWTConfig(),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "taskflow.db"
	}
	if v, err := strconv.ParseBool(os.Getenv("AUTO_CONFIRM_EMAIL")); err == nil {
		cfg.AutoConfirm = v
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.SecretKey = secret
	}
	if issuer := os.Getenv("JWT_ISSUER"); issuer != "" {
		cfg.JWT.Issuer = issuer
	}
	return cfg
}

// AuthModule provides accounts, sessions and email confirmation.
type AuthModule struct {
	cfg      Config
	db       *gorm.DB
	redis    *redis.Client
	service  *AuthService
	eventBus mono.EventBus
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.ServiceProviderModule = (*AuthModule)(nil)
var _ mono.EventEmitterModule = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates an AuthModule configured from the environment.
func NewModule() *AuthModule {
	return NewModuleWithConfig(ConfigFromEnv())
}

// NewModuleWithConfig creates an AuthModule with an explicit configuration.
func NewModuleWithConfig(cfg Config) *AuthModule {
	return &AuthModule{cfg: cfg}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// SetEventBus receives the EventBus from the framework.
func (m *AuthModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *AuthModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserSignedUpV1.ToBase(),
	}
}

// Start opens the user database and builds the service.
func (m *AuthModule) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.cfg.DBPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	if err := db.AutoMigrate(&User{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var limiter RateLimiter
	if m.cfg.RedisAddr != "" {
		m.redis = redis.NewClient(&redis.Options{Addr: m.cfg.RedisAddr})
		rl := NewRedisLimiter(m.redis, "taskflow:auth:")
		if err := rl.Ping(ctx); err != nil {
			log.Printf("[auth] Warning: redis at %s unreachable, rate limiting disabled: %v", m.cfg.RedisAddr, err)
		} else {
			limiter = rl
		}
	}

	service, err := NewAuthService(
		NewUserRepository(db),
		NewPasswordHasher(m.cfg.BcryptCost),
		NewJWTManager(m.cfg.JWT),
		limiter,
		m.cfg.AutoConfirm,
	)
	if err != nil {
		return err
	}
	m.service = service

	log.Printf("[auth] Module started (database: %s, auto-confirm: %t, rate limiting: %t)",
		m.cfg.DBPath, m.cfg.AutoConfirm, limiter != nil)
	return nil
}

// Stop closes the database and Redis connections.
func (m *AuthModule) Stop(_ context.Context) error {
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if m.redis != nil {
		m.redis.Close()
	}
	log.Println("[auth] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	details := map[string]any{"database": m.cfg.DBPath}
	if m.redis != nil {
		details["redis"] = m.redis.Ping(ctx).Err() == nil
	}
	return mono.HealthStatus{Healthy: true, Message: "operational", Details: details}
}

// Service returns the auth service; nil before Start.
func (m *AuthModule) Service() *AuthService {
	return m.service
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSignUp, json.Unmarshal, json.Marshal, m.handleSignUp,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSignUp, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSignIn, json.Unmarshal, json.Marshal, m.handleSignIn,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSignIn, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRefresh, json.Unmarshal, json.Marshal, m.handleRefresh,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRefresh, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSignOut, json.Unmarshal, json.Marshal, m.handleSignOut,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSignOut, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceCurrentUser, json.Unmarshal, json.Marshal, m.handleCurrentUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceCurrentUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceResendConfirmation, json.Unmarshal, json.Marshal, m.handleResend,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceResendConfirmation, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceConfirm, json.Unmarshal, json.Marshal, m.handleConfirm,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceConfirm, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceValidate, json.Unmarshal, json.Marshal, m.handleValidate,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceValidate, err)
	}

	log.Printf("[auth] Registered services: sign-up, sign-in, refresh, sign-out, current-user, resend-confirmation, confirm, validate")
	return nil
}

func (m *AuthModule) handleSignUp(ctx context.Context, req CredentialsRequest, _ *mono.Msg) (SessionResponse, error) {
	user, code, err := m.service.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		return SessionResponse{Failure: failure(err)}, nil
	}

	if code != "" {
		// Stand-in for email delivery.
		log.Printf("[auth] Confirmation code for %s: %s", user.Email, code)
	}
	m.publishSignedUp(user, code)

	resp := SessionResponse{User: user.Identity(), ConfirmationRequired: !user.Confirmed()}
	if user.Confirmed() {
		_, tokens, err := m.service.SignIn(ctx, req.Email, req.Password)
		if err != nil {
			return SessionResponse{Failure: failure(err)}, nil
		}
		resp.Tokens = tokens
	}
	return resp, nil
}

func (m *AuthModule) handleSignIn(ctx context.Context, req CredentialsRequest, _ *mono.Msg) (SessionResponse, error) {
	user, tokens, err := m.service.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return SessionResponse{Failure: failure(err)}, nil
	}
	return SessionResponse{User: user.Identity(), Tokens: tokens}, nil
}

func (m *AuthModule) handleRefresh(ctx context.Context, req RefreshRequest, _ *mono.Msg) (SessionResponse, error) {
	user, tokens, err := m.service.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return SessionResponse{Failure: failure(err)}, nil
	}
	return SessionResponse{User: user.Identity(), Tokens: tokens}, nil
}

func (m *AuthModule) handleSignOut(ctx context.Context, req TokenRequest, _ *mono.Msg) (AckResponse, error) {
	if err := m.service.SignOut(ctx, req.Token); err != nil {
		return AckResponse{Failure: failure(err)}, nil
	}
	return AckResponse{At: time.Now()}, nil
}

func (m *AuthModule) handleCurrentUser(ctx context.Context, req TokenRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.Validate(ctx, req.Token)
	if err != nil {
		return UserResponse{Failure: failure(err)}, nil
	}
	return UserResponse{User: user.Identity()}, nil
}

func (m *AuthModule) handleResend(ctx context.Context, req ResendRequest, _ *mono.Msg) (AckResponse, error) {
	code, err := m.service.ResendConfirmation(ctx, req.Email)
	if err != nil {
		return AckResponse{Failure: failure(err)}, nil
	}
	if code != "" {
		log.Printf("[auth] Confirmation code for %s: %s", normalizeEmail(req.Email), code)
	}
	return AckResponse{At: time.Now()}, nil
}

func (m *AuthModule) handleConfirm(ctx context.Context, req ConfirmRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.Confirm(ctx, req.Email, req.Code)
	if err != nil {
		return UserResponse{Failure: failure(err)}, nil
	}
	log.Printf("[auth] Email confirmed: %s", user.Email)
	return UserResponse{User: user.Identity()}, nil
}

// handleValidate reports validation failures in the response, not as an error.
func (m *AuthModule) handleValidate(ctx context.Context, req TokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	user, err := m.service.Validate(ctx, req.Token)
	if err != nil {
		return ValidateTokenResponse{Failure: failure(err), Valid: false}, nil
	}
	return ValidateTokenResponse{
		Valid:          true,
		UserID:         user.ID,
		Email:          user.Email,
		EmailConfirmed: user.Confirmed(),
	}, nil
}

func (m *AuthModule) publishSignedUp(user *User, code string) {
	if m.eventBus == nil {
		return
	}
	event := events.UserSignedUpEvent{
		UserID:           user.ID,
		Email:            user.Email,
		ConfirmationCode: code,
		Confirmed:        user.Confirmed(),
		CreatedAt:        user.CreatedAt,
	}
	if err := events.UserSignedUpV1.Publish(m.eventBus, event, nil); err != nil {
		log.Printf("[auth] Warning: failed to publish UserSignedUp event for %s: %v", user.ID, err)
	}
}
