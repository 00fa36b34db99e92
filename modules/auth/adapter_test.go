package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-monolith/mono"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/taskflow/gateway"
)

// consumerModule depends on auth and keeps the container it is handed.
type consumerModule struct {
	adapter *AuthAdapter
}

func (m *consumerModule) Name() string                  { return "consumer" }
func (m *consumerModule) Dependencies() []string        { return []string{"auth"} }
func (m *consumerModule) Start(_ context.Context) error { return nil }
func (m *consumerModule) Stop(_ context.Context) error  { return nil }
func (m *consumerModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "auth" {
		m.adapter = NewAuthAdapter(container)
	}
}

func startAuthApp(t *testing.T) *AuthAdapter {
	t.Helper()

	app, err := mono.NewMonoApplication(mono.WithLogLevel(mono.LogLevelError))
	if err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	jwtConfig := DefaultJWTConfig()
	jwtConfig.SecretKey = "test-secret"
	authModule := NewModuleWithConfig(Config{
		DBPath:      filepath.Join(t.TempDir(), "auth.db"),
		AutoConfirm: true,
		BcryptCost:  bcrypt.MinCost,
		JWT:         jwtConfig,
	})
	consumer := &consumerModule{}
	if err := app.Register(authModule); err != nil {
		t.Fatalf("failed to register auth: %v", err)
	}
	if err := app.Register(consumer); err != nil {
		t.Fatalf("failed to register consumer: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("failed to start application: %v", err)
	}
	t.Cleanup(func() { _ = app.Stop(context.Background()) })

	if consumer.adapter == nil {
		t.Fatal("auth container was not injected")
	}
	return consumer.adapter
}

func TestAuthAdapter_RoundTrip(t *testing.T) {
	adapter := startAuthApp(t)
	ctx := context.Background()

	session, needsConfirm, err := adapter.SignUp(ctx, "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if needsConfirm || session == nil || session.Tokens == nil {
		t.Fatalf("SignUp() = %+v, %v; want an auto-confirmed session", session, needsConfirm)
	}

	signedIn, err := adapter.SignIn(ctx, "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signedIn.User.ID != session.User.ID {
		t.Errorf("SignIn() user = %s, want %s", signedIn.User.ID, session.User.ID)
	}

	claims, err := adapter.ValidateToken(ctx, signedIn.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != session.User.ID || !claims.EmailConfirmed {
		t.Errorf("ValidateToken() = %+v", claims)
	}

	user, err := adapter.CurrentUser(ctx, signedIn.Tokens.AccessToken)
	if err != nil || user == nil || user.Email != "ana@example.com" {
		t.Fatalf("CurrentUser() = %+v, %v", user, err)
	}

	if err := adapter.SignOut(ctx, signedIn.Tokens.AccessToken); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := adapter.ValidateToken(ctx, signedIn.Tokens.AccessToken); !errors.Is(err, gateway.ErrUnauthenticated) {
		t.Errorf("ValidateToken() after sign-out error = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthAdapter_FailureCarriesSentinel(t *testing.T) {
	adapter := startAuthApp(t)

	_, err := adapter.SignIn(context.Background(), "nobody@example.com", "secret123")
	if !errors.Is(err, gateway.ErrInvalidCredentials) {
		t.Errorf("SignIn() error = %v, want ErrInvalidCredentials", err)
	}
}
