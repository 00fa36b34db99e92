package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// Service names registered by the auth module.
const (
	ServiceSignUp             = "sign-up"
	ServiceSignIn             = "sign-in"
	ServiceRefresh            = "refresh"
	ServiceSignOut            = "sign-out"
	ServiceCurrentUser        = "current-user"
	ServiceResendConfirmation = "resend-confirmation"
	ServiceConfirm            = "confirm"
	ServiceValidate           = "validate"
)

// Session is a started session as returned to callers of the port.
type Session struct {
	User   task.User
	Tokens *TokenPair
}

// AuthPort defines the authentication operations other modules use.
type AuthPort interface {
	SignUp(ctx context.Context, email, password string) (*Session, bool, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*task.User, error)
	ResendConfirmation(ctx context.Context, email string) error
	Confirm(ctx context.Context, email, code string) (*task.User, error)
	ValidateToken(ctx context.Context, accessToken string) (*Claims, error)
}

// AuthAdapter implements AuthPort over the auth module's service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

var _ AuthPort = (*AuthAdapter)(nil)

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	if container == nil {
		panic("auth adapter requires non-nil ServiceContainer")
	}
	return &AuthAdapter{container: container}
}

// call invokes a request-reply service with a typed response.
func call[T any](ctx context.Context, container mono.ServiceContainer, service string, req any, resp *T) error {
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	return nil
}

// SignUp registers an account. The bool reports whether email confirmation
// is required, in which case no tokens are returned.
func (a *AuthAdapter) SignUp(ctx context.Context, email, password string) (*Session, bool, error) {
	var resp SessionResponse
	if err := call(ctx, a.container, ServiceSignUp, &CredentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, false, err
	}
	if resp.Failed() {
		return nil, false, resp.Failure.Err()
	}
	return &Session{User: resp.User, Tokens: resp.Tokens}, resp.ConfirmationRequired, nil
}

// SignIn starts a session.
func (a *AuthAdapter) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp SessionResponse
	if err := call(ctx, a.container, ServiceSignIn, &CredentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	return &Session{User: resp.User, Tokens: resp.Tokens}, nil
}

// Refresh rotates the token pair.
func (a *AuthAdapter) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var resp SessionResponse
	if err := call(ctx, a.container, ServiceRefresh, &RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	return &Session{User: resp.User, Tokens: resp.Tokens}, nil
}

// SignOut revokes the session's tokens.
func (a *AuthAdapter) SignOut(ctx context.Context, accessToken string) error {
	var resp AckResponse
	if err := call(ctx, a.container, ServiceSignOut, &TokenRequest{Token: accessToken}, &resp); err != nil {
		return err
	}
	if resp.Failed() {
		return resp.Failure.Err()
	}
	return nil
}

// CurrentUser resolves the account behind an access token.
func (a *AuthAdapter) CurrentUser(ctx context.Context, accessToken string) (*task.User, error) {
	var resp UserResponse
	if err := call(ctx, a.container, ServiceCurrentUser, &TokenRequest{Token: accessToken}, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	return &resp.User, nil
}

// ResendConfirmation issues a new confirmation code for email.
func (a *AuthAdapter) ResendConfirmation(ctx context.Context, email string) error {
	var resp AckResponse
	if err := call(ctx, a.container, ServiceResendConfirmation, &ResendRequest{Email: email}, &resp); err != nil {
		return err
	}
	if resp.Failed() {
		return resp.Failure.Err()
	}
	return nil
}

// Confirm submits a confirmation code.
func (a *AuthAdapter) Confirm(ctx context.Context, email, code string) (*task.User, error) {
	var resp UserResponse
	if err := call(ctx, a.container, ServiceConfirm, &ConfirmRequest{Email: email, Code: code}, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	return &resp.User, nil
}

// ValidateToken validates an access token and returns its claims.
func (a *AuthAdapter) ValidateToken(ctx context.Context, accessToken string) (*Claims, error) {
	var resp ValidateTokenResponse
	if err := call(ctx, a.container, ServiceValidate, &TokenRequest{Token: accessToken}, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, resp.Failure.Err()
	}
	return &Claims{UserID: resp.UserID, Email: resp.Email, EmailConfirmed: resp.EmailConfirmed}, nil
}

// Err converts a response failure into an error, using the gateway
// sentinels for codes callers branch on.
func (f Failure) Err() error {
	var sentinel error
	switch f.Code {
	case "":
		return nil
	case CodeInvalidCredentials:
		sentinel = gateway.ErrInvalidCredentials
	case CodeEmailTaken:
		sentinel = gateway.ErrEmailTaken
	case CodeRateLimited:
		sentinel = gateway.ErrRateLimited
	case CodeInvalidToken, CodeExpiredToken:
		sentinel = gateway.ErrUnauthenticated
	case CodeInvalidConfirmation:
		sentinel = gateway.ErrInvalidConfirmation
	default:
		if f.Error == "" {
			return errors.New(f.Code)
		}
		return errors.New(f.Error)
	}
	if f.Error == "" || f.Error == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, f.Error)
}
