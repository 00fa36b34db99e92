package supabase

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

type userBody struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

func (u userBody) toUser() task.User {
	return task.User{ID: u.ID, Email: u.Email, EmailConfirmed: u.EmailConfirmedAt != nil}
}

// sessionBody is a GoTrue token response. Sign-up without a session returns
// the bare user, which lands in the embedded userBody.
type sessionBody struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         *userBody `json:"user"`
	userBody
}

func (b sessionBody) hasSession() bool {
	return b.AccessToken != ""
}

func (b sessionBody) user() task.User {
	if b.User != nil {
		return b.User.toUser()
	}
	return b.userBody.toUser()
}

func (b sessionBody) session(now time.Time) *Session {
	return &Session{
		UserID:       b.user().ID,
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(b.ExpiresIn) * time.Second),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func tokenRequest(grant string, body any) request {
	return request{
		method: fiber.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {grant}},
		json:   body,
	}
}

func (g *Gateway) refresh(ctx context.Context) error {
	refreshToken := g.refreshToken()
	if refreshToken == "" {
		return gateway.ErrUnauthenticated
	}
	var body sessionBody
	err := g.send(ctx, "", tokenRequest("refresh_token", map[string]string{"refresh_token": refreshToken}), &body)
	if err != nil || !body.hasSession() {
		g.logger.Info("Session refresh failed, signing out locally", "error", err)
		g.setSession(nil)
		return gateway.ErrUnauthenticated
	}
	g.setSession(body.session(time.Now()))
	return nil
}

func (g *Gateway) CurrentUser(ctx context.Context) (*task.User, error) {
	if g.accessToken() == "" {
		return nil, nil
	}
	var body userBody
	err := g.sendAuthed(ctx, request{method: fiber.MethodGet, path: "/auth/v1/user"}, &body)
	if errors.Is(err, gateway.ErrUnauthenticated) {
		g.setSession(nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := body.toUser()
	return &u, nil
}

func (g *Gateway) SignIn(ctx context.Context, email, password string) (*task.User, error) {
	var body sessionBody
	if err := g.send(ctx, "", tokenRequest("password", credentials{Email: email, Password: password}), &body); err != nil {
		return nil, err
	}
	if !body.hasSession() {
		return nil, gateway.ErrUnauthenticated
	}
	g.setSession(body.session(time.Now()))
	u := body.user()
	return &u, nil
}

func (g *Gateway) SignUp(ctx context.Context, email, password string) (*gateway.SignUpResult, error) {
	var body sessionBody
	err := g.send(ctx, "", request{
		method: fiber.MethodPost,
		path:   "/auth/v1/signup",
		json:   credentials{Email: email, Password: password},
	}, &body)
	if err != nil {
		return nil, err
	}
	if body.hasSession() {
		g.setSession(body.session(time.Now()))
	}
	return &gateway.SignUpResult{
		User:                 body.user(),
		ConfirmationRequired: !body.hasSession(),
	}, nil
}

// SignOut revokes the session server-side. The local session ends even when
// the call fails.
func (g *Gateway) SignOut(ctx context.Context) error {
	token := g.accessToken()
	g.setSession(nil)
	if token == "" {
		return nil
	}
	err := g.send(ctx, token, request{method: fiber.MethodPost, path: "/auth/v1/logout"}, nil)
	if errors.Is(err, gateway.ErrUnauthenticated) {
		return nil
	}
	return err
}

func (g *Gateway) ResendConfirmation(ctx context.Context, email string) error {
	return g.send(ctx, "", request{
		method: fiber.MethodPost,
		path:   "/auth/v1/resend",
		json:   map[string]string{"type": "signup", "email": email},
	}, nil)
}

// VerifyEmail submits the one-time code from the confirmation email. A
// session in the response replaces the current one.
func (g *Gateway) VerifyEmail(ctx context.Context, email, code string) (*task.User, error) {
	var body sessionBody
	err := g.send(ctx, "", request{
		method: fiber.MethodPost,
		path:   "/auth/v1/verify",
		json:   map[string]string{"type": "signup", "email": email, "token": code},
	}, &body)
	if err != nil {
		return nil, err
	}
	if body.hasSession() {
		g.setSession(body.session(time.Now()))
	}
	u := body.user()
	return &u, nil
}
