// Package embedded implements gateway.Gateway over the in-process auth, task,
// objects and feed modules.
package embedded

import (
	"context"
	"errors"
	"sync"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/feed"
	"github.com/example/taskflow/modules/objects"
	taskmod "github.com/example/taskflow/modules/task"
)

// Ports bundles the module ports a Gateway talks to.
type Ports struct {
	Auth    auth.AuthPort
	Tasks   taskmod.TaskPort
	Objects objects.ObjectsPort
	Feed    *feed.Hub
}

// Gateway is one client session against the embedded modules. It holds the
// session's token pair and refreshes it once when a call reports the access
// token as no longer valid.
type Gateway struct {
	ports  Ports
	logger types.Logger

	mu     sync.Mutex
	tokens *auth.TokenPair
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a Gateway with no session.
func New(ports Ports, logger types.Logger) *Gateway {
	return &Gateway{ports: ports, logger: logger}
}

func (g *Gateway) accessToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokens == nil {
		return ""
	}
	return g.tokens.AccessToken
}

func (g *Gateway) setTokens(tokens *auth.TokenPair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = tokens
}

// Tokens returns a copy of the current token pair, or nil without a session.
func (g *Gateway) Tokens() *auth.TokenPair {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokens == nil {
		return nil
	}
	t := *g.tokens
	return &t
}

// Restore adopts a token pair issued earlier, e.g. from a cookie.
func (g *Gateway) Restore(tokens auth.TokenPair) {
	g.setTokens(&tokens)
}

// refresh rotates the token pair. A failed refresh ends the session.
func (g *Gateway) refresh(ctx context.Context) (string, error) {
	g.mu.Lock()
	var refreshToken string
	if g.tokens != nil {
		refreshToken = g.tokens.RefreshToken
	}
	g.mu.Unlock()
	if refreshToken == "" {
		return "", gateway.ErrUnauthenticated
	}

	session, err := g.ports.Auth.Refresh(ctx, refreshToken)
	if err != nil {
		g.logger.Info("Session refresh failed, signing out locally", "error", err)
		g.setTokens(nil)
		return "", gateway.ErrUnauthenticated
	}
	g.setTokens(session.Tokens)
	g.logger.Debug("Session refreshed", "user_id", session.User.ID)
	return session.Tokens.AccessToken, nil
}

// withToken runs fn with the access token, retrying once with refreshed
// tokens when fn reports the session as unauthenticated.
func (g *Gateway) withToken(ctx context.Context, fn func(token string) error) error {
	token := g.accessToken()
	if token == "" {
		return gateway.ErrUnauthenticated
	}
	err := fn(token)
	if !errors.Is(err, gateway.ErrUnauthenticated) {
		return err
	}
	token, rerr := g.refresh(ctx)
	if rerr != nil {
		return err
	}
	return fn(token)
}

func (g *Gateway) CurrentUser(ctx context.Context) (*task.User, error) {
	if g.accessToken() == "" {
		return nil, nil
	}
	var user *task.User
	err := g.withToken(ctx, func(token string) error {
		u, err := g.ports.Auth.CurrentUser(ctx, token)
		user = u
		return err
	})
	if errors.Is(err, gateway.ErrUnauthenticated) {
		g.setTokens(nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (g *Gateway) ListTasks(ctx context.Context, q task.Query) ([]task.Task, error) {
	var tasks []task.Task
	err := g.withToken(ctx, func(token string) error {
		ts, err := g.ports.Tasks.List(ctx, token, q)
		tasks = ts
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (g *Gateway) CreateTask(ctx context.Context, nt task.NewTask) (*task.Task, error) {
	var created *task.Task
	err := g.withToken(ctx, func(token string) error {
		t, err := g.ports.Tasks.Create(ctx, token, nt)
		created = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (g *Gateway) UpdateTask(ctx context.Context, id string, p task.Patch) (bool, error) {
	err := g.withToken(ctx, func(token string) error {
		_, err := g.ports.Tasks.Update(ctx, token, id, p)
		return err
	})
	if errors.Is(err, task.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) DeleteTask(ctx context.Context, id string) (int, error) {
	var n int
	err := g.withToken(ctx, func(token string) error {
		deleted, err := g.ports.Tasks.Delete(ctx, token, id)
		n = deleted
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Gateway) UploadImage(ctx context.Context, path string, img task.Image) (string, error) {
	if err := gateway.ValidateImage(img); err != nil {
		return "", err
	}
	var url string
	err := g.withToken(ctx, func(token string) error {
		u, err := g.ports.Objects.Upload(ctx, token, path, img)
		url = u
		return err
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// SubscribeToTaskChanges registers fn with the feed hub for the signed-in
// user. The subscription outlives token refreshes but not the hub.
func (g *Gateway) SubscribeToTaskChanges(ctx context.Context, fn func(task.ChangeEvent)) (func(), error) {
	user, err := g.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, gateway.ErrUnauthenticated
	}
	return g.ports.Feed.Subscribe(user.ID, fn), nil
}

func (g *Gateway) SignIn(ctx context.Context, email, password string) (*task.User, error) {
	session, err := g.ports.Auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	g.setTokens(session.Tokens)
	user := session.User
	return &user, nil
}

func (g *Gateway) SignUp(ctx context.Context, email, password string) (*gateway.SignUpResult, error) {
	session, confirmationRequired, err := g.ports.Auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !confirmationRequired && session.Tokens != nil {
		g.setTokens(session.Tokens)
	}
	return &gateway.SignUpResult{
		User:                 session.User,
		ConfirmationRequired: confirmationRequired,
	}, nil
}

// SignOut revokes the session's tokens. The local session ends even when
// revocation fails.
func (g *Gateway) SignOut(ctx context.Context) error {
	token := g.accessToken()
	g.setTokens(nil)
	if token == "" {
		return nil
	}
	err := g.ports.Auth.SignOut(ctx, token)
	if errors.Is(err, gateway.ErrUnauthenticated) {
		return nil
	}
	return err
}

func (g *Gateway) ResendConfirmation(ctx context.Context, email string) error {
	return g.ports.Auth.ResendConfirmation(ctx, email)
}

func (g *Gateway) VerifyEmail(ctx context.Context, email, code string) (*task.User, error) {
	return g.ports.Auth.Confirm(ctx, email, code)
}
