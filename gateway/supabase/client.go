// Package supabase implements gateway.Gateway against a hosted Supabase
// project: GoTrue for identity, PostgREST for the tasks table, the storage
// API for images and the realtime websocket for change notifications.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"

	"github.com/example/taskflow/gateway"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultHeartbeat = 30 * time.Second
	tasksTable       = "tasks"
)

// Config configures a hosted gateway.
type Config struct {
	URL     string
	AnonKey string

	// Timeout bounds requests whose context carries no deadline.
	Timeout time.Duration
	// Heartbeat is the realtime keep-alive interval.
	Heartbeat time.Duration
}

// ConfigFromEnv reads SUPABASE_URL and SUPABASE_ANON_KEY.
func ConfigFromEnv() Config {
	return Config{
		URL:     os.Getenv("SUPABASE_URL"),
		AnonKey: os.Getenv("SUPABASE_ANON_KEY"),
	}
}

// Configured reports whether both the project URL and the anon key are set.
func (c Config) Configured() bool {
	return c.URL != "" && c.AnonKey != ""
}

// APIError is an error response that maps to no gateway sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.Status, e.Message)
}

// errorBody covers the error shapes of GoTrue, PostgREST and storage.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	StatusCode       string `json:"statusCode"`
}

func (b errorBody) code() string {
	switch {
	case b.ErrorCode != "":
		return b.ErrorCode
	case b.Error != "" && b.ErrorDescription != "":
		return b.Error
	}
	if s, ok := b.Code.(string); ok {
		return s
	}
	return ""
}

func (b errorBody) message() string {
	for _, m := range []string{b.Msg, b.ErrorDescription, b.Message, b.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

// decodeError maps an error response to a gateway sentinel where one applies.
func decodeError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	code, msg := eb.code(), eb.message()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	lower := strings.ToLower(msg)

	var sentinel error
	switch {
	case status == fiber.StatusTooManyRequests || strings.HasPrefix(code, "over_"):
		sentinel = gateway.ErrRateLimited
	case code == "invalid_credentials" || strings.Contains(lower, "invalid login credentials"):
		sentinel = gateway.ErrInvalidCredentials
	case code == "user_already_exists" || code == "email_exists" || strings.Contains(lower, "already registered"):
		sentinel = gateway.ErrEmailTaken
	case code == "email_not_confirmed":
		sentinel = gateway.ErrEmailNotConfirmed
	case code == "otp_expired" || strings.Contains(lower, "token has expired or is invalid"):
		sentinel = gateway.ErrInvalidConfirmation
	case status == fiber.StatusRequestEntityTooLarge || eb.StatusCode == "413":
		sentinel = gateway.ErrImageTooLarge
	case status == fiber.StatusUnauthorized || code == "PGRST301" || code == "bad_jwt":
		sentinel = gateway.ErrUnauthenticated
	case status == fiber.StatusForbidden || eb.StatusCode == "403":
		sentinel = gateway.ErrForbidden
	default:
		return &APIError{Status: status, Code: code, Message: msg}
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// Session is the token pair of a signed-in user.
type Session struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Gateway talks to one Supabase project on behalf of one client session.
type Gateway struct {
	cfg    Config
	logger types.Logger

	mu      sync.Mutex
	session *Session
	// live realtime subscriptions; they receive refreshed access tokens
	realtime map[*subscription]struct{}
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a gateway with no session.
func New(cfg Config, logger types.Logger) (*Gateway, error) {
	if !cfg.Configured() {
		return nil, errors.New("supabase: URL and anon key are required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("supabase: invalid project URL %q", cfg.URL)
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		realtime: make(map[*subscription]struct{}),
	}, nil
}

// Session returns a copy of the current session, or nil.
func (g *Gateway) Session() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

// Restore adopts a previously issued session.
func (g *Gateway) Restore(s Session) {
	g.setSession(&s)
}

func (g *Gateway) setSession(s *Session) {
	g.mu.Lock()
	g.session = s
	subs := make([]*subscription, 0, len(g.realtime))
	for sub := range g.realtime {
		subs = append(subs, sub)
	}
	g.mu.Unlock()

	if s == nil {
		return
	}
	for _, sub := range subs {
		sub.updateToken(s.AccessToken)
	}
}

func (g *Gateway) accessToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return ""
	}
	return g.session.AccessToken
}

func (g *Gateway) refreshToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return ""
	}
	return g.session.RefreshToken
}

// request describes one call against the project.
type request struct {
	method      string
	path        string
	query       url.Values
	headers     map[string]string
	json        any
	body        []byte
	contentType string
}

func (g *Gateway) timeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return g.cfg.Timeout
}

// send performs r with token as bearer (the anon key when empty) and decodes
// a successful JSON response into out.
func (g *Gateway) send(ctx context.Context, token string, r request, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := g.cfg.URL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(r.method)
	req.SetRequestURI(target)
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("failed to build %s %s: %w", r.method, r.path, err)
	}

	if token == "" {
		token = g.cfg.AnonKey
	}
	a.Set("apikey", g.cfg.AnonKey)
	a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	for k, v := range r.headers {
		a.Set(k, v)
	}
	switch {
	case r.json != nil:
		a.JSON(r.json)
	case r.body != nil:
		a.ContentType(r.contentType)
		a.Body(r.body)
	}
	a.Timeout(g.timeout(ctx))

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%s %s failed: %w", r.method, r.path, errors.Join(errs...))
	}
	if status >= fiber.StatusBadRequest {
		return decodeError(status, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", r.method, r.path, err)
	}
	return nil
}

// sendAuthed runs r with the session's access token and retries once with a
// refreshed session when the token is rejected.
func (g *Gateway) sendAuthed(ctx context.Context, r request, out any) error {
	token := g.accessToken()
	if token == "" {
		return gateway.ErrUnauthenticated
	}
	err := g.send(ctx, token, r, out)
	if !errors.Is(err, gateway.ErrUnauthenticated) {
		return err
	}
	if rerr := g.refresh(ctx); rerr != nil {
		return err
	}
	return g.send(ctx, g.accessToken(), r, out)
}
