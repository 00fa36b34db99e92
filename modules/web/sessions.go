package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"

	"github.com/example/taskflow/client"
	"github.com/example/taskflow/prefs"
)

// ErrNotConfigured is returned when no gateway backend is configured.
var ErrNotConfigured = errors.New("no gateway backend is configured")

// viewSession is one browser's controller and the gateway it owns.
type viewSession struct {
	id   string
	ctrl *client.Controller

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *viewSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *viewSession) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.Before(cutoff)
}

// registry maps browser session ids to their controllers.
type registry struct {
	factory GatewayFactory
	opts    []client.Option
	logger  types.Logger

	mu       sync.Mutex
	sessions map[string]*viewSession
}

func newRegistry(factory GatewayFactory, opts []client.Option, logger types.Logger) *registry {
	return &registry{
		factory:  factory,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*viewSession),
	}
}

// lookup returns the session with id, if it is still open.
func (r *registry) lookup(id string) (*viewSession, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch(time.Now())
	}
	return s, ok
}

// open creates a session under a new id and starts its controller.
func (r *registry) open(ctx context.Context) (*viewSession, error) {
	if r.factory == nil {
		return nil, ErrNotConfigured
	}
	gw, err := r.factory()
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	logger := r.logger.With("browser_session", id)
	session := client.NewContext(prefs.NewMemory(prefs.Preferences{}), logger)
	ctrl := client.NewController(gw, session, logger, r.opts...)
	if err := ctrl.Start(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}

	s := &viewSession{id: id, ctrl: ctrl, lastSeen: time.Now()}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	r.logger.Debug("Browser session opened", "browser_session", id)
	return s, nil
}

// sweep closes sessions not seen since cutoff and returns how many.
func (r *registry) sweep(cutoff time.Time) int {
	var idle []*viewSession
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idleSince(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.ctrl.Close()
	}
	return len(idle)
}

func (r *registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*viewSession)
	r.mu.Unlock()

	for _, s := range all {
		s.ctrl.Close()
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
