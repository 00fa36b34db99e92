package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/example/taskflow/domain/task"
)

const (
	channelTopic  = "realtime:tasks_changes"
	maxBackoff    = 30 * time.Second
	leaveDeadline = time.Second
)

// outgoing is a Phoenix channel message sent to the realtime server.
type outgoing struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
	JoinRef string `json:"join_ref,omitempty"`
}

// incoming is a Phoenix channel message received from the realtime server.
type incoming struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// changePayload is the body of a postgres_changes message.
type changePayload struct {
	Data struct {
		Type      string          `json:"type"`
		Table     string          `json:"table"`
		Record    *task.Task      `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
	} `json:"data"`
}

// changeEvent converts a postgres_changes payload into a change event.
func (p changePayload) changeEvent() (task.ChangeEvent, bool) {
	ev := task.ChangeEvent{Type: task.ChangeType(strings.ToUpper(p.Data.Type))}
	switch ev.Type {
	case task.ChangeInsert, task.ChangeUpdate, task.ChangeDelete:
	default:
		return ev, false
	}
	if ev.Type != task.ChangeDelete {
		ev.New = p.Data.Record
	}
	var old struct {
		ID string `json:"id"`
	}
	if len(p.Data.OldRecord) > 0 && json.Unmarshal(p.Data.OldRecord, &old) == nil {
		ev.OldID = old.ID
	}
	return ev, true
}

func (g *Gateway) realtimeURL() string {
	u := g.cfg.URL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{"apikey": {g.cfg.AnonKey}, "vsn": {"1.0.0"}}
	return u + "/realtime/v1/websocket?" + q.Encode()
}

// subscription is one realtime channel delivering task changes to fn. It
// reconnects with backoff until stopped.
type subscription struct {
	g      *Gateway
	fn     func(task.ChangeEvent)
	userID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex
	conn    *websocket.Conn
	token   string
	joinRef string
	ref     atomic.Uint64
}

func (s *subscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *subscription) write(msg outgoing) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("realtime: not connected")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.g.cfg.Timeout))
	return s.conn.WriteJSON(msg)
}

// updateToken forwards a refreshed access token to the channel.
func (s *subscription) updateToken(token string) {
	s.writeMu.Lock()
	s.token = token
	joinRef := s.joinRef
	s.writeMu.Unlock()

	if joinRef == "" {
		return
	}
	err := s.write(outgoing{
		Topic:   channelTopic,
		Event:   "access_token",
		Payload: map[string]string{"access_token": token},
		Ref:     s.nextRef(),
		JoinRef: joinRef,
	})
	if err != nil {
		s.g.logger.Debug("Failed to push refreshed token to realtime channel", "error", err)
	}
}

func (s *subscription) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: s.g.cfg.Timeout}
	conn, _, err := dialer.DialContext(s.ctx, s.g.realtimeURL(), nil)
	if err != nil {
		return fmt.Errorf("realtime: dial failed: %w", err)
	}
	joinRef := s.nextRef()

	s.writeMu.Lock()
	s.conn = conn
	s.joinRef = joinRef
	token := s.token
	s.writeMu.Unlock()

	return s.write(outgoing{
		Topic: channelTopic,
		Event: "phx_join",
		Payload: map[string]any{
			"config": map[string]any{
				"broadcast": map[string]any{"self": false},
				"presence":  map[string]any{"key": ""},
				"postgres_changes": []map[string]string{{
					"event":  "*",
					"schema": "public",
					"table":  tasksTable,
					"filter": "user_id=eq." + s.userID,
				}},
			},
			"access_token": token,
		},
		Ref:     joinRef,
		JoinRef: joinRef,
	})
}

func (s *subscription) closeConn() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.joinRef = ""
}

// run reads the current connection, reconnecting until the subscription
// is stopped.
func (s *subscription) run() {
	defer close(s.done)
	backoff := time.Second
	for {
		started := time.Now()
		err := s.serve()
		s.closeConn()
		if s.ctx.Err() != nil {
			return
		}
		if time.Since(started) > maxBackoff {
			backoff = time.Second
		}
		s.g.logger.Warn("Realtime connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		if err := s.dial(); err != nil {
			s.g.logger.Warn("Realtime reconnect failed", "error", err)
			s.closeConn()
		}
	}
}

// serve reads messages from the current connection and sends heartbeats
// until the connection fails or the subscription stops.
func (s *subscription) serve() error {
	s.writeMu.Lock()
	conn := s.conn
	s.writeMu.Unlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}

	hbCtx, stop := context.WithCancel(s.ctx)
	defer stop()
	go s.heartbeat(hbCtx)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.g.cfg.Heartbeat))
		var msg incoming
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if err := s.handle(msg); err != nil {
			return err
		}
	}
}

func (s *subscription) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.g.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.write(outgoing{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: s.nextRef()})
			if err != nil {
				s.g.logger.Debug("Realtime heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *subscription) handle(msg incoming) error {
	if msg.Topic != channelTopic {
		return nil
	}
	switch msg.Event {
	case "phx_reply":
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return nil
		}
		s.writeMu.Lock()
		isJoin := msg.Ref != nil && *msg.Ref == s.joinRef
		s.writeMu.Unlock()
		if isJoin && reply.Status != "ok" {
			return fmt.Errorf("realtime: join rejected: %s", string(reply.Response))
		}
		if isJoin {
			s.g.logger.Debug("Realtime channel joined", "topic", channelTopic)
		}
	case "phx_error", "phx_close":
		return fmt.Errorf("realtime: channel %s", strings.TrimPrefix(msg.Event, "phx_"))
	case "postgres_changes":
		var payload changePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.g.logger.Warn("Malformed realtime change", "error", err)
			return nil
		}
		if ev, ok := payload.changeEvent(); ok {
			s.fn(ev)
		}
	}
	return nil
}

// stop leaves the channel and closes the connection. It does not wait for
// the reader, so it may be called from fn.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.writeMu.Lock()
		joinRef := s.joinRef
		s.writeMu.Unlock()
		if joinRef != "" {
			_ = s.write(outgoing{Topic: channelTopic, Event: "phx_leave", Payload: map[string]any{}, Ref: s.nextRef(), JoinRef: joinRef})
		}
		s.cancel()
		s.writeMu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(leaveDeadline))
			_ = s.conn.Close()
		}
		s.writeMu.Unlock()

		s.g.mu.Lock()
		delete(s.g.realtime, s)
		s.g.mu.Unlock()
	})
}

// SubscribeToTaskChanges joins the realtime channel for the signed-in user's
// rows. Notifications are delivered to fn in order from one goroutine.
func (g *Gateway) SubscribeToTaskChanges(ctx context.Context, fn func(task.ChangeEvent)) (func(), error) {
	userID, err := g.userID()
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		g:      g,
		fn:     fn,
		userID: userID,
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		token:  g.accessToken(),
	}

	if err := ctx.Err(); err != nil {
		cancel()
		return nil, err
	}
	if err := sub.dial(); err != nil {
		cancel()
		sub.closeConn()
		return nil, err
	}

	g.mu.Lock()
	g.realtime[sub] = struct{}{}
	g.mu.Unlock()

	go sub.run()
	return sub.stop, nil
}
