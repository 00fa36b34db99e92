package feed

import (
	"sync"
	"sync/atomic"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/domain/task"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

type subscriber struct {
	id     uint64
	userID string
	events chan task.ChangeEvent
	fn     func(task.ChangeEvent)
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

func (s *subscriber) run() {
	for ev := range s.events {
		s.fn(ev)
	}
}

// Hub fans task change notifications out to the subscribers of each user.
// Every subscriber has its own queue and goroutine, so a slow callback only
// delays its own notifications, which arrive in publish order.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]map[uint64]*subscriber // userID -> subscribers
	nextID uint64
	buffer int
	closed bool
	logger types.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub. buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int, logger types.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		users:  make(map[string]map[uint64]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers fn for changes to userID's tasks. The returned function
// unsubscribes; it is safe to call more than once and from within fn.
func (h *Hub) Subscribe(userID string, fn func(task.ChangeEvent)) func() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	sub := &subscriber{
		id:     h.nextID,
		userID: userID,
		events: make(chan task.ChangeEvent, h.buffer),
		fn:     fn,
	}
	if h.users[userID] == nil {
		h.users[userID] = make(map[uint64]*subscriber)
	}
	h.users[userID][sub.id] = sub
	h.mu.Unlock()

	go sub.run()
	h.logger.Debug("Feed subscriber registered", "user_id", userID, "subscriber", sub.id)

	return func() { h.unsubscribe(sub) }
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.users[sub.userID]; ok {
		if _, ok := subs[sub.id]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.users, sub.userID)
			}
			h.logger.Debug("Feed subscriber removed", "user_id", sub.userID, "subscriber", sub.id)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish queues ev for every subscriber of userID and returns how many
// subscribers accepted it. A subscriber whose queue is full misses ev.
func (h *Hub) Publish(userID string, ev task.ChangeEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	delivered := 0
	for _, sub := range h.users[userID] {
		select {
		case sub.events <- ev:
			delivered++
		default:
			h.dropped.Add(1)
			h.logger.Warn("Feed subscriber queue full, dropping change",
				"user_id", userID,
				"subscriber", sub.id,
				"type", ev.Type)
		}
	}
	return delivered
}

// Close unsubscribes everyone. Later Subscribe calls return a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.users {
		for _, sub := range subs {
			sub.close()
		}
	}
	h.users = make(map[string]map[uint64]*subscriber)
	h.closed = true
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.users {
		n += len(subs)
	}
	return n
}

// UserCount returns the number of users with at least one subscription.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// Stats returns the number of published and dropped notifications.
func (h *Hub) Stats() (published, dropped int64) {
	return h.published.Load(), h.dropped.Load()
}
