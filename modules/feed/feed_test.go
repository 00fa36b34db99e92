package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/events"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []task.ChangeEvent
}

func (r *recorder) record(ev task.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []task.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]task.ChangeEvent(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []task.ChangeEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestHub_ScopesByUser(t *testing.T) {
	hub := NewHub(0, &mockLogger{})
	defer hub.Close()

	var alice, bob recorder
	hub.Subscribe("alice", alice.record)
	hub.Subscribe("bob", bob.record)

	assert.Equal(t, 1, hub.Publish("alice", task.ChangeEvent{Type: task.ChangeInsert}))
	assert.Equal(t, 0, hub.Publish("carol", task.ChangeEvent{Type: task.ChangeInsert}))

	got := alice.waitFor(t, 1)
	assert.Equal(t, task.ChangeInsert, got[0].Type)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bob.snapshot())
}

func TestHub_PreservesOrder(t *testing.T) {
	hub := NewHub(0, &mockLogger{})
	defer hub.Close()

	var rec recorder
	hub.Subscribe("alice", rec.record)

	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		hub.Publish("alice", task.ChangeEvent{Type: task.ChangeDelete, OldID: id})
	}

	got := rec.waitFor(t, len(ids))
	for i, ev := range got {
		assert.Equal(t, ids[i], ev.OldID)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(0, &mockLogger{})
	defer hub.Close()

	var first, second recorder
	unsub := hub.Subscribe("alice", first.record)
	hub.Subscribe("alice", second.record)
	assert.Equal(t, 2, hub.SubscriberCount())
	assert.Equal(t, 1, hub.UserCount())

	unsub()
	unsub()
	assert.Equal(t, 1, hub.SubscriberCount())

	assert.Equal(t, 1, hub.Publish("alice", task.ChangeEvent{Type: task.ChangeUpdate}))
	second.waitFor(t, 1)
	assert.Empty(t, first.snapshot())
}

func TestHub_UnsubscribeFromCallback(t *testing.T) {
	hub := NewHub(0, &mockLogger{})
	defer hub.Close()

	var rec recorder
	var unsub func()
	unsub = hub.Subscribe("alice", func(ev task.ChangeEvent) {
		rec.record(ev)
		unsub()
	})

	hub.Publish("alice", task.ChangeEvent{Type: task.ChangeInsert})
	rec.waitFor(t, 1)
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_FullQueueDrops(t *testing.T) {
	hub := NewHub(1, &mockLogger{})
	defer hub.Close()

	release := make(chan struct{})
	hub.Subscribe("alice", func(task.ChangeEvent) { <-release })

	// The first event is taken by the blocked callback, the second fills the
	// queue and the rest are dropped.
	delivered := 0
	for i := 0; i < 5; i++ {
		delivered += hub.Publish("alice", task.ChangeEvent{Type: task.ChangeInsert})
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	published, dropped := hub.Stats()
	assert.Equal(t, int64(5), published)
	assert.Equal(t, int64(5-delivered), dropped)
	assert.Positive(t, dropped)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(0, &mockLogger{})
	hub.Subscribe("alice", func(task.ChangeEvent) {})
	hub.Close()

	assert.Equal(t, 0, hub.SubscriberCount())
	unsub := hub.Subscribe("alice", func(task.ChangeEvent) {})
	unsub()
	assert.Equal(t, 0, hub.Publish("alice", task.ChangeEvent{Type: task.ChangeInsert}))
}

func TestFeedModule_HandleTaskChanged(t *testing.T) {
	m := NewModule(&mockLogger{})
	require.NoError(t, m.Start(context.Background()))

	var rec recorder
	m.Hub().Subscribe("alice", rec.record)

	created := &task.Task{ID: "t1", UserID: "alice", Title: "Buy milk"}
	require.NoError(t, m.handleTaskChanged(context.Background(), events.TaskChangedEvent{
		Type:   task.ChangeInsert,
		UserID: "alice",
		Task:   created,
	}, nil))
	require.NoError(t, m.handleTaskChanged(context.Background(), events.TaskChangedEvent{
		Type: task.ChangeDelete,
	}, nil))

	got := rec.waitFor(t, 1)
	assert.Equal(t, task.ChangeInsert, got[0].Type)
	assert.Equal(t, "Buy milk", got[0].New.Title)

	health := m.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.Details["subscribers"])

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, 0, m.Hub().SubscriberCount())
}
