// Package client holds the task synchronization and view-state model: the
// local task snapshot, search debouncing, mutations and the view controller
// that ties them to a gateway.
package client

import (
	"context"
	"slices"
	"sync"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// Snapshot is an immutable copy of the store contents.
type Snapshot struct {
	Tasks   []task.Task
	Loading bool
	Query   task.Query
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// DeltaApply enables patching change events into the list instead of
// re-fetching when the event is unambiguous.
func DeltaApply(enabled bool) StoreOption {
	return func(s *Store) { s.deltaApply = enabled }
}

// OnChange registers a callback invoked, outside any lock, whenever the
// snapshot changes.
func OnChange(fn func()) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// Store is the local snapshot of the current user's tasks under the active
// query. Only the most recently issued refresh may replace the list.
type Store struct {
	gw     gateway.Gateway
	logger types.Logger

	mu         sync.Mutex
	tasks      []task.Task
	loading    bool
	query      task.Query
	seq        uint64
	lastErr    error
	closed     bool
	deltaApply bool
	onChange   func()
}

// NewStore creates an empty store reading from gw.
func NewStore(gw gateway.Gateway, logger types.Logger, opts ...StoreOption) *Store {
	s := &Store{
		gw:     gw,
		logger: logger,
		tasks:  []task.Task{},
		query:  task.Query{Filter: task.FilterAll},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh re-fetches the projection for q and replaces the whole list.
//
// A failed read leaves the list as it was and is only logged. Responses to
// superseded calls, and anything arriving after Close or Reset, are dropped.
func (s *Store) Refresh(ctx context.Context, q task.Query) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	token := s.seq
	s.query = q
	s.loading = true
	s.mu.Unlock()
	s.notify()

	tasks, err := s.gw.ListTasks(ctx, q)

	s.mu.Lock()
	if s.closed || token != s.seq {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale task list", "token", token)
		return
	}
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("Failed to refresh tasks", "error", err, "filter", q.Filter, "search", q.Search)
		s.notify()
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	s.tasks = tasks
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

// Reload refreshes with the query of the latest refresh.
func (s *Store) Reload(ctx context.Context) {
	s.Refresh(ctx, s.Query())
}

// ApplyChange patches a change event into the list. It returns false when
// the caller should fall back to a full refresh: delta apply is disabled, a
// refresh is in flight, or the event does not carry enough data.
func (s *Store) ApplyChange(ev task.ChangeEvent) bool {
	s.mu.Lock()
	if !s.deltaApply || s.closed || s.loading {
		s.mu.Unlock()
		return false
	}

	var next []task.Task
	switch ev.Type {
	case task.ChangeInsert, task.ChangeUpdate:
		if ev.New == nil || ev.New.ID == "" {
			s.mu.Unlock()
			return false
		}
		next = slices.DeleteFunc(slices.Clone(s.tasks), func(t task.Task) bool { return t.ID == ev.New.ID })
		if s.query.Matches(*ev.New) {
			next = append(next, *ev.New)
			task.SortNewestFirst(next)
		}
	case task.ChangeDelete:
		if ev.OldID == "" {
			s.mu.Unlock()
			return false
		}
		next = slices.DeleteFunc(slices.Clone(s.tasks), func(t task.Task) bool { return t.ID == ev.OldID })
	default:
		s.mu.Unlock()
		return false
	}

	// Invalidate any refresh issued before this point in favour of the patch.
	s.seq++
	s.tasks = next
	s.mu.Unlock()
	s.notify()
	return true
}

// Reset empties the list and drops in-flight refreshes, keeping the store usable.
func (s *Store) Reset() {
	s.mu.Lock()
	s.seq++
	s.tasks = []task.Task{}
	s.loading = false
	s.lastErr = nil
	s.query = task.Query{Filter: task.FilterAll}
	s.mu.Unlock()
	s.notify()
}

// Close tears the store down; later results and refreshes are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.loading = false
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Tasks:   slices.Clone(s.tasks),
		Loading: s.loading,
		Query:   s.query,
	}
}

// Tasks returns a copy of the current list.
func (s *Store) Tasks() []task.Task {
	return s.Snapshot().Tasks
}

// Loading reports whether a refresh is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Query returns the query of the latest refresh.
func (s *Store) Query() task.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// LastError returns the most recent read failure, cleared by a successful refresh.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Find returns the task with the given id from the current list.
func (s *Store) Find(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Task{}, false
}

func (s *Store) notify() {
	s.mu.Lock()
	fn := s.onChange
	closed := s.closed
	s.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}
