package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/events"
	"github.com/example/taskflow/gateway"
	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/cache"
)

// memoryStorage backs the real list cache with a map.
type memoryStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memoryStorage) GetWithContext(_ context.Context, key string) ([]byte, error) {
	return s.Get(key)
}

func (s *memoryStorage) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memoryStorage) SetWithContext(_ context.Context, key string, val []byte, exp time.Duration) error {
	return s.Set(key, val, exp)
}

func (s *memoryStorage) Set(key string, val []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	return nil
}

func (s *memoryStorage) DeleteWithContext(_ context.Context, key string) error { return s.Delete(key) }

func (s *memoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStorage) ResetWithContext(context.Context) error { return s.Reset() }

func (s *memoryStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *memoryStorage) Close() error { return nil }

type eventLog struct {
	mu     sync.Mutex
	events []events.TaskChangedEvent
}

func (l *eventLog) publish(ev events.TaskChangedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []events.TaskChangedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.TaskChangedEvent(nil), l.events...)
}

func setupTestService(t *testing.T) (*Service, *eventLog) {
	t.Helper()
	lists := cache.NewTaskLists(&memoryStorage{data: make(map[string][]byte)}, "test:", time.Minute)
	log := &eventLog{}
	s := NewService(setupTestRepository(t), lists, log.publish)
	s.now = func() time.Time { return baseTime }
	return s, log
}

func TestService_CreateValidatesAndPublishes(t *testing.T) {
	s, log := setupTestService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice", task.NewTask{Title: "   "}); !errors.Is(err, task.ErrEmptyTitle) {
		t.Fatalf("Create(blank) error = %v, want ErrEmptyTitle", err)
	}

	created, err := s.Create(ctx, "alice", task.NewTask{Title: "  Buy milk ", Description: strPtr("")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Title != "Buy milk" {
		t.Errorf("Title = %q, want trimmed", created.Title)
	}
	if created.Description != nil {
		t.Errorf("Description = %q, want absent", *created.Description)
	}
	if created.ID == "" || created.UserID != "alice" || !created.CreatedAt.Equal(baseTime) {
		t.Errorf("Create() = %+v", created)
	}

	got := log.all()
	if len(got) != 1 || got[0].Type != task.ChangeInsert || got[0].Task == nil || got[0].Task.ID != created.ID {
		t.Fatalf("published events = %+v", got)
	}
	if got[0].UserID != "alice" {
		t.Errorf("event UserID = %q, want alice", got[0].UserID)
	}
}

func TestService_ListCacheAside(t *testing.T) {
	s, _ := setupTestService(t)
	ctx := context.Background()
	q := task.Query{Filter: task.FilterAll}

	if _, err := s.Create(ctx, "alice", task.NewTask{Title: "Buy milk"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, cached, err := s.List(ctx, "alice", q)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if cached || len(first) != 1 {
		t.Fatalf("first List() = %d tasks, cached %v", len(first), cached)
	}

	second, cached, err := s.List(ctx, "alice", q)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !cached || len(second) != 1 {
		t.Fatalf("second List() = %d tasks, cached %v; want cache hit", len(second), cached)
	}

	// A write bumps the generation, so the next read misses.
	if _, err := s.Create(ctx, "alice", task.NewTask{Title: "Walk dog"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	third, cached, err := s.List(ctx, "alice", q)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if cached || len(third) != 2 {
		t.Errorf("List() after write = %d tasks, cached %v; want fresh 2", len(third), cached)
	}

	// Other users' lists are unaffected by alice's cache.
	bob, _, err := s.List(ctx, "bob", q)
	if err != nil {
		t.Fatalf("List(bob) error = %v", err)
	}
	if len(bob) != 0 {
		t.Errorf("List(bob) = %d tasks, want 0", len(bob))
	}
}

func TestService_UpdateAndDelete(t *testing.T) {
	s, log := setupTestService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "alice", task.NewTask{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	blank := " "
	if _, err := s.Update(ctx, "alice", created.ID, task.Patch{Title: &blank}); !errors.Is(err, task.ErrEmptyTitle) {
		t.Errorf("Update(blank title) error = %v, want ErrEmptyTitle", err)
	}
	if _, err := s.Update(ctx, "bob", created.ID, task.CompletionPatch(true)); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Update(other owner) error = %v, want ErrNotFound", err)
	}

	updated, err := s.Update(ctx, "alice", created.ID, task.CompletionPatch(true))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !updated.IsCompleted {
		t.Error("IsCompleted = false after completion patch")
	}

	if n, err := s.Delete(ctx, "bob", created.ID); err != nil || n != 0 {
		t.Errorf("Delete(other owner) = %d, %v; want 0, nil", n, err)
	}
	if n, err := s.Delete(ctx, "alice", created.ID); err != nil || n != 1 {
		t.Errorf("Delete() = %d, %v; want 1, nil", n, err)
	}

	var types []task.ChangeType
	for _, ev := range log.all() {
		types = append(types, ev.Type)
	}
	want := []task.ChangeType{task.ChangeInsert, task.ChangeUpdate, task.ChangeDelete}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
	last := log.all()[2]
	if last.OldID != created.ID || last.Task != nil {
		t.Errorf("delete event = %+v", last)
	}
}

func TestService_WithoutCache(t *testing.T) {
	s := NewService(setupTestRepository(t), nil, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice", task.NewTask{Title: "Buy milk"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		tasks, cached, err := s.List(ctx, "alice", task.Query{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if cached || len(tasks) != 1 {
			t.Errorf("List() = %d tasks, cached %v", len(tasks), cached)
		}
	}
}

type fakeValidator struct {
	claims map[string]*auth.Claims
}

func (v fakeValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if c, ok := v.claims[token]; ok {
		return c, nil
	}
	return nil, gateway.ErrUnauthenticated
}

func setupTestModule(t *testing.T) *TaskModule {
	t.Helper()
	m := NewModuleWithRepository(setupTestRepository(t))
	m.validator = fakeValidator{claims: map[string]*auth.Claims{
		"alice-token":       {UserID: "alice", Email: "alice@example.com", EmailConfirmed: true},
		"unconfirmed-token": {UserID: "carol", Email: "carol@example.com"},
	}}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m
}

func TestTaskModule_Handlers(t *testing.T) {
	m := setupTestModule(t)
	ctx := context.Background()

	resp, err := m.handleCreate(ctx, CreateRequest{Token: "alice-token", Task: task.NewTask{Title: "Buy milk"}}, nil)
	if err != nil || resp.Failed() {
		t.Fatalf("handleCreate() = %+v, %v", resp.Failure, err)
	}

	list, _ := m.handleList(ctx, ListRequest{Token: "alice-token", Filter: "pending"}, nil)
	if list.Failed() || len(list.Tasks) != 1 {
		t.Fatalf("handleList() = %+v", list)
	}

	bad, _ := m.handleList(ctx, ListRequest{Token: "alice-token", Filter: "someday"}, nil)
	if bad.Code != CodeInvalidFilter {
		t.Errorf("handleList(bad filter) code = %q, want %q", bad.Code, CodeInvalidFilter)
	}

	anon, _ := m.handleList(ctx, ListRequest{}, nil)
	if anon.Code != CodeUnauthenticated {
		t.Errorf("handleList(no token) code = %q, want %q", anon.Code, CodeUnauthenticated)
	}

	// Unconfirmed accounts can read but not write.
	readOnly, _ := m.handleList(ctx, ListRequest{Token: "unconfirmed-token"}, nil)
	if readOnly.Failed() {
		t.Errorf("handleList(unconfirmed) failed: %+v", readOnly.Failure)
	}
	restricted, _ := m.handleCreate(ctx, CreateRequest{Token: "unconfirmed-token", Task: task.NewTask{Title: "x"}}, nil)
	if restricted.Code != CodeEmailNotConfirmed {
		t.Errorf("handleCreate(unconfirmed) code = %q, want %q", restricted.Code, CodeEmailNotConfirmed)
	}

	missing, _ := m.handleUpdate(ctx, UpdateRequest{Token: "alice-token", ID: "missing", Patch: task.CompletionPatch(true)}, nil)
	if missing.Code != CodeNotFound {
		t.Errorf("handleUpdate(missing) code = %q, want %q", missing.Code, CodeNotFound)
	}

	del, _ := m.handleDelete(ctx, DeleteRequest{Token: "alice-token", ID: resp.Task.ID}, nil)
	if del.Failed() || del.Deleted != 1 {
		t.Errorf("handleDelete() = %+v", del)
	}
}

func TestFailure_Err(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{err: gateway.ErrUnauthenticated, want: gateway.ErrUnauthenticated},
		{err: gateway.ErrEmailNotConfirmed, want: gateway.ErrEmailNotConfirmed},
		{err: task.ErrEmptyTitle, want: task.ErrEmptyTitle},
		{err: task.ErrNotFound, want: task.ErrNotFound},
		{err: errors.Join(task.ErrInvalidFilter, errors.New("someday")), want: task.ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := failure(tt.err).Err(); !errors.Is(got, tt.want) {
				t.Errorf("failure(%v).Err() = %v, want wrapping %v", tt.err, got, tt.want)
			}
		})
	}

	internal := failure(errors.New("disk full"))
	if internal.Code != CodeInternal || internal.Err().Error() != "disk full" {
		t.Errorf("internal failure = %+v", internal)
	}
	if (Failure{}).Err() != nil {
		t.Error("empty Failure.Err() should be nil")
	}
}
