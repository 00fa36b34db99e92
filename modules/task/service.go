package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/events"
	"github.com/example/taskflow/modules/cache"
)

// Service implements owner-scoped task operations with a cache-aside list
// cache. Writes invalidate the owner's cached lists.
type Service struct {
	repo    Repository
	lists   cache.TaskLists
	sfGroup singleflight.Group
	publish func(events.TaskChangedEvent)
	now     func() time.Time
}

// NewService creates a task service. A nil cache disables caching and a nil
// publish drops change events.
func NewService(repo Repository, lists cache.TaskLists, publish func(events.TaskChangedEvent)) *Service {
	if lists == nil {
		lists = cache.Noop()
	}
	if publish == nil {
		publish = func(events.TaskChangedEvent) {}
	}
	return &Service{
		repo:    repo,
		lists:   lists,
		publish: publish,
		now:     time.Now,
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.lists.Invalidate(ctx, userID); err != nil {
		log.Printf("[task] Warning: failed to invalidate list cache for %s: %v", userID, err)
	}
}

// List returns the user's tasks matching q, newest first. The bool reports
// a cache hit.
func (s *Service) List(ctx context.Context, userID string, q task.Query) ([]task.Task, bool, error) {
	if q.Filter == "" {
		q.Filter = task.FilterAll
	}

	entry, err := s.lists.Lookup(ctx, userID, q)
	if err != nil {
		log.Printf("[task] Cache error for %s: %v", userID, err)
		entry = cache.Entry{}
	}
	if entry.Hit {
		return entry.Tasks, true, nil
	}

	sfKey := entry.Key()
	if sfKey == "" {
		sfKey = fmt.Sprintf("%s:%s:%s", userID, q.Filter, strings.ToLower(q.Search))
	}
	val, err, _ := s.sfGroup.Do(sfKey, func() (any, error) {
		return s.repo.List(ctx, userID, q)
	})
	if err != nil {
		return nil, false, err
	}
	tasks := val.([]task.Task)

	if err := s.lists.Fill(ctx, entry, tasks); err != nil {
		log.Printf("[task] Warning: failed to cache list %s: %v", entry.Key(), err)
	}
	return tasks, false, nil
}

// Create inserts a task owned by userID.
func (s *Service) Create(ctx context.Context, userID string, nt task.NewTask) (*task.Task, error) {
	title, err := task.ValidateTitle(nt.Title)
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: nonEmpty(nt.Description),
		ImageURL:    nonEmpty(nt.ImageURL),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	created := *t
	s.publish(events.TaskChangedEvent{
		Type:      task.ChangeInsert,
		UserID:    userID,
		Task:      &created,
		ChangedAt: s.now(),
	})
	log.Printf("[task] Created task %s for %s", t.ID, userID)
	return t, nil
}

// Update applies p to the user's task id. It returns task.ErrNotFound when
// the row is missing or owned by someone else.
func (s *Service) Update(ctx context.Context, userID, id string, p task.Patch) (*task.Task, error) {
	if p.Title != nil {
		title, err := task.ValidateTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		p.Title = &title
	}

	t, err := s.repo.Update(ctx, userID, id, p)
	if err != nil {
		return nil, err
	}
	if p.IsEmpty() {
		return t, nil
	}

	s.invalidate(ctx, userID)
	updated := *t
	s.publish(events.TaskChangedEvent{
		Type:      task.ChangeUpdate,
		UserID:    userID,
		Task:      &updated,
		OldID:     id,
		ChangedAt: s.now(),
	})
	return t, nil
}

// Delete removes the user's task id and returns the number of rows removed.
func (s *Service) Delete(ctx context.Context, userID, id string) (int, error) {
	n, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	s.invalidate(ctx, userID)
	s.publish(events.TaskChangedEvent{
		Type:      task.ChangeDelete,
		UserID:    userID,
		OldID:     id,
		ChangedAt: s.now(),
	})
	log.Printf("[task] Deleted task %s for %s", id, userID)
	return n, nil
}

// Ping checks the underlying store.
func (s *Service) Ping(ctx context.Context) error {
	if s.repo == nil {
		return errors.New("repository not initialized")
	}
	return s.repo.Ping(ctx)
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
