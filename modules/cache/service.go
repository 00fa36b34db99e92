// Package cache provides the per-user task list cache as a mono plugin over
// the mono storage interface.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-monolith/mono/pkg/storage"
	"github.com/google/uuid"

	"github.com/example/taskflow/domain/task"
)

// generationTTL outlives any cached list so a bump always orphans them.
const generationTTL = 24 * time.Hour

// Entry is the result of a lookup. A miss still carries the slot the list
// should be filled into, pinned to the generation seen at lookup time, so a
// write that lands while the store is being read cannot be cached as fresh.
type Entry struct {
	Tasks []task.Task
	Hit   bool
	key   string
}

// Key identifies the cached list. It is empty when caching is disabled.
func (e Entry) Key() string { return e.key }

// TaskLists caches list results per user and query.
type TaskLists interface {
	Lookup(ctx context.Context, userID string, q task.Query) (Entry, error)

	// Fill stores tasks into the slot returned by Lookup.
	Fill(ctx context.Context, e Entry, tasks []task.Task) error

	// Invalidate orphans every cached list of the user.
	Invalidate(ctx context.Context, userID string) error

	// Enabled is false for the no-op cache.
	Enabled() bool

	Close() error
}

type taskLists struct {
	storage storage.Storage
	prefix  string
	ttl     time.Duration
}

// NewTaskLists creates a task list cache over s. Keys are namespaced with
// prefix and lists expire after ttl.
func NewTaskLists(s storage.Storage, prefix string, ttl time.Duration) TaskLists {
	return &taskLists{
		storage: s,
		prefix:  prefix,
		ttl:     ttl,
	}
}

func (c *taskLists) generationKey(userID string) string {
	return c.prefix + "gen:" + userID
}

func (c *taskLists) listKey(userID, generation string, q task.Query) string {
	filter := q.Filter
	if filter == "" {
		filter = task.FilterAll
	}
	return fmt.Sprintf("%stasks:%s:%s:%s:%s", c.prefix, userID, generation, filter, url.QueryEscape(strings.ToLower(q.Search)))
}

// generation returns the user's current list generation, creating one on a miss.
func (c *taskLists) generation(ctx context.Context, userID string) (string, error) {
	data, err := c.storage.GetWithContext(ctx, c.generationKey(userID))
	if err != nil {
		return "", fmt.Errorf("cache get error: %w", err)
	}
	if len(data) > 0 {
		return string(data), nil
	}
	return c.bump(ctx, userID)
}

func (c *taskLists) bump(ctx context.Context, userID string) (string, error) {
	gen := uuid.New().String()
	if err := c.storage.SetWithContext(ctx, c.generationKey(userID), []byte(gen), generationTTL); err != nil {
		return "", fmt.Errorf("cache set error: %w", err)
	}
	return gen, nil
}

func (c *taskLists) Lookup(ctx context.Context, userID string, q task.Query) (Entry, error) {
	gen, err := c.generation(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{key: c.listKey(userID, gen, q)}

	data, err := c.storage.GetWithContext(ctx, e.key)
	if err != nil {
		return e, fmt.Errorf("cache get error: %w", err)
	}
	if len(data) == 0 {
		return e, nil
	}
	if err := json.Unmarshal(data, &e.Tasks); err != nil {
		return e, fmt.Errorf("cache unmarshal error: %w", err)
	}
	e.Hit = true
	return e, nil
}

func (c *taskLists) Fill(ctx context.Context, e Entry, tasks []task.Task) error {
	if e.key == "" {
		return nil
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.storage.SetWithContext(ctx, e.key, data, c.ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *taskLists) Invalidate(ctx context.Context, userID string) error {
	_, err := c.bump(ctx, userID)
	return err
}

func (c *taskLists) Enabled() bool { return true }

func (c *taskLists) Close() error {
	return c.storage.Close()
}

// Noop returns a TaskLists that never hits. It backs the plugin when no
// Redis address is configured.
func Noop() TaskLists {
	return noopLists{}
}

type noopLists struct{}

func (noopLists) Lookup(context.Context, string, task.Query) (Entry, error) { return Entry{}, nil }
func (noopLists) Fill(context.Context, Entry, []task.Task) error            { return nil }
func (noopLists) Invalidate(context.Context, string) error                  { return nil }
func (noopLists) Enabled() bool                                             { return false }
func (noopLists) Close() error                                              { return nil }
