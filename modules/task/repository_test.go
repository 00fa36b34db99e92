package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/taskflow/domain/task"
)

// setupTestRepository creates a repository over a fresh SQLite file.
func setupTestRepository(t *testing.T) *GormRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	repo := NewGormRepository(db)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedTask(t *testing.T, repo Repository, id, userID, title string, desc *string, completed bool, age time.Duration) {
	t.Helper()
	err := repo.Create(context.Background(), &task.Task{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: desc,
		IsCompleted: completed,
		CreatedAt:   baseTime.Add(-age),
	})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
}

func strPtr(s string) *string { return &s }

func ids(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGormRepository_List(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	seedTask(t, repo, "t1", "alice", "Buy milk", nil, false, 3*time.Hour)
	seedTask(t, repo, "t2", "alice", "Walk dog", strPtr("Around the MILK bar"), true, 2*time.Hour)
	seedTask(t, repo, "t3", "alice", "Pay 100% of rent", nil, false, time.Hour)
	seedTask(t, repo, "t4", "bob", "Buy milk", nil, false, 0)

	tests := []struct {
		name  string
		query task.Query
		want  []string
	}{
		{name: "all newest first", query: task.Query{Filter: task.FilterAll}, want: []string{"t3", "t2", "t1"}},
		{name: "pending", query: task.Query{Filter: task.FilterPending}, want: []string{"t3", "t1"}},
		{name: "completed", query: task.Query{Filter: task.FilterCompleted}, want: []string{"t2"}},
		{name: "search title and description ignoring case", query: task.Query{Filter: task.FilterAll, Search: "milk"}, want: []string{"t2", "t1"}},
		{name: "search with filter", query: task.Query{Filter: task.FilterPending, Search: "MILK"}, want: []string{"t1"}},
		{name: "wildcards are literal", query: task.Query{Filter: task.FilterAll, Search: "100%"}, want: []string{"t3"}},
		{name: "underscore is literal", query: task.Query{Filter: task.FilterAll, Search: "_"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, "alice", tt.query)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("List() = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestGormRepository_ListUnicodeSearch(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	seedTask(t, repo, "t1", "alice", "École primaire", nil, false, 2*time.Hour)
	seedTask(t, repo, "t2", "alice", "Groceries", strPtr("Straße 5, ÜBER den Fluss"), true, time.Hour)
	seedTask(t, repo, "t3", "alice", "Plain title", nil, false, 0)
	seedTask(t, repo, "t4", "bob", "école du soir", nil, false, 0)

	tests := []struct {
		name  string
		query task.Query
		want  []string
	}{
		{name: "accented title", query: task.Query{Filter: task.FilterAll, Search: "école"}, want: []string{"t1"}},
		{name: "accented description", query: task.Query{Filter: task.FilterAll, Search: "über"}, want: []string{"t2"}},
		{name: "filter still applies", query: task.Query{Filter: task.FilterPending, Search: "über"}, want: []string{}},
		{name: "no match", query: task.Query{Filter: task.FilterAll, Search: "ñ"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, "alice", tt.query)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("List() = %v, want %v", ids(got), tt.want)
			}
			for _, tk := range got {
				if !tt.query.Matches(tk) {
					t.Errorf("List() returned %s, which Query.Matches rejects", tk.ID)
				}
			}
		})
	}
}

func TestGormRepository_ListEmptyIsNotNil(t *testing.T) {
	repo := setupTestRepository(t)

	got, err := repo.List(context.Background(), "nobody", task.Query{Filter: task.FilterAll})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List() = %#v, want empty non-nil slice", got)
	}
}

func TestGormRepository_UpdateScopedToOwner(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	seedTask(t, repo, "t1", "alice", "Buy milk", strPtr("2 litres"), false, 0)

	if _, err := repo.Update(ctx, "bob", "t1", task.CompletionPatch(true)); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("Update(other owner) error = %v, want ErrNotFound", err)
	}

	title := "Buy oat milk"
	updated, err := repo.Update(ctx, "alice", "t1", task.Patch{Title: &title, ClearDescription: true, IsCompleted: boolPtr(true)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != title || updated.Description != nil || !updated.IsCompleted {
		t.Errorf("Update() = %+v", updated)
	}
	if !updated.CreatedAt.Equal(baseTime) {
		t.Errorf("CreatedAt changed to %v", updated.CreatedAt)
	}

	if _, err := repo.Update(ctx, "alice", "missing", task.CompletionPatch(true)); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGormRepository_DeleteScopedToOwner(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	seedTask(t, repo, "t1", "alice", "Buy milk", nil, false, 0)

	n, err := repo.Delete(ctx, "bob", "t1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Delete(other owner) = %d, want 0", n)
	}

	n, err = repo.Delete(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Delete() = %d, want 1", n)
	}

	if _, err := repo.Get(ctx, "alice", "t1"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Milk", "%milk%"},
		{"50%", `%50\%%`},
		{"a_b", `%a\_b%`},
		{`c:\`, `%c:\\%`},
	}
	for _, tt := range tests {
		if got := likePattern(tt.in); got != tt.want {
			t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
