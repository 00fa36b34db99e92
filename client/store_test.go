package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taskflow/domain/task"
)

func TestStore_RefreshReplacesList(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	gw.seed("Buy milk", "File taxes", "Walk dog")
	gw.tasks[1].IsCompleted = true
	s := NewStore(gw, NopLogger())
	ctx := context.Background()

	s.Refresh(ctx, task.Query{Filter: task.FilterAll})
	assert.Equal(t, []string{"Walk dog", "File taxes", "Buy milk"}, titles(s.Tasks()))
	assert.False(t, s.Loading())

	s.Refresh(ctx, task.Query{Filter: task.FilterPending})
	assert.Equal(t, []string{"Walk dog", "Buy milk"}, titles(s.Tasks()))

	s.Refresh(ctx, task.Query{Filter: task.FilterCompleted, Search: "TAX"})
	assert.Equal(t, []string{"File taxes"}, titles(s.Tasks()))

	s.Refresh(ctx, task.Query{Filter: task.FilterAll, Search: "nothing matches"})
	got := s.Tasks()
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_RefreshErrorKeepsList(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	gw.seed("Buy milk")
	s := NewStore(gw, NopLogger())
	ctx := context.Background()

	s.Refresh(ctx, task.Query{Filter: task.FilterAll})
	require.Len(t, s.Tasks(), 1)

	boom := errors.New("network down")
	gw.listFn = func(context.Context, task.Query) ([]task.Task, error) { return nil, boom }
	s.Refresh(ctx, task.Query{Filter: task.FilterAll})

	assert.Len(t, s.Tasks(), 1)
	assert.False(t, s.Loading())
	assert.ErrorIs(t, s.LastError(), boom)

	gw.listFn = nil
	s.Refresh(ctx, task.Query{Filter: task.FilterAll})
	assert.NoError(t, s.LastError())
}

func TestStore_StaleResponseDropped(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})
	gw.listFn = func(_ context.Context, q task.Query) ([]task.Task, error) {
		if q.Search == "slow" {
			close(slowStarted)
			<-slowRelease
			return []task.Task{{ID: "old", Title: "stale"}}, nil
		}
		return []task.Task{{ID: "new", Title: "fresh"}}, nil
	}
	s := NewStore(gw, NopLogger())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		s.Refresh(ctx, task.Query{Filter: task.FilterAll, Search: "slow"})
		close(done)
	}()
	<-slowStarted

	s.Refresh(ctx, task.Query{Filter: task.FilterAll, Search: "fast"})
	assert.False(t, s.Loading())

	close(slowRelease)
	<-done

	assert.Equal(t, []string{"fresh"}, titles(s.Tasks()))
	assert.False(t, s.Loading())
	assert.Equal(t, "fast", s.Query().Search)
}

func TestStore_CloseDiscardsResults(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	release := make(chan struct{})
	started := make(chan struct{})
	gw.listFn = func(context.Context, task.Query) ([]task.Task, error) {
		close(started)
		<-release
		return []task.Task{{ID: "late", Title: "late"}}, nil
	}
	s := NewStore(gw, NopLogger())

	done := make(chan struct{})
	go func() {
		s.Refresh(context.Background(), task.Query{Filter: task.FilterAll})
		close(done)
	}()
	<-started
	s.Close()
	close(release)
	<-done

	assert.Empty(t, s.Tasks())

	gw.listFn = nil
	s.Refresh(context.Background(), task.Query{Filter: task.FilterAll})
	assert.Equal(t, 1, gw.ListCalls())
}

func TestStore_OnChangeNotified(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	calls := 0
	s := NewStore(gw, NopLogger(), OnChange(func() { calls++ }))

	s.Refresh(context.Background(), task.Query{Filter: task.FilterAll})

	// loading on, then list replaced
	assert.Equal(t, 2, calls)
}

func TestStore_ApplyChange(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	gw.seed("Buy milk", "Walk dog")
	ctx := context.Background()

	t.Run("disabled by default", func(t *testing.T) {
		s := NewStore(gw, NopLogger())
		s.Refresh(ctx, task.Query{Filter: task.FilterAll})
		assert.False(t, s.ApplyChange(task.ChangeEvent{Type: task.ChangeDelete, OldID: "t-1"}))
		assert.Len(t, s.Tasks(), 2)
	})

	t.Run("insert matching row", func(t *testing.T) {
		s := NewStore(gw, NopLogger(), DeltaApply(true))
		s.Refresh(ctx, task.Query{Filter: task.FilterPending})

		row := task.Task{ID: "t-9", Title: "Newest", CreatedAt: baseTime.Add(time.Hour)}
		require.True(t, s.ApplyChange(task.ChangeEvent{Type: task.ChangeInsert, New: &row}))
		assert.Equal(t, []string{"Newest", "Walk dog", "Buy milk"}, titles(s.Tasks()))
	})

	t.Run("update leaving the projection", func(t *testing.T) {
		s := NewStore(gw, NopLogger(), DeltaApply(true))
		s.Refresh(ctx, task.Query{Filter: task.FilterPending})

		done := task.Task{ID: "t-1", Title: "Buy milk", IsCompleted: true, CreatedAt: baseTime.Add(time.Minute)}
		require.True(t, s.ApplyChange(task.ChangeEvent{Type: task.ChangeUpdate, New: &done}))
		assert.Equal(t, []string{"Walk dog"}, titles(s.Tasks()))
	})

	t.Run("delete", func(t *testing.T) {
		s := NewStore(gw, NopLogger(), DeltaApply(true))
		s.Refresh(ctx, task.Query{Filter: task.FilterAll})

		require.True(t, s.ApplyChange(task.ChangeEvent{Type: task.ChangeDelete, OldID: "t-2"}))
		assert.Equal(t, []string{"Buy milk"}, titles(s.Tasks()))
	})

	t.Run("ambiguous event falls back", func(t *testing.T) {
		s := NewStore(gw, NopLogger(), DeltaApply(true))
		s.Refresh(ctx, task.Query{Filter: task.FilterAll})

		assert.False(t, s.ApplyChange(task.ChangeEvent{Type: task.ChangeUpdate}))
		assert.False(t, s.ApplyChange(task.ChangeEvent{Type: task.ChangeDelete}))
	})
}

func TestStore_Reset(t *testing.T) {
	gw := newFakeGateway(confirmedUser())
	gw.seed("Buy milk")
	s := NewStore(gw, NopLogger())
	s.Refresh(context.Background(), task.Query{Filter: task.FilterCompleted})

	s.Reset()

	assert.Empty(t, s.Tasks())
	assert.Equal(t, task.FilterAll, s.Query().Filter)
}
