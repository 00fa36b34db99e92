package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commitRecorder struct {
	mu     sync.Mutex
	values []string
}

func (r *commitRecorder) commit(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, s)
}

func (r *commitRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func TestDebouncer_BurstCommitsOnce(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer(30*time.Millisecond, rec.commit)
	defer d.Stop()

	d.Type("a")
	d.Type("ab")
	d.Type("abc")

	assert.Equal(t, "abc", d.Draft())
	assert.Equal(t, "", d.Committed())

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"abc"}, rec.get())
	assert.Equal(t, "abc", d.Committed())
	assert.False(t, d.Pending())
}

func TestDebouncer_KeystrokeSupersedesPending(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer(40*time.Millisecond, rec.commit)
	defer d.Stop()

	d.Type("milk")
	time.Sleep(20 * time.Millisecond)
	d.Type("milk tea")

	require.Eventually(t, func() bool { return len(rec.get()) > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"milk tea"}, rec.get())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer(20*time.Millisecond, rec.commit)

	d.Type("abc")
	d.Stop()
	time.Sleep(60 * time.Millisecond)

	assert.Empty(t, rec.get())

	d.Type("ignored")
	assert.Equal(t, "abc", d.Draft())
}

func TestDebouncer_Flush(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer(time.Hour, rec.commit)
	defer d.Stop()

	d.Flush()
	assert.Empty(t, rec.get())

	d.Type("now")
	d.Flush()
	assert.Equal(t, []string{"now"}, rec.get())
	assert.False(t, d.Pending())
}

func TestDebouncer_UnchangedValueNotRecommitted(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer(time.Hour, rec.commit)
	defer d.Stop()

	d.Type("x")
	d.Flush()
	d.Type("xy")
	d.Type("x")
	d.Flush()

	assert.Equal(t, []string{"x"}, rec.get())
}

func TestNewDebouncer_DefaultDelay(t *testing.T) {
	d := NewDebouncer(0, nil)
	assert.Equal(t, SearchDebounce, d.delay)
	assert.Equal(t, 300*time.Millisecond, SearchDebounce)
}
