package client

import (
	"sync"
	"time"
)

// SearchDebounce is the quiet period after the last keystroke before the
// search text is committed.
const SearchDebounce = 300 * time.Millisecond

// Debouncer separates the search draft, updated on every keystroke, from the
// committed search that drives refreshes. A burst of keystrokes produces one
// commit carrying the last value.
type Debouncer struct {
	delay  time.Duration
	commit func(string)

	mu        sync.Mutex
	draft     string
	committed string
	pending   bool
	gen       uint64
	timer     *time.Timer
	stopped   bool
}

// NewDebouncer creates a debouncer calling commit delay after the last Type.
// A non-positive delay selects SearchDebounce.
func NewDebouncer(delay time.Duration, commit func(string)) *Debouncer {
	if delay <= 0 {
		delay = SearchDebounce
	}
	return &Debouncer{delay: delay, commit: commit}
}

// Type records a new draft and re-arms the timer.
func (d *Debouncer) Type(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.draft = s
	d.pending = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Draft returns the text as typed so far.
func (d *Debouncer) Draft() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft
}

// Committed returns the last committed search.
func (d *Debouncer) Committed() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed
}

// Pending reports whether a commit is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush commits the pending draft immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.fireLocked(d.gen)
}

// Reset clears the draft and committed value without committing.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = false
	d.draft = ""
	d.committed = ""
}

// Stop cancels any pending commit. Later calls to Type are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	d.fireLocked(gen)
}

// fireLocked is entered with d.mu held and releases it.
func (d *Debouncer) fireLocked(gen uint64) {
	if d.stopped || !d.pending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = false
	value := d.draft
	changed := value != d.committed
	d.committed = value
	d.mu.Unlock()

	if changed && d.commit != nil {
		d.commit(value)
	}
}
