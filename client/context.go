package client

import (
	"sync"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/prefs"
)

// Theme is the presentation color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Context is the explicit session and theme state shared by the controller
// and presentation. It is created at startup and discarded on teardown.
type Context struct {
	store  prefs.Store
	logger types.Logger

	mu     sync.RWMutex
	user   *task.User
	theme  Theme
	filter task.Filter
}

// NewContext loads persisted preferences from store. Unreadable preferences
// fall back to defaults.
func NewContext(store prefs.Store, logger types.Logger) *Context {
	c := &Context{store: store, logger: logger, theme: ThemeLight, filter: task.FilterAll}
	if store == nil {
		return c
	}
	p, err := store.Load()
	if err != nil {
		logger.Warn("Failed to load preferences", "error", err)
		return c
	}
	if Theme(p.Theme) == ThemeDark {
		c.theme = ThemeDark
	}
	if f, err := task.ParseFilter(p.Filter); err == nil {
		c.filter = f
	}
	return c
}

// User returns the signed-in user, or nil.
func (c *Context) User() *task.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// SetUser replaces the session user; nil signs out.
func (c *Context) SetUser(u *task.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u == nil {
		c.user = nil
		return
	}
	cp := *u
	c.user = &cp
}

// SignedIn reports whether a user is present.
func (c *Context) SignedIn() bool {
	return c.User() != nil
}

// AccessRestricted is true while the signed-in user has not confirmed their email.
func (c *Context) AccessRestricted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil && !c.user.EmailConfirmed
}

// Theme returns the active theme.
func (c *Context) Theme() Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.theme
}

// ToggleTheme flips the theme and persists it.
func (c *Context) ToggleTheme() Theme {
	c.mu.Lock()
	if c.theme == ThemeDark {
		c.theme = ThemeLight
	} else {
		c.theme = ThemeDark
	}
	theme := c.theme
	c.mu.Unlock()

	c.persist()
	return theme
}

// SavedFilter returns the filter remembered from the last run.
func (c *Context) SavedFilter() task.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// RememberFilter persists f as the filter to restore next time.
func (c *Context) RememberFilter(f task.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	c.persist()
}

func (c *Context) persist() {
	if c.store == nil {
		return
	}
	c.mu.RLock()
	p := prefs.Preferences{Theme: string(c.theme), Filter: string(c.filter)}
	c.mu.RUnlock()
	if err := c.store.Save(p); err != nil {
		c.logger.Warn("Failed to save preferences", "error", err)
	}
}
