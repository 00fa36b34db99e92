package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// NoticeTTL is how long confirmation-resend notices stay visible.
const NoticeTTL = 5 * time.Second

const (
	msgSignUpConfirm  = "Sign-up successful! Check your email to confirm your account."
	msgRateLimited    = "Email limit exceeded. Please wait a few minutes before trying again."
	msgResent         = "Confirmation email sent again."
	msgEmailConfirmed = "Email confirmed. You can now create and edit tasks."
)

// Option configures a Controller.
type Option func(*controllerConfig)

type controllerConfig struct {
	searchDelay time.Duration
	noticeTTL   time.Duration
	deltaApply  bool
	configured  bool
}

// WithSearchDelay overrides the search debounce delay.
func WithSearchDelay(d time.Duration) Option {
	return func(c *controllerConfig) { c.searchDelay = d }
}

// WithNoticeTTL overrides how long auto-dismissing notices are shown.
func WithNoticeTTL(d time.Duration) Option {
	return func(c *controllerConfig) { c.noticeTTL = d }
}

// WithDeltaApply lets change events patch the list in place when possible.
func WithDeltaApply(enabled bool) Option {
	return func(c *controllerConfig) { c.deltaApply = enabled }
}

// WithConfigured reports whether a gateway backend is configured. When false
// the view only shows the configuration-required state.
func WithConfigured(configured bool) Option {
	return func(c *controllerConfig) { c.configured = configured }
}

type formDraft struct {
	title       string
	description string
	image       *task.Image
	submitting  bool
}

type editDraft struct {
	title       string
	description string
	image       task.ImageChange
}

// Controller owns the view for one user session: it drives the store from
// intents and change events and publishes ViewState to subscribers.
type Controller struct {
	gw        gateway.Gateway
	session   *Context
	store     *Store
	mutations *Mutations
	search    *Debouncer
	logger    types.Logger
	cfg       controllerConfig

	mu          sync.Mutex
	baseCtx     context.Context
	filter      task.Filter
	form        formDraft
	edits       map[string]*editDraft
	notices     map[string]Notice
	noticeGen   map[string]uint64
	unsubscribe func()
	closed      bool

	subMu   sync.Mutex
	subs    map[int]chan ViewState
	nextSub int
}

// NewController creates a controller for the given gateway and session context.
func NewController(gw gateway.Gateway, session *Context, logger types.Logger, opts ...Option) *Controller {
	cfg := controllerConfig{
		searchDelay: SearchDebounce,
		noticeTTL:   NoticeTTL,
		configured:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Controller{
		gw:        gw,
		session:   session,
		logger:    logger,
		cfg:       cfg,
		baseCtx:   context.Background(),
		filter:    session.SavedFilter(),
		edits:     make(map[string]*editDraft),
		notices:   make(map[string]Notice),
		noticeGen: make(map[string]uint64),
		subs:      make(map[int]chan ViewState),
	}
	c.store = NewStore(gw, logger, DeltaApply(cfg.deltaApply), OnChange(c.publish))
	c.mutations = NewMutations(gw, c.store, session, logger)
	c.mutations.SetOnChange(c.publish)
	c.search = NewDebouncer(cfg.searchDelay, c.commitSearch)
	return c
}

// Store exposes the underlying task store.
func (c *Controller) Store() *Store {
	return c.store
}

// Session exposes the session context.
func (c *Controller) Session() *Context {
	return c.session
}

// Start resolves the current session and, when signed in, mounts the task
// view. Calls made through ctx later in the controller's life use a
// non-cancelable copy of it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	if !c.cfg.configured {
		c.publish()
		return nil
	}

	user, err := c.gw.CurrentUser(ctx)
	if err != nil && !errors.Is(err, gateway.ErrUnauthenticated) {
		c.logger.Warn("Failed to resolve session", "error", err)
	}
	c.session.SetUser(user)
	if user != nil {
		c.mount(ctx)
	}
	c.publish()
	return nil
}

func (c *Controller) mount(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	base := c.baseCtx
	prev := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	unsub, err := c.gw.SubscribeToTaskChanges(base, c.handleChange)
	if err != nil {
		c.logger.Warn("Failed to subscribe to task changes", "error", err)
	} else {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			unsub()
			return
		}
		c.unsubscribe = unsub
		c.mu.Unlock()
	}

	c.store.Refresh(ctx, c.query())
}

func (c *Controller) unmount() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.form = formDraft{}
	c.edits = make(map[string]*editDraft)
	c.notices = make(map[string]Notice)
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.search.Reset()
	c.mutations.Reset()
	c.store.Reset()
}

func (c *Controller) handleChange(ev task.ChangeEvent) {
	c.mu.Lock()
	closed := c.closed
	base := c.baseCtx
	c.mu.Unlock()
	if closed || !c.session.SignedIn() {
		return
	}
	c.logger.Debug("Task change received", "type", ev.Type)
	if c.store.ApplyChange(ev) {
		return
	}
	go c.store.Refresh(base, c.query())
}

func (c *Controller) query() task.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return task.Query{Filter: c.filter, Search: c.search.Committed()}
}

// Refresh re-fetches the list with the current filter and committed search.
func (c *Controller) Refresh(ctx context.Context) {
	if !c.session.SignedIn() {
		return
	}
	c.store.Refresh(ctx, c.query())
}

// SignIn starts a session with email and password.
func (c *Controller) SignIn(ctx context.Context, email, password string) error {
	c.dismiss(NoticeAuth)
	user, err := c.gw.SignIn(ctx, email, password)
	if err != nil {
		c.logger.Warn("Sign-in failed", "email", email, "error", err)
		c.setNotice(NoticeAuth, Notice{Level: NoticeError, Kind: KindUnauthenticated, Message: authMessage(err)})
		return err
	}
	c.session.SetUser(user)
	c.mount(ctx)
	c.publish()
	return nil
}

// SignUp registers an account. When email confirmation is required no
// session starts and an info notice asks the user to check their email.
func (c *Controller) SignUp(ctx context.Context, email, password string) error {
	c.dismiss(NoticeAuth)
	res, err := c.gw.SignUp(ctx, email, password)
	if err != nil {
		c.logger.Warn("Sign-up failed", "email", email, "error", err)
		c.setNotice(NoticeAuth, Notice{Level: NoticeError, Kind: KindValidation, Message: authMessage(err)})
		return err
	}
	if res.ConfirmationRequired {
		c.setNotice(NoticeAuth, Notice{Level: NoticeSuccess, Message: msgSignUpConfirm})
		return nil
	}
	user := res.User
	c.session.SetUser(&user)
	c.mount(ctx)
	c.publish()
	return nil
}

// SignOut ends the session and clears the task view.
func (c *Controller) SignOut(ctx context.Context) error {
	err := c.gw.SignOut(ctx)
	if err != nil {
		c.logger.Warn("Sign-out failed", "error", err)
	}
	c.session.SetUser(nil)
	c.unmount()
	c.publish()
	return err
}

// ResendConfirmation asks the gateway to send the confirmation email again.
// The resulting notice dismisses itself after the notice TTL.
func (c *Controller) ResendConfirmation(ctx context.Context) error {
	user := c.session.User()
	if user == nil {
		return ErrNoActiveSession
	}
	c.dismiss(NoticeConfirmation)

	err := c.gw.ResendConfirmation(ctx, user.Email)
	if err != nil {
		c.logger.Warn("Failed to resend confirmation", "email", user.Email, "error", err)
		c.flashNotice(NoticeConfirmation, Notice{Level: NoticeError, Message: "Resend failed: " + authMessage(err)})
		return err
	}
	c.flashNotice(NoticeConfirmation, Notice{Level: NoticeSuccess, Message: msgResent})
	return nil
}

// VerifyEmail confirms the signed-in user's email with a code, lifting the
// access restriction.
func (c *Controller) VerifyEmail(ctx context.Context, code string) error {
	user := c.session.User()
	if user == nil {
		return ErrNoActiveSession
	}
	verified, err := c.gw.VerifyEmail(ctx, user.Email, code)
	if err != nil {
		c.flashNotice(NoticeConfirmation, Notice{Level: NoticeError, Message: authMessage(err)})
		return err
	}
	c.session.SetUser(verified)
	c.flashNotice(NoticeConfirmation, Notice{Level: NoticeSuccess, Message: msgEmailConfirmed})
	return nil
}

// SetFilter changes the completion filter and refreshes.
func (c *Controller) SetFilter(ctx context.Context, f task.Filter) {
	c.mu.Lock()
	if c.filter == f {
		c.mu.Unlock()
		return
	}
	c.filter = f
	c.mu.Unlock()

	c.session.RememberFilter(f)
	c.publish()
	c.Refresh(ctx)
}

// TypeSearch updates the search draft; the refresh follows after the debounce.
func (c *Controller) TypeSearch(s string) {
	c.search.Type(s)
	c.publish()
}

// FlushSearch commits the search draft immediately.
func (c *Controller) FlushSearch() {
	c.search.Flush()
}

func (c *Controller) commitSearch(string) {
	c.mu.Lock()
	base := c.baseCtx
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.Refresh(base)
	c.publish()
}

// SetFormTitle updates the new-task title draft.
func (c *Controller) SetFormTitle(s string) {
	c.mu.Lock()
	c.form.title = s
	c.mu.Unlock()
	c.publish()
}

// SetFormDescription updates the new-task description draft.
func (c *Controller) SetFormDescription(s string) {
	c.mu.Lock()
	c.form.description = s
	c.mu.Unlock()
	c.publish()
}

// AttachImage sets or, with nil, removes the new-task image. Oversized
// images are rejected immediately.
func (c *Controller) AttachImage(img *task.Image) error {
	if img != nil {
		if err := gateway.ValidateImage(*img); err != nil {
			c.setNotice(NoticeForm, Notice{Level: NoticeError, Kind: KindValidation, Message: err.Error()})
			return &OpError{Op: "create", Kind: KindValidation, Err: err}
		}
	}
	c.mu.Lock()
	c.form.image = img
	delete(c.notices, NoticeForm)
	c.mu.Unlock()
	c.publish()
	return nil
}

// SubmitForm creates a task from the form draft and clears the form on
// success. It returns ErrSubmitInProgress while an earlier submit is pending.
func (c *Controller) SubmitForm(ctx context.Context) (*task.Task, error) {
	c.mu.Lock()
	if c.form.submitting {
		c.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	c.form.submitting = true
	in := CreateInput{Title: c.form.title, Description: c.form.description, Image: c.form.image}
	delete(c.notices, NoticeForm)
	c.mu.Unlock()
	c.publish()

	created, err := c.mutations.Create(ctx, in)

	c.mu.Lock()
	c.form.submitting = false
	if err == nil {
		c.form = formDraft{}
	}
	c.mu.Unlock()
	if err != nil {
		c.setNotice(NoticeForm, errorNotice(err))
		return nil, err
	}
	c.publish()
	return created, nil
}

// BeginEdit opens an edit draft seeded from the task's current values.
func (c *Controller) BeginEdit(id string) error {
	t, ok := c.store.Find(id)
	if !ok {
		return ErrNotFound
	}
	c.mu.Lock()
	c.edits[id] = &editDraft{title: t.Title, description: task.Text(t.Description)}
	delete(c.notices, id)
	c.mu.Unlock()
	c.publish()
	return nil
}

// UpdateEdit replaces the fields of an open edit draft.
func (c *Controller) UpdateEdit(id string, in EditInput) error {
	if img, ok := in.Image.Image(); ok {
		if err := gateway.ValidateImage(img); err != nil {
			c.setNotice(id, Notice{Level: NoticeError, Kind: KindValidation, Message: err.Error()})
			return &OpError{Op: "save", TaskID: id, Kind: KindValidation, Err: err}
		}
	}
	c.mu.Lock()
	d, ok := c.edits[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("task %s is not being edited", id)
	}
	d.title = in.Title
	d.description = in.Description
	d.image = in.Image
	c.mu.Unlock()
	c.publish()
	return nil
}

// CancelEdit discards an edit draft.
func (c *Controller) CancelEdit(id string) {
	c.mu.Lock()
	delete(c.edits, id)
	c.mu.Unlock()
	c.publish()
}

// SaveEdit writes an open edit draft and closes it on success.
func (c *Controller) SaveEdit(ctx context.Context, id string) error {
	c.mu.Lock()
	d, ok := c.edits[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("task %s is not being edited", id)
	}
	in := EditInput{Title: d.title, Description: d.description, Image: d.image}
	c.mu.Unlock()

	if err := c.mutations.Save(ctx, id, in); err != nil {
		c.setNotice(id, errorNotice(err))
		return err
	}
	c.mu.Lock()
	delete(c.edits, id)
	delete(c.notices, id)
	c.mu.Unlock()
	c.publish()
	return nil
}

// ToggleTask flips the completion state of task id. Failures are logged only.
func (c *Controller) ToggleTask(ctx context.Context, id string) error {
	t, ok := c.store.Find(id)
	if !ok {
		return ErrNotFound
	}
	return c.mutations.Toggle(ctx, t)
}

// RequestDelete starts the two-step delete of task id.
func (c *Controller) RequestDelete(id string) {
	c.mutations.RequestDelete(id)
}

// CancelDelete aborts a requested delete.
func (c *Controller) CancelDelete(id string) {
	c.mutations.CancelDelete(id)
}

// ConfirmDelete completes the two-step delete of task id.
func (c *Controller) ConfirmDelete(ctx context.Context, id string) error {
	if err := c.mutations.ConfirmDelete(ctx, id); err != nil {
		c.setNotice(id, errorNotice(err))
		return err
	}
	c.dismiss(id)
	return nil
}

// DismissNotice removes the notice in slot key.
func (c *Controller) DismissNotice(key string) {
	c.dismiss(key)
}

// ToggleTheme flips and persists the theme.
func (c *Controller) ToggleTheme() Theme {
	theme := c.session.ToggleTheme()
	c.publish()
	return theme
}

// UserID returns the signed-in user's id, or "".
func (c *Controller) UserID() string {
	if u := c.session.User(); u != nil {
		return u.ID
	}
	return ""
}

// State builds the current ViewState.
func (c *Controller) State() ViewState {
	snap := c.store.Snapshot()
	user := c.session.User()

	c.mu.Lock()
	defer c.mu.Unlock()

	state := ViewState{
		Configured:       c.cfg.configured,
		User:             user,
		AccessRestricted: c.session.AccessRestricted(),
		Theme:            c.session.Theme(),
		Filter:           c.filter,
		SearchDraft:      c.search.Draft(),
		Search:           c.search.Committed(),
		Tasks:            snap.Tasks,
		Loading:          snap.Loading,
		Form: FormState{
			Title:       c.form.title,
			Description: c.form.description,
			Submitting:  c.form.submitting,
		},
		Editing:        make(map[string]EditState, len(c.edits)),
		PendingDeletes: c.mutations.PendingDeletes(),
		Notices:        maps.Clone(c.notices),
	}
	if c.form.image != nil {
		state.Form.ImageName = c.form.image.Name
	}
	for id, d := range c.edits {
		es := EditState{Title: d.title, Description: d.description, ImageAction: d.image.Action().String()}
		if img, ok := d.image.Image(); ok {
			es.ImageName = img.Name
		}
		state.Editing[id] = es
	}
	return state
}

// Subscribe returns a channel carrying the latest ViewState. A slow reader
// only misses intermediate states. The returned function unsubscribes.
func (c *Controller) Subscribe() (<-chan ViewState, func()) {
	ch := make(chan ViewState, 1)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.State()
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Controller) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subs) == 0 {
		return
	}
	state := c.State()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

// Close tears the controller down: it stops the change feed, cancels a
// pending search commit and discards results of in-flight calls.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.search.Stop()
	c.store.Close()

	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
}

func (c *Controller) setNotice(key string, n Notice) {
	c.mu.Lock()
	c.notices[key] = n
	c.noticeGen[key]++
	c.mu.Unlock()
	c.publish()
}

// flashNotice shows n and removes it after the notice TTL unless it was
// replaced in the meantime.
func (c *Controller) flashNotice(key string, n Notice) {
	c.mu.Lock()
	c.notices[key] = n
	c.noticeGen[key]++
	gen := c.noticeGen[key]
	c.mu.Unlock()
	c.publish()

	time.AfterFunc(c.cfg.noticeTTL, func() {
		c.mu.Lock()
		if c.closed || c.noticeGen[key] != gen {
			c.mu.Unlock()
			return
		}
		delete(c.notices, key)
		c.mu.Unlock()
		c.publish()
	})
}

func (c *Controller) dismiss(key string) {
	c.mu.Lock()
	_, ok := c.notices[key]
	delete(c.notices, key)
	c.noticeGen[key]++
	c.mu.Unlock()
	if ok {
		c.publish()
	}
}

func errorNotice(err error) Notice {
	return Notice{Level: NoticeError, Kind: KindOf(err), Message: Message(err)}
}

func authMessage(err error) string {
	if errors.Is(err, gateway.ErrRateLimited) {
		return msgRateLimited
	}
	return err.Error()
}
