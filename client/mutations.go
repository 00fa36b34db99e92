package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// CreateInput is the content of the new-task form.
type CreateInput struct {
	Title       string
	Description string
	Image       *task.Image
}

// EditInput is the content of an edit draft.
type EditInput struct {
	Title       string
	Description string
	Image       task.ImageChange
}

// Mutations performs task writes on behalf of the signed-in user and refreshes
// the store after each one.
type Mutations struct {
	gw      gateway.Gateway
	store   *Store
	session *Context
	logger  types.Logger

	mu       sync.Mutex
	pending  map[string]bool
	onChange func()
}

// NewMutations wires mutations to the gateway, the store they refresh and the
// session whose access restriction they honor.
func NewMutations(gw gateway.Gateway, store *Store, session *Context, logger types.Logger) *Mutations {
	return &Mutations{
		gw:      gw,
		store:   store,
		session: session,
		logger:  logger,
		pending: make(map[string]bool),
	}
}

// Create validates the input, uploads the image if any, then writes the task.
// A failed upload aborts before any row is written.
func (m *Mutations) Create(ctx context.Context, in CreateInput) (*task.Task, error) {
	const op = "create"

	if err := m.checkRestricted(op, ""); err != nil {
		return nil, err
	}
	title, err := task.ValidateTitle(in.Title)
	if err != nil {
		return nil, &OpError{Op: op, Kind: KindValidation, Err: err}
	}
	if in.Image != nil {
		if err := gateway.ValidateImage(*in.Image); err != nil {
			return nil, &OpError{Op: op, Kind: KindValidation, Err: err}
		}
	}
	user, err := m.requireUser(ctx, op, "")
	if err != nil {
		return nil, err
	}

	var imageURL *string
	if in.Image != nil {
		url, err := m.upload(ctx, op, "", user.ID, *in.Image)
		if err != nil {
			return nil, err
		}
		imageURL = &url
	}

	created, err := m.gw.CreateTask(ctx, task.NewTask{
		Title:       title,
		Description: task.OptionalText(in.Description),
		ImageURL:    imageURL,
	})
	if err != nil {
		m.logger.Warn("Failed to create task", "error", err)
		return nil, &OpError{Op: op, Kind: KindWrite, Err: err}
	}

	m.logger.Info("Task created", "task_id", created.ID)
	m.store.Reload(ctx)
	return created, nil
}

// Toggle flips the completion state of t. The list is not rolled back on failure.
func (m *Mutations) Toggle(ctx context.Context, t task.Task) error {
	const op = "toggle"

	if err := m.checkRestricted(op, t.ID); err != nil {
		return err
	}
	if _, err := m.requireUser(ctx, op, t.ID); err != nil {
		return err
	}

	found, err := m.gw.UpdateTask(ctx, t.ID, task.CompletionPatch(!t.IsCompleted))
	if err != nil {
		m.logger.Warn("Failed to toggle task", "task_id", t.ID, "error", err)
		return &OpError{Op: op, TaskID: t.ID, Kind: KindWrite, Err: err}
	}
	m.store.Reload(ctx)
	if !found {
		m.logger.Warn("Toggled task not found", "task_id", t.ID)
		return &OpError{Op: op, TaskID: t.ID, Kind: KindWrite, Err: ErrNotFound}
	}
	return nil
}

// Save applies an edit draft to task id.
func (m *Mutations) Save(ctx context.Context, id string, in EditInput) error {
	const op = "save"

	if err := m.checkRestricted(op, id); err != nil {
		return err
	}
	title, err := task.ValidateTitle(in.Title)
	if err != nil {
		return &OpError{Op: op, TaskID: id, Kind: KindValidation, Err: err}
	}
	img, replacing := in.Image.Image()
	if replacing {
		if err := gateway.ValidateImage(img); err != nil {
			return &OpError{Op: op, TaskID: id, Kind: KindValidation, Err: err}
		}
	}
	user, err := m.requireUser(ctx, op, id)
	if err != nil {
		return err
	}

	patch := task.Patch{Title: &title}
	if desc := task.OptionalText(in.Description); desc != nil {
		patch.Description = desc
	} else {
		patch.ClearDescription = true
	}
	switch in.Image.Action() {
	case task.ImageClear:
		patch.ClearImage = true
	case task.ImageReplace:
		url, err := m.upload(ctx, op, id, user.ID, img)
		if err != nil {
			return err
		}
		patch.ImageURL = &url
	}

	found, err := m.gw.UpdateTask(ctx, id, patch)
	if err != nil {
		m.logger.Warn("Failed to save task", "task_id", id, "error", err)
		return &OpError{Op: op, TaskID: id, Kind: KindWrite, Err: err}
	}
	m.store.Reload(ctx)
	if !found {
		return &OpError{Op: op, TaskID: id, Kind: KindWrite, Err: ErrNotFound}
	}
	return nil
}

// RequestDelete marks id as awaiting confirmation.
func (m *Mutations) RequestDelete(id string) {
	m.mu.Lock()
	m.pending[id] = true
	m.mu.Unlock()
	m.notify()
}

// CancelDelete withdraws a delete request.
func (m *Mutations) CancelDelete(id string) {
	m.mu.Lock()
	_, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	if ok {
		m.notify()
	}
}

// DeletePending reports whether id awaits delete confirmation.
func (m *Mutations) DeletePending(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[id]
}

// PendingDeletes lists ids awaiting delete confirmation, sorted.
func (m *Mutations) PendingDeletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfirmDelete deletes a task previously passed to RequestDelete. When the
// gateway removes no rows the store is still refreshed so the task reappears,
// and ErrNothingDeleted is returned.
func (m *Mutations) ConfirmDelete(ctx context.Context, id string) error {
	const op = "delete"

	m.mu.Lock()
	requested := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	if !requested {
		return &OpError{Op: op, TaskID: id, Kind: KindValidation, Err: ErrDeleteNotRequested}
	}
	m.notify()

	if err := m.checkRestricted(op, id); err != nil {
		return err
	}
	if _, err := m.requireUser(ctx, op, id); err != nil {
		return err
	}

	removed, err := m.gw.DeleteTask(ctx, id)
	if err != nil {
		m.logger.Warn("Failed to delete task", "task_id", id, "error", err)
		return &OpError{Op: op, TaskID: id, Kind: KindWrite, Err: err}
	}
	m.store.Reload(ctx)
	if removed == 0 {
		m.logger.Warn("Delete removed no rows", "task_id", id)
		return &OpError{Op: op, TaskID: id, Kind: KindPermission, Err: ErrNothingDeleted}
	}
	m.logger.Info("Task deleted", "task_id", id)
	return nil
}

// Reset drops all delete requests.
func (m *Mutations) Reset() {
	m.mu.Lock()
	m.pending = make(map[string]bool)
	m.mu.Unlock()
}

// SetOnChange registers a callback for delete-request changes.
func (m *Mutations) SetOnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Mutations) checkRestricted(op, id string) error {
	if m.session != nil && m.session.AccessRestricted() {
		return &OpError{Op: op, TaskID: id, Kind: KindPermission, Err: ErrAccessRestricted}
	}
	return nil
}

func (m *Mutations) requireUser(ctx context.Context, op, id string) (*task.User, error) {
	user, err := m.gw.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthenticated) {
			return nil, &OpError{Op: op, TaskID: id, Kind: KindUnauthenticated, Err: ErrNoActiveSession}
		}
		return nil, &OpError{Op: op, TaskID: id, Kind: KindUnauthenticated, Err: fmt.Errorf("%w: %v", ErrNoActiveSession, err)}
	}
	if user == nil {
		return nil, &OpError{Op: op, TaskID: id, Kind: KindUnauthenticated, Err: ErrNoActiveSession}
	}
	return user, nil
}

func (m *Mutations) upload(ctx context.Context, op, id, userID string, img task.Image) (string, error) {
	path := gateway.ImagePath(userID, img.Name)
	url, err := m.gw.UploadImage(ctx, path, img)
	if err != nil {
		m.logger.Warn("Failed to upload image", "path", path, "error", err)
		return "", &OpError{Op: op, TaskID: id, Kind: KindUpload, Err: fmt.Errorf("%w: %w", ErrUpload, err)}
	}
	return url, nil
}

func (m *Mutations) notify() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}
