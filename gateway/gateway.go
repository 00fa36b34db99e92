// Package gateway defines the contract between the client core and the remote
// data platform that owns persistence, identity, blob storage and the change
// feed.
package gateway

import (
	"context"
	"errors"

	"github.com/example/taskflow/domain/task"
)

var (
	ErrUnauthenticated     = errors.New("no active session")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailTaken          = errors.New("email already registered")
	ErrRateLimited         = errors.New("too many requests, please wait before trying again")
	ErrImageTooLarge       = errors.New("image exceeds the 2 MiB limit")
	ErrEmailNotConfirmed   = errors.New("email address not confirmed")
	ErrInvalidConfirmation = errors.New("invalid or expired confirmation code")
	ErrForbidden           = errors.New("operation not permitted for this user")
)

// SignUpResult describes a freshly registered account. When
// ConfirmationRequired is true no session was started.
type SignUpResult struct {
	User                 task.User `json:"user"`
	ConfirmationRequired bool      `json:"confirmation_required"`
}

// Gateway is the remote data platform as seen by the client.
//
// All task operations are implicitly scoped to the authenticated user; rows
// owned by anyone else are invisible and unmodifiable.
type Gateway interface {
	// CurrentUser returns nil, nil when there is no session.
	CurrentUser(ctx context.Context) (*task.User, error)

	// ListTasks returns the tasks matching q, newest first.
	ListTasks(ctx context.Context, q task.Query) ([]task.Task, error)
	CreateTask(ctx context.Context, t task.NewTask) (*task.Task, error)
	// UpdateTask reports false when no visible row has the given id.
	UpdateTask(ctx context.Context, id string, p task.Patch) (bool, error)
	// DeleteTask returns the number of rows removed, which is 0 when the row
	// is missing or not owned by the caller.
	DeleteTask(ctx context.Context, id string) (int, error)

	// UploadImage stores img under path and returns its public URL.
	UploadImage(ctx context.Context, path string, img task.Image) (string, error)

	// SubscribeToTaskChanges delivers change notifications to fn until the
	// returned function is called.
	SubscribeToTaskChanges(ctx context.Context, fn func(task.ChangeEvent)) (func(), error)

	SignIn(ctx context.Context, email, password string) (*task.User, error)
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	ResendConfirmation(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, email, code string) (*task.User, error)
}
