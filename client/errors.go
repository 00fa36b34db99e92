package client

import (
	"errors"
	"fmt"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

var (
	ErrAccessRestricted   = errors.New("confirm your email address before changing tasks")
	ErrNoActiveSession    = errors.New("no active session")
	ErrUpload             = errors.New("image upload failed")
	ErrNothingDeleted     = errors.New("task could not be deleted: it no longer exists or you do not have permission")
	ErrDeleteNotRequested = errors.New("delete was not requested for this task")
	ErrSubmitInProgress   = errors.New("the new task is already being submitted")

	ErrEmptyTitle    = task.ErrEmptyTitle
	ErrNotFound      = task.ErrNotFound
	ErrImageTooLarge = gateway.ErrImageTooLarge
)

// ErrorKind classifies a failed operation for presentation.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindUpload          ErrorKind = "upload"
	KindWrite           ErrorKind = "write"
	KindRead            ErrorKind = "read"
	KindPermission      ErrorKind = "permission"
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// OpError describes a failed mutation.
type OpError struct {
	Op     string
	TaskID string
	Kind   ErrorKind
	Err    error
}

func (e *OpError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s task %s: %v", e.Op, e.TaskID, e.Err)
	}
	return fmt.Sprintf("%s task: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an *OpError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error()
	}
	return err.Error()
}
