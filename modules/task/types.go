package task

import (
	"errors"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// Error codes carried in service responses.
const (
	CodeUnauthenticated   = "unauthenticated"
	CodeEmailNotConfirmed = "email_not_confirmed"
	CodeEmptyTitle        = "empty_title"
	CodeInvalidFilter     = "invalid_filter"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, gateway.ErrEmailNotConfirmed):
		return CodeEmailNotConfirmed
	case errors.Is(err, task.ErrEmptyTitle):
		return CodeEmptyTitle
	case errors.Is(err, task.ErrInvalidFilter):
		return CodeInvalidFilter
	case errors.Is(err, task.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// Failure is embedded in every response. An empty Code means success.
type Failure struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func failure(err error) Failure {
	return Failure{Code: errorCode(err), Error: err.Error()}
}

// Failed reports whether the response carries an error.
func (f Failure) Failed() bool {
	return f.Code != ""
}

// Err converts the failure back into an error callers can match with errors.Is.
func (f Failure) Err() error {
	var sentinel error
	switch f.Code {
	case "":
		return nil
	case CodeUnauthenticated:
		sentinel = gateway.ErrUnauthenticated
	case CodeEmailNotConfirmed:
		sentinel = gateway.ErrEmailNotConfirmed
	case CodeEmptyTitle:
		sentinel = task.ErrEmptyTitle
	case CodeInvalidFilter:
		sentinel = task.ErrInvalidFilter
	case CodeNotFound:
		sentinel = task.ErrNotFound
	default:
		if f.Error == "" {
			return errors.New(f.Code)
		}
		return errors.New(f.Error)
	}
	if f.Error == "" || f.Error == sentinel.Error() {
		return sentinel
	}
	return &codedError{sentinel: sentinel, msg: f.Error}
}

type codedError struct {
	sentinel error
	msg      string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Unwrap() error { return e.sentinel }

// ListRequest asks for the caller's tasks matching the query.
type ListRequest struct {
	Token  string `json:"token"`
	Filter string `json:"filter"`
	Search string `json:"search"`
}

// ListResponse carries the matching tasks, newest first.
type ListResponse struct {
	Failure
	Tasks  []task.Task `json:"tasks"`
	Cached bool        `json:"cached"`
}

// CreateRequest inserts a task for the caller.
type CreateRequest struct {
	Token string       `json:"token"`
	Task  task.NewTask `json:"task"`
}

// UpdateRequest patches one of the caller's tasks.
type UpdateRequest struct {
	Token string     `json:"token"`
	ID    string     `json:"id"`
	Patch task.Patch `json:"patch"`
}

// DeleteRequest removes one of the caller's tasks.
type DeleteRequest struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

// TaskResponse carries a single task.
type TaskResponse struct {
	Failure
	Task *task.Task `json:"task,omitempty"`
}

// DeleteResponse reports how many rows were removed.
type DeleteResponse struct {
	Failure
	Deleted int `json:"deleted"`
}
