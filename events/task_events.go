package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/taskflow/domain/task"
)

// TaskChangedEvent is emitted after every committed insert, update or delete
// of a task row. Task is nil for deletes.
type TaskChangedEvent struct {
	Type      task.ChangeType `json:"type"`
	UserID    string          `json:"user_id"`
	Task      *task.Task      `json:"task,omitempty"`
	OldID     string          `json:"old_id,omitempty"`
	ChangedAt time.Time       `json:"changed_at"`
}

// ChangeEvent converts the bus event into the client-facing change notification.
func (e TaskChangedEvent) ChangeEvent() task.ChangeEvent {
	return task.ChangeEvent{Type: e.Type, New: e.Task, OldID: e.OldID}
}

// TaskChangedV1 is the typed event definition for task row changes.
// Subject: events.task.v1.task-changed
var TaskChangedV1 = helper.EventDefinition[TaskChangedEvent](
	"task", "TaskChanged", "v1",
)

// UserSignedUpEvent is emitted when a new account is registered.
type UserSignedUpEvent struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	Confirmed        bool      `json:"confirmed"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserSignedUpV1 is the typed event definition for account registration.
// Subject: events.auth.v1.user-signed-up
var UserSignedUpV1 = helper.EventDefinition[UserSignedUpEvent](
	"auth", "UserSignedUp", "v1",
)
