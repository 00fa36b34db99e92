package client

import "github.com/example/taskflow/domain/task"

// Notice slot keys that are not task ids.
const (
	NoticeForm         = "form"
	NoticeAuth         = "auth"
	NoticeConfirmation = "confirmation"
)

// NoticeLevel is the severity of a notice.
type NoticeLevel string

const (
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
)

// Notice is a dismissible message attached to a view component.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Kind    ErrorKind   `json:"kind,omitempty"`
	Message string      `json:"message"`
}

// FormState mirrors the new-task form.
type FormState struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageName   string `json:"image_name,omitempty"`
	Submitting  bool   `json:"submitting"`
}

// EditState mirrors an open edit draft.
type EditState struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageAction string `json:"image_action"`
	ImageName   string `json:"image_name,omitempty"`
}

// ViewState is everything presentation needs to render one frame.
type ViewState struct {
	Configured       bool                 `json:"configured"`
	User             *task.User           `json:"user"`
	AccessRestricted bool                 `json:"access_restricted"`
	Theme            Theme                `json:"theme"`
	Filter           task.Filter          `json:"filter"`
	SearchDraft      string               `json:"search_draft"`
	Search           string               `json:"search"`
	Tasks            []task.Task          `json:"tasks"`
	Loading          bool                 `json:"loading"`
	Form             FormState            `json:"form"`
	Editing          map[string]EditState `json:"editing"`
	PendingDeletes   []string             `json:"pending_deletes"`
	Notices          map[string]Notice    `json:"notices"`
}

// SignedIn reports whether the view belongs to an authenticated user.
func (v ViewState) SignedIn() bool {
	return v.User != nil
}

// DeletePending reports whether id awaits delete confirmation.
func (v ViewState) DeletePending(id string) bool {
	for _, p := range v.PendingDeletes {
		if p == id {
			return true
		}
	}
	return false
}
