package web

import (
	"github.com/example/taskflow/client"
	"github.com/example/taskflow/domain/task"
)

// CredentialsRequest signs in or signs up.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyRequest confirms the signed-in user's email.
type VerifyRequest struct {
	Code string `json:"code"`
}

// SessionResponse describes the browser session's user.
type SessionResponse struct {
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id,omitempty"`
	User             *task.User `json:"user"`
	AccessRestricted bool       `json:"access_restricted"`
}

// FilterRequest selects the completion filter.
type FilterRequest struct {
	Filter string `json:"filter"`
}

// SearchRequest updates the search box. Flush commits it without waiting
// for the debounce.
type SearchRequest struct {
	Search string `json:"search"`
	Flush  bool   `json:"flush"`
}

// FormRequest updates the new-task form draft. Nil fields are left as they
// are.
type FormRequest struct {
	Title       *string `json:"title" form:"title"`
	Description *string `json:"description" form:"description"`
}

// EditRequest replaces an edit draft. ImageAction is keep, replace or clear;
// replace needs an image file in a multipart body.
type EditRequest struct {
	Title       string `json:"title" form:"title"`
	Description string `json:"description" form:"description"`
	ImageAction string `json:"image_action" form:"image_action"`
}

// ThemeResponse carries the theme after a toggle.
type ThemeResponse struct {
	Theme client.Theme `json:"theme"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Message types on the view WebSocket.
const (
	WSTypeState   = "state"
	WSTypeSearch  = "search"
	WSTypeRefresh = "refresh"
	WSTypeError   = "error"
)

// WSMessage is a frame on the view WebSocket. The server sends state frames;
// the browser may send search and refresh frames.
type WSMessage struct {
	Type  string            `json:"type"`
	State *client.ViewState `json:"state,omitempty"`
	Value string            `json:"value,omitempty"`
	Error string            `json:"error,omitempty"`
}
