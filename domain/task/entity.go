package task

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyTitle is returned when a title is blank after trimming.
	ErrEmptyTitle = errors.New("title is required")
	// ErrNotFound is returned when no task matches the given ID for the caller.
	ErrNotFound = errors.New("task not found")
)

// Task is the core domain entity representing a user-owned todo item.
// ID and CreatedAt are assigned by the gateway and never changed afterwards.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	ImageURL    *string   `json:"image_url"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask carries the client-chosen fields of a task being created.
// The owner, ID and creation time are assigned server-side.
type NewTask struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	ImageURL    *string `json:"image_url"`
}

// User is the authenticated identity as seen by the client.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// ValidateTitle trims the title and rejects it when nothing is left.
func ValidateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", ErrEmptyTitle
	}
	return trimmed, nil
}

// OptionalText maps the empty string to absent.
func OptionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Text dereferences an optional string, returning "" when absent.
func Text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// HasImage reports whether the task carries an image URL.
func (t Task) HasImage() bool {
	return t.ImageURL != nil && *t.ImageURL != ""
}
