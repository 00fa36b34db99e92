package auth

import (
	"time"

	"github.com/example/taskflow/domain/task"
)

// User is an account row.
type User struct {
	ID                 string `gorm:"primaryKey;type:text"`
	Email              string `gorm:"uniqueIndex;not null;type:text"`
	PasswordHash       string `gorm:"not null;type:text"`
	EmailConfirmedAt   *time.Time
	ConfirmationCode   string `gorm:"type:text"`
	ConfirmationSentAt *time.Time
	// TokenVersion is bumped on sign-out to revoke outstanding tokens.
	TokenVersion int `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for the User entity.
func (User) TableName() string {
	return "users"
}

// Confirmed reports whether the email address has been confirmed.
func (u *User) Confirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Identity returns the client-facing view of the account.
func (u *User) Identity() task.User {
	return task.User{ID: u.ID, Email: u.Email, EmailConfirmed: u.Confirmed()}
}

// TokenPair represents access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Claims is the identity carried by a validated access token.
type Claims struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}
