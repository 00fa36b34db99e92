package auth

import (
	"errors"
	"time"

	"github.com/example/taskflow/domain/task"
)

// Error codes carried in service responses; adapters map them back to errors.
const (
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailTaken          = "email_taken"
	CodeInvalidEmail        = "invalid_email"
	CodeWeakPassword        = "weak_password"
	CodeRateLimited         = "rate_limited"
	CodeInvalidToken        = "invalid_token"
	CodeExpiredToken        = "expired_token"
	CodeInvalidConfirmation = "invalid_confirmation"
	CodeInternal            = "internal"
)

// errorCode maps a service error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrUserExists):
		return CodeEmailTaken
	case errors.Is(err, ErrInvalidEmail):
		return CodeInvalidEmail
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrPasswordTooLong):
		return CodeWeakPassword
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrExpiredToken):
		return CodeExpiredToken
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, ErrInvalidConfirmation):
		return CodeInvalidConfirmation
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

// CredentialsRequest is used by sign-up and sign-in.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse carries the account and, when a session was started, its tokens.
type SessionResponse struct {
	Failure
	User                 task.User  `json:"user"`
	Tokens               *TokenPair `json:"tokens,omitempty"`
	ConfirmationRequired bool       `json:"confirmation_required,omitempty"`
}

// RefreshRequest represents a token refresh request.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenRequest carries an access token.
type TokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Failure
	Valid          bool   `json:"valid"`
	UserID         string `json:"user_id,omitempty"`
	Email          string `json:"email,omitempty"`
	EmailConfirmed bool   `json:"email_confirmed,omitempty"`
}

// UserResponse carries an account.
type UserResponse struct {
	Failure
	User task.User `json:"user"`
}

// ResendRequest asks for a new confirmation code.
type ResendRequest struct {
	Email string `json:"email"`
}

// ConfirmRequest submits a confirmation code.
type ConfirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// AckResponse is an empty success response.
type AckResponse struct {
	Failure
	At time.Time `json:"at"`
}
