package auth

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when a user already exists.
	ErrUserExists = errors.New("user with this email already exists")
)

// UserRepository handles user persistence using GORM.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(user *User) error {
	result := r.db.Create(user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrUserExists
		}
		return result.Error
	}
	return nil
}

// FindByID finds a user by ID.
func (r *UserRepository) FindByID(id string) (*User, error) {
	return r.first("id = ?", id)
}

// FindByEmail finds a user by email.
func (r *UserRepository) FindByEmail(email string) (*User, error) {
	return r.first("email = ?", email)
}

func (r *UserRepository) first(query string, arg any) (*User, error) {
	var user User
	result := r.db.First(&user, query, arg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// EmailExists checks if a user with the given email exists.
func (r *UserRepository) EmailExists(email string) (bool, error) {
	var count int64
	result := r.db.Model(&User{}).Where("email = ?", email).Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// SetConfirmationCode stores a fresh confirmation code for the user.
func (r *UserRepository) SetConfirmationCode(id, code string, sentAt time.Time) error {
	result := r.db.Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"confirmation_code":    code,
		"confirmation_sent_at": sentAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkConfirmed records the confirmation time and clears the code.
func (r *UserRepository) MarkConfirmed(id string, at time.Time) error {
	result := r.db.Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"email_confirmed_at": at,
		"confirmation_code":  "",
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// BumpTokenVersion invalidates every token issued to the user so far.
func (r *UserRepository) BumpTokenVersion(id string) error {
	result := r.db.Model(&User{}).Where("id = ?", id).
		UpdateColumn("token_version", gorm.Expr("token_version + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
