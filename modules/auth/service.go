package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

var (
	// ErrInvalidCredentials is returned when sign-in credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail is returned when email format is invalid.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrWeakPassword is returned when password is too weak.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong is returned when password exceeds bcrypt's 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
	// ErrRateLimited is returned when an email exceeded its request budget.
	ErrRateLimited = errors.New("email rate limit exceeded")
	// ErrInvalidConfirmation is returned for a wrong or expired confirmation code.
	ErrInvalidConfirmation = errors.New("invalid or expired confirmation code")
)

// ConfirmationTTL is how long a confirmation code stays valid.
const ConfirmationTTL = 24 * time.Hour

// AuthService handles account and session business logic.
type AuthService struct {
	repo        *UserRepository
	hasher      *PasswordHasher
	jwt         *JWTManager
	limiter     RateLimiter
	autoConfirm bool
	newCode     func() string
	now         func() time.Time
}

// NewAuthService creates a new AuthService. A nil limiter disables rate limiting.
func NewAuthService(repo *UserRepository, hasher *PasswordHasher, jwt *JWTManager, limiter RateLimiter, autoConfirm bool) (*AuthService, error) {
	if limiter == nil {
		limiter = noLimit{}
	}
	newCode, err := nanoid.CustomASCII("0123456789", 6)
	if err != nil {
		return nil, fmt.Errorf("failed to create confirmation code generator: %w", err)
	}
	return &AuthService{
		repo:        repo,
		hasher:      hasher,
		jwt:         jwt,
		limiter:     limiter,
		autoConfirm: autoConfirm,
		newCode:     newCode,
		now:         time.Now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) allow(ctx context.Context, key string, limit Limit) error {
	ok, err := s.limiter.Allow(ctx, key, limit)
	if err != nil {
		log.Printf("[auth] Warning: rate limiter unavailable, allowing %s: %v", key, err)
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// SignUp creates an account. Unless auto-confirm is on, the account starts
// unconfirmed and the returned code must be passed to Confirm.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (*User, string, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", ErrInvalidEmail
	}
	if len(password) < 8 {
		return nil, "", ErrWeakPassword
	}
	if len(password) > 72 {
		return nil, "", ErrPasswordTooLong
	}
	if err := s.allow(ctx, "signup:"+email, SignUpLimit); err != nil {
		return nil, "", err
	}

	exists, err := s.repo.EmailExists(email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, "", ErrUserExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var code string
	if s.autoConfirm {
		user.EmailConfirmedAt = &now
	} else {
		code = s.newCode()
		user.ConfirmationCode = code
		user.ConfirmationSentAt = &now
	}

	if err := s.repo.Create(user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}
	return user, code, nil
}

// SignIn authenticates with email and password and issues tokens.
// Unconfirmed accounts may sign in; writes are restricted elsewhere.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	email = normalizeEmail(email)
	if err := s.allow(ctx, "signin:"+email, SignInLimit); err != nil {
		return nil, nil, err
	}

	user, err := s.repo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := s.generateTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (s *AuthService) Refresh(_ context.Context, refreshToken string) (*User, *TokenPair, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.userForClaims(claims)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := s.generateTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// SignOut revokes every token issued to the owner of accessToken.
func (s *AuthService) SignOut(_ context.Context, accessToken string) error {
	claims, err := s.jwt.ValidateAccessToken(accessToken)
	if err != nil {
		return err
	}
	if claims.UserID == "" {
		return ErrInvalidToken
	}
	if err := s.repo.BumpTokenVersion(claims.UserID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return nil
}

// Validate resolves an access token to its current account. The returned
// user reflects the stored confirmation state, not the state at issue time.
func (s *AuthService) Validate(_ context.Context, accessToken string) (*User, error) {
	claims, err := s.jwt.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.userForClaims(claims)
}

// ResendConfirmation issues a fresh confirmation code. Unknown or already
// confirmed addresses yield an empty code and no error.
func (s *AuthService) ResendConfirmation(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if err := s.allow(ctx, "resend:"+email, ResendLimit); err != nil {
		return "", err
	}

	user, err := s.repo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user.Confirmed() {
		return "", nil
	}

	code := s.newCode()
	if err := s.repo.SetConfirmationCode(user.ID, code, s.now()); err != nil {
		return "", fmt.Errorf("failed to store confirmation code: %w", err)
	}
	return code, nil
}

// Confirm marks the account's email confirmed when code matches.
func (s *AuthService) Confirm(ctx context.Context, email, code string) (*User, error) {
	email = normalizeEmail(email)
	if err := s.allow(ctx, "confirm:"+email, ConfirmLimit); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidConfirmation
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user.Confirmed() {
		return user, nil
	}
	if user.ConfirmationCode == "" || user.ConfirmationCode != strings.TrimSpace(code) {
		return nil, ErrInvalidConfirmation
	}
	if user.ConfirmationSentAt == nil || s.now().Sub(*user.ConfirmationSentAt) > ConfirmationTTL {
		return nil, ErrInvalidConfirmation
	}

	now := s.now()
	if err := s.repo.MarkConfirmed(user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to confirm user: %w", err)
	}
	user.EmailConfirmedAt = &now
	user.ConfirmationCode = ""
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *AuthService) GetUser(_ context.Context, userID string) (*User, error) {
	return s.repo.FindByID(userID)
}

func (s *AuthService) userForClaims(claims *JWTClaims) (*User, error) {
	user, err := s.repo.FindByID(claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func (s *AuthService) generateTokenPair(user *User) (*TokenPair, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user.ID, user.Email, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.jwt.GenerateRefreshToken(user.ID, user.Email, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.jwt.AccessTokenDuration(),
		TokenType:    "Bearer",
	}, nil
}
