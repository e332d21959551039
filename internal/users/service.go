package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates an account already exists for the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates the email or password did not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidRegistration indicates the registration payload failed validation.
	ErrInvalidRegistration = errors.New("users: invalid registration")
	// ErrUserNotFound indicates no account exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

const (
	minPasswordLength    = 6
	minDisplayNameLength = 2
	maxDisplayNameLength = 50
)

// IDProvider issues unique identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service manages account registration and credential checks.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// RegisterRequest carries a new account payload.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
}

// Register validates the payload, hashes the password, and creates the account.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (User, error) {
	email := normalizeEmail(request.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email", ErrInvalidRegistration)
	}
	if len(request.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password shorter than %d characters", ErrInvalidRegistration, minPasswordLength)
	}
	name := strings.TrimSpace(request.Name)
	if nameLength := utf8.RuneCountInString(name); nameLength < minDisplayNameLength || nameLength > maxDisplayNameLength {
		return User{}, fmt.Errorf("%w: name must be %d-%d characters", ErrInvalidRegistration, minDisplayNameLength, maxDisplayNameLength)
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	user := User{
		UserID:       userID,
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  name,
		LastLoginAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies the credentials and stamps the login instant.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	user.LastLoginAt = s.clock().UTC()
	_ = s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", user.UserID).
		Update("last_login_at", user.LastLoginAt).Error

	return user, nil
}

// GetByID loads an account by its canonical identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
