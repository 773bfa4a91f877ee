// Package auth provides email/password accounts and bearer token identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/store"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type Users interface {
	CreateUser(ctx context.Context, u *models.UserProfile, passwordHash string) error
	GetCredentials(ctx context.Context, email string) (*models.UserProfile, string, error)
	GetUser(ctx context.Context, uid string) (*models.UserProfile, error)
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UID   string
	Email string
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Service struct {
	users  Users
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(users Users, secret string, ttl time.Duration) *Service {
	return &Service{users: users, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a non-admin account with default notification preferences.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*models.UserProfile, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &models.UserProfile{
		UID:                     uuid.New().String(),
		Email:                   email,
		DisplayName:             strings.TrimSpace(displayName),
		CreatedAt:               s.now().UTC(),
		NotificationPreferences: models.DefaultNotificationPreferences(),
	}
	if err := s.users.CreateUser(ctx, u, string(hash)); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// Login checks the password and issues a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.UserProfile, error) {
	u, hash, err := s.users.GetCredentials(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.Issue(Identity{UID: u.UID, Email: u.Email})
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Issue signs an HS256 token for id.
func (s *Service) Issue(id Identity) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *Service) Authenticate(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || c.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UID: c.Subject, Email: c.Email}, nil
}

// Profile re-reads the caller's profile.
func (s *Service) Profile(ctx context.Context, uid string) (*models.UserProfile, error) {
	return s.users.GetUser(ctx, uid)
}
