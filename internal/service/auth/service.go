package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ripplehq/ripple/internal/domain"
	"github.com/ripplehq/ripple/internal/repository"
	"github.com/ripplehq/ripple/pkg/config"
	"github.com/ripplehq/ripple/pkg/crypto"
	jwtpkg "github.com/ripplehq/ripple/pkg/jwt"
)

// ErrInvalidCredentials covers both unknown username and wrong password,
// so a caller cannot probe which accounts exist.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrUnauthenticated is the single failure surfaced for any bad bearer
// token: garbled, forged, expired, or referencing a deleted user.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// ErrDuplicateUser indicates the email or username is already taken.
var ErrDuplicateUser = errors.New("auth: email or username already registered")

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Token is the credential returned to clients on login and signup.
type Token struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   time.Duration `json:"expires_in"`
}

// Signup registers a new user and logs them in.
func (s Service) Signup(ctx context.Context, username, email, password string) (*domain.User, Token, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, Token{}, errors.New("username, email and password are required")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, Token{}, ErrDuplicateUser
		}
		return nil, Token{}, err
	}
	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login verifies a username/password pair and issues an access token.
// Unknown username and wrong password are indistinguishable to the
// caller.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, Token{}, ErrInvalidCredentials
		}
		// Anything else means the stored digest is unreadable.
		return nil, Token{}, fmt.Errorf("compare password: %w", err)
	}
	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize resolves a bearer token to the live user it names. Every
// failure mode collapses to ErrUnauthenticated; the underlying cause is
// logged but never leaves this layer. Safe for concurrent use: the only
// shared state is the read-only signing key and the store client.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		s.logger.Warn("token rejected", "error", err)
		return nil, ErrUnauthenticated
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Token was valid but the subject is gone; report it the
			// same as any other rejection.
			s.logger.Warn("token subject no longer exists", "user_id", claims.UserID)
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

// User returns the account for an already-authorized user ID.
func (s Service) User(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

func (s Service) issueToken(userID string) (Token, error) {
	access, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	return Token{AccessToken: access, TokenType: "bearer", ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
