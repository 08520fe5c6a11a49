package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ripplehq/ripple/internal/domain"
	"github.com/ripplehq/ripple/internal/repository"
	"github.com/ripplehq/ripple/pkg/config"
	jwtpkg "github.com/ripplehq/ripple/pkg/jwt"
)

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*domain.User)}
}

func (m *memoryUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryUserRepo) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUserRepo) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: 30 * time.Minute,
	}
}

func TestSignupStoresOnlyHashedPassword(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := New(repo, newLogger(), testConfig())

	user, token, err := svc.Signup(context.Background(), "alice", "alice@example.com", "Sup3rSecret!")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if token.AccessToken == "" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token: %+v", token)
	}
	stored, err := repo.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if strings.Contains(string(stored.PasswordHash), "Sup3rSecret!") {
		t.Fatalf("plaintext password leaked into store")
	}
}

func TestSignupRejectsDuplicates(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := New(repo, newLogger(), testConfig())

	if _, _, err := svc.Signup(context.Background(), "alice", "alice@example.com", "password1"); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, _, err := svc.Signup(context.Background(), "alice", "other@example.com", "password2"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser for username clash, got %v", err)
	}
	if _, _, err := svc.Signup(context.Background(), "bob", "alice@example.com", "password3"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser for email clash, got %v", err)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := New(repo, newLogger(), testConfig())
	if _, _, err := svc.Signup(context.Background(), "alice", "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	_, _, unknownErr := svc.Login(context.Background(), "nobody", "whatever")
	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	_, _, wrongErr := svc.Login(context.Background(), "alice", "battery-staple")
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("login failures must be indistinguishable: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLoginAuthorizeRoundTrip(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := New(repo, newLogger(), testConfig())
	signedUp, _, err := svc.Signup(context.Background(), "alice", "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	_, token, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	user, err := svc.Authorize(context.Background(), token.AccessToken)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if user.ID != signedUp.ID {
		t.Fatalf("resolved wrong principal: %s != %s", user.ID, signedUp.ID)
	}
}

func TestAuthorizeRejectsExpiredToken(t *testing.T) {
	repo := newMemoryUserRepo()
	cfg := testConfig()
	svc := New(repo, newLogger(), cfg)
	user, _, err := svc.Signup(context.Background(), "alice", "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	expired, err := jwtpkg.GenerateToken(user.ID, cfg.JWTSecret, -time.Minute)
	if err != nil {
		t.Fatalf("generate expired token: %v", err)
	}
	if _, err := svc.Authorize(context.Background(), expired); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuthorizeRejectsGarbageAndEmptyTokens(t *testing.T) {
	svc := New(newMemoryUserRepo(), newLogger(), testConfig())
	for _, token := range []string{"", "   ", "not-a-token"} {
		if _, err := svc.Authorize(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("token %q: expected ErrUnauthenticated, got %v", token, err)
		}
	}
}

func TestAuthorizeRejectsDeletedPrincipal(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := New(repo, newLogger(), testConfig())
	user, token, err := svc.Signup(context.Background(), "alice", "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	repo.delete(user.ID)

	if _, err := svc.Authorize(context.Background(), token.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for deleted principal, got %v", err)
	}
}
