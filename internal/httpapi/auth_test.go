package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tokoizzah/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				FirstName: "Admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, stub)
	resp, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.FirstName != "Admin" || resp.Role != domain.RoleAdmin {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	users, err := stub.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir": {
				Username: "kasir",
				Password: "kasir123",
				Role:     domain.RoleKasir,
				Active:   false,
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, stub)
	_, err := manager.Login(domain.LoginRequest{Username: "kasir", Password: "kasir123"})
	if err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}

func TestLoginPicksUpNewlyCreatedUsers(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, stub)

	// Account added after the manager was constructed.
	stub.mu.Lock()
	stub.users["kasirbaru"] = domain.UserAccount{
		Username: "kasirbaru",
		Password: "secret1",
		Role:     domain.RoleKasir,
		Active:   true,
	}
	stub.mu.Unlock()

	if _, err := manager.Login(domain.LoginRequest{Username: "kasirbaru", Password: "secret1"}); err != nil {
		t.Fatalf("expected login for newly created user to work, got %v", err)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir": {Username: "kasir", Password: "kasir123", Role: domain.RoleKasir, Active: true},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, stub)

	resp, err := manager.Login(domain.LoginRequest{Username: "kasir", Password: "kasir123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "kasir" || actor.Role != domain.RoleKasir {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir": {Username: "kasir", Password: "kasir123", Role: domain.RoleKasir, Active: true},
		},
	}
	issuer := NewAuthManager("secret-one", time.Hour, stub)
	verifier := NewAuthManager("secret-two", time.Hour, stub)

	resp, err := issuer.Login(domain.LoginRequest{Username: "kasir", Password: "kasir123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})
	if _, err := manager.ParseToken("not.a.jwt"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}
