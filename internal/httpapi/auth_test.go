package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"barpos/backend/internal/domain"
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
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				ID:        "u-admin",
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "739154", store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
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

func TestTokenCarriesUserSiteAndRole(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"manager": {
				ID:       "u-manager",
				Username: "manager",
				Password: "manager123",
				Role:     domain.RoleManager,
				SiteID:   "site-centre",
				Active:   true,
			},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "739154", store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Manager", Password: "manager123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.SiteID != "site-centre" || resp.Role != domain.RoleManager {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	want := domain.Actor{UserID: "u-manager", Username: "manager", Role: domain.RoleManager, SiteID: "site-centre"}
	if actor != want {
		t.Fatalf("expected actor %+v, got %+v", want, actor)
	}
}

func TestLoginRejectsInactiveAndSitelessAccounts(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"gone": {ID: "u-gone", Username: "gone", Password: "secret123", Role: domain.RoleCashier, SiteID: "site-centre", Active: false},
			"lost": {ID: "u-lost", Username: "lost", Password: "secret123", Role: domain.RoleCashier, Active: true},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "739154", store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "gone", Password: "secret123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "lost", Password: "secret123"}); err == nil {
		t.Fatalf("expected cashier without site to be rejected")
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {ID: "u-admin", Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
		},
	}
	issuer := NewAuthManager("issuer-secret", time.Hour, "739154", store)
	verifier := NewAuthManager("other-secret", time.Hour, "739154", store)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
