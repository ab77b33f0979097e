package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	users := memory.New()
	// A legacy plain-text password exercises the bootstrap upgrade path.
	if err := users.CreateUser(context.Background(), domain.UserAccount{
		Username: "vendedor",
		Password: "clave-inicial",
		Role:     domain.RoleManager,
		Active:   true,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return NewAuthManager(testSecret, time.Hour, users), users
}

func TestLoginIssuesParseableToken(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "Vendedor", Password: "clave-inicial"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleManager {
		t.Fatalf("expected manager role in response, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "vendedor" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "vendedor", Password: "equivocada"}); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "desconocido", Password: "clave-inicial"}); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestBootstrapUpgradesPlaintextPasswords(t *testing.T) {
	_, users := newTestAuth(t)

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one user, got %d", len(stored))
	}
	if !isPasswordHash(stored[0].Password) {
		t.Fatalf("expected stored password to be hashed, got %q", stored[0].Password)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "vendedor", Password: "clave-inicial"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := auth.ParseToken(resp.AccessToken + "x"); err == nil {
		t.Fatalf("expected tampered token to fail")
	}

	other := NewAuthManager(strings.Repeat("z", 32), time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to fail")
	}
}

func TestCreateUserValidation(t *testing.T) {
	auth, _ := newTestAuth(t)

	cases := []domain.UserCreateRequest{
		{Username: "ab", Password: "clave-larga"},
		{Username: "con espacios", Password: "clave-larga"},
		{Username: "usuario", Password: "corta"},
		{Username: "usuario", Password: "clave-larga", Role: "superusuario"},
		{Username: "vendedor", Password: "clave-larga"},
	}
	for _, req := range cases {
		if _, err := auth.CreateUser(req); err == nil {
			t.Fatalf("expected create user to fail for %+v", req)
		}
	}
}

func TestCreateUserDefaultsToCashier(t *testing.T) {
	auth, users := newTestAuth(t)

	created, err := auth.CreateUser(domain.UserCreateRequest{Username: "Nuevo1", Password: "clave-larga"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Username != "nuevo1" || created.Role != domain.RoleCashier || !created.Active {
		t.Fatalf("unexpected user %+v", created)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected user persisted to the store, got %d users", len(stored))
	}
}
