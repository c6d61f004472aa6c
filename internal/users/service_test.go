package users

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
	"github.com/MarcoPoloResearchLab/mockapi/internal/auth"
	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"github.com/MarcoPoloResearchLab/mockapi/internal/kv"
)

func newTestService(t *testing.T) (*Service, *auth.TokenService, *dataset.Store) {
	t.Helper()
	store, err := dataset.NewStore(kv.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.InitializeDefaults(context.Background(), nil, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenServiceConfig{
		SigningSecret: []byte(auth.DefaultSigningSecret),
		Clock:         func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	service, err := NewService(ServiceConfig{Store: store, Tokens: tokens, Publisher: changes.NewFeed()})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return service, tokens, store
}

func TestLoginWithBootstrapAccount(t *testing.T) {
	service, tokens, _ := newTestService(t)

	token, err := service.Login(context.Background(), "admin", "admin")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	userID, ok := tokens.ExtractUserID(token)
	if !ok || userID != 1 {
		t.Fatalf("expected token for user 1, got %d (ok=%v)", userID, ok)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), "admin", "Admin")
	if apierror.KindOf(err) != apierror.KindInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if apierror.Message(err) != "Invalid credentials" {
		t.Fatalf("unexpected message %q", apierror.Message(err))
	}
}

func TestRegisterThenLogin(t *testing.T) {
	service, tokens, store := newTestService(t)
	ctx := context.Background()

	id, err := service.Register(ctx, dataset.Record{"username": "jane", "password": "pw", "firstName": "Jane"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}

	users, err := store.ReadKey(ctx, dataset.UserKey(dataset.UsersCollection))
	if err != nil {
		t.Fatalf("expected users to be written to the user variant: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected bootstrap user plus new account, got %d", len(users))
	}

	token, err := service.Login(ctx, "jane", "pw")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if userID, _ := tokens.ExtractUserID(token); userID != 2 {
		t.Fatalf("expected token for user 2, got %d", userID)
	}
}

func TestRegisterRejectsDuplicatesAndBlankNames(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, dataset.Record{"username": "admin", "password": "x"}); apierror.KindOf(err) != apierror.KindBadRequest {
		t.Fatalf("expected bad request for duplicate username, got %v", err)
	}
	if _, err := service.Register(ctx, dataset.Record{"password": "x"}); apierror.KindOf(err) != apierror.KindBadRequest {
		t.Fatalf("expected bad request for missing username, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected error without store")
	}
	store, _ := dataset.NewStore(kv.NewMemoryStore(), nil)
	if _, err := NewService(ServiceConfig{Store: store}); err == nil {
		t.Fatalf("expected error without token service")
	}
}
