package protected

import (
	"context"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/mockapi/internal/kv"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return registry
}

func TestRegisterIsFirstWriteWinsWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	written, err := registry.Register(ctx, []Rule{{Route: "orders", Methods: []string{"GET"}}}, false)
	if err != nil || !written {
		t.Fatalf("expected first registration to write, written=%v err=%v", written, err)
	}
	written, err = registry.Register(ctx, []Rule{{Route: "carts", Methods: []string{"GET"}}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written {
		t.Fatalf("expected second registration without overwrite to be a no-op")
	}

	if _, ok, _ := registry.Match(ctx, "carts"); ok {
		t.Fatalf("carts must not be protected")
	}
	if _, ok, _ := registry.Match(ctx, "orders"); !ok {
		t.Fatalf("orders must stay protected")
	}
}

func TestRegisterOverwriteReplacesRules(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	if _, err := registry.Register(ctx, []Rule{{Route: "orders"}}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := registry.Register(ctx, []Rule{{Route: "carts"}}, true); err != nil {
		t.Fatalf("register overwrite: %v", err)
	}
	rules, err := registry.Rules(ctx)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Route != "carts" {
		t.Fatalf("unexpected rules %+v", rules)
	}
}

func TestMatchIsCaseInsensitiveAndTrimmed(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	if _, err := registry.Register(ctx, []Rule{{Route: "  Orders ", Methods: []string{"post"}, IsUserSpecific: true}}, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	rule, ok, err := registry.Match(ctx, "ORDERS")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if !rule.IsUserSpecific {
		t.Fatalf("expected user specific rule")
	}
	if !rule.Requires(http.MethodPost) {
		t.Fatalf("expected POST to require auth")
	}
	if rule.Requires(http.MethodGet) {
		t.Fatalf("GET is not listed and must not require auth")
	}
	if _, ok, _ := registry.Match(ctx, "order"); ok {
		t.Fatalf("match must be exact, not substring")
	}
}
