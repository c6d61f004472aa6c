package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/mockapi/internal/config"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dispatch"
)

func loadTestConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg, err := config.Load(config.NewViper())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestNewSeedsDefaultBundle(t *testing.T) {
	ctx := context.Background()
	assembled, err := New(ctx, loadTestConfig(t), Options{Delayer: dispatch.NoDelay{}})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	t.Cleanup(func() { _ = assembled.Close() })

	response := assembled.Dispatcher.Do(ctx, dispatch.Request{
		Method: http.MethodGet,
		URL:    assembled.Dispatcher.BaseURL() + "/products",
	})
	if response.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Status, response.Body)
	}
	if got := response.Header.Get(dispatch.HeaderTotalCount); got != "6" {
		t.Fatalf("expected six seeded products, got %q", got)
	}

	rules, err := assembled.Registry.Rules(ctx)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Route != "orders" {
		t.Fatalf("unexpected protection rules %+v", rules)
	}
}

func TestNewSkipSeedLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	assembled, err := New(ctx, loadTestConfig(t), Options{Delayer: dispatch.NoDelay{}, SkipSeed: true})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	t.Cleanup(func() { _ = assembled.Close() })

	names, err := assembled.Store.EnumerateNames(ctx)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no collections, got %v", names)
	}
}

func TestNewRejectsUnreadableSeed(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.SeedPath = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := New(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("expected missing seed file to fail assembly")
	}
}

func TestLoadBundleReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := "collections:\n  notes:\n    - id: 1\n      title: first\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	bundle, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if len(bundle.Collections["notes"]) != 1 {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
}
