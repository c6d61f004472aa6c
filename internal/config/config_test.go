package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://mockapi.com" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.LatencyMin != 100*time.Millisecond || cfg.LatencyMax != 600*time.Millisecond {
		t.Fatalf("unexpected latency window %s..%s", cfg.LatencyMin, cfg.LatencyMax)
	}
	if cfg.TokenSecret != "secret" || cfg.TokenTTL != 3*time.Hour {
		t.Fatalf("unexpected token settings %q %s", cfg.TokenSecret, cfg.TokenTTL)
	}
	if cfg.StoreDriver != "memory" || cfg.StorePath != "" {
		t.Fatalf("unexpected store settings %q %q", cfg.StoreDriver, cfg.StorePath)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected log settings %q %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadDefaultsStorePathPerDriver(t *testing.T) {
	configViper := NewViper()
	configViper.Set("store.driver", "SQLite")
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != "sqlite" || cfg.StorePath != "mockapi.db" {
		t.Fatalf("unexpected sqlite settings %q %q", cfg.StoreDriver, cfg.StorePath)
	}

	configViper.Set("store.driver", "file")
	cfg, err = Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorePath != "mockapi.json" {
		t.Fatalf("unexpected file path %q", cfg.StorePath)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("MOCKAPI_LATENCY_MAX", "2s")
	t.Setenv("MOCKAPI_TOKEN_TTL", "90m")
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LatencyMax != 2*time.Second || cfg.TokenTTL != 90*time.Minute {
		t.Fatalf("environment overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]any{
		"mock.base_url": "not a url",
		"token.secret":  " ",
		"token.ttl":     "0s",
		"store.driver":  "postgres",
		"log.format":    "xml",
		"latency.min":   "2s",
	}
	for key, value := range cases {
		configViper := NewViper()
		configViper.Set(key, value)
		if _, err := Load(configViper); err == nil {
			t.Fatalf("expected %s=%v to be rejected", key, value)
		}
	}
}
