package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	var cfg Config
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ChallengeTTL != 60*time.Second {
		t.Errorf("ChallengeTTL = %v, want 60s", cfg.ChallengeTTL)
	}
	if cfg.StreamMaxPending != 1024 {
		t.Errorf("StreamMaxPending = %d, want 1024", cfg.StreamMaxPending)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want empty", cfg.TrustedProxies)
	}
	if cfg.StreamFlushInterval != 100*time.Millisecond {
		t.Errorf("StreamFlushInterval = %v, want 100ms", cfg.StreamFlushInterval)
	}
	if !cfg.CallsEnabled {
		t.Error("CallsEnabled should default to true")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")

	var cfg Config
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("TrustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	// t.Setenv restaura o valor original ao fim do teste
	t.Setenv("SESSION_SECRET", "")
	os.Unsetenv("SESSION_SECRET")

	var cfg Config
	if err := Load(&cfg); err == nil {
		t.Fatal("expected error without SESSION_SECRET")
	}
}
