package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 3001 {
		t.Fatalf("expected default port 3001, got %d", cfg.Port)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("expected default ttl 1h, got %s", cfg.SessionTTL)
	}
	if cfg.SaveTimeout != 10*time.Second {
		t.Fatalf("expected default save timeout 10s, got %s", cfg.SaveTimeout)
	}
	if cfg.CORSOrigins() != "*" {
		t.Fatalf("expected wildcard origins, got %q", cfg.CORSOrigins())
	}
	if cfg.R2.Enabled() {
		t.Fatal("expected r2 archive disabled without credentials")
	}
	if cfg.Addr() != ":3001" {
		t.Fatalf("expected :3001, got %q", cfg.Addr())
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("API_URL", "https://api.example.com/")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_ACCESS_KEY_SECRET", "secret")
	t.Setenv("R2_BUCKET_NAME", "matches")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.APIURL != "https://api.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIURL)
	}
	if cfg.CORSOrigins() != "https://a.example,https://b.example" {
		t.Fatalf("expected trimmed origins, got %q", cfg.CORSOrigins())
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", cfg.SessionTTL)
	}
	if !cfg.R2.Enabled() {
		t.Fatal("expected r2 archive enabled")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		expect string
	}{
		{"bad port", "PORT", "not-an-int", "parse env:"},
		{"port out of range", "PORT", "70000", "invalid PORT"},
		{"zero ttl", "SESSION_TTL", "0s", "SESSION_TTL"},
		{"negative timeout", "SAVE_TIMEOUT", "-1s", "SAVE_TIMEOUT"},
		{"zero queue", "LEDGER_QUEUE_SIZE", "0", "LEDGER_QUEUE_SIZE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.expect) {
				t.Fatalf("expected %q in error, got %v", tt.expect, err)
			}
		})
	}
}
