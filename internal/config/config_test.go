package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "3003" || cfg.Session.BreakDuration != "3s" || cfg.Session.Retention != "1h" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Session.IdleTimeout != "1h" || cfg.Redis.TTL != "24h" {
		t.Fatalf("unexpected lifecycle defaults %+v %+v", cfg.Session, cfg.Redis)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
server:
  port: "9000"
  allowedOrigins: ["https://app.example.com"]
session:
  breakDuration: "5s"
redis:
  addr: "localhost:6379"
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "4000")
	t.Setenv("FRONTEND_URL", "https://a.example.com,https://b.example.com")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "4000" {
		t.Fatalf("env must override file port, got %s", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Session.BreakDuration != "5s" || cfg.Session.Retention != "1h" {
		t.Fatalf("file keys must overlay defaults, got %+v", cfg.Session)
	}
	if cfg.Redis.Addr != "localhost:6379" || !cfg.Log.Pretty {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty should fall back, got %v", got)
	}
	if got := TTLDuration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("invalid should fall back, got %v", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
}
