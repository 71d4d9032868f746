package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAppConfig(t *testing.T) {
	cfg := DefaultAppConfig()
	if cfg.Web.Port != 3000 {
		t.Errorf("Web.Port = %d, want 3000", cfg.Web.Port)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want sqlite", cfg.Database.Type)
	}
	if got, want := cfg.GetSessionDir(), filepath.Join("var", "data", "sessions"); filepath.Clean(got) != want {
		t.Errorf("GetSessionDir() = %q, want %q", got, want)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "whatshttp.yml")
	data := []byte(`
system:
  workdir: /srv/whatshttp
web:
  port: 8080
database:
  type: bolt
whatsapp:
  session_dir: /srv/sessions
  orphan_ttl: 5m
webhook:
  timeout: 3s
`)
	if err := os.WriteFile(cfile, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(cfile)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Database.Type != "bolt" {
		t.Errorf("Database.Type = %q, want bolt", cfg.Database.Type)
	}
	if cfg.GetSessionDir() != "/srv/sessions" {
		t.Errorf("GetSessionDir() = %q", cfg.GetSessionDir())
	}
	if cfg.Whatsapp.OrphanTTL != 5*time.Minute {
		t.Errorf("OrphanTTL = %v, want 5m", cfg.Whatsapp.OrphanTTL)
	}
	if cfg.Webhook.Timeout != 3*time.Second {
		t.Errorf("Webhook.Timeout = %v, want 3s", cfg.Webhook.Timeout)
	}
	// untouched sections keep defaults
	if cfg.Webhook.Workers != 64 {
		t.Errorf("Webhook.Workers = %d, want 64", cfg.Webhook.Workers)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("WHATSHTTP_WEB_PORT", "9090")
	t.Setenv("WHATSHTTP_DB_TYPE", "memory")
	t.Setenv("WHATSHTTP_WHATSAPP_TYPING_DELAY", "false")
	t.Setenv("WHATSHTTP_WEBHOOK_TIMEOUT", "250ms")
	t.Setenv("WHATSHTTP_WEBHOOK_WORKERS", "not-a-number")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("Web.Port = %d, want 9090", cfg.Web.Port)
	}
	if cfg.Database.Type != "memory" {
		t.Errorf("Database.Type = %q, want memory", cfg.Database.Type)
	}
	if cfg.Whatsapp.TypingDelay {
		t.Error("TypingDelay should be disabled by env")
	}
	if cfg.Webhook.Timeout != 250*time.Millisecond {
		t.Errorf("Webhook.Timeout = %v, want 250ms", cfg.Webhook.Timeout)
	}
	if cfg.Webhook.Workers != 64 {
		t.Errorf("invalid env value should be ignored, Workers = %d", cfg.Webhook.Workers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
