package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  public_base_url: https://hooks.example.com
database:
  url: file:draftr.db
jwt:
  secret: s3cret
vault:
  key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
workflows:
  lock_ttl: 120s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Workflows.LockTTL != 120*time.Second {
		t.Errorf("lock ttl = %v, want 120s", cfg.Workflows.LockTTL)
	}
	if cfg.Workflows.ProgressTTL != 300*time.Second {
		t.Errorf("progress ttl default = %v, want 300s", cfg.Workflows.ProgressTTL)
	}
	if cfg.WebhookLogs.BaseRetention != 7*24*time.Hour {
		t.Errorf("base retention default = %v", cfg.WebhookLogs.BaseRetention)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	path := writeConfig(t, `
database:
  url: file:draftr.db
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing jwt secret")
	}
}
