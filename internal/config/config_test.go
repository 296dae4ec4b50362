package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8317" {
		t.Errorf("expected :8317, got %s", cfg.Listen)
	}
	if cfg.Database.DSN == "" {
		t.Error("expected a default database DSN")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected info level, got %s", cfg.Log.Level)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_PAY_SECRET", "s3cret")

	content := `
listen: ":9090"
database:
  dsn: "postgres://app@localhost/chatledger"
redis:
  addr: "localhost:6379"
  db: 2
payment:
  merchant_id: "1001"
  secret: ${TEST_PAY_SECRET}
llm:
  base_url: "https://api.example.com/v1"
  chat_model: "gpt-4o-mini"
  embed_model: "text-embedding-3-small"
summary:
  model_id: "gpt-4o-mini"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Payment.Secret != "s3cret" {
		t.Errorf("env var not expanded: got %s", cfg.Payment.Secret)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("expected redis db 2, got %d", cfg.Redis.DB)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level, got %s", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
