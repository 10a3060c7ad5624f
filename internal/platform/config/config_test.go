package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `
session:
  secret: s3cret
oidc:
  issuer: https://login.example.com
  client_id: client
pay:
  base_url: https://pay.example.com
  api_key: key
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pay.FeeAmount != 100 {
		t.Errorf("Expected fee 100, got %d", cfg.Pay.FeeAmount)
	}
	if cfg.StepUp.AcceptSuitMaxAge != 300*time.Second {
		t.Errorf("Expected 300s accept max age, got %s", cfg.StepUp.AcceptSuitMaxAge)
	}
	if cfg.Session.Store != "memory" {
		t.Errorf("Expected memory session store, got %s", cfg.Session.Store)
	}
	if cfg.Notify.Enabled() {
		t.Error("Expected notify to be disabled without base_url")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PAY_API_KEY", "from-env")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pay.APIKey != "from-env" {
		t.Errorf("Expected env override, got %s", cfg.Pay.APIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err == nil {
		t.Fatal("Expected validation error")
	}
}
