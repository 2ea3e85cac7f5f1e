package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != Default().Gateway.Port {
		t.Fatalf("expected default port, got %d", cfg.Gateway.Port)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// trailing comma and comments are fine
		gateway: { port: 9999, },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Gateway.Port)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{gateway:{port:1111}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SREORCH_GATEWAY_PORT", "2222")
	t.Setenv("SREORCH_TOKENVAULT_SIGNING_KEY", "super-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 2222 {
		t.Fatalf("expected env override 2222, got %d", cfg.Gateway.Port)
	}
	if cfg.TokenVault.SigningKey != "super-secret" {
		t.Fatalf("expected signing key from env, got %q", cfg.TokenVault.SigningKey)
	}
}

func TestSaveNeverWritesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	cfg := Default()
	cfg.TokenVault.SigningKey = "should-not-be-persisted"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "should-not-be-persisted") {
		t.Fatal("secret field leaked into saved config file")
	}
}

func TestHashStableAcrossEqualConfigs(t *testing.T) {
	a, b := Default(), Default()
	ha, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("expected equal hashes, got %s vs %s", ha, hb)
	}
}
