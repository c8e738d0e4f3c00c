package anonchat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/X-Irrelevant-X/AnonChat/audit"
	"github.com/X-Irrelevant-X/AnonChat/docstore"
	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
session_timeout: 15m
kdf: argon2id
store:
  type: filesystem
  config:
    path: /var/lib/anonchat
audit:
  enabled: true
  type: file
  options:
    file_path: /var/log/anonchat/audit.log
`)

	options, storeConfig, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if options.SessionTimeout != 15*time.Minute {
		t.Errorf("Expected 15m timeout, got %v", options.SessionTimeout)
	}
	if options.KDF != crypto.KDFArgon2id {
		t.Errorf("Expected argon2id kdf, got %q", options.KDF)
	}
	if options.Audit == nil || !options.Audit.Enabled || options.Audit.Type != audit.FileAuditType {
		t.Errorf("Audit config not loaded: %+v", options.Audit)
	}
	if storeConfig.Type != docstore.TypeFileSystem {
		t.Errorf("Expected filesystem store, got %q", storeConfig.Type)
	}
	if storeConfig.Config["path"] != "/var/lib/anonchat" {
		t.Errorf("Store path not loaded: %v", storeConfig.Config)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  type: memory
`)

	options, storeConfig, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if options.SessionTimeout != DefaultSessionTimeout {
		t.Errorf("Expected default timeout, got %v", options.SessionTimeout)
	}
	if options.KDF != crypto.KDFSHA256 {
		t.Errorf("Expected default kdf, got %q", options.KDF)
	}
	if options.Audit != nil {
		t.Error("Audit must default to nil")
	}
	if storeConfig.Type != docstore.TypeMemory {
		t.Errorf("Expected memory store, got %q", storeConfig.Type)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	if _, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := writeConfig(t, "kdf: [not a string")
	if _, _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	path = writeConfig(t, "kdf: bcrypt")
	if _, _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for unknown kdf")
	}
}

func TestValidateOptions(t *testing.T) {
	if err := validateOptions(DefaultOptions()); err != nil {
		t.Errorf("Defaults must validate: %v", err)
	}

	bad := DefaultOptions()
	bad.SessionTimeout = 0
	if err := validateOptions(bad); err == nil {
		t.Error("Expected error for zero timeout")
	}

	bad = DefaultOptions()
	bad.KDF = "md5"
	if err := validateOptions(bad); err == nil {
		t.Error("Expected error for unknown kdf")
	}
}
