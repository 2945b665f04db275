package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("expected memory store by default, got %q", cfg.StoreDriver)
	}
	if cfg.PresenceWindow != 120*time.Second {
		t.Fatalf("expected 120s presence window, got %v", cfg.PresenceWindow)
	}
	if cfg.FaceThreshold != 0.5 {
		t.Fatalf("expected face threshold 0.5, got %v", cfg.FaceThreshold)
	}
	if cfg.SMTP.Enabled() || cfg.S3.Enabled() {
		t.Fatalf("expected mail and uploads disabled by default")
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_PortOverride(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "PORT": "1234"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	cases := map[string]mapEnv{
		"port":      {"MASTER_SECRET": "x", "PORT": "0"},
		"threshold": {"MASTER_SECRET": "x", "FACE_THRESHOLD": "abc"},
		"presence":  {"MASTER_SECRET": "x", "PRESENCE_WINDOW_SECONDS": "-3"},
		"driver":    {"MASTER_SECRET": "x", "STORE_DRIVER": "mongo"},
		"dsn":       {"MASTER_SECRET": "x", "STORE_DRIVER": "postgres"},
		"bootstrap": {"MASTER_SECRET": "x", "BOOTSTRAP_ADMIN_EMAIL": "a@b.c"},
	}
	for name, env := range cases {
		if _, err := LoadConfigFromEnv(env); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadConfigFromEnv_FileOverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servchat.yaml")
	body := `
masterSecret: from-file
port: 4000
storeDriver: postgres
databaseDsn: postgres://localhost/servchat
presenceWindowSeconds: 90
smtp:
  host: smtp.example.com
  from: portal@example.com
s3:
  bucket: avatars
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfigFromEnv(mapEnv{"CONFIG_FILE": path, "PORT": "5000"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.MasterSecret != "from-file" {
		t.Fatalf("expected secret from file, got %q", cfg.MasterSecret)
	}
	if cfg.Port != 5000 {
		t.Fatalf("expected env to win over file, got %d", cfg.Port)
	}
	if cfg.StoreDriver != DriverPostgres || cfg.DatabaseDSN == "" {
		t.Fatalf("expected postgres store from file, got %q %q", cfg.StoreDriver, cfg.DatabaseDSN)
	}
	if cfg.PresenceWindow != 90*time.Second {
		t.Fatalf("expected 90s window, got %v", cfg.PresenceWindow)
	}
	if !cfg.SMTP.Enabled() || cfg.SMTP.Port != 587 {
		t.Fatalf("expected smtp enabled on default port, got %+v", cfg.SMTP)
	}
	if !cfg.S3.Enabled() {
		t.Fatalf("expected uploads enabled")
	}
}

func TestLoadConfigFromEnv_MissingFile(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "CONFIG_FILE": filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatalf("expected error")
	}
}
