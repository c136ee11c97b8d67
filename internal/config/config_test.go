package config

import (
	"testing"
)

// setRequired sets the values without which Load fails.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.StoreBackend != "postgres" {
		t.Errorf("StoreBackend = %q, want postgres", cfg.StoreBackend)
	}
	if cfg.IsDevelopment() {
		t.Error("default env reads as development")
	}
}

func TestLoad_MissingTokenSecret(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted an empty TOKEN_SECRET")
	}
}

func TestLoad_ShortTokenSecret(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted a short TOKEN_SECRET")
	}
}

func TestLoad_InvalidStoreBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted an unknown STORE_BACKEND")
	}
}

func TestLoad_BadInt(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted an unparsable SERVER_PORT")
	}
}

func TestLoad_MemoryBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "memory")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
}
