package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("DCMINI_TEST_STR", "  value ")
	if got := GetEnv("DCMINI_TEST_STR", "x"); got != "value" {
		t.Errorf("GetEnv = %q, want value", got)
	}
	if got := GetEnv("DCMINI_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv unset = %q, want fallback", got)
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("DCMINI_TEST_INT", "42")
	t.Setenv("DCMINI_TEST_BAD_INT", "forty-two")
	t.Setenv("DCMINI_TEST_FLOAT", "0.004")
	t.Setenv("DCMINI_TEST_BOOL", "false")
	t.Setenv("DCMINI_TEST_DUR", "1500ms")

	t.Run("int", func(t *testing.T) {
		if got := GetEnvInt("DCMINI_TEST_INT", 1); got != 42 {
			t.Errorf("got %d", got)
		}
		if got := GetEnvInt("DCMINI_TEST_BAD_INT", 7); got != 7 {
			t.Errorf("invalid int should fall back, got %d", got)
		}
	})
	t.Run("float", func(t *testing.T) {
		if got := GetEnvFloat("DCMINI_TEST_FLOAT", 1); got != 0.004 {
			t.Errorf("got %v", got)
		}
	})
	t.Run("bool", func(t *testing.T) {
		if got := GetEnvBool("DCMINI_TEST_BOOL", true); got {
			t.Error("expected false")
		}
		if got := GetEnvBool("DCMINI_TEST_UNSET", true); !got {
			t.Error("expected fallback true")
		}
	})
	t.Run("duration", func(t *testing.T) {
		if got := GetEnvDuration("DCMINI_TEST_DUR", time.Second); got != 1500*time.Millisecond {
			t.Errorf("got %v", got)
		}
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("DCMINI_TEST_FROM_FILE=250\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("DCMINI_TEST_FROM_FILE") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnvInt("DCMINI_TEST_FROM_FILE", 0); got != 250 {
		t.Errorf("value from file = %d, want 250", got)
	}

	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
