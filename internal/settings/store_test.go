package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMissingFile(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "settings.json"))

	if got := s.GetInt(KeyAPIPort, DefaultAPIPort); got != DefaultAPIPort {
		t.Errorf("GetInt(apiPort) = %d, want default %d", got, DefaultAPIPort)
	}
	if got := s.GetString(KeyDefaultPrinter, ""); got != "" {
		t.Errorf("GetString(defaultPrinter) = %q, want empty", got)
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s := Open(path)
	if err := s.Set(KeyDefaultPrinter, "Office_Laser"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(KeyMaxRetries, 5); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reloaded := Open(path)
	if got := reloaded.GetString(KeyDefaultPrinter, ""); got != "Office_Laser" {
		t.Errorf("reloaded defaultPrinter = %q, want Office_Laser", got)
	}
	if got := reloaded.GetInt(KeyMaxRetries, 0); got != 5 {
		t.Errorf("reloaded maxRetries = %d, want 5", got)
	}
}

func TestUnknownKeysPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	seed := []byte(`{"windowBounds": {"w": 800, "h": 600}, "apiPort": 4000}`)
	if err := os.WriteFile(path, seed, 0644); err != nil {
		t.Fatal(err)
	}

	s := Open(path)
	if err := s.Set(KeyDefaultPrinter, "X"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("rewritten settings are not valid JSON: %v", err)
	}
	if _, ok := m["windowBounds"]; !ok {
		t.Error("unknown key windowBounds dropped on rewrite")
	}
	if m["apiPort"] != float64(4000) {
		t.Errorf("apiPort = %v, want 4000", m["apiPort"])
	}
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := Open(path)
	if got := s.GetInt(KeyMaxQueueSize, DefaultMaxQueueSize); got != DefaultMaxQueueSize {
		t.Errorf("GetInt on corrupt store = %d, want default", got)
	}
}

func TestTypedGetters(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "settings.json"))
	s.Set("flag", true)
	s.Set("num", 42)
	s.Set(KeyRetryDelay, 1500)

	if !s.GetBool("flag", false) {
		t.Error("GetBool(flag) = false")
	}
	if got := s.GetBool("num", false); got {
		t.Error("GetBool on non-bool returned true")
	}
	if got := s.GetDurationMs(KeyRetryDelay, time.Second); got != 1500*time.Millisecond {
		t.Errorf("GetDurationMs = %v, want 1.5s", got)
	}
	if got := s.GetDurationMs("absent", 2*time.Second); got != 2*time.Second {
		t.Errorf("GetDurationMs default = %v, want 2s", got)
	}
}

func TestSetCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "settings.json")
	s := Open(path)
	if err := s.Set(KeyAPIPort, 3100); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("settings file not created: %v", err)
	}
}
