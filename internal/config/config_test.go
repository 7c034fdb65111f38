package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Printing.PrintTimeout != 30*time.Second {
		t.Errorf("print timeout = %v, want 30s", cfg.Printing.PrintTimeout)
	}
	if cfg.Printing.EnumerateTimeout != 5*time.Second {
		t.Errorf("enumerate timeout = %v, want 5s", cfg.Printing.EnumerateTimeout)
	}
	if cfg.Storage.HistorySize != 200 {
		t.Errorf("history size = %d, want 200", cfg.Storage.HistorySize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
storage:
  settings_path: /var/lib/agent/settings.json
  history_size: 50
printing:
  print_timeout: 45s
logging:
  level: debug
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.SettingsPath != "/var/lib/agent/settings.json" {
		t.Errorf("settings path = %q", cfg.Storage.SettingsPath)
	}
	if cfg.Storage.HistorySize != 50 {
		t.Errorf("history size = %d, want 50", cfg.Storage.HistorySize)
	}
	if cfg.Printing.PrintTimeout != 45*time.Second {
		t.Errorf("print timeout = %v, want 45s", cfg.Printing.PrintTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Printing.DownloadTimeout != 30*time.Second {
		t.Errorf("download timeout = %v, want default 30s", cfg.Printing.DownloadTimeout)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage: ["), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded on malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"empty settings path", func(c *Config) { c.Storage.SettingsPath = "" }, true},
		{"zero history size", func(c *Config) { c.Storage.HistorySize = 0 }, true},
		{"zero print timeout", func(c *Config) { c.Printing.PrintTimeout = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
