package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Printing PrintingConfig `yaml:"printing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	SettingsPath string `yaml:"settings_path"`
	ArchivePath  string `yaml:"archive_path"`
	HistorySize  int    `yaml:"history_size"`
}

type PrintingConfig struct {
	EnumerateTimeout time.Duration `yaml:"enumerate_timeout"`
	PrintTimeout     time.Duration `yaml:"print_timeout"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	dataDir := userDataDir()

	return &Config{
		Server: ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			SettingsPath: filepath.Join(dataDir, "settings.json"),
			ArchivePath:  filepath.Join(dataDir, "history.db"),
			HistorySize:  200,
		},
		Printing: PrintingConfig{
			EnumerateTimeout: 5 * time.Second,
			PrintTimeout:     30 * time.Second,
			DownloadTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func userDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "cleverprinting-agent")
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()

	if v := os.Getenv("AGENT_SETTINGS_PATH"); v != "" {
		cfg.Storage.SettingsPath = v
	}

	if v := os.Getenv("AGENT_ARCHIVE_PATH"); v != "" {
		cfg.Storage.ArchivePath = v
	}

	if v := os.Getenv("AGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Storage.SettingsPath == "" {
		return fmt.Errorf("settings path is required")
	}

	if c.Storage.HistorySize < 1 {
		return fmt.Errorf("history size must be at least 1")
	}

	if c.Printing.EnumerateTimeout <= 0 {
		return fmt.Errorf("enumerate timeout must be positive")
	}

	if c.Printing.PrintTimeout <= 0 {
		return fmt.Errorf("print timeout must be positive")
	}

	if c.Printing.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
