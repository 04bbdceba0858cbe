// Configuration management with layered loading and validation
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/vishnu0414/email-attachment-download/internal/utils"
)

// Config represents complete application configuration.
type Config struct {
	Gmail    GmailConfig    `mapstructure:"gmail"`
	Download DownloadConfig `mapstructure:"download"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type GmailConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	UserID          string        `mapstructure:"user_id"`
	PageSize        int64         `mapstructure:"page_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	TokenMargin     time.Duration `mapstructure:"token_margin"`
}

type DownloadConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

type StorageConfig struct {
	Database string `mapstructure:"database"`
}

// Manager handles config loading with a file -> defaults fallback chain.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Load reads configuration from path, falling back to the common search
// locations and finally to defaults when no file exists.
func (m *Manager) Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("gmail.credentials_file", "config/credentials.json")
	v.SetDefault("gmail.page_size", 100)
	v.SetDefault("gmail.max_attempts", 4)
	v.SetDefault("gmail.base_backoff", 500*time.Millisecond)
	v.SetDefault("gmail.max_backoff", 8*time.Second)
	v.SetDefault("gmail.call_timeout", 30*time.Second)
	v.SetDefault("gmail.token_margin", time.Minute)
	v.SetDefault("download.base_dir", "./downloads")
	v.SetDefault("download.max_concurrent", 5)
	v.SetDefault("storage.database", "attachments.db")

	if path == "" {
		path = m.findConfig()
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Gmail.PageSize <= 0 || cfg.Gmail.PageSize > 500 {
		return nil, fmt.Errorf("gmail.page_size must be in 1..500, got %d", cfg.Gmail.PageSize)
	}
	if cfg.Download.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("download.max_concurrent must be positive, got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Gmail.UserID != "" && !utils.IsValidEmail(cfg.Gmail.UserID) {
		return nil, fmt.Errorf("gmail.user_id %q is not a valid email address", cfg.Gmail.UserID)
	}

	return cfg, nil
}

// Default returns production-ready defaults.
func Default() *Config {
	return &Config{
		Gmail: GmailConfig{
			CredentialsFile: "config/credentials.json",
			PageSize:        100,
			MaxAttempts:     4,
			BaseBackoff:     500 * time.Millisecond,
			MaxBackoff:      8 * time.Second,
			CallTimeout:     30 * time.Second,
			TokenMargin:     time.Minute,
		},
		Download: DownloadConfig{
			BaseDir:       "./downloads",
			MaxConcurrent: 5,
		},
		Storage: StorageConfig{
			Database: "attachments.db",
		},
	}
}

// findConfig searches common locations for config files.
func (m *Manager) findConfig() string {
	candidates := []string{"config.yaml", "config/config.yaml"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
