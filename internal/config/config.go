package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArchiveConfig holds the optional ClickHouse mirror settings.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ExportConfig holds the optional NATS flush-batch feed settings.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Config is the top-level configuration struct for the daemon.
type Config struct {
	// Interfaces the accounting tool should watch. Empty means all.
	Interfaces []string `yaml:"interfaces"`

	// ToolCommand is the traffic-accounting subprocess to run.
	ToolCommand string `yaml:"tool_command"`

	// RefreshSec is the refresh interval the tool is launched with. The
	// rate-to-bytes conversion depends on this exact value: the tool reports
	// only rates, so a mismatch scales every byte count by a constant factor.
	RefreshSec int `yaml:"refresh_sec"`

	FlushIntervalSec int    `yaml:"flush_interval_sec"`
	RetentionDays    int    `yaml:"retention_days"`
	DatabasePath     string `yaml:"database_path"`

	// APIListenAddr is the operator API listen address. Empty disables it.
	APIListenAddr string `yaml:"api_listen_addr"`

	WebhookAttempts      int `yaml:"webhook_attempts"`
	WebhookRetryDelaySec int `yaml:"webhook_retry_delay_sec"`

	Archive ArchiveConfig `yaml:"archive"`
	Export  ExportConfig  `yaml:"export"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ToolCommand:          "nethogs",
		RefreshSec:           5,
		FlushIntervalSec:     300,
		RetentionDays:        90,
		DatabasePath:         "/var/lib/nettally/traffic.db",
		APIListenAddr:        ":8642",
		WebhookAttempts:      3,
		WebhookRetryDelaySec: 1,
		Export: ExportConfig{
			Subject: "nettally.flush",
		},
	}
}

// Load reads the configuration from a YAML file. A missing file is not an
// error; defaults apply.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the daemon must not run with. In
// particular a non-positive refresh interval would silently mis-scale every
// converted byte count, so it is fatal here, before any collection starts.
func (c *Config) Validate() error {
	if c.ToolCommand == "" {
		return fmt.Errorf("tool_command must not be empty")
	}
	if c.RefreshSec <= 0 {
		return fmt.Errorf("refresh_sec must be positive, got %d", c.RefreshSec)
	}
	if c.FlushIntervalSec <= 0 {
		return fmt.Errorf("flush_interval_sec must be positive, got %d", c.FlushIntervalSec)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.WebhookAttempts < 1 {
		return fmt.Errorf("webhook_attempts must be at least 1, got %d", c.WebhookAttempts)
	}
	if c.WebhookRetryDelaySec < 0 {
		return fmt.Errorf("webhook_retry_delay_sec must not be negative, got %d", c.WebhookRetryDelaySec)
	}
	if c.Archive.Enabled && c.Archive.Host == "" {
		return fmt.Errorf("archive is enabled but archive.host is empty")
	}
	if c.Export.Enabled && c.Export.URL == "" {
		return fmt.Errorf("export is enabled but export.url is empty")
	}
	return nil
}
