package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for toolgate.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Trust       TrustConfig       `json:"trust"`
	Workflow    WorkflowConfig    `json:"workflow"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Metrics     MetricsConfig     `json:"metrics"`
	API         APIConfig         `json:"api"`
	Audit       AuditConfig       `json:"audit"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"` // debug | info | warn | error
	LogFile   string `json:"logFile,omitempty"`
}

// TrustConfig declares the a-priori tool classification and startup policy.
type TrustConfig struct {
	SafeTools        []string `json:"safeTools"`
	DestructiveTools []string `json:"destructiveTools"`
	VerifyOnStartup  bool     `json:"verifyOnStartup"`
}

type WorkflowConfig struct {
	MaxConcurrency    int     `json:"maxConcurrency"`
	FailFast          bool    `json:"failFast"`
	DefaultMaxRetries int     `json:"defaultMaxRetries"`
	RetryDelaySeconds float64 `json:"retryDelaySeconds"`
}

type MaintenanceConfig struct {
	Tasks []MaintenanceTask `json:"tasks,omitempty"`
}

// MaintenanceTask configures one recurring task. IntervalSeconds and Cron
// are mutually exclusive.
type MaintenanceTask struct {
	Name            string `json:"name"`
	IntervalSeconds int    `json:"intervalSeconds,omitempty"`
	Cron            string `json:"cron,omitempty"`
	RunOnStartup    bool   `json:"runOnStartup,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	APIKey  string `json:"apiKey,omitempty"`
}

type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// DefaultConfigDir returns ~/.toolgate.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolgate"
	}
	return filepath.Join(home, ".toolgate")
}

// DefaultConfigPath returns ~/.toolgate/config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file, applying defaults for missing sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expandPaths()
	return cfg, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// expandPaths resolves ~ prefixes in path-valued fields.
func (c *Config) expandPaths() {
	c.General.Workspace = expandHome(c.General.Workspace)
	c.General.LogFile = expandHome(c.General.LogFile)
	c.Audit.DBPath = expandHome(c.Audit.DBPath)
}

func expandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
