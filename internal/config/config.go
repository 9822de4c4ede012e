package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no explicit config path is given.
const DefaultConfigPath = "config.yaml"

// AppConfig holds process-level inputs.
type AppConfig struct {
	ConfigPath string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds optional redis settings for the billing cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StripeConfig holds external billing system credentials.
type StripeConfig struct {
	APIKey        string `yaml:"api-key"`
	WebhookSecret string `yaml:"webhook-secret"`
}

// LogConfig holds log output settings.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Debug      bool   `yaml:"debug"`
}

// FileConfig is the on-disk YAML configuration.
type FileConfig struct {
	Listen       string           `yaml:"listen"`
	Database     DatabaseConfig   `yaml:"database"`
	Redis        RedisConfig      `yaml:"redis"`
	Stripe       StripeConfig     `yaml:"stripe"`
	FeatureCosts map[string]int64 `yaml:"feature-costs"`
	Log          LogConfig        `yaml:"log"`
	SweepOff     bool             `yaml:"disable-sweep"`
}

// ResolveConfigPath cleans the given path, falling back to the default.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultConfigPath
	}
	return filepath.Clean(trimmed)
}

// Load reads and parses the YAML config file.
func Load(path string) (*FileConfig, error) {
	raw, errRead := os.ReadFile(ResolveConfigPath(path))
	if errRead != nil {
		return nil, fmt.Errorf("config: read: %w", errRead)
	}

	var cfg FileConfig
	if errUnmarshal := yaml.Unmarshal(raw, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse: %w", errUnmarshal)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return &cfg, nil
}

// LoadDatabaseDSN loads only the database DSN from the config file.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, errLoad := Load(path)
	if errLoad != nil {
		return "", errLoad
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return "", fmt.Errorf("config: database.dsn is required")
	}
	return dsn, nil
}
