// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel             string `mapstructure:"LOG_LEVEL"`
	ListenAddr           string `mapstructure:"LISTEN_ADDR"`
	GithubToken          string `mapstructure:"GITHUB_TOKEN"`
	TargetOrgs           string `mapstructure:"TARGET_ORGS"`
	CacheDir             string `mapstructure:"CACHE_DIR"`
	ReportDir            string `mapstructure:"REPORT_DIR"`
	CacheTTLMinutes      int    `mapstructure:"CACHE_TTL_MINUTES"`
	CallTimeoutMs        int    `mapstructure:"CALL_TIMEOUT_MS"`
	SyncBatchSize        int    `mapstructure:"SYNC_BATCH_SIZE"`
	BatchDelayMs         int    `mapstructure:"BATCH_DELAY_MS"`
	RateLimitHourlyQuota int    `mapstructure:"RATE_LIMIT_HOURLY_QUOTA"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("CACHE_DIR", "data/cache")
	viper.SetDefault("REPORT_DIR", "data/reports")
	viper.SetDefault("CACHE_TTL_MINUTES", 60)
	viper.SetDefault("CALL_TIMEOUT_MS", 45000)
	viper.SetDefault("SYNC_BATCH_SIZE", 10)
	viper.SetDefault("BATCH_DELAY_MS", 1000)
	viper.SetDefault("RATE_LIMIT_HOURLY_QUOTA", 5000)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if cfg.SyncBatchSize <= 0 {
		return nil, errors.New("SYNC_BATCH_SIZE must be a positive integer")
	}
	if cfg.CacheTTLMinutes <= 0 {
		return nil, errors.New("CACHE_TTL_MINUTES must be a positive integer")
	}

	return &cfg, nil
}

// Orgs returns the configured target organizations, split and trimmed.
func (c *Config) Orgs() []string {
	if c.TargetOrgs == "" {
		return nil
	}
	var orgs []string
	for _, o := range strings.Split(c.TargetOrgs, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			orgs = append(orgs, o)
		}
	}
	return orgs
}

// CacheTTL returns the cache time-to-live as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// CallTimeout returns the per-call remote timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// BatchDelay returns the pause inserted between full-sync batches.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}
