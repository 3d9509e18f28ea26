// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/project-aether/crawler/internal/audit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	RequestTimeout  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig holds the default crawl knobs applied when a submission
// omits a value.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	MaxDepth          int    `mapstructure:"max_depth"`
	MaxPages          int    `mapstructure:"max_pages"`
	Concurrency       int    `mapstructure:"concurrency"`
	FetchTimeoutMs    int    `mapstructure:"fetch_timeout_ms"`
	PolitenessDelayMs int    `mapstructure:"politeness_delay_ms"`
	MaxRetries        int    `mapstructure:"max_retries"`
	SlowResponseMs    int    `mapstructure:"slow_response_ms"`
	JobDeadlineMin    int    `mapstructure:"job_deadline_minutes"`
}

// RegistryConfig controls job retention and the durable mirror.
type RegistryConfig struct {
	// Mirror selects the durable backend: none, sqlite or postgres.
	Mirror         string `mapstructure:"mirror"`
	SQLiteDir      string `mapstructure:"sqlite_dir"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	RetentionHours int    `mapstructure:"retention_hours"`
	SweepMinutes   int    `mapstructure:"sweep_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. path may be empty, in
// which case only defaults and AETHER_-prefixed env vars apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.user_agent", "aether-audit-bot/1.0")
	v.SetDefault("crawler.max_depth", audit.DefaultMaxDepth)
	v.SetDefault("crawler.max_pages", audit.DefaultMaxPages)
	v.SetDefault("crawler.concurrency", audit.DefaultConcurrency)
	v.SetDefault("crawler.fetch_timeout_ms", 10000)
	v.SetDefault("crawler.politeness_delay_ms", 200)
	v.SetDefault("crawler.max_retries", audit.DefaultMaxRetries)
	v.SetDefault("crawler.slow_response_ms", 3000)
	v.SetDefault("crawler.job_deadline_minutes", 30)
	v.SetDefault("registry.mirror", "none")
	v.SetDefault("registry.sqlite_dir", "data")
	v.SetDefault("registry.retention_hours", 24)
	v.SetDefault("registry.sweep_minutes", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.FetchTimeoutMs <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_ms must be > 0")
	}
	switch c.Registry.Mirror {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("registry.mirror must be none, sqlite or postgres, got %q", c.Registry.Mirror)
	}
	if c.Registry.Mirror == "postgres" && c.Registry.PostgresDSN == "" {
		return fmt.Errorf("registry.postgres_dsn must be set when mirror is postgres")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CrawlDefaults converts the crawler section into the engine's config
// type.
func (c Config) CrawlDefaults() audit.CrawlConfig {
	return audit.CrawlConfig{
		MaxDepth:        c.Crawler.MaxDepth,
		MaxPages:        c.Crawler.MaxPages,
		Concurrency:     c.Crawler.Concurrency,
		FetchTimeout:    time.Duration(c.Crawler.FetchTimeoutMs) * time.Millisecond,
		PolitenessDelay: time.Duration(c.Crawler.PolitenessDelayMs) * time.Millisecond,
		MaxRetries:      c.Crawler.MaxRetries,
		SlowResponse:    time.Duration(c.Crawler.SlowResponseMs) * time.Millisecond,
		JobDeadline:     time.Duration(c.Crawler.JobDeadlineMin) * time.Minute,
	}
}

// Retention converts the registry retention knob to a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Registry.RetentionHours) * time.Hour
}

// SweepInterval converts the registry sweep knob to a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepMinutes) * time.Minute
}
