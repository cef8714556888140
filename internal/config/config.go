// Package config loads service configuration from an optional file and
// WAITLIST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // site.timezone must resolve on minimal images

	"github.com/spf13/viper"
)

// Store modes.
const (
	StoreModeLocal  = "local"
	StoreModeRemote = "remote"
)

// EnvPrefix prefixes every environment override, e.g. WAITLIST_STORE_MODE.
const EnvPrefix = "WAITLIST"

var ErrInvalidStoreMode = errors.New("store.mode must be one of: local, remote")

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
	CSRFKey string `mapstructure:"csrf_key"`
	BaseURL string `mapstructure:"base_url"`
	// SlowRequest is the latency above which a request is logged as slow.
	SlowRequest    time.Duration `mapstructure:"slow_request"`
	TrustedOrigins []string      `mapstructure:"trusted_origins"`
}

// DBConfig configures the sqlite database.
type DBConfig struct {
	Path      string        `mapstructure:"path"`
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

// StoreConfig selects and tunes the waitlist store variant.
type StoreConfig struct {
	Mode         string        `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SeedSamples  bool          `mapstructure:"seed_samples"`
}

// SubmissionConfig tunes the signup pipeline.
type SubmissionConfig struct {
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

// LoggerConfig configures the default slog logger.
type LoggerConfig struct {
	Level     string `mapstructure:"level"`
	JSON      bool   `mapstructure:"json"`
	AddSource bool   `mapstructure:"add_source"`
}

// MailerConfig configures coach notifications. An empty ResendKey disables delivery.
type MailerConfig struct {
	ResendKey string   `mapstructure:"resend_key"`
	From      string   `mapstructure:"from"`
	NotifyTo  []string `mapstructure:"notify_to"`
}

// SiteConfig holds user-facing settings.
type SiteConfig struct {
	CoachName string `mapstructure:"coach_name"`
	Timezone  string `mapstructure:"timezone"`
}

// Config represents the global configuration for the service.
type Config struct {
	Env        string           `mapstructure:"env"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	DB         DBConfig         `mapstructure:"db"`
	Store      StoreConfig      `mapstructure:"store"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Mailer     MailerConfig     `mapstructure:"mailer"`
	Site       SiteConfig       `mapstructure:"site"`
}

var defaults = map[string]any{
	"env":                          "development",
	"http.address":                 ":8080",
	"http.csrf_key":                "",
	"http.base_url":                "",
	"http.slow_request":            "200ms",
	"http.trusted_origins":         []string{},
	"db.path":                      "waitlist.db",
	"db.slow_query":                "50ms",
	"store.mode":                   StoreModeRemote,
	"store.poll_interval":          "2s",
	"store.seed_samples":           false,
	"submission.rate_limit_window": "60s",
	"logger.level":                 "info",
	"logger.json":                  false,
	"logger.add_source":            false,
	"mailer.resend_key":            "",
	"mailer.from":                  "Waitlist <waitlist@example.com>",
	"mailer.notify_to":             []string{},
	"site.coach_name":              "Coach Wong",
	"site.timezone":                "Asia/Kuala_Lumpur",
}

// Load reads cfgFile (optional) and applies WAITLIST_* environment overrides.
// Environment variables take precedence over file values; nested keys use
// underscores, e.g. store.poll_interval -> WAITLIST_STORE_POLL_INTERVAL.
// PRE: none
// POST: returned config passed Validate
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("waitlist")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/waitlist")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Mailer.NotifyTo = splitList(cfg.Mailer.NotifyTo)
	cfg.HTTP.TrustedOrigins = splitList(cfg.HTTP.TrustedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma-separated items and drops blanks.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	c.Store.Mode = strings.ToLower(strings.TrimSpace(c.Store.Mode))
	if c.Store.Mode != StoreModeLocal && c.Store.Mode != StoreModeRemote {
		return ErrInvalidStoreMode
	}
	if c.Submission.RateLimitWindow < 0 {
		return errors.New("submission.rate_limit_window cannot be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("site.timezone: %w", err)
	}
	if _, err := c.Logger.SlogLevel(); err != nil {
		return fmt.Errorf("logger.level: %w", err)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the configured display time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Site.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Site.Timezone)
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// NewLogger builds the service logger writing to w.
func (l LoggerConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: l.AddSource}
	if l.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
