// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sources SourcesConfig `mapstructure:"sources"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int    `mapstructure:"max_conns"`
	MinConns     int    `mapstructure:"min_conns"`
	ConnLifetime string `mapstructure:"conn_lifetime"`
}

// HTTPConfig configures the shared transport client.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
	AcceptLanguage   string `mapstructure:"accept_language"`
}

// Timeout converts the configured timeout into a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial backoff into a duration.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the backoff ceiling into a duration.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// CrawlConfig governs orchestration behavior.
type CrawlConfig struct {
	// SourcePauseSeconds is the fixed pause inserted between sources so we
	// stay a considerate client to shared-hosting targets.
	SourcePauseSeconds int `mapstructure:"source_pause_seconds"`

	// Schedule is a cron expression for the timed trigger; empty disables it.
	Schedule string `mapstructure:"schedule"`

	// CacheDir holds downloaded helper datasets; empty disables caching.
	CacheDir string `mapstructure:"cache_dir"`
}

// SourcePause converts the inter-source pause into a duration.
func (c CrawlConfig) SourcePause() time.Duration {
	return time.Duration(c.SourcePauseSeconds) * time.Second
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourcesConfig holds the per-source search settings overrides. Each entry
// is merged field-by-field over the source's defaults at crawl time.
type SourcesConfig struct {
	TED  TEDSettings  `mapstructure:"ted"`
	UNGM UNGMSettings `mapstructure:"ungm"`
	SAM  SAMSettings  `mapstructure:"sam"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TENDERCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvKeys(v)

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
	v.SetDefault("db.table", "tenders")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("crawl.source_pause_seconds", 5)
	v.SetDefault("crawl.schedule", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("sources.sam.api_key_env", "SAM_API_KEY")
}

// bindEnvKeys registers every key that carries no default. Viper resolves
// environment variables only for keys it already knows about, so without
// an explicit binding an env-only deployment would silently lose these.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"db.dsn",
		"db.min_conns",
		"db.conn_lifetime",
		"http.user_agent",
		"http.accept_language",
		"crawl.cache_dir",
		"sources.ted.query",
		"sources.ted.date_from",
		"sources.ted.date_to",
		"sources.ted.lookback_days",
		"sources.ted.countries",
		"sources.ted.cpv_prefixes",
		"sources.ted.keywords",
		"sources.ted.form_types",
		"sources.ted.fields",
		"sources.ted.limit",
		"sources.ted.sort_field",
		"sources.ted.sort_order",
		"sources.ted.mode",
		"sources.ted.page",
		"sources.ungm.keywords",
		"sources.ungm.page_size",
		"sources.ungm.lookback_days",
		"sources.sam.keywords",
		"sources.sam.notice_type",
		"sources.sam.set_aside",
		"sources.sam.naics",
		"sources.sam.sort",
		"sources.sam.limit",
		"sources.sam.max_pages",
		"sources.sam.lookback_days",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Crawl.SourcePauseSeconds < 0 {
		return fmt.Errorf("crawl.source_pause_seconds must be >= 0")
	}
	if mode := c.Sources.TED.Mode; mode != "" && mode != "page" && mode != "iteration" {
		return fmt.Errorf("sources.ted.mode must be \"page\" or \"iteration\"")
	}
	return nil
}
