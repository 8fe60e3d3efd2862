// Package config loads cve-sync configuration from an INI file and
// CVESYNC_* environment variables.
//
// Precedence (lowest to highest): defaults < file < environment. A key
// section.name maps to CVESYNC_SECTION_NAME, e.g. CVESYNC_NVD_APIKEY.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/encoding/ini"
	"github.com/spf13/viper"

	"github.com/Sternrassler/cve-sync/pkg/client"
	"github.com/Sternrassler/cve-sync/pkg/logging"
	"github.com/Sternrassler/cve-sync/pkg/pagination"
	"github.com/Sternrassler/cve-sync/pkg/ratelimit"
	"github.com/Sternrassler/cve-sync/pkg/syncer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CVESYNC"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store drivers and checkpoint backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	CheckpointStore = "store"
	CheckpointRedis = "redis"
)

// Config is the complete cve-sync configuration.
type Config struct {
	NVD     NVDConfig     `mapstructure:"nvd"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// NVDConfig configures the source API. Durations are in seconds.
type NVDConfig struct {
	URL             string `mapstructure:"url"`
	APIKey          string `mapstructure:"apikey"`
	PublicRateLimit int    `mapstructure:"public_rate_limit"`
	APIKeyRateLimit int    `mapstructure:"apikey_rate_limit"`
	RollingWindow   int    `mapstructure:"rolling_window"`
	RetryLimit      int    `mapstructure:"retry_limit"`
	RetryDelay      int    `mapstructure:"retry_delay"`
	ResultsPerPage  int    `mapstructure:"results_per_page"`
	MaxThreads      int    `mapstructure:"max_threads"`
	Timeout         int    `mapstructure:"timeout"`
	EnvelopeKey     string `mapstructure:"envelope_key"`
	SaveData        bool   `mapstructure:"save_data"`
	DataDir         string `mapstructure:"data_dir"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver            string `mapstructure:"driver"`
	DSN               string `mapstructure:"dsn"`
	Collection        string `mapstructure:"collection"`
	IDField           string `mapstructure:"id_field"`
	CheckpointBackend string `mapstructure:"checkpoint_backend"`
	Strict            bool   `mapstructure:"strict"`
	SourceName        string `mapstructure:"source_name"`
}

// RedisConfig is used when checkpoints live in Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("nvd.url", client.DefaultBaseURL)
	v.SetDefault("nvd.apikey", "")
	v.SetDefault("nvd.public_rate_limit", ratelimit.PublicMaxCalls)
	v.SetDefault("nvd.apikey_rate_limit", ratelimit.KeyedMaxCalls)
	v.SetDefault("nvd.rolling_window", int(ratelimit.DefaultWindow/time.Second))
	v.SetDefault("nvd.retry_limit", 3)
	v.SetDefault("nvd.retry_delay", 10)
	v.SetDefault("nvd.results_per_page", 2000) // NVD maximum
	v.SetDefault("nvd.max_threads", 10)
	v.SetDefault("nvd.timeout", 60)
	v.SetDefault("nvd.envelope_key", "cve")
	v.SetDefault("nvd.save_data", false)
	v.SetDefault("nvd.data_dir", "data")

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "cve-sync.sqlite")
	v.SetDefault("store.collection", "cves")
	v.SetDefault("store.id_field", "id")
	v.SetDefault("store.checkpoint_backend", CheckpointStore)
	v.SetDefault("store.strict", false)
	v.SetDefault("store.source_name", "nvd")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", "")
}

// NewViper returns a viper instance with defaults and environment binding.
// The INI codec is registered explicitly; viper no longer ships one.
func NewViper() *viper.Viper {
	codecs := viper.NewCodecRegistry()
	if err := codecs.RegisterCodec("ini", ini.Codec{}); err != nil {
		panic(err)
	}
	v := viper.NewWithOptions(viper.WithCodecRegistry(codecs))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Default returns the configuration built from defaults and environment.
func Default() (*Config, error) {
	return LoadWithViper(NewViper())
}

// Load reads the INI file at path (optional when empty) and applies
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("ini")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithViper unmarshals configuration from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.NVD.URL != "", "nvd.url is required")
	check(c.NVD.PublicRateLimit > 0, "nvd.public_rate_limit must be > 0 (got %d)", c.NVD.PublicRateLimit)
	check(c.NVD.APIKeyRateLimit > 0, "nvd.apikey_rate_limit must be > 0 (got %d)", c.NVD.APIKeyRateLimit)
	check(c.NVD.RollingWindow > 0, "nvd.rolling_window must be > 0 (got %d)", c.NVD.RollingWindow)
	check(c.NVD.RetryLimit >= 0, "nvd.retry_limit must be >= 0 (got %d)", c.NVD.RetryLimit)
	check(c.NVD.RetryDelay >= 0, "nvd.retry_delay must be >= 0 (got %d)", c.NVD.RetryDelay)
	check(c.NVD.ResultsPerPage > 0 && c.NVD.ResultsPerPage <= 2000,
		"nvd.results_per_page must be in 1..2000 (got %d)", c.NVD.ResultsPerPage)
	check(c.NVD.MaxThreads > 0, "nvd.max_threads must be > 0 (got %d)", c.NVD.MaxThreads)
	check(c.NVD.Timeout > 0, "nvd.timeout must be > 0 (got %d)", c.NVD.Timeout)
	check(!c.NVD.SaveData || c.NVD.DataDir != "", "nvd.data_dir is required when nvd.save_data is set")

	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
		check(c.Store.DSN != "", "store.dsn is required for driver %q", c.Store.Driver)
	case DriverMemory:
	default:
		check(false, "store.driver must be one of postgres, sqlite, memory (got %q)", c.Store.Driver)
	}
	check(c.Store.Collection != "", "store.collection is required")
	check(c.Store.IDField != "", "store.id_field is required")
	check(c.Store.SourceName != "", "store.source_name is required")

	switch c.Store.CheckpointBackend {
	case CheckpointStore:
	case CheckpointRedis:
		check(c.Redis.Addr != "", "redis.addr is required when store.checkpoint_backend is redis")
	default:
		check(false, "store.checkpoint_backend must be store or redis (got %q)", c.Store.CheckpointBackend)
	}

	_, err := logging.ParseLevel(c.Log.Level)
	check(err == nil, "log.level: %v", err)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// HasAPIKey reports whether a credential is configured.
func (c *Config) HasAPIKey() bool {
	return c.NVD.APIKey != ""
}

// RateLimitProfile selects the keyed or public profile.
func (c *Config) RateLimitProfile() ratelimit.Profile {
	window := time.Duration(c.NVD.RollingWindow) * time.Second
	return ratelimit.SelectProfile(
		ratelimit.Profile{MaxCalls: c.NVD.PublicRateLimit, Window: window},
		ratelimit.Profile{MaxCalls: c.NVD.APIKeyRateLimit, Window: window},
		c.HasAPIKey(),
	)
}

// ClientConfig returns the fetch client configuration.
func (c *Config) ClientConfig(userAgent string) client.Config {
	cfg := client.DefaultConfig()
	cfg.BaseURL = c.NVD.URL
	cfg.APIKey = c.NVD.APIKey
	cfg.EnvelopeKey = c.NVD.EnvelopeKey
	cfg.Timeout = time.Duration(c.NVD.Timeout) * time.Second
	cfg.RetryLimit = c.NVD.RetryLimit
	cfg.RetryDelay = time.Duration(c.NVD.RetryDelay) * time.Second
	if userAgent != "" {
		cfg.UserAgent = userAgent
	}
	return cfg
}

// PaginationConfig returns the paginator configuration.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{MaxConcurrency: c.NVD.MaxThreads}
}

// SyncerConfig returns the orchestrator configuration.
func (c *Config) SyncerConfig() syncer.Config {
	cfg := syncer.DefaultConfig()
	cfg.SourceName = c.Store.SourceName
	cfg.Collection = c.Store.Collection
	cfg.IDField = c.Store.IDField
	cfg.ResultsPerPage = c.NVD.ResultsPerPage
	cfg.Strict = c.Store.Strict
	if c.NVD.SaveData {
		cfg.SnapshotDir = c.NVD.DataDir
	}
	return cfg
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}
