// Package config loads engine settings from defaults, an optional YAML file
// and RESULTEXPORT_-prefixed environment variables, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/resultexport/internal/retry"
	"github.com/roach88/resultexport/internal/transfer"
)

// EnvPrefix prefixes every environment override, e.g.
// RESULTEXPORT_SOURCE_BASE_URL for source.base_url.
const EnvPrefix = "RESULTEXPORT"

type Config struct {
	Source   Source   `mapstructure:"source"`
	Transfer Transfer `mapstructure:"transfer"`
	Store    Store    `mapstructure:"store"`
	Events   Events   `mapstructure:"events"`
	Retry    Retry    `mapstructure:"retry"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	Server   Server   `mapstructure:"server"`
}

type Source struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Transfer struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseTLS    bool   `mapstructure:"use_tls"`
	Bucket    string `mapstructure:"bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Events struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Retry struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type Dispatch struct {
	// ChunkSize bounds the ids sent in one status update.
	ChunkSize int `mapstructure:"chunk_size"`
	// LookupConcurrency above 1 runs corresponding lookups in parallel.
	LookupConcurrency int `mapstructure:"lookup_concurrency"`
	PageSize          int `mapstructure:"page_size"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "http://localhost:8080/api")
	v.SetDefault("source.token", "")
	v.SetDefault("source.timeout", 30*time.Second)

	v.SetDefault("transfer.endpoint", "localhost:9000")
	v.SetDefault("transfer.access_key", "")
	v.SetDefault("transfer.secret_key", "")
	v.SetDefault("transfer.use_tls", false)
	v.SetDefault("transfer.bucket", "result-exports")
	v.SetDefault("transfer.base_dir", "")

	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "resultexport.db")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "result-export-events")

	v.SetDefault("retry.max_attempts", retry.DefaultPolicy.MaxAttempts)
	v.SetDefault("retry.initial_interval", retry.DefaultPolicy.InitialInterval)
	v.SetDefault("retry.multiplier", retry.DefaultPolicy.Multiplier)
	v.SetDefault("retry.max_interval", retry.DefaultPolicy.MaxInterval)

	v.SetDefault("dispatch.chunk_size", 100)
	v.SetDefault("dispatch.lookup_concurrency", 1)
	v.SetDefault("dispatch.page_size", 500)

	v.SetDefault("server.addr", ":8081")
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

type errList []string

func (e *errList) addf(format string, a ...any) {
	*e = append(*e, fmt.Sprintf(format, a...))
}
func (e *errList) has() bool { return len(*e) > 0 }

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs errList

	if u, err := url.Parse(c.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.addf("source.base_url must be an absolute URL: %q", c.Source.BaseURL)
	}
	if c.Source.Timeout <= 0 {
		errs.addf("source.timeout must be > 0")
	}

	if c.Transfer.Endpoint == "" {
		errs.addf("transfer.endpoint is required")
	}
	if c.Transfer.Bucket == "" {
		errs.addf("transfer.bucket is required")
	}

	switch c.Store.Driver {
	case "sqlite3", "postgres":
	default:
		errs.addf("store.driver must be sqlite3 or postgres: %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		errs.addf("store.dsn is required")
	}

	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			errs.addf("events.brokers is required when events are enabled")
		}
		if c.Events.Topic == "" {
			errs.addf("events.topic is required when events are enabled")
		}
	}

	if c.Retry.MaxAttempts < 1 {
		errs.addf("retry.max_attempts must be >= 1")
	}
	if c.Retry.Multiplier < 1 {
		errs.addf("retry.multiplier must be >= 1")
	}

	if c.Dispatch.ChunkSize < 1 {
		errs.addf("dispatch.chunk_size must be >= 1")
	}
	if c.Dispatch.LookupConcurrency < 1 {
		errs.addf("dispatch.lookup_concurrency must be >= 1")
	}
	if c.Dispatch.PageSize < 0 {
		errs.addf("dispatch.page_size must not be negative")
	}

	if errs.has() {
		return errors.New("invalid configuration: " + strings.Join(errs, "; "))
	}
	return nil
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		Multiplier:      c.Retry.Multiplier,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// MinIO returns the transfer client settings.
func (c *Config) MinIO() transfer.MinIOConfig {
	return transfer.MinIOConfig{
		Endpoint:  c.Transfer.Endpoint,
		AccessKey: c.Transfer.AccessKey,
		SecretKey: c.Transfer.SecretKey,
		UseTLS:    c.Transfer.UseTLS,
		Bucket:    c.Transfer.Bucket,
		BaseDir:   c.Transfer.BaseDir,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf(`
Source:
  BaseURL:  %s
  Token:    %s
  Timeout:  %s

Transfer:
  Endpoint:  %s
  AccessKey: %s
  SecretKey: %s
  UseTLS:    %t
  Bucket:    %s
  BaseDir:   %s

Store:
  Driver: %s
  DSN:    %s

Events:
  Enabled: %t
  Brokers: %v
  Topic:   %s

Retry:
  MaxAttempts:     %d
  InitialInterval: %s
  Multiplier:      %g
  MaxInterval:     %s

Dispatch:
  ChunkSize:         %d
  LookupConcurrency: %d
  PageSize:          %d

Server:
  Addr: %s
`, c.Source.BaseURL, mask(c.Source.Token), c.Source.Timeout,
		c.Transfer.Endpoint, c.Transfer.AccessKey, mask(c.Transfer.SecretKey), c.Transfer.UseTLS, c.Transfer.Bucket, c.Transfer.BaseDir,
		c.Store.Driver, maskDSN(c.Store.DSN),
		c.Events.Enabled, c.Events.Brokers, c.Events.Topic,
		c.Retry.MaxAttempts, c.Retry.InitialInterval, c.Retry.Multiplier, c.Retry.MaxInterval,
		c.Dispatch.ChunkSize, c.Dispatch.LookupConcurrency, c.Dispatch.PageSize,
		c.Server.Addr)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// maskDSN hides a password in URL-form DSNs.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
