// Package config loads process configuration from an optional YAML file and
// the environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	Graph   GraphConfig   `yaml:"graph"`
	Store   StoreConfig   `yaml:"store"`
	Sync    SyncConfig    `yaml:"sync"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	// TokenURL overrides the tenant's token endpoint.
	TokenURL   string        `yaml:"token_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"`
	// Database names the Mongo database. Empty means the one in the URI path.
	Database string `yaml:"database"`
}

type SyncConfig struct {
	PageDelay          time.Duration `yaml:"page_delay"`
	DefaultRetryAfter  time.Duration `yaml:"default_retry_after"`
	MaxThrottleRetries int           `yaml:"max_throttle_retries"`
	PageSize           int           `yaml:"page_size"`
	Streams            []string      `yaml:"streams"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

func Defaults() *Config {
	return &Config{
		Graph: GraphConfig{
			BaseURL:    "https://graph.microsoft.com/v1.0",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Sync: SyncConfig{
			PageDelay:          time.Second,
			DefaultRetryAfter:  5 * time.Second,
			MaxThrottleRetries: 5,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path when it is non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}
	env.str("GRAPH_TENANT_ID", &c.Graph.TenantID)
	env.str("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	env.str("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	env.str("GRAPHSYNC_GRAPH_BASE_URL", &c.Graph.BaseURL)
	env.str("GRAPHSYNC_GRAPH_TOKEN_URL", &c.Graph.TokenURL)
	env.duration("GRAPHSYNC_HTTP_TIMEOUT", &c.Graph.Timeout)
	env.integer("GRAPHSYNC_HTTP_MAX_RETRIES", &c.Graph.MaxRetries)

	env.str("MONGO_URI", &c.Store.DSN)
	env.str("GRAPHSYNC_STORE_DSN", &c.Store.DSN)
	env.str("MONGO_DB_NAME", &c.Store.Database)
	env.str("GRAPHSYNC_STORE_DATABASE", &c.Store.Database)

	env.duration("GRAPHSYNC_PAGE_DELAY", &c.Sync.PageDelay)
	env.duration("GRAPHSYNC_DEFAULT_RETRY_AFTER", &c.Sync.DefaultRetryAfter)
	env.integer("GRAPHSYNC_MAX_THROTTLE_RETRIES", &c.Sync.MaxThrottleRetries)
	env.integer("GRAPHSYNC_PAGE_SIZE", &c.Sync.PageSize)
	env.list("GRAPHSYNC_STREAMS", &c.Sync.Streams)

	env.str("GRAPHSYNC_LOG_LEVEL", &c.Log.Level)
	env.str("GRAPHSYNC_LOG_FORMAT", &c.Log.Format)
	env.str("GRAPHSYNC_METRICS_TEXTFILE", &c.Metrics.Textfile)
	return env.err()
}

// Validate reports every missing required value at once, so a misconfigured
// deployment fails before any stream runs.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	var missing []string
	if strings.TrimSpace(c.Graph.TenantID) == "" {
		missing = append(missing, "graph.tenant_id (GRAPH_TENANT_ID)")
	}
	if strings.TrimSpace(c.Graph.ClientID) == "" {
		missing = append(missing, "graph.client_id (GRAPH_CLIENT_ID)")
	}
	if strings.TrimSpace(c.Graph.ClientSecret) == "" {
		missing = append(missing, "graph.client_secret (GRAPH_CLIENT_SECRET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.Sync.PageSize < 0 {
		return fmt.Errorf("%w: sync.page_size must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: log.format must be json or console", ErrInvalidConfig)
	}
	return nil
}

// ValidateStore checks only what commands that read the store need.
func (c *Config) ValidateStore() error {
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("%w: store.dsn (GRAPHSYNC_STORE_DSN or MONGO_URI)", ErrMissingConfig)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) value(name string) (string, bool) {
	raw, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (e *envReader) str(name string, target *string) {
	if value, ok := e.value(name); ok {
		*target = value
	}
}

func (e *envReader) duration(name string, target *time.Duration) {
	raw, ok := e.value(name)
	if !ok {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, name, raw))
		return
	}
	*target = value
}

func (e *envReader) integer(name string, target *int) {
	raw, ok := e.value(name)
	if !ok {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, raw))
		return
	}
	*target = value
}

func (e *envReader) list(name string, target *[]string) {
	raw, ok := e.value(name)
	if !ok {
		return
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	*target = values
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
