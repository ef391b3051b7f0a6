// Package config loads the service configuration from a YAML file with
// environment variable overrides for deploy-time settings.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unibosoft/quakefeed/internal/quake"
	"github.com/unibosoft/quakefeed/internal/security"
)

// Duration wraps time.Duration with YAML support for "90s"-style values.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Feeds    []FeedConfig    `yaml:"feeds"`
	Dedup    DedupConfig     `yaml:"dedup"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Store    *StoreConfig    `yaml:"store,omitempty"` // nil: in-memory store
	API      APIConfig       `yaml:"api"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
	Log      LogConfig       `yaml:"log"`

	// AllowLocalWebhooks permits http://localhost webhook targets for
	// development.
	AllowLocalWebhooks bool `yaml:"allow_local_webhooks"`
}

// FeedConfig describes one upstream feed connection.
type FeedConfig struct {
	Provider        string   `yaml:"provider"` // registry key, e.g. "emsc"
	Endpoint        string   `yaml:"endpoint"` // ws:// or wss:// URL
	ConnectTimeout  Duration `yaml:"connect_timeout"`
	StalenessWindow Duration `yaml:"staleness_window"`
}

// DedupConfig holds the duplicate-detection window and thresholds.
type DedupConfig struct {
	Retention      Duration `yaml:"retention"`
	MaxEntries     int      `yaml:"max_entries"`
	TimeWindow     Duration `yaml:"time_window"`
	DistanceKM     float64  `yaml:"distance_km"`
	MagnitudeDelta float64  `yaml:"magnitude_delta"`
}

// PipelineConfig holds the controller's retry and shutdown knobs.
type PipelineConfig struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	PersistRetries int      `yaml:"persist_retries"`
	PersistBackoff Duration `yaml:"persist_backoff"`
	DrainTimeout   Duration `yaml:"drain_timeout"`
	SeedWindow     Duration `yaml:"seed_window"`
}

// StoreConfig selects the Firestore-backed event store.
type StoreConfig struct {
	ProjectID   string `yaml:"project_id"`
	Database    string `yaml:"database,omitempty"`
	Credentials string `yaml:"credentials,omitempty"`
	Collection  string `yaml:"collection,omitempty"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// WebhookConfig is one signed webhook target.
type WebhookConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace..error, default info
	Format string `yaml:"format"` // json or console, default json
}

// Load reads and validates the YAML file at path. Environment variables
// override file values:
//
//	QUAKEFEED_ENDPOINT       overrides the first feed's endpoint
//	QUAKEFEED_API_ADDR       overrides api.addr
//	QUAKEFEED_LOG_LEVEL      overrides log.level
//	QUAKEFEED_STORE_PROJECT  overrides store.project_id
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &quake.ConfigError{Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUAKEFEED_ENDPOINT"); v != "" && len(c.Feeds) > 0 {
		c.Feeds[0].Endpoint = v
	}
	if v := os.Getenv("QUAKEFEED_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("QUAKEFEED_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("QUAKEFEED_STORE_PROJECT"); v != "" {
		if c.Store == nil {
			c.Store = &StoreConfig{}
		}
		c.Store.ProjectID = v
	}
}

func (c *Config) applyDefaults() {
	for i := range c.Feeds {
		if c.Feeds[i].ConnectTimeout == 0 {
			c.Feeds[i].ConnectTimeout = Duration(10 * time.Second)
		}
		if c.Feeds[i].StalenessWindow == 0 {
			c.Feeds[i].StalenessWindow = Duration(120 * time.Second)
		}
	}
	if c.Dedup.Retention == 0 {
		c.Dedup.Retention = Duration(24 * time.Hour)
	}
	if c.Dedup.MaxEntries == 0 {
		c.Dedup.MaxEntries = 5000
	}
	if c.Dedup.TimeWindow == 0 {
		c.Dedup.TimeWindow = Duration(60 * time.Second)
	}
	if c.Dedup.DistanceKM == 0 {
		c.Dedup.DistanceKM = 50
	}
	if c.Dedup.MagnitudeDelta == 0 {
		c.Dedup.MagnitudeDelta = 0.5
	}
	if c.Pipeline.InitialBackoff == 0 {
		c.Pipeline.InitialBackoff = Duration(1 * time.Second)
	}
	if c.Pipeline.MaxBackoff == 0 {
		c.Pipeline.MaxBackoff = Duration(60 * time.Second)
	}
	if c.Pipeline.PersistRetries == 0 {
		c.Pipeline.PersistRetries = 3
	}
	if c.Pipeline.PersistBackoff == 0 {
		c.Pipeline.PersistBackoff = Duration(250 * time.Millisecond)
	}
	if c.Pipeline.DrainTimeout == 0 {
		c.Pipeline.DrainTimeout = Duration(10 * time.Second)
	}
	if c.Pipeline.SeedWindow == 0 {
		c.Pipeline.SeedWindow = Duration(24 * time.Hour)
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8900"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate rejects configurations the pipeline cannot start with. All
// failures are *quake.ConfigError: fatal, never retried.
func (c *Config) Validate() error {
	if len(c.Feeds) == 0 {
		return &quake.ConfigError{Reason: "at least one feed is required"}
	}

	for i, f := range c.Feeds {
		if f.Provider == "" {
			return &quake.ConfigError{Reason: fmt.Sprintf("feeds[%d].provider is required", i)}
		}
		if f.Endpoint == "" {
			return &quake.ConfigError{Reason: fmt.Sprintf("feeds[%d].endpoint is required", i)}
		}
		u, err := url.Parse(f.Endpoint)
		if err != nil {
			return &quake.ConfigError{Reason: fmt.Sprintf("feeds[%d].endpoint: %v", i, err)}
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return &quake.ConfigError{Reason: fmt.Sprintf("feeds[%d].endpoint %q: scheme must be ws or wss", i, f.Endpoint)}
		}
	}

	if c.Store != nil && c.Store.ProjectID == "" {
		return &quake.ConfigError{Reason: "store.project_id is required when store is configured"}
	}

	for i, w := range c.Webhooks {
		if w.Name == "" {
			return &quake.ConfigError{Reason: fmt.Sprintf("webhooks[%d].name is required", i)}
		}
		if w.Secret == "" {
			return &quake.ConfigError{Reason: fmt.Sprintf("webhooks[%d].secret is required", i)}
		}
		if err := security.ValidateWebhookURL(w.URL, c.AllowLocalWebhooks); err != nil {
			return &quake.ConfigError{Reason: fmt.Sprintf("webhooks[%d].url: %v", i, err)}
		}
	}

	return nil
}
