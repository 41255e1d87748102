package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes human-readable YAML values ("90s", "5m") as well as plain
// nanosecond integers, which yaml.v3 cannot do for time.Duration directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(ns)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config captures the settings required to boot the ingest engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Broker    BrokerConfig    `yaml:"broker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Poller    PollerConfig    `yaml:"poller"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string   `yaml:"metricsAddress"`
	GracefulTimeout Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// BrokerConfig configures the redis pub/sub broker used for cross-instance
// fan-out and reindex trigger delivery. With Enabled false the engine runs
// single-instance on the direct-delivery path.
type BrokerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	DB             int      `yaml:"db"`
	DialTimeout    Duration `yaml:"dialTimeout"`
	BroadcastTopic string   `yaml:"broadcastTopic"`
	ReindexChannel string   `yaml:"reindexChannel"`
}

// SchedulerConfig controls the debounced reindex scheduler.
type SchedulerConfig struct {
	Debounce       Duration `yaml:"debounce"`
	ReindexURL     string   `yaml:"reindexURL"`
	ReindexTimeout Duration `yaml:"reindexTimeout"`
}

// SourceConfig describes one pull-only external telemetry source.
type SourceConfig struct {
	ID         string   `yaml:"id"`
	BaseURL    string   `yaml:"baseURL"`
	EventsPath string   `yaml:"eventsPath"`
	Token      string   `yaml:"token"`
	Timeout    Duration `yaml:"timeout"`
}

// PollerConfig controls polling cadence and failure backoff for all sources.
type PollerConfig struct {
	Interval             Duration       `yaml:"interval"`
	MaxConsecutiveErrors int            `yaml:"maxConsecutiveErrors"`
	ErrorBackoff         Duration       `yaml:"errorBackoff"`
	FirstRunLookback     Duration       `yaml:"firstRunLookback"`
	Sources              []SourceConfig `yaml:"sources"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_INGEST_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Broker: BrokerConfig{
			Enabled:        false,
			DB:             0,
			DialTimeout:    Duration(2 * time.Second),
			BroadcastTopic: "sentinel.events",
			ReindexChannel: "sentinel.reindex",
		},
		Scheduler: SchedulerConfig{
			Debounce:       Duration(60 * time.Second),
			ReindexTimeout: Duration(30 * time.Second),
		},
		Poller: PollerConfig{
			Interval:             Duration(time.Minute),
			MaxConsecutiveErrors: 5,
			ErrorBackoff:         Duration(10 * time.Minute),
			FirstRunLookback:     Duration(15 * time.Minute),
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Scheduler.Debounce <= 0 {
		return fmt.Errorf("scheduler.debounce must be positive, got %s", cfg.Scheduler.Debounce)
	}
	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive, got %s", cfg.Poller.Interval)
	}
	if cfg.Poller.ErrorBackoff < cfg.Poller.Interval {
		return fmt.Errorf("poller.errorBackoff %s is shorter than poller.interval %s", cfg.Poller.ErrorBackoff, cfg.Poller.Interval)
	}
	for i, src := range cfg.Poller.Sources {
		if src.ID == "" {
			return fmt.Errorf("poller.sources[%d]: id is required", i)
		}
		if src.BaseURL == "" {
			return fmt.Errorf("poller.sources[%d]: baseURL is required", i)
		}
	}
	if cfg.Broker.Enabled && cfg.Broker.Addr == "" {
		return fmt.Errorf("broker.addr is required when the broker is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_INGEST_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_INGEST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_INGEST_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_INGEST_BROKER_ADDR"); v != "" {
		cfg.Broker.Addr = v
	}
	if v := os.Getenv("SENTINEL_INGEST_BROKER_ENABLED"); v != "" {
		cfg.Broker.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTINEL_INGEST_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("SENTINEL_INGEST_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("SENTINEL_INGEST_BROKER_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Broker.DB = db
		}
	}
	if v := os.Getenv("SENTINEL_INGEST_BROADCAST_TOPIC"); v != "" {
		cfg.Broker.BroadcastTopic = v
	}
	if v := os.Getenv("SENTINEL_INGEST_REINDEX_CHANNEL"); v != "" {
		cfg.Broker.ReindexChannel = v
	}
	if v := os.Getenv("SENTINEL_INGEST_SCHEDULER_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("SENTINEL_INGEST_REINDEX_URL"); v != "" {
		cfg.Scheduler.ReindexURL = v
	}
	if v := os.Getenv("SENTINEL_INGEST_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poller.Interval = Duration(d)
		}
	}
	if v := os.Getenv("SENTINEL_INGEST_POLL_MAX_ERRORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poller.MaxConsecutiveErrors = n
		}
	}
	if v := os.Getenv("SENTINEL_INGEST_POLL_ERROR_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poller.ErrorBackoff = Duration(d)
		}
	}
	if v := os.Getenv("SENTINEL_INGEST_POLL_FIRST_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poller.FirstRunLookback = Duration(d)
		}
	}
}
