package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"screener/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the screener client.
type Config struct {
	API      API      `yaml:"api"`
	Stream   Stream   `yaml:"stream"`
	Poll     Poll     `yaml:"poll"`
	Activity Activity `yaml:"activity"`
	UI       UI       `yaml:"ui"`
	Logging  Logging  `yaml:"logging"`
}

// API holds the REST backend endpoint and request policy.
type API struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// Stream holds the push-stream endpoint.
type Stream struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// Interval is the fixed timeframe every stream batch is computed over.
	Interval string `yaml:"interval"`
}

// Poll controls the periodic pulls.
type Poll struct {
	MoversEvery  time.Duration `yaml:"movers_every"`
	TrackedEvery time.Duration `yaml:"tracked_every"`
	MoversLimit  int           `yaml:"movers_limit"`
	HistoryLimit int           `yaml:"history_limit"`
	DiscardStale bool          `yaml:"discard_stale"`
}

// Activity sizes the user-visible activity log.
type Activity struct {
	Capacity int `yaml:"capacity"`
}

// UI holds terminal client settings.
type UI struct {
	DefaultInterval string        `yaml:"default_interval"`
	SearchDebounce  time.Duration `yaml:"search_debounce"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		API: API{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		Stream: Stream{
			URL:            "ws://localhost:8000/ws",
			ReconnectDelay: 3 * time.Second,
			Interval:       string(domain.Interval1Day),
		},
		Poll: Poll{
			MoversEvery:  5 * time.Second,
			TrackedEvery: 10 * time.Second,
			MoversLimit:  50,
			HistoryLimit: 1,
			DiscardStale: true,
		},
		Activity: Activity{Capacity: 20},
		UI: UI{
			DefaultInterval: string(domain.Interval1Day),
			SearchDebounce:  300 * time.Millisecond,
		},
		Logging: Logging{
			Level: "info",
			Dir:   "/tmp",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds the configuration: defaults, then the YAML file at path (when
// path is not empty), then a .env file in the working directory, then
// environment variable overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// A missing .env is normal; variables already set win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCREENER_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SCREENER_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("SCREENER_STREAM_INTERVAL"); v != "" {
		cfg.Stream.Interval = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout))
	}
	if c.API.Retries < 1 {
		errs = append(errs, fmt.Errorf("api.retries must be at least 1, got %d", c.API.Retries))
	}
	if c.Stream.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("stream.reconnect_delay must be positive, got %s", c.Stream.ReconnectDelay))
	}
	if _, err := domain.ParseInterval(c.Stream.Interval); err != nil {
		errs = append(errs, fmt.Errorf("stream.interval: %w", err))
	}
	if _, err := domain.ParseInterval(c.UI.DefaultInterval); err != nil {
		errs = append(errs, fmt.Errorf("ui.default_interval: %w", err))
	}
	if c.Poll.MoversEvery <= 0 {
		errs = append(errs, fmt.Errorf("poll.movers_every must be positive, got %s", c.Poll.MoversEvery))
	}
	if c.Poll.TrackedEvery <= 0 {
		errs = append(errs, fmt.Errorf("poll.tracked_every must be positive, got %s", c.Poll.TrackedEvery))
	}
	if c.Poll.MoversLimit <= 0 {
		errs = append(errs, fmt.Errorf("poll.movers_limit must be positive, got %d", c.Poll.MoversLimit))
	}
	if c.Poll.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("poll.history_limit must be positive, got %d", c.Poll.HistoryLimit))
	}
	if c.Activity.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("activity.capacity must be positive, got %d", c.Activity.Capacity))
	}
	if c.UI.SearchDebounce < 0 {
		errs = append(errs, fmt.Errorf("ui.search_debounce must not be negative, got %s", c.UI.SearchDebounce))
	}
	return errors.Join(errs...)
}
