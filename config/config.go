package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server Server `yaml:"server"`
	Store  Store  `yaml:"store"`
	Sweep  Sweep  `yaml:"sweep"`
	Feed   Feed   `yaml:"feed"`
}

// Server holds the HTTP server configuration.
type Server struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// Store holds the shared state store configuration.
type Store struct {
	// Driver selects the backing store: "memory", "sqlite" or "postgres".
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Sweep holds the expiry sweeper tuning knobs.
type Sweep struct {
	BatchSize     int           `yaml:"batch_size"`
	BatchPauseMS  int           `yaml:"batch_pause_ms"`
	BatchPause    time.Duration `yaml:"-"`
	BackoffBaseMS int           `yaml:"backoff_base_ms"`
	BackoffBase   time.Duration `yaml:"-"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// Feed holds the change feed debounce configuration.
type Feed struct {
	MinIntervalMS int           `yaml:"min_interval_ms"`
	MinInterval   time.Duration `yaml:"-"`
	DelayMS       int           `yaml:"delay_ms"`
	Delay         time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.MaxOpenConns <= 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.Store.MaxIdleConns <= 0 {
		cfg.Store.MaxIdleConns = 5
	}
	if cfg.Store.ConnMaxLifetimeMinutes <= 0 {
		cfg.Store.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = 2
	}
	if cfg.Sweep.BatchPauseMS <= 0 {
		cfg.Sweep.BatchPauseMS = 250
	}
	if cfg.Sweep.BackoffBaseMS <= 0 {
		cfg.Sweep.BackoffBaseMS = 100
	}
	if cfg.Sweep.MaxAttempts <= 0 {
		cfg.Sweep.MaxAttempts = 2
	}
	cfg.Sweep.BatchPause = time.Duration(cfg.Sweep.BatchPauseMS) * time.Millisecond
	cfg.Sweep.BackoffBase = time.Duration(cfg.Sweep.BackoffBaseMS) * time.Millisecond

	if cfg.Feed.MinIntervalMS <= 0 {
		cfg.Feed.MinIntervalMS = 2000
	}
	if cfg.Feed.DelayMS <= 0 {
		cfg.Feed.DelayMS = 500
	}
	cfg.Feed.MinInterval = time.Duration(cfg.Feed.MinIntervalMS) * time.Millisecond
	cfg.Feed.Delay = time.Duration(cfg.Feed.DelayMS) * time.Millisecond
}
