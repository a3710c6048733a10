package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Logging     LogConfig         `json:"logging"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Memory      MemoryConfig      `json:"memory"`
	Hibernation HibernationConfig `json:"hibernation"`
	Watchdog    WatchdogConfig    `json:"watchdog"`
	Engine      EngineConfig      `json:"engine"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" json:"port"`
	Host        string   `envconfig:"HOST" json:"host"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" json:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" json:"level"`
	Development bool   `envconfig:"LOG_DEV" json:"development"`
}

// RateLimitConfig holds per-IP HTTP rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" json:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" json:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" json:"enabled"`
}

// MemoryConfig holds process and per-tab memory budgets.
type MemoryConfig struct {
	RSSSoft      uint64   `envconfig:"RSS_SOFT_BYTES" json:"rss_soft_bytes"`
	RSSHard      uint64   `envconfig:"RSS_HARD_BYTES" json:"rss_hard_bytes"`
	RSSCritical  uint64   `envconfig:"RSS_CRITICAL_BYTES" json:"rss_critical_bytes"`
	PollInterval Duration `envconfig:"RSS_POLL_INTERVAL" json:"poll_interval"`
	HeapSoft     int64    `envconfig:"HEAP_SOFT_BYTES" json:"heap_soft_bytes"`
	HeapHard     int64    `envconfig:"HEAP_HARD_BYTES" json:"heap_hard_bytes"`
}

// HibernationConfig holds cold storage and eviction scheduling.
type HibernationConfig struct {
	Dir             string   `split_words:"true" json:"dir"`
	Level           int      `split_words:"true" json:"level"`
	MaxAge          Duration `split_words:"true" json:"max_age"`
	MaxStorageBytes int64    `split_words:"true" json:"max_storage_bytes"`
	CheckInterval   Duration `split_words:"true" json:"check_interval"`
	MaxIdle         Duration `split_words:"true" json:"max_idle"`
	CaptureTimeout  Duration `split_words:"true" json:"capture_timeout"`
	Rate            float64  `split_words:"true" json:"rate"`
	Burst           int      `split_words:"true" json:"burst"`
}

// WatchdogConfig holds heartbeat timing.
type WatchdogConfig struct {
	PingInterval Duration `split_words:"true" json:"ping_interval"`
	Grace        Duration `split_words:"true" json:"grace"`
	Timeout      Duration `split_words:"true" json:"timeout"`
}

// EngineConfig holds script engine and page loader settings.
type EngineConfig struct {
	Timeout      Duration `split_words:"true" json:"timeout"`
	PoolSize     int      `split_words:"true" json:"pool_size"`
	FetchTimeout Duration `split_words:"true" json:"fetch_timeout"`
	UserAgent    string   `split_words:"true" json:"user_agent"`
}

// Duration is a time.Duration that reads "500ms" style text from env and files.
type Duration time.Duration

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalid, text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as text.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const mib = 1024 * 1024

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "127.0.0.1",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Memory: MemoryConfig{
			RSSSoft:      40 * mib,
			RSSHard:      50 * mib,
			RSSCritical:  60 * mib,
			PollInterval: Duration(500 * time.Millisecond),
			HeapSoft:     32 * mib,
			HeapHard:     64 * mib,
		},
		Hibernation: HibernationConfig{
			Dir:             filepath.Join(os.TempDir(), "tabcore", "hibernation"),
			Level:           3,
			MaxAge:          Duration(7 * 24 * time.Hour),
			MaxStorageBytes: 1024 * mib,
			CheckInterval:   Duration(30 * time.Second),
			MaxIdle:         Duration(10 * time.Minute),
			CaptureTimeout:  Duration(2 * time.Second),
			Rate:            4,
			Burst:           4,
		},
		Watchdog: WatchdogConfig{
			PingInterval: Duration(500 * time.Millisecond),
			Grace:        Duration(100 * time.Millisecond),
			Timeout:      Duration(5 * time.Second),
		},
		Engine: EngineConfig{
			Timeout:      Duration(5 * time.Second),
			PoolSize:     4,
			FetchTimeout: Duration(15 * time.Second),
			UserAgent:    "tabcore/1.0",
		},
	}
}

// Load layers defaults, then the optional file at path, then the environment.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks ordering and ranges.
func (c *Config) Validate() error {
	m := c.Memory
	switch {
	case m.RSSSoft == 0 || m.RSSSoft > m.RSSHard || m.RSSHard > m.RSSCritical:
		return fmt.Errorf("%w: rss thresholds must satisfy 0 < soft <= hard <= critical", ErrInvalid)
	case m.HeapSoft <= 0 || m.HeapSoft > m.HeapHard:
		return fmt.Errorf("%w: heap limits must satisfy 0 < soft <= hard", ErrInvalid)
	case m.PollInterval <= 0:
		return fmt.Errorf("%w: rss poll interval must be positive", ErrInvalid)
	}

	h := c.Hibernation
	switch {
	case h.Dir == "":
		return fmt.Errorf("%w: hibernation dir is empty", ErrInvalid)
	case h.Level < 1 || h.Level > 22:
		return fmt.Errorf("%w: compression level %d outside 1..22", ErrInvalid, h.Level)
	case h.CheckInterval <= 0 || h.MaxIdle <= 0 || h.CaptureTimeout <= 0:
		return fmt.Errorf("%w: hibernation intervals must be positive", ErrInvalid)
	case h.Rate <= 0 || h.Burst <= 0:
		return fmt.Errorf("%w: hibernation rate and burst must be positive", ErrInvalid)
	}

	w := c.Watchdog
	if w.PingInterval <= 0 || w.Grace <= 0 || w.Timeout <= 0 {
		return fmt.Errorf("%w: watchdog intervals must be positive", ErrInvalid)
	}

	if c.Engine.Timeout <= 0 || c.Engine.FetchTimeout <= 0 {
		return fmt.Errorf("%w: engine timeouts must be positive", ErrInvalid)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server port is empty", ErrInvalid)
	}
	return nil
}

// Addr is host:port for the HTTP listener.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
