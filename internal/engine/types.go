package engine

import (
	"errors"
	"time"
)

var (
	ErrPoolClosed         = errors.New("engine pool is closed")
	ErrClosed             = errors.New("engine is closed")
	ErrUnsupportedScheme  = errors.New("unsupported url scheme")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrHTTPStatus         = errors.New("unexpected http status")
	ErrBodyTooLarge       = errors.New("response body too large")
	ErrScript             = errors.New("script error")
	ErrJournal            = errors.New("invalid script journal")
)

// Config defines engine configuration
type Config struct {
	Timeout          time.Duration // Script execution timeout
	FetchTimeout     time.Duration // Page fetch timeout
	FetchRetries     int           // Retries on network errors and 5xx
	UserAgent        string
	MaxBodyBytes     int64 // Largest page body accepted
	MaxCallStackSize int
	PoolSize         int // Warm VMs kept ready
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		FetchTimeout:     15 * time.Second,
		FetchRetries:     2,
		UserAgent:        "tabcore/1.0",
		MaxBodyBytes:     8 << 20,
		MaxCallStackSize: 1024,
		PoolSize:         4,
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = def.MaxCallStackSize
	}
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
}
