package dispatcher

import (
	"time"

	"docjobs/internal/config"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxAttempts      = 4
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	deliveryTimeout         = 30 * time.Second
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending deliveries (default: 10000)
	Workers     int           // concurrent delivery goroutines (default: 10)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	RatePerHost float64       // sustained requests/second per destination host, 0 = unlimited
	RateBurst   int           // pacer burst (default: 1 when RatePerHost is set)

	// BreakerCooldown overrides how long an open destination is skipped.
	BreakerCooldown time.Duration
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:  config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 10000),
		Workers:     config.GetIntEnv("DISPATCHER_WORKERS", 10),
		HTTPTimeout: config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		RatePerHost: config.GetFloatEnv("DISPATCHER_RATE_PER_HOST", 0),
		RateBurst:   config.GetIntEnv("DISPATCHER_RATE_BURST", 0),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.RatePerHost < 0 {
		c.RatePerHost = 0
	}
	if c.RatePerHost > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}
