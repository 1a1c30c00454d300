// Package ratelimit provides fixed-window request counters keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"docjobs/internal/config"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // time until the current window resets
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config sets the window size and the number of requests allowed in it.
type Config struct {
	Requests int           // per window (default: 60)
	Window   time.Duration // window length (default: 1m)
}

// LoadConfigFromEnv loads limiter configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Requests: config.GetIntEnv("RATE_LIMIT_REQUESTS", 60),
		Window:   config.GetDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Requests <= 0 {
		c.Requests = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

type window struct {
	start time.Time
	count int
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	cfg       Config
	now       func() time.Time
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemory creates an in-process limiter.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts a request for key.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.cfg.Window {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.cfg.Window {
		w = &window{start: now.Truncate(m.cfg.Window)}
		m.windows[key] = w
	}

	reset := w.start.Add(m.cfg.Window).Sub(now)
	if w.count >= m.cfg.Requests {
		return Decision{Allowed: false, RetryAfter: reset}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: m.cfg.Requests - w.count, RetryAfter: reset}, nil
}

// sweep drops expired windows. Caller holds mu.
func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.cfg.Window {
			delete(m.windows, k)
		}
	}
	m.lastSweep = now
}

var _ Limiter = (*Memory)(nil)
