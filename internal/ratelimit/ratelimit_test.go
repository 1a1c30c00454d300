package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_FixedWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Config{Requests: 2, Window: time.Minute})
	m.now = func() time.Time { return now }

	for i := range 2 {
		d, err := m.Allow(ctx, "client-a")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should be allowed: %+v err=%v", i, d, err)
		}
	}

	d, _ := m.Allow(ctx, "client-a")
	if d.Allowed {
		t.Fatal("third request in the window should be rejected")
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("expected RetryAfter 1m, got %v", d.RetryAfter)
	}

	if d, _ := m.Allow(ctx, "client-b"); !d.Allowed {
		t.Error("other keys have their own window")
	}

	now = now.Add(30 * time.Second)
	if d, _ := m.Allow(ctx, "client-a"); d.Allowed || d.RetryAfter != 30*time.Second {
		t.Errorf("still in the same window, got %+v", d)
	}

	now = now.Add(30 * time.Second)
	if d, _ := m.Allow(ctx, "client-a"); !d.Allowed || d.Remaining != 1 {
		t.Errorf("new window should reset the counter, got %+v", d)
	}
}

func TestMemory_SweepsExpiredWindows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Config{Requests: 1, Window: time.Second})
	m.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		_, _ = m.Allow(ctx, k)
	}
	now = now.Add(2 * time.Second)
	_, _ = m.Allow(ctx, "d")

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.windows) != 1 {
		t.Errorf("expected expired windows to be swept, have %d", len(m.windows))
	}
}

func TestMemory_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(Config{Requests: 10, Window: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := m.Allow(ctx, "k"); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("expected exactly 10 allowed, got %d", allowed)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	if cfg.Requests != 60 || cfg.Window != time.Minute {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
