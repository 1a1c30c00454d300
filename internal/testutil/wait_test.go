package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		condition func() func() bool
		want      bool
	}{
		{
			name:      "immediate success",
			condition: func() func() bool { return func() bool { return true } },
			want:      true,
		},
		{
			name: "eventual success",
			condition: func() func() bool {
				calls := 0
				return func() bool {
					calls++
					return calls >= 3
				}
			},
			want: true,
		},
		{
			name:      "timeout",
			condition: func() func() bool { return func() bool { return false } },
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := WaitFor(t, tt.condition(), WithTimeout(100*time.Millisecond), WithInterval(5*time.Millisecond))
			if got != tt.want {
				t.Errorf("WaitFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitFor_ZeroTimeoutChecksOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	WaitFor(t, func() bool {
		calls.Add(1)
		return false
	}, WithTimeout(0))

	if calls.Load() != 1 {
		t.Errorf("expected exactly one evaluation, got %d", calls.Load())
	}
}

func TestMustWaitForValue(t *testing.T) {
	t.Parallel()

	var status atomic.Value
	status.Store("pending")
	go func() {
		time.Sleep(20 * time.Millisecond)
		status.Store("completed")
	}()

	MustWaitForValue(t, func() string { return status.Load().(string) }, "completed",
		WithTimeout(time.Second), WithInterval(5*time.Millisecond))
}

func TestClock(t *testing.T) {
	t.Parallel()

	c := NewClock()
	start := c.Now()
	c.Advance(90 * time.Second)

	if got := c.Now().Sub(start); got != 90*time.Second {
		t.Errorf("advanced %v, want 90s", got)
	}
	if c.Now().Location() != time.UTC {
		t.Error("clock should be in UTC")
	}
}
