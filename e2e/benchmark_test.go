//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docjobs/internal/dispatcher"
	"docjobs/internal/testutil"
	"docjobs/pkg/cloudevent"
)

// BenchmarkAdmitAndComplete drives full job lifecycles across many repositories.
// Run with: go test -tags=e2e -run=^$ -bench=BenchmarkAdmitAndComplete -benchtime=30s ./e2e/
func BenchmarkAdmitAndComplete(b *testing.B) {
	e := newEnv(b)

	var next, completed atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			repo := e.repositoryID(int(next.Add(1)))

			admitted, code := e.admit(b, repo)
			if code != http.StatusCreated || admitted.CallbackToken == "" {
				// Another goroutine holds this repository right now.
				continue
			}

			code = e.callback(b, admitted.CallbackToken, map[string]any{
				"jobId": admitted.JobID,
				"type":  "complete",
				"files": []map[string]string{{"path": "01_intro.md", "content": "intro"}},
			})
			if code != http.StatusOK {
				b.Errorf("complete: expected 200, got %d", code)
				continue
			}
			completed.Add(1)
		}
	})

	b.StopTimer()
	b.ReportMetric(float64(completed.Load()), "jobs")
}

// TestCallbackThroughput measures how many progress callbacks the service
// applies per second across concurrent jobs.
func TestCallbackThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping throughput test in short mode")
	}

	const (
		jobs            = 50
		eventsPerWorker = 40
	)

	e := newEnv(t)

	type admittedJob struct{ id, token string }
	admitted := make([]admittedJob, 0, jobs)
	for i := range jobs {
		res, code := e.admit(t, e.repositoryID(100+i))
		if code != http.StatusCreated {
			t.Fatalf("admit %d: expected 201, got %d", i, code)
		}
		admitted = append(admitted, admittedJob{res.JobID, res.CallbackToken})
	}

	var accepted, rejected atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for _, j := range admitted {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for step := 1; step <= eventsPerWorker; step++ {
				code := e.callback(t, j.token, map[string]any{
					"jobId":      j.id,
					"type":       "progress",
					"progress":   fmt.Sprintf("Writing chapter %d", step),
					"step":       step,
					"totalSteps": eventsPerWorker,
				})
				if code == http.StatusOK {
					accepted.Add(1)
				} else {
					rejected.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := jobs * eventsPerWorker
	t.Logf("=== Callback Throughput Test ===")
	t.Logf("Jobs:          %d", jobs)
	t.Logf("Callbacks:     %d in %v", total, elapsed)
	t.Logf("Accepted:      %d", accepted.Load())
	t.Logf("Rejected:      %d", rejected.Load())
	t.Logf("Throughput:    %.0f callbacks/sec", float64(total)/elapsed.Seconds())

	if rejected.Load() != 0 {
		t.Errorf("Expected every callback to be accepted, %d rejected", rejected.Load())
	}
	for _, j := range admitted {
		if p := e.status(t, j.id); p.CurrentStep != eventsPerWorker {
			t.Errorf("job %s: step %d, want %d", j.id, p.CurrentStep, eventsPerWorker)
		}
		e.cancel(t, j.id)
	}
}

// TestDispatcherUnderLoad pushes status notifications at a steady rate to a
// receiver where a share of requests are slow.
func TestDispatcherUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	const (
		eventRate     = 1000 // events per second target
		duration      = 10   // seconds
		totalEvents   = eventRate * duration
		slowPercent   = 5   // percentage of slow receivers
		slowLatencyMs = 500 // latency for slow receivers
	)

	var received, slow atomic.Int64

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if received.Add(1)%int64(100/slowPercent) == 0 {
			slow.Add(1)
			time.Sleep(time.Duration(slowLatencyMs) * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	d := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize:  totalEvents,
		Workers:     50,
		HTTPTimeout: 2 * time.Second,
	}, nil)
	defer d.Close(context.Background())

	ticker := time.NewTicker(time.Second / time.Duration(eventRate))
	defer ticker.Stop()

	start := time.Now()
	var dispatched atomic.Int64

	go func() {
		for i := range totalEvents {
			<-ticker.C
			del := &dispatcher.Delivery{
				Payload:     newTestEvent(fmt.Sprintf("load-%d", i)),
				Destination: receiver.URL,
				SigningKey:  testSigningKey,
			}
			if err := d.Dispatch(del); err == nil {
				dispatched.Add(1)
			}
		}
	}()

	// Wait for all events to be dispatched, then wait for delivery
	testutil.WaitFor(t, func() bool {
		return dispatched.Load() >= int64(totalEvents)
	}, testutil.WithTimeout(time.Duration(duration+5)*time.Second))

	testutil.WaitFor(t, func() bool {
		stats := d.Stats()
		return stats.Delivered+stats.Failed+stats.Dropped >= dispatched.Load()
	}, testutil.WithTimeout(10*time.Second))

	stats := d.Stats()
	elapsed := time.Since(start)

	t.Logf("=== Dispatcher Load Test ===")
	t.Logf("Target rate:   %d events/sec for %ds", eventRate, duration)
	t.Logf("Dispatched:    %d events", dispatched.Load())
	t.Logf("Received:      %d notifications", received.Load())
	t.Logf("Slow calls:    %d (%.1f%%)", slow.Load(), float64(slow.Load())/float64(received.Load())*100)
	t.Logf("Delivered:     %d", stats.Delivered)
	t.Logf("Failed:        %d", stats.Failed)
	t.Logf("Dropped:       %d", stats.Dropped)
	t.Logf("Retries:       %d", stats.RetriesTotal)
	t.Logf("Requeued:      %d", stats.Requeued)
	t.Logf("Elapsed:       %v", elapsed)
	t.Logf("Actual rate:   %.0f events/sec", float64(received.Load())/elapsed.Seconds())

	dispatchedCount := dispatched.Load()
	receivedCount := received.Load()

	if dispatchedCount < int64(totalEvents*0.9) {
		t.Errorf("Expected to dispatch at least 90%% of events, got %d/%d", dispatchedCount, totalEvents)
	}

	deliveryRate := float64(receivedCount) / float64(dispatchedCount) * 100
	if deliveryRate < 90 {
		t.Errorf("Expected at least 90%% delivery rate, got %.1f%%", deliveryRate)
	}

	if stats.Dropped > int64(totalEvents*0.05) {
		t.Errorf("Too many dropped events: %d (max 5%% of %d)", stats.Dropped, totalEvents)
	}
}

func newTestEvent(id string) *cloudevent.CloudEvent {
	return cloudevent.New("docjobs.job.status", "benchmark", "job/"+id, id, map[string]any{"jobId": id, "status": "running"})
}
