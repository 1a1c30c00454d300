package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"docjobs/pkg/backoff"
	"docjobs/pkg/circuitbreaker"
	"docjobs/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// MemoryDispatcher queues deliveries in a bounded channel served by a worker
// pool. When the buffer is full new deliveries are dropped.
type MemoryDispatcher struct {
	queue    chan *Delivery
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	pacersMu sync.Mutex
	pacers   map[string]*rate.Limiter

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64
	throttled    atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory starts an in-memory dispatcher. metrics may be nil.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "dispatcher")

	d := &MemoryDispatcher{
		queue:  make(chan *Delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
			OnStateChange: func(host string, from, to circuitbreaker.State) {
				logger.Info("Destination breaker changed", "destination", host, "from", from, "to", to)
			},
		}),
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		pacers:   make(map[string]*rate.Limiter),
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}

	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize, "ratePerHost", cfg.RatePerHost)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues a delivery.
func (d *MemoryDispatcher) Dispatch(del *Delivery) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- del:
		d.queued.Add(1)
		return nil
	default:
		d.drop(del, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		Requeued:     d.requeued.Load(),
		RetriesTotal: d.retriesTotal.Load(),
		Throttled:    d.throttled.Load(),
		BreakersOpen: d.breakers.Stats().Open,
	}
}

// Close stops accepting deliveries and waits for workers to drain the queue.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case del := <-d.queue:
			d.deliver(del)
		}
	}
}

func (d *MemoryDispatcher) drainQueue() {
	for {
		select {
		case del := <-d.queue:
			d.deliver(del)
		default:
			return
		}
	}
}

// deliver sends one delivery through the destination's breaker and pacer.
func (d *MemoryDispatcher) deliver(del *Delivery) {
	host := extractHost(del.Destination)

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := d.pace(ctx, host); err != nil {
		d.fail(ctx, del, host, err)
		return
	}

	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.requeue(del, host)
		return
	}

	start := time.Now()
	if err := d.sendWithRetry(ctx, del); err != nil {
		if cloudevent.IsPermanent(err) {
			// The receiver answered; the destination itself is healthy.
			breaker.RecordSuccess()
		} else {
			breaker.RecordFailure()
		}
		d.fail(ctx, del, host, err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// pace waits for the destination's token bucket, if pacing is enabled.
func (d *MemoryDispatcher) pace(ctx context.Context, host string) error {
	if d.config.RatePerHost <= 0 {
		return nil
	}

	d.pacersMu.Lock()
	lim, ok := d.pacers[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.config.RatePerHost), d.config.RateBurst)
		d.pacers[host] = lim
	}
	d.pacersMu.Unlock()

	if lim.Allow() {
		return nil
	}
	d.throttled.Add(1)
	return lim.Wait(ctx)
}

func (d *MemoryDispatcher) fail(ctx context.Context, del *Delivery, host string, err error) {
	d.failed.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherFailed(ctx)
	}
	d.logger.Warn("Delivery failed", "destination", host, "type", del.Payload.Type, "subject", del.Payload.Subject, "error", err)
}

func (d *MemoryDispatcher) drop(del *Delivery, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Delivery dropped",
		"reason", reason,
		"destination", extractHost(del.Destination),
		"type", del.Payload.Type,
		"subject", del.Payload.Subject,
	)
}

// requeue parks a delivery for one breaker cooldown and puts it back.
func (d *MemoryDispatcher) requeue(del *Delivery, host string) {
	if del.requeues >= defaultMaxRequeues {
		d.drop(del, "max requeues reached")
		return
	}

	del.requeues++
	requeues := del.requeues
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	go func() {
		select {
		case <-d.shutdown:
			return
		case <-time.After(d.config.BreakerCooldown):
		}

		select {
		case d.queue <- del:
			d.logger.Debug("Delivery requeued", "destination", host, "requeues", requeues)
		case <-d.shutdown:
		default:
			d.drop(del, "buffer full on requeue")
		}
	}()
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, del *Delivery) error {
	attempt := 0
	return backoff.Retry(ctx, defaultMaxAttempts, nil,
		func(err error) bool { return !cloudevent.IsPermanent(err) },
		func(ctx context.Context) error {
			if attempt > 0 {
				d.retriesTotal.Add(1)
			}
			attempt++
			return d.sender.Send(ctx, del.Destination, del.Payload, del.SigningKey)
		},
	)
}

// extractHost returns the URL host, used to key breakers and pacers.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
