package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docjobs/internal/apperrors"
	"docjobs/internal/observability"
	"docjobs/pkg/backoff"
)

// maxMutateAttempts bounds optimistic-concurrency retries on a single job.
const maxMutateAttempts = 8

// Config tunes the Service. Zero values use defaults.
type Config struct {
	StoreTimeout time.Duration   // bound on each store round-trip (default 5s)
	ClaimGrace   time.Duration   // age at which an orphaned repository claim is stale (default 1m)
	RetryBackoff *backoff.Config // wait before the single retry of a transient store failure
}

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.ClaimGrace <= 0 {
		c.ClaimGrace = time.Minute
	}
	return c
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets timeouts and retry behaviour.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg.withDefaults() }
}

// WithLauncher sets the worker launcher invoked after admission.
func WithLauncher(l Launcher) Option {
	return func(s *Service) { s.launcher = l }
}

// WithNotifier sets the status-change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates the job lifecycle: admission, worker callbacks,
// cancellation, stuck-job recovery and status reads.
//
// The Service holds no job state; every decision is a conditional write
// against the Store, so any number of instances may serve the same store.
type Service struct {
	store    Store
	catalog  Catalog
	launcher Launcher
	notifier Notifier
	metrics  *observability.Metrics
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a new job service.
func NewService(store Store, catalog Catalog, metrics *observability.Metrics, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		metrics: metrics,
		cfg:     Config{}.withDefaults(),
		now:     time.Now,
		logger:  slog.With("component", "job-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready checks the store is reachable. Used by readiness probes.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// call runs one store operation with a bounded timeout and exactly one retry
// on a transient failure.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	return backoff.Retry(ctx, 2, s.cfg.RetryBackoff, apperrors.IsRetryable, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			s.metrics.RecordStoreRetry(ctx)
			s.logger.Warn("Retrying store call", "op", op)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()

		err := fn(callCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return apperrors.Unavailable(op, err)
		}
		return err
	})
}

func (s *Service) getJob(ctx context.Context, jobID string) (*Job, error) {
	var j *Job
	err := s.call(ctx, "store.get", func(ctx context.Context) error {
		var err error
		j, err = s.store.Get(ctx, jobID)
		return err
	})
	return j, err
}

// mutate applies fn to the latest copy of a job and writes it back with a
// compare-and-swap, re-reading on version conflicts. fn returns false to
// leave the job untouched. The returned job is the committed (or unchanged)
// state.
func (s *Service) mutate(ctx context.Context, jobID string, fn func(j *Job) (bool, error)) (*Job, bool, error) {
	for range maxMutateAttempts {
		j, err := s.getJob(ctx, jobID)
		if err != nil {
			return nil, false, err
		}

		expected := j.Version
		changed, err := fn(j)
		if err != nil {
			return j, false, err
		}
		if !changed {
			return j, false, nil
		}

		err = s.call(ctx, "store.update", func(ctx context.Context) error {
			return s.store.Update(ctx, j, expected)
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return j, true, nil
	}
	return nil, false, apperrors.Conflict("job", "job "+jobID+" is being updated concurrently, retry")
}

// settled releases the repository slot and emits notifications after a
// committed terminal transition.
func (s *Service) settled(ctx context.Context, j *Job) {
	err := s.call(ctx, "store.releaseActive", func(ctx context.Context) error {
		return s.store.ReleaseActive(ctx, j.RepositoryID, j.ID)
	})
	if err != nil {
		// The stale pointer is recovered by the next admission.
		s.logger.Warn("Failed to release repository slot", "jobId", j.ID, "repositoryId", j.RepositoryID, "error", err)
	}
	s.metrics.RecordJobFinished(ctx, string(j.Status), s.now().Sub(j.CreatedAt).Seconds())
}

func (s *Service) notify(ctx context.Context, j *Job) {
	if s.notifier != nil {
		s.notifier.JobChanged(ctx, j)
	}
}
