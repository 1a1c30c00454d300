// Package memory provides an in-process job store and catalog for
// development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

// Store is an in-memory job.Store. Safe for concurrent access; every
// operation holds the lock only for the map access, never across a callback.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	active map[string]job.ActiveClaim // repositoryID -> claim
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for claim and update timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:   make(map[string]*job.Job),
		active: make(map[string]job.ActiveClaim),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new job.
func (s *Store) Create(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return job.ErrAlreadyExists
	}
	now := s.now().UTC()
	j.Version = 1
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(_ context.Context, jobID string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFound("job", jobID)
	}
	return j.Clone(), nil
}

// Update replaces the job if its version still matches.
func (s *Store) Update(_ context.Context, j *job.Job, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[j.ID]
	if !ok {
		return apperrors.NotFound("job", j.ID)
	}
	if cur.Version != expectedVersion {
		return job.ErrVersionConflict
	}
	j.Version = expectedVersion + 1
	j.CreatedAt = cur.CreatedAt
	j.UpdatedAt = s.now().UTC()
	s.jobs[j.ID] = j.Clone()
	return nil
}

// ClaimActive sets the repository pointer if unset.
func (s *Store) ClaimActive(_ context.Context, repositoryID, jobID string) (job.ActiveClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.active[repositoryID]; ok {
		return cur, cur.JobID == jobID, nil
	}
	claim := job.ActiveClaim{JobID: jobID, ClaimedAt: s.now().UTC()}
	s.active[repositoryID] = claim
	return claim, true, nil
}

// SwapActive moves the pointer from oldJobID to newJobID.
func (s *Store) SwapActive(_ context.Context, repositoryID, oldJobID, newJobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.active[repositoryID]
	if !ok || cur.JobID != oldJobID {
		return false, nil
	}
	s.active[repositoryID] = job.ActiveClaim{JobID: newJobID, ClaimedAt: s.now().UTC()}
	return true, nil
}

// ReleaseActive deletes the pointer if it still names jobID.
func (s *Store) ReleaseActive(_ context.Context, repositoryID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.active[repositoryID]; ok && cur.JobID == jobID {
		delete(s.active, repositoryID)
	}
	return nil
}

// ListActive returns non-terminal jobs, oldest first.
func (s *Store) ListActive(_ context.Context, repositoryID string) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.Status.IsTerminal() {
			continue
		}
		if repositoryID != "" && j.RepositoryID != repositoryID {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Active returns the current pointer for a repository. Used by tests.
func (s *Store) Active(repositoryID string) (job.ActiveClaim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.active[repositoryID]
	return c, ok
}

var _ job.Store = (*Store)(nil)
