package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

func newJob(id, repo string) *job.Job {
	return &job.Job{ID: id, RepositoryID: repo, UserID: "u1", Status: job.StatusPending, CallbackToken: "tok"}
}

func TestStore_CreateGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	j := newJob("j1", "r1")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if j.Version != 1 {
		t.Errorf("expected version 1, got %d", j.Version)
	}
	if err := s.Create(ctx, newJob("j1", "r1")); !errors.Is(err, job.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got.Status = job.StatusRunning
	again, _ := s.Get(ctx, "j1")
	if again.Status != job.StatusPending {
		t.Error("Get must return a copy")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	_ = s.Create(ctx, newJob("j1", "r1"))

	a, _ := s.Get(ctx, "j1")
	b, _ := s.Get(ctx, "j1")

	a.Status = job.StatusCloning
	if err := s.Update(ctx, a, 1); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("expected version 2, got %d", a.Version)
	}

	b.Status = job.StatusFailed
	if err := s.Update(ctx, b, 1); !errors.Is(err, job.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.Get(ctx, "j1")
	if got.Status != job.StatusCloning {
		t.Errorf("expected cloning, got %s", got.Status)
	}

	if err := s.Update(ctx, newJob("missing", "r1"), 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ActivePointer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	claim, ok, err := s.ClaimActive(ctx, "r1", "j1")
	if err != nil || !ok || claim.JobID != "j1" {
		t.Fatalf("expected j1 to claim, got %+v ok=%v err=%v", claim, ok, err)
	}

	claim, ok, _ = s.ClaimActive(ctx, "r1", "j2")
	if ok || claim.JobID != "j1" {
		t.Errorf("expected j1 to keep the claim, got %+v ok=%v", claim, ok)
	}

	if swapped, _ := s.SwapActive(ctx, "r1", "other", "j2"); swapped {
		t.Error("swap from a non-holder must fail")
	}
	if swapped, _ := s.SwapActive(ctx, "r1", "j1", "j2"); !swapped {
		t.Error("swap from the holder must succeed")
	}

	_ = s.ReleaseActive(ctx, "r1", "j1")
	if c, ok := s.Active("r1"); !ok || c.JobID != "j2" {
		t.Errorf("release by a non-holder must not clear the pointer, got %+v", c)
	}
	_ = s.ReleaseActive(ctx, "r1", "j2")
	if _, ok := s.Active("r1"); ok {
		t.Error("expected pointer to be released")
	}
}

func TestStore_ClaimActiveConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners int
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _ := s.ClaimActive(ctx, "r1", fmt.Sprintf("j%d", i))
			if ok {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if owners != 1 {
		t.Errorf("expected exactly one claim winner, got %d", owners)
	}
}

func TestStore_ListActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	_ = s.Create(ctx, newJob("j1", "r1"))
	_ = s.Create(ctx, newJob("j2", "r2"))
	done := newJob("j3", "r1")
	done.Status = job.StatusCompleted
	_ = s.Create(ctx, done)

	all, _ := s.ListActive(ctx, "")
	if len(all) != 2 {
		t.Errorf("expected 2 active jobs, got %d", len(all))
	}
	r1, _ := s.ListActive(ctx, "r1")
	if len(r1) != 1 || r1[0].ID != "j1" {
		t.Errorf("expected only j1 for r1, got %v", r1)
	}
}
