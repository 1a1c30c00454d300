package job

import (
	"context"
	"fmt"
	"time"
)

const reclaimedError = "reclaimed: worker stopped reporting before a terminal status"

// Reclaim force-terminates every non-terminal job, optionally limited to one
// repository by full name, and releases their repository slots.
func (s *Service) Reclaim(ctx context.Context, req *ReclaimRequest) (*ReclaimResult, error) {
	repositoryID := ""
	if req != nil && req.RepositoryFullName != "" {
		var repo *Repository
		err := s.call(ctx, "catalog.repositoryByFullName", func(ctx context.Context) error {
			var err error
			repo, err = s.catalog.RepositoryByFullName(ctx, req.RepositoryFullName)
			return err
		})
		if err != nil {
			return nil, err
		}
		repositoryID = repo.ID
	}
	return s.sweep(ctx, repositoryID, 0)
}

// RunReclaimer sweeps jobs untouched for staleAfter every interval until ctx
// is canceled.
func (s *Service) RunReclaimer(ctx context.Context, interval, staleAfter time.Duration) {
	logger := s.logger.With("interval", interval, "staleAfter", staleAfter)
	logger.Info("Stuck job reclaimer started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stuck job reclaimer stopped")
			return
		case <-ticker.C:
			res, err := s.sweep(ctx, "", staleAfter)
			if err != nil {
				logger.Error("Stuck job sweep failed", "error", err)
				continue
			}
			if res.ClearedJobsCount > 0 {
				logger.Info("Reclaimed stuck jobs", "cleared", res.ClearedJobsCount, "repositories", res.RepositoriesProcessed)
			}
		}
	}
}

// sweep moves matching non-terminal jobs to dead. With staleAfter > 0 only
// jobs whose last update is older than that are touched. A job that cannot be
// updated is logged and left for the next sweep.
func (s *Service) sweep(ctx context.Context, repositoryID string, staleAfter time.Duration) (*ReclaimResult, error) {
	var active []*Job
	err := s.call(ctx, "store.listActive", func(ctx context.Context) error {
		var err error
		active, err = s.store.ListActive(ctx, repositoryID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	repos := make(map[string]struct{})
	cleared := 0

	for _, candidate := range active {
		if staleAfter > 0 && now.Sub(candidate.UpdatedAt) < staleAfter {
			continue
		}
		repos[candidate.RepositoryID] = struct{}{}

		j, changed, err := s.mutate(ctx, candidate.ID, func(j *Job) (bool, error) {
			if !CanTransition(j.Status, StatusDead, true) {
				return false, nil
			}
			if staleAfter > 0 && now.Sub(j.UpdatedAt) < staleAfter {
				return false, nil
			}
			j.Error = fmt.Sprintf("%s (last status %s)", reclaimedError, j.Status)
			j.Status = StatusDead
			return true, nil
		})
		if err != nil {
			s.logger.Error("Failed to reclaim job", "jobId", candidate.ID, "repositoryId", candidate.RepositoryID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		cleared++
		s.settled(ctx, j)
		s.notify(ctx, j)
		s.logger.Warn("Reclaimed stuck job", "jobId", j.ID, "repositoryId", j.RepositoryID)
	}

	if repositoryID != "" {
		repos[repositoryID] = struct{}{}
	}
	s.metrics.RecordJobsReclaimed(ctx, cleared)

	return &ReclaimResult{
		ClearedJobsCount:      cleared,
		RepositoriesProcessed: len(repos),
	}, nil
}
