package job

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"docjobs/internal/apperrors"

	"github.com/google/uuid"
)

// Validation limits
const (
	maxIDLength     = 128
	maxPromptLength = 8192
	tokenBytes      = 32
)

// errClaimLost signals that another admission moved the repository pointer
// between our read and our swap.
var errClaimLost = errors.New("repository claim lost")

// Admit creates a pending job for the repository unless one is already
// active, in which case the active job's ID is returned. At most one
// non-terminal job exists per repository.
func (s *Service) Admit(ctx context.Context, req *AdmitRequest) (*AdmitResult, error) {
	if err := validateAdmit(req); err != nil {
		return nil, err
	}

	logger := s.logger.With("repositoryId", req.RepositoryID, "userId", req.UserID)

	if err := s.call(ctx, "catalog.repository", func(ctx context.Context) error {
		_, err := s.catalog.Repository(ctx, req.RepositoryID)
		return err
	}); err != nil {
		return nil, err
	}
	if err := s.call(ctx, "catalog.user", func(ctx context.Context) error {
		_, err := s.catalog.User(ctx, req.UserID)
		return err
	}); err != nil {
		return nil, err
	}

	// A lost pointer race is retried once before surfacing.
	for range 2 {
		res, err := s.admitOnce(ctx, req)
		if errors.Is(err, errClaimLost) {
			logger.Debug("Admission raced, retrying")
			continue
		}
		if err != nil {
			logger.Error("Admission failed", "error", err)
			return nil, err
		}
		if res.Existing {
			s.metrics.RecordJobAdmitted(ctx, true)
			logger.Info("Repository already has an active job", "jobId", res.JobID)
		} else {
			logger.Info("Job admitted", "jobId", res.JobID)
		}
		return res, nil
	}
	return nil, apperrors.Conflict("job", fmt.Sprintf("admission for repository %s conflicted with a concurrent request, retry", req.RepositoryID))
}

func (s *Service) admitOnce(ctx context.Context, req *AdmitRequest) (*AdmitResult, error) {
	jobID := uuid.NewString()

	var (
		claim   ActiveClaim
		claimed bool
	)
	err := s.call(ctx, "store.claimActive", func(ctx context.Context) error {
		var err error
		claim, claimed, err = s.store.ClaimActive(ctx, req.RepositoryID, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !claimed {
		existing, stale, err := s.inspectClaim(ctx, claim)
		if err != nil {
			return nil, err
		}
		if !stale {
			return existing, nil
		}

		var swapped bool
		err = s.call(ctx, "store.swapActive", func(ctx context.Context) error {
			var err error
			swapped, err = s.store.SwapActive(ctx, req.RepositoryID, claim.JobID, jobID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !swapped {
			return nil, errClaimLost
		}
		s.logger.Info("Replaced stale repository claim", "repositoryId", req.RepositoryID, "staleJobId", claim.JobID)
	}

	token, err := newCallbackToken()
	if err != nil {
		s.releaseClaim(ctx, req.RepositoryID, jobID)
		return nil, apperrors.Internal("job.newCallbackToken", err)
	}

	now := s.now().UTC()
	j := &Job{
		ID:            jobID,
		RepositoryID:  req.RepositoryID,
		UserID:        req.UserID,
		Prompt:        req.Prompt,
		Status:        StatusPending,
		CallbackToken: token,
		Progress:      "Queued",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.call(ctx, "store.create", func(ctx context.Context) error {
		return s.store.Create(ctx, j)
	})
	if err != nil {
		// A timed-out attempt may have committed. The slot is released only
		// once the row is known to be absent.
		stored, getErr := s.getJob(ctx, jobID)
		switch {
		case getErr == nil && stored.CallbackToken == token:
			j, err = stored, nil
		case errors.Is(getErr, apperrors.ErrNotFound):
			s.releaseClaim(ctx, req.RepositoryID, jobID)
			return nil, err
		default:
			s.logger.Warn("Job record state unknown after failed create, keeping repository slot",
				"repositoryId", req.RepositoryID, "jobId", jobID, "error", err)
			return nil, err
		}
	}

	s.metrics.RecordJobAdmitted(ctx, false)
	s.notify(ctx, j)

	if s.launcher != nil {
		if err := s.launcher.Launch(ctx, j); err != nil {
			s.failLaunch(ctx, j, err)
			return nil, apperrors.Internal("launcher.launch", err)
		}
	}

	return &AdmitResult{
		JobID:         j.ID,
		CallbackToken: j.CallbackToken,
		Status:        j.Status,
	}, nil
}

// inspectClaim decides whether the current holder of a repository pointer is
// still active. A holder whose row does not exist yet is an admission in
// flight until ClaimGrace has elapsed.
func (s *Service) inspectClaim(ctx context.Context, claim ActiveClaim) (*AdmitResult, bool, error) {
	holder, err := s.getJob(ctx, claim.JobID)
	switch {
	case err == nil && !holder.Status.IsTerminal():
		return &AdmitResult{JobID: holder.ID, Status: holder.Status, Existing: true}, false, nil
	case err == nil:
		return nil, true, nil
	case errors.Is(err, apperrors.ErrNotFound):
		if s.now().Sub(claim.ClaimedAt) < s.cfg.ClaimGrace {
			return &AdmitResult{JobID: claim.JobID, Status: StatusPending, Existing: true}, false, nil
		}
		return nil, true, nil
	default:
		return nil, false, err
	}
}

func (s *Service) releaseClaim(ctx context.Context, repositoryID, jobID string) {
	err := s.call(ctx, "store.releaseActive", func(ctx context.Context) error {
		return s.store.ReleaseActive(ctx, repositoryID, jobID)
	})
	if err != nil {
		s.logger.Warn("Failed to release repository slot", "repositoryId", repositoryID, "jobId", jobID, "error", err)
	}
}

// failLaunch settles a job whose worker could not be started.
func (s *Service) failLaunch(ctx context.Context, j *Job, cause error) {
	s.logger.Error("Worker launch failed", "jobId", j.ID, "error", cause)

	failed, changed, err := s.mutate(ctx, j.ID, func(j *Job) (bool, error) {
		if j.Status.IsTerminal() {
			return false, nil
		}
		j.Status = StatusFailed
		j.Error = fmt.Sprintf("failed to start worker: %v", cause)
		return true, nil
	})
	if err != nil {
		// The job is still non-terminal, so its slot stays held until the
		// reclaimer settles it.
		s.logger.Error("Failed to record launch failure", "jobId", j.ID, "error", err)
		return
	}
	if changed {
		s.settled(ctx, failed)
		s.notify(ctx, failed)
	}
}

func newCallbackToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validateAdmit validates an admission request. Does not modify the request.
func validateAdmit(req *AdmitRequest) error {
	if req.RepositoryID == "" {
		return apperrors.Validation("repositoryId", "repositoryId is required")
	}
	if len(req.RepositoryID) > maxIDLength {
		return apperrors.Validation("repositoryId", fmt.Sprintf("repositoryId exceeds maximum length of %d", maxIDLength))
	}
	if req.UserID == "" {
		return apperrors.Validation("userId", "userId is required")
	}
	if len(req.UserID) > maxIDLength {
		return apperrors.Validation("userId", fmt.Sprintf("userId exceeds maximum length of %d", maxIDLength))
	}
	if len(req.Prompt) > maxPromptLength {
		return apperrors.Validation("prompt", fmt.Sprintf("prompt exceeds maximum length of %d", maxPromptLength))
	}
	return nil
}
