package job

import (
	"context"
	"fmt"

	"docjobs/internal/apperrors"
)

const (
	defaultCancelReason = "Canceled by user"
	maxReasonLength     = 1024
)

// Cancel requests termination of a job on behalf of an end user.
//
// The worker is not stopped; it observes the canceled status and exits on its
// own. Any callback arriving after this commits is rejected.
func (s *Service) Cancel(ctx context.Context, jobID, reason string) (*Projection, error) {
	if jobID == "" {
		return nil, apperrors.Validation("jobId", "jobId is required")
	}
	if len(reason) > maxReasonLength {
		return nil, apperrors.Validation("reason", fmt.Sprintf("reason exceeds maximum length of %d", maxReasonLength))
	}
	if reason == "" {
		reason = defaultCancelReason
	}

	j, _, err := s.mutate(ctx, jobID, func(j *Job) (bool, error) {
		if j.Status.IsTerminal() {
			return false, apperrors.StateConflict("job", fmt.Sprintf("job %s is already stopped (%s)", j.ID, j.Status))
		}
		j.Status = StatusCanceled
		j.CancelRequested = true
		j.CancelReason = reason
		j.Progress = reason
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.settled(ctx, j)
	s.notify(ctx, j)
	s.logger.Info("Job canceled", "jobId", j.ID, "repositoryId", j.RepositoryID, "reason", reason)

	return project(j), nil
}
