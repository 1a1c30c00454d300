package job

import (
	"context"

	"docjobs/internal/apperrors"
)

// Get returns the client-facing projection of a job.
func (s *Service) Get(ctx context.Context, jobID string) (*Projection, error) {
	if jobID == "" {
		return nil, apperrors.Validation("jobId", "jobId is required")
	}
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return project(j), nil
}
