package postgres

import (
	"context"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

// maxClaimAttempts bounds the insert-or-read loop when the pointer is
// released between the two statements.
const maxClaimAttempts = 3

// ClaimActive inserts the repository pointer unless one exists, returning
// whichever claim is current.
func (s *Store) ClaimActive(ctx context.Context, repositoryID, jobID string) (job.ActiveClaim, bool, error) {
	for range maxClaimAttempts {
		var claim job.ActiveClaim
		err := s.pool.QueryRow(ctx, `
			INSERT INTO docjobs_active_jobs (repository_id, job_id, claimed_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (repository_id) DO NOTHING
			RETURNING job_id, claimed_at`,
			repositoryID, jobID,
		).Scan(&claim.JobID, &claim.ClaimedAt)
		if err == nil {
			return claim, true, nil
		}
		if !isNoRows(err) {
			return job.ActiveClaim{}, false, wrap("claim active", err)
		}

		err = s.pool.QueryRow(ctx,
			`SELECT job_id, claimed_at FROM docjobs_active_jobs WHERE repository_id = $1`,
			repositoryID,
		).Scan(&claim.JobID, &claim.ClaimedAt)
		if err == nil {
			return claim, claim.JobID == jobID, nil
		}
		if !isNoRows(err) {
			return job.ActiveClaim{}, false, wrap("read active", err)
		}
	}
	return job.ActiveClaim{}, false, apperrors.Conflict("repository", "active job pointer for "+repositoryID+" is contended")
}

// SwapActive replaces the pointer only if it still names oldJobID.
func (s *Store) SwapActive(ctx context.Context, repositoryID, oldJobID, newJobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE docjobs_active_jobs SET job_id = $3, claimed_at = NOW()
		WHERE repository_id = $1 AND job_id = $2`,
		repositoryID, oldJobID, newJobID,
	)
	if err != nil {
		return false, wrap("swap active", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseActive deletes the pointer only if it still names jobID.
func (s *Store) ReleaseActive(ctx context.Context, repositoryID, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM docjobs_active_jobs WHERE repository_id = $1 AND job_id = $2`,
		repositoryID, jobID,
	)
	if err != nil {
		return wrap("release active", err)
	}
	return nil
}
