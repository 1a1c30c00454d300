package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"docjobs/internal/job"
)

// ClaimActive sets the repository pointer unless one exists.
func (s *Store) ClaimActive(ctx context.Context, repositoryID, jobID string) (job.ActiveClaim, bool, error) {
	now := time.Now().UTC().UnixMilli()
	res, err := claimActive.Run(ctx, s.client, []string{pointerKey(repositoryID)},
		jobID, strconv.FormatInt(now, 10),
	).Slice()
	if err != nil {
		return job.ActiveClaim{}, false, wrap("claim active", err)
	}
	if len(res) != 3 {
		return job.ActiveClaim{}, false, fmt.Errorf("docjobs/redis: claim active: unexpected reply %v", res)
	}

	holder, _ := res[0].(string)
	claimedAt, _ := res[1].(string)
	ms, err := strconv.ParseInt(claimedAt, 10, 64)
	if err != nil {
		return job.ActiveClaim{}, false, fmt.Errorf("docjobs/redis: claim active: bad timestamp %q", claimedAt)
	}
	won, _ := res[2].(int64)

	claim := job.ActiveClaim{JobID: holder, ClaimedAt: time.UnixMilli(ms).UTC()}
	return claim, won == 1 || holder == jobID, nil
}

// SwapActive moves the pointer only if it still names oldJobID.
func (s *Store) SwapActive(ctx context.Context, repositoryID, oldJobID, newJobID string) (bool, error) {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	n, err := swapActive.Run(ctx, s.client, []string{pointerKey(repositoryID)},
		oldJobID, newJobID, now,
	).Int()
	if err != nil {
		return false, wrap("swap active", err)
	}
	return n == 1, nil
}

// ReleaseActive deletes the pointer only if it still names jobID.
func (s *Store) ReleaseActive(ctx context.Context, repositoryID, jobID string) error {
	if err := releaseActive.Run(ctx, s.client, []string{pointerKey(repositoryID)}, jobID).Err(); err != nil {
		return wrap("release active", err)
	}
	return nil
}
