package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

// Create stores a new job at version 1.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	j.Version = 1

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("docjobs/redis: encode job: %w", err)
	}

	keys := []string{jobKey(j.ID), activeJobsKey, repoActiveJobsKey(j.RepositoryID)}
	n, err := createJob.Run(ctx, s.client, keys, data, j.ID, activeFlag(j)).Int()
	if err != nil {
		return wrap("create job", err)
	}
	if n == 0 {
		return job.ErrAlreadyExists
	}
	return nil
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*job.Job, error) {
	vals, err := s.client.HMGet(ctx, jobKey(jobID), "data", "version").Result()
	if err != nil {
		return nil, wrap("get job", err)
	}
	if vals[0] == nil {
		return nil, apperrors.NotFound("job", jobID)
	}
	return decodeJob(vals[0], vals[1])
}

// Update writes j if the stored version is still expectedVersion.
func (s *Store) Update(ctx context.Context, j *job.Job, expectedVersion int64) error {
	next := *j
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("docjobs/redis: encode job: %w", err)
	}

	keys := []string{jobKey(j.ID), activeJobsKey, repoActiveJobsKey(j.RepositoryID)}
	n, err := updateJob.Run(ctx, s.client, keys,
		strconv.FormatInt(expectedVersion, 10), data, j.ID, activeFlag(j),
	).Int()
	if err != nil {
		return wrap("update job", err)
	}
	switch n {
	case -1:
		return apperrors.NotFound("job", j.ID)
	case 0:
		return job.ErrVersionConflict
	}
	j.Version = next.Version
	j.UpdatedAt = next.UpdatedAt
	return nil
}

// ListActive returns non-terminal jobs, oldest first.
func (s *Store) ListActive(ctx context.Context, repositoryID string) ([]*job.Job, error) {
	setKey := activeJobsKey
	if repositoryID != "" {
		setKey = repoActiveJobsKey(repositoryID)
	}

	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, wrap("list active jobs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, jobKey(id), "data", "version")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, wrap("list active jobs", err)
	}

	out := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || vals[0] == nil {
			continue
		}
		j, err := decodeJob(vals[0], vals[1])
		if err != nil {
			return nil, err
		}
		if j.Status.IsTerminal() {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func activeFlag(j *job.Job) string {
	if j.Status.IsTerminal() {
		return "0"
	}
	return "1"
}

// decodeJob parses the stored document. The version field is authoritative.
func decodeJob(data, version any) (*job.Job, error) {
	raw, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("docjobs/redis: unexpected job document type %T", data)
	}
	var j job.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("docjobs/redis: decode job: %w", err)
	}
	if vs, ok := version.(string); ok {
		v, err := strconv.ParseInt(vs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("docjobs/redis: decode version for %s: %w", j.ID, err)
		}
		j.Version = v
	}
	return &j, nil
}
