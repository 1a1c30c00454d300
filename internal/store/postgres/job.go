package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

const jobColumns = `
	id, repository_id, user_id, prompt, status, callback_token,
	progress, current_step, total_steps, error,
	cancel_requested, cancel_reason, documents, summary,
	version, created_at, updated_at`

// Create inserts a new job at version 1.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	docs, summary, err := encodeArtifacts(j)
	if err != nil {
		return fmt.Errorf("docjobs/postgres: encode job: %w", err)
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO docjobs_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, $15, $16)`,
		j.ID, j.RepositoryID, j.UserID, j.Prompt, string(j.Status), j.CallbackToken,
		j.Progress, j.CurrentStep, j.TotalSteps, j.Error,
		j.CancelRequested, j.CancelReason, docs, summary,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return job.ErrAlreadyExists
		}
		return wrap("create job", err)
	}
	j.Version = 1
	return nil
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM docjobs_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("job", jobID)
		}
		return nil, wrap("get job", err)
	}
	return j, nil
}

// Update writes j if the stored version is still expectedVersion.
func (s *Store) Update(ctx context.Context, j *job.Job, expectedVersion int64) error {
	docs, summary, err := encodeArtifacts(j)
	if err != nil {
		return fmt.Errorf("docjobs/postgres: encode job: %w", err)
	}

	var updatedAt time.Time
	err = s.pool.QueryRow(ctx, `
		UPDATE docjobs_jobs SET
			status = $3, progress = $4, current_step = $5, total_steps = $6,
			error = $7, cancel_requested = $8, cancel_reason = $9,
			documents = $10, summary = $11,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING updated_at`,
		j.ID, expectedVersion,
		string(j.Status), j.Progress, j.CurrentStep, j.TotalSteps,
		j.Error, j.CancelRequested, j.CancelReason,
		docs, summary,
	).Scan(&updatedAt)
	if err == nil {
		j.Version = expectedVersion + 1
		j.UpdatedAt = updatedAt
		return nil
	}
	if !isNoRows(err) {
		return wrap("update job", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM docjobs_jobs WHERE id = $1)`, j.ID,
	).Scan(&exists); err != nil {
		return wrap("update job", err)
	}
	if !exists {
		return apperrors.NotFound("job", j.ID)
	}
	return job.ErrVersionConflict
}

// ListActive returns non-terminal jobs, oldest first.
func (s *Store) ListActive(ctx context.Context, repositoryID string) ([]*job.Job, error) {
	statuses := make([]string, len(job.ActiveStatuses))
	for i, st := range job.ActiveStatuses {
		statuses[i] = string(st)
	}

	query := `SELECT ` + jobColumns + ` FROM docjobs_jobs WHERE status = ANY($1)`
	args := []any{statuses}
	if repositoryID != "" {
		query += ` AND repository_id = $2`
		args = append(args, repositoryID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list active jobs", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrap("scan job", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list active jobs", err)
	}
	return out, nil
}

func encodeArtifacts(j *job.Job) (docs, summary []byte, err error) {
	docs, err = marshalJSON(j.Documents, j.Documents != nil)
	if err != nil {
		return nil, nil, err
	}
	summary, err = marshalJSON(j.Summary, j.Summary != nil)
	if err != nil {
		return nil, nil, err
	}
	return docs, summary, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j       job.Job
		status  string
		docs    []byte
		summary []byte
	)
	err := row.Scan(
		&j.ID, &j.RepositoryID, &j.UserID, &j.Prompt, &status, &j.CallbackToken,
		&j.Progress, &j.CurrentStep, &j.TotalSteps, &j.Error,
		&j.CancelRequested, &j.CancelReason, &docs, &summary,
		&j.Version, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)

	if err := unmarshalJSON(docs, &j.Documents); err != nil {
		return nil, fmt.Errorf("docjobs/postgres: decode documents for %s: %w", j.ID, err)
	}
	if len(summary) > 0 {
		j.Summary = &job.Summary{}
		if err := unmarshalJSON(summary, j.Summary); err != nil {
			return nil, fmt.Errorf("docjobs/postgres: decode summary for %s: %w", j.ID, err)
		}
	}
	return &j, nil
}
