package postgres

import (
	"context"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

// Repository looks a repository up by ID.
func (s *Store) Repository(ctx context.Context, id string) (*job.Repository, error) {
	var r job.Repository
	err := s.pool.QueryRow(ctx,
		`SELECT id, full_name FROM docjobs_repositories WHERE id = $1`, id,
	).Scan(&r.ID, &r.FullName)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("repository", id)
		}
		return nil, wrap("get repository", err)
	}
	return &r, nil
}

// RepositoryByFullName looks a repository up by owner/name.
func (s *Store) RepositoryByFullName(ctx context.Context, fullName string) (*job.Repository, error) {
	var r job.Repository
	err := s.pool.QueryRow(ctx,
		`SELECT id, full_name FROM docjobs_repositories WHERE full_name = $1`, fullName,
	).Scan(&r.ID, &r.FullName)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("repository", fullName)
		}
		return nil, wrap("get repository by name", err)
	}
	return &r, nil
}

// User looks a user up by ID.
func (s *Store) User(ctx context.Context, id string) (*job.User, error) {
	var u job.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM docjobs_users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("user", id)
		}
		return nil, wrap("get user", err)
	}
	return &u, nil
}

// UpsertRepository registers a repository, replacing its name if the ID exists.
func (s *Store) UpsertRepository(ctx context.Context, r job.Repository) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO docjobs_repositories (id, full_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name`,
		r.ID, r.FullName,
	)
	if err != nil {
		return wrap("upsert repository", err)
	}
	return nil
}

// UpsertUser registers a user.
func (s *Store) UpsertUser(ctx context.Context, u job.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO docjobs_users (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		u.ID, u.Name,
	)
	if err != nil {
		return wrap("upsert user", err)
	}
	return nil
}
