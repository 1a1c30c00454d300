package redis

import (
	"context"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

// Repository looks a repository up by ID.
func (s *Store) Repository(ctx context.Context, id string) (*job.Repository, error) {
	name, err := s.client.HGet(ctx, repositoryKey(id), "fullName").Result()
	if err != nil {
		if isNil(err) {
			return nil, apperrors.NotFound("repository", id)
		}
		return nil, wrap("get repository", err)
	}
	return &job.Repository{ID: id, FullName: name}, nil
}

// RepositoryByFullName looks a repository up by owner/name.
func (s *Store) RepositoryByFullName(ctx context.Context, fullName string) (*job.Repository, error) {
	id, err := s.client.HGet(ctx, repositoryNamesKey, fullName).Result()
	if err != nil {
		if isNil(err) {
			return nil, apperrors.NotFound("repository", fullName)
		}
		return nil, wrap("get repository by name", err)
	}
	return s.Repository(ctx, id)
}

// User looks a user up by ID.
func (s *Store) User(ctx context.Context, id string) (*job.User, error) {
	vals, err := s.client.HMGet(ctx, userKey(id), "id", "name").Result()
	if err != nil {
		return nil, wrap("get user", err)
	}
	if vals[0] == nil {
		return nil, apperrors.NotFound("user", id)
	}
	name, _ := vals[1].(string)
	return &job.User{ID: id, Name: name}, nil
}

// UpsertRepository registers a repository.
func (s *Store) UpsertRepository(ctx context.Context, r job.Repository) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, repositoryKey(r.ID), "fullName", r.FullName)
	pipe.HSet(ctx, repositoryNamesKey, r.FullName, r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("put repository", err)
	}
	return nil
}

// UpsertUser registers a user.
func (s *Store) UpsertUser(ctx context.Context, u job.User) error {
	if err := s.client.HSet(ctx, userKey(u.ID), "id", u.ID, "name", u.Name).Err(); err != nil {
		return wrap("put user", err)
	}
	return nil
}
