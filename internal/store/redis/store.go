// Package redis implements job.Store and job.Catalog on Redis. Each job is
// a hash holding its JSON document and a version; conditional writes and
// the repository active pointer are Lua scripts so every mutation is a
// single atomic server-side step.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

var (
	_ job.Store   = (*Store)(nil)
	_ job.Catalog = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a Redis-backed job store and catalog.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.With("component", "redis-store")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func isNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// wrap classifies a client error. Replies from the server are permanent;
// network and timeout failures are retryable.
func wrap(op string, err error) error {
	var redisErr goredis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("docjobs/redis: %s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.Unavailable("redis."+op, err)
}
