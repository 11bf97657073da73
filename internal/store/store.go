package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IMPORTANT:
// All job status transitions MUST go through transitionJob.
// Any direct UPDATE of jobs.status outside this gate is a correctness bug.

type Store struct {
	connectionPool *pgxpool.Pool
	now            func() time.Time
	logger         *slog.Logger
}

type Option func(*Store)

// WithClock overrides the wall clock used for nextRunAt and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(
	ctx context.Context,
	databaseURL string,
	options ...Option,
) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	s := &Store{
		connectionPool: pool,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(s)
	}

	return s, nil
}

// Pool exposes the underlying pool so collaborators sharing the database
// (the quota ledger) do not open a second one.
func (s *Store) Pool() *pgxpool.Pool {
	return s.connectionPool
}

func (s *Store) Close() {
	s.connectionPool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.connectionPool.Ping(ctx)
}

func (s *Store) logRollbackFailure(err error) {
	s.logger.Warn("transaction rollback failed", "err", err)
}
