package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidStateTransition = errors.New("invalid job state transition")
	ErrJobNotFound            = errors.New("job not found")

	// ErrLeaseLost is returned when a worker reports on a job it no longer
	// holds: the reaper reverted it, or another worker has claimed it since.
	ErrLeaseLost = errors.New("job lease lost")
)

// isDuplicateKey reports a unique_violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
