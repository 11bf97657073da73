// Package quota keeps per-owner usage counters and compensates reservations
// held by jobs that end FAILED.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// Ledger is the collaborator the engine calls to hand back reserved usage.
type Ledger interface {
	RollbackQuota(
		ctx context.Context,
		ownerID string,
		periodKey string,
		metric string,
		amount int64,
	) error
}

type Usage struct {
	OwnerID   string
	PeriodKey string
	Metric    string
	Used      int64
	Limit     int64
	UpdatedAt time.Time
}

// PostgresLedger stores usage in the quota_usage table shared with the job
// store.
type PostgresLedger struct {
	connectionPool *pgxpool.Pool
	now            func() time.Time
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{
		connectionPool: pool,
		now:            time.Now,
	}
}

// Reserve adds amount to the owner's usage when it stays within limit.
// A limit of zero or less means unlimited.
func (l *PostgresLedger) Reserve(
	ctx context.Context,
	ownerID string,
	periodKey string,
	metric string,
	amount int64,
	limit int64,
) (Usage, error) {
	if amount <= 0 {
		return Usage{}, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}
	if limit > 0 && amount > limit {
		return Usage{}, ErrQuotaExceeded
	}

	var usage Usage
	err := l.connectionPool.QueryRow(
		ctx,
		`
		INSERT INTO quota_usage (owner_id, period_key, metric, used, quota_limit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id, period_key, metric) DO UPDATE
		SET used = quota_usage.used + EXCLUDED.used,
			quota_limit = EXCLUDED.quota_limit,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.quota_limit <= 0
			OR quota_usage.used + EXCLUDED.used <= EXCLUDED.quota_limit
		RETURNING owner_id, period_key, metric, used, quota_limit, updated_at
		`,
		ownerID,
		periodKey,
		metric,
		amount,
		limit,
		l.now(),
	).Scan(
		&usage.OwnerID,
		&usage.PeriodKey,
		&usage.Metric,
		&usage.Used,
		&usage.Limit,
		&usage.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usage{}, ErrQuotaExceeded
		}
		return Usage{}, err
	}

	return usage, nil
}

// RollbackQuota decrements usage, floored at zero. Rolling back a reservation
// that was never consumed, or whose row does not exist, is a no-op.
func (l *PostgresLedger) RollbackQuota(
	ctx context.Context,
	ownerID string,
	periodKey string,
	metric string,
	amount int64,
) error {
	if amount <= 0 {
		return nil
	}

	_, err := l.connectionPool.Exec(
		ctx,
		`
		UPDATE quota_usage
		SET used = GREATEST(used - $4, 0),
			updated_at = $5
		WHERE owner_id = $1
			AND period_key = $2
			AND metric = $3
		`,
		ownerID,
		periodKey,
		metric,
		amount,
		l.now(),
	)
	if err != nil {
		return fmt.Errorf("rollback quota for %s/%s/%s: %w", ownerID, periodKey, metric, err)
	}

	return nil
}

func (l *PostgresLedger) Usage(
	ctx context.Context,
	ownerID string,
	periodKey string,
	metric string,
) (Usage, error) {
	usage := Usage{
		OwnerID:   ownerID,
		PeriodKey: periodKey,
		Metric:    metric,
	}

	err := l.connectionPool.QueryRow(
		ctx,
		`
		SELECT used, quota_limit, updated_at
		FROM quota_usage
		WHERE owner_id = $1 AND period_key = $2 AND metric = $3
		`,
		ownerID,
		periodKey,
		metric,
	).Scan(&usage.Used, &usage.Limit, &usage.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, err
	}

	return usage, nil
}
