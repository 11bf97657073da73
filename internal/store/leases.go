package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ClaimRequest struct {
	WorkerID uuid.UUID

	// MaxRunningPerOwner caps RUNNING jobs per owner; zero disables the cap.
	MaxRunningPerOwner int
}

type ClaimResult struct {
	// Job is nil when no eligible job could be claimed.
	Job *Job

	// SkippedOwners lists owners whose due jobs were passed over because
	// they were at their running-job cap. Their jobs stay PENDING.
	SkippedOwners []string

	// ContendedOwners lists owners passed over because another claimer held
	// their admission lock. Their cap was not checked.
	ContendedOwners []string
}

type ownerAdmission int

const (
	ownerAdmitted ownerAdmission = iota
	ownerAtCap
	ownerContended
)

// ClaimNext atomically moves the oldest eligible PENDING job to RUNNING under
// a fresh lease. Candidates are row-locked with SKIP LOCKED, so concurrent
// claimers across processes never receive the same job.
func (s *Store) ClaimNext(
	ctx context.Context,
	request ClaimRequest,
) (ClaimResult, error) {
	var result ClaimResult
	now := s.now()

	err := s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		skipped := make([]string, 0)
		contended := make([]string, 0)
		// passedOver excludes both lists from the next candidate query.
		passedOver := make([]string, 0)
		holdsOwnerLock := false

		for {
			var (
				jobID   uuid.UUID
				ownerID string
			)

			err := transaction.QueryRow(
				ctx,
				`
				SELECT j.id, j.owner_id
				FROM jobs j
				WHERE j.status = 'PENDING'
					AND (
						j.meta->>'nextRunAt' IS NULL
						OR (j.meta->>'nextRunAt')::bigint <= $1
					)
					AND (
						j.meta->>'dependsOnJobId' IS NULL
						OR EXISTS (
							SELECT 1
							FROM jobs d
							WHERE d.id = (j.meta->>'dependsOnJobId')::uuid
								AND d.status = 'COMPLETED'
						)
					)
					AND NOT (j.owner_id = ANY(COALESCE($2::text[], '{}')))
				ORDER BY j.created_at, j.id
				FOR UPDATE OF j SKIP LOCKED
				LIMIT 1
				`,
				now.UnixMilli(),
				passedOver,
			).Scan(&jobID, &ownerID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					result.SkippedOwners = skipped
					result.ContendedOwners = contended
					return nil
				}
				return err
			}

			if request.MaxRunningPerOwner > 0 {
				admission, err := s.admitOwner(ctx, transaction, ownerID, request.MaxRunningPerOwner, holdsOwnerLock)
				if err != nil {
					return err
				}

				if admission != ownerAdmitted {
					passedOver = append(passedOver, ownerID)
				}
				switch admission {
				case ownerAtCap:
					holdsOwnerLock = true
					skipped = append(skipped, ownerID)
					continue
				case ownerContended:
					contended = append(contended, ownerID)
					continue
				}
				holdsOwnerLock = true
			}

			newLease := uuid.New()
			workerID := request.WorkerID

			job, err := transitionJob(ctx, transaction, jobTransition{
				jobID:    jobID,
				from:     JobPending,
				to:       JobRunning,
				newLease: &newLease,
				lockedBy: &workerID,
			}, now)
			if err != nil {
				return err
			}

			result.Job = job
			result.SkippedOwners = skipped
			result.ContendedOwners = contended
			return nil
		}
	})

	return result, err
}

// admitOwner serializes claimers for one owner with a transaction-scoped
// advisory lock, then checks the owner's RUNNING count against the cap.
// Only the first owner lock of a transaction may block; later ones use the
// try variant so two claimers can never wait on each other. A try that
// loses reports ownerContended without looking at the cap.
func (s *Store) admitOwner(
	ctx context.Context,
	transaction pgx.Tx,
	ownerID string,
	maxRunning int,
	holdsOwnerLock bool,
) (ownerAdmission, error) {
	if holdsOwnerLock {
		var locked bool
		if err := transaction.QueryRow(
			ctx,
			`SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`,
			ownerID,
		).Scan(&locked); err != nil {
			return ownerContended, err
		}
		if !locked {
			return ownerContended, nil
		}
	} else {
		if _, err := transaction.Exec(
			ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			ownerID,
		); err != nil {
			return ownerContended, err
		}
	}

	running, err := countRunning(ctx, transaction, ownerID)
	if err != nil {
		return ownerContended, err
	}

	if running >= maxRunning {
		return ownerAtCap, nil
	}
	return ownerAdmitted, nil
}

type ReapRequest struct {
	Timeout   time.Duration
	BatchSize int

	// MaxAttempts fails a stuck job instead of re-queueing it once its
	// attempts reach the ceiling; zero means unlimited.
	MaxAttempts int
	Reason      string
}

type ReapedJob struct {
	Job      *Job
	Failed   bool
	Rollback *QuotaReservation
}

// ReapStuckJobs reverts RUNNING jobs that have not been updated within the
// timeout back to PENDING, due immediately, with attempts incremented. A
// reservation still pending is handed back on the entry's Rollback.
func (s *Store) ReapStuckJobs(
	ctx context.Context,
	request ReapRequest,
) ([]ReapedJob, error) {
	var reaped []ReapedJob
	now := s.now()

	batchSize := request.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	err := s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		rows, err := transaction.Query(
			ctx,
			`
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = 'RUNNING'
				AND updated_at < $1
			ORDER BY updated_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
			`,
			now.Add(-request.Timeout),
			batchSize,
		)
		if err != nil {
			return err
		}

		var stuck []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return err
			}
			stuck = append(stuck, job)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, job := range stuck {
			entry, err := reapSingleJob(ctx, transaction, job, request, now)
			if err != nil {
				return err
			}
			reaped = append(reaped, entry)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return reaped, nil
}

func reapSingleJob(
	ctx context.Context,
	transaction pgx.Tx,
	job *Job,
	request ReapRequest,
	now time.Time,
) (ReapedJob, error) {
	meta := job.Meta
	meta.Attempts++
	meta.LastError = request.Reason
	meta.ErrorSnippet = ""
	meta.Transient = true

	if request.MaxAttempts > 0 && meta.Attempts >= request.MaxAttempts {
		failed, rollback, err := failJob(ctx, transaction, job.Lease(), request.Reason, meta, now)
		if err != nil {
			return ReapedJob{}, err
		}
		return ReapedJob{Job: failed, Failed: true, Rollback: rollback}, nil
	}

	meta.SetNextRunAt(now)
	rollback := meta.takeRollback()

	requeued, err := transitionJob(ctx, transaction, jobTransition{
		jobID:   job.ID,
		from:    JobRunning,
		to:      JobPending,
		leaseID: &job.LeaseID,
		meta:    &meta,
	}, now)
	if err != nil {
		return ReapedJob{}, err
	}

	return ReapedJob{Job: requeued, Rollback: rollback}, nil
}
