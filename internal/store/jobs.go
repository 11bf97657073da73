package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Job struct {
	ID             uuid.UUID
	Type           string
	OwnerID        string
	ProjectRef     string
	Status         string
	IdempotencyKey *string
	Payload        json.RawMessage
	Meta           SchedulerMeta
	Result         json.RawMessage
	ResultSummary  *string
	Error          *string
	LeaseID        uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Lease identifies one RUNNING tenure of a job. Every report a worker makes
// about a job it claimed is conditional on the lease still being current.
type Lease struct {
	JobID   uuid.UUID
	LeaseID uuid.UUID
}

func (j *Job) Lease() Lease {
	return Lease{JobID: j.ID, LeaseID: j.LeaseID}
}

type NewJob struct {
	// ID is optional; a random one is generated when zero.
	ID             uuid.UUID
	Type           string
	OwnerID        string
	ProjectRef     string
	IdempotencyKey string
	Payload        json.RawMessage
	Meta           SchedulerMeta
}

type ListFilter struct {
	Status  string
	OwnerID string
	Limit   int
}

const jobColumns = `
	id,
	type,
	owner_id,
	project_ref,
	status,
	idempotency_key,
	payload,
	meta,
	result,
	result_summary,
	error,
	COALESCE(lease_id, '00000000-0000-0000-0000-000000000000'::uuid),
	created_at,
	updated_at
`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job       Job
		payload   []byte
		metaBytes []byte
		result    []byte
	)

	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.OwnerID,
		&job.ProjectRef,
		&job.Status,
		&job.IdempotencyKey,
		&payload,
		&metaBytes,
		&result,
		&job.ResultSummary,
		&job.Error,
		&job.LeaseID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	meta, err := decodeMeta(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("decode meta of job %s: %w", job.ID, err)
	}

	job.Payload = payload
	job.Meta = meta
	if len(result) > 0 {
		job.Result = result
	}

	return &job, nil
}

// CreateJob inserts a PENDING job. When the idempotency key is already taken
// the insert is a no-op and the existing job is returned with created=false.
func (s *Store) CreateJob(
	ctx context.Context,
	newJob NewJob,
) (*Job, bool, error) {
	job, created, err := insertJob(ctx, s.connectionPool, newJob, s.now())
	if err != nil && isDuplicateKey(err) {
		existing, lookupErr := s.findExisting(ctx, newJob)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}

	return job, created, err
}

func (s *Store) findExisting(ctx context.Context, newJob NewJob) (*Job, error) {
	if newJob.IdempotencyKey != "" {
		return s.GetJobByIdempotencyKey(ctx, newJob.IdempotencyKey)
	}
	return s.GetJob(ctx, newJob.ID)
}

func insertJob(
	ctx context.Context,
	q querier,
	newJob NewJob,
	now time.Time,
) (*Job, bool, error) {
	if newJob.Type == "" {
		return nil, false, errors.New("job type is required")
	}
	if newJob.OwnerID == "" {
		return nil, false, errors.New("job owner is required")
	}

	jobID := newJob.ID
	if jobID == uuid.Nil {
		jobID = uuid.New()
	}

	var idempotencyKey *string
	if newJob.IdempotencyKey != "" {
		idempotencyKey = &newJob.IdempotencyKey
	}

	payload := []byte(newJob.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	metaBytes, err := encodeMeta(newJob.Meta)
	if err != nil {
		return nil, false, err
	}

	job, err := scanJob(q.QueryRow(
		ctx,
		`
		INSERT INTO jobs (
			id,
			type,
			owner_id,
			project_ref,
			status,
			idempotency_key,
			payload,
			meta,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, $7, $8, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+jobColumns,
		jobID,
		newJob.Type,
		newJob.OwnerID,
		newJob.ProjectRef,
		idempotencyKey,
		payload,
		metaBytes,
		now,
	))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// ON CONFLICT swallowed the insert: the key already exists.
	existing, err := scanJob(q.QueryRow(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`,
		newJob.IdempotencyKey,
	))
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (s *Store) GetJob(
	ctx context.Context,
	jobID uuid.UUID,
) (*Job, error) {
	job, err := scanJob(s.connectionPool.QueryRow(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`,
		jobID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, err
	}

	return job, nil
}

func (s *Store) GetJobByIdempotencyKey(
	ctx context.Context,
	idempotencyKey string,
) (*Job, error) {
	job, err := scanJob(s.connectionPool.QueryRow(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`,
		idempotencyKey,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, err
	}

	return job, nil
}

func (s *Store) ListJobs(
	ctx context.Context,
	filter ListFilter,
) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.connectionPool.Query(
		ctx,
		`
		SELECT `+jobColumns+`
		FROM jobs
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR owner_id = $2)
		ORDER BY created_at DESC, id
		LIMIT $3
		`,
		filter.Status,
		filter.OwnerID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (s *Store) CountRunning(
	ctx context.Context,
	ownerID string,
) (int, error) {
	return countRunning(ctx, s.connectionPool, ownerID)
}

func countRunning(ctx context.Context, q querier, ownerID string) (int, error) {
	var running int
	err := q.QueryRow(
		ctx,
		`SELECT count(*) FROM jobs WHERE owner_id = $1 AND status = 'RUNNING'`,
		ownerID,
	).Scan(&running)

	return running, err
}

type Completion struct {
	Result    json.RawMessage
	Summary   string
	Successor *NewJob

	// Meta, when set, replaces the job's scheduler metadata. A pending
	// reservation in it is handed back on CompletionResult.Rollback when
	// Skipped is set, since the metered work never ran.
	Meta    *SchedulerMeta
	Skipped bool
}

type CompletionResult struct {
	Job              *Job
	Successor        *Job
	SuccessorCreated bool
	Rollback         *QuotaReservation
}

// CompleteJob moves a leased job to COMPLETED and, in the same transaction,
// enqueues its successor. A successor whose idempotency key already exists is
// left alone.
func (s *Store) CompleteJob(
	ctx context.Context,
	lease Lease,
	completion Completion,
) (CompletionResult, error) {
	var result CompletionResult
	now := s.now()

	err := s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		transition := jobTransition{
			jobID:   lease.JobID,
			from:    JobRunning,
			to:      JobCompleted,
			leaseID: &lease.LeaseID,
			result:  completion.Result,
		}
		if completion.Summary != "" {
			transition.summary = &completion.Summary
		}
		if completion.Meta != nil {
			meta := *completion.Meta
			if completion.Skipped {
				result.Rollback = meta.takeRollback()
			}
			transition.meta = &meta
		}

		job, err := transitionJob(ctx, transaction, transition, now)
		if err != nil {
			return err
		}
		result.Job = job

		if completion.Successor == nil {
			return nil
		}

		successor, created, err := insertJob(ctx, transaction, *completion.Successor, now)
		if err != nil {
			return fmt.Errorf("enqueue successor: %w", err)
		}
		result.Successor = successor
		result.SuccessorCreated = created

		return nil
	})

	return result, err
}

type RequeueResult struct {
	Job *Job
	// Rollback is the reservation the caller must compensate. It is non-nil
	// only for the first unsuccessful exit from RUNNING.
	Rollback *QuotaReservation
}

// RequeueJob returns a leased job to PENDING with updated scheduler metadata
// (attempts, nextRunAt, lastError). A reservation still pending is marked
// rolled back in the same UPDATE and handed to the caller.
func (s *Store) RequeueJob(
	ctx context.Context,
	lease Lease,
	meta SchedulerMeta,
) (RequeueResult, error) {
	var result RequeueResult

	err := s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		rollback := meta.takeRollback()

		job, err := transitionJob(ctx, transaction, jobTransition{
			jobID:   lease.JobID,
			from:    JobRunning,
			to:      JobPending,
			leaseID: &lease.LeaseID,
			meta:    &meta,
		}, s.now())
		if err != nil {
			return err
		}

		result = RequeueResult{Job: job, Rollback: rollback}
		return nil
	})

	return result, err
}

type FailResult struct {
	Job *Job
	// Rollback is the reservation the caller must compensate, unless an
	// earlier requeue already handed it back.
	Rollback *QuotaReservation
}

// FailJob moves a leased job to FAILED with message persisted verbatim.
func (s *Store) FailJob(
	ctx context.Context,
	lease Lease,
	message string,
	meta SchedulerMeta,
) (FailResult, error) {
	var result FailResult

	err := s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		job, rollback, err := failJob(ctx, transaction, lease, message, meta, s.now())
		if err != nil {
			return err
		}
		result = FailResult{Job: job, Rollback: rollback}
		return nil
	})

	return result, err
}

func failJob(
	ctx context.Context,
	transaction pgx.Tx,
	lease Lease,
	message string,
	meta SchedulerMeta,
	now time.Time,
) (*Job, *QuotaReservation, error) {
	rollback := meta.takeRollback()

	job, err := transitionJob(ctx, transaction, jobTransition{
		jobID:    lease.JobID,
		from:     JobRunning,
		to:       JobFailed,
		leaseID:  &lease.LeaseID,
		meta:     &meta,
		errorMsg: &message,
	}, now)
	if err != nil {
		return nil, nil, err
	}

	return job, rollback, nil
}

type jobTransition struct {
	jobID uuid.UUID
	from  string
	to    string

	// leaseID, when set, must match the current lease.
	leaseID *uuid.UUID

	// newLease and lockedBy replace the lease columns; nil clears them.
	newLease *uuid.UUID
	lockedBy *uuid.UUID

	meta     *SchedulerMeta
	result   json.RawMessage
	summary  *string
	errorMsg *string
}

func transitionJob(
	ctx context.Context,
	transaction pgx.Tx,
	transition jobTransition,
	now time.Time,
) (*Job, error) {
	if err := ValidateJobTransition(transition.from, transition.to); err != nil {
		return nil, err
	}

	var metaBytes []byte
	if transition.meta != nil {
		encoded, err := encodeMeta(*transition.meta)
		if err != nil {
			return nil, err
		}
		metaBytes = encoded
	}

	var resultBytes []byte
	if len(transition.result) > 0 {
		resultBytes = transition.result
	}

	job, err := scanJob(transaction.QueryRow(
		ctx,
		`
		UPDATE jobs
		SET status = $2,
			updated_at = $3,
			meta = COALESCE($4::jsonb, meta),
			lease_id = $5,
			locked_by = $6,
			result = COALESCE($7::jsonb, result),
			result_summary = COALESCE($8, result_summary),
			error = COALESCE($9, error)
		WHERE id = $1
			AND status = $10
			AND ($11::uuid IS NULL OR lease_id = $11)
		RETURNING `+jobColumns,
		transition.jobID,
		transition.to,
		now,
		metaBytes,
		transition.newLease,
		transition.lockedBy,
		resultBytes,
		transition.summary,
		transition.errorMsg,
		transition.from,
		transition.leaseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if transition.leaseID != nil {
				return nil, ErrLeaseLost
			}
			return nil, ErrInvalidStateTransition
		}

		return nil, err
	}

	return job, nil
}
