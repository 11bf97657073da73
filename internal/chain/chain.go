// Package chain derives the follow-up job a completed job enqueues.
package chain

import (
	"log/slog"

	"github.com/vin-jex/job-engine/internal/store"
)

type ChainableTypes interface {
	Chainable(jobType string) bool
}

type Chainer struct {
	types  ChainableTypes
	logger *slog.Logger
}

func NewChainer(types ChainableTypes, logger *slog.Logger) *Chainer {
	return &Chainer{
		types:  types,
		logger: logger,
	}
}

// Key is the idempotency key of the follow-up of type nextType in the chain
// rooted at rootKey. Every attempt to chain the same step derives the same
// key, so duplicates collapse on insert.
func Key(rootKey, nextType string) string {
	return rootKey + ":" + nextType
}

// Successor returns the job to enqueue after job completes, or nil when
// there is none. The follow-up waits on job, inherits its owner, project and
// payload, and carries the rest of the chain.
func (c *Chainer) Successor(job *store.Job) *store.NewJob {
	next := job.Meta.ChainNext
	if next == nil || next.Type == "" {
		return nil
	}
	if !c.types.Chainable(job.Type) {
		return nil
	}

	rootKey := next.RootKey
	if rootKey == "" && job.IdempotencyKey != nil {
		rootKey = *job.IdempotencyKey
	}
	if rootKey == "" {
		c.logger.Warn("chain skipped: job has no root idempotency key",
			"job_id", job.ID,
			"job_type", job.Type,
			"next_type", next.Type,
		)
		return nil
	}

	dependsOn := job.ID
	meta := store.SchedulerMeta{
		DependsOnJobID: &dependsOn,
	}
	if next.Next != nil {
		rest := *next.Next
		rest.RootKey = rootKey
		meta.ChainNext = &rest
	}

	return &store.NewJob{
		Type:           next.Type,
		OwnerID:        job.OwnerID,
		ProjectRef:     job.ProjectRef,
		IdempotencyKey: Key(rootKey, next.Type),
		Payload:        job.Payload,
		Meta:           meta,
	}
}
