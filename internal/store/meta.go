package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchedulerMeta is the scheduler's own bookkeeping, persisted in jobs.meta
// next to the opaque business payload so the two never share field names.
type SchedulerMeta struct {
	Attempts         int               `json:"attempts,omitempty"`
	NextRunAt        *int64            `json:"nextRunAt,omitempty"`
	LastError        string            `json:"lastError,omitempty"`
	ErrorSnippet     string            `json:"errorSnippet,omitempty"`
	Transient        bool              `json:"transient,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	QuotaReservation *QuotaReservation `json:"quotaReservation,omitempty"`
	ChainNext        *ChainNext        `json:"chainNext,omitempty"`
	DependsOnJobID   *uuid.UUID        `json:"dependsOnJobId,omitempty"`
}

type QuotaReservation struct {
	PeriodKey  string `json:"periodKey"`
	Metric     string `json:"metric"`
	Amount     int64  `json:"amount"`
	RolledBack bool   `json:"rolledBack,omitempty"`
}

// ChainNext names the job type to enqueue after a successful run. RootKey is
// the stable idempotency key follow-up keys are derived from; Next continues
// the chain past the follow-up.
type ChainNext struct {
	Type    string     `json:"type"`
	RootKey string     `json:"rootKey,omitempty"`
	Next    *ChainNext `json:"next,omitempty"`
}

func (m SchedulerMeta) Due(now time.Time) bool {
	return m.NextRunAt == nil || *m.NextRunAt <= now.UnixMilli()
}

func (m *SchedulerMeta) SetNextRunAt(at time.Time) {
	ms := at.UnixMilli()
	m.NextRunAt = &ms
}

func (m SchedulerMeta) NextRunTime() (time.Time, bool) {
	if m.NextRunAt == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*m.NextRunAt), true
}

// PendingRollback reports whether the job holds a reservation that has not
// been compensated yet.
func (m SchedulerMeta) PendingRollback() bool {
	return m.QuotaReservation != nil && !m.QuotaReservation.RolledBack
}

// takeRollback marks a pending reservation rolled back and returns a copy
// for the caller to compensate. It returns nil when there is nothing to hand
// back, so a reservation leaves through exactly one transition.
func (m *SchedulerMeta) takeRollback() *QuotaReservation {
	if !m.PendingRollback() {
		return nil
	}

	reservation := *m.QuotaReservation
	marked := reservation
	marked.RolledBack = true
	m.QuotaReservation = &marked

	return &reservation
}

func encodeMeta(meta SchedulerMeta) ([]byte, error) {
	return json.Marshal(meta)
}

func decodeMeta(raw []byte) (SchedulerMeta, error) {
	var meta SchedulerMeta
	if len(raw) == 0 {
		return meta, nil
	}
	err := json.Unmarshal(raw, &meta)
	return meta, err
}
