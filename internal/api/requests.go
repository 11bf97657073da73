package api

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/vin-jex/job-engine/internal/store"
)

type CreateJobRequest struct {
	Type           string          `json:"type"`
	OwnerID        string          `json:"owner_id"`
	ProjectRef     string          `json:"project_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty" swaggertype:"object"`

	// Chain lists the job types to run, in order, after this one completes.
	Chain []string `json:"chain,omitempty"`

	DependsOnJobID   string                   `json:"depends_on_job_id,omitempty"`
	QuotaReservation *QuotaReservationRequest `json:"quota_reservation,omitempty"`
}

type QuotaReservationRequest struct {
	PeriodKey string `json:"period_key"`
	Metric    string `json:"metric"`
	Amount    int64  `json:"amount"`
}

func (r CreateJobRequest) toNewJob() (store.NewJob, error) {
	if r.Type == "" {
		return store.NewJob{}, errors.New("type is required")
	}
	if r.OwnerID == "" {
		return store.NewJob{}, errors.New("owner_id is required")
	}
	if len(r.Chain) > 0 && r.IdempotencyKey == "" {
		return store.NewJob{}, errors.New("chained jobs require an idempotency_key")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return store.NewJob{}, errors.New("payload must be valid JSON")
	}

	var meta store.SchedulerMeta

	for i := len(r.Chain) - 1; i >= 0; i-- {
		if r.Chain[i] == "" {
			return store.NewJob{}, errors.New("chain entries must name a job type")
		}
		meta.ChainNext = &store.ChainNext{Type: r.Chain[i], Next: meta.ChainNext}
	}

	if r.DependsOnJobID != "" {
		parent, err := uuid.Parse(r.DependsOnJobID)
		if err != nil {
			return store.NewJob{}, errors.New("depends_on_job_id must be a UUID")
		}
		meta.DependsOnJobID = &parent
	}

	if reservation := r.QuotaReservation; reservation != nil {
		if reservation.Metric == "" || reservation.Amount <= 0 {
			return store.NewJob{}, errors.New("quota_reservation needs a metric and a positive amount")
		}
		meta.QuotaReservation = &store.QuotaReservation{
			PeriodKey: reservation.PeriodKey,
			Metric:    reservation.Metric,
			Amount:    reservation.Amount,
		}
	}

	return store.NewJob{
		Type:           r.Type,
		OwnerID:        r.OwnerID,
		ProjectRef:     r.ProjectRef,
		IdempotencyKey: r.IdempotencyKey,
		Payload:        r.Payload,
		Meta:           meta,
	}, nil
}
