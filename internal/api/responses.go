package api

import (
	"encoding/json"
	"time"

	"github.com/vin-jex/job-engine/internal/store"
)

type CreateJobResponse struct {
	Created bool        `json:"created"`
	Job     JobResponse `json:"job"`
}

type JobResponse struct {
	JobID          string          `json:"job_id"`
	Type           string          `json:"type"`
	OwnerID        string          `json:"owner_id"`
	ProjectRef     string          `json:"project_ref,omitempty"`
	Status         string          `json:"status"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty" swaggertype:"object"`
	Result         json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	ResultSummary  *string         `json:"result_summary,omitempty"`
	Error          *string         `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	Transient      bool            `json:"transient,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	DependsOnJobID *string         `json:"depends_on_job_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

func newJobResponse(job *store.Job) JobResponse {
	response := JobResponse{
		JobID:          job.ID.String(),
		Type:           job.Type,
		OwnerID:        job.OwnerID,
		ProjectRef:     job.ProjectRef,
		Status:         job.Status,
		IdempotencyKey: job.IdempotencyKey,
		Payload:        job.Payload,
		Result:         job.Result,
		ResultSummary:  job.ResultSummary,
		Error:          job.Error,
		Attempts:       job.Meta.Attempts,
		LastError:      job.Meta.LastError,
		Transient:      job.Meta.Transient,
		Provider:       job.Meta.Provider,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}

	if next, ok := job.Meta.NextRunTime(); ok {
		next = next.UTC()
		response.NextRunAt = &next
	}
	if job.Meta.DependsOnJobID != nil {
		parent := job.Meta.DependsOnJobID.String()
		response.DependsOnJobID = &parent
	}

	return response
}
