package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vin-jex/job-engine/internal/store"
)

// handleHealth godoc
// @Summary      Liveness probe
// @Description  Indicates whether the process is alive
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string "ok"
// @Router       /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady godoc
// @Summary      Readiness probe
// @Description  Indicates whether the job store is reachable
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string "ready"
// @Failure      503 {string} string "not ready"
// @Router       /readyz [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		LoggerFromContext(r.Context()).Warn("readiness check failed", "err", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics godoc
// @Summary      Prometheus metrics
// @Description  Exposes service metrics in Prometheus format
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string
// @Router       /metrics [get]
func (s *Server) handleMetrics() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// @Summary Create a job
// @Description Enqueue a PENDING job. A repeated idempotency key returns the existing job with 200.
// @Tags Jobs
// @Accept json
// @Produce json
// @Param request body CreateJobRequest true "Job creation payload"
// @Success 201 {object} CreateJobResponse
// @Success 200 {object} CreateJobResponse
// @Failure 400 {string} string
// @Failure 500 {string} string
// @Router /v1/jobs [post]
func (s *Server) handleCreateJob(
	writer http.ResponseWriter,
	request *http.Request,
) {
	var createRequest CreateJobRequest

	if err := json.NewDecoder(request.Body).Decode(&createRequest); err != nil {
		http.Error(writer, "invalid JSON body", http.StatusBadRequest)
		return
	}

	newJob, err := createRequest.toNewJob()
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	job, created, err := s.store.CreateJob(request.Context(), newJob)
	if err != nil {
		LoggerFromContext(request.Context()).Error("job creation failed", "err", err)
		http.Error(writer, "failed to create job", http.StatusInternalServerError)
		return
	}

	LoggerFromContext(request.Context()).Info("job submitted",
		"job_id", job.ID.String(),
		"job_type", job.Type,
		"created", created,
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	writeJSON(writer, status, CreateJobResponse{
		Created: created,
		Job:     newJobResponse(job),
	})
}

// @Summary Get job details
// @Description Fetch the authoritative state and scheduler metadata of a job
// @Tags Jobs
// @Produce json
// @Param jobID path string true "Job ID"
// @Success 200 {object} JobResponse
// @Failure 400 {string} string
// @Failure 404 {string} string
// @Failure 500 {string} string
// @Router /v1/jobs/{jobID} [get]
func (s *Server) handleGetJob(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID, err := uuid.Parse(mux.Vars(request)["jobID"])
	if err != nil {
		http.Error(writer, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.store.GetJob(request.Context(), jobID)
	s.writeJob(writer, request, job, err)
}

// @Summary Get job by idempotency key
// @Description Look up the job created under an idempotency key
// @Tags Jobs
// @Produce json
// @Param idempotencyKey path string true "Idempotency key"
// @Success 200 {object} JobResponse
// @Failure 404 {string} string
// @Failure 500 {string} string
// @Router /v1/jobs/by-key/{idempotencyKey} [get]
func (s *Server) handleGetJobByKey(
	writer http.ResponseWriter,
	request *http.Request,
) {
	job, err := s.store.GetJobByIdempotencyKey(request.Context(), mux.Vars(request)["idempotencyKey"])
	s.writeJob(writer, request, job, err)
}

func (s *Server) writeJob(
	writer http.ResponseWriter,
	request *http.Request,
	job *store.Job,
	err error,
) {
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(writer, "job not found", http.StatusNotFound)
			return
		}

		LoggerFromContext(request.Context()).Error("job lookup failed", "err", err)
		http.Error(writer, "failed to fetch job", http.StatusInternalServerError)
		return
	}

	writeJSON(writer, http.StatusOK, newJobResponse(job))
}

// @Summary List jobs
// @Description List jobs, newest first, with optional status and owner filters
// @Tags Jobs
// @Produce json
// @Param status query string false "Filter by status"
// @Param owner_id query string false "Filter by owner"
// @Param limit query int false "Maximum number of jobs (default 100)"
// @Success 200 {object} ListJobsResponse
// @Failure 400 {string} string
// @Failure 500 {string} string
// @Router /v1/jobs [get]
func (s *Server) handleListJobs(
	writer http.ResponseWriter,
	request *http.Request,
) {
	query := request.URL.Query()

	filter := store.ListFilter{
		Status:  query.Get("status"),
		OwnerID: query.Get("owner_id"),
		Limit:   100,
	}

	switch filter.Status {
	case "", store.JobPending, store.JobRunning, store.JobCompleted, store.JobFailed:
	default:
		http.Error(writer, "unknown status", http.StatusBadRequest)
		return
	}

	if rawLimit := query.Get("limit"); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	jobs, err := s.store.ListJobs(request.Context(), filter)
	if err != nil {
		LoggerFromContext(request.Context()).Error("job listing failed", "err", err)
		http.Error(writer, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	response := ListJobsResponse{
		Jobs: make([]JobResponse, 0, len(jobs)),
	}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, newJobResponse(job))
	}

	writeJSON(writer, http.StatusOK, response)
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}
