package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

type fakeStore struct {
	pingErr error
	jobs    map[uuid.UUID]*store.Job
	keys    map[string]uuid.UUID
	filter  store.ListFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs: map[uuid.UUID]*store.Job{},
		keys: map[string]uuid.UUID{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeStore) CreateJob(ctx context.Context, newJob store.NewJob) (*store.Job, bool, error) {
	if id, ok := f.keys[newJob.IdempotencyKey]; ok && newJob.IdempotencyKey != "" {
		return f.jobs[id], false, nil
	}

	job := &store.Job{
		ID:         uuid.New(),
		Type:       newJob.Type,
		OwnerID:    newJob.OwnerID,
		ProjectRef: newJob.ProjectRef,
		Status:     store.JobPending,
		Payload:    newJob.Payload,
		Meta:       newJob.Meta,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if newJob.IdempotencyKey != "" {
		key := newJob.IdempotencyKey
		job.IdempotencyKey = &key
		f.keys[key] = job.ID
	}
	f.jobs[job.ID] = job

	return job, true, nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	if job, ok := f.jobs[jobID]; ok {
		return job, nil
	}
	return nil, store.ErrJobNotFound
}

func (f *fakeStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*store.Job, error) {
	if id, ok := f.keys[key]; ok {
		return f.jobs[id], nil
	}
	return nil, store.ErrJobNotFound
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.ListFilter) ([]*store.Job, error) {
	f.filter = filter
	var jobs []*store.Job
	for _, job := range f.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func newTestServer(jobStore JobStore) (*Server, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry)

	return NewServer(jobStore, slog.New(slog.NewTextHandler(io.Discard, nil)), registry), registry
}

func do(t *testing.T, server *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	request := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)

	return recorder
}

func TestCreateJobIsIdempotent(t *testing.T) {
	server, _ := newTestServer(newFakeStore())
	body := `{"type":"scrape","owner_id":"owner-1","idempotency_key":"k1","payload":{"url":"https://example.com"},"chain":["prompt","render"]}`

	first := do(t, server, http.MethodPost, "/v1/jobs", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body)
	}
	if first.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}

	var created CreateJobResponse
	if err := json.NewDecoder(first.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if !created.Created || created.Job.Status != store.JobPending {
		t.Fatalf("unexpected response %+v", created)
	}

	second := do(t, server, http.MethodPost, "/v1/jobs", body)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate key, got %d", second.Code)
	}

	var duplicate CreateJobResponse
	if err := json.NewDecoder(second.Body).Decode(&duplicate); err != nil {
		t.Fatal(err)
	}
	if duplicate.Created || duplicate.Job.JobID != created.Job.JobID {
		t.Fatal("duplicate creation must return the existing job")
	}
}

func TestCreateJobBuildsChainMeta(t *testing.T) {
	jobStore := newFakeStore()
	server, _ := newTestServer(jobStore)

	response := do(t, server, http.MethodPost, "/v1/jobs",
		`{"type":"scrape","owner_id":"o","idempotency_key":"k","chain":["prompt","render"],"quota_reservation":{"period_key":"2026-10","metric":"images","amount":2}}`)
	if response.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.Code)
	}

	job := jobStore.jobs[jobStore.keys["k"]]
	next := job.Meta.ChainNext
	if next == nil || next.Type != "prompt" || next.Next == nil || next.Next.Type != "render" {
		t.Fatalf("unexpected chain %+v", next)
	}
	if job.Meta.QuotaReservation == nil || job.Meta.QuotaReservation.Amount != 2 {
		t.Fatalf("unexpected reservation %+v", job.Meta.QuotaReservation)
	}
}

func TestCreateJobValidation(t *testing.T) {
	server, _ := newTestServer(newFakeStore())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing type", `{"owner_id":"o"}`},
		{"missing owner", `{"type":"scrape"}`},
		{"chain without key", `{"type":"scrape","owner_id":"o","chain":["prompt"]}`},
		{"bad parent id", `{"type":"scrape","owner_id":"o","depends_on_job_id":"nope"}`},
		{"empty reservation", `{"type":"scrape","owner_id":"o","quota_reservation":{"metric":"m","amount":0}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if response := do(t, server, http.MethodPost, "/v1/jobs", tt.body); response.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", response.Code)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	jobStore := newFakeStore()
	server, _ := newTestServer(jobStore)

	job, _, _ := jobStore.CreateJob(context.Background(), store.NewJob{Type: "scrape", OwnerID: "o", IdempotencyKey: "k"})
	job.Meta.Attempts = 2
	job.Meta.SetNextRunAt(time.UnixMilli(1_700_000_000_000))

	response := do(t, server, http.MethodGet, "/v1/jobs/"+job.ID.String(), "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}

	var body JobResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Attempts != 2 || body.NextRunAt == nil || body.NextRunAt.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("unexpected scheduler fields %+v", body)
	}

	if response := do(t, server, http.MethodGet, "/v1/jobs/by-key/k", ""); response.Code != http.StatusOK {
		t.Fatalf("expected 200 by key, got %d", response.Code)
	}
	if response := do(t, server, http.MethodGet, "/v1/jobs/"+uuid.NewString(), ""); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
	if response := do(t, server, http.MethodGet, "/v1/jobs/not-a-uuid", ""); response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestListJobsFilters(t *testing.T) {
	jobStore := newFakeStore()
	server, _ := newTestServer(jobStore)

	response := do(t, server, http.MethodGet, "/v1/jobs?status=FAILED&owner_id=o&limit=5", "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	if jobStore.filter.Status != store.JobFailed || jobStore.filter.OwnerID != "o" || jobStore.filter.Limit != 5 {
		t.Fatalf("unexpected filter %+v", jobStore.filter)
	}

	if response := do(t, server, http.MethodGet, "/v1/jobs?status=LOST", ""); response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", response.Code)
	}
}

func TestOpsEndpoints(t *testing.T) {
	jobStore := newFakeStore()
	server, _ := newTestServer(jobStore)

	if response := do(t, server, http.MethodGet, "/healthz", ""); response.Code != http.StatusOK {
		t.Fatalf("healthz: %d", response.Code)
	}
	if response := do(t, server, http.MethodGet, "/readyz", ""); response.Code != http.StatusOK {
		t.Fatalf("readyz: %d", response.Code)
	}

	jobStore.pingErr = errors.New("db down")
	if response := do(t, server, http.MethodGet, "/readyz", ""); response.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with db down: %d", response.Code)
	}

	response := do(t, server, http.MethodGet, "/metrics", "")
	if response.Code != http.StatusOK || !strings.Contains(response.Body.String(), "jobengine_jobs_in_flight") {
		t.Fatalf("expected engine metrics to be exposed, got %d", response.Code)
	}
}
