package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vin-jex/job-engine/internal/store"
)

// JobStore is the slice of the store the ops surface reads and writes.
type JobStore interface {
	Ping(ctx context.Context) error
	CreateJob(ctx context.Context, newJob store.NewJob) (*store.Job, bool, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, idempotencyKey string) (*store.Job, error)
	ListJobs(ctx context.Context, filter store.ListFilter) ([]*store.Job, error)
}

type Server struct {
	store    JobStore
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	router   *mux.Router
}

func NewServer(
	storeLayer JobStore,
	logger *slog.Logger,
	gatherer prometheus.Gatherer,
) *Server {
	server := &Server{
		store:    storeLayer,
		logger:   logger,
		gatherer: gatherer,
	}

	server.registerRoutes()

	return server
}

func (s *Server) Handler() http.Handler {
	return s.router
}
