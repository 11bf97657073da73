package api

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/vin-jex/job-engine/docs"
)

func (s *Server) registerRoutes() {
	router := mux.NewRouter()
	router.Use(s.requestContext)

	// Operational endpoints, unversioned.
	router.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	jobs := router.PathPrefix("/v1/jobs").Subrouter()
	jobs.HandleFunc("", s.handleCreateJob).Methods(http.MethodPost)
	jobs.HandleFunc("", s.handleListJobs).Methods(http.MethodGet)
	jobs.HandleFunc("/by-key/{idempotencyKey}", s.handleGetJobByKey).Methods(http.MethodGet)
	jobs.HandleFunc("/{jobID}", s.handleGetJob).Methods(http.MethodGet)

	router.NotFoundHandler = s.requestContext(http.NotFoundHandler())

	s.router = router
}
