package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vin-jex/job-engine/internal/failure"
	"github.com/vin-jex/job-engine/internal/store"
)

// Result is what a successful handler leaves on the job row.
type Result struct {
	Body    json.RawMessage
	Summary string
}

type HandlerFunc func(ctx context.Context, job *store.Job) (Result, error)

// Definition binds a job type tag to a typed handler. The payload is decoded
// from the job row into P and the returned R is stored as the job result.
type Definition[P, R any] struct {
	Type string

	// Chainable jobs may enqueue the follow-up named in their chainNext meta.
	Chainable bool

	Handle    func(ctx context.Context, job *store.Job, payload P) (R, error)
	Summarize func(result R) string
}

type registration struct {
	handle    HandlerFunc
	chainable bool
}

// Registry is filled once at startup and read-only afterwards.
type Registry struct {
	handlers map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register adds definition to registry. It panics on an empty or duplicate
// type tag, both of which are wiring mistakes.
func Register[P, R any](registry *Registry, definition Definition[P, R]) {
	if definition.Type == "" {
		panic("dispatch: job type is required")
	}
	if definition.Handle == nil {
		panic(fmt.Sprintf("dispatch: nil handler for job type %q", definition.Type))
	}
	if _, exists := registry.handlers[definition.Type]; exists {
		panic(fmt.Sprintf("dispatch: job type %q registered twice", definition.Type))
	}

	handle := func(ctx context.Context, job *store.Job) (Result, error) {
		var payload P
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return Result{}, failure.Permanent(fmt.Errorf("decode %s payload: %w", job.Type, err))
			}
		}

		value, err := definition.Handle(ctx, job, payload)
		if err != nil {
			return Result{}, err
		}

		body, err := json.Marshal(value)
		if err != nil {
			return Result{}, failure.Permanent(fmt.Errorf("encode %s result: %w", job.Type, err))
		}

		result := Result{Body: body}
		if definition.Summarize != nil {
			result.Summary = definition.Summarize(value)
		}

		return result, nil
	}

	registry.handlers[definition.Type] = registration{
		handle:    handle,
		chainable: definition.Chainable,
	}
}

func (r *Registry) Lookup(jobType string) (HandlerFunc, bool) {
	entry, ok := r.handlers[jobType]
	return entry.handle, ok
}

func (r *Registry) Chainable(jobType string) bool {
	return r.handlers[jobType].chainable
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for jobType := range r.handlers {
		types = append(types, jobType)
	}
	sort.Strings(types)

	return types
}
