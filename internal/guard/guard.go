// Package guard wraps outbound calls to external dependencies with a
// per-attempt timeout, a short local retry loop and a circuit breaker keyed
// by dependency name. Breaker state is process-local.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/vin-jex/job-engine/internal/failure"
)

var ErrCircuitOpen = errors.New("circuit open")

type Config struct {
	// Timeout bounds each attempt; zero disables it.
	Timeout time.Duration

	// Retries is the number of extra attempts after the first one.
	Retries   int
	RetryBase time.Duration
	RetryMax  time.Duration

	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		Retries:          2,
		RetryBase:        200 * time.Millisecond,
		RetryMax:         2 * time.Second,
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// StateListener observes breaker transitions, e.g. to export them as metrics.
type StateListener func(dependency string, from, to gobreaker.State)

type Guard struct {
	config   Config
	logger   *slog.Logger
	listener StateListener

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func New(config Config, logger *slog.Logger, listener StateListener) *Guard {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.RetryBase <= 0 {
		config.RetryBase = def.RetryBase
	}
	if config.RetryMax < config.RetryBase {
		config.RetryMax = config.RetryBase
	}
	if config.Retries < 0 {
		config.Retries = 0
	}

	return &Guard{
		config:   config,
		logger:   logger,
		listener: listener,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (g *Guard) breaker(dependency string) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[dependency]; ok {
		return cb
	}

	threshold := uint32(g.config.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: dependency,
		// One probe in half-open; its outcome closes or re-opens the circuit.
		MaxRequests: 1,
		Timeout:     g.config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only dependency-health errors count against the breaker; a
		// permanent error (bad request, bad payload) says nothing about the
		// dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !failure.Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
			if g.listener != nil {
				g.listener(name, from, to)
			}
		},
	})
	g.breakers[dependency] = cb

	return cb
}

// State reports the breaker state for dependency; unknown dependencies are
// closed.
func (g *Guard) State(dependency string) gobreaker.State {
	g.mu.Lock()
	cb, ok := g.breakers[dependency]
	g.mu.Unlock()

	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Call runs fn through the breaker for dependency. Inside the breaker, fn is
// attempted up to Retries+1 times with exponential backoff; each attempt gets
// its own timeout. Errors classified as non-retryable end the loop at once.
// A short-circuited call returns a retryable *failure.ExternalServiceError
// wrapping ErrCircuitOpen.
func Call[T any](
	ctx context.Context,
	g *Guard,
	dependency string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	value, err := g.breaker(dependency).Execute(func() (any, error) {
		return g.retry(ctx, dependency, func(attemptCtx context.Context) (any, error) {
			return fn(attemptCtx)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &failure.ExternalServiceError{
				Provider:  dependency,
				Retryable: true,
				Message:   fmt.Sprintf("circuit open for %s", dependency),
				Err:       ErrCircuitOpen,
			}
		}
		return zero, err
	}

	if value == nil {
		return zero, nil
	}
	return value.(T), nil
}

func (g *Guard) retry(
	ctx context.Context,
	dependency string,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.config.RetryBase
	policy.MaxInterval = g.config.RetryMax
	policy.RandomizationFactor = 0.2

	attempt := 0
	operation := func() (any, error) {
		attempt++

		attemptCtx := ctx
		if g.config.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.config.Timeout)
			defer cancel()
		}

		value, err := fn(attemptCtx)
		if err == nil {
			return value, nil
		}

		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil {
			err = &failure.ExternalServiceError{
				Provider:  dependency,
				Retryable: true,
				Message:   fmt.Sprintf("call timed out after %s", g.config.Timeout),
				Err:       err,
			}
		}
		if !failure.Retryable(err) {
			return nil, backoff.Permanent(err)
		}

		g.logger.Debug("guarded call attempt failed",
			"dependency", dependency,
			"attempt", attempt,
			"err", err,
		)
		return nil, err
	}

	return backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(g.config.Retries+1)),
		backoff.WithMaxElapsedTime(0),
	)
}
