// Package retry decides what happens to a job whose handler failed:
// re-queue with a backoff delay, or terminal failure.
package retry

import (
	"time"

	"github.com/vin-jex/job-engine/internal/backoff"
	"github.com/vin-jex/job-engine/internal/failure"
	"github.com/vin-jex/job-engine/internal/store"
)

type Action int

const (
	ActionFail Action = iota
	ActionRequeue
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionRequeue:
		return "requeue"
	case ActionSkip:
		return "skip"
	default:
		return "fail"
	}
}

// ConfigErrorPolicy selects how jobs failing on missing configuration end.
type ConfigErrorPolicy string

const (
	// ConfigErrorSkip completes the job with a "skipped" summary; meant for
	// sandboxed or CI environments without external credentials.
	ConfigErrorSkip ConfigErrorPolicy = "skip"
	ConfigErrorFail ConfigErrorPolicy = "fail"
)

type Policy struct {
	Backoff backoff.Strategy

	// MaxAttempts turns retryable failures terminal once attempts reach it;
	// zero keeps retrying indefinitely.
	MaxAttempts int

	OnConfigError ConfigErrorPolicy
}

type Decision struct {
	Action  Action
	Class   failure.Class
	Message string
	Delay   time.Duration

	// Meta is the scheduler metadata to persist with the decision.
	Meta store.SchedulerMeta
}

func (p Policy) Decide(meta store.SchedulerMeta, err error, now time.Time) Decision {
	class := failure.Classify(err)
	message := err.Error()

	next := meta
	next.LastError = message
	next.ErrorSnippet = failure.Snippet(err)
	if provider := failure.Provider(err); provider != "" {
		next.Provider = provider
	}

	decision := Decision{
		Action:  ActionFail,
		Class:   class,
		Message: message,
	}

	switch class {
	case failure.ClassConfig:
		next.Transient = false
		if p.OnConfigError == ConfigErrorSkip {
			decision.Action = ActionSkip
		}

	case failure.ClassTransient:
		next.Attempts++
		next.Transient = true

		if p.MaxAttempts == 0 || next.Attempts < p.MaxAttempts {
			decision.Action = ActionRequeue
			decision.Delay = p.Backoff.Delay(next.Attempts)
			next.SetNextRunAt(now.Add(decision.Delay))
		}

	default:
		next.Transient = false
	}

	decision.Meta = next
	return decision
}
