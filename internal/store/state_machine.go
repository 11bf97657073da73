package store

import "fmt"

const (
	JobPending   = "PENDING"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

var terminalStates = map[string]bool{
	JobCompleted: true,
	JobFailed:    true,
}

// RUNNING -> PENDING is reserved for the reaper and the backoff re-queue.
var allowedTransitions = map[string]map[string]bool{
	JobPending: {
		JobRunning: true,
	},
	JobRunning: {
		JobCompleted: true,
		JobFailed:    true,
		JobPending:   true,
	},
}

func ValidateJobTransition(from, to string) error {
	if terminalStates[from] {
		return fmt.Errorf("%w: cannot transition from terminal state %s", ErrInvalidStateTransition, from)
	}

	if allowed, ok := allowedTransitions[from][to]; !ok || !allowed {
		return fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, from, to)
	}

	return nil
}

func IsTerminal(status string) bool {
	return terminalStates[status]
}
