// Package admission bounds how much work one worker process takes on.
//
// The global bound is a process-local in-flight counter. The per-owner bound
// is enforced in the database by the claimer; the controller only carries
// its configured value.
package admission

import (
	"sync"
)

type Controller struct {
	maxConcurrency     int
	maxRunningPerOwner int

	mu       sync.Mutex
	inFlight int
}

func NewController(maxConcurrency, maxRunningPerOwner int) *Controller {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxRunningPerOwner < 0 {
		maxRunningPerOwner = 0
	}

	return &Controller{
		maxConcurrency:     maxConcurrency,
		maxRunningPerOwner: maxRunningPerOwner,
	}
}

// TryAcquire takes an execution slot. It returns false, without blocking,
// when the process is at capacity.
func (c *Controller) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight >= c.maxConcurrency {
		return false
	}
	c.inFlight++

	return true
}

func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight > 0 {
		c.inFlight--
	}
}

func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inFlight
}

func (c *Controller) MaxConcurrency() int {
	return c.maxConcurrency
}

// MaxRunningPerOwner is passed to the claimer; zero disables the check.
func (c *Controller) MaxRunningPerOwner() int {
	return c.maxRunningPerOwner
}
