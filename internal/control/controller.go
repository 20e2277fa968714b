// Package control implements the execution controller: a single
// shared object exposing cooperative stop/pause signals to every
// suspendable node and device primitive in a run.
package control

import "sync"

// Controller holds three atomic-under-mutex bits (active, stop requested,
// paused) and the single cancellation/pause checkpoint every Step Graph
// node and Device Driver primitive calls before doing work. There is no
// other mechanism for cancellation or pause; nodes must not poll any other
// flag.
type Controller struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active bool
	stop   bool
	paused bool
}

// New returns an idle Controller.
func New() *Controller {
	c := &Controller{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start marks the controller active and clears stop/paused, so a fresh run
// never inherits a previous run's cancellation.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.stop = false
	c.paused = false
	c.cond.Broadcast()
}

// Stop requests cancellation. It also clears paused so a suspended
// check_and_wait caller wakes immediately instead of hanging forever.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = true
	c.paused = false
	c.cond.Broadcast()
}

// Pause requests suspension, but only while the controller is active and
// not already stopped — pausing a stopped or idle controller is a no-op.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && !c.stop {
		c.paused = true
	}
}

// Resume clears paused. Calling Resume without a prior Pause is a no-op.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.cond.Broadcast()
}

// CheckAndWait is the universal suspension checkpoint. If stopped, it
// returns false immediately. If paused, it blocks until resumed or
// stopped. Otherwise it returns true without blocking.
func (c *Controller) CheckAndWait() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop {
		return false
	}
	for c.paused && !c.stop {
		c.cond.Wait()
	}
	return !c.stop
}

// StopRequested reports the current stop flag without blocking, used by
// nodes that need a quick non-suspending check (e.g. mid-retry-loop).
func (c *Controller) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop
}

// Active reports whether a run is currently using this controller.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Paused reports the current pause flag.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Reset returns the controller to its idle state, used between runs.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.stop = false
	c.paused = false
	c.cond.Broadcast()
}
