// Package api
// Author: momentics
//
// Scheduler contract: an M:N fiber scheduler with FIFO task dispatch and
// optional per-task thread affinity.

package api

// Scheduler abstracts the fiber-and-callback dispatch loop shared by the
// worker pool and the reactor's idle fiber.
type Scheduler interface {
	// ScheduleFiber pushes a runnable fiber onto the task queue. thread==-1
	// means any worker may run it; otherwise only the worker with that id
	// will dequeue it.
	ScheduleFiber(f Fiber, thread int) bool

	// ScheduleFunc wraps fn in a new fiber and pushes it, same semantics.
	ScheduleFunc(fn func(), thread int) bool

	// Start allocates the worker pool. Idempotent.
	Start() error

	// Stop drains remaining ready tasks then joins all workers.
	Stop()

	// Stopping reports whether the scheduler has been asked to stop, has an
	// empty queue, and has no active workers.
	Stopping() bool
}
