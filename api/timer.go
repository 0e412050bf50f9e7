// File: api/timer.go
// Author: momentics <momentics@gmail.com>
//
// TimerManager contract: ordered timed wakeups with clock-rollback detection.

package api

import "time"

// Timer is a single pending or recurring timed wakeup.
type Timer interface {
	// Cancel nulls the callback and removes the timer from the heap.
	// Idempotent after the first successful call.
	Cancel() bool

	// Refresh reinserts the timer with next = now + period.
	Refresh() bool

	// Reset changes the timer's period. If fromNow, next = now + ms;
	// otherwise next = (old_next - old_period) + ms.
	Reset(d time.Duration, fromNow bool) bool
}

// TimerManager owns the ordered set of pending timed wakeups.
type TimerManager interface {
	// AddTimer schedules cb to run after d, optionally recurring every d.
	AddTimer(d time.Duration, cb func(), recurring bool) Timer

	// AddConditionTimer is like AddTimer but cb only runs while cond()
	// still reports true; a false condition silently elides the callback.
	AddConditionTimer(d time.Duration, cb func(), cond func() bool, recurring bool) Timer

	// NextTimeout returns the duration until the earliest pending timer,
	// zero if one is already overdue, or -1 if the heap is empty.
	NextTimeout() time.Duration
}
