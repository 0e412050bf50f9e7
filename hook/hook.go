// File: hook/hook.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package hook converts blocking socket and sleep calls into fiber yields.
// The original intercepts libc calls process-wide through a per-thread
// enable flag; Go offers no equivalent hook point without cgo and
// LD_PRELOAD-style tricks, so every function here takes its caller's
// *fiber.Fiber explicitly instead of discovering it through thread-local
// storage. Callers opt in by calling hook.Read instead of a raw read,
// which is the natural Go rendering of "interception": the call site
// chooses the yielding path, rather than every socket call in the process
// being silently rewritten.
package hook

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fdtable"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/scheduler"
)

// IOTimer is the pair of contracts a reactor.Manager satisfies together:
// readiness registration and timer scheduling, both needed by the I/O
// template below.
type IOTimer interface {
	api.IOManager
	api.TimerManager
}

// Env bundles the collaborators a hooked call needs: where to look up
// per-fd metadata, where to register readiness/timeout wakeups, and where
// to reschedule the waiting fiber once one fires.
type Env struct {
	Fds       *fdtable.Table
	IO        IOTimer
	Scheduler *scheduler.Scheduler

	enabled int32
}

// NewEnv constructs an Env with hooking enabled by default.
func NewEnv(fds *fdtable.Table, io IOTimer, sched *scheduler.Scheduler) *Env {
	e := &Env{Fds: fds, IO: io, Scheduler: sched}
	atomic.StoreInt32(&e.enabled, 1)
	return e
}

// SetEnabled toggles whether hooked I/O calls take the yielding path at
// all; disabled, they fall straight through to the plain syscall, matching
// the original's per-thread hook_enable gate (kept process-wide here since
// every call site already opts in explicitly).
func (e *Env) SetEnabled(v bool) {
	if v {
		atomic.StoreInt32(&e.enabled, 1)
	} else {
		atomic.StoreInt32(&e.enabled, 0)
	}
}

// Enabled reports the current gate state.
func (e *Env) Enabled() bool { return atomic.LoadInt32(&e.enabled) != 0 }

const (
	notCancelled int32 = iota
	timedOut
)

// timerInfo is shared between a condition timer's callback and the fiber
// waiting on the paired event, standing in for the original's
// shared_ptr<TimerInfo>: both sides observe the same cancellation flag
// without either owning the other's lifetime.
type timerInfo struct {
	cancelled int32
}

// Sleep unconditionally arms a one-shot timer that reschedules self and
// yields, regardless of the Env's enabled gate — the original applies this
// to the sleep family without the I/O template's bypass checks.
func Sleep(env *Env, self *fiber.Fiber, d time.Duration) {
	env.IO.AddTimer(d, func() {
		env.Scheduler.ScheduleFiber(self, scheduler.AnyThread)
	}, false)
	self.Yield()
}

// DoIO applies the read/write-family retry template: call f; on EAGAIN,
// register a readiness interest (and, if a timeout is set, a matching
// condition timer) for self and yield; on resume, retry f. event/kind pick
// which interest bit and which per-direction timeout the retry uses.
func DoIO(env *Env, self *fiber.Fiber, fd int, event api.EventType, kind fdtable.TimeoutKind, f func() (int, error)) (int, error) {
	if !env.Enabled() {
		return f()
	}
	ctx := env.Fds.Get(fd, true)
	if ctx == nil || !ctx.IsSocket() || ctx.UserNonblock() {
		return f()
	}
	if ctx.IsClosed() {
		return -1, api.ErrBadDescriptor
	}

	for {
		n, err := f()
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return n, err
		}

		timeout := ctx.Timeout(kind)
		info := &timerInfo{}
		waiting := int32(1)
		var tm api.Timer
		if timeout != fdtable.NoTimeout {
			tm = env.IO.AddConditionTimer(timeout, func() {
				atomic.StoreInt32(&info.cancelled, timedOut)
				env.IO.CancelEvent(fd, event)
			}, func() bool { return atomic.LoadInt32(&waiting) == 1 }, false)
		}

		armErr := env.IO.AddEvent(fd, event, func() {
			env.Scheduler.ScheduleFiber(self, scheduler.AnyThread)
		})
		if armErr != nil {
			if tm != nil {
				tm.Cancel()
			}
			return -1, armErr
		}

		self.Yield()
		atomic.StoreInt32(&waiting, 0)
		if tm != nil {
			tm.Cancel()
		}
		if atomic.LoadInt32(&info.cancelled) == timedOut {
			return -1, api.ErrTimedOut
		}
		// otherwise readiness arrived; loop back to retry f().
	}
}
