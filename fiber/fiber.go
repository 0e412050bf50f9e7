// File: fiber/fiber.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package fiber implements stackful, cooperatively-scheduled coroutines.
//
// Go offers no makecontext/swapcontext equivalent for user-mode stack
// switching without cgo and assembly trampolines, so each Fiber is backed
// by a dedicated goroutine and Resume/Yield are a synchronous, unbuffered
// channel handshake between the goroutine that calls Resume and the fiber's
// own goroutine. Because the handshake is synchronous — Resume blocks until
// the paired Yield (or termination) — "control returns to whoever last
// resumed" holds structurally, which is exactly the guarantee the
// resume/yield contract needs; the run_in_scheduler flag below is retained
// for interface parity with the spec's data model and for diagnostics, not
// because the handshake needs a second target to fall back to (see
// DESIGN.md, "fiber model"). There is no "current fiber" lookup: callbacks
// receive their own *Fiber explicitly.
package fiber

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-fiber/api"
)

// DefaultStackSize is the nominal stack size recorded on a Fiber. Go
// goroutine stacks grow on demand and are not user-managed, so this value
// is only recorded on the Fiber rather than used as an actual allocation
// size, matching the spec's 128 KiB default.
const DefaultStackSize = 128 * 1024

// Fiber is a schedulable, cooperatively-resumed unit of execution with its
// own goroutine standing in for a private stack.
type Fiber struct {
	id             uint64
	stateVal       int32 // atomic api.FiberState
	runInScheduler bool
	stackSize      int

	mu      sync.Mutex
	cb      func(self *Fiber)
	started bool
	panicky any // recovered panic value, if the callback failed

	resumeCh chan struct{}
	yieldCh  chan struct{}
}

var fiberIDSeq uint64

func nextID() uint64 { return atomic.AddUint64(&fiberIDSeq, 1) }

// New creates a Ready fiber wrapping cb. cb receives the Fiber itself so it
// can call Yield without relying on thread-local lookup.
func New(cb func(self *Fiber), stackSize int) *Fiber {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	return &Fiber{
		id:             nextID(),
		cb:             cb,
		runInScheduler: true,
		stackSize:      stackSize,
		resumeCh:       make(chan struct{}),
		yieldCh:        make(chan struct{}),
	}
}

// NewMain returns a pseudo-fiber representing an OS thread's original stack:
// already Running, never Terminated, owns no goroutine of its own. It exists
// so a caller outside any fiber has a non-nil *Fiber value to pass around.
func NewMain() *Fiber {
	f := &Fiber{id: nextID(), resumeCh: make(chan struct{}), yieldCh: make(chan struct{})}
	f.setState(api.FiberRunning)
	return f
}

// SetRunInScheduler mirrors the spec's run_in_scheduler flag; kept for API
// fidelity, see the package doc comment for why it does not affect the
// handshake's correctness in this implementation.
func (f *Fiber) SetRunInScheduler(v bool) { f.runInScheduler = v }

// RunInScheduler reports the current flag value.
func (f *Fiber) RunInScheduler() bool { return f.runInScheduler }

// ID returns the fiber's monotonic identifier.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the current lifecycle state.
func (f *Fiber) State() api.FiberState {
	return api.FiberState(atomic.LoadInt32(&f.stateVal))
}

func (f *Fiber) setState(s api.FiberState) { atomic.StoreInt32(&f.stateVal, int32(s)) }

// Panic returns the recovered panic value from a failed callback, if any.
func (f *Fiber) Panic() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panicky
}

// Resume makes f the current fiber and blocks until f yields or terminates.
func (f *Fiber) Resume() {
	if f.State() != api.FiberReady {
		panic("fiber: resume of non-ready fiber")
	}
	f.setState(api.FiberRunning)

	f.mu.Lock()
	started := f.started
	f.started = true
	f.mu.Unlock()

	if !started {
		go f.launch()
	} else {
		f.resumeCh <- struct{}{}
	}
	<-f.yieldCh
}

// launch is the fiber's entry trampoline, analogous to Fiber::MainFunc: it
// clears the callback before the terminating yield so a self-referential
// closure cannot keep the fiber alive past its own termination, and it
// catches any panic at the coroutine boundary instead of letting it unwind
// through the resume/yield handshake.
func (f *Fiber) launch() {
	defer func() {
		if r := recover(); r != nil {
			f.mu.Lock()
			f.panicky = r
			f.mu.Unlock()
		}
		f.mu.Lock()
		f.cb = nil
		f.mu.Unlock()
		f.setState(api.FiberTerminated)
		f.yieldCh <- struct{}{}
	}()
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb(f)
}

// Yield suspends the running fiber and returns control to whoever called
// Resume; if resumed again later it continues right after this call.
func (f *Fiber) Yield() {
	st := f.State()
	if st != api.FiberRunning {
		panic("fiber: yield of non-running fiber")
	}
	f.setState(api.FiberReady)
	f.yieldCh <- struct{}{}
	<-f.resumeCh
}

// Reset rearms a Terminated fiber with a new callback, returning it to
// Ready; the next Resume starts a fresh goroutine for it.
func (f *Fiber) Reset(cb func(self *Fiber)) {
	if f.State() != api.FiberTerminated {
		panic("fiber: reset of non-terminated fiber")
	}
	f.mu.Lock()
	f.cb = cb
	f.started = false
	f.panicky = nil
	f.mu.Unlock()
	f.setState(api.FiberReady)
}
