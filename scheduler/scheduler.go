// File: scheduler/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package scheduler implements the M:N fiber dispatch loop: a pool of
// worker goroutines pulling from a shared FIFO queue, with optional
// per-task thread affinity and optional participation of the thread that
// constructs the Scheduler.
package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-fiber/affinity"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fiber"
)

// AnyThread means a scheduled task may run on whichever worker dequeues it
// first, rather than being pinned to a specific worker id.
const AnyThread = -1

type scheduleTask struct {
	f      *fiber.Fiber
	thread int
}

// Scheduler is an M:N fiber scheduler: workers pull scheduleTasks from a
// shared FIFO queue, skipping (and rotating past) tasks pinned to a
// different worker. Skipped tasks keep their relative order among
// themselves but move behind the tasks the scan had not yet reached, trading strict
// global FIFO order for an O(1)-per-item scan; see DESIGN.md, Open
// Question 1.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond
	tasks *queue.Queue

	numWorkers int
	useCaller  bool
	numaBase   int // first NUMA/CPU id to pin worker 0 to, or -1 to disable pinning

	stopping    int32
	activeCount int32
	started     int32

	wg sync.WaitGroup
}

// New constructs a Scheduler with numWorkers dispatch loops. If useCaller
// is true, Start runs the last worker's loop on the calling goroutine
// instead of spawning it, blocking until Stop is called. numaBase pins
// worker i to logical CPU numaBase+i when numaBase >= 0.
func New(numWorkers int, useCaller bool, numaBase int) *Scheduler {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	s := &Scheduler{
		tasks:      queue.New(),
		numWorkers: numWorkers,
		useCaller:  useCaller,
		numaBase:   numaBase,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start allocates the worker pool. Idempotent: a second call is a no-op.
// If useCaller was set, Start blocks running the final worker loop on the
// calling goroutine until Stop is called from another goroutine.
func (s *Scheduler) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}
	callerWorker := -1
	if s.useCaller {
		callerWorker = s.numWorkers - 1
	}

	s.wg.Add(s.numWorkers)
	for id := 0; id < s.numWorkers; id++ {
		if id == callerWorker {
			continue
		}
		go s.run(id)
	}
	if callerWorker >= 0 {
		s.run(callerWorker)
	}
	return nil
}

// ScheduleFiber pushes a runnable fiber onto the task queue. Returns false
// if the scheduler has been asked to stop.
func (s *Scheduler) ScheduleFiber(f *fiber.Fiber, thread int) bool {
	s.mu.Lock()
	if atomic.LoadInt32(&s.stopping) != 0 {
		s.mu.Unlock()
		return false
	}
	s.tasks.Add(&scheduleTask{f: f, thread: thread})
	s.mu.Unlock()
	s.cond.Signal()
	return true
}

// ScheduleFunc wraps fn in a new fiber and pushes it with the same
// semantics as ScheduleFiber.
func (s *Scheduler) ScheduleFunc(fn func(), thread int) bool {
	f := fiber.New(func(self *fiber.Fiber) { fn() }, 0)
	return s.ScheduleFiber(f, thread)
}

// Stop asks every worker to exit once the queue drains, then joins them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	atomic.StoreInt32(&s.stopping, 1)
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}

// Shutdown satisfies api.GracefulShutdown, deferring to Stop. It always
// returns nil: draining and joining workers has no failure mode of its
// own to report.
func (s *Scheduler) Shutdown() error {
	s.Stop()
	return nil
}

// Stopping reports whether Stop has been called, the queue is empty, and
// no worker is mid-task.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomic.LoadInt32(&s.stopping) != 0 &&
		s.tasks.Length() == 0 &&
		atomic.LoadInt32(&s.activeCount) == 0
}

func (s *Scheduler) run(workerID int) {
	defer s.wg.Done()
	if s.numaBase >= 0 {
		runtime.LockOSThread()
		_ = affinity.SetAffinity(s.numaBase + workerID)
	}
	for {
		t := s.next(workerID)
		if t == nil {
			return
		}
		atomic.AddInt32(&s.activeCount, 1)
		s.runTask(t)
		atomic.AddInt32(&s.activeCount, -1)
	}
}

// next blocks until a task pinned to workerID (or unpinned) is available,
// or the scheduler is stopping and none remain, in which case it returns
// nil. Non-matching tasks are rotated to the back of the queue, preserving
// their relative order among themselves.
func (s *Scheduler) next(workerID int) *scheduleTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		n := s.tasks.Length()
		for i := 0; i < n; i++ {
			t := s.tasks.Peek().(*scheduleTask)
			s.tasks.Remove()
			if t.thread == AnyThread || t.thread == workerID {
				return t
			}
			s.tasks.Add(t)
		}
		if atomic.LoadInt32(&s.stopping) != 0 {
			return nil
		}
		s.cond.Wait()
	}
}

// runTask resumes the task's fiber exactly once. A fiber that yields
// (rather than terminating) is not automatically re-resumed: whatever
// registered its wakeup — the reactor, a timer — is responsible for
// calling ScheduleFiber on it again.
func (s *Scheduler) runTask(t *scheduleTask) {
	defer func() {
		if r := recover(); r != nil {
			// A worker must survive a fiber whose own panic boundary failed
			// to catch something; fiber.launch already recovers callback
			// panics, so reaching here means Resume/Yield itself misused.
		}
	}()
	t.f.Resume()
	if t.f.State() == api.FiberTerminated {
		return
	}
}
