//go:build linux
// +build linux

package hook

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/fdtable"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/scheduler"
)

func newTestEnv(t *testing.T) (*Env, *scheduler.Scheduler, *reactor.Manager) {
	t.Helper()
	sched := scheduler.New(2, false, -1)
	if err := sched.Start(); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	io, err := reactor.NewManager(sched)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	env := NewEnv(fdtable.New(), io, sched)
	t.Cleanup(func() {
		io.Stop()
		sched.Stop()
	})
	return env, sched, io
}

func TestReadYieldsThenSucceedsOnData(t *testing.T) {
	env, sched, _ := newTestEnv(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	result := make(chan int, 1)
	f := fiber.New(func(self *fiber.Fiber) {
		buf := make([]byte, 16)
		n, err := Read(env, self, fds[0], buf)
		if err != nil {
			t.Errorf("unexpected read error: %v", err)
		}
		result <- n
	}, 0)
	sched.ScheduleFiber(f, scheduler.AnyThread)

	time.Sleep(20 * time.Millisecond) // let the fiber block in Read
	if _, err := unix.Write(fds[1], []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case n := <-result:
		if n != 2 {
			t.Fatalf("expected 2 bytes, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read to complete")
	}
}

func TestReadSucceedsAcrossMultipleReadinessWaitsOnSameFd(t *testing.T) {
	env, sched, _ := newTestEnv(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	results := make(chan int, 2)
	f := fiber.New(func(self *fiber.Fiber) {
		buf := make([]byte, 16)
		for i := 0; i < 2; i++ {
			n, err := Read(env, self, fds[0], buf)
			if err != nil {
				t.Errorf("unexpected read error on iteration %d: %v", i, err)
				return
			}
			results <- n
		}
	}, 0)
	sched.ScheduleFiber(f, scheduler.AnyThread)

	// First message: read must block (no data yet), then succeed once
	// written. If the armed readiness interest were left dangling by the
	// reactor, this AddEvent on the fiber's second Read would fail with
	// ErrAlreadyArmed instead of blocking cleanly.
	time.Sleep(20 * time.Millisecond)
	if _, err := unix.Write(fds[1], []byte("a")); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	select {
	case n := <-results:
		if n != 1 {
			t.Fatalf("expected 1 byte on first read, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first read")
	}

	// Second message: the fiber must be able to re-arm read interest on
	// the same fd and block again rather than failing outright.
	time.Sleep(20 * time.Millisecond)
	if _, err := unix.Write(fds[1], []byte("bb")); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	select {
	case n := <-results:
		if n != 2 {
			t.Fatalf("expected 2 bytes on second read, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second read — readiness interest was likely left armed after the first")
	}
}

func TestReadTimesOutWithNoData(t *testing.T) {
	env, sched, _ := newTestEnv(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	ctx := env.Fds.Get(fds[0], true)
	ctx.SetTimeout(fdtable.Recv, 50*time.Millisecond)

	done := make(chan error, 1)
	f := fiber.New(func(self *fiber.Fiber) {
		buf := make([]byte, 16)
		_, err := Read(env, self, fds[0], buf)
		done <- err
	}, 0)
	sched.ScheduleFiber(f, scheduler.AnyThread)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read to fail")
	}
}

func TestSleepBlocksApproximatelyRequestedDuration(t *testing.T) {
	env, sched, _ := newTestEnv(t)

	start := time.Now()
	done := make(chan struct{})
	f := fiber.New(func(self *fiber.Fiber) {
		Sleep(env, self, 40*time.Millisecond)
		close(done)
	}, 0)
	sched.ScheduleFiber(f, scheduler.AnyThread)

	select {
	case <-done:
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Fatalf("fiber woke too early: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sleep to complete")
	}
}

func TestCloseWakesBlockedReaderWithBadDescriptor(t *testing.T) {
	env, sched, _ := newTestEnv(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	done := make(chan error, 1)
	f := fiber.New(func(self *fiber.Fiber) {
		buf := make([]byte, 16)
		_, err := Read(env, self, fds[0], buf)
		done <- err
	}, 0)
	sched.ScheduleFiber(f, scheduler.AnyThread)

	time.Sleep(20 * time.Millisecond)
	if err := Close(env, fds[0]); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if err != unix.EBADF {
			t.Fatalf("expected EBADF from the woken reader, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake the blocked reader")
	}
}
