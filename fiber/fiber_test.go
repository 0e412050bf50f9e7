package fiber

import (
	"testing"

	"github.com/momentics/hioload-fiber/api"
)

func TestFiberLifecycle(t *testing.T) {
	var ran bool
	f := New(func(self *Fiber) {
		ran = true
		self.Yield()
	}, 0)

	if f.State() != api.FiberReady {
		t.Fatalf("new fiber should be Ready, got %s", f.State())
	}

	f.Resume()
	if !ran {
		t.Fatal("callback did not run before first yield")
	}
	if f.State() != api.FiberReady {
		t.Fatalf("fiber should be Ready after yield, got %s", f.State())
	}

	f.Resume()
	if f.State() != api.FiberTerminated {
		t.Fatalf("fiber should be Terminated after callback returns, got %s", f.State())
	}
}

func TestFiberResetAfterTerminate(t *testing.T) {
	calls := 0
	cb := func(self *Fiber) { calls++ }
	f := New(cb, 0)
	f.Resume()
	if f.State() != api.FiberTerminated {
		t.Fatalf("expected Terminated, got %s", f.State())
	}

	f.Reset(cb)
	if f.State() != api.FiberReady {
		t.Fatalf("expected Ready after reset, got %s", f.State())
	}
	f.Resume()
	if calls != 2 {
		t.Fatalf("expected callback to run twice, got %d", calls)
	}
}

func TestFiberResetOnNonTerminatedPanics(t *testing.T) {
	f := New(func(self *Fiber) { self.Yield() }, 0)
	f.Resume() // now Ready (yielded, not terminated)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic resetting a non-terminated fiber")
		}
	}()
	f.Reset(func(self *Fiber) {})
}

func TestFiberPanicIsCaughtAtBoundary(t *testing.T) {
	f := New(func(self *Fiber) {
		panic("boom")
	}, 0)
	f.Resume()
	if f.State() != api.FiberTerminated {
		t.Fatalf("expected Terminated after panic, got %s", f.State())
	}
	if f.Panic() != "boom" {
		t.Fatalf("expected recovered panic value, got %v", f.Panic())
	}
}

func TestFiberMultipleYields(t *testing.T) {
	steps := 0
	f := New(func(self *Fiber) {
		steps++
		self.Yield()
		steps++
		self.Yield()
		steps++
	}, 0)

	f.Resume()
	if steps != 1 {
		t.Fatalf("expected 1 step, got %d", steps)
	}
	f.Resume()
	if steps != 2 {
		t.Fatalf("expected 2 steps, got %d", steps)
	}
	f.Resume()
	if steps != 3 || f.State() != api.FiberTerminated {
		t.Fatalf("expected 3 steps and Terminated, got %d/%s", steps, f.State())
	}
}
