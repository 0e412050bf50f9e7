// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral bookkeeping shared by every IOManager backend: the
// per-descriptor event table. The multiplexer itself (epoll, or a stub on
// unsupported platforms) lives in the platform-specific reactor_*.go files.

package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-fiber/api"
)

// eventContext binds one armed event on a descriptor to its wakeup.
type eventContext struct {
	cb func()
}

// fdContext is the per-descriptor bookkeeping: which events are armed and
// what fires when each one triggers.
type fdContext struct {
	mu     sync.Mutex
	fd     int
	events api.EventType
	read   eventContext
	write  eventContext
}

func (c *fdContext) contextFor(event api.EventType) *eventContext {
	switch event {
	case api.EventRead:
		return &c.read
	case api.EventWrite:
		return &c.write
	default:
		return nil
	}
}

// fdTable is the reactor's descriptor-to-bookkeeping map, grown lazily on
// first use in place of the original's contextResize-on-demand vector,
// since Go has no cheap dense array indexed directly by an OS fd number
// without assuming a tightly packed fd space.
type fdTable struct {
	mu  sync.RWMutex
	fds map[int]*fdContext
}

func newFdTable() *fdTable {
	return &fdTable{fds: make(map[int]*fdContext)}
}

func (t *fdTable) getOrCreate(fd int) *fdContext {
	t.mu.RLock()
	c, ok := t.fds[fd]
	t.mu.RUnlock()
	if ok {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.fds[fd]; ok {
		return c
	}
	c = &fdContext{fd: fd}
	t.fds[fd] = c
	return c
}

func (t *fdTable) get(fd int) (*fdContext, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.fds[fd]
	return c, ok
}

func (t *fdTable) delete(fd int) {
	t.mu.Lock()
	delete(t.fds, fd)
	t.mu.Unlock()
}

func loadPending(pending *int64) int64 { return atomic.LoadInt64(pending) }
