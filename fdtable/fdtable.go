// File: fdtable/fdtable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package fdtable holds the per-descriptor metadata the hook layer needs
// to decide whether a call should yield: whether the fd is a socket,
// whether it has been forced into kernel non-blocking mode, the caller's
// intended (user-visible) blocking mode, and per-direction timeouts.
package fdtable

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// TimeoutKind selects which of a socket's two directional timeouts an
// operation cares about.
type TimeoutKind int

const (
	Recv TimeoutKind = iota
	Send
)

// NoTimeout is the sentinel meaning "block indefinitely", matching the
// original's (uint64_t)-1 default.
const NoTimeout time.Duration = -1

// Ctx is one descriptor's hook-relevant state.
type Ctx struct {
	mu sync.Mutex

	fd           int
	isInit       bool
	isSocket     bool
	sysNonblock  bool
	userNonblock bool
	closed       bool

	recvTimeout time.Duration
	sendTimeout time.Duration
}

func newCtx(fd int) *Ctx {
	c := &Ctx{fd: fd, recvTimeout: NoTimeout, sendTimeout: NoTimeout}
	c.init()
	return c
}

// init probes the descriptor with fstat and, if it is a socket, forces it
// into kernel non-blocking mode so a hooked syscall can never block the OS
// thread outright.
func (c *Ctx) init() bool {
	if c.isInit {
		return true
	}
	var stat unix.Stat_t
	if err := unix.Fstat(c.fd, &stat); err != nil {
		c.isInit = false
		c.isSocket = false
		return false
	}
	c.isInit = true
	c.isSocket = stat.Mode&unix.S_IFMT == unix.S_IFSOCK

	if c.isSocket {
		flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
		if err == nil && flags&unix.O_NONBLOCK == 0 {
			_, _ = unix.FcntlInt(uintptr(c.fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
		}
		c.sysNonblock = true
	}
	return c.isInit
}

func (c *Ctx) IsInit() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.isInit }
func (c *Ctx) IsSocket() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.isSocket }
func (c *Ctx) IsClosed() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.closed }

func (c *Ctx) MarkClosed() { c.mu.Lock(); c.closed = true; c.mu.Unlock() }

func (c *Ctx) SetUserNonblock(v bool) { c.mu.Lock(); c.userNonblock = v; c.mu.Unlock() }
func (c *Ctx) UserNonblock() bool     { c.mu.Lock(); defer c.mu.Unlock(); return c.userNonblock }

func (c *Ctx) SetSysNonblock(v bool) { c.mu.Lock(); c.sysNonblock = v; c.mu.Unlock() }
func (c *Ctx) SysNonblock() bool     { c.mu.Lock(); defer c.mu.Unlock(); return c.sysNonblock }

// SetTimeout records d (NoTimeout means no timeout) for the given
// direction, consumed by the hook layer's I/O template.
func (c *Ctx) SetTimeout(kind TimeoutKind, d time.Duration) {
	c.mu.Lock()
	if kind == Recv {
		c.recvTimeout = d
	} else {
		c.sendTimeout = d
	}
	c.mu.Unlock()
}

// Timeout returns the last value SetTimeout recorded for kind, or
// NoTimeout if never set.
func (c *Ctx) Timeout(kind TimeoutKind) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == Recv {
		return c.recvTimeout
	}
	return c.sendTimeout
}

// Table is the process-wide (lazily populated) map from fd to Ctx.
// Unlike the original's recursive mutex, this implementation never invokes
// a caller-supplied callback while holding the table lock, so no code path
// can re-enter Get/Del from within another Get/Del call and a plain mutex
// suffices.
type Table struct {
	mu   sync.Mutex
	data map[int]*Ctx
}

// New returns an empty Table.
func New() *Table {
	return &Table{data: make(map[int]*Ctx)}
}

// Get returns fd's Ctx, creating and probing it on first access when
// autoCreate is true. Returns nil for a negative fd or an absent entry
// with autoCreate false.
func (t *Table) Get(fd int, autoCreate bool) *Ctx {
	if fd < 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.data[fd]; ok {
		return c
	}
	if !autoCreate {
		return nil
	}
	c := newCtx(fd)
	t.data[fd] = c
	return c
}

// Del removes fd's entry, called from the hook layer's Close.
func (t *Table) Del(fd int) {
	t.mu.Lock()
	delete(t.data, fd)
	t.mu.Unlock()
}
