//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based IOManager: edge-triggered readiness multiplexing
// plus an embedded timer.Manager, woken from another goroutine through a
// self-pipe exactly like the original's tickle() write.

package reactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/scheduler"
	"github.com/momentics/hioload-fiber/timer"
)

// Manager is the epoll-backed implementation of api.IOManager. It also
// exposes the api.TimerManager methods directly, mirroring the original's
// IOManager inheriting from both Scheduler and TimerManager.
type Manager struct {
	epfd    int
	fds     *fdTable
	pending int64

	sched  *scheduler.Scheduler
	timers *timer.Manager

	tickleR, tickleW int
	tickled          int32
	stopped          int32
}

// NewManager creates an epoll instance, a wakeup pipe, and starts the poll
// loop on its own goroutine. Ready callbacks are handed to sched for
// execution rather than run inline on the poll loop, so a slow callback
// never delays the next EpollWait.
func NewManager(sched *scheduler.Scheduler) (*Manager, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, err
	}

	m := &Manager{
		epfd:    epfd,
		fds:     newFdTable(),
		sched:   sched,
		timers:  timer.NewManager(),
		tickleR: pipeFds[0],
		tickleW: pipeFds[1],
	}
	m.timers.SetOnTimerInsertedAtFront(m.tickle)

	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, m.tickleR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(m.tickleR),
	}); err != nil {
		unix.Close(m.tickleR)
		unix.Close(m.tickleW)
		unix.Close(m.epfd)
		return nil, err
	}

	go m.loop()
	return m, nil
}

// AddEvent arms fd for event, invoking cb exactly once when it fires. The
// first registration on an fd issues EPOLL_CTL_ADD; subsequent event types
// on the same fd issue EPOLL_CTL_MOD, matching the original's
// add-then-modify sequencing.
func (m *Manager) AddEvent(fd int, event api.EventType, cb func()) error {
	if cb == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "reactor: AddEvent requires a non-nil callback")
	}
	ctx := m.fds.getOrCreate(fd)
	ctx.mu.Lock()
	if ctx.events&event != 0 {
		ctx.mu.Unlock()
		return api.ErrAlreadyArmed
	}
	op := unix.EPOLL_CTL_MOD
	if ctx.events == api.EventNone {
		op = unix.EPOLL_CTL_ADD
	}
	newEvents := ctx.events | event
	ev := unix.EpollEvent{Events: unix.EPOLLET | toEpollBits(newEvents), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, op, fd, &ev); err != nil {
		ctx.mu.Unlock()
		return err
	}
	ctx.events = newEvents
	ctx.contextFor(event).cb = cb
	ctx.mu.Unlock()

	atomic.AddInt64(&m.pending, 1)
	return nil
}

// DelEvent removes event from fd without invoking its callback.
func (m *Manager) DelEvent(fd int, event api.EventType) bool {
	ctx, ok := m.fds.get(fd)
	if !ok {
		return false
	}
	ctx.mu.Lock()
	if ctx.events&event == 0 {
		ctx.mu.Unlock()
		return false
	}
	remaining := ctx.events &^ event
	var err error
	if remaining == api.EventNone {
		err = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	} else {
		ev := unix.EpollEvent{Events: unix.EPOLLET | toEpollBits(remaining), Fd: int32(fd)}
		err = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		ctx.mu.Unlock()
		return false
	}
	ctx.events = remaining
	ctx.contextFor(event).cb = nil
	shouldDelete := remaining == api.EventNone
	ctx.mu.Unlock()

	if shouldDelete {
		m.fds.delete(fd)
	}
	atomic.AddInt64(&m.pending, -1)
	return true
}

// CancelEvent removes event from fd and immediately hands whatever was
// armed on it to the scheduler to run.
func (m *Manager) CancelEvent(fd int, event api.EventType) bool {
	ctx, ok := m.fds.get(fd)
	if !ok {
		return false
	}
	ctx.mu.Lock()
	if ctx.events&event == 0 {
		ctx.mu.Unlock()
		return false
	}
	cb := ctx.contextFor(event).cb
	ctx.mu.Unlock()

	if !m.DelEvent(fd, event) {
		return false
	}
	if cb != nil {
		m.sched.ScheduleFunc(cb, scheduler.AnyThread)
	}
	return true
}

// CancelAll cancels and triggers every event armed on fd.
func (m *Manager) CancelAll(fd int) bool {
	read := m.CancelEvent(fd, api.EventRead)
	write := m.CancelEvent(fd, api.EventWrite)
	return read || write
}

// PendingEventCount returns the number of currently armed event bits.
func (m *Manager) PendingEventCount() int64 {
	return atomic.LoadInt64(&m.pending)
}

// AddTimer delegates to the embedded timer.Manager.
func (m *Manager) AddTimer(d time.Duration, cb func(), recurring bool) api.Timer {
	return m.timers.AddTimer(d, cb, recurring)
}

// AddConditionTimer delegates to the embedded timer.Manager.
func (m *Manager) AddConditionTimer(d time.Duration, cb func(), cond func() bool, recurring bool) api.Timer {
	return m.timers.AddConditionTimer(d, cb, cond, recurring)
}

// NextTimeout delegates to the embedded timer.Manager.
func (m *Manager) NextTimeout() time.Duration {
	return m.timers.NextTimeout()
}

// Stop wakes the poll loop, which then closes the epoll and pipe
// descriptors on its own goroutine.
func (m *Manager) Stop() {
	atomic.StoreInt32(&m.stopped, 1)
	m.tickle()
}

// Shutdown satisfies api.GracefulShutdown, deferring to Stop.
func (m *Manager) Shutdown() error {
	m.Stop()
	return nil
}

// tickle wakes the poll loop out of EpollWait, coalescing concurrent
// callers into a single pipe write exactly like the original's m_tickled
// latch around write(m_tickleFds[1], ...).
func (m *Manager) tickle() {
	if !atomic.CompareAndSwapInt32(&m.tickled, 0, 1) {
		return
	}
	var b [1]byte
	_, _ = unix.Write(m.tickleW, b[:])
}

func (m *Manager) drainTickle() {
	var buf [64]byte
	for {
		n, err := unix.Read(m.tickleR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	atomic.StoreInt32(&m.tickled, 0)
}

func (m *Manager) nextTimeoutMillis() int {
	d := m.timers.NextTimeout()
	if d < 0 {
		return -1
	}
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

// loop is the idle poll: it blocks in EpollWait until a descriptor is
// ready, a timer is due, or tickle() wakes it, then hands every ready
// callback to the scheduler and returns to waiting.
func (m *Manager) loop() {
	events := make([]unix.EpollEvent, 128)
	for {
		if atomic.LoadInt32(&m.stopped) == 1 {
			unix.Close(m.tickleR)
			unix.Close(m.tickleW)
			unix.Close(m.epfd)
			return
		}

		n, err := unix.EpollWait(m.epfd, events, m.nextTimeoutMillis())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == m.tickleR {
				m.drainTickle()
				continue
			}
			m.dispatch(fd, events[i].Events)
		}

		for _, cb := range m.timers.CollectExpired() {
			cb := cb
			m.sched.ScheduleFunc(cb, scheduler.AnyThread)
		}
	}
}

// dispatch hands any callback armed for the readiness bits epEvents
// reported on fd to the scheduler. A fired bit is cleared from fdContext
// before the callback runs — readiness is one-shot, mirroring
// triggerEvent's `events &= ~event` — so a caller that wants further
// notifications must re-register via AddEvent, exactly like the original.
// registered&^real is reprogrammed with EPOLL_CTL_MOD, or EPOLL_CTL_DEL
// when nothing is left armed, matching the idle loop's
// `left = registered & ~real_events` reprogramming step.
func (m *Manager) dispatch(fd int, epEvents uint32) {
	ctx, ok := m.fds.get(fd)
	if !ok {
		return
	}
	ctx.mu.Lock()
	var real api.EventType
	if epEvents&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 && ctx.events&api.EventRead != 0 {
		real |= api.EventRead
	}
	if epEvents&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 && ctx.events&api.EventWrite != 0 {
		real |= api.EventWrite
	}
	if real == api.EventNone {
		ctx.mu.Unlock()
		return
	}

	var fired []func()
	if real&api.EventRead != 0 {
		if cb := ctx.read.cb; cb != nil {
			fired = append(fired, cb)
		}
		ctx.read.cb = nil
	}
	if real&api.EventWrite != 0 {
		if cb := ctx.write.cb; cb != nil {
			fired = append(fired, cb)
		}
		ctx.write.cb = nil
	}
	left := ctx.events &^ real
	ctx.events = left
	shouldDelete := left == api.EventNone
	ctx.mu.Unlock()

	if shouldDelete {
		unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		m.fds.delete(fd)
	} else {
		ev := unix.EpollEvent{Events: unix.EPOLLET | toEpollBits(left), Fd: int32(fd)}
		unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}

	nbits := int64(0)
	if real&api.EventRead != 0 {
		nbits++
	}
	if real&api.EventWrite != 0 {
		nbits++
	}
	atomic.AddInt64(&m.pending, -nbits)

	for _, cb := range fired {
		cb := cb
		m.sched.ScheduleFunc(cb, scheduler.AnyThread)
	}
}

func toEpollBits(e api.EventType) uint32 {
	var bits uint32
	if e&api.EventRead != 0 {
		bits |= unix.EPOLLIN
	}
	if e&api.EventWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}
