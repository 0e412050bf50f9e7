// File: timer/heap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package timer implements the TimerHeap: an ordered set of pending timed
// wakeups with clock-rollback detection, grounded on fiber_lib/timer/timer.cpp
// and adapted from container/heap in place of the original's ordered
// std::set<shared_ptr<Timer>, Comparator>.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a single pending or recurring timed wakeup. While armed, its
// callback is non-nil; Cancel nulls it and removes the timer from the heap.
type Timer struct {
	period    time.Duration
	next      time.Time
	cb        func()
	recurring bool
	manager   *Manager
	index     int // position in the heap; -1 when not present
	seq       uint64
}

// Cancel nulls the callback and removes the timer from the heap. Returns
// false if already cancelled (idempotent after the first success).
func (t *Timer) Cancel() bool {
	t.manager.mu.Lock()
	defer t.manager.mu.Unlock()
	if t.cb == nil {
		return false
	}
	t.cb = nil
	if t.index >= 0 {
		heap.Remove(&t.manager.h, t.index)
	}
	return true
}

// Refresh reinserts the timer with next = now + period.
func (t *Timer) Refresh() bool {
	t.manager.mu.Lock()
	defer t.manager.mu.Unlock()
	if t.cb == nil || t.index < 0 {
		return false
	}
	heap.Remove(&t.manager.h, t.index)
	t.next = time.Now().Add(t.period)
	t.manager.insertLocked(t)
	return true
}

// Reset changes the timer's period. If fromNow, next = now + d; otherwise
// next = (old_next - old_period) + d. A no-op when d == period && !fromNow.
func (t *Timer) Reset(d time.Duration, fromNow bool) bool {
	if d == t.period && !fromNow {
		return true
	}
	t.manager.mu.Lock()
	if t.cb == nil || t.index < 0 {
		t.manager.mu.Unlock()
		return false
	}
	heap.Remove(&t.manager.h, t.index)
	var start time.Time
	if fromNow {
		start = time.Now()
	} else {
		start = t.next.Add(-t.period)
	}
	t.period = d
	t.next = start.Add(d)
	t.manager.insertLocked(t)
	t.manager.mu.Unlock()
	return true
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].seq < h[j].seq
	}
	return h[i].next.Before(h[j].next)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Manager owns the ordered set of pending timed wakeups for one reactor.
// The clock-rollback contract accepts only a backward jump of more than one
// hour between successive CollectExpired calls as a rollover signal;
// smaller backward jumps and all forward jumps are left uncorrected.
type Manager struct {
	mu           sync.RWMutex
	h            timerHeap
	tickled      bool
	previousTime time.Time
	seq          uint64

	// onInsertedAtFront is invoked (outside the lock) whenever a newly
	// inserted timer becomes the new minimum and no notification is
	// already pending; the reactor overrides this to wake its multiplexer.
	onInsertedAtFront func()
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{previousTime: time.Now()}
}

// SetOnTimerInsertedAtFront installs the front-insertion wakeup hook.
func (m *Manager) SetOnTimerInsertedAtFront(fn func()) {
	m.mu.Lock()
	m.onInsertedAtFront = fn
	m.mu.Unlock()
}

// AddTimer schedules cb to run after d, optionally recurring every d.
func (m *Manager) AddTimer(d time.Duration, cb func(), recurring bool) *Timer {
	m.mu.Lock()
	m.seq++
	t := &Timer{period: d, next: time.Now().Add(d), cb: cb, recurring: recurring, manager: m, index: -1, seq: m.seq}
	atFront := m.insertLocked(t)
	hook := m.onInsertedAtFront
	m.mu.Unlock()
	if atFront && hook != nil {
		hook()
	}
	return t
}

// insertLocked inserts t and reports whether it became the new minimum
// while no notification was already pending; m.mu must be held.
func (m *Manager) insertLocked(t *Timer) bool {
	heap.Push(&m.h, t)
	atFront := t.index == 0 && !m.tickled
	if atFront {
		m.tickled = true
	}
	return atFront
}

// AddConditionTimer wraps cb so it only runs while cond still reports true,
// standing in for the original's std::weak_ptr upgrade check: Go has no
// weak pointers, so callers pass an explicit predicate (typically closing
// over a generation counter or an atomic liveness flag) instead.
func (m *Manager) AddConditionTimer(d time.Duration, cb func(), cond func() bool, recurring bool) *Timer {
	wrapped := func() {
		if cond == nil || cond() {
			cb()
		}
	}
	return m.AddTimer(d, wrapped, recurring)
}

// NextTimeout returns the duration until the earliest pending timer, zero
// if one is already overdue, or -1 if the heap is empty. Calling it clears
// the pending-notification latch, matching getNextTimer()'s m_tickled reset.
func (m *Manager) NextTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickled = false
	if len(m.h) == 0 {
		return -1
	}
	now := time.Now()
	next := m.h[0].next
	if !next.After(now) {
		return 0
	}
	return next.Sub(now)
}

// HasTimer reports whether any timer is pending.
func (m *Manager) HasTimer() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.h) > 0
}

// CollectExpired drains and returns the callbacks of every timer whose next
// fire time has passed, or every pending timer at all if the wall clock has
// jumped backward by more than one hour since the last call. Recurring
// timers are reinserted with next = now + period; one-shot timers have
// their callback released.
func (m *Manager) CollectExpired() []func() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	rollover := now.Before(m.previousTime.Add(-time.Hour))
	m.previousTime = now

	var cbs []func()
	for len(m.h) > 0 && (rollover || !m.h[0].next.After(now)) {
		t := heap.Pop(&m.h).(*Timer)
		cbs = append(cbs, t.cb)
		if t.recurring {
			t.next = now.Add(t.period)
			heap.Push(&m.h, t)
		} else {
			t.cb = nil
		}
	}
	return cbs
}
