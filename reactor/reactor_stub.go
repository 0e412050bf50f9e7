//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub IOManager for platforms without an epoll(7)-based backend.

package reactor

import (
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/scheduler"
)

// Manager is a no-op stand-in on unsupported platforms. NewManager,
// AddEvent and Shutdown report ErrNotSupported; the other methods return
// false, zero, nil or -1 and do nothing.
type Manager struct{}

// NewManager returns ErrNotSupported; only Linux has an epoll backend.
func NewManager(sched *scheduler.Scheduler) (*Manager, error) {
	return nil, api.ErrNotSupported
}

func (m *Manager) AddEvent(fd int, event api.EventType, cb func()) error { return api.ErrNotSupported }
func (m *Manager) DelEvent(fd int, event api.EventType) bool             { return false }
func (m *Manager) CancelEvent(fd int, event api.EventType) bool          { return false }
func (m *Manager) CancelAll(fd int) bool                                 { return false }
func (m *Manager) PendingEventCount() int64                              { return 0 }
func (m *Manager) AddTimer(d time.Duration, cb func(), recurring bool) api.Timer {
	return nil
}
func (m *Manager) AddConditionTimer(d time.Duration, cb func(), cond func() bool, recurring bool) api.Timer {
	return nil
}
func (m *Manager) NextTimeout() time.Duration { return -1 }
func (m *Manager) Stop()                      {}
func (m *Manager) Shutdown() error            { return api.ErrNotSupported }
