// File: hook/syscalls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concrete yielding wrappers built on the DoIO template: the socket and
// read/write-family calls spec'd for interception. readv/writev/recvmsg/
// sendmsg are intentionally not wrapped — golang.org/x/sys/unix's vectored
// I/O helpers are not uniformly available across the platforms this pack
// targets, and Read/Write/Recv/Send already exercise the interest-bit and
// timeout-kind machinery the template exists to test.
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

// Socket creates a socket and eagerly installs it in the fd table so it
// starts life already forced into kernel non-blocking mode.
func Socket(env *Env, domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	env.Fds.Get(fd, true)
	return fd, nil
}

// Read is the hooked equivalent of read(2).
func Read(env *Env, self *fiber.Fiber, fd int, p []byte) (int, error) {
	return DoIO(env, self, fd, api.EventRead, fdtable.Recv, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Write is the hooked equivalent of write(2).
func Write(env *Env, self *fiber.Fiber, fd int, p []byte) (int, error) {
	return DoIO(env, self, fd, api.EventWrite, fdtable.Send, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Recv is the hooked equivalent of recv(2).
func Recv(env *Env, self *fiber.Fiber, fd int, p []byte, flags int) (int, error) {
	return DoIO(env, self, fd, api.EventRead, fdtable.Recv, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	})
}

// RecvFrom is the hooked equivalent of recvfrom(2), returning the peer
// address alongside the byte count.
func RecvFrom(env *Env, self *fiber.Fiber, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	var from unix.Sockaddr
	n, err := DoIO(env, self, fd, api.EventRead, fdtable.Recv, func() (int, error) {
		nn, addr, e := unix.Recvfrom(fd, p, flags)
		from = addr
		return nn, e
	})
	return n, from, err
}

// Send is the hooked equivalent of send(2) on a connected socket.
func Send(env *Env, self *fiber.Fiber, fd int, p []byte, flags int) (int, error) {
	return DoIO(env, self, fd, api.EventWrite, fdtable.Send, func() (int, error) {
		return unix.SendmsgN(fd, p, nil, nil, flags)
	})
}

// SendTo is the hooked equivalent of sendto(2).
func SendTo(env *Env, self *fiber.Fiber, fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return DoIO(env, self, fd, api.EventWrite, fdtable.Send, func() (int, error) {
		if err := unix.Sendto(fd, p, flags, to); err != nil {
			return -1, err
		}
		return len(p), nil
	})
}

// Connect is the hooked equivalent of connect(2): a non-blocking connect
// that returns in-progress arms a write interest (and an optional timeout)
// instead of blocking, then resolves the outcome via SO_ERROR on resume.
func Connect(env *Env, self *fiber.Fiber, fd int, sa unix.Sockaddr, timeout time.Duration) error {
	if !env.Enabled() {
		return unix.Connect(fd, sa)
	}
	ctx := env.Fds.Get(fd, true)
	if ctx == nil || !ctx.IsSocket() || ctx.UserNonblock() {
		return unix.Connect(fd, sa)
	}

	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS {
		return err
	}

	info := &timerInfo{}
	var tm api.Timer
	if timeout != fdtable.NoTimeout {
		tm = env.IO.AddTimer(timeout, func() {
			atomic.StoreInt32(&info.cancelled, timedOut)
			env.IO.CancelEvent(fd, api.EventWrite)
		}, false)
	}
	armErr := env.IO.AddEvent(fd, api.EventWrite, func() {
		env.Scheduler.ScheduleFiber(self, scheduler.AnyThread)
	})
	if armErr != nil {
		if tm != nil {
			tm.Cancel()
		}
		return armErr
	}

	self.Yield()
	if tm != nil {
		tm.Cancel()
	}
	if atomic.LoadInt32(&info.cancelled) == timedOut {
		return api.ErrTimedOut
	}

	soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// Accept is the hooked equivalent of accept(2); the accepted connection is
// installed in the fd table (forcing it non-blocking) before returning.
func Accept(env *Env, self *fiber.Fiber, fd int) (int, unix.Sockaddr, error) {
	var newFd int
	var peer unix.Sockaddr
	_, err := DoIO(env, self, fd, api.EventRead, fdtable.Recv, func() (int, error) {
		nfd, addr, e := unix.Accept(fd)
		if e != nil {
			return -1, e
		}
		newFd, peer = nfd, addr
		return nfd, nil
	})
	if err != nil {
		return -1, nil, err
	}
	env.Fds.Get(newFd, true)
	return newFd, peer, nil
}

// Close is the hooked equivalent of close(2): every armed event on fd is
// cancelled first so any fiber blocked in Read/Write observes the closure
// (a zero-length result or bad-descriptor) instead of hanging forever.
func Close(env *Env, fd int) error {
	if env.IO != nil {
		env.IO.CancelAll(fd)
	}
	if ctx := env.Fds.Get(fd, false); ctx != nil {
		ctx.MarkClosed()
	}
	env.Fds.Del(fd)
	return unix.Close(fd)
}

// FcntlSetFL intercepts F_SETFL: for a socket it only records the user's
// intended blocking mode, leaving the kernel fd non-blocking; other
// descriptors pass straight through.
func FcntlSetFL(env *Env, fd int, flags int) error {
	if ctx := env.Fds.Get(fd, true); ctx != nil && ctx.IsSocket() {
		ctx.SetUserNonblock(flags&unix.O_NONBLOCK != 0)
		return nil
	}
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags)
	return err
}

// FcntlGetFL intercepts F_GETFL: for a socket it reports the user-visible
// blocking mode, not the (always non-blocking) kernel state.
func FcntlGetFL(env *Env, fd int) (int, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return 0, err
	}
	ctx := env.Fds.Get(fd, false)
	if ctx == nil || !ctx.IsSocket() {
		return flags, nil
	}
	if ctx.UserNonblock() {
		return flags | unix.O_NONBLOCK, nil
	}
	return flags &^ unix.O_NONBLOCK, nil
}

// fionbio is the FIONBIO ioctl request code as defined on x86 and ARM
// Linux; it is defined locally rather than taken from golang.org/x/sys/unix.
const fionbio = 0x5421

// IoctlSetNonblock intercepts ioctl(fd, FIONBIO, ...), updating the
// user-nonblock flag the same way FcntlSetFL does.
func IoctlSetNonblock(env *Env, fd int, nonblock bool) error {
	if ctx := env.Fds.Get(fd, true); ctx != nil && ctx.IsSocket() {
		ctx.SetUserNonblock(nonblock)
		return nil
	}
	v := 0
	if nonblock {
		v = 1
	}
	return unix.IoctlSetInt(fd, fionbio, v)
}

// SetSockOptTimeout intercepts setsockopt(SO_RCVTIMEO/SO_SNDTIMEO),
// recording the timeout in the fd table in addition to performing the real
// call.
func SetSockOptTimeout(env *Env, fd int, kind fdtable.TimeoutKind, d time.Duration) error {
	opt := unix.SO_RCVTIMEO
	if kind == fdtable.Send {
		opt = unix.SO_SNDTIMEO
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, opt, &tv); err != nil {
		return err
	}
	if ctx := env.Fds.Get(fd, true); ctx != nil {
		ctx.SetTimeout(kind, d)
	}
	return nil
}

// GetSockOptTimeout returns the timeout the hook layer itself has on
// record for kind, rather than round-tripping through the kernel — see
// DESIGN.md's Open Question 3 decision, which follows the original in
// only ever tracking these in FdCtx.
func GetSockOptTimeout(env *Env, fd int, kind fdtable.TimeoutKind) time.Duration {
	ctx := env.Fds.Get(fd, false)
	if ctx == nil {
		return fdtable.NoTimeout
	}
	return ctx.Timeout(kind)
}

