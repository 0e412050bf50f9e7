// File: cmd/echoserver/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal demo wiring the fiber/scheduler/reactor triad together through
// the hook layer's socket API: one fiber accepts, spawning a fiber per
// connection that echoes back whatever it reads until the peer closes.
// Not a core package — proves the triad is usable end to end, nothing
// here belongs to the scheduler/reactor implementation itself.
package main

import (
	"flag"
	"log"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fdtable"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/hook"
	"github.com/momentics/hioload-fiber/pool"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/runtimecfg"
	"github.com/momentics/hioload-fiber/scheduler"
)

const readBufferSize = 4096

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "listen address")
	flag.Parse()

	logger := log.New(os.Stderr, "[echoserver] ", log.LstdFlags)
	cfg := runtimecfg.DefaultConfig()

	sched := scheduler.New(cfg.NumWorkers, cfg.UseCaller, cfg.NUMANode)
	if err := sched.Start(); err != nil {
		logger.Fatalf("scheduler start: %v", err)
	}
	var shutdowns []api.GracefulShutdown
	defer func() {
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i].Shutdown(); err != nil {
				logger.Printf("shutdown error: %v", err)
			}
		}
	}()
	shutdowns = append(shutdowns, sched)

	io, err := reactor.NewManager(sched)
	if err != nil {
		logger.Fatalf("reactor init: %v", err)
	}
	shutdowns = append(shutdowns, io)

	env := hook.NewEnv(fdtable.New(), io, sched)
	bufPool := pool.NewBufferPool(readBufferSize)

	metrics := control.NewMetricsRegistry()
	debug := control.NewDebugProbes()
	debug.RegisterProbe("reactor.pending_events", func() any { return io.PendingEventCount() })
	control.RegisterPlatformProbes(debug)

	lfd, err := listenOn(*addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	logger.Printf("listening on %s (fd=%d)", *addr, lfd)

	accepted := int64(0)
	acceptLoop := fiber.New(func(self *fiber.Fiber) {
		for {
			cfd, peer, err := hook.Accept(env, self, lfd)
			if err != nil {
				logger.Printf("accept error: %v", err)
				continue
			}
			accepted++
			metrics.Set("connections.accepted", accepted)
			logger.Printf("accepted fd=%d peer=%v", cfd, peer)

			conn := fiber.New(func(cself *fiber.Fiber) {
				runEchoConn(env, cself, cfd, bufPool, logger)
			}, 0)
			sched.ScheduleFiber(conn, scheduler.AnyThread)
		}
	}, 0)

	sched.ScheduleFiber(acceptLoop, scheduler.AnyThread)

	// Block the main goroutine forever; the scheduler's own worker
	// goroutines carry the actual work.
	select {}
}

func runEchoConn(env *hook.Env, self *fiber.Fiber, fd int, bufPool *pool.SyncPool[[]byte], logger *log.Logger) {
	defer hook.Close(env, fd)
	buf := bufPool.Get()
	defer bufPool.Put(buf)
	for {
		n, err := hook.Read(env, self, fd, buf)
		if err != nil {
			logger.Printf("fd=%d read error: %v", fd, err)
			return
		}
		if n == 0 {
			logger.Printf("fd=%d peer closed", fd)
			return
		}
		if _, err := hook.Write(env, self, fd, buf[:n]); err != nil {
			logger.Printf("fd=%d write error: %v", fd, err)
			return
		}
	}
}

func listenOn(addr string) (int, error) {
	sa, err := resolveSockaddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
