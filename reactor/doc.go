// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor implements the edge-triggered IOManager: per-descriptor
// event bookkeeping multiplexed over epoll(7) on Linux, with a self-pipe
// used to wake the poller from another goroutine. Other platforms get a
// stub that reports ErrNotSupported.
package reactor
