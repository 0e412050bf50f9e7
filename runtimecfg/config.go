// File: runtimecfg/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package runtimecfg holds the knobs a process wires into the fiber
// runtime's triad at startup: worker count and CPU pinning, plus default
// I/O timeout values. The hook layer does not read DefaultRecv or
// DefaultSend; a socket whose timeouts were never set has no timeout.
package runtimecfg

import "time"

// Config holds all configurable parameters for a fiber runtime instance.
type Config struct {
	NumWorkers     int
	UseCaller      bool
	NUMANode       int
	DefaultRecv    time.Duration
	DefaultSend    time.Duration
	TickInterval   time.Duration
	EnableMetrics  bool
	EnableDebug    bool
	ShutdownWindow time.Duration
}

// DefaultConfig returns a baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		NumWorkers:     4,
		UseCaller:      false,
		NUMANode:       -1,
		DefaultRecv:    30 * time.Second,
		DefaultSend:    30 * time.Second,
		TickInterval:   time.Second,
		EnableMetrics:  true,
		EnableDebug:    true,
		ShutdownWindow: 10 * time.Second,
	}
}
