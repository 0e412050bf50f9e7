// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// SyncPool wraps sync.Pool for generic usage. It satisfies
// api.ObjectPool[T] without importing api, keeping this package
// dependency-free the way the teacher's own pool package is.
type SyncPool[T any] struct {
	pool *sync.Pool
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// NewBufferPool returns a SyncPool of byte slices of size, for recycling
// the per-connection read/write buffers hooked I/O churns through.
func NewBufferPool(size int) *SyncPool[[]byte] {
	return NewSyncPool(func() []byte { return make([]byte, size) })
}
