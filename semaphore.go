package rhi

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/rhi/gpucore"
)

// Semaphore is a reference-counted GPU-side wait/signal primitive.
//
// A Semaphore starts with one reference. When the last reference is
// released the native object goes through the deferred deletion queue,
// unless the semaphore is externally owned.
type Semaphore struct {
	id       gpucore.SemaphoreID
	refs     atomic.Int32
	external bool
	deleter  *DeferredDeletionQueue
}

func newSemaphore(adapter gpucore.GPUAdapter, deleter *DeferredDeletionQueue) (*Semaphore, error) {
	id, err := adapter.CreateSemaphore()
	if err != nil {
		Logger().Error("rhi: create semaphore failed", "err", err)
		return nil, fmt.Errorf("%w: create semaphore: %v", ErrOutOfMemory, err)
	}
	s := &Semaphore{id: id, deleter: deleter}
	s.refs.Store(1)
	return s, nil
}

// ID returns the native semaphore ID.
func (s *Semaphore) ID() gpucore.SemaphoreID { return s.id }

// IsExternal reports whether the native object belongs to someone else.
func (s *Semaphore) IsExternal() bool { return s.external }

// Refs returns the current reference count.
func (s *Semaphore) Refs() int32 { return s.refs.Load() }

// AddRef adds a reference.
func (s *Semaphore) AddRef() {
	if s.refs.Add(1) <= 1 {
		_ = violation(ErrReleased, "semaphore referenced after release", "semaphore", s.id)
	}
}

// Release drops a reference. The last release schedules destruction.
func (s *Semaphore) Release() {
	n := s.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		_ = violation(ErrReleased, "semaphore released too many times", "semaphore", s.id)
		return
	}
	if s.external || s.deleter == nil {
		return
	}
	_ = s.deleter.Enqueue(gpucore.ResourceSemaphore, uint64(s.id), nil)
}
