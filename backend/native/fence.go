// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rhi/gpucore"
)

// Fence polling backoff bounds.
const (
	minFencePoll = 20 * time.Microsecond
	maxFencePoll = time.Millisecond
)

// fenceEntry emulates a binary fence on top of the HAL submission index.
// A submission arms the fence with the index it was assigned; the fence is
// signaled once the queue reports that index (or a later one) completed.
type fenceEntry struct {
	mu       sync.Mutex
	index    uint64
	signaled bool
}

func (f *fenceEntry) arm(index uint64) {
	f.mu.Lock()
	f.index = index
	f.signaled = false
	f.mu.Unlock()
}

func (f *fenceEntry) reset() {
	f.mu.Lock()
	f.index = 0
	f.signaled = false
	f.mu.Unlock()
}

// poll reports whether the fence is signaled, given the highest completed
// submission index.
func (f *fenceEntry) poll(completed func() uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return true
	}
	if f.index == 0 {
		return false
	}
	if completed() >= f.index {
		f.signaled = true
	}
	return f.signaled
}

// === Fences ===

// CreateFence creates a fence, optionally already signaled.
func (a *HALAdapter) CreateFence(signaled bool) (gpucore.FenceID, error) {
	if a.closed.Load() {
		return gpucore.InvalidID, ErrClosed
	}
	id := gpucore.FenceID(a.newID())

	a.mu.Lock()
	a.fences[id] = &fenceEntry{signaled: signaled}
	a.mu.Unlock()

	return id, nil
}

// DestroyFence destroys a fence.
func (a *HALAdapter) DestroyFence(id gpucore.FenceID) {
	a.mu.Lock()
	delete(a.fences, id)
	a.mu.Unlock()
}

// ResetFence returns the fence to the unsignaled, unsubmitted state.
func (a *HALAdapter) ResetFence(id gpucore.FenceID) error {
	f, err := a.fence(id)
	if err != nil {
		return err
	}
	f.reset()
	return nil
}

// FenceStatus polls a fence once.
func (a *HALAdapter) FenceStatus(id gpucore.FenceID) (bool, error) {
	f, err := a.fence(id)
	if err != nil {
		return false, err
	}
	return f.poll(a.queue.PollCompleted), nil
}

// WaitFence polls the fence with exponential backoff until it is signaled
// or the timeout expires.
func (a *HALAdapter) WaitFence(id gpucore.FenceID, timeout time.Duration) (bool, error) {
	f, err := a.fence(id)
	if err != nil {
		return false, err
	}
	if f.poll(a.queue.PollCompleted) {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	sleep := minFencePoll
	for time.Now().Before(deadline) {
		time.Sleep(min(sleep, time.Until(deadline)))
		if f.poll(a.queue.PollCompleted) {
			return true, nil
		}
		sleep = min(sleep*2, maxFencePoll)
	}
	slogger().Debug("native: fence wait timed out", "fence", id, "timeout", timeout)
	return false, nil
}

func (a *HALAdapter) fence(id gpucore.FenceID) (*fenceEntry, error) {
	a.mu.RLock()
	f, ok := a.fences[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: fence %d: %w", id, gpucore.ErrUnknownID)
	}
	return f, nil
}
