package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rhi/gpucore"
)

// FenceState is the cached state of a Fence.
type FenceState uint8

// Fence states.
const (
	// FenceNotReady means the fence has not been observed signaled.
	FenceNotReady FenceState = iota

	// FenceSignaled means a poll or wait observed the fence signaled.
	// Only the FenceManager sets it.
	FenceSignaled
)

// String returns the state name.
func (s FenceState) String() string {
	if s == FenceSignaled {
		return "Signaled"
	}
	return "NotReady"
}

// Fence wraps a native GPU->CPU completion signal.
//
// A Fence is owned by exactly one command buffer at a time. It is returned
// to its manager's free list on release, not destroyed.
type Fence struct {
	id    gpucore.FenceID
	state atomic.Uint32 // FenceState
	owner *FenceManager
}

func (f *Fence) setState(s FenceState) { f.state.Store(uint32(s)) }

// ID returns the native fence ID.
func (f *Fence) ID() gpucore.FenceID { return f.id }

// State returns the cached state. It does not poll the GPU.
func (f *Fence) State() FenceState { return FenceState(f.state.Load()) }

// IsSignaled reports whether the fence has been observed signaled.
func (f *Fence) IsSignaled() bool { return f.State() == FenceSignaled }

// FenceStats contains fence pool statistics.
type FenceStats struct {
	Used    int
	Free    int
	Created uint64
}

// FenceManager pools fences and tracks their cached state.
//
// FenceManager is safe for concurrent use.
type FenceManager struct {
	mu sync.Mutex

	adapter gpucore.GPUAdapter

	free []*Fence
	used map[*Fence]struct{}

	created uint64

	// consecutive wait timeouts; reaching lostAfter reports device loss.
	timeouts  int
	lostAfter int
	onLost    func(error)
}

// NewFenceManager creates a fence manager. onLost, if non-nil, is called
// when fence queries indicate the device is lost.
func NewFenceManager(adapter gpucore.GPUAdapter, lostAfter int, onLost func(error)) *FenceManager {
	return &FenceManager{
		adapter:   adapter,
		used:      make(map[*Fence]struct{}),
		lostAfter: lostAfter,
		onLost:    onLost,
	}
}

// AllocateFence returns a pooled or new fence.
//
// Pooled fences are always unsignaled, so a signaled fence is always
// created natively.
func (m *FenceManager) AllocateFence(createSignaled bool) (*Fence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !createSignaled && len(m.free) > 0 {
		f := m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
		m.used[f] = struct{}{}
		return f, nil
	}

	id, err := m.adapter.CreateFence(createSignaled)
	if err != nil {
		Logger().Error("rhi: create fence failed", "err", err)
		return nil, fmt.Errorf("%w: create fence: %v", ErrOutOfMemory, err)
	}
	f := &Fence{id: id, owner: m}
	if createSignaled {
		f.setState(FenceSignaled)
	}
	m.used[f] = struct{}{}
	m.created++
	return f, nil
}

// IsFenceSignaled returns the cached signaled state, or polls the GPU once
// and caches the result.
func (m *FenceManager) IsFenceSignaled(f *Fence) bool {
	if f.IsSignaled() {
		return true
	}
	ok, err := m.adapter.FenceStatus(f.id)
	if err != nil {
		m.deviceLost(fmt.Errorf("%w: fence status: %v", ErrDeviceLost, err))
		return false
	}
	if ok {
		f.setState(FenceSignaled)
	}
	return ok
}

// WaitForFence blocks until the fence is signaled or the timeout expires.
// It returns false on timeout; repeated timeouts report device loss.
func (m *FenceManager) WaitForFence(f *Fence, timeout time.Duration) bool {
	if f.IsSignaled() {
		return true
	}
	ok, err := m.adapter.WaitFence(f.id, timeout)
	if err != nil {
		m.deviceLost(fmt.Errorf("%w: wait fence: %v", ErrDeviceLost, err))
		return false
	}
	m.mu.Lock()
	if ok {
		m.timeouts = 0
		m.mu.Unlock()
		f.setState(FenceSignaled)
		return true
	}
	m.timeouts++
	lost := m.lostAfter > 0 && m.timeouts >= m.lostAfter
	n := m.timeouts
	m.mu.Unlock()

	Logger().Warn("rhi: fence wait timed out", "fence", f.id, "timeout", timeout, "consecutive", n)
	if lost {
		m.deviceLost(fmt.Errorf("%w: %d consecutive fence timeouts", ErrDeviceLost, n))
	}
	return false
}

// ResetFence returns a signaled fence to NotReady. Resetting an unsignaled
// fence is a no-op.
func (m *FenceManager) ResetFence(f *Fence) error {
	if f.State() == FenceNotReady {
		return nil
	}
	if err := m.adapter.ResetFence(f.id); err != nil {
		return fmt.Errorf("rhi: reset fence: %w", err)
	}
	f.setState(FenceNotReady)
	return nil
}

// ReleaseFence resets the fence and returns it to the free list. The caller
// must not use f afterwards, and must only release a fence no in-flight
// submission references (a signaled fence, or one never submitted).
func (m *FenceManager) ReleaseFence(f *Fence) {
	if f == nil {
		return
	}
	m.mu.Lock()
	if _, ok := m.used[f]; !ok {
		m.mu.Unlock()
		_ = violation(ErrReleased, "fence released twice", "fence", f.id)
		return
	}
	delete(m.used, f)
	m.mu.Unlock()

	// The cached state may lag the native one, so always reset natively.
	if err := m.adapter.ResetFence(f.id); err != nil {
		Logger().Warn("rhi: dropping fence that failed to reset", "fence", f.id, "err", err)
		m.adapter.DestroyFence(f.id)
		return
	}
	f.setState(FenceNotReady)

	m.mu.Lock()
	m.free = append(m.free, f)
	m.mu.Unlock()
}

// WaitAndReleaseFence waits for the fence, then releases it.
// It returns false, without releasing, if the wait timed out.
func (m *FenceManager) WaitAndReleaseFence(f *Fence, timeout time.Duration) bool {
	if !m.WaitForFence(f, timeout) {
		return false
	}
	m.ReleaseFence(f)
	return true
}

// Stats returns fence pool statistics.
func (m *FenceManager) Stats() FenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FenceStats{Used: len(m.used), Free: len(m.free), Created: m.created}
}

// Close destroys every fence, pooled or in use. The caller must have
// drained the GPU first.
func (m *FenceManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.free {
		m.adapter.DestroyFence(f.id)
	}
	for f := range m.used {
		m.adapter.DestroyFence(f.id)
	}
	m.free = nil
	m.used = make(map[*Fence]struct{})
}

func (m *FenceManager) deviceLost(err error) {
	Logger().Error("rhi: device lost", "err", err)
	if m.onLost != nil {
		m.onLost(err)
	}
}
