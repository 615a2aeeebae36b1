package rhi

import (
	"sync"
	"time"
)

// CommandBufferManager hands out the command buffers of one context: the
// active buffer for general recording and the upload buffer for copy work.
//
// The upload buffer is always submitted ahead of the active one, so
// uploads recorded during a frame are visible to that frame's draws.
type CommandBufferManager struct {
	mu sync.Mutex

	device *Device
	queue  *Queue
	pool   *CommandBufferPool

	active *CommandBuffer
	upload *CommandBuffer
}

// NewCommandBufferManager creates a manager with its own pool.
func NewCommandBufferManager(d *Device, q *Queue, writeOnlyLayouts bool) *CommandBufferManager {
	return &CommandBufferManager{
		device: d,
		queue:  q,
		pool:   newCommandBufferPool(d, q, writeOnlyLayouts),
	}
}

// Pool returns the manager's pool.
func (m *CommandBufferManager) Pool() *CommandBufferPool { return m.pool }

// HasPendingActiveCmdBuffer reports whether an active buffer is recording.
func (m *CommandBufferManager) HasPendingActiveCmdBuffer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// HasPendingUploadCmdBuffer reports whether an upload buffer is recording.
func (m *CommandBufferManager) HasPendingUploadCmdBuffer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upload != nil
}

// GetActiveCmdBuffer returns the recording active buffer, starting one if
// needed. A pending upload buffer is submitted first.
func (m *CommandBufferManager) GetActiveCmdBuffer() (*CommandBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.submitUploadLocked(nil); err != nil {
		return nil, err
	}
	if m.active == nil {
		if err := m.prepareActiveLocked(); err != nil {
			return nil, err
		}
	}
	return m.active, nil
}

// GetUploadCmdBuffer returns the recording upload buffer, starting one if
// needed.
func (m *CommandBufferManager) GetUploadCmdBuffer() (*CommandBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upload != nil {
		return m.upload, nil
	}
	cb, err := m.beginNewLocked(true)
	if err != nil {
		return nil, err
	}
	m.upload = cb
	return cb, nil
}

// PrepareForNewActiveCommandBuffer starts a fresh active buffer. It is a
// no-op while one is recording.
func (m *CommandBufferManager) PrepareForNewActiveCommandBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil
	}
	return m.prepareActiveLocked()
}

func (m *CommandBufferManager) prepareActiveLocked() error {
	cb, err := m.beginNewLocked(false)
	if err != nil {
		return err
	}
	m.active = cb
	return nil
}

func (m *CommandBufferManager) beginNewLocked(uploadOnly bool) (*CommandBuffer, error) {
	cb, err := m.pool.Acquire(uploadOnly)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	return cb, nil
}

// SubmitUploadCmdBuffer ends and submits the upload buffer, if any.
func (m *CommandBufferManager) SubmitUploadCmdBuffer(signals []*Semaphore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitUploadLocked(signals)
}

func (m *CommandBufferManager) submitUploadLocked(signals []*Semaphore) error {
	if m.upload == nil {
		return nil
	}
	cb := m.upload
	m.upload = nil
	return m.endAndSubmit(cb, nil, signals)
}

// SubmitActiveCmdBuffer ends and submits the active buffer after flushing
// the upload buffer. The next GetActiveCmdBuffer starts a new one.
func (m *CommandBufferManager) SubmitActiveCmdBuffer(waits []SemaphoreWait, signals []*Semaphore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.submitUploadLocked(nil); err != nil {
		return err
	}
	if m.active == nil {
		return nil
	}
	cb := m.active
	m.active = nil
	if err := m.endAndSubmit(cb, waits, signals); err != nil {
		return err
	}
	m.pool.RefreshFenceStatus(cb)
	return nil
}

// SubmitCmdBuffer ends and submits a buffer the manager does not track as
// active or upload, such as one taken straight from the pool.
func (m *CommandBufferManager) SubmitCmdBuffer(cb *CommandBuffer, waits []SemaphoreWait, signals []*Semaphore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cb {
	case m.active:
		m.active = nil
	case m.upload:
		m.upload = nil
	default:
		if err := m.submitUploadLocked(nil); err != nil {
			return err
		}
	}
	return m.endAndSubmit(cb, waits, signals)
}

func (m *CommandBufferManager) endAndSubmit(cb *CommandBuffer, waits []SemaphoreWait, signals []*Semaphore) error {
	if cb.HasBegun() {
		if err := cb.End(); err != nil && cb.State() != StateHasEnded {
			return err
		}
	}
	return m.queue.Submit(cb, waits, signals)
}

// WaitForCmdBuffer blocks until cb's submitted work completes and then
// recycles it. It returns false on timeout.
func (m *CommandBufferManager) WaitForCmdBuffer(cb *CommandBuffer, timeout time.Duration) bool {
	if !cb.IsSubmitted() {
		return true
	}
	if !m.device.fences.WaitForFence(cb.fence, timeout) {
		return false
	}
	cb.refreshFenceStatus()
	return true
}

// RefreshFenceStatus recycles completed buffers.
func (m *CommandBufferManager) RefreshFenceStatus() int {
	return m.pool.RefreshFenceStatus(nil)
}

// FreeUnusedCmdBuffers releases native memory of idle buffers.
func (m *CommandBufferManager) FreeUnusedCmdBuffers(idleFrames uint64) int {
	return m.pool.FreeUnusedCmdBuffers(idleFrames)
}

// Close closes the pool. The GPU must be idle.
func (m *CommandBufferManager) Close() {
	m.mu.Lock()
	m.active, m.upload = nil, nil
	m.mu.Unlock()
	m.pool.Close()
}
