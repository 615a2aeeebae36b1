// Package native provides a gpucore.GPUAdapter over the Pure Go gogpu/wgpu HAL.
package native

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// HALAdapter implements gpucore.GPUAdapter using gogpu/wgpu/hal directly.
// It provides a bridge between the gpucore abstraction and the HAL layer.
//
// The HAL exposes one queue per device, so every gpucore.QueueType is served
// by it. Queue submission order then already orders cross-queue work, and
// semaphores are tracked only for validation.
//
// Thread Safety: HALAdapter is safe for concurrent use from multiple goroutines.
// All resource maps are protected by a mutex.
type HALAdapter struct {
	mu     sync.RWMutex
	device hal.Device
	queue  hal.Queue

	// instance is set when the adapter opened the device itself.
	instance hal.Instance
	external bool
	info     gputypes.AdapterInfo
	limits   gputypes.Limits

	// ID generation
	nextID atomic.Uint64

	// Resource tracking maps gpucore IDs to hal resources
	fences         map[gpucore.FenceID]*fenceEntry
	semaphores     map[gpucore.SemaphoreID]struct{}
	commandBuffers map[gpucore.CommandBufferID]*commandBuffer
	buffers        map[gpucore.BufferID]hal.Buffer
	textures       map[gpucore.TextureID]*texture

	closed atomic.Bool
}

var _ gpucore.GPUAdapter = (*HALAdapter)(nil)

// NewHALAdapter creates a new HALAdapter wrapping the given device and queue.
// The limits parameter provides the adapter's capability limits.
// If limits is nil, default limits are used.
//
// The adapter does not take ownership of the device: Close releases the
// objects created through the adapter but leaves the device alive.
func NewHALAdapter(device hal.Device, queue hal.Queue, limits *gputypes.Limits) *HALAdapter {
	lim := gputypes.DefaultLimits()
	if limits != nil {
		lim = *limits
	}

	a := &HALAdapter{
		device:         device,
		queue:          queue,
		external:       true,
		limits:         lim,
		fences:         make(map[gpucore.FenceID]*fenceEntry),
		semaphores:     make(map[gpucore.SemaphoreID]struct{}),
		commandBuffers: make(map[gpucore.CommandBufferID]*commandBuffer),
		buffers:        make(map[gpucore.BufferID]hal.Buffer),
		textures:       make(map[gpucore.TextureID]*texture),
	}

	// Start ID generation at 1 (0 is invalid)
	a.nextID.Store(1)

	return a
}

// newID generates a unique object ID.
func (a *HALAdapter) newID() uint64 {
	return a.nextID.Add(1) - 1
}

// Info returns the description of the adapter the device was opened on.
// It is empty for adapters built with NewHALAdapter.
func (a *HALAdapter) Info() gputypes.AdapterInfo {
	return a.info
}

// Limits returns the device limits.
func (a *HALAdapter) Limits() gputypes.Limits {
	return a.limits
}

// SetLogger routes the log output of the adapter.
// rhi calls it when a device is created and on every rhi.SetLogger.
func (a *HALAdapter) SetLogger(l *slog.Logger) {
	setLogger(l)
}

// === Semaphores ===

// CreateSemaphore creates a semaphore handle.
func (a *HALAdapter) CreateSemaphore() (gpucore.SemaphoreID, error) {
	if a.closed.Load() {
		return gpucore.InvalidID, ErrClosed
	}
	id := gpucore.SemaphoreID(a.newID())

	a.mu.Lock()
	a.semaphores[id] = struct{}{}
	a.mu.Unlock()

	return id, nil
}

// DestroySemaphore releases a semaphore handle.
func (a *HALAdapter) DestroySemaphore(id gpucore.SemaphoreID) {
	a.mu.Lock()
	delete(a.semaphores, id)
	a.mu.Unlock()
}

// === Submission ===

// Submit submits recorded command buffers. The fence, if any, completes when
// the queue reports the returned submission index as done.
func (a *HALAdapter) Submit(info *gpucore.SubmitInfo) error {
	if info == nil {
		return fmt.Errorf("native: nil submit info")
	}
	if a.closed.Load() {
		return ErrClosed
	}

	a.mu.RLock()
	cmds := make([]hal.CommandBuffer, 0, len(info.CommandBuffers))
	for _, id := range info.CommandBuffers {
		cb, ok := a.commandBuffers[id]
		if !ok {
			a.mu.RUnlock()
			return fmt.Errorf("native: command buffer %d: %w", id, gpucore.ErrUnknownID)
		}
		if cb.recorded == nil {
			a.mu.RUnlock()
			return fmt.Errorf("native: command buffer %d was not ended", id)
		}
		cmds = append(cmds, cb.recorded)
	}
	for _, w := range info.Wait {
		if _, ok := a.semaphores[w.Semaphore]; !ok {
			a.mu.RUnlock()
			return fmt.Errorf("native: wait semaphore %d: %w", w.Semaphore, gpucore.ErrUnknownID)
		}
	}
	for _, s := range info.Signal {
		if _, ok := a.semaphores[s]; !ok {
			a.mu.RUnlock()
			return fmt.Errorf("native: signal semaphore %d: %w", s, gpucore.ErrUnknownID)
		}
	}
	var fence *fenceEntry
	if info.Fence != gpucore.InvalidID {
		f, ok := a.fences[info.Fence]
		if !ok {
			a.mu.RUnlock()
			return fmt.Errorf("native: fence %d: %w", info.Fence, gpucore.ErrUnknownID)
		}
		fence = f
	}
	a.mu.RUnlock()

	index, err := a.queue.Submit(cmds)
	if err != nil {
		return fmt.Errorf("native: submit to %s queue: %w", info.Queue, translateError(err))
	}
	if fence != nil {
		fence.arm(index)
	}
	slogger().Debug("native: submitted", "queue", info.Queue, "command_buffers", len(cmds), "index", index)
	return nil
}

// WaitIdle blocks until the device is idle.
func (a *HALAdapter) WaitIdle() error {
	if err := a.device.WaitIdle(); err != nil {
		return fmt.Errorf("native: wait idle: %w", translateError(err))
	}
	return nil
}

// Close waits for the device, destroys every object still owned by the
// adapter and, when the adapter opened the device itself, the device and
// instance. Close is idempotent.
func (a *HALAdapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := a.WaitIdle()

	a.mu.Lock()
	cbs := a.commandBuffers
	bufs := a.buffers
	texs := a.textures
	fenceCount := len(a.fences)
	a.commandBuffers = make(map[gpucore.CommandBufferID]*commandBuffer)
	a.buffers = make(map[gpucore.BufferID]hal.Buffer)
	a.textures = make(map[gpucore.TextureID]*texture)
	a.fences = make(map[gpucore.FenceID]*fenceEntry)
	a.semaphores = make(map[gpucore.SemaphoreID]struct{})
	a.mu.Unlock()

	for _, cb := range cbs {
		a.destroyCommandBuffer(cb)
	}
	for _, b := range bufs {
		a.device.DestroyBuffer(b)
	}
	for _, t := range texs {
		a.device.DestroyTexture(t.tex)
	}

	leaked := len(cbs) + len(bufs) + len(texs) + fenceCount
	if leaked > 0 {
		slogger().Warn("native: objects still alive at close", "count", leaked)
	}

	if !a.external {
		a.device.Destroy()
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	slogger().Info("native: adapter closed", "adapter", a.info.Name)
	return err
}
