package rhi

import (
	"fmt"
	"sync"

	"github.com/gogpu/rhi/gpucore"
)

// CommandBufferPool allocates and recycles command buffers for one queue.
//
// Buffers whose native memory was released stay on a free list so their
// host objects, fences included, are reused by the next allocation.
//
// CommandBufferPool is safe for concurrent use.
type CommandBufferPool struct {
	mu sync.Mutex

	device *Device
	queue  *Queue

	// writeOnlyLayouts makes buffer-local layout managers write-only.
	writeOnlyLayouts bool

	used []*CommandBuffer
	free []*CommandBuffer

	created int
}

func newCommandBufferPool(d *Device, q *Queue, writeOnlyLayouts bool) *CommandBufferPool {
	return &CommandBufferPool{device: d, queue: q, writeOnlyLayouts: writeOnlyLayouts}
}

// Create returns a new ReadyForBegin buffer, reusing a host object from
// the free list when possible.
func (p *CommandBufferPool) Create(uploadOnly bool) (*CommandBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createLocked(uploadOnly)
}

func (p *CommandBufferPool) createLocked(uploadOnly bool) (*CommandBuffer, error) {
	var cb *CommandBuffer
	if n := len(p.free); n > 0 {
		cb = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		f, err := p.device.fences.AllocateFence(false)
		if err != nil {
			return nil, err
		}
		p.created++
		cb = &CommandBuffer{
			pool:    p,
			fence:   f,
			layouts: NewLayoutManager(p.writeOnlyLayouts, p.queue.layouts),
			label:   fmt.Sprintf("%s-cmd-%d", p.queue.typ, p.created),
		}
	}

	id, err := p.device.adapter.AllocateCommandBuffer(p.queue.typ, cb.label)
	if err != nil {
		p.free = append(p.free, cb)
		Logger().Error("rhi: allocate command buffer failed", "queue", p.queue.typ, "err", err)
		return nil, fmt.Errorf("%w: allocate command buffer: %v", ErrOutOfMemory, err)
	}
	cb.mu.Lock()
	cb.id = id
	cb.state = StateReadyForBegin
	cb.uploadOnly = uploadOnly
	cb.dynamicState = 0
	cb.lastUsedFrame = p.device.FrameNumber()
	cb.mu.Unlock()

	p.used = append(p.used, cb)
	Logger().Debug("rhi: allocated command buffer", "cmdbuf", id, "queue", p.queue.typ, "pooled", len(p.used))
	return cb, nil
}

// Acquire returns a buffer ready to Begin, preferring a recycled one.
// The caller must Begin it before the next Acquire, or the same buffer is
// returned again.
func (p *CommandBufferPool) Acquire(uploadOnly bool) (*CommandBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cb := range p.used {
		cb.refreshFenceStatus()
	}
	for _, cb := range p.used {
		cb.mu.Lock()
		ok := cb.state == StateReadyForBegin || cb.state == StateNeedReset
		if ok {
			cb.uploadOnly = uploadOnly
			cb.lastUsedFrame = p.device.FrameNumber()
		}
		cb.mu.Unlock()
		if ok {
			return cb, nil
		}
	}
	return p.createLocked(uploadOnly)
}

// RefreshFenceStatus recycles every buffer whose work has completed,
// except skip. It returns the number of recycled buffers.
func (p *CommandBufferPool) RefreshFenceStatus(skip *CommandBuffer) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, cb := range p.used {
		if cb != skip && cb.refreshFenceStatus() {
			n++
		}
	}
	return n
}

// FreeUnusedCmdBuffers releases the native memory of buffers idle for at
// least idleFrames frames. Their host objects move to the free list.
func (p *CommandBufferPool) FreeUnusedCmdBuffers(idleFrames uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame := p.device.FrameNumber()
	freed := 0
	for i := len(p.used) - 1; i >= 0; i-- {
		cb := p.used[i]
		cb.mu.Lock()
		idle := (cb.state == StateReadyForBegin || cb.state == StateNeedReset) &&
			frame >= cb.lastUsedFrame && frame-cb.lastUsedFrame >= idleFrames
		if idle {
			p.device.adapter.FreeCommandBuffer(cb.id)
			cb.id = gpucore.InvalidID
			cb.state = StateNotAllocated
			cb.layouts.Clear()
		}
		cb.mu.Unlock()
		if !idle {
			continue
		}
		last := len(p.used) - 1
		p.used[i] = p.used[last]
		p.used[last] = nil
		p.used = p.used[:last]
		p.free = append(p.free, cb)
		freed++
	}
	if freed > 0 {
		Logger().Debug("rhi: freed idle command buffers", "queue", p.queue.typ, "count", freed)
	}
	return freed
}

// Len returns the number of buffers holding native memory.
func (p *CommandBufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// FreeLen returns the number of host objects waiting for reuse.
func (p *CommandBufferPool) FreeLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close frees every buffer and its fence. The GPU must be idle.
func (p *CommandBufferPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cb := range p.used {
		cb.mu.Lock()
		if cb.state == StateSubmitted {
			Logger().Warn("rhi: closing pool with in-flight command buffer", "cmdbuf", cb.id)
		}
		p.device.adapter.FreeCommandBuffer(cb.id)
		cb.state = StateNotAllocated
		cb.mu.Unlock()
		p.device.fences.ReleaseFence(cb.fence)
	}
	for _, cb := range p.free {
		p.device.fences.ReleaseFence(cb.fence)
	}
	p.used = nil
	p.free = nil
}
