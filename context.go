package rhi

import (
	"github.com/gogpu/rhi/gpucore"
)

// Context is one logical recording context.
//
// Each queue has an immediate context. Deferred contexts record on their
// own goroutine; their command buffers track layouts in write-only
// managers that merge into the queue's manager on submission.
//
// A Context must be used from one goroutine at a time.
type Context struct {
	device   *Device
	queue    *Queue
	manager  *CommandBufferManager
	deferred bool
}

func newContext(d *Device, q *Queue, deferred bool) *Context {
	return &Context{
		device:   d,
		queue:    q,
		manager:  NewCommandBufferManager(d, q, deferred),
		deferred: deferred,
	}
}

// Queue returns the queue the context submits to.
func (c *Context) Queue() *Queue { return c.queue }

// Manager returns the context's command buffer manager.
func (c *Context) Manager() *CommandBufferManager { return c.manager }

// IsDeferred reports whether this is a deferred context.
func (c *Context) IsDeferred() bool { return c.deferred }

// AcquireCommandBuffer returns a recording command buffer: the upload
// buffer when uploadOnly is set, the active buffer otherwise.
func (c *Context) AcquireCommandBuffer(uploadOnly bool) (*CommandBuffer, error) {
	if err := c.device.Err(); err != nil {
		return nil, err
	}
	if uploadOnly {
		return c.manager.GetUploadCmdBuffer()
	}
	return c.manager.GetActiveCmdBuffer()
}

// Submit ends cb if it is still recording and submits it. Submitting the
// active buffer flushes the upload buffer first.
func (c *Context) Submit(cb *CommandBuffer, waits []SemaphoreWait, signals []*Semaphore) error {
	return c.manager.SubmitCmdBuffer(cb, waits, signals)
}

// SubmitActive submits the active buffer, if one is recording.
func (c *Context) SubmitActive(waits []SemaphoreWait, signals []*Semaphore) error {
	return c.manager.SubmitActiveCmdBuffer(waits, signals)
}

// layouts returns the manager transitions are tracked in: the active
// buffer's while one records, the queue's otherwise.
func (c *Context) layouts() *LayoutManager {
	c.manager.mu.Lock()
	active := c.manager.active
	c.manager.mu.Unlock()
	if active != nil {
		return active.layouts
	}
	return c.queue.layouts
}

// QueryLayout returns the layout tracked for tex as seen by this context.
func (c *Context) QueryLayout(tex Image) (ImageLayout, bool) {
	return c.layouts().GetLayout(tex, false, gpucore.LayoutUndefined)
}

// RequestTransition computes the barriers needed before tex is used with
// access over r in the active command buffer, and tracks the new layout.
// A second identical request returns an empty batch.
func (c *Context) RequestTransition(tex Image, access Access, r gpucore.SubresourceRange) (*PipelineBarrier, error) {
	cb, err := c.AcquireCommandBuffer(false)
	if err != nil {
		return nil, err
	}
	return cb.layouts.RequestTransition(tex, access, r)
}

// CommitBarriers records a barrier batch into cb.
func (c *Context) CommitBarriers(b *PipelineBarrier, cb *CommandBuffer) error {
	return b.Execute(cb)
}

// Transition requests and commits a transition in the active buffer.
func (c *Context) Transition(tex Image, access Access, r gpucore.SubresourceRange) error {
	b, err := c.RequestTransition(tex, access, r)
	if err != nil {
		return err
	}
	cb, err := c.AcquireCommandBuffer(false)
	if err != nil {
		return err
	}
	return c.CommitBarriers(b, cb)
}
