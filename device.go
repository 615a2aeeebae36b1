package rhi

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi/gpucore"
)

// Device owns the execution and resource-lifecycle state for one GPU: the
// fence pool, the deferred deletion queue, memory accounting, the queues
// and their contexts, and the frame counter.
//
// Device is safe for concurrent use; contexts are not.
type Device struct {
	mu sync.Mutex

	adapter gpucore.GPUAdapter
	cfg     Config

	// owned is the adapter Open created; Close closes it.
	owned io.Closer

	fences    *FenceManager
	deletions *DeferredDeletionQueue
	memory    *memoryTracker

	queues    [gpucore.QueueTypeCount]*Queue
	immediate [gpucore.QueueTypeCount]*Context
	deferred  []*Context

	multiBuffered map[*MultiBufferedResource]struct{}

	frame  atomic.Uint64
	lost   atomic.Pointer[error]
	closed atomic.Bool
}

// NewDevice creates a device over a graphics API binding.
func NewDevice(adapter gpucore.GPUAdapter, opts ...DeviceOption) (*Device, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		adapter:       adapter,
		cfg:           o.config,
		memory:        newMemoryTracker(o.config.MemoryBudgetMB),
		multiBuffered: make(map[*MultiBufferedResource]struct{}),
	}
	d.fences = NewFenceManager(adapter, o.config.DeviceLostTimeouts, d.markLost)
	d.deletions = NewDeferredDeletionQueue(adapter, o.config.DeletionFrameMargin, d.FrameNumber)
	d.deletions.onDestroy = d.onDestroy

	for _, t := range o.queues {
		if t >= gpucore.QueueTypeCount {
			return nil, fmt.Errorf("%w: unknown queue type %d", ErrInvalidConfig, t)
		}
		if d.queues[t] != nil {
			continue
		}
		d.queues[t] = newQueue(d, t)
		d.immediate[t] = newContext(d, d.queues[t], false)
	}
	propagateLogger(adapter, Logger())

	Logger().Info("rhi: device created",
		"queues", len(o.queues),
		"deletion_frame_margin", o.config.DeletionFrameMargin,
		"max_buffered_allocations", o.config.MaxBufferedAllocations)
	return d, nil
}

// Adapter returns the graphics API binding.
func (d *Device) Adapter() gpucore.GPUAdapter { return d.adapter }

// Config returns the device configuration.
func (d *Device) Config() Config { return d.cfg }

// Fences returns the fence manager.
func (d *Device) Fences() *FenceManager { return d.fences }

// DeletionQueue returns the deferred deletion queue.
func (d *Device) DeletionQueue() *DeferredDeletionQueue { return d.deletions }

// Queue returns the queue of type t, or nil if the device has none.
func (d *Device) Queue(t gpucore.QueueType) *Queue {
	if t >= gpucore.QueueTypeCount {
		return nil
	}
	return d.queues[t]
}

// ImmediateContext returns the immediate context of queue t, or nil.
func (d *Device) ImmediateContext(t gpucore.QueueType) *Context {
	if t >= gpucore.QueueTypeCount {
		return nil
	}
	return d.immediate[t]
}

// contextOr returns ctx, or the first immediate context when ctx is nil.
func (d *Device) contextOr(ctx *Context) *Context {
	if ctx != nil {
		return ctx
	}
	for _, c := range d.immediate {
		if c != nil {
			return c
		}
	}
	return nil
}

// NewDeferredContext creates a recording context for queue t whose command
// buffers track layouts in write-only managers.
func (d *Device) NewDeferredContext(t gpucore.QueueType) (*Context, error) {
	if d.closed.Load() {
		return nil, ErrDeviceClosed
	}
	q := d.Queue(t)
	if q == nil {
		return nil, fmt.Errorf("%w: device has no %s queue", ErrInvalidConfig, t)
	}
	c := newContext(d, q, true)
	d.mu.Lock()
	d.deferred = append(d.deferred, c)
	d.mu.Unlock()
	return c, nil
}

// contexts returns every context, immediate ones first.
func (d *Device) contexts() []*Context {
	var out []*Context
	for _, c := range d.immediate {
		if c != nil {
			out = append(out, c)
		}
	}
	d.mu.Lock()
	out = append(out, d.deferred...)
	d.mu.Unlock()
	return out
}

// FrameNumber returns the current frame number.
func (d *Device) FrameNumber() uint64 { return d.frame.Load() }

// Err returns ErrDeviceClosed after Close, a wrapped ErrDeviceLost once
// the device is lost, and nil otherwise.
func (d *Device) Err() error {
	if p := d.lost.Load(); p != nil {
		return *p
	}
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	return nil
}

func (d *Device) markLost(err error) {
	if !errors.Is(err, ErrDeviceLost) {
		err = fmt.Errorf("%w: %v", ErrDeviceLost, err)
	}
	d.lost.CompareAndSwap(nil, &err)
}

// CreateBuffer creates a buffer, charging it to the memory budget.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (*Buffer, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	if err := d.memory.reserve(desc.Size); err != nil {
		return nil, err
	}
	id, err := d.adapter.CreateBuffer(desc)
	if err != nil {
		d.memory.unreserve(desc.Size)
		Logger().Error("rhi: create buffer failed", "label", desc.Label, "size", desc.Size, "err", err)
		return nil, fmt.Errorf("%w: create buffer %q: %v", ErrOutOfMemory, desc.Label, err)
	}
	d.memory.bind(gpucore.ResourceBuffer, uint64(id), desc.Size)
	return &Buffer{device: d, id: id, desc: *desc}, nil
}

// CreateTexture creates a texture, charging it to the memory budget.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (*Texture, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	size := textureBytes(desc)
	if err := d.memory.reserve(size); err != nil {
		return nil, err
	}
	id, err := d.adapter.CreateTexture(desc)
	if err != nil {
		d.memory.unreserve(size)
		Logger().Error("rhi: create texture failed", "label", desc.Label, "err", err)
		return nil, fmt.Errorf("%w: create texture %q: %v", ErrOutOfMemory, desc.Label, err)
	}
	d.memory.bind(gpucore.ResourceTexture, uint64(id), size)
	return &Texture{device: d, id: id, desc: *desc, aspects: gpucore.FormatAspects(desc.Format)}, nil
}

// CreateSemaphore creates a semaphore holding one reference.
func (d *Device) CreateSemaphore() (*Semaphore, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	return newSemaphore(d.adapter, d.deletions)
}

// WrapSemaphore wraps a semaphore owned elsewhere, such as one handed out
// by a windowing layer. Releasing it never destroys the native object.
func (d *Device) WrapSemaphore(id gpucore.SemaphoreID) *Semaphore {
	s := &Semaphore{id: id, external: true}
	s.refs.Store(1)
	return s
}

// NewMultiBufferedResource creates a multi-buffered resource with no
// physical allocation. A nil strategy means DeviceBufferStrategy.
func (d *Device) NewMultiBufferedResource(desc gpucore.BufferDesc, strategy AllocationStrategy) *MultiBufferedResource {
	if strategy == nil {
		strategy = DeviceBufferStrategy{}
	}
	r := &MultiBufferedResource{device: d, desc: desc, strategy: strategy, current: -1}
	d.mu.Lock()
	d.multiBuffered[r] = struct{}{}
	d.mu.Unlock()
	return r
}

func (d *Device) forgetMultiBuffered(r *MultiBufferedResource) {
	d.mu.Lock()
	delete(d.multiBuffered, r)
	d.mu.Unlock()
}

// EnqueueDeferredDelete schedules a native object for destruction once
// owner's recorded work completes. owner may be nil.
func (d *Device) EnqueueDeferredDelete(kind gpucore.ResourceKind, handle uint64, owner *CommandBuffer) error {
	if owner == nil {
		return d.deletions.Enqueue(kind, handle, nil)
	}
	return d.deletions.Enqueue(kind, handle, owner)
}

// FlushDeferredDeletes destroys every eligible queued object. immediate
// skips the frame and fence gates; use it only when the GPU is idle.
func (d *Device) FlushDeferredDeletes(immediate bool) int {
	return d.deletions.ReleaseResources(immediate)
}

func (d *Device) onDestroy(kind gpucore.ResourceKind, handle uint64) {
	d.memory.release(kind, handle)
	if kind != gpucore.ResourceTexture {
		return
	}
	for _, q := range d.queues {
		if q != nil {
			q.layouts.Erase(gpucore.TextureID(handle))
		}
	}
}

// MemoryStats returns memory usage statistics.
func (d *Device) MemoryStats() MemoryStats { return d.memory.stats() }

// EndFrame runs the per-frame bookkeeping: it recycles completed command
// buffers, fences vacated multi-buffered allocations, trims idle command
// buffers, flushes eligible deferred deletions and advances the frame.
func (d *Device) EndFrame() error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	ctxs := d.contexts()
	for _, c := range ctxs {
		c.manager.RefreshFenceStatus()
	}

	d.mu.Lock()
	resources := make([]*MultiBufferedResource, 0, len(d.multiBuffered))
	for r := range d.multiBuffered {
		resources = append(resources, r)
	}
	d.mu.Unlock()
	var errs []error
	for _, r := range resources {
		if err := r.UpdateAllocationStates(nil); err != nil {
			errs = append(errs, err)
		}
	}

	if idle := d.cfg.CommandBufferIdleFrames; idle > 0 {
		for _, c := range ctxs {
			c.manager.FreeUnusedCmdBuffers(idle)
		}
	}
	d.deletions.ReleaseResources(false)
	d.frame.Add(1)

	if err := d.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WaitIdle blocks until the GPU is idle and recycles every command buffer.
func (d *Device) WaitIdle() error {
	if err := d.adapter.WaitIdle(); err != nil {
		d.markLost(err)
		return fmt.Errorf("rhi: wait idle: %w", err)
	}
	for _, c := range d.contexts() {
		c.manager.RefreshFenceStatus()
	}
	return nil
}

// Close drains the GPU and destroys every object the device owns. Work
// still recording is discarded.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := d.WaitIdle()
	for _, c := range d.contexts() {
		c.manager.Close()
	}
	d.mu.Lock()
	resources := d.multiBuffered
	d.multiBuffered = make(map[*MultiBufferedResource]struct{})
	d.mu.Unlock()
	for r := range resources {
		r.releaseIdle()
	}
	n := d.deletions.ReleaseResources(true)
	d.fences.Close()
	forgetLogger(d.adapter)
	if d.owned != nil {
		err = errors.Join(err, d.owned.Close())
	}
	Logger().Info("rhi: device closed", "flushed_deletions", n, "frames", d.FrameNumber())
	return err
}
