package rhi

import (
	"fmt"
	"sync"

	"github.com/gogpu/rhi/gpucore"
)

// AllocationState is the availability of one physical allocation behind a
// MultiBufferedResource.
type AllocationState uint8

// Allocation states. An allocation cycles
// Available -> InUse -> NeedsFence -> Pending -> Available.
const (
	// AllocationAvailable may be handed out for writing.
	AllocationAvailable AllocationState = iota

	// AllocationInUse is the current allocation.
	AllocationInUse

	// AllocationNeedsFence was just vacated; the GPU may still read it but
	// no fence guards it yet.
	AllocationNeedsFence

	// AllocationPending waits for its fence.
	AllocationPending
)

// String returns the state name.
func (s AllocationState) String() string {
	switch s {
	case AllocationAvailable:
		return "Available"
	case AllocationInUse:
		return "InUse"
	case AllocationNeedsFence:
		return "NeedsFence"
	case AllocationPending:
		return "Pending"
	}
	return fmt.Sprintf("AllocationState(%d)", uint8(s))
}

// Allocation is one physical copy of a multi-buffered resource.
type Allocation struct {
	buffer *Buffer
	state  AllocationState

	// The allocation is free once fenceCB's fence-signaled counter
	// reaches fenceTarget.
	fenceCB     *CommandBuffer
	fenceTarget uint64
}

// Buffer returns the physical buffer.
func (a *Allocation) Buffer() *Buffer { return a.buffer }

// State returns the allocation state.
func (a *Allocation) State() AllocationState { return a.state }

// fenceSignaled polls the guarding command buffer once.
func (a *Allocation) fenceSignaled() bool {
	if a.fenceCB == nil {
		return true
	}
	a.fenceCB.refreshFenceStatus()
	return a.fenceCB.FenceSignaledCounter() >= a.fenceTarget
}

// AllocationStrategy creates the physical allocations of a
// MultiBufferedResource.
type AllocationStrategy interface {
	Allocate(d *Device, desc gpucore.BufferDesc) (*Buffer, error)
}

// DeviceBufferStrategy backs every physical copy with its own device buffer.
type DeviceBufferStrategy struct{}

// Allocate creates a device buffer.
func (DeviceBufferStrategy) Allocate(d *Device, desc gpucore.BufferDesc) (*Buffer, error) {
	return d.CreateBuffer(&desc)
}

// LockMode selects how Lock treats the current allocation.
type LockMode uint8

// Lock modes.
const (
	// LockWrite rotates to an allocation the GPU is not reading.
	LockWrite LockMode = iota

	// LockRead returns the current allocation without rotating. The
	// caller must know its data is already visible.
	LockRead
)

// MultiBufferedResource is a logical CPU-writable buffer backed by a ring of
// physical allocations, so writers never overwrite data the GPU may still
// be reading.
//
// Rotation must be serialized with the command buffer recording against
// the current allocation; MultiBufferedResource locks only its own state.
type MultiBufferedResource struct {
	mu sync.Mutex

	device   *Device
	desc     gpucore.BufferDesc
	strategy AllocationStrategy

	allocs  []*Allocation
	current int

	// ctx last rotated the resource; vacated allocations are fenced
	// against its active command buffer.
	ctx *Context

	locked   bool
	released bool
}

// Desc returns the descriptor every allocation is created from.
func (r *MultiBufferedResource) Desc() gpucore.BufferDesc { return r.desc }

// Len returns the number of physical allocations.
func (r *MultiBufferedResource) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.allocs)
}

// States returns a snapshot of every allocation's state.
func (r *MultiBufferedResource) States() []AllocationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AllocationState, len(r.allocs))
	for i, a := range r.allocs {
		out[i] = a.state
	}
	return out
}

// Current returns the current allocation, or nil before the first write.
func (r *MultiBufferedResource) Current() *Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current < 0 {
		return nil
	}
	return r.allocs[r.current]
}

// CurrentIndex returns the index of the current allocation, or -1.
func (r *MultiBufferedResource) CurrentIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Lock locks the resource and returns the allocation to use. LockWrite
// rotates to a writable allocation first. A nil ctx means the device's
// default immediate context.
func (r *MultiBufferedResource) Lock(ctx *Context, mode LockMode) (*Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil, ErrReleased
	}
	if r.locked {
		return nil, violation(ErrResourceLocked, "multi-buffered resource locked twice", "label", r.desc.Label)
	}
	if mode == LockRead {
		if r.current < 0 {
			return nil, ErrNoAllocation
		}
		r.locked = true
		return r.allocs[r.current], nil
	}
	a, err := r.advanceLocked(ctx)
	if err != nil {
		return nil, err
	}
	r.locked = true
	return a, nil
}

// Unlock releases the lock taken by Lock.
func (r *MultiBufferedResource) Unlock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.locked {
		return violation(ErrResourceNotLocked, "multi-buffered resource unlocked while not locked", "label", r.desc.Label)
	}
	r.locked = false
	return nil
}

// Write locks for write, uploads data to the new current allocation and
// unlocks.
func (r *MultiBufferedResource) Write(ctx *Context, offset uint64, data []byte) error {
	a, err := r.Lock(ctx, LockWrite)
	if err != nil {
		return err
	}
	werr := a.buffer.Write(offset, data)
	if err := r.Unlock(); err != nil {
		return err
	}
	return werr
}

// AdvanceBufferIndex makes an allocation the GPU is not reading current,
// creating one when none is available.
func (r *MultiBufferedResource) AdvanceBufferIndex(ctx *Context) (*Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	return r.advanceLocked(ctx)
}

func (r *MultiBufferedResource) advanceLocked(ctx *Context) (_ *Allocation, err error) {
	ctx = r.device.contextOr(ctx)
	r.ctx = ctx
	prev := r.current
	defer func() {
		if err != nil {
			r.restoreCurrentLocked(prev)
		}
	}()

	r.promotePendingLocked()
	if i := r.firstAvailableLocked(); i >= 0 {
		return r.makeCurrentLocked(i), nil
	}

	if len(r.allocs) >= r.device.cfg.MaxBufferedAllocations {
		a, err := r.waitOldestLocked(ctx)
		if a != nil || err != nil {
			return a, err
		}
		Logger().Warn("rhi: multi-buffered resource grows past its cap",
			"label", r.desc.Label, "allocations", len(r.allocs))
	}

	buf, err := r.strategy.Allocate(r.device, r.desc)
	if err != nil {
		return nil, err
	}
	r.allocs = append(r.allocs, &Allocation{buffer: buf, state: AllocationAvailable})
	Logger().Debug("rhi: multi-buffered resource grew", "label", r.desc.Label, "allocations", len(r.allocs))
	return r.makeCurrentLocked(len(r.allocs) - 1), nil
}

// makeCurrentLocked vacates the current allocation and installs i.
func (r *MultiBufferedResource) makeCurrentLocked(i int) *Allocation {
	if r.current >= 0 && r.current != i {
		r.allocs[r.current].state = AllocationNeedsFence
	}
	a := r.allocs[i]
	a.state = AllocationInUse
	a.fenceCB = nil
	r.current = i
	return a
}

// restoreCurrentLocked reinstalls prev after a failed rotation left the
// resource without a current allocation.
func (r *MultiBufferedResource) restoreCurrentLocked(prev int) {
	if prev < 0 || r.current >= 0 {
		return
	}
	a := r.allocs[prev]
	a.state = AllocationInUse
	a.fenceCB = nil
	r.current = prev
}

func (r *MultiBufferedResource) promotePendingLocked() {
	for i, a := range r.allocs {
		if i != r.current && a.state == AllocationPending && a.fenceSignaled() {
			a.state = AllocationAvailable
		}
	}
}

func (r *MultiBufferedResource) firstAvailableLocked() int {
	n := len(r.allocs)
	for k := 1; k <= n; k++ {
		i := (r.current + k) % n
		if r.current < 0 {
			i = k - 1
		}
		if i != r.current && r.allocs[i].state == AllocationAvailable {
			return i
		}
	}
	return -1
}

// waitOldestLocked fences every vacated allocation against ctx's active
// command buffer, submits it and waits for the oldest pending allocation.
// It returns nil, nil when nothing can be waited on. On error the caller
// reinstalls the previous current allocation.
func (r *MultiBufferedResource) waitOldestLocked(ctx *Context) (*Allocation, error) {
	if r.current >= 0 {
		r.allocs[r.current].state = AllocationNeedsFence
		r.current = -1
	}
	if err := r.fenceVacatedLocked(ctx); err != nil {
		return nil, err
	}
	if err := ctx.SubmitActive(nil, nil); err != nil {
		return nil, err
	}

	var oldest *Allocation
	for _, a := range r.allocs {
		if a.state != AllocationPending || a.fenceCB == nil || !a.fenceCB.IsSubmitted() {
			continue
		}
		if a.fenceCB.SubmittedFenceCounter() < a.fenceTarget {
			continue
		}
		if oldest == nil || a.fenceCB.SubmittedFenceCounter() < oldest.fenceCB.SubmittedFenceCounter() {
			oldest = a
		}
	}
	if oldest == nil {
		return nil, nil
	}
	if !ctx.manager.WaitForCmdBuffer(oldest.fenceCB, r.device.cfg.FenceTimeout()) {
		return nil, fmt.Errorf("%w: multi-buffered resource %q", ErrFenceTimeout, r.desc.Label)
	}
	r.promotePendingLocked()
	if i := r.firstAvailableLocked(); i >= 0 {
		return r.makeCurrentLocked(i), nil
	}
	return nil, nil
}

// UpdateAllocationStates promotes Pending allocations whose fence signaled
// and fences NeedsFence allocations against ctx's active command buffer.
// A nil ctx means the context that last rotated the resource.
func (r *MultiBufferedResource) UpdateAllocationStates(ctx *Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.promotePendingLocked()
	return r.fenceVacatedLocked(r.contextLocked(ctx))
}

func (r *MultiBufferedResource) contextLocked(ctx *Context) *Context {
	if ctx == nil {
		ctx = r.ctx
	}
	return r.device.contextOr(ctx)
}

func (r *MultiBufferedResource) fenceVacatedLocked(ctx *Context) error {
	var cb *CommandBuffer
	for i, a := range r.allocs {
		if i == r.current || a.state != AllocationNeedsFence {
			continue
		}
		if cb == nil {
			var err error
			if cb, err = ctx.AcquireCommandBuffer(false); err != nil {
				return err
			}
		}
		a.fenceCB = cb
		a.fenceTarget = cb.FenceSignaledCounter() + 1
		a.state = AllocationPending
	}
	return nil
}

// Release schedules every allocation for deferred deletion. Allocations
// without a fence are gated on ctx's active command buffer; a nil ctx
// means the context that last rotated the resource.
func (r *MultiBufferedResource) Release(ctx *Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return violation(ErrReleased, "multi-buffered resource released twice", "label", r.desc.Label)
	}
	r.released = true
	r.device.forgetMultiBuffered(r)

	ctx = r.contextLocked(ctx)
	var active *CommandBuffer
	for _, a := range r.allocs {
		owner := a.fenceCB
		if owner == nil && a.state != AllocationAvailable {
			if active == nil {
				cb, err := ctx.AcquireCommandBuffer(false)
				if err != nil {
					return err
				}
				active = cb
			}
			owner = active
		}
		if err := a.buffer.Release(owner); err != nil {
			return err
		}
	}
	r.allocs = nil
	r.current = -1
	r.ctx = nil
	return nil
}

// releaseIdle schedules every allocation for deletion without fence
// gating. The GPU must be idle.
func (r *MultiBufferedResource) releaseIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	for _, a := range r.allocs {
		_ = a.buffer.Release(nil)
	}
	r.allocs = nil
	r.current = -1
	r.ctx = nil
}
