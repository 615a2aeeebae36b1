package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi/gpucore"
)

// CommandBufferState is the lifecycle state of a CommandBuffer.
type CommandBufferState uint8

// Command buffer states.
const (
	// StateNotAllocated means the native command buffer memory is released.
	StateNotAllocated CommandBufferState = iota
	StateReadyForBegin
	StateIsInsideBegin
	StateIsInsideRenderPass
	StateHasEnded
	StateSubmitted
	// StateNeedReset means the GPU finished the buffer; Begin resets it.
	StateNeedReset
	stateCount
)

var stateNames = [stateCount]string{
	"NotAllocated", "ReadyForBegin", "IsInsideBegin", "IsInsideRenderPass",
	"HasEnded", "Submitted", "NeedReset",
}

// String returns the state name.
func (s CommandBufferState) String() string {
	if s < stateCount {
		return stateNames[s]
	}
	return fmt.Sprintf("CommandBufferState(%d)", uint8(s))
}

func stateSet(states ...CommandBufferState) uint8 {
	var m uint8
	for _, s := range states {
		m |= 1 << s
	}
	return m
}

// legalTransitions[from] is the set of states reachable from from.
var legalTransitions = [stateCount]uint8{
	StateNotAllocated:       stateSet(StateReadyForBegin),
	StateReadyForBegin:      stateSet(StateIsInsideBegin, StateNotAllocated),
	StateIsInsideBegin:      stateSet(StateIsInsideRenderPass, StateHasEnded),
	StateIsInsideRenderPass: stateSet(StateIsInsideBegin),
	StateHasEnded:           stateSet(StateSubmitted),
	StateSubmitted:          stateSet(StateNeedReset),
	StateNeedReset:          stateSet(StateIsInsideBegin, StateReadyForBegin, StateNotAllocated),
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to CommandBufferState) bool {
	return from < stateCount && to < stateCount && legalTransitions[from]&(1<<to) != 0
}

// DynamicState is a bitmask of state a command buffer has bound since its
// last reset.
type DynamicState uint8

// Dynamic state flags.
const (
	DynamicPipeline DynamicState = 1 << iota
	DynamicViewport
	DynamicScissor
)

// ResourcePoolSet is a set of pools, typically descriptor pools, a command
// buffer holds while its work is in flight. Release is called once the
// command buffer's fence signals.
type ResourcePoolSet interface {
	Release()
}

type waitSemaphore struct {
	sem   *Semaphore
	stage gpucore.PipelineStage
}

// CommandBuffer is a recordable unit of GPU work.
//
// A CommandBuffer owns exactly one Fence. Every time that fence is observed
// signaled its fence-signaled counter grows by one, so "has this work
// completed" is a counter comparison.
//
// Recording methods must be called from one goroutine at a time.
type CommandBuffer struct {
	mu sync.Mutex

	pool  *CommandBufferPool
	id    gpucore.CommandBufferID
	state CommandBufferState
	fence *Fence

	fenceSignaled atomic.Uint64
	submittedAt   atomic.Uint64

	uploadOnly   bool
	dynamicState DynamicState

	waits          []waitSemaphore
	submittedWaits []*Semaphore
	poolSets       []ResourcePoolSet

	layouts *LayoutManager

	lastUsedFrame uint64
	label         string
}

// ID returns the native command buffer ID.
func (cb *CommandBuffer) ID() gpucore.CommandBufferID { return cb.id }

// Label returns the debug label.
func (cb *CommandBuffer) Label() string { return cb.label }

// State returns the current state.
func (cb *CommandBuffer) State() CommandBufferState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Fence returns the fence owned by the buffer.
func (cb *CommandBuffer) Fence() *Fence { return cb.fence }

// Layouts returns the buffer's local layout manager.
func (cb *CommandBuffer) Layouts() *LayoutManager { return cb.layouts }

// IsUploadOnly reports whether the buffer was acquired for upload work.
func (cb *CommandBuffer) IsUploadOnly() bool { return cb.uploadOnly }

// FenceSignaledCounter returns how many times the buffer's fence has been
// observed signaled.
func (cb *CommandBuffer) FenceSignaledCounter() uint64 { return cb.fenceSignaled.Load() }

// SubmittedFenceCounter returns the fence-signaled counter value the last
// submission reaches once it completes.
func (cb *CommandBuffer) SubmittedFenceCounter() uint64 { return cb.submittedAt.Load() }

// IsSubmitted reports whether the buffer is in flight.
func (cb *CommandBuffer) IsSubmitted() bool { return cb.State() == StateSubmitted }

// HasBegun reports whether the buffer is recording.
func (cb *CommandBuffer) HasBegun() bool {
	s := cb.State()
	return s == StateIsInsideBegin || s == StateIsInsideRenderPass
}

// IsInsideRenderPass reports whether a render pass is open.
func (cb *CommandBuffer) IsInsideRenderPass() bool { return cb.State() == StateIsInsideRenderPass }

// HasDynamicState reports whether all of s has been bound since the last reset.
func (cb *CommandBuffer) HasDynamicState(s DynamicState) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.dynamicState&s == s
}

// SetDynamicState marks s as bound. The flags survive Begin and are only
// cleared when the buffer is reset.
func (cb *CommandBuffer) SetDynamicState(s DynamicState) {
	cb.mu.Lock()
	cb.dynamicState |= s
	cb.mu.Unlock()
}

// AddPoolSet hands a pool set to the buffer until its work completes.
func (cb *CommandBuffer) AddPoolSet(p ResourcePoolSet) {
	cb.mu.Lock()
	cb.poolSets = append(cb.poolSets, p)
	cb.mu.Unlock()
}

// checkLocked validates op's transition. Caller holds cb.mu.
func (cb *CommandBuffer) checkLocked(op string, to CommandBufferState) error {
	if CanTransition(cb.state, to) {
		return nil
	}
	return violation(&StateError{Op: op, State: cb.state}, "illegal command buffer transition",
		"op", op, "from", cb.state, "to", to, "cmdbuf", cb.id)
}

func (cb *CommandBuffer) adapter() gpucore.GPUAdapter { return cb.pool.device.adapter }

// Begin starts recording. A buffer in NeedReset is reset first, which also
// clears its dynamic state.
func (cb *CommandBuffer) Begin() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := cb.checkLocked("Begin", StateIsInsideBegin); err != nil {
		return err
	}
	if cb.state == StateNeedReset {
		if err := cb.adapter().ResetCommandBuffer(cb.id); err != nil {
			return fmt.Errorf("rhi: reset command buffer: %w", err)
		}
		cb.dynamicState = 0
	}
	if err := cb.adapter().BeginCommandBuffer(cb.id); err != nil {
		return fmt.Errorf("rhi: begin command buffer: %w", err)
	}
	cb.state = StateIsInsideBegin
	cb.lastUsedFrame = cb.pool.device.FrameNumber()
	return nil
}

// BeginRenderPass opens a render pass.
func (cb *CommandBuffer) BeginRenderPass(desc *gpucore.RenderPassDesc) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := cb.checkLocked("BeginRenderPass", StateIsInsideRenderPass); err != nil {
		return err
	}
	if err := cb.adapter().BeginRenderPass(cb.id, desc); err != nil {
		return fmt.Errorf("rhi: begin render pass: %w", err)
	}
	cb.state = StateIsInsideRenderPass
	return nil
}

// EndRenderPass closes the open render pass.
func (cb *CommandBuffer) EndRenderPass() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateIsInsideRenderPass {
		return violation(&StateError{Op: "EndRenderPass", State: cb.state}, "no render pass to end", "cmdbuf", cb.id)
	}
	cb.adapter().EndRenderPass(cb.id)
	cb.state = StateIsInsideBegin
	return nil
}

// End finishes recording.
//
// Ending inside a render pass is reported and the pass is closed first, so
// the buffer still ends up HasEnded and the returned error only signals
// the violation.
func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var reported error
	if cb.state == StateIsInsideRenderPass {
		reported = violation(&StateError{Op: "End", State: cb.state}, "command buffer ended inside a render pass", "cmdbuf", cb.id)
		cb.adapter().EndRenderPass(cb.id)
		cb.state = StateIsInsideBegin
	}
	if err := cb.checkLocked("End", StateHasEnded); err != nil {
		return err
	}
	if err := cb.adapter().EndCommandBuffer(cb.id); err != nil {
		return fmt.Errorf("rhi: end command buffer: %w", err)
	}
	cb.state = StateHasEnded
	return reported
}

// AddWaitSemaphore makes the next submission wait for sem before stage.
// The buffer holds a reference until its work completes.
func (cb *CommandBuffer) AddWaitSemaphore(stage gpucore.PipelineStage, sem *Semaphore) {
	sem.AddRef()
	cb.mu.Lock()
	cb.waits = append(cb.waits, waitSemaphore{sem: sem, stage: stage})
	cb.mu.Unlock()
}

func (cb *CommandBuffer) pipelineBarrier(barriers []gpucore.ImageBarrier) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateIsInsideBegin {
		return violation(&StateError{Op: "PipelineBarrier", State: cb.state}, "barrier outside recording or inside a render pass", "cmdbuf", cb.id)
	}
	cb.adapter().PipelineBarrier(cb.id, barriers)
	return nil
}

// submitLocked hands the buffer to the adapter. waits apply to this
// submission only and are referenced once it succeeds. Caller holds cb.mu
// and the queue lock.
func (cb *CommandBuffer) submitLocked(queue gpucore.QueueType, waits []SemaphoreWait, signals []*Semaphore) error {
	if err := cb.checkLocked("Submit", StateSubmitted); err != nil {
		return err
	}
	info := &gpucore.SubmitInfo{
		Queue:          queue,
		CommandBuffers: []gpucore.CommandBufferID{cb.id},
		Fence:          cb.fence.id,
	}
	for _, w := range cb.waits {
		info.Wait = append(info.Wait, gpucore.SemaphoreWait{Semaphore: w.sem.id, DstStage: w.stage})
	}
	for _, w := range waits {
		info.Wait = append(info.Wait, gpucore.SemaphoreWait{Semaphore: w.Semaphore.id, DstStage: w.Stage})
	}
	for _, s := range signals {
		info.Signal = append(info.Signal, s.id)
	}
	if err := cb.adapter().Submit(info); err != nil {
		return fmt.Errorf("rhi: submit: %w", err)
	}

	for _, w := range cb.waits {
		cb.submittedWaits = append(cb.submittedWaits, w.sem)
	}
	for _, w := range waits {
		w.Semaphore.AddRef()
		cb.submittedWaits = append(cb.submittedWaits, w.Semaphore)
	}
	cb.waits = cb.waits[:0]
	cb.submittedAt.Store(cb.fenceSignaled.Load() + 1)
	cb.state = StateSubmitted
	return nil
}

// refreshFenceStatus recycles the buffer if its submission completed.
// It reports whether the buffer was recycled.
func (cb *CommandBuffer) refreshFenceStatus() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateSubmitted {
		return false
	}
	fences := cb.pool.device.fences
	if !fences.IsFenceSignaled(cb.fence) {
		return false
	}
	cb.recycleLocked()
	return true
}

// recycleLocked runs once the submitted work is known complete.
func (cb *CommandBuffer) recycleLocked() {
	cb.dynamicState = 0
	for _, s := range cb.submittedWaits {
		s.Release()
	}
	cb.submittedWaits = cb.submittedWaits[:0]

	if err := cb.pool.device.fences.ResetFence(cb.fence); err != nil {
		// Replace a fence that cannot be reset rather than reuse it.
		Logger().Warn("rhi: replacing command buffer fence", "cmdbuf", cb.id, "err", err)
		if f, ferr := cb.pool.device.fences.AllocateFence(false); ferr == nil {
			cb.pool.device.fences.ReleaseFence(cb.fence)
			cb.fence = f
		}
	}
	cb.fenceSignaled.Add(1)

	for _, p := range cb.poolSets {
		p.Release()
	}
	cb.poolSets = cb.poolSets[:0]
	cb.state = StateNeedReset
}
