// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fakegpu provides a simulated GPU implementing gpucore.GPUAdapter.
//
// Submitted work never completes on its own: tests drive the GPU timeline
// explicitly with SignalNext/SignalAll, which makes fence-gated behavior
// deterministic. The adapter enforces the usage rules of an explicit API
// (no resetting pending command buffers, no submitting signaled fences,
// no destroying in-flight fences) and records every rule broken as a
// violation so tests can assert the core never breaks them.
package fakegpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rhi/gpucore"
)

type cmdState uint8

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

type fence struct {
	signaled bool
	pending  bool
}

type cmdBuffer struct {
	queue      gpucore.QueueType
	label      string
	state      cmdState
	inPass     bool
	barriers   []gpucore.ImageBarrier
	beginCount int
}

type submission struct {
	info gpucore.SubmitInfo
	done bool
}

// Destroyed records one native destruction.
type Destroyed struct {
	Kind gpucore.ResourceKind
	ID   uint64
}

// Adapter is a simulated GPU. The zero value is not usable; call New.
type Adapter struct {
	mu sync.Mutex

	nextID uint64

	fences     map[gpucore.FenceID]*fence
	semaphores map[gpucore.SemaphoreID]struct{}
	cmdBuffers map[gpucore.CommandBufferID]*cmdBuffer
	buffers    map[gpucore.BufferID][]byte
	textures   map[gpucore.TextureID]gpucore.TextureDesc

	submissions []*submission
	destroyed   []Destroyed
	violations  []string

	fencesCreated int

	// SignalOnWait completes pending work when WaitFence is called on its
	// fence, as if the GPU finished within the timeout. When false, waits
	// on pending fences time out immediately.
	SignalOnWait bool

	// FailCreateBuffer, when set, is returned by the next CreateBuffer calls.
	FailCreateBuffer error

	// FailFenceStatus, when set, is returned by FenceStatus.
	FailFenceStatus error
}

var _ gpucore.GPUAdapter = (*Adapter)(nil)

// New creates a simulated GPU.
func New() *Adapter {
	return &Adapter{
		fences:     make(map[gpucore.FenceID]*fence),
		semaphores: make(map[gpucore.SemaphoreID]struct{}),
		cmdBuffers: make(map[gpucore.CommandBufferID]*cmdBuffer),
		buffers:    make(map[gpucore.BufferID][]byte),
		textures:   make(map[gpucore.TextureID]gpucore.TextureDesc),
	}
}

func (a *Adapter) newID() uint64 {
	a.nextID++
	return a.nextID
}

func (a *Adapter) violate(format string, args ...any) {
	a.violations = append(a.violations, fmt.Sprintf(format, args...))
}

// === Fences ===

func (a *Adapter) CreateFence(signaled bool) (gpucore.FenceID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.FenceID(a.newID())
	a.fences[id] = &fence{signaled: signaled}
	a.fencesCreated++
	return id, nil
}

func (a *Adapter) DestroyFence(id gpucore.FenceID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fences[id]
	if !ok {
		a.violate("destroy unknown fence %d", id)
		return
	}
	if f.pending {
		a.violate("destroy in-flight fence %d", id)
	}
	delete(a.fences, id)
	a.destroyed = append(a.destroyed, Destroyed{gpucore.ResourceFence, uint64(id)})
}

func (a *Adapter) ResetFence(id gpucore.FenceID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fences[id]
	if !ok {
		return gpucore.ErrUnknownID
	}
	if f.pending {
		a.violate("reset in-flight fence %d", id)
		return errors.New("fakegpu: fence is in flight")
	}
	f.signaled = false
	return nil
}

func (a *Adapter) FenceStatus(id gpucore.FenceID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailFenceStatus != nil {
		return false, a.FailFenceStatus
	}
	f, ok := a.fences[id]
	if !ok {
		return false, gpucore.ErrUnknownID
	}
	return f.signaled, nil
}

func (a *Adapter) WaitFence(id gpucore.FenceID, _ time.Duration) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fences[id]
	if !ok {
		return false, gpucore.ErrUnknownID
	}
	if f.signaled {
		return true, nil
	}
	if !f.pending || !a.SignalOnWait {
		return false, nil
	}
	for _, s := range a.submissions {
		if s.done {
			continue
		}
		a.completeLocked(s)
		if s.info.Fence == id {
			break
		}
	}
	return f.signaled, nil
}

// === Semaphores ===

func (a *Adapter) CreateSemaphore() (gpucore.SemaphoreID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.SemaphoreID(a.newID())
	a.semaphores[id] = struct{}{}
	return id, nil
}

func (a *Adapter) DestroySemaphore(id gpucore.SemaphoreID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.semaphores[id]; !ok {
		a.violate("destroy unknown semaphore %d", id)
		return
	}
	delete(a.semaphores, id)
	a.destroyed = append(a.destroyed, Destroyed{gpucore.ResourceSemaphore, uint64(id)})
}

// === Command Buffers ===

func (a *Adapter) AllocateCommandBuffer(queue gpucore.QueueType, label string) (gpucore.CommandBufferID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.CommandBufferID(a.newID())
	a.cmdBuffers[id] = &cmdBuffer{queue: queue, label: label}
	return id, nil
}

func (a *Adapter) FreeCommandBuffer(id gpucore.CommandBufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, ok := a.cmdBuffers[id]
	if !ok {
		a.violate("free unknown command buffer %d", id)
		return
	}
	if cb.state == cmdPending {
		a.violate("free pending command buffer %d", id)
	}
	delete(a.cmdBuffers, id)
	a.destroyed = append(a.destroyed, Destroyed{gpucore.ResourceCommandBuffer, uint64(id)})
}

func (a *Adapter) cmd(id gpucore.CommandBufferID) (*cmdBuffer, error) {
	cb, ok := a.cmdBuffers[id]
	if !ok {
		return nil, gpucore.ErrUnknownID
	}
	return cb, nil
}

func (a *Adapter) BeginCommandBuffer(id gpucore.CommandBufferID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, err := a.cmd(id)
	if err != nil {
		return err
	}
	if cb.state != cmdInitial {
		a.violate("begin command buffer %d in state %d", id, cb.state)
		return errors.New("fakegpu: command buffer not in initial state")
	}
	cb.state = cmdRecording
	cb.beginCount++
	return nil
}

func (a *Adapter) EndCommandBuffer(id gpucore.CommandBufferID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, err := a.cmd(id)
	if err != nil {
		return err
	}
	if cb.state != cmdRecording || cb.inPass {
		a.violate("end command buffer %d in state %d (in pass %v)", id, cb.state, cb.inPass)
		return errors.New("fakegpu: command buffer not recording")
	}
	cb.state = cmdExecutable
	return nil
}

func (a *Adapter) ResetCommandBuffer(id gpucore.CommandBufferID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, err := a.cmd(id)
	if err != nil {
		return err
	}
	if cb.state == cmdPending {
		a.violate("reset pending command buffer %d", id)
		return errors.New("fakegpu: command buffer is pending")
	}
	cb.state = cmdInitial
	cb.inPass = false
	cb.barriers = nil
	return nil
}

func (a *Adapter) BeginRenderPass(id gpucore.CommandBufferID, _ *gpucore.RenderPassDesc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, err := a.cmd(id)
	if err != nil {
		return err
	}
	if cb.state != cmdRecording || cb.inPass {
		a.violate("begin render pass on command buffer %d in state %d", id, cb.state)
		return errors.New("fakegpu: cannot begin render pass")
	}
	cb.inPass = true
	return nil
}

func (a *Adapter) EndRenderPass(id gpucore.CommandBufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, err := a.cmd(id)
	if err != nil || !cb.inPass {
		a.violate("end render pass on command buffer %d outside a pass", id)
		return
	}
	cb.inPass = false
}

func (a *Adapter) PipelineBarrier(id gpucore.CommandBufferID, barriers []gpucore.ImageBarrier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, err := a.cmd(id)
	if err != nil || cb.state != cmdRecording {
		a.violate("barrier on command buffer %d that is not recording", id)
		return
	}
	if cb.inPass {
		a.violate("barrier on command buffer %d inside a render pass", id)
	}
	cb.barriers = append(cb.barriers, barriers...)
}

// === Submission ===

func (a *Adapter) Submit(info *gpucore.SubmitInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range info.CommandBuffers {
		cb, err := a.cmd(id)
		if err != nil {
			return err
		}
		if cb.state != cmdExecutable {
			a.violate("submit command buffer %d in state %d", id, cb.state)
			return errors.New("fakegpu: command buffer not executable")
		}
	}
	if info.Fence != gpucore.InvalidID {
		f, ok := a.fences[info.Fence]
		if !ok {
			return gpucore.ErrUnknownID
		}
		if f.signaled || f.pending {
			a.violate("submit with fence %d that is signaled or in flight", info.Fence)
			return errors.New("fakegpu: fence must be unsignaled")
		}
		f.pending = true
	}
	for _, w := range info.Wait {
		if _, ok := a.semaphores[w.Semaphore]; !ok {
			a.violate("wait on unknown semaphore %d", w.Semaphore)
		}
	}
	for _, id := range info.CommandBuffers {
		a.cmdBuffers[id].state = cmdPending
	}
	s := &submission{info: *info}
	s.info.CommandBuffers = append([]gpucore.CommandBufferID(nil), info.CommandBuffers...)
	s.info.Wait = append([]gpucore.SemaphoreWait(nil), info.Wait...)
	s.info.Signal = append([]gpucore.SemaphoreID(nil), info.Signal...)
	a.submissions = append(a.submissions, s)
	return nil
}

func (a *Adapter) completeLocked(s *submission) {
	s.done = true
	for _, id := range s.info.CommandBuffers {
		if cb, ok := a.cmdBuffers[id]; ok && cb.state == cmdPending {
			cb.state = cmdExecutable
		}
	}
	if f, ok := a.fences[s.info.Fence]; ok {
		f.pending = false
		f.signaled = true
	}
}

// SignalNext completes the oldest pending submission and signals its fence.
// It returns false if nothing is pending.
func (a *Adapter) SignalNext() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.submissions {
		if !s.done {
			a.completeLocked(s)
			return true
		}
	}
	return false
}

// SignalAll completes every pending submission and returns how many there were.
func (a *Adapter) SignalAll() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.submissions {
		if !s.done {
			a.completeLocked(s)
			n++
		}
	}
	return n
}

func (a *Adapter) WaitIdle() error {
	a.SignalAll()
	return nil
}

// === Resources ===

func (a *Adapter) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailCreateBuffer != nil {
		return gpucore.InvalidID, a.FailCreateBuffer
	}
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = make([]byte, desc.Size)
	return id, nil
}

func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.buffers[id]; !ok {
		a.violate("destroy unknown buffer %d", id)
		return
	}
	delete(a.buffers, id)
	a.destroyed = append(a.destroyed, Destroyed{gpucore.ResourceBuffer, uint64(id)})
}

func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return gpucore.ErrUnknownID
	}
	if size := uint64(len(buf)); offset > size || uint64(len(data)) > size-offset {
		return fmt.Errorf("fakegpu: write of %d bytes at %d overflows buffer of %d", len(data), offset, len(buf))
	}
	copy(buf[offset:], data)
	return nil
}

func (a *Adapter) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.TextureID(a.newID())
	a.textures[id] = *desc
	return id, nil
}

func (a *Adapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.textures[id]; !ok {
		a.violate("destroy unknown texture %d", id)
		return
	}
	delete(a.textures, id)
	a.destroyed = append(a.destroyed, Destroyed{gpucore.ResourceTexture, uint64(id)})
}

// === Inspection ===

// Violations returns the usage rules the caller broke, in order.
func (a *Adapter) Violations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.violations...)
}

// Destroyed returns every native destruction, in order.
func (a *Adapter) Destroyed() []Destroyed {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Destroyed(nil), a.destroyed...)
}

// DestroyedOf returns the IDs of destroyed objects of one kind, in order.
func (a *Adapter) DestroyedOf(kind gpucore.ResourceKind) []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []uint64
	for _, d := range a.destroyed {
		if d.Kind == kind {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Submissions returns copies of every submission made so far.
func (a *Adapter) Submissions() []gpucore.SubmitInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]gpucore.SubmitInfo, len(a.submissions))
	for i, s := range a.submissions {
		out[i] = s.info
	}
	return out
}

// PendingSubmissions returns the number of submissions not yet completed.
func (a *Adapter) PendingSubmissions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.submissions {
		if !s.done {
			n++
		}
	}
	return n
}

// Barriers returns the barriers recorded into a command buffer since its
// last reset.
func (a *Adapter) Barriers(id gpucore.CommandBufferID) []gpucore.ImageBarrier {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, ok := a.cmdBuffers[id]
	if !ok {
		return nil
	}
	return append([]gpucore.ImageBarrier(nil), cb.barriers...)
}

// BeginCount returns how many times a command buffer has been begun.
func (a *Adapter) BeginCount(id gpucore.CommandBufferID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cb, ok := a.cmdBuffers[id]; ok {
		return cb.beginCount
	}
	return 0
}

// BufferData returns a copy of a buffer's contents.
func (a *Adapter) BufferData(id gpucore.BufferID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.buffers[id]...)
}

// FencesCreated returns how many native fences were ever created.
func (a *Adapter) FencesCreated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fencesCreated
}

// Live returns the number of live objects of a kind.
func (a *Adapter) Live(kind gpucore.ResourceKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch kind {
	case gpucore.ResourceBuffer:
		return len(a.buffers)
	case gpucore.ResourceTexture:
		return len(a.textures)
	case gpucore.ResourceSemaphore:
		return len(a.semaphores)
	case gpucore.ResourceFence:
		return len(a.fences)
	case gpucore.ResourceCommandBuffer:
		return len(a.cmdBuffers)
	default:
		return 0
	}
}
