// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"time"
)

// ErrDeviceLost is returned by adapters once the native device is lost.
var ErrDeviceLost = errors.New("gpucore: device lost")

// ErrUnknownID is returned when an operation references an ID the adapter
// does not own.
var ErrUnknownID = errors.New("gpucore: unknown object id")

// GPUAdapter abstracts over an explicit, Vulkan-style graphics API.
//
// The rhi core uses this interface for every native call: it never holds
// native objects itself. Implementations must be safe for concurrent use;
// the core serializes calls per command buffer, per fence and per queue.
//
// Object lifecycle:
//   - Objects are created via Create*/Allocate* methods
//   - Objects must be explicitly destroyed via Destroy*/Free* methods
//   - Destroying an object still referenced by in-flight GPU work is
//     undefined behavior; the core guarantees it never happens
//   - IDs become invalid after destruction and are never reused
type GPUAdapter interface {
	// === Fences ===

	// CreateFence creates a fence, optionally already signaled.
	CreateFence(signaled bool) (FenceID, error)

	// DestroyFence destroys a fence.
	DestroyFence(id FenceID)

	// ResetFence returns a signaled fence to the unsignaled state.
	ResetFence(id FenceID) error

	// FenceStatus polls a fence once without blocking.
	FenceStatus(id FenceID) (bool, error)

	// WaitFence blocks until the fence is signaled or the timeout expires.
	// It returns false on timeout.
	WaitFence(id FenceID, timeout time.Duration) (bool, error)

	// === Semaphores ===

	// CreateSemaphore creates a GPU-side wait/signal primitive.
	CreateSemaphore() (SemaphoreID, error)

	// DestroySemaphore destroys a semaphore.
	DestroySemaphore(id SemaphoreID)

	// === Command Buffers ===

	// AllocateCommandBuffer allocates native command buffer memory for a queue.
	AllocateCommandBuffer(queue QueueType, label string) (CommandBufferID, error)

	// FreeCommandBuffer releases native command buffer memory.
	FreeCommandBuffer(id CommandBufferID)

	// BeginCommandBuffer starts recording.
	BeginCommandBuffer(id CommandBufferID) error

	// EndCommandBuffer finishes recording.
	EndCommandBuffer(id CommandBufferID) error

	// ResetCommandBuffer discards recorded commands so the buffer can be
	// recorded again.
	ResetCommandBuffer(id CommandBufferID) error

	// BeginRenderPass starts a render pass inside a recording command buffer.
	BeginRenderPass(id CommandBufferID, desc *RenderPassDesc) error

	// EndRenderPass ends the current render pass.
	EndRenderPass(id CommandBufferID)

	// PipelineBarrier records image barriers into a recording command buffer.
	PipelineBarrier(id CommandBufferID, barriers []ImageBarrier)

	// === Submission ===

	// Submit submits recorded command buffers to a queue. It returns as
	// soon as the work is queued; completion is observed through the fence.
	Submit(info *SubmitInfo) error

	// WaitIdle blocks until every queue is idle.
	WaitIdle() error

	// === Resources ===

	// CreateBuffer creates a GPU buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes data to a buffer at the given byte offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// CreateTexture creates a GPU texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a GPU texture.
	DestroyTexture(id TextureID)
}
