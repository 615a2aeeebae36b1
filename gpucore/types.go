// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent native GPU objects. Each adapter implementation
// maintains a mapping between IDs and actual backend objects.
// IDs are uint64 to accommodate various backend handle sizes.

// FenceID is an opaque handle to a GPU->CPU completion signal.
type FenceID uint64

// SemaphoreID is an opaque handle to a GPU-side wait/signal primitive.
type SemaphoreID uint64

// CommandBufferID is an opaque handle to a native command buffer.
type CommandBufferID uint64

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// InvalidID is the zero value, representing an invalid/null object.
const InvalidID = 0

// ResourceKind identifies the type of native object behind a handle.
// The deferred deletion queue dispatches destruction on it.
type ResourceKind uint8

// Resource kinds.
const (
	ResourceBuffer ResourceKind = iota + 1
	ResourceTexture
	ResourceSemaphore
	ResourceFence
	ResourceCommandBuffer
)

// String returns the resource kind name.
func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "Buffer"
	case ResourceTexture:
		return "Texture"
	case ResourceSemaphore:
		return "Semaphore"
	case ResourceFence:
		return "Fence"
	case ResourceCommandBuffer:
		return "CommandBuffer"
	default:
		return fmt.Sprintf("ResourceKind(%d)", k)
	}
}

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageIndex indicates the buffer can be used as an index buffer.
	BufferUsageIndex BufferUsage = 1 << 4

	// BufferUsageVertex indicates the buffer can be used as a vertex buffer.
	BufferUsageVertex BufferUsage = 1 << 5

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7

	// BufferUsageIndirect indicates the buffer can be used for indirect dispatch/draw.
	BufferUsageIndirect BufferUsage = 1 << 8
)

var bufferUsageTable = [...]struct {
	usage  BufferUsage
	native gputypes.BufferUsage
}{
	{BufferUsageMapRead, gputypes.BufferUsageMapRead},
	{BufferUsageMapWrite, gputypes.BufferUsageMapWrite},
	{BufferUsageCopySrc, gputypes.BufferUsageCopySrc},
	{BufferUsageCopyDst, gputypes.BufferUsageCopyDst},
	{BufferUsageIndex, gputypes.BufferUsageIndex},
	{BufferUsageVertex, gputypes.BufferUsageVertex},
	{BufferUsageUniform, gputypes.BufferUsageUniform},
	{BufferUsageStorage, gputypes.BufferUsageStorage},
	{BufferUsageIndirect, gputypes.BufferUsageIndirect},
}

// Native translates the usage flags into gputypes buffer usage flags.
// Unknown bits are dropped.
func (u BufferUsage) Native() gputypes.BufferUsage {
	var out gputypes.BufferUsage
	for _, e := range bufferUsageTable {
		if u&e.usage != 0 {
			out |= e.native
		}
	}
	return out
}

// HostWritable reports whether the CPU writes the buffer directly
// (the usages that multi-buffered resources exist for).
func (u BufferUsage) HostWritable() bool {
	return u&(BufferUsageMapWrite|BufferUsageUniform|BufferUsageVertex|BufferUsageIndex) != 0
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage BufferUsage

	// MappedAtCreation requests a persistently-mapped allocation.
	MappedAtCreation bool
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	// Width, Height and DepthOrArrayLayers are the texture extent.
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32

	// MipLevelCount is the number of mip levels (0 is treated as 1).
	MipLevelCount uint32

	// Format is the texel format.
	Format gputypes.TextureFormat

	// Usage specifies how the texture will be used.
	Usage gputypes.TextureUsage
}

// Mips returns the effective mip level count.
func (d *TextureDesc) Mips() uint32 {
	if d.MipLevelCount == 0 {
		return 1
	}
	return d.MipLevelCount
}

// Layers returns the effective array layer count.
func (d *TextureDesc) Layers() uint32 {
	if d.DepthOrArrayLayers == 0 {
		return 1
	}
	return d.DepthOrArrayLayers
}

// FormatAspects returns the aspects present in a texture format.
func FormatAspects(f gputypes.TextureFormat) Aspect {
	var a Aspect
	if f.HasDepth() {
		a |= AspectDepth
	}
	if f.HasStencil() {
		a |= AspectStencil
	}
	if a == 0 {
		return AspectColor
	}
	return a
}
