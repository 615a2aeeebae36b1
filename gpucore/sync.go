// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "fmt"

// ImageLayout is the access/optimization state an image subresource is
// currently prepared for.
//
// Depth/stencil planes are tracked separately. A single plane only ever
// holds a plane layout (LayoutDepthStencilAttachment or
// LayoutDepthStencilReadOnly meaning "this plane is attached / read-only",
// or one of the generic layouts). The mixed layouts
// LayoutDepthAttachmentStencilReadOnly and LayoutDepthReadOnlyStencilAttachment
// only appear as the merge of two planes.
type ImageLayout uint8

// Image layouts.
const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutDepthStencilReadOnly
	LayoutDepthAttachmentStencilReadOnly
	LayoutDepthReadOnlyStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc

	layoutCount
)

var layoutNames = [layoutCount]string{
	LayoutUndefined:                      "Undefined",
	LayoutGeneral:                        "General",
	LayoutColorAttachment:                "ColorAttachment",
	LayoutDepthStencilAttachment:         "DepthStencilAttachment",
	LayoutDepthStencilReadOnly:           "DepthStencilReadOnly",
	LayoutDepthAttachmentStencilReadOnly: "DepthAttachmentStencilReadOnly",
	LayoutDepthReadOnlyStencilAttachment: "DepthReadOnlyStencilAttachment",
	LayoutShaderReadOnly:                 "ShaderReadOnly",
	LayoutTransferSrc:                    "TransferSrc",
	LayoutTransferDst:                    "TransferDst",
	LayoutPresentSrc:                     "PresentSrc",
}

// String returns the layout name.
func (l ImageLayout) String() string {
	if l < layoutCount {
		return layoutNames[l]
	}
	return fmt.Sprintf("ImageLayout(%d)", l)
}

// Valid reports whether l is a known layout.
func (l ImageLayout) Valid() bool { return l < layoutCount }

// PipelineStage is a bitmask of pipeline stages.
type PipelineStage uint32

// Pipeline stages.
const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe
	StageHost
	StageAllGraphics
	StageAllCommands

	StageNone PipelineStage = 0
)

// AccessFlags is a bitmask of memory access types.
type AccessFlags uint32

// Memory access flags.
const (
	AccessIndirectCommandRead AccessFlags = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessInputAttachmentRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentRead
	AccessDepthStencilAttachmentWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite

	AccessNone AccessFlags = 0
)

// Aspect is a bitmask of image planes.
type Aspect uint8

// Image aspects.
const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil

	AspectDepthStencil = AspectDepth | AspectStencil
)

// HasDepthAndStencil reports whether both depth and stencil planes are set.
func (a Aspect) HasDepthAndStencil() bool {
	return a&AspectDepthStencil == AspectDepthStencil
}

// Remaining is used as a count in SubresourceRange to cover everything
// from the base level/layer to the end of the image.
const Remaining = ^uint32(0)

// SubresourceRange selects a set of mip levels, array layers and planes.
// An Aspect of zero means "every plane of the image".
type SubresourceRange struct {
	Aspect          Aspect
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// WholeRange returns a range covering every subresource of an image.
func WholeRange() SubresourceRange {
	return SubresourceRange{MipLevelCount: Remaining, ArrayLayerCount: Remaining}
}

// Resolve clamps the range to an image with the given dimensions and aspects.
// Counts of Remaining, or counts running past the end, are clamped.
func (r SubresourceRange) Resolve(mips, layers uint32, aspects Aspect) SubresourceRange {
	out := r
	if out.Aspect == 0 {
		out.Aspect = aspects
	} else {
		out.Aspect &= aspects
	}
	if out.BaseMipLevel > mips {
		out.BaseMipLevel = mips
	}
	if out.MipLevelCount == Remaining || out.BaseMipLevel+out.MipLevelCount > mips {
		out.MipLevelCount = mips - out.BaseMipLevel
	}
	if out.BaseArrayLayer > layers {
		out.BaseArrayLayer = layers
	}
	if out.ArrayLayerCount == Remaining || out.BaseArrayLayer+out.ArrayLayerCount > layers {
		out.ArrayLayerCount = layers - out.BaseArrayLayer
	}
	return out
}

// Covers reports whether the (resolved) range spans an entire image.
func (r SubresourceRange) Covers(mips, layers uint32, aspects Aspect) bool {
	return r.BaseMipLevel == 0 && r.MipLevelCount == mips &&
		r.BaseArrayLayer == 0 && r.ArrayLayerCount == layers &&
		r.Aspect&aspects == aspects
}

// ImageBarrier is one image memory barrier, optionally with a layout transition.
type ImageBarrier struct {
	Texture   TextureID
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Range     SubresourceRange
}

// SemaphoreWait is one semaphore a submission waits on before DstStage.
type SemaphoreWait struct {
	Semaphore SemaphoreID
	DstStage  PipelineStage
}

// QueueType selects one of the device queues.
type QueueType uint8

// Queue types.
const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer

	QueueTypeCount
)

// String returns the queue type name.
func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("QueueType(%d)", q)
	}
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	Queue          QueueType
	CommandBuffers []CommandBufferID
	Wait           []SemaphoreWait
	Signal         []SemaphoreID

	// Fence is signaled when every command buffer has completed.
	// InvalidID submits without a fence.
	Fence FenceID
}

// RenderPassDesc describes the attachments of a render pass.
type RenderPassDesc struct {
	Label        string
	ColorTargets []TextureID
	DepthStencil TextureID

	// Clear clears the attachments on load instead of preserving them.
	Clear bool
}
