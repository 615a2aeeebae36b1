// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// commandBuffer is one gpucore command buffer: a HAL encoder that is kept for
// the life of the buffer and reset between recordings.
type commandBuffer struct {
	queue   gpucore.QueueType
	label   string
	encoder hal.CommandEncoder

	// pooled is set when EndEncoding leaves the native pool with the
	// encoder, so ResetAll recycles the recorded buffer.
	pooled bool

	recording bool
	recorded  hal.CommandBuffer
	pass      hal.RenderPassEncoder

	// views are the attachment views of recorded render passes. They live
	// until the recording is reset.
	views []hal.TextureView
}

// poolManager is implemented by HAL encoders that can keep their native
// command pool across recordings (Vulkan).
type poolManager interface {
	SetPoolManaged(managed bool)
}

// === Command Buffers ===

// AllocateCommandBuffer creates a HAL command encoder for the queue.
func (a *HALAdapter) AllocateCommandBuffer(queue gpucore.QueueType, label string) (gpucore.CommandBufferID, error) {
	if a.closed.Load() {
		return gpucore.InvalidID, ErrClosed
	}
	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create command encoder: %w", translateError(err))
	}
	cb := &commandBuffer{queue: queue, label: label, encoder: encoder}
	if pm, ok := encoder.(poolManager); ok {
		pm.SetPoolManaged(true)
		cb.pooled = true
	}

	id := gpucore.CommandBufferID(a.newID())

	a.mu.Lock()
	a.commandBuffers[id] = cb
	a.mu.Unlock()

	return id, nil
}

// FreeCommandBuffer destroys the encoder and anything it recorded.
func (a *HALAdapter) FreeCommandBuffer(id gpucore.CommandBufferID) {
	a.mu.Lock()
	cb, ok := a.commandBuffers[id]
	if ok {
		delete(a.commandBuffers, id)
	}
	a.mu.Unlock()

	if ok {
		a.destroyCommandBuffer(cb)
	}
}

func (a *HALAdapter) destroyCommandBuffer(cb *commandBuffer) {
	a.discard(cb)
	cb.encoder.Destroy()
}

// BeginCommandBuffer starts recording.
func (a *HALAdapter) BeginCommandBuffer(id gpucore.CommandBufferID) error {
	cb, err := a.commandBuffer(id)
	if err != nil {
		return err
	}
	if cb.recording {
		return fmt.Errorf("native: command buffer %d is already recording", id)
	}
	if cb.recorded != nil {
		a.discard(cb)
	}
	if err := cb.encoder.BeginEncoding(cb.label); err != nil {
		return fmt.Errorf("native: begin encoding: %w", translateError(err))
	}
	cb.recording = true
	return nil
}

// EndCommandBuffer finishes recording. The recorded HAL command buffer is
// kept until Submit.
func (a *HALAdapter) EndCommandBuffer(id gpucore.CommandBufferID) error {
	cb, err := a.commandBuffer(id)
	if err != nil {
		return err
	}
	if !cb.recording {
		return fmt.Errorf("native: command buffer %d is not recording", id)
	}
	if cb.pass != nil {
		cb.pass.End()
		cb.pass = nil
		slogger().Warn("native: render pass left open at end of recording", "command_buffer", id)
	}
	recorded, err := cb.encoder.EndEncoding()
	cb.recording = false
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", translateError(err))
	}

	a.mu.Lock()
	cb.recorded = recorded
	a.mu.Unlock()
	return nil
}

// ResetCommandBuffer discards recorded commands. The GPU must have finished
// the previous submission of the buffer.
func (a *HALAdapter) ResetCommandBuffer(id gpucore.CommandBufferID) error {
	cb, err := a.commandBuffer(id)
	if err != nil {
		return err
	}
	a.discard(cb)
	return nil
}

// discard drops the open pass, the recording and the recorded buffer.
func (a *HALAdapter) discard(cb *commandBuffer) {
	if cb.pass != nil {
		cb.pass.End()
		cb.pass = nil
	}
	if cb.recording {
		cb.encoder.DiscardEncoding()
		cb.recording = false
	}

	a.mu.Lock()
	recorded := cb.recorded
	cb.recorded = nil
	a.mu.Unlock()

	switch {
	case recorded == nil:
		cb.encoder.ResetAll(nil)
	case cb.pooled:
		cb.encoder.ResetAll([]hal.CommandBuffer{recorded})
	default:
		a.device.FreeCommandBuffer(recorded)
		cb.encoder.ResetAll(nil)
	}

	for _, v := range cb.views {
		a.device.DestroyTextureView(v)
	}
	cb.views = cb.views[:0]
}

func (a *HALAdapter) commandBuffer(id gpucore.CommandBufferID) (*commandBuffer, error) {
	a.mu.RLock()
	cb, ok := a.commandBuffers[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: command buffer %d: %w", id, gpucore.ErrUnknownID)
	}
	return cb, nil
}

// === Render Passes ===

// BeginRenderPass creates attachment views and opens a HAL render pass.
func (a *HALAdapter) BeginRenderPass(id gpucore.CommandBufferID, desc *gpucore.RenderPassDesc) error {
	if desc == nil {
		return fmt.Errorf("native: nil render pass descriptor")
	}
	cb, err := a.commandBuffer(id)
	if err != nil {
		return err
	}
	if !cb.recording {
		return fmt.Errorf("native: command buffer %d is not recording", id)
	}
	if cb.pass != nil {
		return fmt.Errorf("native: command buffer %d is already inside a render pass", id)
	}

	loadOp := gputypes.LoadOpLoad
	if desc.Clear {
		loadOp = gputypes.LoadOpClear
	}

	halDesc := &hal.RenderPassDescriptor{
		Label:            desc.Label,
		ColorAttachments: make([]hal.RenderPassColorAttachment, 0, len(desc.ColorTargets)),
	}
	for _, target := range desc.ColorTargets {
		view, err := a.attachmentView(cb, target)
		if err != nil {
			return err
		}
		halDesc.ColorAttachments = append(halDesc.ColorAttachments, hal.RenderPassColorAttachment{
			View:    view,
			LoadOp:  loadOp,
			StoreOp: gputypes.StoreOpStore,
		})
	}
	if desc.DepthStencil != gpucore.InvalidID {
		view, err := a.attachmentView(cb, desc.DepthStencil)
		if err != nil {
			return err
		}
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            view,
			DepthLoadOp:     loadOp,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: 1.0,
		}
		if t, _ := a.texture(desc.DepthStencil); t != nil && t.desc.Format.HasStencil() {
			ds.StencilLoadOp = loadOp
			ds.StencilStoreOp = gputypes.StoreOpStore
		}
		halDesc.DepthStencilAttachment = ds
	}

	cb.pass = cb.encoder.BeginRenderPass(halDesc)
	return nil
}

// EndRenderPass closes the current render pass.
func (a *HALAdapter) EndRenderPass(id gpucore.CommandBufferID) {
	cb, err := a.commandBuffer(id)
	if err != nil || cb.pass == nil {
		return
	}
	cb.pass.End()
	cb.pass = nil
}

// attachmentView creates a single-subresource view of a texture, owned by
// the command buffer.
func (a *HALAdapter) attachmentView(cb *commandBuffer, id gpucore.TextureID) (hal.TextureView, error) {
	t, err := a.texture(id)
	if err != nil {
		return nil, err
	}
	view, err := a.device.CreateTextureView(t.tex, &hal.TextureViewDescriptor{
		Label:           t.desc.Label,
		Format:          t.desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create attachment view of texture %d: %w", id, translateError(err))
	}
	cb.views = append(cb.views, view)
	return view, nil
}

// === Barriers ===

// PipelineBarrier records image barriers as HAL texture usage transitions.
// Barriers naming unknown textures are skipped.
func (a *HALAdapter) PipelineBarrier(id gpucore.CommandBufferID, barriers []gpucore.ImageBarrier) {
	cb, err := a.commandBuffer(id)
	if err != nil || !cb.recording || len(barriers) == 0 {
		return
	}

	halBarriers := make([]hal.TextureBarrier, 0, len(barriers))
	a.mu.RLock()
	for _, b := range barriers {
		t, ok := a.textures[b.Texture]
		if !ok {
			continue
		}
		halBarriers = append(halBarriers, hal.TextureBarrier{
			Texture: t.tex,
			Range:   convertRange(b.Range),
			Usage: hal.TextureUsageTransition{
				OldUsage: layoutUsage(b.OldLayout),
				NewUsage: layoutUsage(b.NewLayout),
			},
		})
	}
	a.mu.RUnlock()

	if len(halBarriers) > 0 {
		cb.encoder.TransitionTextures(halBarriers)
	}
}

// layoutUsage maps an image layout onto the texture usage the HAL derives
// its native layout and access masks from.
func layoutUsage(l gpucore.ImageLayout) gputypes.TextureUsage {
	switch l {
	case gpucore.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case gpucore.LayoutColorAttachment,
		gpucore.LayoutDepthStencilAttachment,
		gpucore.LayoutDepthAttachmentStencilReadOnly,
		gpucore.LayoutDepthReadOnlyStencilAttachment:
		return gputypes.TextureUsageRenderAttachment
	case gpucore.LayoutDepthStencilReadOnly, gpucore.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case gpucore.LayoutTransferSrc, gpucore.LayoutPresentSrc:
		return gputypes.TextureUsageCopySrc
	case gpucore.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageNone
	}
}

// convertRange converts a resolved subresource range. Remaining counts map to
// zero, which the HAL reads as "all remaining".
func convertRange(r gpucore.SubresourceRange) hal.TextureRange {
	out := hal.TextureRange{
		Aspect:          convertAspect(r.Aspect),
		BaseMipLevel:    r.BaseMipLevel,
		MipLevelCount:   r.MipLevelCount,
		BaseArrayLayer:  r.BaseArrayLayer,
		ArrayLayerCount: r.ArrayLayerCount,
	}
	if out.MipLevelCount == gpucore.Remaining {
		out.MipLevelCount = 0
	}
	if out.ArrayLayerCount == gpucore.Remaining {
		out.ArrayLayerCount = 0
	}
	return out
}

func convertAspect(a gpucore.Aspect) gputypes.TextureAspect {
	switch a & (gpucore.AspectDepth | gpucore.AspectStencil) {
	case gpucore.AspectDepth:
		return gputypes.TextureAspectDepthOnly
	case gpucore.AspectStencil:
		return gputypes.TextureAspectStencilOnly
	default:
		return gputypes.TextureAspectAll
	}
}
