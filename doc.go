// Package rhi is the execution and resource-lifecycle core of a render
// hardware interface over explicit, Vulkan-style graphics APIs.
//
// # Overview
//
// Explicit APIs leave every "is the GPU done with X yet" question to the
// engine. rhi answers it with five cooperating parts:
//
//   - Command buffers with an explicit state machine, pooled per context
//   - Fences (GPU to CPU completion) and reference-counted semaphores
//   - A deferred deletion queue that destroys objects only after the GPU
//     has provably finished with them
//   - Multi-buffered resources that rotate physical copies so the CPU
//     never writes data the GPU may still read
//   - Per-image layout tracking that computes minimal barriers
//
// # Quick Start
//
//	import _ "github.com/gogpu/rhi/backend/native"
//
//	cfg := rhi.DefaultConfig()
//	cfg.Backend = "native"
//	dev, err := rhi.Open(cfg, rhi.WithDeletionFrameMargin(3))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close() // also closes the adapter
//
// A Device can also be built over an adapter the caller owns, such as
// one from native.FromProvider, with NewDevice.
//
//	ctx := dev.ImmediateContext(gpucore.QueueGraphics)
//	cb, _ := ctx.AcquireCommandBuffer(false)
//	_ = ctx.Transition(tex, rhi.AccessColorTarget, gpucore.WholeRange())
//	_ = cb.BeginRenderPass(&gpucore.RenderPassDesc{ColorTargets: []gpucore.TextureID{tex.ID()}})
//	_ = cb.EndRenderPass()
//	_ = ctx.SubmitActive(nil, nil)
//	_ = dev.EndFrame()
//
// # Architecture
//
// A Device owns one Queue per queue type, an immediate Context per queue
// and any number of deferred contexts. Each context has a
// CommandBufferManager (active and upload buffers) backed by a
// CommandBufferPool. Command buffers keep a local LayoutManager whose
// fallback is the queue's; submission moves the local entries into the
// queue's manager.
//
// The Device never touches native objects itself: everything goes through
// a gpucore.GPUAdapter (see package backend/native for the wgpu HAL one).
//
// # Completion Tracking
//
// Each command buffer counts how many times its fence was observed
// signaled. Deferred deletions and multi-buffered allocations record the
// counter value that proves their work finished, so checking them is a
// comparison rather than a fence query.
//
// # Errors
//
// Protocol violations (wrong command buffer state, double deletion,
// double lock) are logged and returned; with the rhidebug build tag they
// panic. Native allocation failures wrap ErrOutOfMemory. Repeated fence
// timeouts or failing fence queries mark the device lost, after which
// Device.Err returns an error wrapping ErrDeviceLost.
//
// # Logging
//
// rhi is silent by default. Use SetLogger to route its log/slog output.
package rhi
