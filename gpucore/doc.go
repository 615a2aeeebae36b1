// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the binding vocabulary shared by the rhi core and
// its GPU backends.
//
// The rhi core never talks to a graphics API directly. It drives a
// [GPUAdapter], which exposes explicit, Vulkan-style primitives: fences,
// semaphores, command buffers, pipeline barriers and resource creation.
// Adapters translate these calls into a concrete API:
//
//	               +-----------------+
//	               |       rhi       |
//	               | (fences, pools, |
//	               | layouts, rings) |
//	               +--------+--------+
//	                        |
//	                   GPUAdapter
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  native adapter |          |  fakegpu (test) |
//	|  (hal.Device)   |          |   simulated GPU |
//	+--------+--------+          +-----------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	|   (Pure Go)     |
//	+-----------------+
//
// # Resource Management
//
// GPU objects are referred to by opaque IDs ([FenceID], [BufferID],
// [TextureID], ...). Adapters own the mapping between IDs and native
// objects. An ID is never reused after its object is destroyed.
//
// # Synchronization Vocabulary
//
// [ImageLayout], [PipelineStage], [AccessFlags] and [SubresourceRange] are
// the terms in which the core expresses barriers. Adapters for APIs without
// explicit layouts (WebGPU-style HALs) map layouts to texture usages.
package gpucore
