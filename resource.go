package rhi

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/rhi/gpucore"
)

// Buffer is a GPU buffer created through a Device.
type Buffer struct {
	device   *Device
	id       gpucore.BufferID
	desc     gpucore.BufferDesc
	released atomic.Bool
}

// ID returns the native buffer ID.
func (b *Buffer) ID() gpucore.BufferID { return b.id }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Usage returns the buffer usage flags.
func (b *Buffer) Usage() gpucore.BufferUsage { return b.desc.Usage }

// Label returns the debug label.
func (b *Buffer) Label() string { return b.desc.Label }

// Write uploads data at offset.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.released.Load() {
		return ErrReleased
	}
	if offset > b.desc.Size || uint64(len(data)) > b.desc.Size-offset {
		return fmt.Errorf("rhi: write of %d bytes at offset %d exceeds buffer size %d", len(data), offset, b.desc.Size)
	}
	if err := b.device.adapter.WriteBuffer(b.id, offset, data); err != nil {
		return fmt.Errorf("rhi: write buffer: %w", err)
	}
	return nil
}

// Release schedules the buffer for destruction once owner's recorded work
// completes. owner may be nil.
func (b *Buffer) Release(owner *CommandBuffer) error {
	if !b.released.CompareAndSwap(false, true) {
		return violation(ErrReleased, "buffer released twice", "buffer", b.id)
	}
	return b.device.EnqueueDeferredDelete(gpucore.ResourceBuffer, uint64(b.id), owner)
}

// Texture is a GPU texture created through a Device. It implements Image.
type Texture struct {
	device   *Device
	id       gpucore.TextureID
	desc     gpucore.TextureDesc
	aspects  gpucore.Aspect
	released atomic.Bool
}

// ID returns the native texture ID.
func (t *Texture) ID() gpucore.TextureID { return t.id }

// MipLevels returns the mip level count.
func (t *Texture) MipLevels() uint32 { return t.desc.Mips() }

// ArrayLayers returns the array layer count.
func (t *Texture) ArrayLayers() uint32 { return t.desc.Layers() }

// Aspects returns the planes of the texture's format.
func (t *Texture) Aspects() gpucore.Aspect { return t.aspects }

// Desc returns the creation descriptor.
func (t *Texture) Desc() gpucore.TextureDesc { return t.desc }

// Release schedules the texture for destruction once owner's recorded
// work completes. Its tracked layouts are erased on destruction.
func (t *Texture) Release(owner *CommandBuffer) error {
	if !t.released.CompareAndSwap(false, true) {
		return violation(ErrReleased, "texture released twice", "texture", t.id)
	}
	return t.device.EnqueueDeferredDelete(gpucore.ResourceTexture, uint64(t.id), owner)
}
