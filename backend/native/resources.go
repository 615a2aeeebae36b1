package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// texture is a HAL texture together with the description it was created
// from, needed later for attachment views.
type texture struct {
	tex  hal.Texture
	desc gpucore.TextureDesc
}

// === Buffer Management ===

// CreateBuffer creates a GPU buffer.
func (a *HALAdapter) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil buffer descriptor")
	}
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer size must be positive")
	}
	if a.closed.Load() {
		return gpucore.InvalidID, ErrClosed
	}
	if desc.Size > a.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer of %d bytes exceeds the %d byte limit",
			ErrOutOfMemory, desc.Size, a.limits.MaxBufferSize)
	}

	buffer, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            desc.Usage.Native(),
		MappedAtCreation: desc.MappedAtCreation,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer: %w", translateError(err))
	}

	id := gpucore.BufferID(a.newID())

	a.mu.Lock()
	a.buffers[id] = buffer
	a.mu.Unlock()

	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	buffer, ok := a.buffers[id]
	if ok {
		delete(a.buffers, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyBuffer(buffer)
	}
}

// WriteBuffer writes data to a buffer through the queue.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.RLock()
	buffer, ok := a.buffers[id]
	a.mu.RUnlock()

	if !ok {
		return fmt.Errorf("native: buffer %d: %w", id, gpucore.ErrUnknownID)
	}
	if len(data) == 0 {
		return nil
	}
	if err := a.queue.WriteBuffer(buffer, offset, data); err != nil {
		return fmt.Errorf("native: write buffer %d: %w", id, translateError(err))
	}
	return nil
}

// === Texture Management ===

// CreateTexture creates a single-sampled 2D texture.
func (a *HALAdapter) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil texture descriptor")
	}
	if desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: texture dimensions must be positive")
	}
	if a.closed.Load() {
		return gpucore.InvalidID, ErrClosed
	}
	if desc.Width > a.limits.MaxTextureDimension2D || desc.Height > a.limits.MaxTextureDimension2D {
		return gpucore.InvalidID, fmt.Errorf("native: texture %dx%d exceeds the %d texel limit",
			desc.Width, desc.Height, a.limits.MaxTextureDimension2D)
	}

	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.Layers(),
		},
		MipLevelCount: desc.Mips(),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create texture: %w", translateError(err))
	}

	id := gpucore.TextureID(a.newID())

	a.mu.Lock()
	a.textures[id] = &texture{tex: tex, desc: *desc}
	a.mu.Unlock()

	return id, nil
}

// DestroyTexture releases a GPU texture.
func (a *HALAdapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	t, ok := a.textures[id]
	if ok {
		delete(a.textures, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyTexture(t.tex)
	}
}

func (a *HALAdapter) texture(id gpucore.TextureID) (*texture, error) {
	a.mu.RLock()
	t, ok := a.textures[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: texture %d: %w", id, gpucore.ErrUnknownID)
	}
	return t, nil
}
