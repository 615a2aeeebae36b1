package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/gpucore"
	"github.com/gogpu/rhi/internal/fakegpu"
)

// newTestDevice creates a device over a simulated GPU and closes it when
// the test ends, failing the test if the core broke any native usage rule.
func newTestDevice(t *testing.T, opts ...DeviceOption) (*Device, *fakegpu.Adapter) {
	t.Helper()
	gpu := fakegpu.New()
	d, err := NewDevice(gpu, opts...)
	if err != nil {
		t.Fatalf("NewDevice() = %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
		for _, v := range gpu.Violations() {
			t.Errorf("native usage violation: %s", v)
		}
	})
	return d, gpu
}

func graphics(t *testing.T, d *Device) *Context {
	t.Helper()
	c := d.ImmediateContext(gpucore.QueueGraphics)
	if c == nil {
		t.Fatal("device has no graphics context")
	}
	return c
}

func newColorTexture(t *testing.T, d *Device, mips, layers uint32) *Texture {
	t.Helper()
	tex, err := d.CreateTexture(&gpucore.TextureDesc{
		Label:              "color",
		Width:              64,
		Height:             64,
		DepthOrArrayLayers: layers,
		MipLevelCount:      mips,
		Format:             gputypes.TextureFormatRGBA8Unorm,
		Usage:              gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture() = %v", err)
	}
	return tex
}

func newDepthStencilTexture(t *testing.T, d *Device) *Texture {
	t.Helper()
	tex, err := d.CreateTexture(&gpucore.TextureDesc{
		Label:  "depth",
		Width:  64,
		Height: 64,
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateTexture() = %v", err)
	}
	return tex
}

// recordAndSubmit records an empty command buffer on the active slot and
// submits it.
func recordAndSubmit(t *testing.T, c *Context) *CommandBuffer {
	t.Helper()
	cb, err := c.AcquireCommandBuffer(false)
	if err != nil {
		t.Fatalf("AcquireCommandBuffer() = %v", err)
	}
	if err := c.SubmitActive(nil, nil); err != nil {
		t.Fatalf("SubmitActive() = %v", err)
	}
	return cb
}

// expectViolation runs fn, which must report a protocol violation
// matching target. Under the rhidebug tag the violation panics instead.
func expectViolation(t *testing.T, target error, fn func() error) {
	t.Helper()
	if debugAsserts {
		defer func() {
			if recover() == nil {
				t.Error("expected violation panic")
			}
		}()
	}
	if err := fn(); !errors.Is(err, target) {
		t.Errorf("got error %v, want %v", err, target)
	}
}
