// Command rhidemo drives a few frames through the rhi core and reports what
// the execution and lifecycle bookkeeping did.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/gpucore"

	// Register the HAL backends
	_ "github.com/gogpu/rhi/backend/native"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		backendArg = flag.String("backend", "", "backend name (overrides the config)")
		frames     = flag.Int("frames", 60, "frames to run")
		size       = flag.Int("size", 512, "render target size in texels")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}

	dev, err := rhi.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open device (available: %v): %v", backend.Available(), err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}()

	if err := run(dev, *frames, uint32(*size)); err != nil {
		log.Fatalf("Demo failed: %v", err)
	}

	log.Printf("Ran %d frames, %s\n", dev.FrameNumber(), dev.MemoryStats())
}

func loadConfig(path string) (rhi.Config, error) {
	if path == "" {
		return rhi.DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return rhi.Config{}, err
	}
	defer f.Close()
	return rhi.LoadConfig(f)
}

func run(dev *rhi.Device, frames int, size uint32) error {
	color, err := dev.CreateTexture(&gpucore.TextureDesc{
		Label:  "color",
		Width:  size,
		Height: size,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		return err
	}
	depth, err := dev.CreateTexture(&gpucore.TextureDesc{
		Label:  "depth",
		Width:  size,
		Height: size,
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		return err
	}
	uniforms := dev.NewMultiBufferedResource(gpucore.BufferDesc{
		Label: "frame-uniforms",
		Size:  256,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	}, nil)

	ctx := dev.ImmediateContext(gpucore.QueueGraphics)
	for i := 0; i < frames; i++ {
		if err := drawFrame(ctx, uniforms, color, depth, i); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := dev.EndFrame(); err != nil {
			return fmt.Errorf("end frame %d: %w", i, err)
		}
	}
	log.Printf("Uniform ring settled at %d allocations\n", uniforms.Len())

	if err := uniforms.Release(ctx); err != nil {
		return err
	}
	if err := color.Release(nil); err != nil {
		return err
	}
	if err := depth.Release(nil); err != nil {
		return err
	}
	return ctx.SubmitActive(nil, nil)
}

func drawFrame(ctx *rhi.Context, uniforms *rhi.MultiBufferedResource, color, depth *rhi.Texture, frame int) error {
	if err := uniforms.Write(ctx, 0, []byte{byte(frame), byte(frame >> 8)}); err != nil {
		return err
	}
	cb, err := ctx.AcquireCommandBuffer(false)
	if err != nil {
		return err
	}
	if err := ctx.Transition(color, rhi.AccessColorTarget, gpucore.WholeRange()); err != nil {
		return err
	}
	if err := ctx.Transition(depth, rhi.AccessDepthStencilWrite, gpucore.WholeRange()); err != nil {
		return err
	}
	err = cb.BeginRenderPass(&gpucore.RenderPassDesc{
		Label:        "main",
		ColorTargets: []gpucore.TextureID{color.ID()},
		DepthStencil: depth.ID(),
		Clear:        true,
	})
	if err != nil {
		return err
	}
	if err := cb.EndRenderPass(); err != nil {
		return err
	}
	if err := ctx.Transition(color, rhi.AccessSampled, gpucore.WholeRange()); err != nil {
		return err
	}
	return ctx.SubmitActive(nil, nil)
}
