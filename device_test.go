package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi/gpucore"
)

func TestNewDeviceNilAdapter(t *testing.T) {
	if _, err := NewDevice(nil); !errors.Is(err, ErrNilAdapter) {
		t.Errorf("NewDevice(nil) = %v", err)
	}
}

func TestEndFrameAdvancesFrame(t *testing.T) {
	d, _ := newTestDevice(t)
	for want := uint64(1); want <= 3; want++ {
		if err := d.EndFrame(); err != nil {
			t.Fatal(err)
		}
		if d.FrameNumber() != want {
			t.Errorf("FrameNumber() = %d, want %d", d.FrameNumber(), want)
		}
	}
}

func TestEndFrameRecyclesCommandBuffers(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)
	cb := recordAndSubmit(t, c)
	gpu.SignalNext()
	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateNeedReset {
		t.Errorf("state = %s after EndFrame, want NeedReset", cb.State())
	}
}

func TestWaitIdle(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)
	first := recordAndSubmit(t, c)
	second := recordAndSubmit(t, c)
	if first == second {
		t.Fatal("in-flight buffer reused")
	}
	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if gpu.PendingSubmissions() != 0 {
		t.Error("GPU not idle")
	}
	for _, cb := range []*CommandBuffer{first, second} {
		if cb.State() != StateNeedReset {
			t.Errorf("buffer %d state = %s, want NeedReset", cb.ID(), cb.State())
		}
	}
}

func TestDeferredContext(t *testing.T) {
	d, gpu := newTestDevice(t)
	dc, err := d.NewDeferredContext(gpucore.QueueGraphics)
	if err != nil {
		t.Fatal(err)
	}
	if !dc.IsDeferred() || dc.Queue() != d.Queue(gpucore.QueueGraphics) {
		t.Fatal("deferred context not bound to the graphics queue")
	}
	if _, err := d.NewDeferredContext(gpucore.QueueCompute); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewDeferredContext(compute) on a graphics-only device = %v", err)
	}

	tex := newColorTexture(t, d, 1, 1)
	if err := dc.Transition(tex, AccessColorTarget, gpucore.WholeRange()); err != nil {
		t.Fatal(err)
	}
	cb, _ := dc.AcquireCommandBuffer(false)
	if !cb.Layouts().WriteOnly() {
		t.Error("deferred command buffer layouts not write-only")
	}
	if err := dc.SubmitActive(nil, nil); err != nil {
		t.Fatal(err)
	}
	l, ok := d.Queue(gpucore.QueueGraphics).Layouts().GetLayout(tex, false, gpucore.LayoutUndefined)
	if !ok || l.MainLayout() != gpucore.LayoutColorAttachment {
		t.Errorf("queue layout = %s, %v after deferred submit", l.MainLayout(), ok)
	}

	// Deferred contexts take part in per-frame recycling.
	gpu.SignalAll()
	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateNeedReset {
		t.Errorf("deferred buffer state = %s, want NeedReset", cb.State())
	}
}

func TestMultipleQueues(t *testing.T) {
	d, gpu := newTestDevice(t, WithQueues(gpucore.QueueGraphics, gpucore.QueueTransfer))
	gfx := graphics(t, d)
	xfer := d.ImmediateContext(gpucore.QueueTransfer)
	if xfer == nil || d.ImmediateContext(gpucore.QueueCompute) != nil {
		t.Fatal("queues not created as requested")
	}

	done, err := d.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xfer.AcquireCommandBuffer(false); err != nil {
		t.Fatal(err)
	}
	if err := xfer.SubmitActive(nil, []*Semaphore{done}); err != nil {
		t.Fatal(err)
	}
	if _, err := gfx.AcquireCommandBuffer(false); err != nil {
		t.Fatal(err)
	}
	if err := gfx.SubmitActive([]SemaphoreWait{{Semaphore: done, Stage: gpucore.StageTransfer}}, nil); err != nil {
		t.Fatal(err)
	}
	done.Release()

	subs := gpu.Submissions()
	if len(subs) != 2 || subs[0].Queue != gpucore.QueueTransfer || subs[1].Queue != gpucore.QueueGraphics {
		t.Fatalf("submissions = %+v", subs)
	}
	if subs[1].Wait[0].Semaphore != done.ID() || subs[1].Wait[0].DstStage != gpucore.StageTransfer {
		t.Errorf("graphics wait = %+v", subs[1].Wait)
	}
	if d.Queue(gpucore.QueueTransfer).Submits() != 1 || d.Queue(gpucore.QueueGraphics).Submits() != 1 {
		t.Error("per-queue submit counts wrong")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)

	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 128})
	if err != nil {
		t.Fatal(err)
	}
	newColorTexture(t, d, 1, 1)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)
	for i := 0; i < 3; i++ {
		if err := r.Write(c, 0, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := buf.Release(nil); err != nil {
		t.Fatal(err)
	}
	recordAndSubmit(t, c)
	if _, err := c.AcquireCommandBuffer(false); err != nil {
		t.Fatal(err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	for _, kind := range []gpucore.ResourceKind{
		gpucore.ResourceFence,
		gpucore.ResourceCommandBuffer,
		gpucore.ResourceSemaphore,
	} {
		if n := gpu.Live(kind); n != 0 {
			t.Errorf("%d %s objects alive after Close", n, kind)
		}
	}
	// Multi-buffered allocations and released buffers are destroyed;
	// the unreleased texture belongs to the caller.
	if n := gpu.Live(gpucore.ResourceBuffer); n != 0 {
		t.Errorf("%d buffers alive after Close", n)
	}

	if err := d.EndFrame(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("EndFrame() after Close = %v", err)
	}
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 1}); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("CreateBuffer() after Close = %v", err)
	}
	if _, err := d.NewDeferredContext(gpucore.QueueGraphics); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("NewDeferredContext() after Close = %v", err)
	}
}
