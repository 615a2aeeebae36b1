package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi/gpucore"
)

func uniformDesc() gpucore.BufferDesc {
	return gpucore.BufferDesc{Label: "uniforms", Size: 64, Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst}
}

func TestMultiBufferedStartsEmpty(t *testing.T) {
	d, _ := newTestDevice(t)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)
	if r.Len() != 0 || r.Current() != nil || r.CurrentIndex() != -1 {
		t.Fatalf("new resource has %d allocations, current %d", r.Len(), r.CurrentIndex())
	}
	if _, err := r.Lock(nil, LockRead); !errors.Is(err, ErrNoAllocation) {
		t.Errorf("LockRead() before any write = %v, want ErrNoAllocation", err)
	}
}

// TestMultiBufferedRotation write-locks five times, signaling the GPU after
// every second lock, and checks the ring stays small and never hands out
// an allocation the GPU may still read.
func TestMultiBufferedRotation(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)

	for i := 1; i <= 5; i++ {
		before := r.States()
		a, err := r.Lock(c, LockWrite)
		if err != nil {
			t.Fatalf("lock %d: %v", i, err)
		}
		for j, s := range before {
			if r.allocs[j] == a && (s == AllocationPending || s == AllocationNeedsFence) {
				t.Fatalf("lock %d: handed out allocation %d in state %s", i, j, s)
			}
		}
		if a.State() != AllocationInUse {
			t.Fatalf("lock %d: state = %s, want InUse", i, a.State())
		}
		if err := a.Buffer().Write(0, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		if err := r.Unlock(); err != nil {
			t.Fatal(err)
		}
		if r.Len() > 3 {
			t.Fatalf("lock %d: %d allocations, want at most 3", i, r.Len())
		}

		if i%2 == 0 {
			if err := r.UpdateAllocationStates(c); err != nil {
				t.Fatal(err)
			}
			if err := c.SubmitActive(nil, nil); err != nil {
				t.Fatal(err)
			}
			gpu.SignalNext()
			if err := d.EndFrame(); err != nil {
				t.Fatal(err)
			}
		}
	}
	if r.Len() != 3 {
		t.Errorf("final allocation count = %d, want 3", r.Len())
	}

	got, err := r.Lock(c, LockRead)
	if err != nil {
		t.Fatal(err)
	}
	if data := gpu.BufferData(got.Buffer().ID()); data[0] != 5 {
		t.Errorf("current allocation holds %d, want the last write", data[0])
	}
	if err := r.Unlock(); err != nil {
		t.Fatal(err)
	}
}

func TestMultiBufferedNeedsFenceIsFencedLazily(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)

	for i := 0; i < 2; i++ {
		if err := r.Write(c, 0, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if got := r.States(); got[0] != AllocationNeedsFence || got[1] != AllocationInUse {
		t.Fatalf("States() = %v, want [NeedsFence InUse]", got)
	}
	if len(gpu.Submissions()) != 0 {
		t.Fatal("rotation submitted work")
	}

	if err := r.UpdateAllocationStates(c); err != nil {
		t.Fatal(err)
	}
	if got := r.States()[0]; got != AllocationPending {
		t.Fatalf("vacated allocation state = %s, want Pending", got)
	}
	if err := r.UpdateAllocationStates(c); err != nil {
		t.Fatal(err)
	}
	if got := r.States()[0]; got != AllocationPending {
		t.Fatal("pending allocation promoted before its fence signaled")
	}

	if err := c.SubmitActive(nil, nil); err != nil {
		t.Fatal(err)
	}
	gpu.SignalNext()
	if err := r.UpdateAllocationStates(c); err != nil {
		t.Fatal(err)
	}
	if got := r.States()[0]; got != AllocationAvailable {
		t.Errorf("state after fence = %s, want Available", got)
	}
}

func TestMultiBufferedCapWaitsForOldest(t *testing.T) {
	d, gpu := newTestDevice(t, WithMaxBufferedAllocations(2))
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)
	gpu.SignalOnWait = true

	for i := 0; i < 6; i++ {
		if err := r.Write(c, 0, []byte{byte(i)}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if r.Len() > 2 {
			t.Fatalf("write %d: %d allocations past a cap of 2", i, r.Len())
		}
	}
	if len(gpu.Submissions()) == 0 {
		t.Error("capped rotation never submitted the fencing command buffer")
	}
}

func TestMultiBufferedCapTimeout(t *testing.T) {
	d, gpu := newTestDevice(t, WithMaxBufferedAllocations(1), WithDeviceLostTimeouts(0))
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)

	if err := r.Write(c, 0, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AdvanceBufferIndex(c); !errors.Is(err, ErrFenceTimeout) {
		t.Fatalf("AdvanceBufferIndex() on a hung GPU = %v, want ErrFenceTimeout", err)
	}

	// The last written allocation stays current and readable.
	if got := r.CurrentIndex(); got != 0 {
		t.Fatalf("CurrentIndex() after timeout = %d, want 0", got)
	}
	if got := r.States()[0]; got != AllocationInUse {
		t.Errorf("state after timeout = %s, want InUse", got)
	}
	a, err := r.Lock(c, LockRead)
	if err != nil {
		t.Fatalf("Lock(LockRead) after timeout = %v", err)
	}
	if a != r.Current() {
		t.Error("LockRead did not return the current allocation")
	}
	if err := r.Unlock(); err != nil {
		t.Fatal(err)
	}

	gpu.SignalAll()
	gpu.SignalOnWait = true
	if _, err := r.AdvanceBufferIndex(c); err != nil {
		t.Fatalf("AdvanceBufferIndex() after the GPU caught up = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("%d allocations, want 1", r.Len())
	}
}

func TestMultiBufferedGrowthFailureKeepsCurrent(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)

	if err := r.Write(c, 0, []byte{1}); err != nil {
		t.Fatal(err)
	}
	gpu.FailCreateBuffer = errors.New("out of device memory")
	if _, err := r.AdvanceBufferIndex(c); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("AdvanceBufferIndex() = %v, want ErrOutOfMemory", err)
	}
	gpu.FailCreateBuffer = nil
	if got := r.CurrentIndex(); got != 0 {
		t.Errorf("CurrentIndex() after failed growth = %d, want 0", got)
	}
	if got := r.States()[0]; got != AllocationInUse {
		t.Errorf("state after failed growth = %s, want InUse", got)
	}
}

func TestMultiBufferedFencedOnRotatingContext(t *testing.T) {
	d, _ := newTestDevice(t)
	dc, err := d.NewDeferredContext(gpucore.QueueGraphics)
	if err != nil {
		t.Fatal(err)
	}
	r := d.NewMultiBufferedResource(uniformDesc(), nil)

	for i := 0; i < 2; i++ {
		if err := r.Write(dc, 0, []byte{byte(i)}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}

	vacated := r.allocs[0]
	if vacated.State() != AllocationPending {
		t.Fatalf("vacated state = %s, want Pending", vacated.State())
	}
	if vacated.fenceCB == nil || vacated.fenceCB.pool != dc.Manager().Pool() {
		t.Error("vacated allocation not fenced on the deferred context that wrote it")
	}
	if graphics(t, d).Manager().HasPendingActiveCmdBuffer() {
		t.Error("EndFrame opened a command buffer on the immediate context")
	}
	if err := dc.SubmitActive(nil, nil); err != nil {
		t.Fatal(err)
	}
}

func TestMultiBufferedLockViolations(t *testing.T) {
	d, _ := newTestDevice(t)
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)

	expectViolation(t, ErrResourceNotLocked, r.Unlock)
	if _, err := r.Lock(c, LockWrite); err != nil {
		t.Fatal(err)
	}
	expectViolation(t, ErrResourceLocked, func() error {
		_, err := r.Lock(c, LockWrite)
		return err
	})
	if err := r.Unlock(); err != nil {
		t.Fatal(err)
	}
}

func TestMultiBufferedLockReadDoesNotRotate(t *testing.T) {
	d, _ := newTestDevice(t)
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)
	payload := []byte("frame constants")
	if err := r.Write(c, 0, payload); err != nil {
		t.Fatal(err)
	}
	idx := r.CurrentIndex()
	for i := 0; i < 3; i++ {
		a, err := r.Lock(c, LockRead)
		if err != nil {
			t.Fatal(err)
		}
		if a != r.allocs[idx] {
			t.Fatal("LockRead rotated the resource")
		}
		if err := r.Unlock(); err != nil {
			t.Fatal(err)
		}
	}
	if r.Len() != 1 {
		t.Errorf("%d allocations after reads, want 1", r.Len())
	}
	if err := r.Write(c, 60, payload); err == nil {
		t.Error("out-of-bounds write succeeded")
	}
}

func TestMultiBufferedRelease(t *testing.T) {
	d, gpu := newTestDevice(t, WithDeletionFrameMargin(1))
	c := graphics(t, d)
	r := d.NewMultiBufferedResource(uniformDesc(), nil)
	for i := 0; i < 2; i++ {
		if err := r.Write(c, 0, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Release(c); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Lock(c, LockWrite); !errors.Is(err, ErrReleased) {
		t.Errorf("Lock() after release = %v", err)
	}
	expectViolation(t, ErrReleased, func() error { return r.Release(c) })

	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if gpu.Live(gpucore.ResourceBuffer) != 2 {
		t.Fatal("allocations destroyed before the GPU finished the active command buffer")
	}

	if err := c.SubmitActive(nil, nil); err != nil {
		t.Fatal(err)
	}
	gpu.SignalNext()
	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if gpu.Live(gpucore.ResourceBuffer) != 0 {
		t.Errorf("%d allocations alive after release", gpu.Live(gpucore.ResourceBuffer))
	}
}

type countingStrategy struct {
	calls int
}

func (s *countingStrategy) Allocate(d *Device, desc gpucore.BufferDesc) (*Buffer, error) {
	s.calls++
	desc.Label += "#ring"
	return d.CreateBuffer(&desc)
}

func TestMultiBufferedStrategy(t *testing.T) {
	d, _ := newTestDevice(t)
	c := graphics(t, d)
	s := &countingStrategy{}
	r := d.NewMultiBufferedResource(uniformDesc(), s)
	for i := 0; i < 3; i++ {
		if err := r.Write(c, 0, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if s.calls != 3 {
		t.Errorf("strategy called %d times, want 3", s.calls)
	}
	if got := r.Current().Buffer().Label(); got != "uniforms#ring" {
		t.Errorf("Label() = %q", got)
	}
}
