package native

import (
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice creates a noop device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// manualQueue completes submissions only when told to.
type manualQueue struct {
	hal.Queue

	mu        sync.Mutex
	submitted uint64
	completed uint64
	batches   [][]hal.CommandBuffer
	writes    []uint64
}

func (q *manualQueue) Submit(cbs []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted++
	q.batches = append(q.batches, cbs)
	return q.submitted, nil
}

func (q *manualQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

func (q *manualQueue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	q.mu.Lock()
	q.writes = append(q.writes, offset)
	q.mu.Unlock()
	return q.Queue.WriteBuffer(buf, offset, data)
}

func (q *manualQueue) completeAll() {
	q.mu.Lock()
	q.completed = q.submitted
	q.mu.Unlock()
}

// recordingDevice counts the calls the adapter makes on the HAL.
type recordingDevice struct {
	hal.Device

	pooled       bool
	encoders     []*recordingEncoder
	freed        int
	viewsCreated int
	viewsFreed   int
}

func (d *recordingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	inner, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	e := &recordingEncoder{CommandEncoder: inner}
	d.encoders = append(d.encoders, e)
	if d.pooled {
		return &pooledEncoder{recordingEncoder: e}, nil
	}
	return e, nil
}

func (d *recordingDevice) FreeCommandBuffer(cb hal.CommandBuffer) {
	d.freed++
	d.Device.FreeCommandBuffer(cb)
}

func (d *recordingDevice) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	d.viewsCreated++
	return d.Device.CreateTextureView(tex, desc)
}

func (d *recordingDevice) DestroyTextureView(v hal.TextureView) {
	d.viewsFreed++
	d.Device.DestroyTextureView(v)
}

type recordingEncoder struct {
	hal.CommandEncoder

	begins      int
	discards    int
	resets      [][]hal.CommandBuffer
	destroyed   bool
	barriers    []hal.TextureBarrier
	renderPass  *hal.RenderPassDescriptor
	passesEnded int
}

func (e *recordingEncoder) BeginEncoding(label string) error {
	e.begins++
	return e.CommandEncoder.BeginEncoding(label)
}

func (e *recordingEncoder) DiscardEncoding() {
	e.discards++
	e.CommandEncoder.DiscardEncoding()
}

func (e *recordingEncoder) ResetAll(cbs []hal.CommandBuffer) {
	e.resets = append(e.resets, cbs)
	e.CommandEncoder.ResetAll(cbs)
}

func (e *recordingEncoder) Destroy() {
	e.destroyed = true
	e.CommandEncoder.Destroy()
}

func (e *recordingEncoder) TransitionTextures(b []hal.TextureBarrier) {
	e.barriers = append(e.barriers, b...)
	e.CommandEncoder.TransitionTextures(b)
}

func (e *recordingEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	e.renderPass = desc
	return &countingPass{RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc), enc: e}
}

type countingPass struct {
	hal.RenderPassEncoder
	enc *recordingEncoder
}

func (p *countingPass) End() {
	p.enc.passesEnded++
	p.RenderPassEncoder.End()
}

// pooledEncoder keeps its native pool across recordings.
type pooledEncoder struct {
	*recordingEncoder
	managed bool
}

func (e *pooledEncoder) SetPoolManaged(managed bool) { e.managed = managed }

// newTestAdapter builds an adapter over a noop device wrapped for
// inspection.
func newTestAdapter(t *testing.T, pooled bool) (*HALAdapter, *recordingDevice, *manualQueue) {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	dev := &recordingDevice{Device: device, pooled: pooled}
	q := &manualQueue{Queue: queue}
	a := NewHALAdapter(dev, q, nil)
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		cleanup()
	})
	return a, dev, q
}
