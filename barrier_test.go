package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi/gpucore"
)

func TestMergeDepthStencilLayouts(t *testing.T) {
	tests := []struct {
		depth, stencil gpucore.ImageLayout
		want           gpucore.ImageLayout
		ok             bool
	}{
		{gpucore.LayoutDepthStencilAttachment, gpucore.LayoutDepthStencilAttachment, gpucore.LayoutDepthStencilAttachment, true},
		{gpucore.LayoutDepthStencilAttachment, gpucore.LayoutDepthStencilReadOnly, gpucore.LayoutDepthAttachmentStencilReadOnly, true},
		{gpucore.LayoutDepthStencilReadOnly, gpucore.LayoutDepthStencilAttachment, gpucore.LayoutDepthReadOnlyStencilAttachment, true},
		{gpucore.LayoutUndefined, gpucore.LayoutUndefined, gpucore.LayoutUndefined, true},
		{gpucore.LayoutTransferDst, gpucore.LayoutUndefined, gpucore.LayoutUndefined, false},
		{gpucore.LayoutDepthStencilAttachment, gpucore.LayoutGeneral, gpucore.LayoutUndefined, false},
	}
	for _, tt := range tests {
		got, ok := MergeDepthStencilLayouts(tt.depth, tt.stencil)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MergeDepthStencilLayouts(%s, %s) = %s, %v; want %s, %v",
				tt.depth, tt.stencil, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRequestTransitionIdempotent(t *testing.T) {
	m := NewLayoutManager(false, nil)
	img := colorImage(1, 1, 1)

	b, err := m.RequestTransition(img, AccessColorTarget, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 1 {
		t.Fatalf("first transition: %d barriers, want 1", b.Len())
	}
	got := b.Barriers()[0]
	want := gpucore.ImageBarrier{
		Texture:   1,
		OldLayout: gpucore.LayoutUndefined,
		NewLayout: gpucore.LayoutColorAttachment,
		SrcStage:  gpucore.StageTopOfPipe,
		DstStage:  gpucore.StageColorAttachmentOutput,
		SrcAccess: gpucore.AccessNone,
		DstAccess: gpucore.AccessColorAttachmentRead | gpucore.AccessColorAttachmentWrite,
		Range:     gpucore.SubresourceRange{Aspect: gpucore.AspectColor, MipLevelCount: 1, ArrayLayerCount: 1},
	}
	if got != want {
		t.Errorf("barrier = %+v\nwant      %+v", got, want)
	}

	b, err = m.RequestTransition(img, AccessColorTarget, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if !b.Empty() {
		t.Errorf("repeated transition produced %d barriers", b.Len())
	}
}

func TestComputeTransitionBarrierDoesNotTrack(t *testing.T) {
	m := NewLayoutManager(false, nil)
	img := colorImage(1, 1, 1)
	for i := 0; i < 2; i++ {
		b, err := m.ComputeTransitionBarrier(img, AccessSampled, gpucore.WholeRange())
		if err != nil {
			t.Fatal(err)
		}
		if b.Len() != 1 {
			t.Fatalf("call %d: %d barriers, want 1", i, b.Len())
		}
	}
	l, _ := m.GetLayout(img, false, gpucore.LayoutUndefined)
	if l.MainLayout() != gpucore.LayoutUndefined {
		t.Errorf("layout changed to %s", l.MainLayout())
	}
}

func TestDepthStencilTransitionsMerge(t *testing.T) {
	m := NewLayoutManager(false, nil)
	img := dsImage(3)

	b, err := m.RequestTransition(img, AccessDepthStencilWrite, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 1 {
		t.Fatalf("%d barriers, want one for both planes", b.Len())
	}
	if got := b.Barriers()[0]; got.Range.Aspect != gpucore.AspectDepthStencil || got.NewLayout != gpucore.LayoutDepthStencilAttachment {
		t.Errorf("barrier = %+v", got)
	}

	b, err = m.RequestTransition(img, AccessDepthWriteStencilRead, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 1 {
		t.Fatalf("%d barriers, want 1", b.Len())
	}
	got := b.Barriers()[0]
	if got.OldLayout != gpucore.LayoutDepthStencilAttachment || got.NewLayout != gpucore.LayoutDepthAttachmentStencilReadOnly {
		t.Errorf("transition %s -> %s, want DepthStencilAttachment -> DepthAttachmentStencilReadOnly", got.OldLayout, got.NewLayout)
	}

	l, _ := m.GetLayout(img, false, gpucore.LayoutUndefined)
	if d, s := l.SubresourceLayout(0, 0, gpucore.AspectDepth), l.SubresourceLayout(0, 0, gpucore.AspectStencil); d != gpucore.LayoutDepthStencilAttachment || s != gpucore.LayoutDepthStencilReadOnly {
		t.Errorf("planes = %s/%s", d, s)
	}
}

func TestDepthStencilUnmergeablePlanes(t *testing.T) {
	m := NewLayoutManager(false, nil)
	img := dsImage(3)
	m.SetLayout(img, gpucore.LayoutTransferDst, gpucore.SubresourceRange{
		Aspect: gpucore.AspectDepth, MipLevelCount: gpucore.Remaining, ArrayLayerCount: gpucore.Remaining,
	})

	b, err := m.RequestTransition(img, AccessSampled, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 2 {
		t.Fatalf("%d barriers, want one per plane", b.Len())
	}
	for i, want := range []struct {
		aspect gpucore.Aspect
		old    gpucore.ImageLayout
	}{
		{gpucore.AspectDepth, gpucore.LayoutTransferDst},
		{gpucore.AspectStencil, gpucore.LayoutUndefined},
	} {
		got := b.Barriers()[i]
		if got.Range.Aspect != want.aspect || got.OldLayout != want.old || got.NewLayout != gpucore.LayoutDepthStencilReadOnly {
			t.Errorf("barrier %d = %+v", i, got)
		}
	}
}

func TestPerSubresourceBarriers(t *testing.T) {
	m := NewLayoutManager(false, nil)
	img := colorImage(4, 3, 1)

	if _, err := m.RequestTransition(img, AccessSampled, gpucore.WholeRange()); err != nil {
		t.Fatal(err)
	}
	mip1 := gpucore.SubresourceRange{BaseMipLevel: 1, MipLevelCount: 1, ArrayLayerCount: gpucore.Remaining}
	b, err := m.RequestTransition(img, AccessCopyDst, mip1)
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 1 || b.Barriers()[0].Range.BaseMipLevel != 1 || b.Barriers()[0].Range.MipLevelCount != 1 {
		t.Fatalf("mip 1 transition = %+v", b.Barriers())
	}

	b, err = m.RequestTransition(img, AccessSampled, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 1 {
		t.Fatalf("%d barriers, want only the diverged mip", b.Len())
	}
	got := b.Barriers()[0]
	if got.OldLayout != gpucore.LayoutTransferDst || got.Range.BaseMipLevel != 1 {
		t.Errorf("barrier = %+v", got)
	}
	if got.SrcStage != gpucore.StageTransfer || got.SrcAccess != gpucore.AccessTransferWrite {
		t.Errorf("src sync = %v/%v, want transfer write", got.SrcStage, got.SrcAccess)
	}

	l, _ := m.GetLayout(img, false, gpucore.LayoutUndefined)
	if l.OverrideCount() != 0 {
		t.Errorf("record not collapsed after uniform transition: %d overrides", l.OverrideCount())
	}
}

func TestTransitionAccessAspectMismatch(t *testing.T) {
	m := NewLayoutManager(false, nil)
	expectViolation(t, ErrInvalidState, func() error {
		_, err := m.RequestTransition(dsImage(5), AccessColorTarget, gpucore.WholeRange())
		return err
	})
	expectViolation(t, ErrInvalidState, func() error {
		_, err := m.RequestTransition(colorImage(6, 1, 1), Access(200), gpucore.WholeRange())
		return err
	})
}

func TestPipelineBarrierMerge(t *testing.T) {
	var a, b PipelineBarrier
	a.AddImageLayoutTransition(1, gpucore.LayoutUndefined, gpucore.LayoutTransferDst, gpucore.WholeRange())
	b.AddImageLayoutTransition(2, gpucore.LayoutTransferDst, gpucore.LayoutShaderReadOnly, gpucore.WholeRange())
	a.Merge(&b)
	a.Merge(nil)
	if a.Len() != 2 || a.Barriers()[1].Texture != 2 {
		t.Errorf("merged batch = %+v", a.Barriers())
	}
	var none *PipelineBarrier
	if !none.Empty() || none.Barriers() != nil {
		t.Error("nil batch not empty")
	}
}

func TestContextTransitionRecordsBarriers(t *testing.T) {
	d, gpu := newTestDevice(t)
	c := graphics(t, d)
	tex := newColorTexture(t, d, 1, 1)

	if err := c.Transition(tex, AccessCopyDst, gpucore.WholeRange()); err != nil {
		t.Fatal(err)
	}
	if err := c.Transition(tex, AccessCopyDst, gpucore.WholeRange()); err != nil {
		t.Fatal(err)
	}
	cb, _ := c.AcquireCommandBuffer(false)
	if n := len(gpu.Barriers(cb.ID())); n != 1 {
		t.Fatalf("%d barriers recorded, want 1", n)
	}
	l, ok := c.QueryLayout(tex)
	if !ok || l.MainLayout() != gpucore.LayoutTransferDst {
		t.Errorf("QueryLayout() = %s, %v", l.MainLayout(), ok)
	}
	if _, ok := c.Queue().Layouts().GetLayout(tex, false, gpucore.LayoutUndefined); ok {
		t.Error("queue sees the layout before submission")
	}

	if err := c.SubmitActive(nil, nil); err != nil {
		t.Fatal(err)
	}
	l, ok = c.Queue().Layouts().GetLayout(tex, false, gpucore.LayoutUndefined)
	if !ok || l.MainLayout() != gpucore.LayoutTransferDst {
		t.Errorf("queue layout after submit = %s, %v", l.MainLayout(), ok)
	}

	// The next command buffer starts from the queue's view.
	if err := c.Transition(tex, AccessSampled, gpucore.WholeRange()); err != nil {
		t.Fatal(err)
	}
	next, _ := c.AcquireCommandBuffer(false)
	bs := gpu.Barriers(next.ID())
	if len(bs) != 1 || bs[0].OldLayout != gpucore.LayoutTransferDst {
		t.Errorf("barriers in next buffer = %+v", bs)
	}
}

func TestBarrierInsideRenderPass(t *testing.T) {
	if debugAsserts {
		t.Skip("violations panic with the rhidebug tag")
	}
	d, _ := newTestDevice(t)
	c := graphics(t, d)
	tex := newColorTexture(t, d, 1, 1)
	cb, err := c.AcquireCommandBuffer(false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.RequestTransition(tex, AccessSampled, gpucore.WholeRange())
	if err != nil {
		t.Fatal(err)
	}
	if err := cb.BeginRenderPass(&gpucore.RenderPassDesc{}); err != nil {
		t.Fatal(err)
	}
	var se *StateError
	if err := c.CommitBarriers(b, cb); !errors.As(err, &se) || se.State != StateIsInsideRenderPass {
		t.Errorf("CommitBarriers() inside a pass = %v, want *StateError", err)
	}
	if b.Empty() {
		t.Error("rejected batch was cleared")
	}
	if err := cb.EndRenderPass(); err != nil {
		t.Fatal(err)
	}
	if err := c.CommitBarriers(b, cb); err != nil {
		t.Errorf("CommitBarriers() after the pass = %v", err)
	}
}
