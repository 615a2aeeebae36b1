package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/gpucore"
)

// Access is how the next GPU work will use an image.
type Access uint8

// Image accesses.
const (
	AccessColorTarget Access = iota
	AccessDepthStencilWrite
	AccessDepthStencilRead
	AccessDepthWriteStencilRead
	AccessDepthReadStencilWrite
	AccessSampled
	AccessStorage
	AccessCopySrc
	AccessCopyDst
	AccessPresent
	accessCount
)

var accessNames = [accessCount]string{
	"ColorTarget", "DepthStencilWrite", "DepthStencilRead", "DepthWriteStencilRead",
	"DepthReadStencilWrite", "Sampled", "Storage", "CopySrc", "CopyDst", "Present",
}

// String returns the access name.
func (a Access) String() string {
	if a < accessCount {
		return accessNames[a]
	}
	return fmt.Sprintf("Access(%d)", uint8(a))
}

// accessRule gives the per-plane target layout of an access. Undefined
// marks a plane the access does not apply to.
type accessRule struct {
	color, depth, stencil gpucore.ImageLayout
}

var accessRules = [accessCount]accessRule{
	AccessColorTarget: {color: gpucore.LayoutColorAttachment},
	AccessDepthStencilWrite: {
		depth:   gpucore.LayoutDepthStencilAttachment,
		stencil: gpucore.LayoutDepthStencilAttachment,
	},
	AccessDepthStencilRead: {
		depth:   gpucore.LayoutDepthStencilReadOnly,
		stencil: gpucore.LayoutDepthStencilReadOnly,
	},
	AccessDepthWriteStencilRead: {
		depth:   gpucore.LayoutDepthStencilAttachment,
		stencil: gpucore.LayoutDepthStencilReadOnly,
	},
	AccessDepthReadStencilWrite: {
		depth:   gpucore.LayoutDepthStencilReadOnly,
		stencil: gpucore.LayoutDepthStencilAttachment,
	},
	AccessSampled: {
		color:   gpucore.LayoutShaderReadOnly,
		depth:   gpucore.LayoutDepthStencilReadOnly,
		stencil: gpucore.LayoutDepthStencilReadOnly,
	},
	AccessStorage: {color: gpucore.LayoutGeneral, depth: gpucore.LayoutGeneral, stencil: gpucore.LayoutGeneral},
	AccessCopySrc: {color: gpucore.LayoutTransferSrc, depth: gpucore.LayoutTransferSrc, stencil: gpucore.LayoutTransferSrc},
	AccessCopyDst: {color: gpucore.LayoutTransferDst, depth: gpucore.LayoutTransferDst, stencil: gpucore.LayoutTransferDst},
	AccessPresent: {color: gpucore.LayoutPresentSrc},
}

func (r accessRule) target(a gpucore.Aspect) gpucore.ImageLayout {
	switch a {
	case gpucore.AspectDepth:
		return r.depth
	case gpucore.AspectStencil:
		return r.stencil
	default:
		return r.color
	}
}

// layoutSync is the pipeline stages and memory accesses a layout implies.
type layoutSync struct {
	stage  gpucore.PipelineStage
	access gpucore.AccessFlags
}

const fragmentTests = gpucore.StageEarlyFragmentTests | gpucore.StageLateFragmentTests

var layoutSyncs = [...]layoutSync{
	gpucore.LayoutUndefined: {gpucore.StageTopOfPipe, gpucore.AccessNone},
	gpucore.LayoutGeneral: {
		gpucore.StageComputeShader | gpucore.StageFragmentShader,
		gpucore.AccessShaderRead | gpucore.AccessShaderWrite,
	},
	gpucore.LayoutColorAttachment: {
		gpucore.StageColorAttachmentOutput,
		gpucore.AccessColorAttachmentRead | gpucore.AccessColorAttachmentWrite,
	},
	gpucore.LayoutDepthStencilAttachment: {
		fragmentTests,
		gpucore.AccessDepthStencilAttachmentRead | gpucore.AccessDepthStencilAttachmentWrite,
	},
	gpucore.LayoutDepthStencilReadOnly: {
		fragmentTests | gpucore.StageFragmentShader,
		gpucore.AccessDepthStencilAttachmentRead | gpucore.AccessShaderRead,
	},
	gpucore.LayoutDepthAttachmentStencilReadOnly: {
		fragmentTests | gpucore.StageFragmentShader,
		gpucore.AccessDepthStencilAttachmentRead | gpucore.AccessDepthStencilAttachmentWrite | gpucore.AccessShaderRead,
	},
	gpucore.LayoutDepthReadOnlyStencilAttachment: {
		fragmentTests | gpucore.StageFragmentShader,
		gpucore.AccessDepthStencilAttachmentRead | gpucore.AccessDepthStencilAttachmentWrite | gpucore.AccessShaderRead,
	},
	gpucore.LayoutShaderReadOnly: {
		gpucore.StageVertexShader | gpucore.StageFragmentShader | gpucore.StageComputeShader,
		gpucore.AccessShaderRead,
	},
	gpucore.LayoutTransferSrc: {gpucore.StageTransfer, gpucore.AccessTransferRead},
	gpucore.LayoutTransferDst: {gpucore.StageTransfer, gpucore.AccessTransferWrite},
	gpucore.LayoutPresentSrc:  {gpucore.StageBottomOfPipe, gpucore.AccessNone},
}

func syncFor(l gpucore.ImageLayout) layoutSync {
	if int(l) < len(layoutSyncs) {
		return layoutSyncs[l]
	}
	return layoutSync{gpucore.StageAllCommands, gpucore.AccessMemoryRead | gpucore.AccessMemoryWrite}
}

// MergeDepthStencilLayouts combines separate depth and stencil plane
// layouts into one layout for both planes. ok is false when no single
// layout describes the pair.
func MergeDepthStencilLayouts(depth, stencil gpucore.ImageLayout) (gpucore.ImageLayout, bool) {
	switch {
	case depth == stencil:
		return depth, true
	case depth == gpucore.LayoutDepthStencilAttachment && stencil == gpucore.LayoutDepthStencilReadOnly:
		return gpucore.LayoutDepthAttachmentStencilReadOnly, true
	case depth == gpucore.LayoutDepthStencilReadOnly && stencil == gpucore.LayoutDepthStencilAttachment:
		return gpucore.LayoutDepthReadOnlyStencilAttachment, true
	}
	return gpucore.LayoutUndefined, false
}

// PipelineBarrier is a batch of image barriers recorded together.
type PipelineBarrier struct {
	barriers []gpucore.ImageBarrier
}

// AddImageLayoutTransition appends a transition whose stage and access
// masks come from the layouts.
func (b *PipelineBarrier) AddImageLayoutTransition(tex gpucore.TextureID, oldLayout, newLayout gpucore.ImageLayout, r gpucore.SubresourceRange) {
	src, dst := syncFor(oldLayout), syncFor(newLayout)
	b.barriers = append(b.barriers, gpucore.ImageBarrier{
		Texture:   tex,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		SrcStage:  src.stage,
		DstStage:  dst.stage,
		SrcAccess: src.access,
		DstAccess: dst.access,
		Range:     r,
	})
}

// Merge appends other's barriers.
func (b *PipelineBarrier) Merge(other *PipelineBarrier) {
	if other != nil {
		b.barriers = append(b.barriers, other.barriers...)
	}
}

// Len returns the number of barriers.
func (b *PipelineBarrier) Len() int {
	if b == nil {
		return 0
	}
	return len(b.barriers)
}

// Empty reports whether the batch holds no barrier.
func (b *PipelineBarrier) Empty() bool { return b.Len() == 0 }

// Barriers returns the batched barriers.
func (b *PipelineBarrier) Barriers() []gpucore.ImageBarrier {
	if b == nil {
		return nil
	}
	return b.barriers
}

// Execute records the batch into a command buffer and empties it.
func (b *PipelineBarrier) Execute(cb *CommandBuffer) error {
	if b.Empty() {
		return nil
	}
	if err := cb.pipelineBarrier(b.barriers); err != nil {
		return err
	}
	b.barriers = nil
	return nil
}

// planeTransition is the barrier work for one plane of a range.
type planeTransition struct {
	aspect  gpucore.Aspect
	dst     gpucore.ImageLayout
	uniform bool
	src     gpucore.ImageLayout
}

// ComputeTransitionBarrier returns the barriers needed before img is used
// with access over r, without updating the tracked layout.
func (m *LayoutManager) ComputeTransitionBarrier(img Image, access Access, r gpucore.SubresourceRange) (*PipelineBarrier, error) {
	return m.transition(img, access, r, false)
}

// RequestTransition returns the barriers needed before img is used with
// access over r and records the new layout. Requesting the same access
// again yields an empty batch.
func (m *LayoutManager) RequestTransition(img Image, access Access, r gpucore.SubresourceRange) (*PipelineBarrier, error) {
	return m.transition(img, access, r, true)
}

func (m *LayoutManager) transition(img Image, access Access, r gpucore.SubresourceRange, update bool) (*PipelineBarrier, error) {
	if access >= accessCount {
		return nil, violation(ErrInvalidState, "unknown image access", "access", access)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.lookupLocked(img, true, gpucore.LayoutUndefined)
	rng := r.Resolve(l.mips, l.layers, img.Aspects())
	rule := accessRules[access]
	b := &PipelineBarrier{}
	if rng.Aspect == 0 {
		return b, nil
	}

	var planes []planeTransition
	for _, a := range l.rangeAspects(rng) {
		dst := rule.target(a)
		if dst == gpucore.LayoutUndefined {
			return nil, violation(ErrInvalidState, "access does not apply to image aspect",
				"access", access, "texture", img.ID(), "aspect", a)
		}
		pt := planeTransition{aspect: a, dst: dst}
		pt.src, pt.uniform = l.uniformOver(rng, a)
		planes = append(planes, pt)
	}

	if len(planes) == 2 && planes[0].uniform && planes[1].uniform {
		src, okSrc := MergeDepthStencilLayouts(planes[0].src, planes[1].src)
		dst, okDst := MergeDepthStencilLayouts(planes[0].dst, planes[1].dst)
		if okSrc && okDst {
			if src != dst {
				whole := rng
				whole.Aspect = gpucore.AspectDepthStencil
				b.AddImageLayoutTransition(img.ID(), src, dst, whole)
			}
			planes = nil
			if update {
				for _, a := range []gpucore.Aspect{gpucore.AspectDepth, gpucore.AspectStencil} {
					sub := rng
					sub.Aspect = a
					l.Set(rule.target(a), sub)
				}
			}
		}
	}

	for _, pt := range planes {
		sub := rng
		sub.Aspect = pt.aspect
		if pt.uniform {
			if pt.src != pt.dst {
				b.AddImageLayoutTransition(img.ID(), pt.src, pt.dst, sub)
			}
		} else {
			l.perSubresourceBarriers(b, img.ID(), sub, pt.dst)
		}
		if update {
			l.Set(pt.dst, sub)
		}
	}
	return b, nil
}

// uniformOver reports whether one plane has a single layout over the range.
func (l *ImageLayout) uniformOver(r gpucore.SubresourceRange, a gpucore.Aspect) (gpucore.ImageLayout, bool) {
	if len(l.overrides) == 0 {
		return l.main, true
	}
	first := l.SubresourceLayout(r.BaseMipLevel, r.BaseArrayLayer, a)
	for layer := r.BaseArrayLayer; layer < r.BaseArrayLayer+r.ArrayLayerCount; layer++ {
		for mip := r.BaseMipLevel; mip < r.BaseMipLevel+r.MipLevelCount; mip++ {
			if l.SubresourceLayout(mip, layer, a) != first {
				return first, false
			}
		}
	}
	return first, true
}

// perSubresourceBarriers emits one barrier per subresource of a plane
// whose layout differs from dst.
func (l *ImageLayout) perSubresourceBarriers(b *PipelineBarrier, tex gpucore.TextureID, r gpucore.SubresourceRange, dst gpucore.ImageLayout) {
	for layer := r.BaseArrayLayer; layer < r.BaseArrayLayer+r.ArrayLayerCount; layer++ {
		for mip := r.BaseMipLevel; mip < r.BaseMipLevel+r.MipLevelCount; mip++ {
			src := l.SubresourceLayout(mip, layer, r.Aspect)
			if src == dst {
				continue
			}
			b.AddImageLayoutTransition(tex, src, dst, gpucore.SubresourceRange{
				Aspect:          r.Aspect,
				BaseMipLevel:    mip,
				MipLevelCount:   1,
				BaseArrayLayer:  layer,
				ArrayLayerCount: 1,
			})
		}
	}
}
