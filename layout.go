package rhi

import (
	"sync"

	"github.com/gogpu/rhi/gpucore"
)

// Image is the view of a texture the layout tracker needs.
// *Texture implements it.
type Image interface {
	ID() gpucore.TextureID
	MipLevels() uint32
	ArrayLayers() uint32
	Aspects() gpucore.Aspect
}

// ImageLayout is the tracked layout state of one image.
//
// A uniform image stores only its main layout. Once subresources diverge,
// every (plane, layer, mip) gets an entry in the override list; writes that
// make the entries equal again collapse the list back to the main layout.
type ImageLayout struct {
	mips   uint32
	layers uint32
	planes uint32

	main      gpucore.ImageLayout
	overrides []gpucore.ImageLayout
}

// NewImageLayout returns a uniform layout record for an image.
func NewImageLayout(layout gpucore.ImageLayout, mips, layers uint32, aspects gpucore.Aspect) ImageLayout {
	planes := uint32(1)
	if aspects.HasDepthAndStencil() {
		planes = 2
	}
	return ImageLayout{
		mips:   max(mips, 1),
		layers: max(layers, 1),
		planes: planes,
		main:   layout,
	}
}

// MainLayout returns the layout shared by every subresource. It is only
// meaningful when AreAllSubresourcesSame reports true.
func (l *ImageLayout) MainLayout() gpucore.ImageLayout { return l.main }

// AreAllSubresourcesSame reports whether the record is uniform.
func (l *ImageLayout) AreAllSubresourcesSame() bool { return len(l.overrides) == 0 }

// OverrideCount returns the length of the per-subresource override list.
func (l *ImageLayout) OverrideCount() int { return len(l.overrides) }

func (l *ImageLayout) index(plane, layer, mip uint32) int {
	return int((plane*l.layers+layer)*l.mips + mip)
}

// planeOf maps a single aspect bit to its plane index.
func (l *ImageLayout) planeOf(aspect gpucore.Aspect) uint32 {
	if l.planes == 2 && aspect == gpucore.AspectStencil {
		return 1
	}
	return 0
}

// rangeAspects splits the range's aspects into separately tracked planes.
func (l *ImageLayout) rangeAspects(r gpucore.SubresourceRange) []gpucore.Aspect {
	if l.planes == 1 {
		return []gpucore.Aspect{r.Aspect}
	}
	var out []gpucore.Aspect
	if r.Aspect&gpucore.AspectDepth != 0 {
		out = append(out, gpucore.AspectDepth)
	}
	if r.Aspect&gpucore.AspectStencil != 0 {
		out = append(out, gpucore.AspectStencil)
	}
	return out
}

// SubresourceLayout returns the layout of one subresource.
func (l *ImageLayout) SubresourceLayout(mip, layer uint32, aspect gpucore.Aspect) gpucore.ImageLayout {
	if len(l.overrides) == 0 {
		return l.main
	}
	return l.overrides[l.index(l.planeOf(aspect), layer, mip)]
}

// Set writes newLayout to a range that has already been resolved against
// the image. A range covering the whole image collapses the record.
func (l *ImageLayout) Set(newLayout gpucore.ImageLayout, r gpucore.SubresourceRange) {
	if r.Aspect == 0 || r.MipLevelCount == 0 || r.ArrayLayerCount == 0 {
		return
	}
	all := r.Aspect
	if l.planes == 2 {
		all = gpucore.AspectDepthStencil
	}
	if r.Covers(l.mips, l.layers, all) {
		l.main = newLayout
		l.overrides = nil
		return
	}
	if len(l.overrides) == 0 {
		if l.main == newLayout {
			return
		}
		l.overrides = make([]gpucore.ImageLayout, l.planes*l.layers*l.mips)
		for i := range l.overrides {
			l.overrides[i] = l.main
		}
	}
	for _, a := range l.rangeAspects(r) {
		p := l.planeOf(a)
		for layer := r.BaseArrayLayer; layer < r.BaseArrayLayer+r.ArrayLayerCount; layer++ {
			for mip := r.BaseMipLevel; mip < r.BaseMipLevel+r.MipLevelCount; mip++ {
				l.overrides[l.index(p, layer, mip)] = newLayout
			}
		}
	}
	l.CollapseSubresLayoutsIfSame()
}

// CollapseSubresLayoutsIfSame restores the uniform representation when
// every override is equal. It reports whether the record is uniform.
func (l *ImageLayout) CollapseSubresLayoutsIfSame() bool {
	if len(l.overrides) == 0 {
		return true
	}
	first := l.overrides[0]
	for _, v := range l.overrides[1:] {
		if v != first {
			return false
		}
	}
	l.main = first
	l.overrides = nil
	return true
}

// Clone returns a deep copy.
func (l ImageLayout) Clone() ImageLayout {
	if l.overrides != nil {
		l.overrides = append([]gpucore.ImageLayout(nil), l.overrides...)
	}
	return l
}

// LayoutManager maps images to their tracked layouts.
//
// A manager may have a fallback manager, usually the queue-level one,
// consulted on a miss; found entries are copied locally. A write-only
// manager only accumulates layouts to hand over with TransferTo and is
// never used as a fallback.
type LayoutManager struct {
	mu sync.RWMutex

	layouts   map[gpucore.TextureID]*ImageLayout
	fallback  *LayoutManager
	writeOnly bool
}

// NewLayoutManager creates a layout manager. A write-only fallback is
// rejected and replaced by none.
func NewLayoutManager(writeOnly bool, fallback *LayoutManager) *LayoutManager {
	if fallback != nil && fallback.writeOnly {
		_ = violation(ErrInvalidState, "write-only layout manager used as a fallback")
		fallback = nil
	}
	return &LayoutManager{
		layouts:   make(map[gpucore.TextureID]*ImageLayout),
		fallback:  fallback,
		writeOnly: writeOnly,
	}
}

// WriteOnly reports whether the manager is write-only.
func (m *LayoutManager) WriteOnly() bool { return m.writeOnly }

// Len returns the number of locally tracked images.
func (m *LayoutManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layouts)
}

// GetLayout returns a copy of the image's layout. On a miss in both this
// manager and its fallback, addIfMissing seeds a uniform entry at
// defaultLayout; otherwise ok is false.
func (m *LayoutManager) GetLayout(img Image, addIfMissing bool, defaultLayout gpucore.ImageLayout) (ImageLayout, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lookupLocked(img, addIfMissing, defaultLayout)
	if l == nil {
		return ImageLayout{}, false
	}
	return l.Clone(), true
}

// lookupLocked returns the local entry, copying it in from the fallback on
// a miss.
func (m *LayoutManager) lookupLocked(img Image, addIfMissing bool, defaultLayout gpucore.ImageLayout) *ImageLayout {
	id := img.ID()
	if l, ok := m.layouts[id]; ok {
		return l
	}
	if m.fallback != nil {
		if l, ok := m.fallback.get(id); ok {
			m.layouts[id] = &l
			return &l
		}
	}
	if !addIfMissing {
		return nil
	}
	l := NewImageLayout(defaultLayout, img.MipLevels(), img.ArrayLayers(), img.Aspects())
	m.layouts[id] = &l
	return &l
}

func (m *LayoutManager) get(id gpucore.TextureID) (ImageLayout, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layouts[id]
	if !ok {
		return ImageLayout{}, false
	}
	return l.Clone(), true
}

// SetLayout sets the layout of a subresource range, adding the image at
// Undefined first if it is unknown.
func (m *LayoutManager) SetLayout(img Image, newLayout gpucore.ImageLayout, r gpucore.SubresourceRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lookupLocked(img, true, gpucore.LayoutUndefined)
	l.Set(newLayout, r.Resolve(l.mips, l.layers, img.Aspects()))
}

// Erase forgets an image. Destroyed images are erased, not transitioned.
func (m *LayoutManager) Erase(id gpucore.TextureID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.layouts, id)
}

// TransferTo moves every local entry into other, replacing other's entry
// for the same image, and leaves this manager empty.
func (m *LayoutManager) TransferTo(other *LayoutManager) {
	if other == m {
		return
	}
	m.mu.Lock()
	moved := m.layouts
	m.layouts = make(map[gpucore.TextureID]*ImageLayout)
	m.mu.Unlock()

	if len(moved) == 0 {
		return
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	for id, l := range moved {
		other.layouts[id] = l
	}
}

// Clear drops every local entry.
func (m *LayoutManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.layouts)
}
