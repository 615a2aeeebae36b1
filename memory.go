package rhi

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/gpucore"
)

// MemoryStats contains GPU memory usage statistics.
type MemoryStats struct {
	// TotalBytes is the memory budget in bytes; 0 means unlimited.
	TotalBytes uint64

	// UsedBytes is the memory held by live buffers and textures, including
	// resources waiting in the deferred deletion queue.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	// BufferCount and TextureCount are the live resource counts.
	BufferCount  int
	TextureCount int

	// Utilization is UsedBytes/TotalBytes, or 0 without a budget.
	Utilization float64
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d MB, peak %d MB, %d buffers, %d textures]",
		s.Utilization*100,
		s.UsedBytes/(1024*1024),
		s.TotalBytes/(1024*1024),
		s.PeakBytes/(1024*1024),
		s.BufferCount,
		s.TextureCount)
}

// memoryTracker accounts for the bytes behind native handles and enforces
// an optional budget. Bytes are returned when the deletion queue actually
// destroys a handle, not when it is enqueued.
type memoryTracker struct {
	mu sync.Mutex

	budgetBytes uint64
	usedBytes   uint64
	peakBytes   uint64

	sizes    map[deletionKey]uint64
	buffers  int
	textures int
}

func newMemoryTracker(budgetMB uint64) *memoryTracker {
	return &memoryTracker{
		budgetBytes: budgetMB * 1024 * 1024,
		sizes:       make(map[deletionKey]uint64),
	}
}

// reserve claims size bytes ahead of a native allocation.
func (m *memoryTracker) reserve(size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.budgetBytes > 0 && m.usedBytes+size > m.budgetBytes {
		return fmt.Errorf("%w: need %d bytes, have %d bytes available",
			ErrMemoryBudgetExceeded, size, m.budgetBytes-m.usedBytes)
	}
	m.usedBytes += size
	m.peakBytes = max(m.peakBytes, m.usedBytes)
	return nil
}

// unreserve returns bytes claimed for an allocation that failed.
func (m *memoryTracker) unreserve(size uint64) {
	m.mu.Lock()
	m.usedBytes -= min(size, m.usedBytes)
	m.mu.Unlock()
}

// bind attaches reserved bytes to a created handle.
func (m *memoryTracker) bind(kind gpucore.ResourceKind, handle, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes[deletionKey{kind: kind, handle: handle}] = size
	switch kind {
	case gpucore.ResourceBuffer:
		m.buffers++
	case gpucore.ResourceTexture:
		m.textures++
	}
}

// release returns a destroyed handle's bytes. Unknown handles are ignored.
func (m *memoryTracker) release(kind gpucore.ResourceKind, handle uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deletionKey{kind: kind, handle: handle}
	size, ok := m.sizes[key]
	if !ok {
		return
	}
	delete(m.sizes, key)
	m.usedBytes -= min(size, m.usedBytes)
	switch kind {
	case gpucore.ResourceBuffer:
		m.buffers--
	case gpucore.ResourceTexture:
		m.textures--
	}
}

func (m *memoryTracker) stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var utilization float64
	if m.budgetBytes > 0 {
		utilization = float64(m.usedBytes) / float64(m.budgetBytes)
	}
	return MemoryStats{
		TotalBytes:   m.budgetBytes,
		UsedBytes:    m.usedBytes,
		PeakBytes:    m.peakBytes,
		BufferCount:  m.buffers,
		TextureCount: m.textures,
		Utilization:  utilization,
	}
}

// bytesPerTexel is an estimate used for budget accounting only.
func bytesPerTexel(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// textureBytes estimates the memory behind a texture, mip chain included.
func textureBytes(d *gpucore.TextureDesc) uint64 {
	base := uint64(max(d.Width, 1)) * uint64(max(d.Height, 1)) * uint64(d.Layers()) * bytesPerTexel(d.Format)
	total := base
	for mip := uint32(1); mip < d.Mips(); mip++ {
		base /= 4
		total += max(base, 1)
	}
	return total
}
