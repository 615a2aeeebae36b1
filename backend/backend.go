package backend

import (
	"errors"
	"io"

	"github.com/gogpu/rhi/gpucore"
)

// Backend names.
const (
	// Native opens the system GPU through the gogpu/wgpu Vulkan HAL.
	Native = "native"

	// Noop opens the gogpu/wgpu noop HAL: work completes immediately and
	// nothing is drawn.
	Noop = "noop"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Adapter is a GPU adapter that owns native state and must be closed.
//
// Close must only be called once every rhi.Device built on the adapter has
// been closed.
type Adapter interface {
	gpucore.GPUAdapter
	io.Closer
}
