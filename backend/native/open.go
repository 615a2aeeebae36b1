//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/wgpu/hal"

	// Register Vulkan backend
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	backend.Register(backend.Native, func() (backend.Adapter, error) {
		return Open()
	})
}

// Open opens a device on the system Vulkan driver.
// Close the returned adapter once every rhi.Device built on it is closed.
func Open() (*HALAdapter, error) {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoGPU)
	}
	return openHAL(vk)
}
