//go:build !(js && wasm)

package native

import (
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/wgpu/hal/noop"
)

func init() {
	backend.Register(backend.Noop, func() (backend.Adapter, error) {
		return OpenNoop()
	})
}

// OpenNoop opens a device on the HAL noop backend. Every submission
// completes immediately and nothing is drawn, which makes it suitable for
// tests and headless tooling.
func OpenNoop() (*HALAdapter, error) {
	return openHAL(noop.API{})
}
