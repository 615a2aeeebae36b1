package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// halProvider is implemented by device providers that expose their HAL
// device and queue.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider builds an adapter on the device of an external provider
// (e.g. a gogpu window). The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
//
// The device stays owned by the provider: closing the adapter releases only
// the objects created through it.
func FromProvider(provider gpucontext.DeviceProvider) (*HALAdapter, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrNoHAL)
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}

	a := NewHALAdapter(device, queue, nil)
	info := provider.AdapterInfo()
	a.info = gputypes.AdapterInfo{
		Name:       info.Name,
		DeviceType: deviceType(info.Type),
	}
	slogger().Info("native: using provider device", "adapter", info.Name, "type", info.Type)
	return a, nil
}

func deviceType(t gpucontext.AdapterType) gputypes.DeviceType {
	switch t {
	case gpucontext.AdapterTypeDiscrete:
		return gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		return gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		return gputypes.DeviceTypeCPU
	default:
		return gputypes.DeviceTypeOther
	}
}
