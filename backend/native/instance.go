package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// openHAL creates an instance on the given HAL backend, picks an adapter and
// opens a device on it. Hardware GPUs are preferred; otherwise the first
// enumerated adapter is used.
func openHAL(backend hal.Backend) (*HALAdapter, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := selected.Capabilities.Limits
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", translateError(err))
	}

	a := NewHALAdapter(openDev.Device, openDev.Queue, &limits)
	a.instance = instance
	a.external = false
	a.info = selected.Info

	slogger().Info("native: device opened",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType,
		"backend", selected.Info.Backend)
	return a, nil
}
