package rhi

import (
	"time"

	"github.com/gogpu/rhi/gpucore"
)

// DeviceOption configures a Device during creation.
// Use functional options to customize Device behavior.
//
// Example:
//
//	// Default tuning, graphics queue only
//	dev, err := rhi.NewDevice(adapter)
//
//	// Deeper frame pipelining and an extra transfer queue
//	dev, err := rhi.NewDevice(adapter,
//	    rhi.WithDeletionFrameMargin(3),
//	    rhi.WithQueues(gpucore.QueueGraphics, gpucore.QueueTransfer))
type DeviceOption func(*deviceOptions)

// deviceOptions holds optional configuration for Device creation.
type deviceOptions struct {
	config Config
	queues []gpucore.QueueType
}

// defaultOptions returns the default device options.
func defaultOptions() deviceOptions {
	return deviceOptions{
		config: DefaultConfig(),
		queues: []gpucore.QueueType{gpucore.QueueGraphics},
	}
}

// WithConfig replaces every tuning value at once, typically with the result
// of LoadConfig.
func WithConfig(cfg Config) DeviceOption {
	return func(o *deviceOptions) {
		o.config = cfg
	}
}

// WithDeletionFrameMargin sets how many frames deferred deletions wait.
func WithDeletionFrameMargin(frames uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.config.DeletionFrameMargin = frames
	}
}

// WithMaxBufferedAllocations caps ring growth of multi-buffered resources.
func WithMaxBufferedAllocations(n int) DeviceOption {
	return func(o *deviceOptions) {
		o.config.MaxBufferedAllocations = n
	}
}

// WithFenceTimeout bounds fence waits issued by the core.
func WithFenceTimeout(d time.Duration) DeviceOption {
	return func(o *deviceOptions) {
		o.config.FenceTimeoutMS = d.Milliseconds()
	}
}

// WithDeviceLostTimeouts sets the number of consecutive fence timeouts that
// mark the device as lost.
func WithDeviceLostTimeouts(n int) DeviceOption {
	return func(o *deviceOptions) {
		o.config.DeviceLostTimeouts = n
	}
}

// WithCommandBufferIdleFrames sets how long unused command buffers keep
// their native memory.
func WithCommandBufferIdleFrames(frames uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.config.CommandBufferIdleFrames = frames
	}
}

// WithMemoryBudget limits live buffer and texture memory, in MiB.
func WithMemoryBudget(megabytes uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.config.MemoryBudgetMB = megabytes
	}
}

// WithQueues selects which queues the device creates. Each queue gets an
// immediate context. Duplicates are ignored.
func WithQueues(queues ...gpucore.QueueType) DeviceOption {
	return func(o *deviceOptions) {
		if len(queues) > 0 {
			o.queues = append([]gpucore.QueueType(nil), queues...)
		}
	}
}
