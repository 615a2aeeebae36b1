package rhi

import (
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default tuning values.
const (
	// DefaultDeletionFrameMargin is the number of frames a deferred deletion
	// waits, on top of its fence, before the native object is destroyed.
	DefaultDeletionFrameMargin = 2

	// DefaultMaxBufferedAllocations caps the physical allocations behind one
	// multi-buffered resource.
	DefaultMaxBufferedAllocations = 8

	// DefaultFenceTimeout bounds blocking fence waits issued by the core.
	DefaultFenceTimeout = 5 * time.Second

	// DefaultDeviceLostTimeouts is the number of consecutive fence wait
	// timeouts after which the device is considered lost.
	DefaultDeviceLostTimeouts = 3

	// DefaultCommandBufferIdleFrames is how long a command buffer may sit
	// unused before its native memory is released.
	DefaultCommandBufferIdleFrames = 10
)

// Config holds the tuning constants of a Device. Their correct values depend
// on how deeply the host pipelines frames, so none of them is hardcoded.
type Config struct {
	// Backend names the registered backend Open uses (see package backend).
	// Empty selects the best available one.
	Backend string `toml:"backend"`

	// DeletionFrameMargin is the minimum number of frames between enqueueing
	// a deferred deletion and destroying the object.
	DeletionFrameMargin uint64 `toml:"deletion_frame_margin"`

	// MaxBufferedAllocations caps ring growth of multi-buffered resources.
	// Once reached, writers wait for the oldest pending allocation.
	MaxBufferedAllocations int `toml:"max_buffered_allocations"`

	// FenceTimeoutMS bounds fence waits issued by the core, in milliseconds.
	FenceTimeoutMS int64 `toml:"fence_timeout_ms"`

	// DeviceLostTimeouts is the number of consecutive fence timeouts that
	// mark the device as lost. Zero disables timeout-based detection.
	DeviceLostTimeouts int `toml:"device_lost_timeouts"`

	// CommandBufferIdleFrames is the number of frames an unused command
	// buffer keeps its native memory. Zero disables trimming.
	CommandBufferIdleFrames uint64 `toml:"command_buffer_idle_frames"`

	// MemoryBudgetMB limits the bytes of buffers and textures alive at once.
	// Zero means unlimited.
	MemoryBudgetMB uint64 `toml:"memory_budget_mb"`
}

// DefaultConfig returns the default tuning values.
func DefaultConfig() Config {
	return Config{
		DeletionFrameMargin:     DefaultDeletionFrameMargin,
		MaxBufferedAllocations:  DefaultMaxBufferedAllocations,
		FenceTimeoutMS:          DefaultFenceTimeout.Milliseconds(),
		DeviceLostTimeouts:      DefaultDeviceLostTimeouts,
		CommandBufferIdleFrames: DefaultCommandBufferIdleFrames,
	}
}

// FenceTimeout returns FenceTimeoutMS as a duration.
func (c Config) FenceTimeout() time.Duration {
	return time.Duration(c.FenceTimeoutMS) * time.Millisecond
}

// Validate reports values that cannot work.
func (c Config) Validate() error {
	if c.DeletionFrameMargin < 1 {
		return fmt.Errorf("%w: deletion_frame_margin must be at least 1", ErrInvalidConfig)
	}
	if c.MaxBufferedAllocations < 1 {
		return fmt.Errorf("%w: max_buffered_allocations must be at least 1", ErrInvalidConfig)
	}
	if c.FenceTimeoutMS <= 0 {
		return fmt.Errorf("%w: fence_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.DeviceLostTimeouts < 0 {
		return fmt.Errorf("%w: device_lost_timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a TOML document on top of DefaultConfig.
// Unknown keys are rejected.
//
// Example document:
//
//	backend = "native"
//	deletion_frame_margin = 3
//	max_buffered_allocations = 4
//	fence_timeout_ms = 2000
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("rhi: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
