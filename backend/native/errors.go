package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/rhi/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// Package errors for the HAL adapter.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("native: adapter closed")

	// ErrNoHAL is returned by FromProvider when the provider does not
	// expose its HAL device and queue.
	ErrNoHAL = errors.New("native: provider does not expose HAL types")

	// ErrOutOfMemory wraps native allocation failures.
	ErrOutOfMemory = errors.New("native: out of device memory")
)

// translateError maps HAL errors onto the gpucore and package sentinels so
// that callers can use errors.Is without importing the HAL.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("%w: %w", gpucore.ErrDeviceLost, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	default:
		return err
	}
}
