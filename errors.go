package rhi

import (
	"errors"
	"fmt"
)

// Package errors.
var (
	// ErrNilAdapter is returned when creating a device without an adapter.
	ErrNilAdapter = errors.New("rhi: adapter is nil")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("rhi: device closed")

	// ErrDeviceLost is returned once the GPU device is lost: a native fence
	// query failed or fence waits timed out repeatedly.
	ErrDeviceLost = errors.New("rhi: GPU device lost")

	// ErrOutOfMemory wraps native allocation failures. There is no degraded
	// path once GPU memory is unavailable.
	ErrOutOfMemory = errors.New("rhi: native allocation failed")

	// ErrMemoryBudgetExceeded is returned when an allocation would exceed
	// the configured memory budget.
	ErrMemoryBudgetExceeded = errors.New("rhi: memory budget exceeded")

	// ErrInvalidState is returned when an operation is not legal in the
	// current state of the object it targets.
	ErrInvalidState = errors.New("rhi: invalid state")

	// ErrDoubleEnqueue is returned when a resource is queued for deferred
	// deletion twice.
	ErrDoubleEnqueue = errors.New("rhi: resource already queued for deletion")

	// ErrResourceLocked is returned when locking an already locked
	// multi-buffered resource.
	ErrResourceLocked = errors.New("rhi: resource already locked")

	// ErrResourceNotLocked is returned when unlocking a resource that is not locked.
	ErrResourceNotLocked = errors.New("rhi: resource not locked")

	// ErrNoAllocation is returned when reading a multi-buffered resource
	// that has never been written.
	ErrNoAllocation = errors.New("rhi: resource has no current allocation")

	// ErrFenceTimeout is returned when a blocking wait on the GPU times out.
	ErrFenceTimeout = errors.New("rhi: timed out waiting for fence")

	// ErrReleased is returned when using an object after its release.
	ErrReleased = errors.New("rhi: object already released")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("rhi: invalid config")
)

// StateError reports a command buffer operation attempted in the wrong state.
type StateError struct {
	Op    string
	State CommandBufferState
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("rhi: %s not allowed in command buffer state %s", e.Op, e.State)
}

// Unwrap returns ErrInvalidState so callers can use errors.Is.
func (e *StateError) Unwrap() error { return ErrInvalidState }

// violation reports a protocol violation: calling an operation in the wrong
// state, double-enqueueing a deletion, double-locking a resource.
//
// Release builds log and return err so the caller can continue best-effort.
// Builds with the rhidebug tag panic instead.
func violation(err error, msg string, args ...any) error {
	Logger().Warn("rhi: protocol violation: "+msg, append(args, "err", err)...)
	if debugAsserts {
		panic(err)
	}
	return err
}
