package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
)

// Error taxonomy of the renderer. Every vulkan.Result that crosses a
// component boundary is translated into one of these sentinels (or a plain
// wrapped error for codes without special handling) so callers never match
// on raw API codes.
var (
	// ErrNoSuitableDevice is returned when no physical device satisfies the
	// mandatory queue, extension and feature requirements.
	ErrNoSuitableDevice = errors.New("render: no suitable device")

	// ErrOutOfDeviceMemory and ErrOutOfHostMemory flag a failed allocation.
	// Non-retryable for the requested size, not fatal to the renderer.
	ErrOutOfDeviceMemory = errors.New("render: out of device memory")
	ErrOutOfHostMemory   = errors.New("render: out of host memory")

	// ErrInvalidShaderBinary is returned for malformed SPIR-V input.
	ErrInvalidShaderBinary = errors.New("render: invalid shader binary")

	// ErrOutOfDate signals that the surface no longer matches the
	// presentation chain. Recovered by recreating the chain and retrying
	// the frame, never surfaced to callers as fatal.
	ErrOutOfDate = errors.New("render: presentation chain out of date")

	// ErrAcquireTimeout is returned when the presentation backend did not
	// deliver an image within the configured timeout. The frame is retried.
	ErrAcquireTimeout = errors.New("render: image acquisition timed out")

	// ErrDeviceLost is fatal. All GPU resources are unusable and the only
	// recovery is full renderer teardown and reinitialization.
	ErrDeviceLost = errors.New("render: device lost")
)

// NewError translates a vulkan result code into the renderer taxonomy,
// attaching the operation that produced it. Returns nil on success. The
// sentinel sits in the unwrap chain, so plain errors.Is matches without
// this package's error machinery.
func NewError(op string, ret vulkan.Result) error {
	if ret == vulkan.Success {
		return nil
	}
	var sentinel error
	switch ret {
	case vulkan.ErrorOutOfDate, vulkan.ErrorSurfaceLost:
		sentinel = ErrOutOfDate
	case vulkan.ErrorDeviceLost:
		sentinel = ErrDeviceLost
	case vulkan.ErrorOutOfDeviceMemory:
		sentinel = ErrOutOfDeviceMemory
	case vulkan.ErrorOutOfHostMemory:
		sentinel = ErrOutOfHostMemory
	case vulkan.Timeout, vulkan.NotReady:
		sentinel = ErrAcquireTimeout
	}
	if sentinel != nil {
		return errors.Wrapf(sentinel, "render: %s: %v (%d)", op, vulkan.Error(ret), int32(ret))
	}
	return errors.Newf("render: %s: %v (%d)", op, vulkan.Error(ret), int32(ret))
}

// IsError reports whether a vulkan result code requires translation.
func IsError(ret vulkan.Result) bool {
	return ret != vulkan.Success
}

// isFatal reports whether an error leaves the renderer unusable.
func isFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}

// isRecoverableFrameError reports whether a frame error is handled locally
// by the orchestrator instead of being surfaced to the caller.
func isRecoverableFrameError(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrAcquireTimeout)
}
