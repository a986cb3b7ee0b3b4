package render

import (
	"io"

	"github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// DefaultFramesInFlight bounds how far the CPU may run ahead of the GPU
// when the caller does not choose a pipelining depth.
const DefaultFramesInFlight = 2

// PresentMode selects how presented images are synchronized with the
// display.
type PresentMode int

const (
	// PresentAdaptive prefers low-latency presentation without tearing
	// (mailbox) and falls back to vsync where unsupported.
	PresentAdaptive PresentMode = iota
	// PresentVsync always waits for the vertical blank (fifo).
	PresentVsync
	// PresentImmediate presents without waiting, may tear.
	PresentImmediate
)

func (m PresentMode) String() string {
	switch m {
	case PresentAdaptive:
		return "adaptive"
	case PresentVsync:
		return "vsync"
	case PresentImmediate:
		return "immediate"
	}
	return "unknown"
}

// preferred maps the mode to the swapchain present mode asked of the
// platform. The chain falls back to fifo, the only mode the platform must
// support, when the preference is unavailable.
func (m PresentMode) preferred() vulkan.PresentMode {
	switch m {
	case PresentImmediate:
		return vulkan.PresentModeImmediate
	case PresentVsync:
		return vulkan.PresentModeFifo
	default:
		return vulkan.PresentModeMailbox
	}
}

// Features enumerates the device features the renderer understands.
// A Features value appears twice in Config: once for features the caller
// cannot run without and once for features that are merely nice to have.
type Features struct {
	SamplerAnisotropy bool
}

// intersect keeps only the features present in both sets.
func (f Features) intersect(supported Features) Features {
	return Features{
		SamplerAnisotropy: f.SamplerAnisotropy && supported.SamplerAnisotropy,
	}
}

// union merges two feature sets.
func (f Features) union(other Features) Features {
	return Features{
		SamplerAnisotropy: f.SamplerAnisotropy || other.SamplerAnisotropy,
	}
}

// missing reports the features in f that are absent from supported.
func (f Features) missing(supported Features) []string {
	var out []string
	if f.SamplerAnisotropy && !supported.SamplerAnisotropy {
		out = append(out, "samplerAnisotropy")
	}
	return out
}

// Config is the immutable startup configuration of the renderer.
type Config struct {
	// AppName is reported to the driver, nothing more.
	AppName string

	// FramesInFlight is the pipelining depth. Zero means
	// DefaultFramesInFlight.
	FramesInFlight int

	// PresentMode is the preferred presentation mode.
	PresentMode PresentMode

	// EnableValidation installs the API validation layers and routes their
	// diagnostics into Logger. Observability only; never alters behavior.
	EnableValidation bool

	// RequiredFeatures must be supported by the selected device, otherwise
	// device selection fails. OptionalFeatures are enabled only where
	// supported.
	RequiredFeatures Features
	OptionalFeatures Features

	// VertexShader and FragmentShader are precompiled SPIR-V modules for
	// the graphics pass. ComputeShader, when non-nil, enables the compute
	// pre-pass.
	VertexShader   []byte
	FragmentShader []byte
	ComputeShader  []byte

	// PipelineCachePath, when non-empty, persists the driver pipeline
	// cache across process runs.
	PipelineCachePath string

	// Logger receives structured renderer and validation-layer output.
	// Nil discards everything.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FramesInFlight <= 0 {
		c.FramesInFlight = DefaultFramesInFlight
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
