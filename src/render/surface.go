package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
)

// Surface is the windowing boundary. The compositor or window system owns
// the native handle; the renderer only asks it for a vulkan surface, the
// current dimensions and resize notifications. Nothing flows back to the
// window system except implicit presentation.
type Surface interface {
	// InstanceExtensions returns the instance extensions the platform
	// needs for surface creation, null-terminated as the API expects.
	InstanceExtensions() []string

	// CreateSurface creates the vulkan surface for this window.
	CreateSurface(instance vulkan.Instance) (vulkan.Surface, error)

	// Extent returns the current drawable size in pixels.
	Extent() (width, height uint32)

	// OnResize registers a callback invoked when the drawable size
	// changes. Registration is permanent for the surface's lifetime.
	OnResize(fn func(width, height uint32))
}

// RawImage is a decoded pixel buffer handed in by an external loader:
// tightly packed 8-bit RGBA, row-major.
type RawImage struct {
	Width  uint32
	Height uint32
	Pix    []byte
}

func (r RawImage) validate() error {
	if r.Width == 0 || r.Height == 0 {
		return errors.Newf("render: empty image %dx%d", r.Width, r.Height)
	}
	if want := int(r.Width) * int(r.Height) * 4; len(r.Pix) != want {
		return errors.Newf("render: image data is %d bytes, want %d", len(r.Pix), want)
	}
	return nil
}
