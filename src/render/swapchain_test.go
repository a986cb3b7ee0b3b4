package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

func TestChooseSurfaceFormat(t *testing.T) {
	srgb := vulkan.SurfaceFormat{
		Format:     vulkan.FormatB8g8r8a8Srgb,
		ColorSpace: vulkan.ColorSpaceSrgbNonlinear,
	}
	unorm := vulkan.SurfaceFormat{
		Format:     vulkan.FormatB8g8r8a8Unorm,
		ColorSpace: vulkan.ColorSpaceSrgbNonlinear,
	}

	for idx, tc := range []struct {
		formats []vulkan.SurfaceFormat
		want    vulkan.SurfaceFormat
	}{
		{[]vulkan.SurfaceFormat{srgb}, srgb},
		{[]vulkan.SurfaceFormat{unorm, srgb}, srgb},
		{[]vulkan.SurfaceFormat{unorm}, unorm},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			require.Equal(t, tc.want, chooseSurfaceFormat(tc.formats))
		})
	}
}

func TestChoosePresentMode(t *testing.T) {
	for idx, tc := range []struct {
		available []vulkan.PresentMode
		requested PresentMode
		want      vulkan.PresentMode
	}{
		{[]vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeMailbox}, PresentAdaptive, vulkan.PresentModeMailbox},
		{[]vulkan.PresentMode{vulkan.PresentModeFifo}, PresentAdaptive, vulkan.PresentModeFifo},
		{[]vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeImmediate}, PresentImmediate, vulkan.PresentModeImmediate},
		{[]vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeMailbox}, PresentVsync, vulkan.PresentModeFifo},
		// Nothing requested is available: Fifo is the guaranteed fallback.
		{[]vulkan.PresentMode{vulkan.PresentModeFifoRelaxed}, PresentImmediate, vulkan.PresentModeFifo},
	} {
		t.Run(fmt.Sprintf("%d/%s", idx, tc.requested), func(t *testing.T) {
			require.Equal(t, tc.want, choosePresentMode(tc.available, tc.requested))
		})
	}
}

func TestChooseImageCount(t *testing.T) {
	for idx, tc := range []struct {
		min, max uint32
		want     uint32
	}{
		{2, 0, 3},
		{2, 8, 3},
		{2, 3, 3},
		// Min+1 exceeds the surface max: clamp.
		{3, 3, 3},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			caps := vulkan.SurfaceCapabilities{MinImageCount: tc.min, MaxImageCount: tc.max}
			require.Equal(t, tc.want, chooseImageCount(caps))
		})
	}
}

func TestChooseExtent(t *testing.T) {
	bounded := vulkan.SurfaceCapabilities{
		CurrentExtent:  vulkan.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vulkan.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vulkan.Extent2D{Width: 4096, Height: 4096},
	}
	free := bounded
	free.CurrentExtent = vulkan.Extent2D{Width: vulkan.MaxUint32, Height: vulkan.MaxUint32}

	for idx, tc := range []struct {
		caps vulkan.SurfaceCapabilities
		w, h uint32
		want vulkan.Extent2D
	}{
		// A fixed surface extent wins over the drawable size.
		{bounded, 1024, 768, vulkan.Extent2D{Width: 800, Height: 600}},
		{free, 1024, 768, vulkan.Extent2D{Width: 1024, Height: 768}},
		{free, 10000, 10000, vulkan.Extent2D{Width: 4096, Height: 4096}},
		{free, 0, 0, vulkan.Extent2D{Width: 1, Height: 1}},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			require.Equal(t, tc.want, chooseExtent(tc.caps, tc.w, tc.h))
		})
	}
}

func TestRebuildSelectionStable(t *testing.T) {
	// Rebuilding against an unchanged surface must land on the same
	// configuration: Recreate at a fixed extent keeps image count,
	// format, present mode, and extent.
	caps := vulkan.SurfaceCapabilities{
		MinImageCount:  2,
		MaxImageCount:  8,
		CurrentExtent:  vulkan.Extent2D{Width: 1280, Height: 720},
		MinImageExtent: vulkan.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vulkan.Extent2D{Width: 4096, Height: 4096},
	}
	formats := []vulkan.SurfaceFormat{
		{Format: vulkan.FormatB8g8r8a8Unorm, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
		{Format: vulkan.FormatB8g8r8a8Srgb, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
	}
	modes := []vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeMailbox}

	require.Equal(t, chooseSurfaceFormat(formats), chooseSurfaceFormat(formats))
	require.Equal(t, choosePresentMode(modes, PresentAdaptive), choosePresentMode(modes, PresentAdaptive))
	require.Equal(t, chooseImageCount(caps), chooseImageCount(caps))
	require.Equal(t, chooseExtent(caps, 1280, 720), chooseExtent(caps, 1280, 720))
}

func TestPresentModeString(t *testing.T) {
	require.Equal(t, "adaptive", PresentAdaptive.String())
	require.Equal(t, "vsync", PresentVsync.String())
	require.Equal(t, "immediate", PresentImmediate.String())
}
