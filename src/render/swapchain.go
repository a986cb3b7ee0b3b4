package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// PresentationChain owns the swapchain, its image views and the
// framebuffers bound to them. It is the only component the resize path
// rebuilds; everything above keeps its handles.
type PresentationChain struct {
	dc      *DeviceContext
	surface Surface
	pass    *RenderPass
	mode    PresentMode

	chain        vulkan.Swapchain
	format       vulkan.SurfaceFormat
	extent       vulkan.Extent2D
	images       []vulkan.Image
	views        []vulkan.ImageView
	framebuffers []*Framebuffer

	depth     *GpuImage
	depthView vulkan.ImageView
	alloc     *Allocator

	// acquired tracks which image index, if any, this chain owes a
	// present for. Acquiring twice without presenting is a protocol
	// violation.
	acquired    int
	hasAcquired bool

	logger *slog.Logger
}

// chooseSurfaceFormat prefers 8-bit sRGB BGRA, the format presentation
// engines universally support; otherwise the first advertised format.
func chooseSurfaceFormat(formats []vulkan.SurfaceFormat) vulkan.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vulkan.FormatB8g8r8a8Srgb && f.ColorSpace == vulkan.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

// choosePresentMode maps the requested policy onto what the surface
// supports. Fifo is the guaranteed fallback.
func choosePresentMode(available []vulkan.PresentMode, requested PresentMode) vulkan.PresentMode {
	want := requested.preferred()
	for _, m := range available {
		if m == want {
			return m
		}
	}
	return vulkan.PresentModeFifo
}

// chooseImageCount asks for one image beyond the minimum so acquire
// rarely blocks on the presentation engine, clamped to the surface max.
func chooseImageCount(caps vulkan.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// chooseExtent resolves the swap extent: the surface's current extent
// when fixed, otherwise the drawable size clamped to the surface bounds.
func chooseExtent(caps vulkan.SurfaceCapabilities, width, height uint32) vulkan.Extent2D {
	if caps.CurrentExtent.Width != vulkan.MaxUint32 {
		return caps.CurrentExtent
	}
	clamp := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return vulkan.Extent2D{
		Width:  clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// NewPresentationChain builds the swapchain against the surface's
// current extent, creating views, the depth buffer and framebuffers for
// every presentation image.
func NewPresentationChain(dc *DeviceContext, surface Surface, alloc *Allocator, pass *RenderPass, mode PresentMode) (*PresentationChain, error) {
	pc := &PresentationChain{
		dc:       dc,
		surface:  surface,
		pass:     pass,
		mode:     mode,
		alloc:    alloc,
		acquired: -1,
		logger:   dc.logger.With("component", "presentation"),
	}
	if err := pc.build(); err != nil {
		return nil, err
	}
	return pc, nil
}

func (pc *PresentationChain) build() error {
	dc := pc.dc

	var caps vulkan.SurfaceCapabilities
	if err := NewError("vkGetPhysicalDeviceSurfaceCapabilities",
		vulkan.GetPhysicalDeviceSurfaceCapabilities(dc.physical, dc.surface, &caps)); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(dc.physical, dc.surface, &formatCount, nil)
	formats := make([]vulkan.SurfaceFormat, formatCount)
	vulkan.GetPhysicalDeviceSurfaceFormats(dc.physical, dc.surface, &formatCount, formats)
	for i := range formats {
		formats[i].Deref()
	}
	if len(formats) == 0 {
		return errors.Wrap(ErrNoSuitableDevice, "surface advertises no formats")
	}

	var modeCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(dc.physical, dc.surface, &modeCount, nil)
	modes := make([]vulkan.PresentMode, modeCount)
	vulkan.GetPhysicalDeviceSurfacePresentModes(dc.physical, dc.surface, &modeCount, modes)

	w, h := pc.surface.Extent()
	pc.format = chooseSurfaceFormat(formats)
	pc.extent = chooseExtent(caps, w, h)
	presentMode := choosePresentMode(modes, pc.mode)
	imageCount := chooseImageCount(caps)

	info := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          dc.surface,
		MinImageCount:    imageCount,
		ImageFormat:      pc.format.Format,
		ImageColorSpace:  pc.format.ColorSpace,
		ImageExtent:      pc.extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vulkan.True,
		OldSwapchain:     vulkan.NullSwapchain,
	}
	if dc.families.graphics != dc.families.present {
		info.ImageSharingMode = vulkan.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{
			uint32(dc.families.graphics), uint32(dc.families.present),
		}
	} else {
		info.ImageSharingMode = vulkan.SharingModeExclusive
	}

	var chain vulkan.Swapchain
	if err := NewError("vkCreateSwapchain", vulkan.CreateSwapchain(dc.device, &info, nil, &chain)); err != nil {
		return err
	}
	pc.chain = chain

	var count uint32
	vulkan.GetSwapchainImages(dc.device, pc.chain, &count, nil)
	pc.images = make([]vulkan.Image, count)
	vulkan.GetSwapchainImages(dc.device, pc.chain, &count, pc.images)

	pc.views = make([]vulkan.ImageView, count)
	for i, img := range pc.images {
		viewInfo := vulkan.ImageViewCreateInfo{
			SType:    vulkan.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vulkan.ImageViewType2d,
			Format:   pc.format.Format,
			SubresourceRange: vulkan.ImageSubresourceRange{
				AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if err := NewError("vkCreateImageView",
			vulkan.CreateImageView(dc.device, &viewInfo, nil, &pc.views[i])); err != nil {
			pc.teardown()
			return err
		}
	}

	if err := pc.buildDepth(); err != nil {
		pc.teardown()
		return err
	}

	pc.framebuffers = make([]*Framebuffer, count)
	for i := range pc.views {
		fb, err := dc.NewFramebuffer(pc.pass, []vulkan.ImageView{pc.views[i], pc.depthView}, pc.extent)
		if err != nil {
			pc.teardown()
			return err
		}
		pc.framebuffers[i] = fb
	}

	pc.logger.Info("presentation chain ready",
		"extent", pc.extent, "images", count, "mode", presentMode)
	return nil
}

func (pc *PresentationChain) buildDepth() error {
	depth, err := pc.alloc.AllocateImage(pc.extent, vulkan.FormatD32Sfloat,
		vulkan.ImageUsageFlags(vulkan.ImageUsageDepthStencilAttachmentBit), 1)
	if err != nil {
		return errors.Wrap(err, "allocating depth buffer")
	}
	pc.depth = depth

	viewInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    depth.image,
		ViewType: vulkan.ImageViewType2d,
		Format:   vulkan.FormatD32Sfloat,
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	return NewError("vkCreateImageView",
		vulkan.CreateImageView(pc.dc.device, &viewInfo, nil, &pc.depthView))
}

// AcquireNextImage blocks until the presentation engine releases an
// image, signalling sem when the image is actually ready for rendering.
// Timeout expiry maps to ErrAcquireTimeout, surface invalidation to
// ErrOutOfDate.
func (pc *PresentationChain) AcquireNextImage(timeoutNs uint64, sem vulkan.Semaphore) (int, error) {
	if pc.hasAcquired {
		return -1, errors.New("render: image acquired twice without a present")
	}
	var index uint32
	ret := vulkan.AcquireNextImage(pc.dc.device, pc.chain, timeoutNs, sem, vulkan.NullFence, &index)
	// Suboptimal still delivers a usable image; the caller rebuilds on
	// the next explicit resize signal.
	if ret != vulkan.Success && ret != vulkan.Suboptimal {
		return -1, NewError("vkAcquireNextImage", ret)
	}
	pc.acquired = int(index)
	pc.hasAcquired = true
	return int(index), nil
}

// Present queues the owed image for display, waiting on sem for render
// completion. The acquire obligation is cleared even when presentation
// reports out-of-date, since the image is consumed either way.
func (pc *PresentationChain) Present(imageIndex int, sem vulkan.Semaphore) error {
	if !pc.hasAcquired || pc.acquired != imageIndex {
		return errors.Newf("render: presenting image %d that was not acquired", imageIndex)
	}
	pc.hasAcquired = false
	pc.acquired = -1

	idx := uint32(imageIndex)
	info := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{pc.chain},
		PImageIndices:      []uint32{idx},
	}
	ret := vulkan.QueuePresent(pc.dc.presentQueue, &info)
	if ret != vulkan.Success && ret != vulkan.Suboptimal {
		return NewError("vkQueuePresent", ret)
	}
	return nil
}

// Recreate tears the chain down and rebuilds it against the surface's
// current extent. The device is idled first so no in-flight frame still
// references the old images. Zero-extent surfaces (minimized windows)
// report ErrOutOfDate so the caller keeps waiting.
func (pc *PresentationChain) Recreate() error {
	w, h := pc.surface.Extent()
	if w == 0 || h == 0 {
		return errors.Wrap(ErrOutOfDate, "surface has zero extent")
	}
	if err := pc.dc.WaitIdle(); err != nil {
		return err
	}
	pc.teardown()
	pc.logger.Info("rebuilding presentation chain", "width", w, "height", h)
	return pc.build()
}

// Extent returns the current swap extent.
func (pc *PresentationChain) Extent() vulkan.Extent2D { return pc.extent }

// Format returns the selected surface format.
func (pc *PresentationChain) Format() vulkan.Format { return pc.format.Format }

// ImageCount returns the number of presentation images.
func (pc *PresentationChain) ImageCount() int { return len(pc.images) }

// Framebuffer returns the framebuffer bound to one presentation image.
func (pc *PresentationChain) Framebuffer(imageIndex int) *Framebuffer {
	return pc.framebuffers[imageIndex]
}

func (pc *PresentationChain) teardown() {
	dc := pc.dc
	for _, fb := range pc.framebuffers {
		fb.Destroy(dc)
	}
	pc.framebuffers = nil
	if pc.depthView != vulkan.NullImageView {
		vulkan.DestroyImageView(dc.device, pc.depthView, nil)
		pc.depthView = vulkan.NullImageView
	}
	if pc.depth != nil {
		pc.alloc.ReleaseImage(pc.depth)
		pc.depth = nil
	}
	for _, v := range pc.views {
		if v != vulkan.NullImageView {
			vulkan.DestroyImageView(dc.device, v, nil)
		}
	}
	pc.views = nil
	if pc.chain != vulkan.NullSwapchain {
		vulkan.DestroySwapchain(dc.device, pc.chain, nil)
		pc.chain = vulkan.NullSwapchain
	}
	pc.hasAcquired = false
	pc.acquired = -1
}

// Destroy releases the swapchain and everything derived from it.
func (pc *PresentationChain) Destroy() {
	if pc == nil {
		return
	}
	pc.teardown()
}
