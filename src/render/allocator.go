package render

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// MemoryPattern describes how an allocation will be accessed.
type MemoryPattern int

const (
	// GpuOnly lives in device-local memory, filled through a staging copy.
	GpuOnly MemoryPattern = iota
	// CpuToGpu prefers unified device-local, host-visible memory for
	// small frequently updated buffers (per-frame uniforms), falling back
	// to plain host-visible memory where the platform has no unified heap.
	CpuToGpu
	// GpuToCpu is host-visible memory the CPU reads back from.
	GpuToCpu
)

func (p MemoryPattern) String() string {
	switch p {
	case GpuOnly:
		return "gpu-only"
	case CpuToGpu:
		return "cpu-to-gpu"
	case GpuToCpu:
		return "gpu-to-cpu"
	}
	return "unknown"
}

// memoryType mirrors one entry of the device memory type table in plain
// data, keeping type selection testable without a device.
type memoryType struct {
	flags vulkan.MemoryPropertyFlags
}

func hasFlags(flags, want vulkan.MemoryPropertyFlags) bool {
	return flags&want == want
}

// pickMemoryType selects a memory type index for the pattern out of the
// types permitted by filter. Two passes: preferred properties first, then
// the minimum the pattern requires.
func pickMemoryType(types []memoryType, filter uint32, pattern MemoryPattern) (int, bool) {
	var required, preferred vulkan.MemoryPropertyFlags
	hostVisible := vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyHostVisibleBit | vulkan.MemoryPropertyHostCoherentBit)
	deviceLocal := vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyDeviceLocalBit)
	switch pattern {
	case GpuOnly:
		required = deviceLocal
		preferred = deviceLocal
	case CpuToGpu:
		required = hostVisible
		preferred = hostVisible | deviceLocal
	case GpuToCpu:
		required = hostVisible
		preferred = hostVisible | vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyHostCachedBit)
	}
	for _, want := range []vulkan.MemoryPropertyFlags{preferred, required} {
		for i, t := range types {
			if filter&(1<<uint(i)) == 0 {
				continue
			}
			if hasFlags(t.flags, want) {
				return i, true
			}
		}
	}
	return 0, false
}

// GpuBuffer is one device buffer plus its backing allocation. Owned by
// the caller; must be released explicitly and never while a pending GPU
// submission may still reference it.
type GpuBuffer struct {
	buffer  vulkan.Buffer
	memory  vulkan.DeviceMemory
	size    vulkan.DeviceSize
	usage   vulkan.BufferUsageFlags
	pattern MemoryPattern
	mapped  unsafe.Pointer
}

// Size returns the buffer size in bytes.
func (b *GpuBuffer) Size() vulkan.DeviceSize { return b.size }

// GpuImage is one device image plus its backing allocation.
type GpuImage struct {
	image     vulkan.Image
	memory    vulkan.DeviceMemory
	extent    vulkan.Extent2D
	format    vulkan.Format
	usage     vulkan.ImageUsageFlags
	mipLevels uint32
}

// Extent returns the image dimensions.
func (i *GpuImage) Extent() vulkan.Extent2D { return i.extent }

// Format returns the pixel format.
func (i *GpuImage) Format() vulkan.Format { return i.format }

// Allocator grants buffer and image allocations from the device. It keeps
// no per-object state; every allocation is owned by its caller and must be
// released before the allocator is destroyed.
type Allocator struct {
	dc     *DeviceContext
	types  []memoryType
	pool   vulkan.CommandPool
	logger *slog.Logger
}

// NewAllocator builds the allocation subsystem bound to the device,
// including the command pool used for one-shot transfer submissions.
func NewAllocator(dc *DeviceContext) (*Allocator, error) {
	var memProps vulkan.PhysicalDeviceMemoryProperties
	vulkan.GetPhysicalDeviceMemoryProperties(dc.physical, &memProps)
	memProps.Deref()

	types := make([]memoryType, memProps.MemoryTypeCount)
	for i := range types {
		t := memProps.MemoryTypes[i]
		t.Deref()
		types[i] = memoryType{flags: t.PropertyFlags}
	}

	// One-shot uploads also record layout barriers targeting shader
	// stages, which a dedicated transfer-only family cannot execute.
	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateTransientBit),
		QueueFamilyIndex: uint32(dc.families.graphics),
	}
	var pool vulkan.CommandPool
	if err := NewError("vkCreateCommandPool", vulkan.CreateCommandPool(dc.device, &poolInfo, nil, &pool)); err != nil {
		return nil, err
	}
	return &Allocator{dc: dc, types: types, pool: pool, logger: dc.logger}, nil
}

// AllocateBuffer creates a buffer and binds fresh memory matching the
// pattern. CpuToGpu and GpuToCpu buffers stay persistently mapped.
func (a *Allocator) AllocateBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, pattern MemoryPattern) (*GpuBuffer, error) {
	if size == 0 {
		return nil, errors.New("render: zero-sized buffer")
	}
	bufferInfo := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vulkan.SharingModeExclusive,
	}
	var buffer vulkan.Buffer
	if err := NewError("vkCreateBuffer", vulkan.CreateBuffer(a.dc.device, &bufferInfo, nil, &buffer)); err != nil {
		return nil, err
	}

	var reqs vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(a.dc.device, buffer, &reqs)
	reqs.Deref()

	memory, err := a.allocate(reqs, pattern)
	if err != nil {
		vulkan.DestroyBuffer(a.dc.device, buffer, nil)
		return nil, err
	}
	vulkan.BindBufferMemory(a.dc.device, buffer, memory, 0)

	b := &GpuBuffer{buffer: buffer, memory: memory, size: size, usage: usage, pattern: pattern}
	if pattern != GpuOnly {
		if err := NewError("vkMapMemory", vulkan.MapMemory(a.dc.device, memory, 0, size, 0, &b.mapped)); err != nil {
			a.ReleaseBuffer(b)
			return nil, err
		}
	}
	return b, nil
}

// AllocateImage creates a 2D image with bound device-local memory.
func (a *Allocator) AllocateImage(extent vulkan.Extent2D, format vulkan.Format, usage vulkan.ImageUsageFlags, mipLevels uint32) (*GpuImage, error) {
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Newf("render: zero-sized image %dx%d", extent.Width, extent.Height)
	}
	if mipLevels == 0 {
		mipLevels = 1
	}
	imageInfo := vulkan.ImageCreateInfo{
		SType:         vulkan.StructureTypeImageCreateInfo,
		ImageType:     vulkan.ImageType2d,
		Extent:        vulkan.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
		MipLevels:     mipLevels,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vulkan.ImageTilingOptimal,
		InitialLayout: vulkan.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vulkan.SampleCount1Bit,
		SharingMode:   vulkan.SharingModeExclusive,
	}
	var image vulkan.Image
	if err := NewError("vkCreateImage", vulkan.CreateImage(a.dc.device, &imageInfo, nil, &image)); err != nil {
		return nil, err
	}

	var reqs vulkan.MemoryRequirements
	vulkan.GetImageMemoryRequirements(a.dc.device, image, &reqs)
	reqs.Deref()

	memory, err := a.allocate(reqs, GpuOnly)
	if err != nil {
		vulkan.DestroyImage(a.dc.device, image, nil)
		return nil, err
	}
	vulkan.BindImageMemory(a.dc.device, image, memory, 0)

	return &GpuImage{
		image:     image,
		memory:    memory,
		extent:    extent,
		format:    format,
		usage:     usage,
		mipLevels: mipLevels,
	}, nil
}

func (a *Allocator) allocate(reqs vulkan.MemoryRequirements, pattern MemoryPattern) (vulkan.DeviceMemory, error) {
	index, ok := pickMemoryType(a.types, reqs.MemoryTypeBits, pattern)
	if !ok {
		return vulkan.NullDeviceMemory, errors.Newf("render: no %s memory type for filter %#x", pattern, reqs.MemoryTypeBits)
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vulkan.DeviceMemory
	if err := NewError("vkAllocateMemory", vulkan.AllocateMemory(a.dc.device, &allocInfo, nil, &memory)); err != nil {
		return vulkan.NullDeviceMemory, err
	}
	return memory, nil
}

// ReleaseBuffer frees the buffer and its memory. The caller guarantees no
// pending submission still references it; on the frame path use the
// deferred deletion queue instead.
func (a *Allocator) ReleaseBuffer(b *GpuBuffer) {
	if b == nil {
		return
	}
	if b.mapped != nil {
		vulkan.UnmapMemory(a.dc.device, b.memory)
		b.mapped = nil
	}
	vulkan.DestroyBuffer(a.dc.device, b.buffer, nil)
	vulkan.FreeMemory(a.dc.device, b.memory, nil)
	b.buffer = vulkan.NullBuffer
	b.memory = vulkan.NullDeviceMemory
}

// ReleaseImage frees the image and its memory under the same contract as
// ReleaseBuffer.
func (a *Allocator) ReleaseImage(img *GpuImage) {
	if img == nil {
		return
	}
	vulkan.DestroyImage(a.dc.device, img.image, nil)
	vulkan.FreeMemory(a.dc.device, img.memory, nil)
	img.image = vulkan.NullImage
	img.memory = vulkan.NullDeviceMemory
}

// Write copies data into a mapped buffer. Only valid for CpuToGpu and
// GpuToCpu allocations.
func (a *Allocator) Write(b *GpuBuffer, data []byte) error {
	if b.mapped == nil {
		return errors.New("render: writing to an unmapped buffer")
	}
	if vulkan.DeviceSize(len(data)) > b.size {
		return errors.Newf("render: write of %d bytes into %d-byte buffer", len(data), b.size)
	}
	vulkan.Memcopy(b.mapped, data)
	return nil
}

// Read copies the buffer contents back out of a mapped allocation.
func (a *Allocator) Read(b *GpuBuffer) ([]byte, error) {
	if b.mapped == nil {
		return nil, errors.New("render: reading from an unmapped buffer")
	}
	out := make([]byte, b.size)
	copy(out, unsafe.Slice((*byte)(b.mapped), int(b.size)))
	return out, nil
}

// CreateAndFillGpuBuffer uploads data into a fresh device-local buffer
// through a staging copy and blocks until the transfer fence signals.
// Strictly a setup-time operation, never the frame hot path.
func (a *Allocator) CreateAndFillGpuBuffer(data []byte, usage vulkan.BufferUsageFlags) (*GpuBuffer, error) {
	if len(data) == 0 {
		return nil, errors.New("render: empty upload")
	}
	staging, err := a.AllocateBuffer(vulkan.DeviceSize(len(data)),
		vulkan.BufferUsageFlags(vulkan.BufferUsageTransferSrcBit), CpuToGpu)
	if err != nil {
		return nil, errors.Wrap(err, "allocating staging buffer")
	}
	defer a.ReleaseBuffer(staging)

	if err := a.Write(staging, data); err != nil {
		return nil, err
	}

	dst, err := a.AllocateBuffer(vulkan.DeviceSize(len(data)),
		usage|vulkan.BufferUsageFlags(vulkan.BufferUsageTransferDstBit), GpuOnly)
	if err != nil {
		return nil, errors.Wrap(err, "allocating destination buffer")
	}

	err = a.oneShot(func(cmd vulkan.CommandBuffer) {
		regions := []vulkan.BufferCopy{{Size: vulkan.DeviceSize(len(data))}}
		vulkan.CmdCopyBuffer(cmd, staging.buffer, dst.buffer, 1, regions)
	})
	if err != nil {
		a.ReleaseBuffer(dst)
		return nil, errors.Wrap(err, "submitting staging copy")
	}
	return dst, nil
}

// oneShot records fn into a transient command buffer, submits it on the
// graphics queue and waits on a fence for completion.
func (a *Allocator) oneShot(fn func(cmd vulkan.CommandBuffer)) error {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.pool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vulkan.CommandBuffer, 1)
	if err := NewError("vkAllocateCommandBuffers", vulkan.AllocateCommandBuffers(a.dc.device, &allocInfo, cmds)); err != nil {
		return err
	}
	defer vulkan.FreeCommandBuffers(a.dc.device, a.pool, 1, cmds)

	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := NewError("vkBeginCommandBuffer", vulkan.BeginCommandBuffer(cmds[0], &beginInfo)); err != nil {
		return err
	}
	fn(cmds[0])
	if err := NewError("vkEndCommandBuffer", vulkan.EndCommandBuffer(cmds[0])); err != nil {
		return err
	}

	fenceInfo := vulkan.FenceCreateInfo{SType: vulkan.StructureTypeFenceCreateInfo}
	var fence vulkan.Fence
	if err := NewError("vkCreateFence", vulkan.CreateFence(a.dc.device, &fenceInfo, nil, &fence)); err != nil {
		return err
	}
	defer vulkan.DestroyFence(a.dc.device, fence, nil)

	submits := []vulkan.SubmitInfo{{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmds,
	}}
	if err := NewError("vkQueueSubmit", vulkan.QueueSubmit(a.dc.graphicsQueue, 1, submits, fence)); err != nil {
		return err
	}
	return NewError("vkWaitForFences",
		vulkan.WaitForFences(a.dc.device, 1, []vulkan.Fence{fence}, vulkan.True, vulkan.MaxUint64))
}

// Destroy releases the allocator. Every allocation it granted must have
// been released first.
func (a *Allocator) Destroy() {
	if a.pool != vulkan.NullCommandPool {
		vulkan.DestroyCommandPool(a.dc.device, a.pool, nil)
		a.pool = vulkan.NullCommandPool
	}
}
