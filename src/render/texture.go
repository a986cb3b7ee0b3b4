package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
)

// Texture composes an image, its view and a sampler, and tracks the image
// layout as an explicit state machine: undefined → transfer destination →
// shader read-only for sampled textures, undefined → general for
// compute-writable storage targets. Every transition is recorded as an
// explicit barrier; a shader must never read the image outside a
// shader-readable layout.
type Texture struct {
	image     *GpuImage
	view      vulkan.ImageView
	sampler   vulkan.Sampler
	layout    vulkan.ImageLayout
	mipLevels uint32
}

// View returns the image view for descriptor binding.
func (t *Texture) View() vulkan.ImageView { return t.view }

// Layout returns the current image layout.
func (t *Texture) Layout() vulkan.ImageLayout { return t.layout }

// layoutTransition is the resolved barrier configuration for one legal
// edge of the layout state machine.
type layoutTransition struct {
	srcAccess vulkan.AccessFlags
	dstAccess vulkan.AccessFlags
	srcStage  vulkan.PipelineStageFlags
	dstStage  vulkan.PipelineStageFlags
}

// resolveLayoutTransition maps a layout edge onto pipeline stage and
// access masks. Unknown edges are rejected rather than guessed: an
// unsynchronized transition is a GPU race, not a fallback case.
func resolveLayoutTransition(oldLayout, newLayout vulkan.ImageLayout) (layoutTransition, error) {
	type edge struct{ from, to vulkan.ImageLayout }
	transitions := map[edge]layoutTransition{
		{vulkan.ImageLayoutUndefined, vulkan.ImageLayoutTransferDstOptimal}: {
			srcAccess: 0,
			dstAccess: vulkan.AccessFlags(vulkan.AccessTransferWriteBit),
			srcStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageTopOfPipeBit),
			dstStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageTransferBit),
		},
		{vulkan.ImageLayoutTransferDstOptimal, vulkan.ImageLayoutShaderReadOnlyOptimal}: {
			srcAccess: vulkan.AccessFlags(vulkan.AccessTransferWriteBit),
			dstAccess: vulkan.AccessFlags(vulkan.AccessShaderReadBit),
			srcStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageTransferBit),
			dstStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageFragmentShaderBit),
		},
		{vulkan.ImageLayoutUndefined, vulkan.ImageLayoutGeneral}: {
			srcAccess: 0,
			dstAccess: vulkan.AccessFlags(vulkan.AccessShaderWriteBit),
			srcStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageTopOfPipeBit),
			dstStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageComputeShaderBit),
		},
		// Compute output handed to the graphics pass for sampling.
		{vulkan.ImageLayoutGeneral, vulkan.ImageLayoutShaderReadOnlyOptimal}: {
			srcAccess: vulkan.AccessFlags(vulkan.AccessShaderWriteBit),
			dstAccess: vulkan.AccessFlags(vulkan.AccessShaderReadBit),
			srcStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageComputeShaderBit),
			dstStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageFragmentShaderBit),
		},
		// Sampled image reclaimed as a compute target for the next frame.
		{vulkan.ImageLayoutShaderReadOnlyOptimal, vulkan.ImageLayoutGeneral}: {
			srcAccess: vulkan.AccessFlags(vulkan.AccessShaderReadBit),
			dstAccess: vulkan.AccessFlags(vulkan.AccessShaderWriteBit),
			srcStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageFragmentShaderBit),
			dstStage:  vulkan.PipelineStageFlags(vulkan.PipelineStageComputeShaderBit),
		},
	}
	t, ok := transitions[edge{oldLayout, newLayout}]
	if !ok {
		return layoutTransition{}, errors.Newf("render: unsupported layout transition %d -> %d",
			oldLayout, newLayout)
	}
	return t, nil
}

// recordLayoutTransition records the barrier for one layout edge into cmd
// and advances the texture's tracked layout.
func (t *Texture) recordLayoutTransition(cmd vulkan.CommandBuffer, newLayout vulkan.ImageLayout) error {
	tr, err := resolveLayoutTransition(t.layout, newLayout)
	if err != nil {
		return err
	}
	barrier := vulkan.ImageMemoryBarrier{
		SType:               vulkan.StructureTypeImageMemoryBarrier,
		OldLayout:           t.layout,
		NewLayout:           newLayout,
		SrcAccessMask:       tr.srcAccess,
		DstAccessMask:       tr.dstAccess,
		SrcQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		DstQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		Image:               t.image.image,
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			LevelCount: t.mipLevels,
			LayerCount: 1,
		},
	}
	vulkan.CmdPipelineBarrier(cmd, tr.srcStage, tr.dstStage, 0,
		0, nil, 0, nil, 1, []vulkan.ImageMemoryBarrier{barrier})
	t.layout = newLayout
	return nil
}

// NewTexture uploads a decoded pixel buffer into a sampled texture:
// staging copy, transfer-destination transition, buffer-to-image copy,
// then the shader-read-only transition. Setup-time only.
func (a *Allocator) NewTexture(px RawImage) (*Texture, error) {
	if err := px.validate(); err != nil {
		return nil, err
	}

	staging, err := a.AllocateBuffer(vulkan.DeviceSize(len(px.Pix)),
		vulkan.BufferUsageFlags(vulkan.BufferUsageTransferSrcBit), CpuToGpu)
	if err != nil {
		return nil, errors.Wrap(err, "allocating texture staging buffer")
	}
	defer a.ReleaseBuffer(staging)
	if err := a.Write(staging, px.Pix); err != nil {
		return nil, err
	}

	extent := vulkan.Extent2D{Width: px.Width, Height: px.Height}
	image, err := a.AllocateImage(extent, vulkan.FormatR8g8b8a8Srgb,
		vulkan.ImageUsageFlags(vulkan.ImageUsageTransferDstBit|vulkan.ImageUsageSampledBit), 1)
	if err != nil {
		return nil, errors.Wrap(err, "allocating texture image")
	}

	t := &Texture{image: image, layout: vulkan.ImageLayoutUndefined, mipLevels: 1}
	err = a.oneShot(func(cmd vulkan.CommandBuffer) {
		// Errors cannot occur here: both edges are in the transition table.
		_ = t.recordLayoutTransition(cmd, vulkan.ImageLayoutTransferDstOptimal)
		region := vulkan.BufferImageCopy{
			ImageSubresource: vulkan.ImageSubresourceLayers{
				AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vulkan.Extent3D{Width: px.Width, Height: px.Height, Depth: 1},
		}
		vulkan.CmdCopyBufferToImage(cmd, staging.buffer, image.image,
			vulkan.ImageLayoutTransferDstOptimal, 1, []vulkan.BufferImageCopy{region})
		_ = t.recordLayoutTransition(cmd, vulkan.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		a.ReleaseImage(image)
		return nil, errors.Wrap(err, "uploading texture")
	}

	if err := a.finishTexture(t); err != nil {
		a.destroyTexture(t)
		return nil, err
	}
	return t, nil
}

// NewStorageTexture creates a compute-writable target that the graphics
// pass samples after an explicit barrier. Starts in the general layout.
func (a *Allocator) NewStorageTexture(extent vulkan.Extent2D, format vulkan.Format) (*Texture, error) {
	image, err := a.AllocateImage(extent, format,
		vulkan.ImageUsageFlags(vulkan.ImageUsageStorageBit|vulkan.ImageUsageSampledBit), 1)
	if err != nil {
		return nil, errors.Wrap(err, "allocating storage image")
	}
	t := &Texture{image: image, layout: vulkan.ImageLayoutUndefined, mipLevels: 1}
	err = a.oneShot(func(cmd vulkan.CommandBuffer) {
		_ = t.recordLayoutTransition(cmd, vulkan.ImageLayoutGeneral)
	})
	if err != nil {
		a.ReleaseImage(image)
		return nil, errors.Wrap(err, "initializing storage image")
	}
	if err := a.finishTexture(t); err != nil {
		a.destroyTexture(t)
		return nil, err
	}
	return t, nil
}

// finishTexture builds the view and sampler shared by both texture kinds.
func (a *Allocator) finishTexture(t *Texture) error {
	viewInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    t.image.image,
		ViewType: vulkan.ImageViewType2d,
		Format:   t.image.format,
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			LevelCount: t.mipLevels,
			LayerCount: 1,
		},
	}
	if err := NewError("vkCreateImageView", vulkan.CreateImageView(a.dc.device, &viewInfo, nil, &t.view)); err != nil {
		return err
	}

	samplerInfo := vulkan.SamplerCreateInfo{
		SType:        vulkan.StructureTypeSamplerCreateInfo,
		MagFilter:    vulkan.FilterLinear,
		MinFilter:    vulkan.FilterLinear,
		AddressModeU: vulkan.SamplerAddressModeClampToEdge,
		AddressModeV: vulkan.SamplerAddressModeClampToEdge,
		AddressModeW: vulkan.SamplerAddressModeClampToEdge,
		MipmapMode:   vulkan.SamplerMipmapModeLinear,
		MaxLod:       float32(t.mipLevels),
	}
	if a.dc.enabled.SamplerAnisotropy {
		samplerInfo.AnisotropyEnable = vulkan.True
		samplerInfo.MaxAnisotropy = a.dc.limits.MaxSamplerAnisotropy
	}
	return NewError("vkCreateSampler", vulkan.CreateSampler(a.dc.device, &samplerInfo, nil, &t.sampler))
}

// destroyTexture releases the view, sampler and backing image.
func (a *Allocator) destroyTexture(t *Texture) {
	if t == nil {
		return
	}
	if t.sampler != vulkan.NullSampler {
		vulkan.DestroySampler(a.dc.device, t.sampler, nil)
		t.sampler = vulkan.NullSampler
	}
	if t.view != vulkan.NullImageView {
		vulkan.DestroyImageView(a.dc.device, t.view, nil)
		t.view = vulkan.NullImageView
	}
	a.ReleaseImage(t.image)
}

// ReleaseTexture is the public form of destroyTexture.
func (a *Allocator) ReleaseTexture(t *Texture) { a.destroyTexture(t) }
