package render

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
	"golang.org/x/exp/slog"
)

// acquireTimeoutNs bounds how long a frame waits for the presentation
// engine before reporting ErrAcquireTimeout.
const acquireTimeoutNs = uint64(1e9)

// computeWorkgroup is the workgroup edge the compute prepass dispatches
// against. Must match the shader's local_size declaration.
const computeWorkgroup = 8

// frameSlot carries the per-slot state of one pipelined frame: its sync
// kit, command buffer, uniform buffer and descriptor set.
type frameSlot struct {
	sync     *FrameSyncSet
	cmd      vulkan.CommandBuffer
	uniforms *GpuBuffer
	descSet  vulkan.DescriptorSet
}

// Renderer is the Vulkan backend: it owns the device context, the
// allocator, the pipeline state, the presentation chain and the
// pipelined frame slots, and implements FrameContext for the frame
// loop. Not safe for concurrent use; one goroutine drives it.
type Renderer struct {
	cfg     Config
	dc      *DeviceContext
	alloc   *Allocator
	cache   *PipelineCache
	pass    *RenderPass
	chain   *PresentationChain
	layout  *PipelineLayout
	psoDesc GraphicsPipelineDesc
	pso     *Pipeline

	computeLayout *PipelineLayout
	computePso    *Pipeline
	computeSet    vulkan.DescriptorSet

	texture *Texture
	storage *Texture

	vertexBuf  *GpuBuffer
	indexBuf   *GpuBuffer
	indexCount uint32

	cmdPool  vulkan.CommandPool
	descPool vulkan.DescriptorPool
	slots    []*frameSlot
	garbage  *deletionQueue
	loop     *FrameRenderer

	frameUniforms FrameUniforms
	pushData      PushConstants

	resized uint32

	logger *slog.Logger
}

var _ FrameContext = (*Renderer)(nil)

// NewRenderer brings up the full stack against surface: device, memory,
// pipeline state, presentation chain and frame slots. The returned
// renderer owns everything it created and tears it down in Destroy.
func NewRenderer(cfg Config, surface Surface, pixels RawImage) (*Renderer, error) {
	cfg = cfg.withDefaults()
	r := &Renderer{cfg: cfg, logger: cfg.Logger.With("component", "renderer")}

	fail := func(err error) (*Renderer, error) {
		r.Destroy()
		return nil, err
	}

	dc, err := NewDeviceContext(cfg, surface)
	if err != nil {
		return nil, err
	}
	r.dc = dc

	r.alloc, err = NewAllocator(dc)
	if err != nil {
		return fail(err)
	}

	r.cache, err = dc.NewPipelineCache(cfg.PipelineCachePath)
	if err != nil {
		return fail(err)
	}

	format, err := probeSurfaceFormat(dc)
	if err != nil {
		return fail(err)
	}
	r.pass, err = dc.NewRenderPass([]AttachmentDesc{{
		Format:      format.Format,
		Policy:      ClearThenStore,
		FinalLayout: vulkan.ImageLayoutPresentSrc,
	}, {
		Format:      vulkan.FormatD32Sfloat,
		Policy:      ClearThenDiscard,
		FinalLayout: vulkan.ImageLayoutDepthStencilAttachmentOptimal,
		Depth:       true,
	}})
	if err != nil {
		return fail(err)
	}

	r.chain, err = NewPresentationChain(dc, surface, r.alloc, r.pass, cfg.PresentMode)
	if err != nil {
		return fail(err)
	}

	r.texture, err = r.alloc.NewTexture(pixels)
	if err != nil {
		return fail(err)
	}
	r.storage, err = r.alloc.NewStorageTexture(r.chain.Extent(), vulkan.FormatR8g8b8a8Unorm)
	if err != nil {
		return fail(err)
	}

	if err := r.buildPipelines(); err != nil {
		return fail(err)
	}
	if err := r.buildSlots(); err != nil {
		return fail(err)
	}

	r.garbage = newDeletionQueue(cfg.FramesInFlight)
	r.loop = NewFrameRenderer(r, cfg.FramesInFlight, r.logger)

	surface.OnResize(func(w, h uint32) {
		atomic.StoreUint32(&r.resized, 1)
	})

	r.logger.Info("renderer ready", "slots", cfg.FramesInFlight, "mode", cfg.PresentMode)
	return r, nil
}

func (r *Renderer) buildPipelines() error {
	var err error
	r.layout, err = r.dc.NewPipelineLayout([]Binding{
		{Index: 0, Kind: UniformBufferBinding, Stages: VertexStage},
		{Index: 1, Kind: SampledTextureBinding, Stages: FragmentStage},
		{Index: 2, Kind: SampledTextureBinding, Stages: FragmentStage},
	}, []PushConstantRange{{
		Offset: 0,
		Size:   uint32(unsafe.Sizeof(PushConstants{})),
		Stages: VertexStage | FragmentStage,
	}})
	if err != nil {
		return err
	}

	r.psoDesc = GraphicsPipelineDesc{
		VertexShader:   r.cfg.VertexShader,
		FragmentShader: r.cfg.FragmentShader,
		Layout:         r.layout,
		Pass:           r.pass,
		Fixed:          DefaultFixedFunctionState(),
	}
	if r.pso, err = r.dc.NewGraphicsPipeline(r.psoDesc, r.cache); err != nil {
		return err
	}

	if len(r.cfg.ComputeShader) == 0 {
		return nil
	}
	r.computeLayout, err = r.dc.NewPipelineLayout([]Binding{
		{Index: 0, Kind: StorageTextureBinding, Stages: ComputeStage},
	}, nil)
	if err != nil {
		return err
	}
	r.computePso, err = r.dc.NewComputePipeline(r.cfg.ComputeShader, r.computeLayout, r.cache)
	return err
}

func (r *Renderer) buildSlots() error {
	dc := r.dc
	depth := r.cfg.FramesInFlight

	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: uint32(dc.families.graphics),
	}
	if err := NewError("vkCreateCommandPool",
		vulkan.CreateCommandPool(dc.device, &poolInfo, nil, &r.cmdPool)); err != nil {
		return err
	}

	cmds := make([]vulkan.CommandBuffer, depth)
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        r.cmdPool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(depth),
	}
	if err := NewError("vkAllocateCommandBuffers",
		vulkan.AllocateCommandBuffers(dc.device, &allocInfo, cmds)); err != nil {
		return err
	}

	sizes := []vulkan.DescriptorPoolSize{
		{Type: vulkan.DescriptorTypeUniformBuffer, DescriptorCount: uint32(depth)},
		{Type: vulkan.DescriptorTypeCombinedImageSampler, DescriptorCount: uint32(2 * depth)},
		{Type: vulkan.DescriptorTypeStorageImage, DescriptorCount: 1},
	}
	descInfo := vulkan.DescriptorPoolCreateInfo{
		SType:         vulkan.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(depth) + 1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	if err := NewError("vkCreateDescriptorPool",
		vulkan.CreateDescriptorPool(dc.device, &descInfo, nil, &r.descPool)); err != nil {
		return err
	}

	r.slots = make([]*frameSlot, depth)
	for i := range r.slots {
		syncSet, err := newFrameSyncSet(dc)
		if err != nil {
			return err
		}
		ub, err := r.alloc.AllocateBuffer(
			vulkan.DeviceSize(unsafe.Sizeof(FrameUniforms{})),
			vulkan.BufferUsageFlags(vulkan.BufferUsageUniformBufferBit), CpuToGpu)
		if err != nil {
			return errors.Wrap(err, "allocating frame uniform buffer")
		}
		set, err := r.allocDescSet(r.layout.setLayout)
		if err != nil {
			return err
		}
		r.slots[i] = &frameSlot{sync: syncSet, cmd: cmds[i], uniforms: ub, descSet: set}
		r.writeSlotDescriptors(r.slots[i])
	}

	if r.computeLayout != nil {
		set, err := r.allocDescSet(r.computeLayout.setLayout)
		if err != nil {
			return err
		}
		r.computeSet = set
		r.writeComputeDescriptors()
	}
	return nil
}

func (r *Renderer) allocDescSet(layout vulkan.DescriptorSetLayout) (vulkan.DescriptorSet, error) {
	info := vulkan.DescriptorSetAllocateInfo{
		SType:              vulkan.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     r.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vulkan.DescriptorSetLayout{layout},
	}
	var set vulkan.DescriptorSet
	if err := NewError("vkAllocateDescriptorSets",
		vulkan.AllocateDescriptorSets(r.dc.device, &info, &set)); err != nil {
		return vulkan.NullDescriptorSet, err
	}
	return set, nil
}

func (r *Renderer) writeSlotDescriptors(slot *frameSlot) {
	bufferInfo := vulkan.DescriptorBufferInfo{
		Buffer: slot.uniforms.buffer,
		Range:  vulkan.DeviceSize(unsafe.Sizeof(FrameUniforms{})),
	}
	textureInfo := vulkan.DescriptorImageInfo{
		ImageLayout: vulkan.ImageLayoutShaderReadOnlyOptimal,
		ImageView:   r.texture.view,
		Sampler:     r.texture.sampler,
	}
	storageInfo := vulkan.DescriptorImageInfo{
		ImageLayout: vulkan.ImageLayoutShaderReadOnlyOptimal,
		ImageView:   r.storage.view,
		Sampler:     r.storage.sampler,
	}
	writes := []vulkan.WriteDescriptorSet{{
		SType:           vulkan.StructureTypeWriteDescriptorSet,
		DstSet:          slot.descSet,
		DstBinding:      0,
		DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo:     []vulkan.DescriptorBufferInfo{bufferInfo},
	}, {
		SType:           vulkan.StructureTypeWriteDescriptorSet,
		DstSet:          slot.descSet,
		DstBinding:      1,
		DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo:      []vulkan.DescriptorImageInfo{textureInfo},
	}, {
		SType:           vulkan.StructureTypeWriteDescriptorSet,
		DstSet:          slot.descSet,
		DstBinding:      2,
		DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo:      []vulkan.DescriptorImageInfo{storageInfo},
	}}
	vulkan.UpdateDescriptorSets(r.dc.device, uint32(len(writes)), writes, 0, nil)
}

func (r *Renderer) writeComputeDescriptors() {
	imageInfo := vulkan.DescriptorImageInfo{
		ImageLayout: vulkan.ImageLayoutGeneral,
		ImageView:   r.storage.view,
	}
	write := vulkan.WriteDescriptorSet{
		SType:           vulkan.StructureTypeWriteDescriptorSet,
		DstSet:          r.computeSet,
		DstBinding:      0,
		DescriptorType:  vulkan.DescriptorTypeStorageImage,
		DescriptorCount: 1,
		PImageInfo:      []vulkan.DescriptorImageInfo{imageInfo},
	}
	vulkan.UpdateDescriptorSets(r.dc.device, 1, []vulkan.WriteDescriptorSet{write}, 0, nil)
}

// UploadMesh replaces the drawn geometry. The old buffers are deferred
// until no in-flight frame can reference them.
func (r *Renderer) UploadMesh(vertices []Vertex, indices []uint32) error {
	if len(vertices) == 0 || len(indices) == 0 {
		return errors.New("render: mesh requires vertices and indices")
	}
	vb, err := r.alloc.CreateAndFillGpuBuffer(verticesToBytes(vertices),
		vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit))
	if err != nil {
		return errors.Wrap(err, "uploading vertex buffer")
	}
	ib, err := r.alloc.CreateAndFillGpuBuffer(indicesToBytes(indices),
		vulkan.BufferUsageFlags(vulkan.BufferUsageIndexBufferBit))
	if err != nil {
		r.alloc.ReleaseBuffer(vb)
		return errors.Wrap(err, "uploading index buffer")
	}

	if old := r.vertexBuf; old != nil {
		r.garbage.enqueue(r.loop.FrameCount(), func() { r.alloc.ReleaseBuffer(old) })
	}
	if old := r.indexBuf; old != nil {
		r.garbage.enqueue(r.loop.FrameCount(), func() { r.alloc.ReleaseBuffer(old) })
	}
	r.vertexBuf, r.indexBuf, r.indexCount = vb, ib, uint32(len(indices))
	return nil
}

// SetFrameUniforms sets the view-projection data written into the next
// frame's uniform buffer.
func (r *Renderer) SetFrameUniforms(u FrameUniforms) { r.frameUniforms = u }

// SetPushConstants sets the per-draw payload for the next frame.
func (r *Renderer) SetPushConstants(p PushConstants) { r.pushData = p }

// DrawInput is the per-frame dynamic data crossing the module boundary.
type DrawInput struct {
	Uniforms FrameUniforms
	Push     PushConstants
}

// RenderFrame applies input and runs one frame through the loop.
func (r *Renderer) RenderFrame(input DrawInput) error {
	r.frameUniforms = input.Uniforms
	r.pushData = input.Push
	return r.loop.DrawFrame()
}

// DrawFrame runs one frame with the previously set dynamic data.
func (r *Renderer) DrawFrame() error { return r.loop.DrawFrame() }

// DefaultCamera builds a perspective view-projection for the current
// swap extent, looking at the origin.
func (r *Renderer) DefaultCamera(eye lin.Vec3) FrameUniforms {
	extent := r.chain.Extent()
	aspect := float32(extent.Width) / float32(extent.Height)

	var proj, view, combined lin.Mat4x4
	proj.Perspective(lin.DegreesToRadians(45), aspect, 0.1, 100)
	// Flip Y: clip space points down, the world does not.
	proj[1][1] *= -1
	center := lin.Vec3{0, 0, 0}
	up := lin.Vec3{0, 1, 0}
	view.LookAt(&eye, &center, &up)
	combined.Mult(&proj, &view)
	return FrameUniforms{Transform: combined}
}

// --- FrameContext implementation ---

func (r *Renderer) WaitForSlot(slot int) error {
	fences := []vulkan.Fence{r.slots[slot].sync.inFlight}
	return NewError("vkWaitForFences",
		vulkan.WaitForFences(r.dc.device, 1, fences, vulkan.True, vulkan.MaxUint64))
}

func (r *Renderer) ResetSlot(slot int) error {
	fences := []vulkan.Fence{r.slots[slot].sync.inFlight}
	return NewError("vkResetFences", vulkan.ResetFences(r.dc.device, 1, fences))
}

func (r *Renderer) WriteFrameData(slot int, frame uint64) error {
	return r.alloc.Write(r.slots[slot].uniforms, r.frameUniforms.bytes())
}

func (r *Renderer) AcquireImage(slot int) (int, error) {
	if atomic.CompareAndSwapUint32(&r.resized, 1, 0) {
		return -1, errors.Wrap(ErrOutOfDate, "surface resized")
	}
	return r.chain.AcquireNextImage(acquireTimeoutNs, r.slots[slot].sync.imageAcquired)
}

func (r *Renderer) RecordCompute(slot int) error {
	s := r.slots[slot]
	if err := NewError("vkResetCommandBuffer", vulkan.ResetCommandBuffer(s.cmd, 0)); err != nil {
		return err
	}
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
	}
	if err := NewError("vkBeginCommandBuffer", vulkan.BeginCommandBuffer(s.cmd, &beginInfo)); err != nil {
		return err
	}
	if r.computePso == nil {
		return nil
	}

	// After the first frame the storage image is left shader-readable;
	// reclaim it for compute before dispatching into it.
	if r.storage.layout != vulkan.ImageLayoutGeneral {
		if err := r.storage.recordLayoutTransition(s.cmd, vulkan.ImageLayoutGeneral); err != nil {
			return err
		}
	}

	vulkan.CmdBindPipeline(s.cmd, vulkan.PipelineBindPointCompute, r.computePso.handle)
	vulkan.CmdBindDescriptorSets(s.cmd, vulkan.PipelineBindPointCompute,
		r.computeLayout.layout, 0, 1, []vulkan.DescriptorSet{r.computeSet}, 0, nil)
	extent := r.chain.Extent()
	gx := (extent.Width + computeWorkgroup - 1) / computeWorkgroup
	gy := (extent.Height + computeWorkgroup - 1) / computeWorkgroup
	vulkan.CmdDispatch(s.cmd, gx, gy, 1)

	// Hazard barrier: the fragment stage samples what compute just
	// wrote.
	return r.storage.recordLayoutTransition(s.cmd, vulkan.ImageLayoutShaderReadOnlyOptimal)
}

func (r *Renderer) RecordGraphics(slot, imageIndex int) error {
	s := r.slots[slot]
	extent := r.chain.Extent()

	clearValues := make([]vulkan.ClearValue, 2)
	clearValues[0].SetColor([]float32{0, 0, 0, 1})
	clearValues[1].SetDepthStencil(1, 0)
	passInfo := vulkan.RenderPassBeginInfo{
		SType:       vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:  r.pass.handle,
		Framebuffer: r.chain.Framebuffer(imageIndex).handle,
		RenderArea: vulkan.Rect2D{
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vulkan.CmdBeginRenderPass(s.cmd, &passInfo, vulkan.SubpassContentsInline)
	vulkan.CmdBindPipeline(s.cmd, vulkan.PipelineBindPointGraphics, r.pso.handle)

	viewports := []vulkan.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	}}
	vulkan.CmdSetViewport(s.cmd, 0, 1, viewports)
	scissors := []vulkan.Rect2D{{Extent: extent}}
	vulkan.CmdSetScissor(s.cmd, 0, 1, scissors)

	vulkan.CmdBindDescriptorSets(s.cmd, vulkan.PipelineBindPointGraphics,
		r.layout.layout, 0, 1, []vulkan.DescriptorSet{s.descSet}, 0, nil)

	if r.vertexBuf != nil && r.indexCount > 0 {
		vulkan.CmdBindVertexBuffers(s.cmd, 0, 1,
			[]vulkan.Buffer{r.vertexBuf.buffer}, []vulkan.DeviceSize{0})
		vulkan.CmdBindIndexBuffer(s.cmd, r.indexBuf.buffer, 0, vulkan.IndexTypeUint32)
		vulkan.CmdPushConstants(s.cmd, r.layout.layout,
			vulkan.ShaderStageFlags(VertexStage|FragmentStage),
			0, uint32(unsafe.Sizeof(r.pushData)), unsafe.Pointer(&r.pushData))
		vulkan.CmdDrawIndexed(s.cmd, r.indexCount, 1, 0, 0, 0)
	}

	vulkan.CmdEndRenderPass(s.cmd)
	return NewError("vkEndCommandBuffer", vulkan.EndCommandBuffer(s.cmd))
}

func (r *Renderer) SubmitFrame(slot int) error {
	s := r.slots[slot]
	submit := vulkan.SubmitInfo{
		SType:              vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{s.sync.imageAcquired},
		PWaitDstStageMask: []vulkan.PipelineStageFlags{
			vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vulkan.CommandBuffer{s.cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vulkan.Semaphore{s.sync.renderFinished},
	}
	return NewError("vkQueueSubmit",
		vulkan.QueueSubmit(r.dc.graphicsQueue, 1, []vulkan.SubmitInfo{submit}, s.sync.inFlight))
}

func (r *Renderer) PresentImage(slot, imageIndex int) error {
	return r.chain.Present(imageIndex, r.slots[slot].sync.renderFinished)
}

func (r *Renderer) RebuildChain() error {
	if err := r.chain.Recreate(); err != nil {
		return err
	}
	// The storage target tracks the swap extent; rebuild it alongside.
	old := r.storage
	storage, err := r.alloc.NewStorageTexture(r.chain.Extent(), vulkan.FormatR8g8b8a8Unorm)
	if err != nil {
		return err
	}
	r.storage = storage
	r.alloc.ReleaseTexture(old)
	for _, s := range r.slots {
		r.writeSlotDescriptors(s)
	}
	if r.computeLayout != nil {
		r.writeComputeDescriptors()
	}
	return nil
}

func (r *Renderer) CollectGarbage(frame uint64) {
	if n := r.garbage.collect(frame); n > 0 {
		r.logger.Debug("collected deferred resources", "count", n, "frame", frame)
	}
}

// Destroy idles the device and releases everything in reverse creation
// order. Safe to call on a partially constructed renderer.
func (r *Renderer) Destroy() {
	if r.dc != nil && r.dc.device != nil {
		_ = r.dc.WaitIdle()
	}
	if r.garbage != nil {
		r.garbage.drain()
	}
	if r.alloc != nil {
		if r.vertexBuf != nil {
			r.alloc.ReleaseBuffer(r.vertexBuf)
		}
		if r.indexBuf != nil {
			r.alloc.ReleaseBuffer(r.indexBuf)
		}
		r.alloc.ReleaseTexture(r.storage)
		r.alloc.ReleaseTexture(r.texture)
	}
	if r.dc != nil && r.dc.device != nil {
		for _, s := range r.slots {
			if s != nil {
				s.sync.destroy(r.dc)
				if r.alloc != nil {
					r.alloc.ReleaseBuffer(s.uniforms)
				}
			}
		}
		if r.descPool != vulkan.NullDescriptorPool {
			vulkan.DestroyDescriptorPool(r.dc.device, r.descPool, nil)
		}
		if r.cmdPool != vulkan.NullCommandPool {
			vulkan.DestroyCommandPool(r.dc.device, r.cmdPool, nil)
		}
		r.computePso.Destroy(r.dc)
		r.computeLayout.Destroy(r.dc)
		r.layout.Destroy(r.dc)
		if r.cache != nil {
			if err := r.cache.Persist(); err != nil {
				r.logger.Warn("pipeline cache not persisted", "err", err)
			}
			r.cache.Destroy()
		}
		r.chain.Destroy()
		r.pass.Destroy(r.dc)
	}
	if r.alloc != nil {
		r.alloc.Destroy()
	}
	if r.dc != nil {
		r.dc.Destroy()
	}
}

// probeSurfaceFormat resolves the surface format the presentation chain
// will select, so the render pass can be compiled first.
func probeSurfaceFormat(dc *DeviceContext) (vulkan.SurfaceFormat, error) {
	var count uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(dc.physical, dc.surface, &count, nil)
	formats := make([]vulkan.SurfaceFormat, count)
	vulkan.GetPhysicalDeviceSurfaceFormats(dc.physical, dc.surface, &count, formats)
	for i := range formats {
		formats[i].Deref()
	}
	if len(formats) == 0 {
		return vulkan.SurfaceFormat{}, errors.Wrap(ErrNoSuitableDevice, "surface advertises no formats")
	}
	return chooseSurfaceFormat(formats), nil
}
