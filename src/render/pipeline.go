package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
)

// MaxPushConstantBytes is the push constant budget guaranteed by the
// minimum device limits. Larger per-draw payloads go in uniform buffers.
const MaxPushConstantBytes = 128

// BindingKind names the resource class a descriptor binding exposes.
type BindingKind int

const (
	UniformBufferBinding BindingKind = iota
	SampledTextureBinding
	StorageTextureBinding
	StorageBufferBinding
)

func (k BindingKind) descriptorType() vulkan.DescriptorType {
	switch k {
	case SampledTextureBinding:
		return vulkan.DescriptorTypeCombinedImageSampler
	case StorageTextureBinding:
		return vulkan.DescriptorTypeStorageImage
	case StorageBufferBinding:
		return vulkan.DescriptorTypeStorageBuffer
	default:
		return vulkan.DescriptorTypeUniformBuffer
	}
}

// ShaderStage is the bitmask of stages a binding or push range is
// visible to.
type ShaderStage vulkan.ShaderStageFlagBits

const (
	VertexStage   = ShaderStage(vulkan.ShaderStageVertexBit)
	FragmentStage = ShaderStage(vulkan.ShaderStageFragmentBit)
	ComputeStage  = ShaderStage(vulkan.ShaderStageComputeBit)
)

// Binding declares one slot of the resource interface between host
// structs and shader declarations.
type Binding struct {
	Index  uint32
	Kind   BindingKind
	Stages ShaderStage
}

// PushConstantRange declares a small per-draw payload pushed directly
// into the command stream.
type PushConstantRange struct {
	Offset uint32
	Size   uint32
	Stages ShaderStage
}

// PipelineLayout owns the descriptor set layout and the Vulkan pipeline
// layout derived from a binding declaration.
type PipelineLayout struct {
	layout    vulkan.PipelineLayout
	setLayout vulkan.DescriptorSetLayout
	bindings  []Binding
}

// Handle returns the raw pipeline layout for command recording.
func (pl *PipelineLayout) Handle() vulkan.PipelineLayout { return pl.layout }

// SetLayout returns the descriptor set layout for pool allocation.
func (pl *PipelineLayout) SetLayout() vulkan.DescriptorSetLayout { return pl.setLayout }

// NewPipelineLayout builds the descriptor set layout and pipeline layout
// for one binding interface. Push ranges beyond the guaranteed budget
// are rejected up front instead of failing on a subset of devices.
func (dc *DeviceContext) NewPipelineLayout(bindings []Binding, pushRanges []PushConstantRange) (*PipelineLayout, error) {
	for _, r := range pushRanges {
		if r.Offset+r.Size > MaxPushConstantBytes {
			return nil, errors.Newf("render: push constant range [%d, %d) exceeds %d byte budget",
				r.Offset, r.Offset+r.Size, MaxPushConstantBytes)
		}
	}

	slots := make([]vulkan.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		slots[i] = vulkan.DescriptorSetLayoutBinding{
			Binding:         b.Index,
			DescriptorType:  b.Kind.descriptorType(),
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(b.Stages),
		}
	}
	setInfo := vulkan.DescriptorSetLayoutCreateInfo{
		SType:        vulkan.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(slots)),
		PBindings:    slots,
	}
	pl := &PipelineLayout{bindings: bindings}
	if err := NewError("vkCreateDescriptorSetLayout",
		vulkan.CreateDescriptorSetLayout(dc.device, &setInfo, nil, &pl.setLayout)); err != nil {
		return nil, err
	}

	ranges := make([]vulkan.PushConstantRange, len(pushRanges))
	for i, r := range pushRanges {
		ranges[i] = vulkan.PushConstantRange{
			StageFlags: vulkan.ShaderStageFlags(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	layoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType:                  vulkan.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vulkan.DescriptorSetLayout{pl.setLayout},
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	if err := NewError("vkCreatePipelineLayout",
		vulkan.CreatePipelineLayout(dc.device, &layoutInfo, nil, &pl.layout)); err != nil {
		vulkan.DestroyDescriptorSetLayout(dc.device, pl.setLayout, nil)
		return nil, err
	}
	return pl, nil
}

// Destroy releases the pipeline layout and its set layout.
func (pl *PipelineLayout) Destroy(dc *DeviceContext) {
	if pl == nil {
		return
	}
	if pl.layout != vulkan.NullPipelineLayout {
		vulkan.DestroyPipelineLayout(dc.device, pl.layout, nil)
		pl.layout = vulkan.NullPipelineLayout
	}
	if pl.setLayout != vulkan.NullDescriptorSetLayout {
		vulkan.DestroyDescriptorSetLayout(dc.device, pl.setLayout, nil)
		pl.setLayout = vulkan.NullDescriptorSetLayout
	}
}

// CullMode selects which triangle faces the rasterizer discards.
type CullMode int

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

func (m CullMode) flags() vulkan.CullModeFlags {
	switch m {
	case CullBack:
		return vulkan.CullModeFlags(vulkan.CullModeBackBit)
	case CullFront:
		return vulkan.CullModeFlags(vulkan.CullModeFrontBit)
	default:
		return vulkan.CullModeFlags(vulkan.CullModeNone)
	}
}

// BlendMode selects how fragment output combines with the attachment.
type BlendMode int

const (
	BlendDisabled BlendMode = iota
	BlendAlpha
)

// FixedFunctionState is the immutable rasterization configuration baked
// into a graphics pipeline. It is a plain value so it can key the
// pipeline cache; dynamic viewport and scissor keep it independent of
// the presentation extent.
type FixedFunctionState struct {
	Topology    vulkan.PrimitiveTopology
	PolygonMode vulkan.PolygonMode
	Cull        CullMode
	FrontFace   vulkan.FrontFace
	Blend       BlendMode
	DepthTest   bool
	DepthWrite  bool
}

// DefaultFixedFunctionState is the opaque-geometry baseline: filled
// back-face-culled triangles with depth test and write.
func DefaultFixedFunctionState() FixedFunctionState {
	return FixedFunctionState{
		Topology:    vulkan.PrimitiveTopologyTriangleList,
		PolygonMode: vulkan.PolygonModeFill,
		Cull:        CullBack,
		FrontFace:   vulkan.FrontFaceCounterClockwise,
		Blend:       BlendAlpha,
		DepthTest:   true,
		DepthWrite:  true,
	}
}

// GraphicsPipelineDesc gathers everything that determines a compiled
// graphics pipeline.
type GraphicsPipelineDesc struct {
	VertexShader   []byte
	FragmentShader []byte
	Layout         *PipelineLayout
	Pass           *RenderPass
	Fixed          FixedFunctionState
}

// Pipeline wraps a compiled pipeline handle together with the layout it
// was built against.
type Pipeline struct {
	handle vulkan.Pipeline
	layout *PipelineLayout
	point  vulkan.PipelineBindPoint
}

// Handle returns the raw pipeline for command recording.
func (p *Pipeline) Handle() vulkan.Pipeline { return p.handle }

// Layout returns the layout the pipeline was compiled with.
func (p *Pipeline) Layout() *PipelineLayout { return p.layout }

// NewGraphicsPipeline compiles a graphics pipeline from the description,
// consulting cache for a previously compiled blob. A pipeline with no
// shader stages is a configuration error, not a device error.
func (dc *DeviceContext) NewGraphicsPipeline(desc GraphicsPipelineDesc, cache *PipelineCache) (*Pipeline, error) {
	if len(desc.VertexShader) == 0 || len(desc.FragmentShader) == 0 {
		return nil, errors.New("render: graphics pipeline requires vertex and fragment stages")
	}
	if desc.Layout == nil || desc.Pass == nil {
		return nil, errors.New("render: graphics pipeline requires a layout and render pass")
	}
	if p, ok := cache.Lookup(desc); ok {
		return p, nil
	}

	vert, err := dc.LoadShaderModule(desc.VertexShader)
	if err != nil {
		return nil, errors.Wrap(err, "vertex stage")
	}
	defer vulkan.DestroyShaderModule(dc.device, vert, nil)
	frag, err := dc.LoadShaderModule(desc.FragmentShader)
	if err != nil {
		return nil, errors.Wrap(err, "fragment stage")
	}
	defer vulkan.DestroyShaderModule(dc.device, frag, nil)

	stages := []vulkan.PipelineShaderStageCreateInfo{{
		SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vulkan.ShaderStageVertexBit,
		Module: vert,
		PName:  "main\x00",
	}, {
		SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vulkan.ShaderStageFragmentBit,
		Module: frag,
		PName:  "main\x00",
	}}

	bindingDesc := vertexBindingDescription()
	attrDescs := vertexAttributeDescriptions()
	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType:                           vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vulkan.VertexInputBindingDescription{bindingDesc},
		VertexAttributeDescriptionCount: uint32(len(attrDescs)),
		PVertexAttributeDescriptions:    attrDescs,
	}
	assembly := vulkan.PipelineInputAssemblyStateCreateInfo{
		SType:    vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: desc.Fixed.Topology,
	}
	// Viewport and scissor are dynamic so a presentation rebuild never
	// forces pipeline recompilation.
	viewport := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamic := vulkan.PipelineDynamicStateCreateInfo{
		SType:             vulkan.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates: []vulkan.DynamicState{
			vulkan.DynamicStateViewport,
			vulkan.DynamicStateScissor,
		},
	}
	raster := vulkan.PipelineRasterizationStateCreateInfo{
		SType:       vulkan.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: desc.Fixed.PolygonMode,
		CullMode:    desc.Fixed.Cull.flags(),
		FrontFace:   desc.Fixed.FrontFace,
		LineWidth:   1,
	}
	multisample := vulkan.PipelineMultisampleStateCreateInfo{
		SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vulkan.SampleCount1Bit,
	}
	depth := vulkan.PipelineDepthStencilStateCreateInfo{
		SType:            vulkan.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp:   vulkan.CompareOpLess,
		DepthTestEnable:  boolToVk(desc.Fixed.DepthTest),
		DepthWriteEnable: boolToVk(desc.Fixed.DepthWrite),
	}
	blendAttachment := vulkan.PipelineColorBlendAttachmentState{
		ColorWriteMask: vulkan.ColorComponentFlags(
			vulkan.ColorComponentRBit | vulkan.ColorComponentGBit |
				vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
	}
	if desc.Fixed.Blend == BlendAlpha {
		blendAttachment.BlendEnable = vulkan.True
		blendAttachment.SrcColorBlendFactor = vulkan.BlendFactorSrcAlpha
		blendAttachment.DstColorBlendFactor = vulkan.BlendFactorOneMinusSrcAlpha
		blendAttachment.ColorBlendOp = vulkan.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = vulkan.BlendFactorOne
		blendAttachment.DstAlphaBlendFactor = vulkan.BlendFactorOneMinusSrcAlpha
		blendAttachment.AlphaBlendOp = vulkan.BlendOpAdd
	}
	blend := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{blendAttachment},
	}

	info := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &assembly,
		PViewportState:      &viewport,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depth,
		PColorBlendState:    &blend,
		PDynamicState:       &dynamic,
		Layout:              desc.Layout.layout,
		RenderPass:          desc.Pass.handle,
	}

	handles := make([]vulkan.Pipeline, 1)
	ret := vulkan.CreateGraphicsPipelines(dc.device, cache.vkHandle(), 1,
		[]vulkan.GraphicsPipelineCreateInfo{info}, nil, handles)
	if err := NewError("vkCreateGraphicsPipelines", ret); err != nil {
		return nil, err
	}
	p := &Pipeline{handle: handles[0], layout: desc.Layout, point: vulkan.PipelineBindPointGraphics}
	cache.noteCompiled(desc.hashState(), p)
	return p, nil
}

// NewComputePipeline compiles a compute pipeline from a single compute
// stage binary.
func (dc *DeviceContext) NewComputePipeline(shader []byte, layout *PipelineLayout, cache *PipelineCache) (*Pipeline, error) {
	if len(shader) == 0 {
		return nil, errors.New("render: compute pipeline requires a compute stage")
	}
	if layout == nil {
		return nil, errors.New("render: compute pipeline requires a layout")
	}
	module, err := dc.LoadShaderModule(shader)
	if err != nil {
		return nil, errors.Wrap(err, "compute stage")
	}
	defer vulkan.DestroyShaderModule(dc.device, module, nil)

	info := vulkan.ComputePipelineCreateInfo{
		SType: vulkan.StructureTypeComputePipelineCreateInfo,
		Stage: vulkan.PipelineShaderStageCreateInfo{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageComputeBit,
			Module: module,
			PName:  "main\x00",
		},
		Layout: layout.layout,
	}
	handles := make([]vulkan.Pipeline, 1)
	ret := vulkan.CreateComputePipelines(dc.device, cache.vkHandle(), 1,
		[]vulkan.ComputePipelineCreateInfo{info}, nil, handles)
	if err := NewError("vkCreateComputePipelines", ret); err != nil {
		return nil, err
	}
	return &Pipeline{handle: handles[0], layout: layout, point: vulkan.PipelineBindPointCompute}, nil
}

// Destroy releases the compiled pipeline. The layout is shared and
// destroyed separately.
func (p *Pipeline) Destroy(dc *DeviceContext) {
	if p == nil || p.handle == vulkan.NullPipeline {
		return
	}
	vulkan.DestroyPipeline(dc.device, p.handle, nil)
	p.handle = vulkan.NullPipeline
}

func boolToVk(b bool) vulkan.Bool32 {
	if b {
		return vulkan.True
	}
	return vulkan.False
}
