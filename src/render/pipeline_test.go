package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

func TestNewPipelineLayoutRejectsOversizedPushRange(t *testing.T) {
	var dc *DeviceContext
	for idx, tc := range []struct {
		offset, size uint32
	}{
		{0, MaxPushConstantBytes + 4},
		{64, 65},
		{MaxPushConstantBytes, 4},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			_, err := dc.NewPipelineLayout(nil, []PushConstantRange{{
				Offset: tc.offset, Size: tc.size, Stages: VertexStage,
			}})
			require.Error(t, err)
			require.Contains(t, err.Error(), "budget")
		})
	}
}

func TestNewGraphicsPipelineRequiresStages(t *testing.T) {
	var dc *DeviceContext
	vert := spirvHeader(0x00010000)

	for idx, tc := range []struct {
		desc GraphicsPipelineDesc
	}{
		{GraphicsPipelineDesc{}},
		{GraphicsPipelineDesc{VertexShader: vert}},
		{GraphicsPipelineDesc{FragmentShader: vert}},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			_, err := dc.NewGraphicsPipeline(tc.desc, nil)
			require.Error(t, err)
		})
	}
}

func TestNewComputePipelineRequiresStage(t *testing.T) {
	var dc *DeviceContext
	_, err := dc.NewComputePipeline(nil, nil, nil)
	require.Error(t, err)
	_, err = dc.NewComputePipeline(spirvHeader(0x00010000), nil, nil)
	require.Error(t, err)
}

func TestNewRenderPassRequiresAttachments(t *testing.T) {
	var dc *DeviceContext
	_, err := dc.NewRenderPass(nil)
	require.Error(t, err)
}

func TestBindingKindDescriptorType(t *testing.T) {
	require.Equal(t, vulkan.DescriptorTypeUniformBuffer, UniformBufferBinding.descriptorType())
	require.Equal(t, vulkan.DescriptorTypeCombinedImageSampler, SampledTextureBinding.descriptorType())
	require.Equal(t, vulkan.DescriptorTypeStorageImage, StorageTextureBinding.descriptorType())
	require.Equal(t, vulkan.DescriptorTypeStorageBuffer, StorageBufferBinding.descriptorType())
}

func TestLoadStorePolicyOps(t *testing.T) {
	for idx, tc := range []struct {
		policy LoadStorePolicy
		load   vulkan.AttachmentLoadOp
		store  vulkan.AttachmentStoreOp
	}{
		{ClearThenStore, vulkan.AttachmentLoadOpClear, vulkan.AttachmentStoreOpStore},
		{LoadThenStore, vulkan.AttachmentLoadOpLoad, vulkan.AttachmentStoreOpStore},
		{ClearThenDiscard, vulkan.AttachmentLoadOpClear, vulkan.AttachmentStoreOpDontCare},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			load, store := tc.policy.ops()
			require.Equal(t, tc.load, load)
			require.Equal(t, tc.store, store)
		})
	}
}

func TestPipelineStateHash(t *testing.T) {
	base := GraphicsPipelineDesc{
		VertexShader:   spirvHeader(0x00010000, 1),
		FragmentShader: spirvHeader(0x00010000, 2),
		Fixed:          DefaultFixedFunctionState(),
	}

	require.Equal(t, base.hashState(), base.hashState())

	other := base
	other.Fixed.Cull = CullNone
	require.NotEqual(t, base.hashState(), other.hashState())

	other = base
	other.VertexShader = spirvHeader(0x00010000, 3)
	require.NotEqual(t, base.hashState(), other.hashState())

	other = base
	other.Fixed.DepthTest = false
	require.NotEqual(t, base.hashState(), other.hashState())
}

func TestPipelineCacheLookup(t *testing.T) {
	desc := GraphicsPipelineDesc{
		VertexShader:   spirvHeader(0x00010000, 1),
		FragmentShader: spirvHeader(0x00010000, 2),
		Fixed:          DefaultFixedFunctionState(),
	}

	var nilCache *PipelineCache
	_, ok := nilCache.Lookup(desc)
	require.False(t, ok)

	cache := &PipelineCache{compiled: make(map[pipelineKey]*Pipeline)}
	_, ok = cache.Lookup(desc)
	require.False(t, ok)

	want := &Pipeline{}
	cache.noteCompiled(desc.hashState(), want)
	got, ok := cache.Lookup(desc)
	require.True(t, ok)
	require.Same(t, want, got)

	other := desc
	other.Fixed.Blend = BlendDisabled
	_, ok = cache.Lookup(other)
	require.False(t, ok)
}

func BenchmarkPipelineStateHash(b *testing.B) {
	desc := GraphicsPipelineDesc{
		VertexShader:   make([]byte, 4096),
		FragmentShader: make([]byte, 4096),
		Fixed:          DefaultFixedFunctionState(),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchKeyResult = desc.hashState()
	}
}

var benchKeyResult pipelineKey
