package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

func TestResolveLayoutTransition(t *testing.T) {
	for idx, tc := range []struct {
		from, to vulkan.ImageLayout
		srcStage vulkan.PipelineStageFlagBits
		dstStage vulkan.PipelineStageFlagBits
	}{
		{vulkan.ImageLayoutUndefined, vulkan.ImageLayoutTransferDstOptimal,
			vulkan.PipelineStageTopOfPipeBit, vulkan.PipelineStageTransferBit},
		{vulkan.ImageLayoutTransferDstOptimal, vulkan.ImageLayoutShaderReadOnlyOptimal,
			vulkan.PipelineStageTransferBit, vulkan.PipelineStageFragmentShaderBit},
		{vulkan.ImageLayoutUndefined, vulkan.ImageLayoutGeneral,
			vulkan.PipelineStageTopOfPipeBit, vulkan.PipelineStageComputeShaderBit},
		// The compute-to-graphics handoff.
		{vulkan.ImageLayoutGeneral, vulkan.ImageLayoutShaderReadOnlyOptimal,
			vulkan.PipelineStageComputeShaderBit, vulkan.PipelineStageFragmentShaderBit},
		{vulkan.ImageLayoutShaderReadOnlyOptimal, vulkan.ImageLayoutGeneral,
			vulkan.PipelineStageFragmentShaderBit, vulkan.PipelineStageComputeShaderBit},
	} {
		t.Run(fmt.Sprintf("%d/%d->%d", idx, tc.from, tc.to), func(t *testing.T) {
			tr, err := resolveLayoutTransition(tc.from, tc.to)
			require.NoError(t, err)
			require.Equal(t, vulkan.PipelineStageFlags(tc.srcStage), tr.srcStage)
			require.Equal(t, vulkan.PipelineStageFlags(tc.dstStage), tr.dstStage)
		})
	}
}

func TestResolveLayoutTransitionRejectsUnknownEdges(t *testing.T) {
	for idx, tc := range []struct {
		from, to vulkan.ImageLayout
	}{
		{vulkan.ImageLayoutTransferDstOptimal, vulkan.ImageLayoutGeneral},
		{vulkan.ImageLayoutShaderReadOnlyOptimal, vulkan.ImageLayoutTransferDstOptimal},
		{vulkan.ImageLayoutUndefined, vulkan.ImageLayoutPresentSrc},
		// Identity transitions are never recorded.
		{vulkan.ImageLayoutGeneral, vulkan.ImageLayoutGeneral},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			_, err := resolveLayoutTransition(tc.from, tc.to)
			require.Error(t, err)
		})
	}
}

func TestLayoutTransitionAccessMasks(t *testing.T) {
	tr, err := resolveLayoutTransition(vulkan.ImageLayoutGeneral, vulkan.ImageLayoutShaderReadOnlyOptimal)
	require.NoError(t, err)
	require.Equal(t, vulkan.AccessFlags(vulkan.AccessShaderWriteBit), tr.srcAccess)
	require.Equal(t, vulkan.AccessFlags(vulkan.AccessShaderReadBit), tr.dstAccess)

	tr, err = resolveLayoutTransition(vulkan.ImageLayoutUndefined, vulkan.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)
	require.Zero(t, tr.srcAccess)
	require.Equal(t, vulkan.AccessFlags(vulkan.AccessTransferWriteBit), tr.dstAccess)
}
