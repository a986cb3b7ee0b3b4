package render

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
)

func TestVertexLayout(t *testing.T) {
	require.Equal(t, uint32(32), vertexStride)

	attrs := vertexAttributeDescriptions()
	require.Len(t, attrs, 3)
	require.Equal(t, uint32(0), attrs[0].Offset)
	require.Equal(t, uint32(12), attrs[1].Offset)
	require.Equal(t, uint32(20), attrs[2].Offset)
	require.Equal(t, vulkan.FormatR32g32b32Sfloat, attrs[0].Format)
	require.Equal(t, vulkan.FormatR32g32Sfloat, attrs[1].Format)
	require.Equal(t, vulkan.FormatR32g32b32Sfloat, attrs[2].Format)

	binding := vertexBindingDescription()
	require.Equal(t, vertexStride, binding.Stride)
	require.Equal(t, vulkan.VertexInputRateVertex, binding.InputRate)
}

func TestVerticesToBytes(t *testing.T) {
	require.Nil(t, verticesToBytes(nil))

	vs := []Vertex{
		{Pos: lin.Vec3{1, 2, 3}, UV: [2]float32{0, 1}, Color: lin.Vec3{1, 0, 0}},
		{Pos: lin.Vec3{4, 5, 6}, UV: [2]float32{1, 0}, Color: lin.Vec3{0, 1, 0}},
	}
	raw := verticesToBytes(vs)
	require.Len(t, raw, 64)

	// The view aliases the slice, not a copy.
	require.Equal(t, unsafe.Pointer(&vs[0]), unsafe.Pointer(&raw[0]))
}

func TestIndicesToBytes(t *testing.T) {
	require.Nil(t, indicesToBytes(nil))
	raw := indicesToBytes([]uint32{1, 2, 3})
	require.Len(t, raw, 12)
	// Little-endian layout of the first index.
	require.Equal(t, byte(1), raw[0])
	require.Equal(t, byte(0), raw[1])
}

func TestPushConstantsFitBudget(t *testing.T) {
	require.LessOrEqual(t, int(unsafe.Sizeof(PushConstants{})), MaxPushConstantBytes)

	p := PushConstants{Tint: lin.Vec4{1, 1, 1, 1}}
	require.Len(t, p.bytes(), int(unsafe.Sizeof(p)))
}

func TestFrameUniformsBytes(t *testing.T) {
	var u FrameUniforms
	u.Transform.Identity()
	raw := u.bytes()
	require.Len(t, raw, 64)
}
