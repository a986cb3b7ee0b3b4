package render

import (
	"unsafe"

	"github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
)

// Vertex is the interleaved vertex layout shared between host buffers
// and the vertex shader input declarations: position, texture
// coordinate, color. 32 bytes per vertex.
type Vertex struct {
	Pos   lin.Vec3
	UV    [2]float32
	Color lin.Vec3
}

const vertexStride = uint32(unsafe.Sizeof(Vertex{}))

func vertexBindingDescription() vulkan.VertexInputBindingDescription {
	return vulkan.VertexInputBindingDescription{
		Binding:   0,
		Stride:    vertexStride,
		InputRate: vulkan.VertexInputRateVertex,
	}
}

func vertexAttributeDescriptions() []vulkan.VertexInputAttributeDescription {
	return []vulkan.VertexInputAttributeDescription{{
		Location: 0,
		Binding:  0,
		Format:   vulkan.FormatR32g32b32Sfloat,
		Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
	}, {
		Location: 1,
		Binding:  0,
		Format:   vulkan.FormatR32g32Sfloat,
		Offset:   uint32(unsafe.Offsetof(Vertex{}.UV)),
	}, {
		Location: 2,
		Binding:  0,
		Format:   vulkan.FormatR32g32b32Sfloat,
		Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
	}}
}

// verticesToBytes views a vertex slice as the raw bytes a staging upload
// copies.
func verticesToBytes(vs []Vertex) []byte {
	if len(vs) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vs[0])), len(vs)*int(vertexStride))
}

// indicesToBytes views an index slice as raw bytes.
func indicesToBytes(is []uint32) []byte {
	if len(is) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&is[0])), len(is)*4)
}

// FrameUniforms is the per-frame uniform block: one combined
// view-projection transform, filled each frame into the slot's uniform
// buffer.
type FrameUniforms struct {
	Transform lin.Mat4x4
}

func (u *FrameUniforms) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(u)), int(unsafe.Sizeof(*u)))
}

// PushConstants is the per-draw payload pushed into the command stream:
// a model transform and a tint. Must fit the push constant budget.
type PushConstants struct {
	Model lin.Mat4x4
	Tint  lin.Vec4
}

// Compile-time check that the push payload fits the guaranteed budget.
var _ [MaxPushConstantBytes - int(unsafe.Sizeof(PushConstants{}))]byte

func (p *PushConstants) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(unsafe.Sizeof(*p)))
}
