package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

const (
	deviceLocalBit = vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyDeviceLocalBit)
	hostVisibleBit = vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyHostVisibleBit)
	hostCohBit     = vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyHostCoherentBit)
	hostCachedBit  = vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyHostCachedBit)
)

// discreteGpuTypes mirrors a typical discrete GPU memory type table:
// device-local heap, plain host-visible, cached host-visible, unified.
var discreteGpuTypes = []memoryType{
	{flags: deviceLocalBit},
	{flags: hostVisibleBit | hostCohBit},
	{flags: hostVisibleBit | hostCohBit | hostCachedBit},
	{flags: deviceLocalBit | hostVisibleBit | hostCohBit},
}

const allTypes = uint32(0b1111)

func TestPickMemoryType(t *testing.T) {
	for idx, tc := range []struct {
		types   []memoryType
		filter  uint32
		pattern MemoryPattern
		want    int
		ok      bool
	}{
		{discreteGpuTypes, allTypes, GpuOnly, 0, true},
		// CpuToGpu prefers the unified type over plain host-visible.
		{discreteGpuTypes, allTypes, CpuToGpu, 3, true},
		// Without the unified type, falls back to plain host-visible.
		{discreteGpuTypes, 0b0010, CpuToGpu, 1, true},
		// GpuToCpu prefers cached host memory.
		{discreteGpuTypes, allTypes, GpuToCpu, 2, true},
		{discreteGpuTypes, 0b0010, GpuToCpu, 1, true},
		// Filter excludes everything usable.
		{discreteGpuTypes, 0, GpuOnly, 0, false},
		{[]memoryType{{flags: hostVisibleBit | hostCohBit}}, 1, GpuOnly, 0, false},
		{nil, allTypes, CpuToGpu, 0, false},
	} {
		t.Run(fmt.Sprintf("%d/%s", idx, tc.pattern), func(t *testing.T) {
			got, ok := pickMemoryType(tc.types, tc.filter, tc.pattern)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestHasFlags(t *testing.T) {
	require.True(t, hasFlags(deviceLocalBit|hostVisibleBit, deviceLocalBit))
	require.True(t, hasFlags(deviceLocalBit, 0))
	require.False(t, hasFlags(hostVisibleBit, deviceLocalBit))
	require.False(t, hasFlags(hostVisibleBit, hostVisibleBit|hostCohBit))
}

func TestMemoryPatternString(t *testing.T) {
	require.Equal(t, "gpu-only", GpuOnly.String())
	require.Equal(t, "cpu-to-gpu", CpuToGpu.String())
	require.Equal(t, "gpu-to-cpu", GpuToCpu.String())
	require.Equal(t, "unknown", MemoryPattern(99).String())
}

func TestRawImageValidate(t *testing.T) {
	for idx, tc := range []struct {
		img RawImage
		ok  bool
	}{
		{RawImage{Width: 2, Height: 2, Pix: make([]byte, 16)}, true},
		{RawImage{Width: 1, Height: 1, Pix: make([]byte, 4)}, true},
		{RawImage{Width: 2, Height: 2, Pix: make([]byte, 15)}, false},
		{RawImage{Width: 0, Height: 2, Pix: nil}, false},
		{RawImage{Width: 2, Height: 0, Pix: nil}, false},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			err := tc.img.validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
