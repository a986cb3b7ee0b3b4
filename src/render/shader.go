package render

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
)

// spirvMagic is the first word of every valid SPIR-V binary.
const spirvMagic uint32 = 0x07230203

// validateSpirv checks the structural preconditions a binary must meet
// before it can be handed to module creation: word-aligned length and
// the SPIR-V magic number in the first word.
func validateSpirv(code []byte) error {
	if len(code) == 0 {
		return errors.Wrap(ErrInvalidShaderBinary, "empty input")
	}
	if len(code)%4 != 0 {
		return errors.Wrapf(ErrInvalidShaderBinary,
			"length %d is not a multiple of 4", len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return errors.Wrapf(ErrInvalidShaderBinary,
			"magic 0x%08x, want 0x%08x", magic, spirvMagic)
	}
	return nil
}

// bytesToWords reinterprets a validated binary as the uint32 word stream
// the module create info expects.
func bytesToWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

// LoadShaderModule validates and wraps a SPIR-V binary. The returned
// module can be destroyed as soon as every pipeline using it is built.
func (dc *DeviceContext) LoadShaderModule(code []byte) (vulkan.ShaderModule, error) {
	if err := validateSpirv(code); err != nil {
		return vulkan.NullShaderModule, err
	}
	info := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    bytesToWords(code),
	}
	var module vulkan.ShaderModule
	if err := NewError("vkCreateShaderModule", vulkan.CreateShaderModule(dc.device, &info, nil, &module)); err != nil {
		return vulkan.NullShaderModule, err
	}
	return module, nil
}
