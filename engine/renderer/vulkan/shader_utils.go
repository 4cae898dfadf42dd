package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// ShaderModule wraps one SPIR-V module. Modules are released once their pipeline is built.
type ShaderModule struct {
	device *Device
	Handle vk.ShaderModule
}

func (s *ShaderModule) Destroy() {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(s.device.logical, s.Handle, s.device.allocator)
		s.Handle = vk.NullShaderModule
	}
}

func (d *Device) CreateShaderModule(code []uint32) (gpu.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("create shader module: %w: empty SPIR-V", core.ErrContractViolation)
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	m := &ShaderModule{device: d}
	if err := check(vk.CreateShaderModule(d.logical, &info, d.allocator, &m.Handle), "create shader module"); err != nil {
		return nil, err
	}
	return m, nil
}

func shaderStage(stage vk.ShaderStageFlagBits, module gpu.ShaderModule, entry string) vk.PipelineShaderStageCreateInfo {
	if entry == "" {
		entry = "main"
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: module.(*ShaderModule).Handle,
		PName:  VulkanSafeString(entry),
	}
}
