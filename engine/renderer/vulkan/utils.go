package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

var resultNames = map[vk.Result]string{
	vk.Success:                          "VK_SUCCESS",
	vk.NotReady:                         "VK_NOT_READY",
	vk.Timeout:                          "VK_TIMEOUT",
	vk.EventSet:                         "VK_EVENT_SET",
	vk.EventReset:                       "VK_EVENT_RESET",
	vk.Incomplete:                       "VK_INCOMPLETE",
	vk.Suboptimal:                       "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:             "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:           "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed:        "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:                  "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:             "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:             "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:         "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:           "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:          "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:              "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:          "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:              "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:                 "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:           "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:                   "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:         "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:             "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorInvalidExternalHandle:       "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	vk.ErrorFragmentation:               "VK_ERROR_FRAGMENTATION",
	vk.ErrorInvalidDeviceAddress:        "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT",
	vk.ErrorUnknown:                     "VK_ERROR_UNKNOWN",
	vk.PipelineCompileRequired:          "VK_PIPELINE_COMPILE_REQUIRED_EXT",
	vk.ErrorFullScreenExclusiveModeLost: "VK_ERROR_FULL_SCREEN_EXCLUSIVE_MODE_LOST_EXT",
}

func VulkanResultString(result vk.Result) string {
	if name, ok := resultNames[result]; ok {
		return name
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

// VulkanResultIsSuccess reports whether result is one of the success codes. Error codes are
// all negative.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// check turns any result other than VK_SUCCESS into a fatal error.
func check(result vk.Result, what string) error {
	if result == vk.Success {
		return nil
	}
	return gpu.Fatal(what, errors.New(VulkanResultString(result)))
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// FixedString converts a zero-terminated fixed-size name (layer, extension, device) to a string.
func FixedString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

var formats = map[gpu.Format]vk.Format{
	gpu.FormatBGRA8Unorm:  vk.FormatB8g8r8a8Unorm,
	gpu.FormatBGRA8Srgb:   vk.FormatB8g8r8a8Srgb,
	gpu.FormatRGBA8Unorm:  vk.FormatR8g8b8a8Unorm,
	gpu.FormatRGBA8Srgb:   vk.FormatR8g8b8a8Srgb,
	gpu.FormatRGBA16Float: vk.FormatR16g16b16a16Sfloat,
	gpu.FormatRGBA32Float: vk.FormatR32g32b32a32Sfloat,
	gpu.FormatD32Float:    vk.FormatD32Sfloat,
	gpu.FormatD32FloatS8:  vk.FormatD32SfloatS8Uint,
	gpu.FormatD24UnormS8:  vk.FormatD24UnormS8Uint,
}

func toVkFormat(f gpu.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func fromVkFormat(f vk.Format) gpu.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return gpu.FormatUndefined
}

func vertexFormat(components uint32) vk.Format {
	switch components {
	case 1:
		return vk.FormatR32Sfloat
	case 2:
		return vk.FormatR32g32Sfloat
	case 3:
		return vk.FormatR32g32b32Sfloat
	default:
		return vk.FormatR32g32b32a32Sfloat
	}
}

func toVkStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	pairs := []struct {
		from gpu.ShaderStage
		to   vk.ShaderStageFlagBits
	}{
		{gpu.StageVertex, vk.ShaderStageVertexBit},
		{gpu.StageFragment, vk.ShaderStageFragmentBit},
		{gpu.StageCompute, vk.ShaderStageComputeBit},
		{gpu.StageRaygen, stageRaygen},
		{gpu.StageMiss, stageMiss},
		{gpu.StageClosestHit, stageClosestHit},
		{gpu.StageAnyHit, stageAnyHit},
		{gpu.StageCallable, stageCallable},
	}
	for _, p := range pairs {
		if s&p.from != 0 {
			out |= p.to
		}
	}
	return vk.ShaderStageFlags(out)
}

func toVkBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	pairs := []struct {
		from gpu.BufferUsage
		to   vk.BufferUsageFlagBits
	}{
		{gpu.BufferUsageTransferSrc, vk.BufferUsageTransferSrcBit},
		{gpu.BufferUsageTransferDst, vk.BufferUsageTransferDstBit},
		{gpu.BufferUsageUniform, vk.BufferUsageUniformBufferBit},
		{gpu.BufferUsageStorage, vk.BufferUsageStorageBufferBit},
		{gpu.BufferUsageVertex, vk.BufferUsageVertexBufferBit},
		{gpu.BufferUsageIndex, vk.BufferUsageIndexBufferBit},
		{gpu.BufferUsageDeviceAddress, bufferUsageDeviceAddress},
		{gpu.BufferUsageAccelStorage, bufferUsageAccelStorage},
		{gpu.BufferUsageAccelBuildInput, bufferUsageAccelBuildInput},
		{gpu.BufferUsageShaderBindingTable, bufferUsageShaderBindingTable},
	}
	for _, p := range pairs {
		if u&p.from != 0 {
			out |= p.to
		}
	}
	return vk.BufferUsageFlags(out)
}

func toVkImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	pairs := []struct {
		from gpu.ImageUsage
		to   vk.ImageUsageFlagBits
	}{
		{gpu.ImageUsageSampled, vk.ImageUsageSampledBit},
		{gpu.ImageUsageStorage, vk.ImageUsageStorageBit},
		{gpu.ImageUsageColorAttachment, vk.ImageUsageColorAttachmentBit},
		{gpu.ImageUsageDepthAttachment, vk.ImageUsageDepthStencilAttachmentBit},
		{gpu.ImageUsageTransferDst, vk.ImageUsageTransferDstBit},
		{gpu.ImageUsageTransferSrc, vk.ImageUsageTransferSrcBit},
	}
	for _, p := range pairs {
		if u&p.from != 0 {
			out |= p.to
		}
	}
	return vk.ImageUsageFlags(out)
}

func toVkDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case gpu.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case gpu.DescriptorSampledImage:
		return vk.DescriptorTypeSampledImage
	case gpu.DescriptorSampler:
		return vk.DescriptorTypeSampler
	case gpu.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	default:
		return descriptorTypeAccel
	}
}

// syncPoint is where an Access or a Layout sits in the pipeline.
type syncPoint struct {
	stage  vk.PipelineStageFlagBits
	access vk.AccessFlagBits
}

func accessSync(a gpu.Access) syncPoint {
	switch a {
	case gpu.AccessHostWrite:
		return syncPoint{vk.PipelineStageHostBit, vk.AccessHostWriteBit}
	case gpu.AccessTransferRead:
		return syncPoint{vk.PipelineStageTransferBit, vk.AccessTransferReadBit}
	case gpu.AccessTransferWrite:
		return syncPoint{vk.PipelineStageTransferBit, vk.AccessTransferWriteBit}
	case gpu.AccessShaderRead:
		return syncPoint{vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | pipelineStageRayTracing,
			vk.AccessShaderReadBit | vk.AccessUniformReadBit}
	case gpu.AccessAccelBuildRead:
		return syncPoint{pipelineStageAccelBuild, accessAccelRead | vk.AccessShaderReadBit}
	case gpu.AccessAccelBuildWrite:
		return syncPoint{pipelineStageAccelBuild, accessAccelWrite}
	case gpu.AccessRayTracingRead:
		return syncPoint{pipelineStageRayTracing, accessAccelRead | vk.AccessShaderReadBit}
	default:
		return syncPoint{vk.PipelineStageTopOfPipeBit, 0}
	}
}

func toVkLayout(l gpu.Layout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

func layoutSync(l gpu.Layout) syncPoint {
	switch l {
	case gpu.LayoutGeneral:
		return syncPoint{pipelineStageRayTracing, vk.AccessShaderReadBit | vk.AccessShaderWriteBit}
	case gpu.LayoutColorAttachment:
		return syncPoint{vk.PipelineStageColorAttachmentOutputBit, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit}
	case gpu.LayoutDepthAttachment:
		return syncPoint{vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit,
			vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit}
	case gpu.LayoutShaderReadOnly:
		return syncPoint{vk.PipelineStageFragmentShaderBit | pipelineStageRayTracing, vk.AccessShaderReadBit}
	case gpu.LayoutTransferDst:
		return syncPoint{vk.PipelineStageTransferBit, vk.AccessTransferWriteBit}
	case gpu.LayoutPresentSrc:
		return syncPoint{vk.PipelineStageBottomOfPipeBit, 0}
	default:
		return syncPoint{vk.PipelineStageTopOfPipeBit, 0}
	}
}
