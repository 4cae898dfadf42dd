package vulkan

import "math"

const engineName = "Prism"

const validationLayer = "VK_LAYER_KHRONOS_validation"

/**
 * @brief Device extensions every selected GPU must expose. VK_KHR_portability_subset is
 * added on top when the driver lists it.
 */
var requiredDeviceExtensions = []string{
	"VK_KHR_swapchain",
	"VK_KHR_acceleration_structure",
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_deferred_host_operations",
}

const portabilitySubsetExtension = "VK_KHR_portability_subset"

// waitForever is the timeout of fence waits and image acquisition.
const waitForever uint64 = math.MaxUint64
