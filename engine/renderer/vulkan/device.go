package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type queueFamilyInfo struct {
	graphics, present       uint32
	hasGraphics, hasPresent bool
}

// candidate is a physical device that passed every requirement.
type candidate struct {
	device     vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	features   vk.PhysicalDeviceFeatures
	memory     vk.PhysicalDeviceMemoryProperties
	queues     queueFamilyInfo
	extensions []string
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "enumerate physical devices"); err != nil {
		return err
	}
	if count == 0 {
		return gpu.Fatal("select physical device", fmt.Errorf("no devices which support Vulkan were found"))
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, devices), "enumerate physical devices"); err != nil {
		return err
	}

	var chosen *candidate
	for _, pd := range devices {
		c, ok := d.evaluate(pd)
		if !ok {
			continue
		}
		// Keep the first suitable device unless a discrete one shows up later.
		if chosen == nil || (chosen.properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu &&
			c.properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu) {
			chosen = c
		}
	}
	if chosen == nil {
		return gpu.Fatal("select physical device", fmt.Errorf("no physical device supports ray tracing and presentation"))
	}

	logDevice(chosen)
	d.physical = chosen.device
	d.properties = chosen.properties
	d.memory = chosen.memory
	d.extensions = chosen.extensions
	d.graphicsQueueIndex = chosen.queues.graphics
	d.presentQueueIndex = chosen.queues.present
	d.anisotropy = chosen.features.SamplerAnisotropy == vk.True
	d.maxSampler = chosen.properties.Limits.MaxSamplerAnisotropy
	core.LogInfo("Physical device selected.")
	return nil
}

func logDevice(c *candidate) {
	core.LogInfo("Selected device: '%s'.", FixedString(c.properties.DeviceName[:]))
	switch c.properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(c.properties.DriverVersion).Major(),
		vk.Version(c.properties.DriverVersion).Minor(),
		vk.Version(c.properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(c.properties.ApiVersion).Major(),
		vk.Version(c.properties.ApiVersion).Minor(),
		vk.Version(c.properties.ApiVersion).Patch(),
	)
	for j := uint32(0); j < c.memory.MemoryHeapCount; j++ {
		heap := c.memory.MemoryHeaps[j]
		heap.Deref()
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func (d *Device) evaluate(pd vk.PhysicalDevice) (*candidate, bool) {
	c := &candidate{device: pd}
	vk.GetPhysicalDeviceProperties(pd, &c.properties)
	c.properties.Deref()
	c.properties.Limits.Deref()
	vk.GetPhysicalDeviceFeatures(pd, &c.features)
	c.features.Deref()
	vk.GetPhysicalDeviceMemoryProperties(pd, &c.memory)
	c.memory.Deref()
	name := FixedString(c.properties.DeviceName[:])

	queues, ok := d.findQueueFamilies(pd)
	if !ok {
		core.LogInfo("Device '%s' lacks a graphics or present queue, skipping.", name)
		return nil, false
	}
	c.queues = queues
	core.LogDebug("Graphics Family Index: %d", queues.graphics)
	core.LogDebug("Present Family Index:  %d", queues.present)

	if !d.hasSwapchainSupport(pd) {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return nil, false
	}

	available, err := deviceExtensions(pd)
	if err != nil {
		core.LogWarn("Unable to list extensions of '%s': %s", name, err)
		return nil, false
	}
	for _, ext := range requiredDeviceExtensions {
		if !available[ext] {
			core.LogInfo("Required extension not found: '%s', skipping device.", ext)
			return nil, false
		}
	}
	c.extensions = append([]string{}, requiredDeviceExtensions...)
	if available[portabilitySubsetExtension] {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtension)
		c.extensions = append(c.extensions, portabilitySubsetExtension)
	}

	if !d.khr.supportsRayTracing(pd) {
		core.LogInfo("Device '%s' does not support ray tracing pipelines, skipping.", name)
		return nil, false
	}
	return c, true
}

func (d *Device) findQueueFamilies(pd vk.PhysicalDevice) (queueFamilyInfo, bool) {
	var info queueFamilyInfo
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	for i, family := range families {
		family.Deref()
		graphics := family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		if graphics && !info.hasGraphics {
			info.graphics = uint32(i)
			info.hasGraphics = true
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent); res != vk.Success {
			continue
		}
		// Prefer a family that does both.
		if supportsPresent.B() && (!info.hasPresent || (graphics && info.graphics == uint32(i))) {
			info.present = uint32(i)
			info.hasPresent = true
		}
	}
	return info, info.hasGraphics && info.hasPresent
}

func (d *Device) hasSwapchainSupport(pd vk.PhysicalDevice) bool {
	var formatCount, modeCount uint32
	if vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, nil) != vk.Success {
		return false
	}
	if vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, nil) != vk.Success {
		return false
	}
	return formatCount > 0 && modeCount > 0
}

func deviceExtensions(pd vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil), "enumerate device extensions"); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateDeviceExtensionProperties(pd, "", &count, props), "enumerate device extensions"); err != nil {
		return nil, err
	}
	out := make(map[string]bool, count)
	for _, p := range props {
		p.Deref()
		out[FixedString(p.ExtensionName[:])] = true
	}
	return out, nil
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	indices := []uint32{d.graphicsQueueIndex}
	if d.presentQueueIndex != d.graphicsQueueIndex {
		indices = append(indices, d.presentQueueIndex)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	features := vk.PhysicalDeviceFeatures{}
	if d.anisotropy {
		features.SamplerAnisotropy = vk.True
	}

	chain, err := d.khr.deviceFeatures()
	if err != nil {
		return err
	}

	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   chain,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(d.extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(d.extensions),
	}
	var device vk.Device
	if err := check(vk.CreateDevice(d.physical, &info, d.allocator, &device), "create logical device"); err != nil {
		return err
	}
	d.logical = device
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(d.logical, d.graphicsQueueIndex, 0, &d.graphicsQueue)
	vk.GetDeviceQueue(d.logical, d.presentQueueIndex, 0, &d.presentQueue)
	core.LogInfo("Queues obtained.")

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.graphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := check(vk.CreateCommandPool(d.logical, &poolInfo, d.allocator, &d.commandPool), "create command pool"); err != nil {
		return err
	}
	core.LogInfo("Graphics command pool created.")
	return nil
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, format := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, format, &props)
		props.Deref()
		if props.OptimalTilingFeatures&flags == flags {
			d.depthFormat = format
			return true
		}
	}
	return false
}
