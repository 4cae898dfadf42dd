package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Device implements gpu.Device on top of a Vulkan 1.2 device with the KHR ray tracing
// extensions.
type Device struct {
	opts Options

	instance    vk.Instance
	allocator   *vk.AllocationCallbacks
	surface     vk.Surface
	window      Surface
	debugReport vk.DebugReportCallback

	physical   vk.PhysicalDevice
	logical    vk.Device
	extensions []string

	graphicsQueueIndex uint32
	presentQueueIndex  uint32
	graphicsQueue      vk.Queue
	presentQueue       vk.Queue
	commandPool        vk.CommandPool

	properties  vk.PhysicalDeviceProperties
	memory      vk.PhysicalDeviceMemoryProperties
	anisotropy  bool
	maxSampler  float32
	depthFormat vk.Format

	khr *khrTable
	rt  rayTracingLimits

	locks *lockPool
}

var _ gpu.Device = (*Device)(nil)

// FindMemoryIndex returns the first memory type allowed by typeFilter that has all of
// propertyFlags.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		memType := d.memory.MemoryTypes[i]
		memType.Deref()
		if typeFilter&(1<<i) != 0 && memType.PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return 0, gpu.Fatal("find memory type", fmt.Errorf("no type in filter %#x has flags %#x", typeFilter, uint32(propertyFlags)))
}

func (d *Device) DepthFormat() gpu.Format {
	return fromVkFormat(d.depthFormat)
}

func (d *Device) RayTracingProperties() gpu.RayTracingProperties {
	return gpu.RayTracingProperties{
		HandleSize:        d.rt.HandleSize,
		HandleAlignment:   d.rt.HandleAlignment,
		BaseAlignment:     d.rt.BaseAlignment,
		MaxRecursionDepth: d.rt.MaxRecursion,
	}
}

func (d *Device) ScratchAlignment() uint64 {
	if d.rt.ScratchAlignment == 0 {
		return 1
	}
	return uint64(d.rt.ScratchAlignment)
}

func (d *Device) WaitIdle() error {
	return d.locks.SafeQueueCall(d.graphicsQueueIndex, func() error {
		return check(vk.DeviceWaitIdle(d.logical), "wait for device idle")
	})
}
