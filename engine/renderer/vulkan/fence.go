package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type Fence struct {
	device *Device
	Handle vk.Fence
}

func (f *Fence) Destroy() {
	if f.Handle != nil {
		vk.DestroyFence(f.device.logical, f.Handle, f.device.allocator)
		f.Handle = nil
	}
}

type Semaphore struct {
	device *Device
	Handle vk.Semaphore
}

func (s *Semaphore) Destroy() {
	if s.Handle != nil {
		vk.DestroySemaphore(s.device.logical, s.Handle, s.device.allocator)
		s.Handle = nil
	}
}

// CreateFence creates a fence, optionally already signaled so the first wait on it returns.
func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := check(vk.CreateFence(d.logical, &info, d.allocator, &handle), "create fence"); err != nil {
		return nil, err
	}
	return &Fence{device: d, Handle: handle}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if err := check(vk.CreateSemaphore(d.logical, &info, d.allocator, &handle), "create semaphore"); err != nil {
		return nil, err
	}
	return &Semaphore{device: d, Handle: handle}, nil
}

func (d *Device) WaitFence(f gpu.Fence) error {
	fence := f.(*Fence)
	result := vk.WaitForFences(d.logical, 1, []vk.Fence{fence.Handle}, vk.True, waitForever)
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result))
	}
	return check(result, "wait for fence")
}

func (d *Device) ResetFence(f gpu.Fence) error {
	fence := f.(*Fence)
	return check(vk.ResetFences(d.logical, 1, []vk.Fence{fence.Handle}), "reset fence")
}

func semaphoreHandle(s gpu.Semaphore) vk.Semaphore {
	if s == nil {
		return vk.NullSemaphore
	}
	return s.(*Semaphore).Handle
}

func fenceHandle(f gpu.Fence) vk.Fence {
	if f == nil {
		return vk.NullFence
	}
	return f.(*Fence).Handle
}
