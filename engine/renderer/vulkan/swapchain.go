package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type Swapchain struct {
	device *Device
	Handle vk.Swapchain
	format vk.Format
	extent gpu.Extent2D
	images []*Image
}

func (s *Swapchain) Extent() gpu.Extent2D { return s.extent }

func (s *Swapchain) Format() gpu.Format { return fromVkFormat(s.format) }

func (s *Swapchain) ImageCount() int { return len(s.images) }

func (s *Swapchain) Image(i int) gpu.Image { return s.images[i] }

// Destroy releases the image views and the swapchain. The images belong to the swapchain.
func (s *Swapchain) Destroy() {
	for _, img := range s.images {
		img.destroyView()
	}
	s.images = nil
	if s.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.logical, s.Handle, s.device.allocator)
		s.Handle = vk.NullSwapchain
	}
}

func (d *Device) SurfaceCapabilities() (gpu.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps), "query surface capabilities"); err != nil {
		return gpu.SurfaceCapabilities{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return gpu.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    gpu.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		ExtentFromWindow: caps.CurrentExtent.Width == math.MaxUint32,
		MinExtent:        gpu.Extent2D{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxExtent:        gpu.Extent2D{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
	}, nil
}

func (d *Device) chooseSurfaceFormat() (vk.SurfaceFormat, error) {
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil), "query surface formats"); err != nil {
		return vk.SurfaceFormat{}, err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, formats), "query surface formats"); err != nil {
		return vk.SurfaceFormat{}, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	// Preferred formats. The post pass writes display-ready values, so no sRGB encode.
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f, nil
		}
	}
	return formats[0], nil
}

func (d *Device) choosePresentMode() vk.PresentMode {
	if d.opts.VSync {
		return vk.PresentModeFifo
	}
	var count uint32
	if vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil) != vk.Success {
		return vk.PresentModeFifo
	}
	modes := make([]vk.PresentMode, count)
	if vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, modes) != vk.Success {
		return vk.PresentModeFifo
	}
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

// CreateSwapchain builds a swapchain of extent with imageCount images. old, when set, is
// passed to the driver for reuse; the caller destroys it afterwards.
func (d *Device) CreateSwapchain(extent gpu.Extent2D, imageCount uint32, old gpu.Swapchain) (gpu.Swapchain, error) {
	format, err := d.chooseSurfaceFormat()
	if err != nil {
		return nil, err
	}
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps), "query surface capabilities"); err != nil {
		return nil, err
	}
	caps.Deref()

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      vk.Extent2D{Width: extent.Width, Height: extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      d.choosePresentMode(),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if d.graphicsQueueIndex != d.presentQueueIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.graphicsQueueIndex, d.presentQueueIndex}
	} else {
		info.ImageSharingMode = vk.SharingModeExclusive
	}
	if old != nil {
		info.OldSwapchain = old.(*Swapchain).Handle
	}

	sc := &Swapchain{device: d, format: format.Format, extent: extent}
	if err := check(vk.CreateSwapchain(d.logical, &info, d.allocator, &sc.Handle), "create swapchain"); err != nil {
		return nil, err
	}

	var count uint32
	if err := check(vk.GetSwapchainImages(d.logical, sc.Handle, &count, nil), "get swapchain images"); err != nil {
		sc.Destroy()
		return nil, err
	}
	handles := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.logical, sc.Handle, &count, handles), "get swapchain images"); err != nil {
		sc.Destroy()
		return nil, err
	}
	for _, h := range handles {
		img := &Image{device: d, Handle: h, format: format.Format, extent: extent}
		if err := img.createView(); err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.images = append(sc.images, img)
	}
	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, count)
	return sc, nil
}

func statusOf(res vk.Result) (gpu.Status, bool) {
	switch res {
	case vk.Success:
		return gpu.StatusOK, true
	case vk.Suboptimal:
		return gpu.StatusSuboptimal, true
	case vk.ErrorOutOfDate:
		return gpu.StatusOutOfDate, true
	}
	return gpu.StatusOK, false
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, signal gpu.Semaphore) (uint32, gpu.Status, error) {
	var index uint32
	res := vk.AcquireNextImage(d.logical, sc.(*Swapchain).Handle, waitForever, semaphoreHandle(signal), vk.NullFence, &index)
	if status, ok := statusOf(res); ok {
		return index, status, nil
	}
	return 0, gpu.StatusOK, check(res, "acquire swapchain image")
}

func (d *Device) Present(sc gpu.Swapchain, imageIndex uint32, wait gpu.Semaphore) (gpu.Status, error) {
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{sc.(*Swapchain).Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{semaphoreHandle(wait)}
	}
	var res vk.Result
	d.locks.SafeQueueCall(d.presentQueueIndex, func() error {
		res = vk.QueuePresent(d.presentQueue, &info)
		return nil
	})
	if status, ok := statusOf(res); ok {
		return status, nil
	}
	return gpu.StatusOK, check(res, "present")
}
