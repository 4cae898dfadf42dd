package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Image is a 2D, single mip image with a view. Swapchain images are not owned: Destroy
// leaves them to the swapchain.
type Image struct {
	device *Device
	Handle vk.Image
	View   vk.ImageView
	memory vk.DeviceMemory
	format vk.Format
	extent gpu.Extent2D
	owned  bool
}

func (i *Image) Extent() gpu.Extent2D { return i.extent }

func (i *Image) Format() gpu.Format { return fromVkFormat(i.format) }

func (i *Image) aspect() vk.ImageAspectFlags {
	if fromVkFormat(i.format).IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func (i *Image) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     i.aspect(),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (i *Image) createView() error {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    i.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   i.format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: i.subresourceRange(),
	}
	return check(vk.CreateImageView(i.device.logical, &info, i.device.allocator, &i.View), "create image view")
}

func (i *Image) destroyView() {
	if i.View != vk.NullImageView {
		vk.DestroyImageView(i.device.logical, i.View, i.device.allocator)
		i.View = vk.NullImageView
	}
}

func (i *Image) Destroy() {
	if !i.owned {
		return
	}
	i.destroyView()
	if i.Handle != vk.NullImage {
		vk.DestroyImage(i.device.logical, i.Handle, i.device.allocator)
		i.Handle = vk.NullImage
	}
	if i.memory != vk.NullDeviceMemory {
		vk.FreeMemory(i.device.logical, i.memory, i.device.allocator)
		i.memory = vk.NullDeviceMemory
	}
}

// CreateImage allocates a device local, optimally tiled image and its view.
func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	img := &Image{
		device: d,
		format: toVkFormat(desc.Format),
		extent: desc.Extent,
		owned:  true,
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        img.format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         toVkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}
	if err := check(vk.CreateImage(d.logical, &info, d.allocator, &img.Handle), "create image"); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical, img.Handle, &req)
	req.Deref()
	index, err := d.FindMemoryIndex(req.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, err
	}
	alloc := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}
	if err := check(vk.AllocateMemory(d.logical, &alloc, d.allocator, &img.memory), "allocate image memory"); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := check(vk.BindImageMemory(d.logical, img.Handle, img.memory, 0), "bind image memory"); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := img.createView(); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

type Sampler struct {
	device *Device
	Handle vk.Sampler
}

func (s *Sampler) Destroy() {
	if s.Handle != vk.NullSampler {
		vk.DestroySampler(s.device.logical, s.Handle, s.device.allocator)
		s.Handle = vk.NullSampler
	}
}

// CreateSampler creates the linear, repeating sampler every material texture uses.
func (d *Device) CreateSampler() (gpu.Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MaxLod:                  1,
	}
	if d.anisotropy {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = d.maxSampler
	}
	s := &Sampler{device: d}
	if err := check(vk.CreateSampler(d.logical, &info, d.allocator, &s.Handle), "create sampler"); err != nil {
		return nil, err
	}
	return s, nil
}
