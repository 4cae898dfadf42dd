package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type Framebuffer struct {
	device *Device
	Handle vk.Framebuffer
	extent gpu.Extent2D
}

func (f *Framebuffer) Extent() gpu.Extent2D { return f.extent }

func (f *Framebuffer) Destroy() {
	if f.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(f.device.logical, f.Handle, f.device.allocator)
		f.Handle = vk.NullFramebuffer
	}
}

// CreateFramebuffer binds the views of attachments, in render pass order, to pass.
func (d *Device) CreateFramebuffer(pass gpu.RenderPass, attachments []gpu.Image, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		views[i] = a.(*Image).View
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.(*Renderpass).Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	fb := &Framebuffer{device: d, extent: extent}
	if err := check(vk.CreateFramebuffer(d.logical, &info, d.allocator, &fb.Handle), "create framebuffer"); err != nil {
		return nil, err
	}
	return fb, nil
}
