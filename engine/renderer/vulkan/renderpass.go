package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Renderpass is a single subpass pass with one color attachment and an optional depth
// attachment. Both are cleared on load.
type Renderpass struct {
	device   *Device
	Handle   vk.RenderPass
	hasDepth bool
}

func (r *Renderpass) Destroy() {
	if r.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(r.device.logical, r.Handle, r.device.allocator)
		r.Handle = vk.NullRenderPass
	}
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	attachments := []vk.AttachmentDescription{
		{
			Format:         toVkFormat(desc.ColorFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  toVkLayout(desc.ColorInitialLayout),
			FinalLayout:    toVkLayout(desc.ColorFinalLayout),
		},
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{
			{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal},
		},
	}

	srcStage := vk.PipelineStageColorAttachmentOutputBit
	dstAccess := vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit
	hasDepth := desc.DepthFormat != gpu.FormatUndefined
	if hasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		srcStage |= vk.PipelineStageEarlyFragmentTestsBit
		dstAccess |= vk.AccessDepthStencilAttachmentWriteBit
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(srcStage),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(srcStage),
		DstAccessMask: vk.AccessFlags(dstAccess),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	rp := &Renderpass{device: d, hasDepth: hasDepth}
	if err := check(vk.CreateRenderPass(d.logical, &info, d.allocator, &rp.Handle), "create render pass"); err != nil {
		return nil, err
	}
	return rp, nil
}
