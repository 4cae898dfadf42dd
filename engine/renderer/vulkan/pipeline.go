package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type PipelineLayout struct {
	device *Device
	Handle vk.PipelineLayout
}

func (l *PipelineLayout) Destroy() {
	if l.Handle != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(l.device.logical, l.Handle, l.device.allocator)
		l.Handle = vk.NullPipelineLayout
	}
}

/**
 * @brief Holds a Vulkan pipeline. The layout is shared and owned by whoever created it.
 */
type Pipeline struct {
	device    *Device
	Handle    vk.Pipeline
	layout    *PipelineLayout
	bindPoint gpu.BindPoint
}

func (p *Pipeline) Layout() gpu.PipelineLayout { return p.layout }

func (p *Pipeline) BindPoint() gpu.BindPoint { return p.bindPoint }

func (p *Pipeline) vkBindPoint() vk.PipelineBindPoint {
	if p.bindPoint == gpu.BindPointRayTracing {
		return pipelineBindPointRayTracing
	}
	return vk.PipelineBindPointGraphics
}

func (p *Pipeline) Destroy() {
	if p.Handle != vk.NullPipeline {
		vk.DestroyPipeline(p.device.logical, p.Handle, p.device.allocator)
		p.Handle = vk.NullPipeline
	}
}

func (d *Device) CreatePipelineLayout(sets []gpu.DescriptorSetLayout, push []gpu.PushConstantRange) (gpu.PipelineLayout, error) {
	// Only 128 bytes of push constants are guaranteed, so at most 32 ranges of 4 bytes.
	if len(push) > 32 {
		return nil, fmt.Errorf("create pipeline layout: %w: cannot have more than 32 push constant ranges, got %d", core.ErrContractViolation, len(push))
	}
	layouts := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		layouts[i] = s.(*DescriptorSetLayout).Handle
	}
	ranges := make([]vk.PushConstantRange, len(push))
	for i, r := range push {
		ranges[i] = vk.PushConstantRange{
			StageFlags: toVkStages(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	l := &PipelineLayout{device: d}
	if err := check(vk.CreatePipelineLayout(d.logical, &info, d.allocator, &l.Handle), "create pipeline layout"); err != nil {
		return nil, err
	}
	return l, nil
}

// CreateGraphicsPipeline builds a triangle list pipeline with dynamic viewport and scissor.
func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	layout := desc.Layout.(*PipelineLayout)
	stages := []vk.PipelineShaderStageCreateInfo{
		shaderStage(vk.ShaderStageVertexBit, desc.Vertex, desc.VertexEntry),
		shaderStage(vk.ShaderStageFragmentBit, desc.Fragment, desc.FragmentEntry),
	}

	// Viewport and scissor are dynamic; the counts still have to be declared.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.CullBack {
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}

	blend := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if desc.Blend {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.ColorBlendOp = vk.BlendOpAdd
		blend.SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.AlphaBlendOp = vk.BlendOpAdd
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if desc.VertexInput != nil {
		attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexInput.Attributes))
		for i, a := range desc.VertexInput.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   vertexFormat(a.Components),
				Offset:   a.Offset,
			}
		}
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexInput.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInput.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInput.PVertexAttributeDescriptions = attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              layout.Handle,
		RenderPass:          desc.RenderPass.(*Renderpass).Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.logical, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, d.allocator, pipelines)
	if err := check(res, "create graphics pipeline "+desc.Label); err != nil {
		return nil, err
	}
	core.LogDebug("Graphics pipeline %s created.", desc.Label)
	return &Pipeline{device: d, Handle: pipelines[0], layout: layout, bindPoint: gpu.BindPointGraphics}, nil
}

func modules(list []gpu.ShaderModule) []vk.ShaderModule {
	out := make([]vk.ShaderModule, len(list))
	for i, m := range list {
		out[i] = m.(*ShaderModule).Handle
	}
	return out
}

// CreateRayTracingPipeline creates the pipeline with its groups in the order raygen, miss
// shaders, hit groups.
func (d *Device) CreateRayTracingPipeline(desc gpu.RayTracingPipelineDesc) (gpu.Pipeline, error) {
	if desc.MaxRecursion > d.rt.MaxRecursion {
		return nil, fmt.Errorf("create ray tracing pipeline %s: %w: recursion %d exceeds device limit %d",
			desc.Label, core.ErrContractViolation, desc.MaxRecursion, d.rt.MaxRecursion)
	}
	layout := desc.Layout.(*PipelineLayout)
	handle, res := d.khr.createRayTracingPipeline(d.logical, layout.Handle,
		desc.Raygen.(*ShaderModule).Handle, modules(desc.Miss), modules(desc.ClosestHit), desc.MaxRecursion)
	if err := check(res, "create ray tracing pipeline "+desc.Label); err != nil {
		return nil, err
	}
	core.LogDebug("Ray tracing pipeline %s created with %d groups.", desc.Label, 1+len(desc.Miss)+len(desc.ClosestHit))
	return &Pipeline{device: d, Handle: handle, layout: layout, bindPoint: gpu.BindPointRayTracing}, nil
}

func (d *Device) ShaderGroupHandles(p gpu.Pipeline, first, count uint32) ([]byte, error) {
	pipeline := p.(*Pipeline)
	if pipeline.bindPoint != gpu.BindPointRayTracing {
		return nil, fmt.Errorf("shader group handles: %w: not a ray tracing pipeline", core.ErrContractViolation)
	}
	data, res := d.khr.groupHandles(d.logical, pipeline.Handle, first, count, d.rt.HandleSize)
	if err := check(res, "get shader group handles"); err != nil {
		return nil, err
	}
	return data, nil
}
