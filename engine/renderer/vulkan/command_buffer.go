package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type CommandBufferState int

const (
	CommandBufferStateReady CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateInRenderPass
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
	CommandBufferStateNotAllocated
)

type CommandBuffer struct {
	device *Device
	Handle vk.CommandBuffer
	State  CommandBufferState
}

var _ gpu.CommandBuffer = (*CommandBuffer)(nil)

func (d *Device) allocateCommandBuffer() (*CommandBuffer, error) {
	cb := &CommandBuffer{device: d, State: CommandBufferStateNotAllocated}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(d.logical, &info, handles), "allocate command buffer")
	}); err != nil {
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = CommandBufferStateReady
	return cb, nil
}

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	return d.allocateCommandBuffer()
}

func (c *CommandBuffer) Destroy() {
	if c.Handle == nil {
		return
	}
	c.device.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(c.device.logical, c.device.commandPool, 1, []vk.CommandBuffer{c.Handle})
		return nil
	})
	c.Handle = nil
	c.State = CommandBufferStateNotAllocated
}

func (c *CommandBuffer) Reset() error {
	if err := check(vk.ResetCommandBuffer(c.Handle, 0), "reset command buffer"); err != nil {
		return err
	}
	c.State = CommandBufferStateReady
	return nil
}

func (c *CommandBuffer) Begin(oneTime bool) error {
	if c.State != CommandBufferStateReady {
		return fmt.Errorf("begin command buffer: %w: state %d", core.ErrContractViolation, c.State)
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTime {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := check(vk.BeginCommandBuffer(c.Handle, &info), "begin command buffer"); err != nil {
		return err
	}
	c.State = CommandBufferStateRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if err := check(vk.EndCommandBuffer(c.Handle), "end command buffer"); err != nil {
		return err
	}
	c.State = CommandBufferStateRecordingEnded
	return nil
}

func (c *CommandBuffer) BeginRenderPass(pass gpu.RenderPass, fb gpu.Framebuffer, clear []gpu.ClearValue) {
	rp := pass.(*Renderpass)
	framebuffer := fb.(*Framebuffer)
	values := make([]vk.ClearValue, 0, 2)
	if len(clear) > 0 {
		values = append(values, vk.NewClearValue(clear[0].Color[:]))
	}
	if rp.hasDepth {
		depth := float32(1)
		if len(clear) > 1 {
			depth = clear[1].Depth
		}
		values = append(values, vk.NewClearDepthStencil(depth, 0))
	}
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: framebuffer.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: framebuffer.extent.Width, Height: framebuffer.extent.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(c.Handle, &info, vk.SubpassContentsInline)
	c.State = CommandBufferStateInRenderPass
}

func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.Handle)
	c.State = CommandBufferStateRecording
}

func (c *CommandBuffer) SetViewportScissor(extent gpu.Extent2D) {
	vk.CmdSetViewport(c.Handle, 0, 1, []vk.Viewport{{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(c.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
	}})
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	pipeline := p.(*Pipeline)
	vk.CmdBindPipeline(c.Handle, pipeline.vkBindPoint(), pipeline.Handle)
}

func (c *CommandBuffer) BindDescriptorSets(p gpu.Pipeline, firstSet uint32, sets ...gpu.DescriptorSet) {
	if len(sets) == 0 {
		return
	}
	pipeline := p.(*Pipeline)
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = s.(*DescriptorSet).Handle
	}
	vk.CmdBindDescriptorSets(c.Handle, pipeline.vkBindPoint(), pipeline.layout.Handle, firstSet, uint32(len(handles)), handles, 0, nil)
}

func (c *CommandBuffer) PushConstants(p gpu.Pipeline, stages gpu.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	pipeline := p.(*Pipeline)
	vk.CmdPushConstants(c.Handle, pipeline.layout.Handle, toVkStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) BindVertexBuffer(b gpu.Buffer, offset uint64) {
	vk.CmdBindVertexBuffers(c.Handle, 0, 1, []vk.Buffer{b.(*Buffer).Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (c *CommandBuffer) BindIndexBuffer(b gpu.Buffer, offset uint64) {
	vk.CmdBindIndexBuffer(c.Handle, b.(*Buffer).Handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount uint32) {
	vk.CmdDraw(c.Handle, vertexCount, instanceCount, 0, 0)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32) {
	vk.CmdDrawIndexed(c.Handle, indexCount, instanceCount, firstIndex, 0, 0)
}

// UpdateBuffer records an inline update. data must be a multiple of 4 bytes and at most
// 65536 bytes long.
func (c *CommandBuffer) UpdateBuffer(b gpu.Buffer, offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdUpdateBuffer(c.Handle, b.(*Buffer).Handle, vk.DeviceSize(offset), vk.DeviceSize(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size uint64) {
	vk.CmdCopyBuffer(c.Handle, src.(*Buffer).Handle, dst.(*Buffer).Handle, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}})
}

// CopyBufferToImage copies tightly packed texels into dst, which must be in
// gpu.LayoutTransferDst.
func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image) {
	img := dst.(*Image)
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     img.aspect(),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{Width: img.extent.Width, Height: img.extent.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(c.Handle, src.(*Buffer).Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (c *CommandBuffer) BufferBarrier(b gpu.Buffer, from, to gpu.Access) {
	src, dst := accessSync(from), accessSync(to)
	buf := b.(*Buffer)
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(src.access),
		DstAccessMask:       vk.AccessFlags(dst.access),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf.Handle,
		Offset:              0,
		Size:                vk.DeviceSize(buf.size),
	}
	vk.CmdPipelineBarrier(c.Handle, vk.PipelineStageFlags(src.stage), vk.PipelineStageFlags(dst.stage), 0,
		0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}

func (c *CommandBuffer) MemoryBarrier(from, to gpu.Access) {
	src, dst := accessSync(from), accessSync(to)
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(src.access),
		DstAccessMask: vk.AccessFlags(dst.access),
	}
	vk.CmdPipelineBarrier(c.Handle, vk.PipelineStageFlags(src.stage), vk.PipelineStageFlags(dst.stage), 0,
		1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

func (c *CommandBuffer) ImageBarrier(i gpu.Image, from, to gpu.Layout) {
	img := i.(*Image)
	src, dst := layoutSync(from), layoutSync(to)
	if from == gpu.LayoutTransferDst {
		src = syncPoint{vk.PipelineStageTransferBit, vk.AccessTransferWriteBit}
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           toVkLayout(from),
		NewLayout:           toVkLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange:    img.subresourceRange(),
		SrcAccessMask:       vk.AccessFlags(src.access),
		DstAccessMask:       vk.AccessFlags(dst.access),
	}
	vk.CmdPipelineBarrier(c.Handle, vk.PipelineStageFlags(src.stage), vk.PipelineStageFlags(dst.stage), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (c *CommandBuffer) BuildAccelerationStructure(dst, src gpu.AccelerationStructure, g gpu.AccelGeometry, scratch gpu.Buffer) {
	var srcHandle accelHandle
	if src != nil {
		srcHandle = src.(*AccelerationStructure).Handle
	}
	address := math.AlignUp(scratch.DeviceAddress(), c.device.ScratchAlignment())
	c.device.khr.cmdBuildAccel(c.Handle, toAccelInput(g), srcHandle, dst.(*AccelerationStructure).Handle, address)
}

func (c *CommandBuffer) TraceRays(raygen, miss, hit, callable gpu.StridedRegion, extent gpu.Extent2D) {
	c.device.khr.cmdTraceRays(c.Handle, [4]gpu.StridedRegion{raygen, miss, hit, callable}, extent)
}

// Submit queues cmd on the graphics queue. The wait semaphore gates color attachment output.
func (d *Device) Submit(cmd gpu.CommandBuffer, wait gpu.Semaphore, signal gpu.Semaphore, fence gpu.Fence) error {
	cb := cmd.(*CommandBuffer)
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{semaphoreHandle(wait)}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	}
	if signal != nil {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{semaphoreHandle(signal)}
	}
	if err := d.locks.SafeQueueCall(d.graphicsQueueIndex, func() error {
		return check(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{info}, fenceHandle(fence)), "queue submit")
	}); err != nil {
		return err
	}
	cb.State = CommandBufferStateSubmitted
	return nil
}

// SubmitAndWait records a single use command buffer, runs it and waits for the queue.
func (d *Device) SubmitAndWait(record func(cmd gpu.CommandBuffer) error) error {
	cb, err := d.allocateCommandBuffer()
	if err != nil {
		return err
	}
	defer cb.Destroy()
	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	if err := d.Submit(cb, nil, nil, nil); err != nil {
		return err
	}
	return d.locks.SafeQueueCall(d.graphicsQueueIndex, func() error {
		return check(vk.QueueWaitIdle(d.graphicsQueue), "wait for queue")
	})
}
