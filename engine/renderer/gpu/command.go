package gpu

// ClearValue is either a color or a depth clear, depending on the attachment.
type ClearValue struct {
	Color [4]float32
	Depth float32
}

// StridedRegion is one region of a shader binding table.
type StridedRegion struct {
	Address uint64
	Stride  uint64
	Size    uint64
}

// CommandBuffer records GPU work. Methods that only record do not return errors; the
// backend reports invalid usage through its validation layer.
type CommandBuffer interface {
	Destroyer
	Reset() error
	Begin(oneTime bool) error
	End() error

	BeginRenderPass(pass RenderPass, fb Framebuffer, clear []ClearValue)
	EndRenderPass()
	SetViewportScissor(extent Extent2D)

	BindPipeline(p Pipeline)
	BindDescriptorSets(p Pipeline, firstSet uint32, sets ...DescriptorSet)
	PushConstants(p Pipeline, stages ShaderStage, offset uint32, data []byte)
	BindVertexBuffer(b Buffer, offset uint64)
	BindIndexBuffer(b Buffer, offset uint64)
	Draw(vertexCount, instanceCount uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32)

	UpdateBuffer(b Buffer, offset uint64, data []byte)
	CopyBuffer(src, dst Buffer, size uint64)
	CopyBufferToImage(src Buffer, dst Image)
	BufferBarrier(b Buffer, from, to Access)
	MemoryBarrier(from, to Access)
	ImageBarrier(img Image, from, to Layout)

	// BuildAccelerationStructure builds dst from g. When src is non-nil the build updates
	// src in place of a full build; src may equal dst.
	BuildAccelerationStructure(dst, src AccelerationStructure, g AccelGeometry, scratch Buffer)
	TraceRays(raygen, miss, hit, callable StridedRegion, extent Extent2D)
}
