package gpu

// Destroyer is the single teardown entry point every GPU object exposes.
type Destroyer interface {
	Destroy()
}

type Fence interface {
	Destroyer
}

type Semaphore interface {
	Destroyer
}

// BufferUsage is a bit set of the ways a buffer is used.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	// BufferUsageDeviceAddress lets shaders and builds reference the buffer by address.
	BufferUsageDeviceAddress
	BufferUsageAccelStorage
	BufferUsageAccelBuildInput
	BufferUsageShaderBindingTable
)

// MemoryKind selects where a buffer lives.
type MemoryKind int

const (
	MemoryDeviceLocal MemoryKind = iota
	// MemoryHostVisible buffers are host coherent and can be written with Buffer.Write.
	MemoryHostVisible
)

type BufferDesc struct {
	Label  string
	Size   uint64
	Usage  BufferUsage
	Memory MemoryKind
}

type Buffer interface {
	Destroyer
	Size() uint64
	// DeviceAddress is zero unless the buffer was created with BufferUsageDeviceAddress.
	DeviceAddress() uint64
	// Write copies data at offset. Only valid for MemoryHostVisible buffers.
	Write(offset uint64, data []byte) error
}

// ImageUsage is a bit set of the ways an image is used.
type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferDst
	ImageUsageTransferSrc
)

type ImageDesc struct {
	Label  string
	Extent Extent2D
	Format Format
	Usage  ImageUsage
}

// Image is an image together with its default view.
type Image interface {
	Destroyer
	Extent() Extent2D
	Format() Format
}

type Sampler interface {
	Destroyer
}

// AccelKind distinguishes bottom-level (triangles) from top-level (instances) structures.
type AccelKind int

const (
	AccelBottomLevel AccelKind = iota
	AccelTopLevel
)

type AccelerationStructure interface {
	Destroyer
	Kind() AccelKind
	DeviceAddress() uint64
}

type ShaderModule interface {
	Destroyer
}

type DescriptorSetLayout interface {
	Destroyer
}

// DescriptorPool owns the sets allocated from it; destroying the pool frees them.
type DescriptorPool interface {
	Destroyer
}

type DescriptorSet interface {
	Layout() DescriptorSetLayout
}

type PipelineLayout interface {
	Destroyer
}

// BindPoint is the pipeline type a pipeline binds to.
type BindPoint int

const (
	BindPointGraphics BindPoint = iota
	BindPointRayTracing
)

type Pipeline interface {
	Destroyer
	Layout() PipelineLayout
	BindPoint() BindPoint
}

type RenderPass interface {
	Destroyer
}

type Framebuffer interface {
	Destroyer
	Extent() Extent2D
}

// Swapchain owns its images; Image(i).Destroy is a no-op.
type Swapchain interface {
	Destroyer
	Extent() Extent2D
	Format() Format
	ImageCount() int
	Image(i int) Image
}
