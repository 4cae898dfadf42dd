package gpu

// SurfaceCapabilities are the limits the window surface puts on a swapchain.
type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount is zero when the surface imposes no upper bound.
	MaxImageCount uint32
	CurrentExtent Extent2D
	// ExtentFromWindow is set when the surface lets the swapchain pick its size; CurrentExtent
	// is meaningless then and the window framebuffer size clamped to Min/MaxExtent is used.
	ExtentFromWindow bool
	MinExtent        Extent2D
	MaxExtent        Extent2D
}

// FrameDevice covers synchronization, the swapchain and queue submission.
type FrameDevice interface {
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	// WaitFence blocks until the fence signals.
	WaitFence(f Fence) error
	ResetFence(f Fence) error
	AllocateCommandBuffer() (CommandBuffer, error)
	SurfaceCapabilities() (SurfaceCapabilities, error)
	// CreateSwapchain replaces old (which may be nil) and retires it.
	CreateSwapchain(extent Extent2D, imageCount uint32, old Swapchain) (Swapchain, error)
	// AcquireNextImage signals the semaphore once the image can be written.
	AcquireNextImage(sc Swapchain, signal Semaphore) (uint32, Status, error)
	// Submit waits on wait at color-attachment output, signals signal and then the fence.
	Submit(cmd CommandBuffer, wait Semaphore, signal Semaphore, fence Fence) error
	Present(sc Swapchain, imageIndex uint32, wait Semaphore) (Status, error)
	WaitIdle() error
}

// ResourceDevice creates memory-backed resources and runs one-off transfers.
type ResourceDevice interface {
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateSampler() (Sampler, error)
	// SubmitAndWait records a single-use command buffer, submits it and blocks until the
	// queue is idle.
	SubmitAndWait(record func(cmd CommandBuffer) error) error
}

// TriangleGeometry describes the triangles of one bottom-level structure. Positions are
// three float32 at the start of every vertex, indices are uint32.
type TriangleGeometry struct {
	VertexAddress  uint64
	VertexStride   uint64
	MaxVertex      uint32
	IndexAddress   uint64
	PrimitiveCount uint32
	Opaque         bool
}

// InstanceGeometry points at an array of packed instance records.
type InstanceGeometry struct {
	InstanceAddress uint64
	InstanceCount   uint32
}

// AccelBuildFlags is a bit set of build preferences.
type AccelBuildFlags uint32

const (
	AccelBuildPreferFastTrace AccelBuildFlags = 1 << iota
	AccelBuildAllowUpdate
)

// AccelGeometry is the input of a size query or build. Exactly one of Triangles and
// Instances is set, matching Kind.
type AccelGeometry struct {
	Kind      AccelKind
	Flags     AccelBuildFlags
	Triangles *TriangleGeometry
	Instances *InstanceGeometry
}

type AccelSizes struct {
	StructureSize     uint64
	BuildScratchSize  uint64
	UpdateScratchSize uint64
}

// AccelDevice builds acceleration structures.
type AccelDevice interface {
	AccelerationStructureSizes(g AccelGeometry) (AccelSizes, error)
	CreateAccelerationStructure(kind AccelKind, backing Buffer, size uint64) (AccelerationStructure, error)
	// ScratchAlignment is the minimum alignment of a build scratch address.
	ScratchAlignment() uint64
}

// DescriptorType is the kind of resource a binding holds.
type DescriptorType int

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
	DescriptorSampledImage
	DescriptorSampler
	DescriptorStorageImage
	DescriptorAccelerationStructure
)

type LayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
	// PartiallyBound lets an array binding leave trailing elements unwritten.
	PartiallyBound bool
}

type PoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorWrite points one binding (or array element range) of a set at resources.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffer       Buffer
	Images       []Image
	Layout       Layout
	Sampler      Sampler
	Accel        AccelerationStructure
}

// BindingDevice manages descriptor layouts, pools and sets.
type BindingDevice interface {
	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	CreateDescriptorPool(maxSets uint32, sizes []PoolSize) (DescriptorPool, error)
	AllocateDescriptorSets(pool DescriptorPool, layouts []DescriptorSetLayout) ([]DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes []DescriptorWrite) error
}

// PushConstantRange is a block of push constants visible to stages.
type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

// VertexAttribute formats: float32 vectors only.
type VertexAttribute struct {
	Location   uint32
	Components uint32
	Offset     uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type RenderPassDesc struct {
	ColorFormat Format
	// ColorInitialLayout is the layout the color attachment is in when the pass begins.
	ColorInitialLayout Layout
	ColorFinalLayout   Layout
	// DepthFormat is FormatUndefined for passes without depth.
	DepthFormat Format
}

type GraphicsPipelineDesc struct {
	Label      string
	Layout     PipelineLayout
	RenderPass RenderPass
	Vertex     ShaderModule
	Fragment   ShaderModule
	// VertexEntry and FragmentEntry default to "main".
	VertexEntry   string
	FragmentEntry string
	// VertexInput is nil for pipelines that generate vertices in the shader.
	VertexInput *VertexLayout
	DepthTest   bool
	CullBack    bool
	Blend       bool
}

// RayTracingPipelineDesc lists shader groups in the order of metadata.ShaderGroup*:
// raygen, the miss shaders, then one triangle hit group per closest-hit shader.
type RayTracingPipelineDesc struct {
	Label        string
	Layout       PipelineLayout
	Raygen       ShaderModule
	Miss         []ShaderModule
	ClosestHit   []ShaderModule
	MaxRecursion uint32
}

// RayTracingProperties are the device limits the shader binding table must respect.
type RayTracingProperties struct {
	HandleSize        uint32
	HandleAlignment   uint32
	BaseAlignment     uint32
	MaxRecursionDepth uint32
}

// PipelineDevice creates shader modules, passes and pipelines.
type PipelineDevice interface {
	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreatePipelineLayout(sets []DescriptorSetLayout, push []PushConstantRange) (PipelineLayout, error)
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, attachments []Image, extent Extent2D) (Framebuffer, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	CreateRayTracingPipeline(desc RayTracingPipelineDesc) (Pipeline, error)
	RayTracingProperties() RayTracingProperties
	// ShaderGroupHandles returns count handles of HandleSize bytes, tightly packed.
	ShaderGroupHandles(p Pipeline, first, count uint32) ([]byte, error)
	DepthFormat() Format
}

// Device is everything the renderer needs from the GPU.
type Device interface {
	FrameDevice
	ResourceDevice
	AccelDevice
	BindingDevice
	PipelineDevice
}
