package metadata

// Descriptor set and binding indices. Shader sources under assets/shaders declare the same
// numbers; changing one side without the other breaks both rendering paths.
const (
	// Set 0 in the raster and ray-tracing layouts: one set per swapchain image.
	SetScene uint32 = 0
	// Set 1 in the ray-tracing layout.
	SetRayTracing uint32 = 1
	// Set 1 in the raster layout: one set per texture.
	SetTexture uint32 = 1
	// Set 0 in the composite layout.
	SetPost uint32 = 0
)

const (
	BindingGlobalUBO         uint32 = 0
	BindingSceneUBO          uint32 = 1
	BindingObjectDescription uint32 = 2
)

const (
	BindingTLAS        uint32 = 0
	BindingOutputImage uint32 = 1
	BindingTextures    uint32 = 2
	BindingSampler     uint32 = 3
)

const (
	BindingModelTexture uint32 = 0
)

const (
	BindingPostImage   uint32 = 0
	BindingPostSampler uint32 = 1
)

// Shader group order inside the ray-tracing pipeline and its binding table.
const (
	ShaderGroupRaygen     uint32 = 0
	ShaderGroupMiss       uint32 = 1
	ShaderGroupShadowMiss uint32 = 2
	ShaderGroupHit        uint32 = 3
	ShaderGroupCount      uint32 = 4
)
