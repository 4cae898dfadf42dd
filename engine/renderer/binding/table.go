// Package binding owns descriptor set layouts, pools and sets, and the per-image uniform
// buffers they point at.
package binding

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type Device interface {
	gpu.ResourceDevice
	gpu.BindingDevice
}

// SceneResources are the write-once resources of the loaded scene.
type SceneResources struct {
	ObjectDescriptions gpu.Buffer
	Textures           []gpu.Image
	TLAS               gpu.AccelerationStructure
}

// Targets provides the intermediate image both render paths write and the composite reads.
type Targets interface {
	Intermediate() gpu.Image
}

const allStages = gpu.StageVertex | gpu.StageFragment | gpu.StagesRayTracing

// Table holds every descriptor the renderer binds. The layouts, the sampler and the texture
// sets live as long as the scene; everything sized by the swapchain image count is rebuilt
// through the SwapchainDependent hooks.
type Table struct {
	dev     Device
	scene   SceneResources
	targets Targets

	sceneLayout   gpu.DescriptorSetLayout
	rayLayout     gpu.DescriptorSetLayout
	textureLayout gpu.DescriptorSetLayout
	postLayout    gpu.DescriptorSetLayout
	sampler       gpu.Sampler

	texturePool gpu.DescriptorPool
	textureSets []gpu.DescriptorSet

	pool       gpu.DescriptorPool
	sceneSets  []gpu.DescriptorSet
	raySet     gpu.DescriptorSet
	postSet    gpu.DescriptorSet
	globalUBOs []gpu.Buffer
	sceneUBOs  []gpu.Buffer
}

func NewTable(dev Device) *Table {
	return &Table{dev: dev}
}

// Initialize creates the layouts, the shared sampler and one static set per texture.
func (t *Table) Initialize(scene SceneResources, targets Targets) error {
	if len(scene.Textures) > metadata.MaxTextureCount {
		return fmt.Errorf("%d textures, at most %d are bindable: %w", len(scene.Textures), metadata.MaxTextureCount, core.ErrContractViolation)
	}
	if scene.ObjectDescriptions == nil {
		return fmt.Errorf("scene without an object description buffer: %w", core.ErrContractViolation)
	}
	t.scene = scene
	t.targets = targets

	var err error
	layouts := []struct {
		dst      *gpu.DescriptorSetLayout
		name     string
		bindings []gpu.LayoutBinding
	}{
		{&t.sceneLayout, "scene", []gpu.LayoutBinding{
			{Binding: metadata.BindingGlobalUBO, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: allStages},
			{Binding: metadata.BindingSceneUBO, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: allStages},
			{Binding: metadata.BindingObjectDescription, Type: gpu.DescriptorStorageBuffer, Count: 1, Stages: gpu.StageClosestHit | gpu.StageFragment},
		}},
		{&t.rayLayout, "ray tracing", []gpu.LayoutBinding{
			{Binding: metadata.BindingTLAS, Type: gpu.DescriptorAccelerationStructure, Count: 1, Stages: gpu.StageRaygen | gpu.StageClosestHit},
			{Binding: metadata.BindingOutputImage, Type: gpu.DescriptorStorageImage, Count: 1, Stages: gpu.StageRaygen},
			{Binding: metadata.BindingTextures, Type: gpu.DescriptorSampledImage, Count: metadata.MaxTextureCount, Stages: gpu.StageClosestHit, PartiallyBound: true},
			{Binding: metadata.BindingSampler, Type: gpu.DescriptorSampler, Count: 1, Stages: gpu.StageClosestHit},
		}},
		{&t.textureLayout, "texture", []gpu.LayoutBinding{
			{Binding: metadata.BindingModelTexture, Type: gpu.DescriptorCombinedImageSampler, Count: 1, Stages: gpu.StageFragment},
		}},
		{&t.postLayout, "post", []gpu.LayoutBinding{
			{Binding: metadata.BindingPostImage, Type: gpu.DescriptorSampledImage, Count: 1, Stages: gpu.StageFragment},
			{Binding: metadata.BindingPostSampler, Type: gpu.DescriptorSampler, Count: 1, Stages: gpu.StageFragment},
		}},
	}
	for _, l := range layouts {
		if *l.dst, err = t.dev.CreateDescriptorSetLayout(l.bindings); err != nil {
			return gpu.Fatal("create "+l.name+" descriptor set layout", err)
		}
	}

	if t.sampler, err = t.dev.CreateSampler(); err != nil {
		return gpu.Fatal("create sampler", err)
	}

	if len(scene.Textures) == 0 {
		return nil
	}
	n := uint32(len(scene.Textures))
	t.texturePool, err = t.dev.CreateDescriptorPool(n, []gpu.PoolSize{{Type: gpu.DescriptorCombinedImageSampler, Count: n}})
	if err != nil {
		return gpu.Fatal("create texture descriptor pool", err)
	}
	layoutsPerTexture := make([]gpu.DescriptorSetLayout, n)
	for i := range layoutsPerTexture {
		layoutsPerTexture[i] = t.textureLayout
	}
	if t.textureSets, err = t.dev.AllocateDescriptorSets(t.texturePool, layoutsPerTexture); err != nil {
		return gpu.Fatal("allocate texture descriptor sets", err)
	}
	for i, tex := range scene.Textures {
		err := t.dev.UpdateDescriptorSet(t.textureSets[i], []gpu.DescriptorWrite{{
			Binding: metadata.BindingModelTexture,
			Type:    gpu.DescriptorCombinedImageSampler,
			Images:  []gpu.Image{tex},
			Layout:  gpu.LayoutShaderReadOnly,
			Sampler: t.sampler,
		}})
		if err != nil {
			return gpu.Fatal("write texture descriptor set", err)
		}
	}
	core.LogDebug("descriptor layouts ready, %d texture sets", n)
	return nil
}

// CreateSwapchainResources reallocates the per-image buffers and sets for sc.
func (t *Table) CreateSwapchainResources(sc gpu.Swapchain) error {
	return t.RebuildForSwapchain(sc.ImageCount())
}

// RebuildForSwapchain sizes the per-image uniform buffers and the swapchain pool to
// imageCount and writes every set.
func (t *Table) RebuildForSwapchain(imageCount int) error {
	t.DestroySwapchainResources()

	n := uint32(imageCount)
	var err error
	t.pool, err = t.dev.CreateDescriptorPool(n+2, []gpu.PoolSize{
		{Type: gpu.DescriptorUniformBuffer, Count: 2 * n},
		{Type: gpu.DescriptorStorageBuffer, Count: n},
		{Type: gpu.DescriptorAccelerationStructure, Count: 1},
		{Type: gpu.DescriptorStorageImage, Count: 1},
		{Type: gpu.DescriptorSampledImage, Count: metadata.MaxTextureCount + 1},
		{Type: gpu.DescriptorSampler, Count: 2},
	})
	if err != nil {
		return gpu.Fatal("create swapchain descriptor pool", err)
	}

	layouts := make([]gpu.DescriptorSetLayout, 0, n+2)
	for i := uint32(0); i < n; i++ {
		layouts = append(layouts, t.sceneLayout)
	}
	layouts = append(layouts, t.rayLayout, t.postLayout)
	sets, err := t.dev.AllocateDescriptorSets(t.pool, layouts)
	if err != nil {
		return gpu.Fatal("allocate swapchain descriptor sets", err)
	}
	t.sceneSets = sets[:n]
	t.raySet = sets[n]
	t.postSet = sets[n+1]

	for i := uint32(0); i < n; i++ {
		global, err := t.uniformBuffer("global-ubo", metadata.GlobalUBOSize)
		if err != nil {
			return err
		}
		t.globalUBOs = append(t.globalUBOs, global)
		scene, err := t.uniformBuffer("scene-ubo", metadata.SceneUBOSize)
		if err != nil {
			return err
		}
		t.sceneUBOs = append(t.sceneUBOs, scene)
	}
	return t.Rewrite()
}

func (t *Table) uniformBuffer(kind string, size int) (gpu.Buffer, error) {
	b, err := t.dev.CreateBuffer(gpu.BufferDesc{
		Label:  core.NewLabel(kind),
		Size:   uint64(size),
		Usage:  gpu.BufferUsageUniform | gpu.BufferUsageTransferDst,
		Memory: gpu.MemoryDeviceLocal,
	})
	if err != nil {
		return nil, gpu.Fatal("create "+kind, err)
	}
	return b, nil
}

// Rewrite points every swapchain set at the current resources. Buffer contents are not
// touched.
func (t *Table) Rewrite() error {
	for i, set := range t.sceneSets {
		err := t.dev.UpdateDescriptorSet(set, []gpu.DescriptorWrite{
			{Binding: metadata.BindingGlobalUBO, Type: gpu.DescriptorUniformBuffer, Buffer: t.globalUBOs[i]},
			{Binding: metadata.BindingSceneUBO, Type: gpu.DescriptorUniformBuffer, Buffer: t.sceneUBOs[i]},
			{Binding: metadata.BindingObjectDescription, Type: gpu.DescriptorStorageBuffer, Buffer: t.scene.ObjectDescriptions},
		})
		if err != nil {
			return gpu.Fatal("write scene descriptor set", err)
		}
	}

	intermediate := t.targets.Intermediate()
	writes := []gpu.DescriptorWrite{
		{Binding: metadata.BindingOutputImage, Type: gpu.DescriptorStorageImage, Images: []gpu.Image{intermediate}, Layout: gpu.LayoutGeneral},
		{Binding: metadata.BindingSampler, Type: gpu.DescriptorSampler, Sampler: t.sampler},
	}
	if t.scene.TLAS != nil {
		writes = append(writes, gpu.DescriptorWrite{Binding: metadata.BindingTLAS, Type: gpu.DescriptorAccelerationStructure, Accel: t.scene.TLAS})
	}
	if len(t.scene.Textures) > 0 {
		writes = append(writes, gpu.DescriptorWrite{Binding: metadata.BindingTextures, Type: gpu.DescriptorSampledImage, Images: t.scene.Textures, Layout: gpu.LayoutShaderReadOnly})
	}
	if err := t.dev.UpdateDescriptorSet(t.raySet, writes); err != nil {
		return gpu.Fatal("write ray tracing descriptor set", err)
	}

	err := t.dev.UpdateDescriptorSet(t.postSet, []gpu.DescriptorWrite{
		{Binding: metadata.BindingPostImage, Type: gpu.DescriptorSampledImage, Images: []gpu.Image{intermediate}, Layout: gpu.LayoutShaderReadOnly},
		{Binding: metadata.BindingPostSampler, Type: gpu.DescriptorSampler, Sampler: t.sampler},
	})
	if err != nil {
		return gpu.Fatal("write post descriptor set", err)
	}
	return nil
}

// SetTLAS swaps the top-level structure after a rebuild and rewrites the sets pointing at it.
func (t *Table) SetTLAS(tlas gpu.AccelerationStructure) error {
	t.scene.TLAS = tlas
	if t.raySet == nil {
		return nil
	}
	return t.Rewrite()
}

// DestroySwapchainResources frees the swapchain pool (and with it every set it holds) and
// the per-image uniform buffers.
func (t *Table) DestroySwapchainResources() {
	if t.pool != nil {
		t.pool.Destroy()
		t.pool = nil
	}
	t.sceneSets, t.raySet, t.postSet = nil, nil, nil
	for _, b := range t.globalUBOs {
		b.Destroy()
	}
	for _, b := range t.sceneUBOs {
		b.Destroy()
	}
	t.globalUBOs, t.sceneUBOs = nil, nil
}

// Destroy frees everything, swapchain resources first.
func (t *Table) Destroy() {
	t.DestroySwapchainResources()
	if t.texturePool != nil {
		t.texturePool.Destroy()
		t.texturePool = nil
	}
	t.textureSets = nil
	if t.sampler != nil {
		t.sampler.Destroy()
		t.sampler = nil
	}
	for _, l := range []*gpu.DescriptorSetLayout{&t.postLayout, &t.textureLayout, &t.rayLayout, &t.sceneLayout} {
		if *l != nil {
			(*l).Destroy()
			*l = nil
		}
	}
}

func (t *Table) SceneLayout() gpu.DescriptorSetLayout      { return t.sceneLayout }
func (t *Table) RayTracingLayout() gpu.DescriptorSetLayout { return t.rayLayout }
func (t *Table) TextureLayout() gpu.DescriptorSetLayout    { return t.textureLayout }
func (t *Table) PostLayout() gpu.DescriptorSetLayout       { return t.postLayout }

// SceneSet returns the scene set of swapchain image i.
func (t *Table) SceneSet(i uint32) gpu.DescriptorSet { return t.sceneSets[i] }

func (t *Table) RayTracingSet() gpu.DescriptorSet { return t.raySet }
func (t *Table) PostSet() gpu.DescriptorSet       { return t.postSet }

// TextureSet returns the raster set of texture i.
func (t *Table) TextureSet(i int) gpu.DescriptorSet { return t.textureSets[i] }

func (t *Table) TextureCount() int { return len(t.textureSets) }

// GlobalUBO returns the global uniform buffer of swapchain image i.
func (t *Table) GlobalUBO(i uint32) gpu.Buffer { return t.globalUBOs[i] }

// SceneUBO returns the scene uniform buffer of swapchain image i.
func (t *Table) SceneUBO(i uint32) gpu.Buffer { return t.sceneUBOs[i] }

// ImageCount is the number of per-image sets currently allocated.
func (t *Table) ImageCount() int { return len(t.sceneSets) }
