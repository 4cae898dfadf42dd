// Package pipeline owns the graphics and ray-tracing pipelines, their layouts and render
// passes, and the shader binding table. Pipelines can be rebuilt from source at runtime.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type Device interface {
	gpu.PipelineDevice
	gpu.ResourceDevice
	WaitIdle() error
}

// Layouts are the descriptor set layouts the pipeline layouts are built from.
type Layouts interface {
	SceneLayout() gpu.DescriptorSetLayout
	RayTracingLayout() gpu.DescriptorSetLayout
	TextureLayout() gpu.DescriptorSetLayout
	PostLayout() gpu.DescriptorSetLayout
}

// Shaders names the source file of every stage, relative to the shader directory.
type Shaders struct {
	RasterVertex   string
	RasterFragment string
	Post           string
	Raygen         string
	Miss           string
	ShadowMiss     string
	ClosestHit     string
}

func DefaultShaders() Shaders {
	return Shaders{
		RasterVertex:   "raster.vert",
		RasterFragment: "raster.frag",
		Post:           "post.wgsl",
		Raygen:         "raytrace.rgen",
		Miss:           "raytrace.rmiss",
		ShadowMiss:     "shadow.rmiss",
		ClosestHit:     "raytrace.rchit",
	}
}

// IntermediateFormat is the color format both render paths write.
const IntermediateFormat = gpu.FormatRGBA16Float

var rasterVertexLayout = gpu.VertexLayout{
	Stride: math.Vertex3DSize,
	Attributes: []gpu.VertexAttribute{
		{Location: 0, Components: 3, Offset: 0},
		{Location: 1, Components: 3, Offset: 12},
		{Location: 2, Components: 2, Offset: 24},
	},
}

const (
	rasterPushStages = gpu.StageVertex
	rayPushStages    = gpu.StageRaygen | gpu.StageMiss | gpu.StageClosestHit
)

// set is one generation of pipelines. A hot reload builds a complete set before it replaces
// the current one.
type set struct {
	raster gpu.Pipeline
	post   gpu.Pipeline
	ray    gpu.Pipeline
	sbt    *SBT
}

func (s *set) destroy() {
	for _, p := range []gpu.Pipeline{s.raster, s.post, s.ray} {
		if p != nil {
			p.Destroy()
		}
	}
	if s.sbt != nil {
		s.sbt.Destroy()
	}
	*s = set{}
}

// Manager builds pipelines from shader sources. The ray-tracing pipeline, the raster render
// pass and the pipeline layouts live as long as the manager; the graphics pipelines and the
// post render pass follow the swapchain.
type Manager struct {
	dev      Device
	compiler Compiler
	dir      string
	shaders  Shaders

	rasterPass   gpu.RenderPass
	postPass     gpu.RenderPass
	rasterLayout gpu.PipelineLayout
	rayLayout    gpu.PipelineLayout
	postLayout   gpu.PipelineLayout

	current set
	// code caches compiled stages by file name for swapchain rebuilds.
	code    map[string][]uint32
	reloads int
}

func NewManager(dev Device, compiler Compiler, dir string, shaders Shaders) *Manager {
	return &Manager{dev: dev, compiler: compiler, dir: dir, shaders: shaders}
}

// Initialize compiles every stage and creates the layouts, the raster render pass and the
// ray-tracing pipeline with its binding table.
func (m *Manager) Initialize(ctx context.Context, layouts Layouts) error {
	code, err := m.compileAll(ctx)
	if err != nil {
		return err
	}
	m.code = code

	if m.rasterLayout, err = m.dev.CreatePipelineLayout(
		[]gpu.DescriptorSetLayout{layouts.SceneLayout(), layouts.TextureLayout()},
		[]gpu.PushConstantRange{{Stages: rasterPushStages, Size: metadata.PushConstantRasterSize}},
	); err != nil {
		return gpu.Fatal("create raster pipeline layout", err)
	}
	if m.rayLayout, err = m.dev.CreatePipelineLayout(
		[]gpu.DescriptorSetLayout{layouts.SceneLayout(), layouts.RayTracingLayout()},
		[]gpu.PushConstantRange{{Stages: rayPushStages, Size: metadata.PushConstantRaySize}},
	); err != nil {
		return gpu.Fatal("create ray tracing pipeline layout", err)
	}
	if m.postLayout, err = m.dev.CreatePipelineLayout([]gpu.DescriptorSetLayout{layouts.PostLayout()}, nil); err != nil {
		return gpu.Fatal("create post pipeline layout", err)
	}
	if m.rasterPass, err = m.dev.CreateRenderPass(gpu.RenderPassDesc{
		ColorFormat:        IntermediateFormat,
		ColorInitialLayout: gpu.LayoutColorAttachment,
		ColorFinalLayout:   gpu.LayoutColorAttachment,
		DepthFormat:        m.dev.DepthFormat(),
	}); err != nil {
		return gpu.Fatal("create raster render pass", err)
	}

	m.current.ray, m.current.sbt, err = m.buildRayTracing(code)
	return err
}

// CreateSwapchainResources creates the post render pass for the swapchain format and both
// graphics pipelines.
func (m *Manager) CreateSwapchainResources(sc gpu.Swapchain) error {
	var err error
	if m.postPass, err = m.dev.CreateRenderPass(gpu.RenderPassDesc{
		ColorFormat:        sc.Format(),
		ColorInitialLayout: gpu.LayoutUndefined,
		ColorFinalLayout:   gpu.LayoutPresentSrc,
	}); err != nil {
		return gpu.Fatal("create post render pass", err)
	}
	m.current.raster, m.current.post, err = m.buildGraphics(m.code)
	return err
}

func (m *Manager) DestroySwapchainResources() {
	if m.current.raster != nil {
		m.current.raster.Destroy()
		m.current.raster = nil
	}
	if m.current.post != nil {
		m.current.post.Destroy()
		m.current.post = nil
	}
	if m.postPass != nil {
		m.postPass.Destroy()
		m.postPass = nil
	}
}

// HotReload recompiles every stage and rebuilds every pipeline. The new pipelines replace
// the current ones only when all of them were built; on failure the current ones stay and
// the error is returned. Synchronization objects and acceleration structures are not
// touched.
func (m *Manager) HotReload(ctx context.Context) error {
	if err := m.dev.WaitIdle(); err != nil {
		return gpu.Fatal("wait idle before hot reload", err)
	}
	code, err := m.compileAll(ctx)
	if err != nil {
		core.LogWarn("hot reload aborted, keeping current pipelines: %v", err)
		return err
	}

	var next set
	if next.ray, next.sbt, err = m.buildRayTracing(code); err == nil && m.postPass != nil {
		next.raster, next.post, err = m.buildGraphics(code)
	}
	if err != nil {
		next.destroy()
		core.LogWarn("hot reload aborted, keeping current pipelines: %v", err)
		return err
	}

	m.current.destroy()
	m.current = next
	m.code = code
	m.reloads++
	core.LogInfo("shaders reloaded (%d)", m.reloads)
	return nil
}

func (m *Manager) stages() []string {
	s := m.shaders
	return []string{s.RasterVertex, s.RasterFragment, s.Post, s.Raygen, s.Miss, s.ShadowMiss, s.ClosestHit}
}

func (m *Manager) compileAll(ctx context.Context) (map[string][]uint32, error) {
	code := make(map[string][]uint32)
	var errs error
	for _, name := range m.stages() {
		words, err := m.compiler.Compile(ctx, filepath.Join(m.dir, name))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		code[name] = words
	}
	if errs != nil {
		return nil, fmt.Errorf("compile shaders: %w", errs)
	}
	return code, nil
}

// modules creates one shader module per name. The caller destroys them once the pipeline
// exists.
func (m *Manager) modules(code map[string][]uint32, names ...string) ([]gpu.ShaderModule, error) {
	out := make([]gpu.ShaderModule, 0, len(names))
	for _, name := range names {
		mod, err := m.dev.CreateShaderModule(code[name])
		if err != nil {
			destroyModules(out)
			return nil, gpu.Fatal("create shader module "+name, err)
		}
		out = append(out, mod)
	}
	return out, nil
}

func destroyModules(mods []gpu.ShaderModule) {
	for _, mod := range mods {
		mod.Destroy()
	}
}

func (m *Manager) buildGraphics(code map[string][]uint32) (raster, post gpu.Pipeline, err error) {
	s := m.shaders
	mods, err := m.modules(code, s.RasterVertex, s.RasterFragment, s.Post)
	if err != nil {
		return nil, nil, err
	}
	defer destroyModules(mods)

	raster, err = m.dev.CreateGraphicsPipeline(gpu.GraphicsPipelineDesc{
		Label:       "raster",
		Layout:      m.rasterLayout,
		RenderPass:  m.rasterPass,
		Vertex:      mods[0],
		Fragment:    mods[1],
		VertexInput: &rasterVertexLayout,
		DepthTest:   true,
		CullBack:    true,
	})
	if err != nil {
		return nil, nil, gpu.Fatal("create raster pipeline", err)
	}
	post, err = m.dev.CreateGraphicsPipeline(gpu.GraphicsPipelineDesc{
		Label:         "post",
		Layout:        m.postLayout,
		RenderPass:    m.postPass,
		Vertex:        mods[2],
		Fragment:      mods[2],
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
	})
	if err != nil {
		raster.Destroy()
		return nil, nil, gpu.Fatal("create post pipeline", err)
	}
	return raster, post, nil
}

func (m *Manager) buildRayTracing(code map[string][]uint32) (gpu.Pipeline, *SBT, error) {
	s := m.shaders
	mods, err := m.modules(code, s.Raygen, s.Miss, s.ShadowMiss, s.ClosestHit)
	if err != nil {
		return nil, nil, err
	}
	defer destroyModules(mods)

	props := m.dev.RayTracingProperties()
	p, err := m.dev.CreateRayTracingPipeline(gpu.RayTracingPipelineDesc{
		Label:        "raytrace",
		Layout:       m.rayLayout,
		Raygen:       mods[0],
		Miss:         mods[1:3],
		ClosestHit:   mods[3:],
		MaxRecursion: math.Clamp(2, 1, props.MaxRecursionDepth),
	})
	if err != nil {
		return nil, nil, gpu.Fatal("create ray tracing pipeline", err)
	}
	sbt, err := newSBT(m.dev, p, metadata.ShaderGroupHit-metadata.ShaderGroupMiss, metadata.ShaderGroupCount-metadata.ShaderGroupHit)
	if err != nil {
		p.Destroy()
		return nil, nil, err
	}
	return p, sbt, nil
}

func (m *Manager) RasterPipeline() gpu.Pipeline     { return m.current.raster }
func (m *Manager) PostPipeline() gpu.Pipeline       { return m.current.post }
func (m *Manager) RayTracingPipeline() gpu.Pipeline { return m.current.ray }
func (m *Manager) SBT() *SBT                        { return m.current.sbt }
func (m *Manager) RasterPass() gpu.RenderPass       { return m.rasterPass }
func (m *Manager) PostPass() gpu.RenderPass         { return m.postPass }

// Reloads counts successful hot reloads.
func (m *Manager) Reloads() int { return m.reloads }

// Destroy releases every pipeline, pass and layout.
func (m *Manager) Destroy() {
	m.DestroySwapchainResources()
	m.current.destroy()
	for _, l := range []*gpu.PipelineLayout{&m.postLayout, &m.rayLayout, &m.rasterLayout} {
		if *l != nil {
			(*l).Destroy()
			*l = nil
		}
	}
	if m.rasterPass != nil {
		m.rasterPass.Destroy()
		m.rasterPass = nil
	}
}
