// Package renderer owns the GPU side of the engine: it creates the components in dependency
// order, drives one frame per Render call and tears everything down in reverse.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/accel"
	"github.com/spaghettifunk/prism/engine/renderer/binding"
	"github.com/spaghettifunk/prism/engine/renderer/frame"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/renderer/record"
	"github.com/spaghettifunk/prism/engine/renderer/target"
	"github.com/spaghettifunk/prism/engine/scene"
	"go.uber.org/multierr"
)

type Options struct {
	Mode       metadata.RenderMode
	ClearColor math.Vec4
	ShaderDir  string
	Shaders    pipeline.Shaders
	Compiler   pipeline.Compiler
}

type Renderer struct {
	dev    gpu.Device
	window frame.Window
	bus    *core.EventBus
	gui    record.GUI
	opts   Options

	scene     *scene.Scene
	gpuScene  *scene.GPUScene
	accel     *accel.Builder
	bindings  *binding.Table
	pipelines *pipeline.Manager
	targets   *target.Targets
	scheduler *frame.Scheduler
	recorder  *record.Recorder

	mode    metadata.RenderMode
	metrics *core.FrameMetrics
	frames  uint64

	// tlasDirty marks model transforms not yet refit into the TLAS.
	tlasDirty bool

	toggleRequested atomic.Bool
	reloadRequested atomic.Bool
}

// New does not touch the device. gui may be nil.
func New(dev gpu.Device, window frame.Window, bus *core.EventBus, gui record.GUI, opts Options) *Renderer {
	return &Renderer{
		dev:     dev,
		window:  window,
		bus:     bus,
		gui:     gui,
		opts:    opts,
		mode:    opts.Mode,
		metrics: core.NewFrameMetrics(),
	}
}

/**
 * @brief Uploads the scene, builds its acceleration structures, then creates the binding
 * table, the pipelines and the frame scheduler with its swapchain dependents.
 * On failure everything created so far is destroyed again.
 */
func (r *Renderer) Initialize(ctx context.Context, s *scene.Scene) (err error) {
	defer func() {
		if err != nil {
			r.Shutdown()
		}
	}()
	r.scene = s

	if r.gpuScene, err = scene.Upload(r.dev, s); err != nil {
		return err
	}

	r.accel = accel.NewBuilder(r.dev)
	if err = r.accel.BuildBLAS(r.accelMeshes()); err != nil {
		return err
	}
	if err = r.accel.BuildTLAS(r.instances(), len(r.gpuScene.Descriptions)); err != nil {
		return err
	}

	r.pipelines = pipeline.NewManager(r.dev, r.opts.Compiler, r.opts.ShaderDir, r.opts.Shaders)
	r.targets = target.New(r.dev, r.pipelines, pipeline.IntermediateFormat)
	r.bindings = binding.NewTable(r.dev)
	if err = r.bindings.Initialize(binding.SceneResources{
		ObjectDescriptions: r.gpuScene.ObjectDescriptions,
		Textures:           r.gpuScene.Textures,
		TLAS:               r.accel.TLAS(),
	}, r.targets); err != nil {
		return err
	}
	if err = r.pipelines.Initialize(ctx, r.bindings); err != nil {
		return err
	}

	r.recorder = record.NewRecorder(r.pipelines, r.bindings, r.targets, r.gui)
	if r.scheduler, err = frame.NewScheduler(r.dev, r.window); err != nil {
		return err
	}
	for _, d := range []frame.SwapchainDependent{r.pipelines, r.targets, r.bindings, r.recorder} {
		if err = r.scheduler.Register(d); err != nil {
			return err
		}
	}

	if r.bus != nil {
		r.bus.Register(core.EVENT_CODE_RESIZED, r, r.onEvent)
		r.bus.Register(core.EVENT_CODE_TOGGLE_RENDER_MODE, r, r.onEvent)
		r.bus.Register(core.EVENT_CODE_SHADER_RELOAD, r, r.onEvent)
	}
	core.LogInfo("renderer initialized: %d models, %d textures, mode %s", len(s.Models), len(r.gpuScene.Textures), r.mode)
	return nil
}

// onEvent may run on any goroutine; it only records requests for the render thread.
func (r *Renderer) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_RESIZED:
		r.scheduler.Resized()
	case core.EVENT_CODE_TOGGLE_RENDER_MODE:
		r.toggleRequested.Store(true)
	case core.EVENT_CODE_SHADER_RELOAD:
		r.reloadRequested.Store(true)
	}
	return false
}

/**
 * @brief Renders one frame. Pending mode toggles and shader reloads are applied first.
 * A frame skipped because the swapchain was rebuilt is not an error.
 * @param deltaTime Seconds since the previous frame, used for metrics.
 */
func (r *Renderer) Render(ctx context.Context, deltaTime float64) error {
	if r.toggleRequested.Swap(false) {
		r.ToggleMode()
	}
	if r.reloadRequested.Swap(false) {
		if err := r.HotReload(ctx); err != nil && !canContinue(err) {
			return err
		}
	}

	// Nothing is acquired for a frame that is going to be rejected.
	models := r.models()
	if err := r.recorder.Validate(models); err != nil {
		return err
	}
	if r.mode == metadata.RenderModeRayTrace && r.tlasDirty {
		if err := r.refitTLAS(); err != nil {
			return err
		}
	}

	f, res, err := r.scheduler.BeginFrame()
	if err != nil {
		return err
	}
	if res == frame.Retry {
		return nil
	}
	if err := r.recorder.Record(f, r.input(f, models)); err != nil {
		return err
	}
	if err := r.scheduler.EndFrame(f); err != nil {
		return err
	}
	if err := r.scheduler.Present(f); err != nil {
		return err
	}
	r.frames++
	r.metrics.Update(deltaTime)
	return nil
}

// canContinue reports whether a failed hot reload leaves the renderer usable.
func canContinue(err error) bool {
	return !errors.Is(err, core.ErrFatal)
}

func (r *Renderer) models() []record.Model {
	models := make([]record.Model, len(r.scene.Models))
	for i, m := range r.scene.Models {
		mb := r.gpuScene.Meshes[i]
		models[i] = record.Model{
			Vertex:     mb.Vertex,
			Index:      mb.Index,
			IndexCount: mb.IndexCount,
			Texture:    m.Texture,
			Transform:  m.Transform.GetWorld(),
		}
	}
	return models
}

func (r *Renderer) input(f *frame.Frame, models []record.Model) record.Input {
	return record.Input{
		Mode:       r.mode,
		Global:     r.scene.GlobalUBO(f.Extent().Aspect()),
		Scene:      r.scene.SceneUBO(),
		ClearColor: r.opts.ClearColor,
		Models:     models,
	}
}

// ToggleMode switches between raster and ray-traced output. Both pipelines are always built,
// so the next frame simply records the other path.
func (r *Renderer) ToggleMode() metadata.RenderMode {
	r.mode = r.mode.Toggle()
	core.LogInfo("render mode: %s", r.mode)
	return r.mode
}

func (r *Renderer) SetMode(mode metadata.RenderMode) {
	r.mode = mode
}

func (r *Renderer) Mode() metadata.RenderMode {
	return r.mode
}

// HotReload rebuilds every pipeline from freshly compiled shaders and re-points the
// descriptor sets. On error the previous pipelines stay in use.
func (r *Renderer) HotReload(ctx context.Context) error {
	if err := r.pipelines.HotReload(ctx); err != nil {
		return err
	}
	return r.bindings.Rewrite()
}

// UpdateTransforms marks the scene's model transforms as changed. Raster frames read them
// directly; the TLAS is refit before the next ray-traced frame.
func (r *Renderer) UpdateTransforms() {
	r.tlasDirty = true
}

// refitTLAS pushes the current transforms into the TLAS. The GPU is idle while the structure
// is refit, and the ray-tracing set is re-pointed in case the TLAS had to be rebuilt.
func (r *Renderer) refitTLAS() error {
	if err := r.dev.WaitIdle(); err != nil {
		return gpu.Fatal("wait idle before transform update", err)
	}
	if err := r.accel.UpdateTransforms(r.instances(), len(r.gpuScene.Descriptions)); err != nil {
		return err
	}
	if err := r.bindings.SetTLAS(r.accel.TLAS()); err != nil {
		return err
	}
	r.tlasDirty = false
	return nil
}

func (r *Renderer) accelMeshes() []accel.Mesh {
	meshes := make([]accel.Mesh, len(r.gpuScene.Meshes))
	for i, mb := range r.gpuScene.Meshes {
		meshes[i] = accel.Mesh{Vertex: mb.Vertex, Index: mb.Index, VertexCount: mb.VertexCount, IndexCount: mb.IndexCount}
	}
	return meshes
}

// instances places model i on mesh i, so custom index i resolves to model i's description.
func (r *Renderer) instances() []accel.Instance {
	transforms := r.scene.Transforms()
	out := make([]accel.Instance, len(transforms))
	for i, t := range transforms {
		out[i] = accel.Instance{Mesh: i, Transform: t}
	}
	return out
}

func (r *Renderer) Metrics() *core.FrameMetrics { return r.metrics }

// Frames counts presented frames.
func (r *Renderer) Frames() uint64 { return r.frames }

/**
 * @brief Destroys everything in the reverse order of Initialize. Safe to call on a partially
 * initialized renderer and more than once.
 */
func (r *Renderer) Shutdown() error {
	var errs error
	if r.bus != nil {
		r.bus.Unregister(core.EVENT_CODE_RESIZED, r)
		r.bus.Unregister(core.EVENT_CODE_TOGGLE_RENDER_MODE, r)
		r.bus.Unregister(core.EVENT_CODE_SHADER_RELOAD, r)
	}
	if r.scheduler != nil {
		errs = multierr.Append(errs, r.scheduler.Shutdown())
		r.scheduler = nil
	} else if r.dev != nil {
		if err := r.dev.WaitIdle(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("wait idle on shutdown: %w", err))
		}
	}
	if r.pipelines != nil {
		r.pipelines.Destroy()
		r.pipelines = nil
	}
	if r.bindings != nil {
		r.bindings.Destroy()
		r.bindings = nil
	}
	if r.accel != nil {
		r.accel.Destroy()
		r.accel = nil
	}
	if r.gpuScene != nil {
		r.gpuScene.Destroy()
		r.gpuScene = nil
	}
	r.targets, r.recorder = nil, nil
	if errs != nil {
		core.LogError("renderer shutdown: %v", errs)
	}
	return errs
}
