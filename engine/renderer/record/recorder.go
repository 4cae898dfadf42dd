// Package record fills the per-frame command buffer: uniform upload, the raster or ray-traced
// scene pass into the intermediate target, and the composite pass with the GUI on top.
package record

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/frame"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
)

// GUI produces opaque draw data for a frame and records it into the composite pass. The
// recorder never looks inside the data.
type GUI interface {
	DrawData(slot int) []byte
	Record(cmd gpu.CommandBuffer, data []byte)
}

type Pipelines interface {
	RasterPipeline() gpu.Pipeline
	PostPipeline() gpu.Pipeline
	RayTracingPipeline() gpu.Pipeline
	SBT() *pipeline.SBT
	RasterPass() gpu.RenderPass
	PostPass() gpu.RenderPass
}

type Bindings interface {
	SceneSet(i uint32) gpu.DescriptorSet
	RayTracingSet() gpu.DescriptorSet
	PostSet() gpu.DescriptorSet
	TextureSet(i int) gpu.DescriptorSet
	TextureCount() int
	GlobalUBO(i uint32) gpu.Buffer
	SceneUBO(i uint32) gpu.Buffer
}

type Targets interface {
	Intermediate() gpu.Image
	RasterFramebuffer() gpu.Framebuffer
	PostFramebuffer(i uint32) gpu.Framebuffer
}

// Model is one raster draw.
type Model struct {
	Vertex     gpu.Buffer
	Index      gpu.Buffer
	IndexCount uint32
	Texture    int
	Transform  math.Mat4
}

// Input is everything that changes from one frame to the next.
type Input struct {
	Mode       metadata.RenderMode
	Global     metadata.GlobalUBO
	Scene      metadata.SceneUBO
	ClearColor math.Vec4
	Models     []Model
}

const rayPushStages = gpu.StageRaygen | gpu.StageMiss | gpu.StageClosestHit

// Recorder records one command buffer per frame. It is a swapchain dependent so that the
// layout it tracks for the intermediate image starts over with every new image.
type Recorder struct {
	pipelines Pipelines
	bindings  Bindings
	targets   Targets
	gui       GUI

	layout gpu.Layout
}

func NewRecorder(pipelines Pipelines, bindings Bindings, targets Targets, gui GUI) *Recorder {
	return &Recorder{pipelines: pipelines, bindings: bindings, targets: targets, gui: gui}
}

func (r *Recorder) CreateSwapchainResources(sc gpu.Swapchain) error {
	r.layout = gpu.LayoutUndefined
	return nil
}

func (r *Recorder) DestroySwapchainResources() {}

// Validate checks models against the bound resources. Call it before a frame is acquired.
func (r *Recorder) Validate(models []Model) error {
	for i, m := range models {
		if m.Texture < 0 || m.Texture >= r.bindings.TextureCount() {
			return fmt.Errorf("model %d uses texture %d of %d: %w", i, m.Texture, r.bindings.TextureCount(), core.ErrContractViolation)
		}
	}
	return nil
}

// Record re-records f.Cmd from scratch.
func (r *Recorder) Record(f *frame.Frame, in Input) error {
	if err := r.Validate(in.Models); err != nil {
		return err
	}

	cmd := f.Cmd
	if err := cmd.Begin(false); err != nil {
		return gpu.Fatal("begin command buffer", err)
	}
	r.uploadUniforms(cmd, f.ImageIndex, in)

	switch in.Mode {
	case metadata.RenderModeRayTrace:
		r.recordRayTrace(cmd, f, in)
	default:
		r.recordRaster(cmd, f, in)
	}
	r.transition(cmd, gpu.LayoutShaderReadOnly)
	r.recordPost(cmd, f)

	if err := cmd.End(); err != nil {
		return gpu.Fatal("end command buffer", err)
	}
	return nil
}

func (r *Recorder) uploadUniforms(cmd gpu.CommandBuffer, image uint32, in Input) {
	global := r.bindings.GlobalUBO(image)
	scene := r.bindings.SceneUBO(image)

	cmd.BufferBarrier(global, gpu.AccessShaderRead, gpu.AccessTransferWrite)
	cmd.BufferBarrier(scene, gpu.AccessShaderRead, gpu.AccessTransferWrite)
	cmd.UpdateBuffer(global, 0, in.Global.Bytes())
	cmd.UpdateBuffer(scene, 0, in.Scene.Bytes())
	cmd.BufferBarrier(global, gpu.AccessTransferWrite, gpu.AccessShaderRead)
	cmd.BufferBarrier(scene, gpu.AccessTransferWrite, gpu.AccessShaderRead)
}

func (r *Recorder) recordRayTrace(cmd gpu.CommandBuffer, f *frame.Frame, in Input) {
	r.transition(cmd, gpu.LayoutGeneral)

	p := r.pipelines.RayTracingPipeline()
	cmd.BindPipeline(p)
	cmd.BindDescriptorSets(p, metadata.SetScene, r.bindings.SceneSet(f.ImageIndex), r.bindings.RayTracingSet())
	cmd.PushConstants(p, rayPushStages, 0, metadata.PushConstantRay{ClearColor: in.ClearColor}.Bytes())

	sbt := r.pipelines.SBT()
	cmd.TraceRays(sbt.Raygen, sbt.Miss, sbt.Hit, sbt.Callable, f.Extent())
}

func (r *Recorder) recordRaster(cmd gpu.CommandBuffer, f *frame.Frame, in Input) {
	r.transition(cmd, gpu.LayoutColorAttachment)

	clear := []gpu.ClearValue{
		{Color: [4]float32{in.ClearColor.X, in.ClearColor.Y, in.ClearColor.Z, in.ClearColor.W}},
		{Depth: 1},
	}
	cmd.BeginRenderPass(r.pipelines.RasterPass(), r.targets.RasterFramebuffer(), clear)
	cmd.SetViewportScissor(f.Extent())

	p := r.pipelines.RasterPipeline()
	cmd.BindPipeline(p)
	cmd.BindDescriptorSets(p, metadata.SetScene, r.bindings.SceneSet(f.ImageIndex))
	for _, m := range in.Models {
		cmd.PushConstants(p, gpu.StageVertex, 0, metadata.PushConstantRaster{Model: m.Transform}.Bytes())
		cmd.BindVertexBuffer(m.Vertex, 0)
		cmd.BindIndexBuffer(m.Index, 0)
		cmd.BindDescriptorSets(p, metadata.SetTexture, r.bindings.TextureSet(m.Texture))
		cmd.DrawIndexed(m.IndexCount, 1, 0)
	}
	cmd.EndRenderPass()
}

// recordPost draws a fullscreen triangle sampling the intermediate image into the swapchain
// image, then lets the GUI draw on top.
func (r *Recorder) recordPost(cmd gpu.CommandBuffer, f *frame.Frame) {
	cmd.BeginRenderPass(r.pipelines.PostPass(), r.targets.PostFramebuffer(f.ImageIndex), []gpu.ClearValue{{}})
	cmd.SetViewportScissor(f.Extent())

	p := r.pipelines.PostPipeline()
	cmd.BindPipeline(p)
	cmd.BindDescriptorSets(p, metadata.SetPost, r.bindings.PostSet())
	cmd.Draw(3, 1)

	if r.gui != nil {
		r.gui.Record(cmd, r.gui.DrawData(f.Slot))
	}
	cmd.EndRenderPass()
}

func (r *Recorder) transition(cmd gpu.CommandBuffer, to gpu.Layout) {
	if r.layout == to {
		return
	}
	cmd.ImageBarrier(r.targets.Intermediate(), r.layout, to)
	r.layout = to
}
