package record

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"io"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/binding"
	"github.com/spaghettifunk/prism/engine/renderer/frame"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/renderer/target"
)

func init() {
	core.LogSetOutput(io.Discard)
}

type hashCompiler struct{}

func (hashCompiler) Compile(ctx context.Context, path string) ([]uint32, error) {
	h := fnv.New32a()
	h.Write([]byte(filepath.Base(path)))
	return []uint32{loaders.SPIRVMagic, h.Sum32()}, nil
}

type window struct{}

func (window) FramebufferExtent() gpu.Extent2D { return gpu.Extent2D{Width: 800, Height: 600} }
func (window) WaitEvents()                     {}

type hud struct {
	recorded int
}

func (h *hud) DrawData(slot int) []byte { return []byte{byte(slot)} }

func (h *hud) Record(cmd gpu.CommandBuffer, data []byte) {
	h.recorded++
	cmd.SetViewportScissor(gpu.Extent2D{Width: 1, Height: 1})
}

type fixture struct {
	dev       *gputest.Device
	scheduler *frame.Scheduler
	recorder  *Recorder
	table     *binding.Table
	pipelines *pipeline.Manager
	targets   *target.Targets
	gui       *hud
	models    []Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := gputest.New()
	fx := &fixture{dev: dev, gui: &hud{}}

	objects, _ := dev.CreateBuffer(gpu.BufferDesc{Label: "objects", Size: 64, Usage: gpu.BufferUsageStorage})
	tex, _ := dev.CreateImage(gpu.ImageDesc{Label: "texture", Extent: gpu.Extent2D{Width: 2, Height: 2}, Format: gpu.FormatRGBA8Unorm, Usage: gpu.ImageUsageSampled})
	for i := 0; i < 2; i++ {
		vb, _ := dev.CreateBuffer(gpu.BufferDesc{Label: "vertices", Size: 3 * math.Vertex3DSize, Usage: gpu.BufferUsageVertex})
		ib, _ := dev.CreateBuffer(gpu.BufferDesc{Label: "indices", Size: 12, Usage: gpu.BufferUsageIndex})
		fx.models = append(fx.models, Model{Vertex: vb, Index: ib, IndexCount: 3, Transform: math.NewMat4Identity()})
	}

	fx.pipelines = pipeline.NewManager(dev, hashCompiler{}, "shaders", pipeline.DefaultShaders())
	fx.targets = target.New(dev, fx.pipelines, pipeline.IntermediateFormat)
	fx.table = binding.NewTable(dev)
	if err := fx.table.Initialize(binding.SceneResources{ObjectDescriptions: objects, Textures: []gpu.Image{tex}}, fx.targets); err != nil {
		t.Fatalf("binding Initialize: %v", err)
	}
	if err := fx.pipelines.Initialize(context.Background(), fx.table); err != nil {
		t.Fatalf("pipeline Initialize: %v", err)
	}
	fx.recorder = NewRecorder(fx.pipelines, fx.table, fx.targets, fx.gui)

	var err error
	if fx.scheduler, err = frame.NewScheduler(dev, window{}); err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	for _, d := range []frame.SwapchainDependent{fx.pipelines, fx.targets, fx.table, fx.recorder} {
		if err := fx.scheduler.Register(d); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return fx
}

func (fx *fixture) input(mode metadata.RenderMode) Input {
	return Input{
		Mode:       mode,
		Global:     metadata.GlobalUBO{Projection: math.NewMat4Identity(), View: math.NewMat4Translation(math.NewVec3(0, 0, -5))},
		Scene:      metadata.SceneUBO{LightDir: math.NewVec4(0, -1, 0, 0)},
		ClearColor: math.NewVec4(0.1, 0.2, 0.3, 1),
		Models:     fx.models,
	}
}

func (fx *fixture) frame(t *testing.T, mode metadata.RenderMode) (*frame.Frame, *gputest.CommandBuffer) {
	t.Helper()
	f, res, err := fx.scheduler.BeginFrame()
	if err != nil || res != frame.Continue {
		t.Fatalf("BeginFrame: %v %v", res, err)
	}
	if err := fx.recorder.Record(f, fx.input(mode)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := fx.scheduler.EndFrame(f); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if err := fx.scheduler.Present(f); err != nil {
		t.Fatalf("Present: %v", err)
	}
	return f, f.Cmd.(*gputest.CommandBuffer)
}

func barriers(cmd *gputest.CommandBuffer) []gpu.Layout {
	var out []gpu.Layout
	for _, b := range cmd.Barriers {
		out = append(out, b.From, b.To)
	}
	return out
}

func equalLayouts(a, b []gpu.Layout) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRayTracePath(t *testing.T) {
	fx := newFixture(t)
	f, cmd := fx.frame(t, metadata.RenderModeRayTrace)

	if len(cmd.Traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(cmd.Traces))
	}
	tr := cmd.Traces[0]
	sbt := fx.pipelines.SBT()
	if tr.Raygen != sbt.Raygen || tr.Miss != sbt.Miss || tr.Hit != sbt.Hit {
		t.Errorf("expected the trace to use the binding table regions")
	}
	if tr.Extent != f.Extent() {
		t.Errorf("expected a trace over %v, got %v", f.Extent(), tr.Extent)
	}
	if len(cmd.Pushes) != 1 || !bytes.Equal(cmd.Pushes[0].Data, metadata.PushConstantRay{ClearColor: math.NewVec4(0.1, 0.2, 0.3, 1)}.Bytes()) {
		t.Errorf("expected one clear color push")
	}
	want := []gpu.Layout{gpu.LayoutUndefined, gpu.LayoutGeneral, gpu.LayoutGeneral, gpu.LayoutShaderReadOnly}
	if got := barriers(cmd); !equalLayouts(got, want) {
		t.Errorf("expected intermediate transitions %v, got %v", want, got)
	}
	// only the composite draws.
	if len(cmd.Draws) != 1 || cmd.Draws[0].Count != 3 || cmd.Draws[0].Indexed {
		t.Errorf("expected a single fullscreen triangle, got %+v", cmd.Draws)
	}
	if fx.gui.recorded != 1 {
		t.Errorf("expected the GUI to record once, got %d", fx.gui.recorded)
	}
	if v := fx.dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestRasterPath(t *testing.T) {
	fx := newFixture(t)
	fx.frame(t, metadata.RenderModeRayTrace)
	f, cmd := fx.frame(t, metadata.RenderModeRaster)

	if len(cmd.Traces) != 0 {
		t.Errorf("expected no trace in raster mode")
	}
	if len(cmd.Draws) != len(fx.models)+1 {
		t.Fatalf("expected %d draws, got %d", len(fx.models)+1, len(cmd.Draws))
	}
	for i, d := range cmd.Draws[:len(fx.models)] {
		if !d.Indexed || d.Pipeline != fx.pipelines.RasterPipeline() {
			t.Errorf("draw %d: expected an indexed raster draw", i)
		}
		if d.Vertex != fx.models[i].Vertex {
			t.Errorf("draw %d: expected the vertex buffer of model %d", i, i)
		}
		if d.Sets[metadata.SetScene] != fx.table.SceneSet(f.ImageIndex) {
			t.Errorf("draw %d: expected the scene set of image %d", i, f.ImageIndex)
		}
		if d.Sets[metadata.SetTexture] != fx.table.TextureSet(0) {
			t.Errorf("draw %d: expected the model texture set", i)
		}
	}
	if post := cmd.Draws[len(fx.models)]; post.Pipeline != fx.pipelines.PostPipeline() || post.Sets[metadata.SetPost] != fx.table.PostSet() {
		t.Errorf("expected the composite draw last")
	}
	if len(cmd.Pushes) != len(fx.models) {
		t.Errorf("expected one model push per draw, got %d", len(cmd.Pushes))
	}
	want := []gpu.Layout{gpu.LayoutShaderReadOnly, gpu.LayoutColorAttachment, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly}
	if got := barriers(cmd); !equalLayouts(got, want) {
		t.Errorf("expected intermediate transitions %v, got %v", want, got)
	}
	if v := fx.dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestUniformsReachPerImageBuffers(t *testing.T) {
	fx := newFixture(t)
	f, _ := fx.frame(t, metadata.RenderModeRaster)

	in := fx.input(metadata.RenderModeRaster)
	global := fx.table.GlobalUBO(f.ImageIndex).(*gputest.Buffer)
	if !bytes.Equal(global.Bytes(), in.Global.Bytes()) {
		t.Errorf("expected the global uniforms of image %d to be updated", f.ImageIndex)
	}
	scene := fx.table.SceneUBO(f.ImageIndex).(*gputest.Buffer)
	if !bytes.Equal(scene.Bytes(), in.Scene.Bytes()) {
		t.Errorf("expected the scene uniforms of image %d to be updated", f.ImageIndex)
	}
	other := fx.table.GlobalUBO((f.ImageIndex + 1) % 3).(*gputest.Buffer)
	if bytes.Equal(other.Bytes(), in.Global.Bytes()) {
		t.Errorf("expected other images to keep their own uniforms")
	}
}

func TestModeToggleEveryFrame(t *testing.T) {
	fx := newFixture(t)
	mode := metadata.RenderModeRaster
	for i := 0; i < 7; i++ {
		fx.frame(t, mode)
		mode = mode.Toggle()
	}
	if v := fx.dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestRecordAfterSwapchainRebuild(t *testing.T) {
	fx := newFixture(t)
	fx.frame(t, metadata.RenderModeRayTrace)

	fx.dev.Caps.CurrentExtent = gpu.Extent2D{Width: 640, Height: 360}
	fx.scheduler.Resized()
	fx.frame(t, metadata.RenderModeRayTrace)
	_, cmd := fx.frame(t, metadata.RenderModeRayTrace)

	if got := barriers(cmd); got[0] != gpu.LayoutUndefined {
		t.Errorf("expected the new intermediate image to start undefined, got %v", got)
	}
	if cmd.Traces[0].Extent != (gpu.Extent2D{Width: 640, Height: 360}) {
		t.Errorf("expected a trace over the new extent, got %v", cmd.Traces[0].Extent)
	}
	if v := fx.dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestRecordRejectsUnknownTexture(t *testing.T) {
	fx := newFixture(t)
	f, _, err := fx.scheduler.BeginFrame()
	if err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	in := fx.input(metadata.RenderModeRaster)
	in.Models = []Model{{Vertex: fx.models[0].Vertex, Index: fx.models[0].Index, IndexCount: 3, Texture: 5}}
	if err := fx.recorder.Record(f, in); !errors.Is(err, core.ErrContractViolation) {
		t.Errorf("expected a contract violation, got %v", err)
	}
}

func TestValidateModels(t *testing.T) {
	fx := newFixture(t)
	m := fx.models[0]
	tests := []struct {
		name    string
		texture int
		ok      bool
	}{
		{"bound texture", 0, true},
		{"negative index", -1, false},
		{"past the last texture", 1, false},
	}
	for _, tt := range tests {
		err := fx.recorder.Validate([]Model{{Vertex: m.Vertex, Index: m.Index, IndexCount: 3, Texture: tt.texture}})
		if tt.ok && err != nil {
			t.Errorf("%s: expected nil, got %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, core.ErrContractViolation) {
			t.Errorf("%s: expected a contract violation, got %v", tt.name, err)
		}
	}
}
