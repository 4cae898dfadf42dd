package renderer

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/scene"
)

func init() {
	core.LogSetOutput(io.Discard)
}

type compiler struct {
	fail bool
}

func (c *compiler) Compile(ctx context.Context, path string) ([]uint32, error) {
	if c.fail {
		return nil, core.ErrShaderCompile
	}
	h := fnv.New32a()
	h.Write([]byte(filepath.Base(path)))
	return []uint32{loaders.SPIRVMagic, h.Sum32()}, nil
}

type window struct{}

func (window) FramebufferExtent() gpu.Extent2D { return gpu.Extent2D{Width: 800, Height: 600} }
func (window) WaitEvents()                     {}

func twoModels(t *testing.T) *scene.Scene {
	t.Helper()
	s := scene.New()
	mat := metadata.DefaultMaterial()
	for _, m := range []*scene.MeshData{scene.NewCube("crate", 1, mat), scene.NewPlane("floor", 10, 2, mat)} {
		if err := s.AddModel(&scene.Model{Name: m.Name, Mesh: m}); err != nil {
			t.Fatalf("AddModel: %v", err)
		}
	}
	return s
}

func newRenderer(t *testing.T, c *compiler) (*Renderer, *gputest.Device, *core.EventBus, *scene.Scene) {
	t.Helper()
	dev := gputest.New()
	bus := core.NewEventBus()
	r := New(dev, window{}, bus, nil, Options{
		Mode:       metadata.RenderModeRaster,
		ClearColor: math.NewVec4(0, 0, 0, 1),
		ShaderDir:  "shaders",
		Shaders:    pipeline.DefaultShaders(),
		Compiler:   c,
	})
	s := twoModels(t)
	if err := r.Initialize(context.Background(), s); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r, dev, bus, s
}

func render(t *testing.T, r *Renderer, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		if err := r.Render(context.Background(), 0.016); err != nil {
			t.Fatalf("Render frame %d: %v", i, err)
		}
	}
}

func lastCommand(dev *gputest.Device) *gputest.CommandBuffer {
	subs := dev.Submissions()
	return subs[len(subs)-1].Command
}

func TestInitializeBuildsTheScene(t *testing.T) {
	r, dev, _, _ := newRenderer(t, &compiler{})
	defer r.Shutdown()

	if r.accel.BLASCount() != 2 || len(r.accel.Instances()) != 2 {
		t.Errorf("expected 2 BLAS and 2 instances, got %d and %d", r.accel.BLASCount(), len(r.accel.Instances()))
	}
	if got := dev.Created("accel"); got != 3 {
		t.Errorf("expected 3 acceleration structures, got %d", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestRenderBothModes(t *testing.T) {
	r, dev, bus, _ := newRenderer(t, &compiler{})
	defer r.Shutdown()

	render(t, r, 4)
	cmd := lastCommand(dev)
	if len(cmd.Traces) != 0 || len(cmd.Draws) != 3 {
		t.Errorf("expected 2 model draws and the composite in raster mode, got %d draws and %d traces", len(cmd.Draws), len(cmd.Traces))
	}

	bus.Fire(core.EVENT_CODE_TOGGLE_RENDER_MODE, nil, core.EventContext{})
	render(t, r, 1)
	if r.Mode() != metadata.RenderModeRayTrace {
		t.Fatalf("expected the toggle event to switch to ray tracing")
	}
	cmd = lastCommand(dev)
	if len(cmd.Traces) != 1 || len(cmd.Draws) != 1 {
		t.Errorf("expected a trace and the composite, got %d traces and %d draws", len(cmd.Traces), len(cmd.Draws))
	}
	if r.Frames() != 5 {
		t.Errorf("expected 5 frames, got %d", r.Frames())
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestShaderReloadEvent(t *testing.T) {
	r, dev, bus, _ := newRenderer(t, &compiler{})
	defer r.Shutdown()
	render(t, r, 2)

	accels := dev.LiveIDs("accel")
	ctx := core.EventContext{}
	ctx.Data.S = "shaders/raytrace.rchit"
	bus.Fire(core.EVENT_CODE_SHADER_RELOAD, nil, ctx)
	r.SetMode(metadata.RenderModeRayTrace)
	render(t, r, 3)

	if r.pipelines.Reloads() != 1 {
		t.Errorf("expected one reload, got %d", r.pipelines.Reloads())
	}
	if got := dev.LiveIDs("accel"); len(got) != len(accels) {
		t.Errorf("expected acceleration structures to survive the reload")
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestFailedReloadKeepsRendering(t *testing.T) {
	c := &compiler{}
	r, dev, bus, _ := newRenderer(t, c)
	defer r.Shutdown()

	c.fail = true
	bus.Fire(core.EVENT_CODE_SHADER_RELOAD, nil, core.EventContext{})
	render(t, r, 2)
	if r.pipelines.Reloads() != 0 {
		t.Errorf("expected no successful reload")
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestResizeEvent(t *testing.T) {
	r, dev, bus, _ := newRenderer(t, &compiler{})
	defer r.Shutdown()
	render(t, r, 1)

	dev.Caps.CurrentExtent = gpu.Extent2D{Width: 1024, Height: 768}
	ctx := core.EventContext{}
	ctx.Data.U32[0], ctx.Data.U32[1] = 1024, 768
	bus.Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	render(t, r, 2)

	if r.scheduler.Generation() != 1 {
		t.Errorf("expected one rebuild, got %d", r.scheduler.Generation())
	}
	if got := r.targets.Extent(); got != (gpu.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("expected targets at the new extent, got %v", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestUpdateTransformsRefitsBeforeRayTracing(t *testing.T) {
	r, dev, _, s := newRenderer(t, &compiler{})
	defer r.Shutdown()
	render(t, r, 2)

	tlas := r.accel.TLAS()
	idle := dev.Stats().WaitIdleCalls
	s.Models[0].Transform.SetPosition(math.NewVec3(3, 0, 0))
	r.UpdateTransforms()
	render(t, r, 3)
	if got := dev.Stats(); got.AccelUpdates != 0 || got.WaitIdleCalls != idle {
		t.Errorf("expected raster frames to leave the TLAS alone, got %d updates and %d idle waits", got.AccelUpdates, got.WaitIdleCalls-idle)
	}

	r.SetMode(metadata.RenderModeRayTrace)
	render(t, r, 2)
	if r.accel.TLAS() != tlas {
		t.Errorf("expected the TLAS to be refit in place")
	}
	if dev.Stats().AccelUpdates != 1 {
		t.Errorf("expected one update build, got %d", dev.Stats().AccelUpdates)
	}
	if got := r.accel.Instances()[0].Transform.Data[12]; got != 3 {
		t.Errorf("expected the new transform, got x = %f", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestRejectedFrameAcquiresNothing(t *testing.T) {
	r, dev, _, s := newRenderer(t, &compiler{})
	defer r.Shutdown()
	render(t, r, 1)

	submitted := len(dev.Submissions())
	slot := r.scheduler.Current()
	s.Models[0].Texture = 99
	err := r.Render(context.Background(), 0.016)
	if !errors.Is(err, core.ErrContractViolation) {
		t.Fatalf("expected a contract violation, got %v", err)
	}
	if errors.Is(err, core.ErrFatal) {
		t.Errorf("expected a contract violation to not be fatal, got %v", err)
	}
	if r.scheduler.Current() != slot || len(dev.Submissions()) != submitted {
		t.Errorf("expected the rejected frame to leave the scheduler untouched")
	}

	s.Models[0].Texture = 0
	render(t, r, 4)
	if r.Frames() != 5 {
		t.Errorf("expected 5 frames, got %d", r.Frames())
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	r, dev, bus, _ := newRenderer(t, &compiler{})
	render(t, r, 3)

	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if live := dev.LiveIDs(); len(live) != 0 {
		t.Errorf("expected nothing live after shutdown, got %d objects", len(live))
	}
	if err := r.Shutdown(); err != nil {
		t.Errorf("expected a second shutdown to be a no-op, got %v", err)
	}
	// a handler still registered would reach the released scheduler.
	bus.Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{})
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestInitializeFailureCleansUp(t *testing.T) {
	dev := gputest.New()
	r := New(dev, window{}, nil, nil, Options{ShaderDir: "shaders", Shaders: pipeline.DefaultShaders(), Compiler: &compiler{fail: true}})
	err := r.Initialize(context.Background(), twoModels(t))
	if !errors.Is(err, core.ErrShaderCompile) {
		t.Fatalf("expected a compile error, got %v", err)
	}
	if live := dev.LiveIDs(); len(live) != 0 {
		t.Errorf("expected nothing live after a failed initialize, got %d objects", len(live))
	}
}
