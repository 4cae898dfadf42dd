package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/gputest"
)

func init() {
	core.LogSetOutput(io.Discard)
}

// stubCompiler produces a distinct module per file name and version.
type stubCompiler struct {
	version map[string]uint32
	fail    map[string]bool
	calls   int
}

func newStubCompiler() *stubCompiler {
	return &stubCompiler{version: make(map[string]uint32), fail: make(map[string]bool)}
}

func (c *stubCompiler) Compile(ctx context.Context, path string) ([]uint32, error) {
	c.calls++
	name := filepath.Base(path)
	if c.fail[name] {
		return nil, fmt.Errorf("%s: %w", name, core.ErrShaderCompile)
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return []uint32{loaders.SPIRVMagic, h.Sum32(), c.version[name]}, nil
}

type stubLayouts struct {
	scene, ray, texture, post gpu.DescriptorSetLayout
}

func (l *stubLayouts) SceneLayout() gpu.DescriptorSetLayout      { return l.scene }
func (l *stubLayouts) RayTracingLayout() gpu.DescriptorSetLayout { return l.ray }
func (l *stubLayouts) TextureLayout() gpu.DescriptorSetLayout    { return l.texture }
func (l *stubLayouts) PostLayout() gpu.DescriptorSetLayout       { return l.post }

func newManager(t *testing.T) (*gputest.Device, *Manager, *stubCompiler, gpu.Swapchain) {
	t.Helper()
	dev := gputest.New()
	layouts := &stubLayouts{}
	for _, l := range []*gpu.DescriptorSetLayout{&layouts.scene, &layouts.ray, &layouts.texture, &layouts.post} {
		var err error
		if *l, err = dev.CreateDescriptorSetLayout(nil); err != nil {
			t.Fatalf("CreateDescriptorSetLayout: %v", err)
		}
	}
	compiler := newStubCompiler()
	m := NewManager(dev, compiler, "shaders", DefaultShaders())
	if err := m.Initialize(context.Background(), layouts); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sc, err := dev.CreateSwapchain(gpu.Extent2D{Width: 800, Height: 600}, 3, nil)
	if err != nil {
		t.Fatalf("CreateSwapchain: %v", err)
	}
	if err := m.CreateSwapchainResources(sc); err != nil {
		t.Fatalf("CreateSwapchainResources: %v", err)
	}
	return dev, m, compiler, sc
}

type signatures struct {
	raster, post, ray uint64
}

func signaturesOf(m *Manager) signatures {
	return signatures{
		raster: m.RasterPipeline().(*gputest.Pipeline).Signature,
		post:   m.PostPipeline().(*gputest.Pipeline).Signature,
		ray:    m.RayTracingPipeline().(*gputest.Pipeline).Signature,
	}
}

func TestInitializeBuildsEveryPipeline(t *testing.T) {
	dev, m, _, _ := newManager(t)

	if m.RasterPipeline().BindPoint() != gpu.BindPointGraphics || m.PostPipeline().BindPoint() != gpu.BindPointGraphics {
		t.Errorf("expected graphics bind points for raster and post")
	}
	if m.RayTracingPipeline().BindPoint() != gpu.BindPointRayTracing {
		t.Errorf("expected a ray tracing bind point")
	}
	if got := dev.LiveCount("shader-module"); got != 0 {
		t.Errorf("expected shader modules to be released after pipeline creation, got %d", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestSBTLayout(t *testing.T) {
	tests := []struct {
		name                string
		props               gpu.RayTracingProperties
		raygen, miss, hit   gpu.StridedRegion
		missCount, hitCount uint32
	}{
		{
			name:      "default",
			props:     gpu.RayTracingProperties{HandleSize: 32, HandleAlignment: 32, BaseAlignment: 64},
			missCount: 2, hitCount: 1,
			raygen: gpu.StridedRegion{Address: 0, Stride: 64, Size: 64},
			miss:   gpu.StridedRegion{Address: 64, Stride: 32, Size: 64},
			hit:    gpu.StridedRegion{Address: 128, Stride: 32, Size: 64},
		},
		{
			name:      "unaligned handles",
			props:     gpu.RayTracingProperties{HandleSize: 20, HandleAlignment: 32, BaseAlignment: 64},
			missCount: 3, hitCount: 1,
			raygen: gpu.StridedRegion{Address: 0, Stride: 64, Size: 64},
			miss:   gpu.StridedRegion{Address: 64, Stride: 32, Size: 128},
			hit:    gpu.StridedRegion{Address: 192, Stride: 32, Size: 64},
		},
	}
	for _, tt := range tests {
		l := computeSBTLayout(tt.props, tt.missCount, tt.hitCount)
		if l.raygen != tt.raygen || l.miss != tt.miss || l.hit != tt.hit {
			t.Errorf("%s: expected %v %v %v, got %v %v %v", tt.name, tt.raygen, tt.miss, tt.hit, l.raygen, l.miss, l.hit)
		}
		if l.raygen.Size != l.raygen.Stride {
			t.Errorf("%s: expected raygen size to equal its stride", tt.name)
		}
	}
}

func TestSBTContents(t *testing.T) {
	_, m, _, _ := newManager(t)
	sbt := m.SBT()
	buf := sbt.Buffer().(*gputest.Buffer)
	base := buf.DeviceAddress()
	data := buf.Bytes()
	sig := m.RayTracingPipeline().(*gputest.Pipeline).Signature

	// the fake writes signature+group into the first 8 bytes of every handle.
	read := func(addr uint64) uint64 {
		off := addr - base
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(data[off+uint64(i)]) << (8 * i)
		}
		return v
	}
	tests := []struct {
		name  string
		addr  uint64
		group uint64
	}{
		{"raygen", sbt.Raygen.Address, 0},
		{"miss", sbt.Miss.Address, 1},
		{"shadow miss", sbt.Miss.Address + sbt.Miss.Stride, 2},
		{"hit", sbt.Hit.Address, 3},
	}
	for _, tt := range tests {
		if got := read(tt.addr); got != sig+tt.group {
			t.Errorf("%s: expected handle of group %d, got %#x", tt.name, tt.group, got)
		}
	}
	if sbt.Callable.Size != 0 {
		t.Errorf("expected an empty callable region")
	}
	if sbt.Raygen.Address%64 != 0 || sbt.Miss.Address%64 != 0 || sbt.Hit.Address%64 != 0 {
		t.Errorf("expected every region on the base alignment")
	}
}

func TestHotReloadTwice(t *testing.T) {
	dev, m, _, _ := newManager(t)

	// objects a reload must never touch.
	dev.CreateFence(true)
	dev.CreateSemaphore()
	backing, _ := dev.CreateBuffer(gpu.BufferDesc{Label: "tlas", Size: 1024, Usage: gpu.BufferUsageAccelStorage | gpu.BufferUsageDeviceAddress})
	dev.CreateAccelerationStructure(gpu.AccelTopLevel, backing, 1024)
	untouched := dev.LiveIDs("fence", "semaphore", "accel", "descriptor-set-layout", "render-pass", "pipeline-layout")

	before := signaturesOf(m)
	oldRaster := m.RasterPipeline().(*gputest.Pipeline)

	for i := 0; i < 2; i++ {
		if err := m.HotReload(context.Background()); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}
	if got := signaturesOf(m); got != before {
		t.Errorf("expected identical pipelines from identical sources, got %+v want %+v", got, before)
	}
	if dev.LiveIDs()[oldRaster.ID()] {
		t.Errorf("expected the previous raster pipeline to be destroyed")
	}
	after := dev.LiveIDs("fence", "semaphore", "accel", "descriptor-set-layout", "render-pass", "pipeline-layout")
	if len(after) != len(untouched) {
		t.Fatalf("expected %d untouched objects, got %d", len(untouched), len(after))
	}
	for id := range untouched {
		if !after[id] {
			t.Errorf("object %d was replaced by a hot reload", id)
		}
	}
	if got := dev.LiveCount("pipeline-graphics") + dev.LiveCount("pipeline-raytracing"); got != 3 {
		t.Errorf("expected 3 live pipelines, got %d", got)
	}
	if m.Reloads() != 2 {
		t.Errorf("expected 2 reloads, got %d", m.Reloads())
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestHotReloadPicksUpChangedSource(t *testing.T) {
	_, m, compiler, _ := newManager(t)
	before := signaturesOf(m)

	compiler.version["raytrace.rchit"] = 1
	if err := m.HotReload(context.Background()); err != nil {
		t.Fatalf("HotReload: %v", err)
	}
	after := signaturesOf(m)
	if after.ray == before.ray {
		t.Errorf("expected a new ray tracing pipeline")
	}
	if after.raster != before.raster || after.post != before.post {
		t.Errorf("expected graphics pipelines built from unchanged sources to match")
	}
}

func TestHotReloadFailureKeepsPipelines(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dev *gputest.Device, c *stubCompiler)
		want  error
	}{
		{"compile error", func(dev *gputest.Device, c *stubCompiler) { c.fail["raster.frag"] = true }, core.ErrShaderCompile},
		{"pipeline creation error", func(dev *gputest.Device, c *stubCompiler) { dev.FailPipelines = 1 }, core.ErrFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, m, compiler, _ := newManager(t)
			raster, post, ray, sbt := m.RasterPipeline(), m.PostPipeline(), m.RayTracingPipeline(), m.SBT()
			compiler.version["raster.vert"] = 7
			tt.setup(dev, compiler)

			err := m.HotReload(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if m.RasterPipeline() != raster || m.PostPipeline() != post || m.RayTracingPipeline() != ray || m.SBT() != sbt {
				t.Errorf("expected the current pipelines to stay in place")
			}
			if got := dev.LiveCount("pipeline-graphics") + dev.LiveCount("pipeline-raytracing"); got != 3 {
				t.Errorf("expected partially built pipelines to be released, got %d live", got)
			}
			if v := dev.Violations(); len(v) != 0 {
				t.Errorf("unexpected violations: %v", v)
			}
		})
	}
}

func TestSwapchainRebuildRecreatesGraphicsPipelines(t *testing.T) {
	dev, m, _, sc := newManager(t)
	ray := m.RayTracingPipeline()
	raster := m.RasterPipeline()

	m.DestroySwapchainResources()
	if m.RasterPipeline() != nil || m.PostPass() != nil {
		t.Fatalf("expected graphics pipelines and the post pass to be released")
	}
	if err := m.CreateSwapchainResources(sc); err != nil {
		t.Fatalf("CreateSwapchainResources: %v", err)
	}
	if m.RasterPipeline() == raster {
		t.Errorf("expected a new raster pipeline")
	}
	if m.RayTracingPipeline() != ray {
		t.Errorf("expected the ray tracing pipeline to survive a swapchain rebuild")
	}
	m.Destroy()
	for _, kind := range []string{"pipeline-graphics", "pipeline-raytracing", "render-pass", "pipeline-layout"} {
		if n := dev.LiveCount(kind); n != 0 {
			t.Errorf("expected no live %s after Destroy, got %d", kind, n)
		}
	}
}

func TestByExtensionRejectsUnknownSources(t *testing.T) {
	c := &ByExtension{GLSL: newStubCompiler(), WGSL: newStubCompiler()}
	if _, err := c.Compile(context.Background(), "shader.hlsl"); !errors.Is(err, core.ErrShaderCompile) {
		t.Errorf("expected a compile error, got %v", err)
	}
	if _, err := c.Compile(context.Background(), "post.wgsl"); err != nil {
		t.Errorf("expected wgsl to be dispatched, got %v", err)
	}
}
