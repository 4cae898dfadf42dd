package binding

import (
	"errors"
	"io"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func init() {
	core.LogSetOutput(io.Discard)
}

type stubTargets struct {
	image gpu.Image
}

func (s *stubTargets) Intermediate() gpu.Image { return s.image }

func newImage(t *testing.T, dev *gputest.Device, label string) gpu.Image {
	t.Helper()
	img, err := dev.CreateImage(gpu.ImageDesc{Label: label, Extent: gpu.Extent2D{Width: 4, Height: 4}, Format: gpu.FormatRGBA8Unorm, Usage: gpu.ImageUsageSampled})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return img
}

func newTable(t *testing.T, textures int) (*gputest.Device, *Table, SceneResources, *stubTargets) {
	t.Helper()
	dev := gputest.New()
	descs, err := dev.CreateBuffer(gpu.BufferDesc{Label: "objects", Size: 64, Usage: gpu.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	scene := SceneResources{ObjectDescriptions: descs}
	for i := 0; i < textures; i++ {
		scene.Textures = append(scene.Textures, newImage(t, dev, "texture"))
	}
	targets := &stubTargets{image: newImage(t, dev, "intermediate")}

	tbl := NewTable(dev)
	if err := tbl.Initialize(scene, targets); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return dev, tbl, scene, targets
}

func write(t *testing.T, set gpu.DescriptorSet, binding uint32) gpu.DescriptorWrite {
	t.Helper()
	w, ok := set.(*gputest.DescriptorSet).Write(binding)
	if !ok {
		t.Fatalf("binding %d was never written", binding)
	}
	return w
}

func TestPerImageSets(t *testing.T) {
	dev, tbl, scene, targets := newTable(t, 3)
	if err := tbl.RebuildForSwapchain(3); err != nil {
		t.Fatalf("RebuildForSwapchain: %v", err)
	}

	if tbl.ImageCount() != 3 {
		t.Fatalf("expected 3 scene sets, got %d", tbl.ImageCount())
	}
	for i := uint32(0); i < 3; i++ {
		set := tbl.SceneSet(i)
		if w := write(t, set, metadata.BindingGlobalUBO); w.Buffer != tbl.GlobalUBO(i) {
			t.Errorf("image %d: global binding does not point at its own buffer", i)
		}
		if w := write(t, set, metadata.BindingSceneUBO); w.Buffer != tbl.SceneUBO(i) {
			t.Errorf("image %d: scene binding does not point at its own buffer", i)
		}
		if w := write(t, set, metadata.BindingObjectDescription); w.Buffer != scene.ObjectDescriptions {
			t.Errorf("image %d: object description binding does not point at the scene buffer", i)
		}
	}
	if tbl.GlobalUBO(0) == tbl.GlobalUBO(1) {
		t.Errorf("expected distinct uniform buffers per image")
	}

	out := write(t, tbl.RayTracingSet(), metadata.BindingOutputImage)
	if out.Images[0] != targets.image || out.Layout != gpu.LayoutGeneral {
		t.Errorf("expected the output image to be the intermediate target in general layout")
	}
	if tex := write(t, tbl.RayTracingSet(), metadata.BindingTextures); len(tex.Images) != 3 {
		t.Errorf("expected 3 bindless textures, got %d", len(tex.Images))
	}
	if post := write(t, tbl.PostSet(), metadata.BindingPostImage); post.Images[0] != targets.image {
		t.Errorf("expected the post set to sample the intermediate target")
	}
	for i := 0; i < tbl.TextureCount(); i++ {
		if w := write(t, tbl.TextureSet(i), metadata.BindingModelTexture); w.Images[0] != scene.Textures[i] {
			t.Errorf("texture set %d points at another texture", i)
		}
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestRebuildResizesToImageCount(t *testing.T) {
	dev, tbl, _, _ := newTable(t, 1)
	if err := tbl.RebuildForSwapchain(3); err != nil {
		t.Fatalf("RebuildForSwapchain: %v", err)
	}
	oldPool := tbl.SceneSet(0).(*gputest.DescriptorSet).Pool()
	oldUBO := tbl.GlobalUBO(0)

	if err := tbl.RebuildForSwapchain(4); err != nil {
		t.Fatalf("RebuildForSwapchain: %v", err)
	}
	if tbl.ImageCount() != 4 {
		t.Errorf("expected 4 scene sets, got %d", tbl.ImageCount())
	}
	live := dev.LiveIDs()
	if live[oldPool.ID()] {
		t.Errorf("expected the previous swapchain pool to be destroyed")
	}
	if live[oldUBO.(*gputest.Buffer).ID()] {
		t.Errorf("expected the previous uniform buffers to be destroyed")
	}
	// texture pool + swapchain pool.
	if got := dev.LiveCount("descriptor-pool"); got != 2 {
		t.Errorf("expected 2 live pools, got %d", got)
	}
	// object descriptions + 2 uniform buffers per image.
	if got := dev.LiveCount("buffer"); got != 9 {
		t.Errorf("expected 9 live buffers, got %d", got)
	}
}

func TestSetTLASRewritesRayTracingSet(t *testing.T) {
	dev, tbl, _, _ := newTable(t, 0)
	if err := tbl.RebuildForSwapchain(2); err != nil {
		t.Fatalf("RebuildForSwapchain: %v", err)
	}
	if _, ok := tbl.RayTracingSet().(*gputest.DescriptorSet).Write(metadata.BindingTLAS); ok {
		t.Fatalf("expected no acceleration structure before one is set")
	}

	backing, _ := dev.CreateBuffer(gpu.BufferDesc{Label: "tlas", Size: 1024, Usage: gpu.BufferUsageAccelStorage | gpu.BufferUsageDeviceAddress})
	tlas, err := dev.CreateAccelerationStructure(gpu.AccelTopLevel, backing, 1024)
	if err != nil {
		t.Fatalf("CreateAccelerationStructure: %v", err)
	}
	if err := tbl.SetTLAS(tlas); err != nil {
		t.Fatalf("SetTLAS: %v", err)
	}
	if w := write(t, tbl.RayTracingSet(), metadata.BindingTLAS); w.Accel != tlas {
		t.Errorf("expected the ray tracing set to point at the new structure")
	}
}

func TestTooManyTextures(t *testing.T) {
	dev := gputest.New()
	descs, _ := dev.CreateBuffer(gpu.BufferDesc{Label: "objects", Size: 32, Usage: gpu.BufferUsageStorage})
	scene := SceneResources{ObjectDescriptions: descs}
	for i := 0; i <= metadata.MaxTextureCount; i++ {
		scene.Textures = append(scene.Textures, newImage(t, dev, "texture"))
	}
	err := NewTable(dev).Initialize(scene, &stubTargets{})
	if !errors.Is(err, core.ErrContractViolation) {
		t.Errorf("expected a contract violation, got %v", err)
	}
}

func TestDestroy(t *testing.T) {
	dev, tbl, _, _ := newTable(t, 2)
	if err := tbl.RebuildForSwapchain(3); err != nil {
		t.Fatalf("RebuildForSwapchain: %v", err)
	}
	tbl.Destroy()

	for _, kind := range []string{"descriptor-pool", "descriptor-set-layout", "sampler"} {
		if n := dev.LiveCount(kind); n != 0 {
			t.Errorf("expected no live %s, got %d", kind, n)
		}
	}
	if n := dev.LiveCount("buffer"); n != 1 {
		t.Errorf("expected only the scene buffer to survive, got %d buffers", n)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}
