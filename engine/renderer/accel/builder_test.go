package accel

import (
	"errors"
	"io"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func init() {
	core.LogSetOutput(io.Discard)
}

func newMesh(t *testing.T, dev *gputest.Device, triangles uint32) Mesh {
	t.Helper()
	usage := gpu.BufferUsageDeviceAddress | gpu.BufferUsageAccelBuildInput | gpu.BufferUsageStorage
	vb, err := dev.CreateBuffer(gpu.BufferDesc{Label: "vertices", Size: uint64(triangles*3) * math.Vertex3DSize, Usage: usage | gpu.BufferUsageVertex})
	if err != nil {
		t.Fatalf("vertex buffer: %v", err)
	}
	ib, err := dev.CreateBuffer(gpu.BufferDesc{Label: "indices", Size: uint64(triangles*3) * 4, Usage: usage | gpu.BufferUsageIndex})
	if err != nil {
		t.Fatalf("index buffer: %v", err)
	}
	return Mesh{Vertex: vb, Index: ib, VertexCount: triangles * 3, IndexCount: triangles * 3}
}

func twoModels(t *testing.T) (*gputest.Device, *Builder, []Mesh, []Instance) {
	t.Helper()
	dev := gputest.New()
	meshes := []Mesh{newMesh(t, dev, 10), newMesh(t, dev, 20)}
	instances := []Instance{
		{Mesh: 0, Transform: math.NewMat4Translation(math.NewVec3(1, 2, 3))},
		{Mesh: 1, Transform: math.NewMat4Identity()},
	}
	b := NewBuilder(dev)
	if err := b.BuildBLAS(meshes); err != nil {
		t.Fatalf("BuildBLAS: %v", err)
	}
	if err := b.BuildTLAS(instances, len(instances)); err != nil {
		t.Fatalf("BuildTLAS: %v", err)
	}
	return dev, b, meshes, instances
}

func TestTwoModelScene(t *testing.T) {
	dev, b, _, _ := twoModels(t)

	if b.BLASCount() != 2 {
		t.Fatalf("expected 2 bottom-level structures, got %d", b.BLASCount())
	}
	if got := dev.LiveCount("accel"); got != 3 {
		t.Errorf("expected 3 live acceleration structures, got %d", got)
	}
	for i, want := range []uint32{10, 20} {
		blas := b.BLAS(i).(*gputest.AccelerationStructure)
		if got := blas.Geometry.Triangles.PrimitiveCount; got != want {
			t.Errorf("blas %d: expected %d triangles, got %d", i, want, got)
		}
		if blas.Builds != 1 {
			t.Errorf("blas %d: expected 1 build, got %d", i, blas.Builds)
		}
	}

	tlas := b.TLAS().(*gputest.AccelerationStructure)
	if tlas.Kind() != gpu.AccelTopLevel {
		t.Fatalf("expected a top-level structure, got kind %d", tlas.Kind())
	}
	if len(tlas.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(tlas.Instances))
	}
	if tlas.Geometry.Flags&gpu.AccelBuildAllowUpdate == 0 {
		t.Errorf("expected the top-level structure to allow updates")
	}
	for i, inst := range tlas.Instances {
		if inst.CustomIndex != uint32(i) {
			t.Errorf("instance %d: expected custom index %d, got %d", i, i, inst.CustomIndex)
		}
		if inst.Mask != 0xFF {
			t.Errorf("instance %d: expected mask 0xFF, got %#x", i, inst.Mask)
		}
		if inst.Flags&gpu.InstanceTriangleCullDisable == 0 {
			t.Errorf("instance %d: expected cull disable flag", i)
		}
		if want := b.BLAS(i).DeviceAddress(); inst.BLASAddress != want {
			t.Errorf("instance %d: expected blas address %#x, got %#x", i, want, inst.BLASAddress)
		}
	}
	// row-major 3x4: translation is the last column.
	tr := tlas.Instances[0].Transform
	if tr[3] != 1 || tr[7] != 2 || tr[11] != 3 {
		t.Errorf("expected translation (1, 2, 3) in the last column, got (%f, %f, %f)", tr[3], tr[7], tr[11])
	}

	st := dev.Stats()
	if st.AccelBuilds != 3 || st.SyncSubmits != 3 {
		t.Errorf("expected 3 builds in 3 synchronous submissions, got %d in %d", st.AccelBuilds, st.SyncSubmits)
	}
	// 2 meshes x 2 buffers, 3 backing buffers, staging and instance buffers; scratch is freed.
	if got := dev.LiveCount("buffer"); got != 9 {
		t.Errorf("expected 9 live buffers, got %d", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestCustomIndexResolvesObjectDescription(t *testing.T) {
	_, b, meshes, instances := twoModels(t)

	descs := make([]metadata.ObjectDescription, len(instances))
	for i, inst := range instances {
		m := meshes[inst.Mesh]
		descs[i] = metadata.ObjectDescription{VertexAddress: m.Vertex.DeviceAddress(), IndexAddress: m.Index.DeviceAddress()}
	}
	table := metadata.EncodeObjectDescriptions(descs)

	for i, inst := range b.TLAS().(*gputest.AccelerationStructure).Instances {
		desc, ok := metadata.DecodeObjectDescription(table, inst.CustomIndex)
		if !ok {
			t.Fatalf("instance %d: custom index %d outside the table", i, inst.CustomIndex)
		}
		want := meshes[instances[i].Mesh]
		if desc.VertexAddress != want.Vertex.DeviceAddress() || desc.IndexAddress != want.Index.DeviceAddress() {
			t.Errorf("instance %d resolves to the buffers of another model", i)
		}
	}
}

func TestUpdateTransformsRefitsInPlace(t *testing.T) {
	dev, b, _, instances := twoModels(t)
	before := b.TLAS()

	instances[1].Transform = math.NewMat4Translation(math.NewVec3(0, 5, 0))
	if err := b.UpdateTransforms(instances, len(instances)); err != nil {
		t.Fatalf("UpdateTransforms: %v", err)
	}
	tlas := b.TLAS().(*gputest.AccelerationStructure)
	if b.TLAS() != before {
		t.Fatalf("expected the top-level structure to be refit in place")
	}
	if tlas.Builds != 1 || tlas.Updates != 1 {
		t.Errorf("expected 1 build and 1 update, got %d and %d", tlas.Builds, tlas.Updates)
	}
	if got := tlas.Instances[1].Transform[7]; got != 5 {
		t.Errorf("expected refit translation y = 5, got %f", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestUpdateTransformsRebuildsOnCountChange(t *testing.T) {
	dev, b, _, instances := twoModels(t)
	before := b.TLAS()

	instances = append(instances, Instance{Mesh: 1, Transform: math.NewMat4Identity()})
	if err := b.UpdateTransforms(instances, len(instances)); err != nil {
		t.Fatalf("UpdateTransforms: %v", err)
	}
	tlas := b.TLAS().(*gputest.AccelerationStructure)
	if b.TLAS() == before {
		t.Fatalf("expected a new top-level structure")
	}
	if len(tlas.Instances) != 3 || tlas.Updates != 0 {
		t.Errorf("expected a full build over 3 instances, got %d instances and %d updates", len(tlas.Instances), tlas.Updates)
	}
	if got := dev.LiveCount("accel"); got != 3 {
		t.Errorf("expected 3 live acceleration structures, got %d", got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestContractViolations(t *testing.T) {
	dev := gputest.New()
	b := NewBuilder(dev)
	if err := b.BuildBLAS([]Mesh{newMesh(t, dev, 4)}); err != nil {
		t.Fatalf("BuildBLAS: %v", err)
	}
	bad := newMesh(t, dev, 4)
	bad.IndexCount = 7

	tests := []struct {
		name string
		run  func() error
	}{
		{"description count mismatch", func() error {
			return b.BuildTLAS([]Instance{{Mesh: 0, Transform: math.NewMat4Identity()}}, 2)
		}},
		{"mesh out of range", func() error {
			return b.BuildTLAS([]Instance{{Mesh: 1, Transform: math.NewMat4Identity()}}, 1)
		}},
		{"negative mesh", func() error {
			return b.BuildTLAS([]Instance{{Mesh: -1, Transform: math.NewMat4Identity()}}, 1)
		}},
		{"no instances", func() error {
			return b.BuildTLAS(nil, 0)
		}},
		{"not a triangle list", func() error {
			return b.BuildBLAS([]Mesh{bad})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, core.ErrContractViolation) {
				t.Errorf("expected a contract violation, got %v", err)
			}
		})
	}
	if b.TLAS() != nil {
		t.Errorf("expected no top-level structure after rejected builds")
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	dev, b, meshes, _ := twoModels(t)
	b.Destroy()

	if got := dev.LiveCount("accel"); got != 0 {
		t.Errorf("expected no live acceleration structures, got %d", got)
	}
	// only the mesh buffers remain; they belong to the scene.
	if got := dev.LiveCount("buffer"); got != 2*len(meshes) {
		t.Errorf("expected %d live buffers, got %d", 2*len(meshes), got)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}
