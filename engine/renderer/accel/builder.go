// Package accel builds the ray-tracing acceleration structures of a scene: one bottom-level
// structure per mesh and one top-level structure over the model instances.
package accel

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Device is the part of gpu.Device the builder needs.
type Device interface {
	gpu.ResourceDevice
	gpu.AccelDevice
}

// Mesh is the geometry of one bottom-level structure. Vertices are math.Vertex3D with the
// position first, indices are uint32. Both buffers need a device address.
type Mesh struct {
	Vertex      gpu.Buffer
	Index       gpu.Buffer
	VertexCount uint32
	IndexCount  uint32
}

// Instance places mesh Mesh in the world. The position of an instance in the slice passed to
// BuildTLAS is its custom index, i.e. its slot in the object description table.
type Instance struct {
	Mesh      int
	Transform math.Mat4
}

/**
 * @brief An acceleration structure together with the buffer backing it.
 */
type structure struct {
	handle   gpu.AccelerationStructure
	backing  gpu.Buffer
	geometry gpu.AccelGeometry
	sizes    gpu.AccelSizes
}

func (s *structure) destroy() {
	if s.handle != nil {
		s.handle.Destroy()
		s.handle = nil
	}
	if s.backing != nil {
		s.backing.Destroy()
		s.backing = nil
	}
}

// Builder owns every acceleration structure of the loaded scene.
type Builder struct {
	dev Device

	blas []*structure

	tlas      *structure
	instances []Instance
	// staging is host visible and reused by every refit.
	staging      gpu.Buffer
	instanceData gpu.Buffer
}

func NewBuilder(dev Device) *Builder {
	return &Builder{dev: dev}
}

// BuildBLAS builds one bottom-level structure per mesh, each with its own synchronous
// submission. Previously built bottom-level structures are kept; the new ones are appended.
func (b *Builder) BuildBLAS(meshes []Mesh) error {
	for i, m := range meshes {
		if m.IndexCount == 0 || m.IndexCount%3 != 0 {
			return fmt.Errorf("mesh %d has %d indices, not a triangle list: %w", i, m.IndexCount, core.ErrContractViolation)
		}
		if m.VertexCount == 0 || m.Vertex.DeviceAddress() == 0 || m.Index.DeviceAddress() == 0 {
			return fmt.Errorf("mesh %d buffers are not device addressable: %w", i, core.ErrContractViolation)
		}
		geometry := gpu.AccelGeometry{
			Kind:  gpu.AccelBottomLevel,
			Flags: gpu.AccelBuildPreferFastTrace,
			Triangles: &gpu.TriangleGeometry{
				VertexAddress:  m.Vertex.DeviceAddress(),
				VertexStride:   math.Vertex3DSize,
				MaxVertex:      m.VertexCount - 1,
				IndexAddress:   m.Index.DeviceAddress(),
				PrimitiveCount: m.IndexCount / 3,
				Opaque:         true,
			},
		}
		s, err := b.create(geometry, "blas")
		if err != nil {
			return err
		}
		if err := b.build(s, nil, s.sizes.BuildScratchSize, nil); err != nil {
			s.destroy()
			return err
		}
		b.blas = append(b.blas, s)
		core.LogDebug("built bottom-level structure %d (%d triangles)", len(b.blas)-1, m.IndexCount/3)
	}
	return nil
}

// BuildTLAS (re)builds the top-level structure over instances. descriptions is the number of
// entries in the object description table and must equal the instance count.
func (b *Builder) BuildTLAS(instances []Instance, descriptions int) error {
	records, err := b.encode(instances, descriptions)
	if err != nil {
		return err
	}
	b.destroyTLAS()

	size := uint64(len(records))
	b.staging, err = b.dev.CreateBuffer(gpu.BufferDesc{
		Label:  core.NewLabel("tlas-staging"),
		Size:   size,
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryHostVisible,
	})
	if err != nil {
		return gpu.Fatal("create instance staging buffer", err)
	}
	b.instanceData, err = b.dev.CreateBuffer(gpu.BufferDesc{
		Label:  core.NewLabel("tlas-instances"),
		Size:   size,
		Usage:  gpu.BufferUsageDeviceAddress | gpu.BufferUsageAccelBuildInput | gpu.BufferUsageTransferDst,
		Memory: gpu.MemoryDeviceLocal,
	})
	if err != nil {
		b.destroyTLAS()
		return gpu.Fatal("create instance buffer", err)
	}
	if err := b.staging.Write(0, records); err != nil {
		b.destroyTLAS()
		return gpu.Fatal("write instance staging buffer", err)
	}

	geometry := gpu.AccelGeometry{
		Kind:  gpu.AccelTopLevel,
		Flags: gpu.AccelBuildPreferFastTrace | gpu.AccelBuildAllowUpdate,
		Instances: &gpu.InstanceGeometry{
			InstanceAddress: b.instanceData.DeviceAddress(),
			InstanceCount:   uint32(len(instances)),
		},
	}
	s, err := b.create(geometry, "tlas")
	if err != nil {
		b.destroyTLAS()
		return err
	}
	if err := b.build(s, nil, s.sizes.BuildScratchSize, b.uploadInstances(size)); err != nil {
		s.destroy()
		b.destroyTLAS()
		return err
	}
	b.tlas = s
	b.instances = append([]Instance(nil), instances...)
	core.LogDebug("built top-level structure over %d instances", len(instances))
	return nil
}

// UpdateTransforms refits the top-level structure in place when the instance count is
// unchanged and rebuilds it from scratch otherwise. The caller must make sure no frame that
// reads the structure is still executing.
func (b *Builder) UpdateTransforms(instances []Instance, descriptions int) error {
	if b.tlas == nil || len(instances) != len(b.instances) {
		return b.BuildTLAS(instances, descriptions)
	}
	records, err := b.encode(instances, descriptions)
	if err != nil {
		return err
	}
	if err := b.staging.Write(0, records); err != nil {
		return gpu.Fatal("write instance staging buffer", err)
	}
	if err := b.build(b.tlas, b.tlas, b.tlas.sizes.UpdateScratchSize, b.uploadInstances(uint64(len(records)))); err != nil {
		return err
	}
	b.instances = append(b.instances[:0], instances...)
	return nil
}

func (b *Builder) encode(instances []Instance, descriptions int) ([]byte, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("top-level structure without instances: %w", core.ErrContractViolation)
	}
	if len(instances) != descriptions {
		return nil, fmt.Errorf("%d instances but %d object descriptions: %w", len(instances), descriptions, core.ErrContractViolation)
	}
	records := make([]byte, 0, len(instances)*gpu.AccelInstanceSize)
	for i, inst := range instances {
		if inst.Mesh < 0 || inst.Mesh >= len(b.blas) {
			return nil, fmt.Errorf("instance %d references mesh %d of %d: %w", i, inst.Mesh, len(b.blas), core.ErrContractViolation)
		}
		var err error
		records, err = gpu.AppendAccelInstance(records, gpu.AccelInstance{
			Transform:   inst.Transform.RowMajor3x4(),
			CustomIndex: uint32(i),
			Mask:        0xFF,
			Flags:       gpu.InstanceTriangleCullDisable,
			BLASAddress: b.blas[inst.Mesh].handle.DeviceAddress(),
		})
		if err != nil {
			return nil, fmt.Errorf("instance %d: %v: %w", i, err, core.ErrContractViolation)
		}
	}
	return records, nil
}

// uploadInstances copies the staging records into the instance buffer ahead of a build.
func (b *Builder) uploadInstances(size uint64) func(cmd gpu.CommandBuffer) {
	return func(cmd gpu.CommandBuffer) {
		cmd.CopyBuffer(b.staging, b.instanceData, size)
		cmd.BufferBarrier(b.instanceData, gpu.AccessTransferWrite, gpu.AccessAccelBuildRead)
	}
}

func (b *Builder) create(geometry gpu.AccelGeometry, kind string) (*structure, error) {
	sizes, err := b.dev.AccelerationStructureSizes(geometry)
	if err != nil {
		return nil, gpu.Fatal("query acceleration structure sizes", err)
	}
	backing, err := b.dev.CreateBuffer(gpu.BufferDesc{
		Label:  core.NewLabel(kind),
		Size:   sizes.StructureSize,
		Usage:  gpu.BufferUsageAccelStorage | gpu.BufferUsageDeviceAddress,
		Memory: gpu.MemoryDeviceLocal,
	})
	if err != nil {
		return nil, gpu.Fatal("create acceleration structure buffer", err)
	}
	handle, err := b.dev.CreateAccelerationStructure(geometry.Kind, backing, sizes.StructureSize)
	if err != nil {
		backing.Destroy()
		return nil, gpu.Fatal("create acceleration structure", err)
	}
	return &structure{handle: handle, backing: backing, geometry: geometry, sizes: sizes}, nil
}

// build records the build of dst (an update of src when src is not nil) after prelude and
// waits for it. The scratch buffer only lives for the duration of the build.
func (b *Builder) build(dst, src *structure, scratchSize uint64, prelude func(cmd gpu.CommandBuffer)) error {
	align := b.dev.ScratchAlignment()
	scratch, err := b.dev.CreateBuffer(gpu.BufferDesc{
		Label:  core.NewLabel("scratch"),
		Size:   math.AlignUp(scratchSize, align) + align,
		Usage:  gpu.BufferUsageStorage | gpu.BufferUsageDeviceAddress,
		Memory: gpu.MemoryDeviceLocal,
	})
	if err != nil {
		return gpu.Fatal("create scratch buffer", err)
	}
	defer scratch.Destroy()

	var source gpu.AccelerationStructure
	if src != nil {
		source = src.handle
	}
	err = b.dev.SubmitAndWait(func(cmd gpu.CommandBuffer) error {
		if prelude != nil {
			prelude(cmd)
		}
		cmd.BuildAccelerationStructure(dst.handle, source, dst.geometry, scratch)
		return nil
	})
	if err != nil {
		return gpu.Fatal("build acceleration structure", err)
	}
	return nil
}

// TLAS returns the top-level structure, nil before BuildTLAS.
func (b *Builder) TLAS() gpu.AccelerationStructure {
	if b.tlas == nil {
		return nil
	}
	return b.tlas.handle
}

func (b *Builder) BLASCount() int {
	return len(b.blas)
}

// BLAS returns the bottom-level structure of mesh i.
func (b *Builder) BLAS(i int) gpu.AccelerationStructure {
	return b.blas[i].handle
}

// Instances returns a copy of the instances the top-level structure was last built from.
func (b *Builder) Instances() []Instance {
	return append([]Instance(nil), b.instances...)
}

func (b *Builder) destroyTLAS() {
	if b.tlas != nil {
		b.tlas.destroy()
		b.tlas = nil
	}
	if b.instanceData != nil {
		b.instanceData.Destroy()
		b.instanceData = nil
	}
	if b.staging != nil {
		b.staging.Destroy()
		b.staging = nil
	}
	b.instances = nil
}

// Destroy releases the top-level structure first, then every bottom-level one.
func (b *Builder) Destroy() {
	b.destroyTLAS()
	for i := len(b.blas) - 1; i >= 0; i-- {
		b.blas[i].destroy()
	}
	b.blas = nil
}
