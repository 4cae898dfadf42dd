package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// AccelerationStructure is a KHR acceleration structure placed in a caller owned buffer.
type AccelerationStructure struct {
	device  *Device
	Handle  accelHandle
	kind    gpu.AccelKind
	address uint64
}

func (a *AccelerationStructure) Kind() gpu.AccelKind { return a.kind }

func (a *AccelerationStructure) DeviceAddress() uint64 { return a.address }

func (a *AccelerationStructure) Destroy() {
	if a.Handle != nil {
		a.device.khr.destroyAccel(a.device.logical, a.Handle)
		a.Handle = nil
	}
}

func toAccelInput(g gpu.AccelGeometry) accelInput {
	in := accelInput{
		TopLevel: g.Kind == gpu.AccelTopLevel,
		Flags:    g.Flags,
	}
	if t := g.Triangles; t != nil {
		in.Opaque = t.Opaque
		in.VertexAddress = t.VertexAddress
		in.VertexStride = t.VertexStride
		in.MaxVertex = t.MaxVertex
		in.IndexAddress = t.IndexAddress
		in.PrimitiveCount = t.PrimitiveCount
	}
	if i := g.Instances; i != nil {
		in.InstanceAddress = i.InstanceAddress
		in.PrimitiveCount = i.InstanceCount
	}
	return in
}

func validGeometry(g gpu.AccelGeometry) error {
	switch {
	case g.Kind == gpu.AccelBottomLevel && (g.Triangles == nil || g.Instances != nil):
		return fmt.Errorf("bottom level geometry: %w: needs triangles only", core.ErrContractViolation)
	case g.Kind == gpu.AccelTopLevel && (g.Instances == nil || g.Triangles != nil):
		return fmt.Errorf("top level geometry: %w: needs instances only", core.ErrContractViolation)
	}
	return nil
}

func (d *Device) AccelerationStructureSizes(g gpu.AccelGeometry) (gpu.AccelSizes, error) {
	if err := validGeometry(g); err != nil {
		return gpu.AccelSizes{}, err
	}
	return d.khr.buildSizes(d.logical, toAccelInput(g)), nil
}

func (d *Device) CreateAccelerationStructure(kind gpu.AccelKind, backing gpu.Buffer, size uint64) (gpu.AccelerationStructure, error) {
	buf := backing.(*Buffer)
	if size > buf.size {
		return nil, fmt.Errorf("create acceleration structure: %w: size %d exceeds backing buffer %d", core.ErrContractViolation, size, buf.size)
	}
	handle, address, res := d.khr.createAccel(d.logical, kind == gpu.AccelTopLevel, buf.Handle, size)
	if err := check(res, "create acceleration structure"); err != nil {
		return nil, err
	}
	return &AccelerationStructure{device: d, Handle: handle, kind: kind, address: address}, nil
}
