package gputest

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type Buffer struct {
	handle
	Label   string
	size    uint64
	usage   gpu.BufferUsage
	memory  gpu.MemoryKind
	address uint64
	data    []byte
}

func (b *Buffer) Size() uint64          { return b.size }
func (b *Buffer) DeviceAddress() uint64 { return b.address }

func (b *Buffer) Write(offset uint64, data []byte) error {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	if b.memory != gpu.MemoryHostVisible {
		b.dev.violate("host write to device-local buffer %q", b.Label)
		return fmt.Errorf("buffer %q is not host visible", b.Label)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, b.Label, b.size)
	}
	copy(b.data[offset:], data)
	return nil
}

// Bytes returns a copy of the buffer contents as the GPU would see them.
func (b *Buffer) Bytes() []byte {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

type Image struct {
	handle
	Label  string
	extent gpu.Extent2D
	format gpu.Format
	usage  gpu.ImageUsage
	layout gpu.Layout
}

func (i *Image) Extent() gpu.Extent2D { return i.extent }
func (i *Image) Format() gpu.Format   { return i.format }

// Layout returns the layout the image was left in by the last executed command buffer.
func (i *Image) Layout() gpu.Layout {
	i.dev.mu.Lock()
	defer i.dev.mu.Unlock()
	return i.layout
}

// Destroy on a swapchain image is a no-op; the swapchain owns it.
func (i *Image) Destroy() {
	if i.kind == "swapchain-image" {
		return
	}
	i.handle.Destroy()
}

type Sampler struct {
	handle
}

// AccelerationStructure records what was built into it.
type AccelerationStructure struct {
	handle
	kind    gpu.AccelKind
	backing *Buffer
	address uint64
	size    uint64

	Builds    int
	Updates   int
	Geometry  gpu.AccelGeometry
	Instances []gpu.AccelInstance
}

func (a *AccelerationStructure) Kind() gpu.AccelKind   { return a.kind }
func (a *AccelerationStructure) DeviceAddress() uint64 { return a.address }

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size", desc.Label)
	}
	b := &Buffer{
		handle: d.register("buffer"),
		Label:  desc.Label,
		size:   desc.Size,
		usage:  desc.Usage,
		memory: desc.Memory,
		data:   make([]byte, desc.Size),
	}
	if desc.Usage&gpu.BufferUsageDeviceAddress != 0 {
		b.address = d.allocAddress(desc.Size)
		d.byAddress[b.address] = b
	}
	d.track(b)
	return b, nil
}

func (d *Device) allocAddress(size uint64) uint64 {
	addr := d.nextAddress
	d.nextAddress += (size + 0xFFFF) &^ 0xFFFF
	return addr
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Extent.IsZero() {
		return nil, fmt.Errorf("image %q has zero extent", desc.Label)
	}
	img := &Image{handle: d.register("image"), Label: desc.Label, extent: desc.Extent, format: desc.Format, usage: desc.Usage}
	d.track(img)
	return img, nil
}

func (d *Device) CreateSampler() (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Sampler{handle: d.register("sampler")}
	d.track(s)
	return s, nil
}

func (d *Device) SubmitAndWait(record func(cmd gpu.CommandBuffer) error) error {
	d.mu.Lock()
	d.completeAll()
	c := &CommandBuffer{handle: d.register("command-buffer")}
	d.track(c)
	d.mu.Unlock()

	if err := c.Begin(true); err != nil {
		return err
	}
	if err := record(c); err != nil {
		c.Destroy()
		return err
	}
	if err := c.End(); err != nil {
		return err
	}

	d.mu.Lock()
	c.execute(d)
	d.syncSubmits++
	d.mu.Unlock()

	c.Destroy()
	return nil
}

func (d *Device) AccelerationStructureSizes(g gpu.AccelGeometry) (gpu.AccelSizes, error) {
	switch g.Kind {
	case gpu.AccelBottomLevel:
		if g.Triangles == nil {
			return gpu.AccelSizes{}, fmt.Errorf("bottom-level size query without triangles")
		}
		n := uint64(g.Triangles.PrimitiveCount)
		return gpu.AccelSizes{StructureSize: 256 + 64*n, BuildScratchSize: 128 + 32*n, UpdateScratchSize: 64 + 16*n}, nil
	case gpu.AccelTopLevel:
		if g.Instances == nil {
			return gpu.AccelSizes{}, fmt.Errorf("top-level size query without instances")
		}
		n := uint64(g.Instances.InstanceCount)
		return gpu.AccelSizes{StructureSize: 256 + 128*n, BuildScratchSize: 128 + 64*n, UpdateScratchSize: 64 + 32*n}, nil
	}
	return gpu.AccelSizes{}, fmt.Errorf("unknown acceleration structure kind %d", g.Kind)
}

func (d *Device) CreateAccelerationStructure(kind gpu.AccelKind, backing gpu.Buffer, size uint64) (gpu.AccelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := backing.(*Buffer)
	if b.usage&gpu.BufferUsageAccelStorage == 0 {
		d.violate("acceleration structure backed by buffer %q without storage usage", b.Label)
	}
	if b.size < size {
		return nil, fmt.Errorf("backing buffer %q holds %d bytes, need %d", b.Label, b.size, size)
	}
	a := &AccelerationStructure{handle: d.register("accel"), kind: kind, backing: b, size: size, address: d.allocAddress(size)}
	d.track(a)
	return a, nil
}

func (d *Device) ScratchAlignment() uint64 {
	return 128
}

func (d *Device) DepthFormat() gpu.Format {
	return gpu.FormatD32Float
}

// build applies an acceleration-structure build recorded in a command buffer.
func (d *Device) build(op *accelOp) {
	dst := op.dst.(*AccelerationStructure)
	if dst.destroyed {
		d.violate("build into destroyed acceleration structure %d", dst.id)
		return
	}
	if op.scratch.(*Buffer).destroyed {
		d.violate("build with destroyed scratch buffer")
	}
	if op.src != nil {
		src := op.src.(*AccelerationStructure)
		if src.Geometry.Flags&gpu.AccelBuildAllowUpdate == 0 {
			d.violate("update of acceleration structure %d built without allow-update", src.id)
		}
		dst.Updates++
		d.accelUpdates++
	} else {
		dst.Builds++
		d.accelBuilds++
	}
	dst.Geometry = op.geometry

	if op.geometry.Kind == gpu.AccelTopLevel && op.geometry.Instances != nil {
		in := op.geometry.Instances
		buf, ok := d.bufferAtLocked(in.InstanceAddress)
		if !ok {
			d.violate("top-level build reads instance address %#x that no buffer holds", in.InstanceAddress)
			return
		}
		off := in.InstanceAddress - buf.address
		end := off + uint64(in.InstanceCount)*gpu.AccelInstanceSize
		if end > buf.size {
			d.violate("top-level build reads past instance buffer %q", buf.Label)
			return
		}
		dst.Instances = gpu.DecodeAccelInstances(buf.data[off:end])
		for _, inst := range dst.Instances {
			if !d.isAccelAddress(inst.BLASAddress) {
				d.violate("instance references %#x which is not a live bottom-level structure", inst.BLASAddress)
			}
		}
	}
	if op.geometry.Kind == gpu.AccelBottomLevel && op.geometry.Triangles != nil {
		tri := op.geometry.Triangles
		if _, ok := d.bufferAtLocked(tri.VertexAddress); !ok {
			d.violate("bottom-level build reads vertex address %#x that no buffer holds", tri.VertexAddress)
		}
		if _, ok := d.bufferAtLocked(tri.IndexAddress); !ok {
			d.violate("bottom-level build reads index address %#x that no buffer holds", tri.IndexAddress)
		}
	}
}

func (d *Device) isAccelAddress(addr uint64) bool {
	for _, o := range d.live {
		if a, ok := o.(*AccelerationStructure); ok && a.kind == gpu.AccelBottomLevel && a.address == addr {
			return true
		}
	}
	return false
}
