package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Buffer is a buffer with its own allocation. Host visible buffers stay mapped for their
// whole lifetime.
type Buffer struct {
	device  *Device
	label   string
	Handle  vk.Buffer
	memory  vk.DeviceMemory
	size    uint64
	address uint64
	mapped  unsafe.Pointer
}

func (b *Buffer) Size() uint64 { return b.size }

func (b *Buffer) DeviceAddress() uint64 { return b.address }

func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("write to buffer %q: %w: not host visible", b.label, core.ErrContractViolation)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write to buffer %q: %w: %d bytes at %d overflow size %d",
			b.label, core.ErrContractViolation, len(data), offset, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	return nil
}

func (b *Buffer) Destroy() {
	if b.mapped != nil {
		vk.UnmapMemory(b.device.logical, b.memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(b.device.logical, b.Handle, b.device.allocator)
		b.Handle = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.device.logical, b.memory, b.device.allocator)
		b.memory = vk.NullDeviceMemory
	}
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("create buffer %q: %w: zero size", desc.Label, core.ErrContractViolation)
	}
	b := &Buffer{device: d, label: desc.Label, size: desc.Size}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if err := check(vk.CreateBuffer(d.logical, &info, d.allocator, &b.Handle), "create buffer "+desc.Label); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, b.Handle, &req)
	req.Deref()

	props := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Memory == gpu.MemoryHostVisible {
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	index, err := d.FindMemoryIndex(req.MemoryTypeBits, props)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	alloc := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}
	if desc.Usage&gpu.BufferUsageDeviceAddress != 0 {
		alloc.PNext = d.khr.allocateFlags()
	}
	if err := check(vk.AllocateMemory(d.logical, &alloc, d.allocator, &b.memory), "allocate buffer memory "+desc.Label); err != nil {
		b.Destroy()
		return nil, err
	}
	if err := check(vk.BindBufferMemory(d.logical, b.Handle, b.memory, 0), "bind buffer memory "+desc.Label); err != nil {
		b.Destroy()
		return nil, err
	}
	if desc.Memory == gpu.MemoryHostVisible {
		var ptr unsafe.Pointer
		if err := check(vk.MapMemory(d.logical, b.memory, 0, vk.DeviceSize(desc.Size), 0, &ptr), "map buffer "+desc.Label); err != nil {
			b.Destroy()
			return nil, err
		}
		b.mapped = ptr
	}
	if desc.Usage&gpu.BufferUsageDeviceAddress != 0 {
		b.address = d.khr.bufferAddress(d.logical, b.Handle)
	}
	return b, nil
}
