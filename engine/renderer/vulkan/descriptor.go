package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type DescriptorSetLayout struct {
	device   *Device
	Handle   vk.DescriptorSetLayout
	bindings []gpu.LayoutBinding
}

func (l *DescriptorSetLayout) Destroy() {
	if l.Handle != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(l.device.logical, l.Handle, l.device.allocator)
		l.Handle = vk.NullDescriptorSetLayout
	}
}

type DescriptorPool struct {
	device *Device
	Handle vk.DescriptorPool
}

func (p *DescriptorPool) Destroy() {
	if p.Handle != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(p.device.logical, p.Handle, p.device.allocator)
		p.Handle = vk.NullDescriptorPool
	}
}

// DescriptorSet lives as long as the pool it came from.
type DescriptorSet struct {
	Handle vk.DescriptorSet
	layout *DescriptorSetLayout
}

func (s *DescriptorSet) Layout() gpu.DescriptorSetLayout { return s.layout }

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.LayoutBinding) (gpu.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	partial := make([]bool, len(bindings))
	anyPartial := false
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toVkDescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      toVkStages(b.Stages),
		}
		partial[i] = b.PartiallyBound
		anyPartial = anyPartial || b.PartiallyBound
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if anyPartial {
		flags, free, err := d.khr.bindingFlags(partial)
		if err != nil {
			return nil, err
		}
		defer free()
		info.PNext = flags
	}
	l := &DescriptorSetLayout{device: d, bindings: append([]gpu.LayoutBinding(nil), bindings...)}
	if err := check(vk.CreateDescriptorSetLayout(d.logical, &info, d.allocator, &l.Handle), "create descriptor set layout"); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.PoolSize) (gpu.DescriptorPool, error) {
	vkSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		vkSizes[i] = vk.DescriptorPoolSize{
			Type:            toVkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vkSizes)),
		PPoolSizes:    vkSizes,
	}
	p := &DescriptorPool{device: d}
	if err := check(vk.CreateDescriptorPool(d.logical, &info, d.allocator, &p.Handle), "create descriptor pool"); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, layouts []gpu.DescriptorSetLayout) ([]gpu.DescriptorSet, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	vkLayouts := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		vkLayouts[i] = l.(*DescriptorSetLayout).Handle
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.(*DescriptorPool).Handle,
		DescriptorSetCount: uint32(len(vkLayouts)),
		PSetLayouts:        vkLayouts,
	}
	handles := make([]vk.DescriptorSet, len(vkLayouts))
	if err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.AllocateDescriptorSets(d.logical, &info, &handles[0]), "allocate descriptor sets")
	}); err != nil {
		return nil, err
	}
	sets := make([]gpu.DescriptorSet, len(handles))
	for i, h := range handles {
		sets[i] = &DescriptorSet{Handle: h, layout: layouts[i].(*DescriptorSetLayout)}
	}
	return sets, nil
}

// UpdateDescriptorSet applies writes to set. Acceleration structure writes go through the
// KHR table, everything else is batched into one vkUpdateDescriptorSets call.
func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, writes []gpu.DescriptorWrite) error {
	target := set.(*DescriptorSet)
	var batch []vk.WriteDescriptorSet
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          target.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  toVkDescriptorType(w.Type),
		}
		switch w.Type {
		case gpu.DescriptorAccelerationStructure:
			accel, ok := w.Accel.(*AccelerationStructure)
			if !ok || accel == nil {
				return fmt.Errorf("update descriptor binding %d: %w: missing acceleration structure", w.Binding, core.ErrContractViolation)
			}
			d.khr.writeAccelDescriptor(d.logical, target.Handle, w.Binding, w.ArrayElement, accel.Handle)
			continue
		case gpu.DescriptorUniformBuffer, gpu.DescriptorStorageBuffer:
			buf, ok := w.Buffer.(*Buffer)
			if !ok || buf == nil {
				return fmt.Errorf("update descriptor binding %d: %w: missing buffer", w.Binding, core.ErrContractViolation)
			}
			write.DescriptorCount = 1
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(buf.size),
			}}
		case gpu.DescriptorSampler:
			write.DescriptorCount = 1
			write.PImageInfo = []vk.DescriptorImageInfo{{Sampler: w.Sampler.(*Sampler).Handle}}
		default:
			if len(w.Images) == 0 {
				return fmt.Errorf("update descriptor binding %d: %w: no images", w.Binding, core.ErrContractViolation)
			}
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for i, img := range w.Images {
				infos[i] = vk.DescriptorImageInfo{
					ImageView:   img.(*Image).View,
					ImageLayout: toVkLayout(w.Layout),
				}
				if w.Sampler != nil {
					infos[i].Sampler = w.Sampler.(*Sampler).Handle
				}
			}
			write.DescriptorCount = uint32(len(infos))
			write.PImageInfo = infos
		}
		batch = append(batch, write)
	}
	if len(batch) > 0 {
		vk.UpdateDescriptorSets(d.logical, uint32(len(batch)), batch, 0, nil)
	}
	return nil
}
