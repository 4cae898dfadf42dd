package gputest

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type DescriptorSetLayout struct {
	handle
	Bindings []gpu.LayoutBinding
}

func (l *DescriptorSetLayout) binding(n uint32) (gpu.LayoutBinding, bool) {
	for _, b := range l.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return gpu.LayoutBinding{}, false
}

type DescriptorPool struct {
	handle
	maxSets   uint32
	allocated uint32
	sets      []*DescriptorSet
}

// DescriptorSet remembers the last write of every binding element.
type DescriptorSet struct {
	pool   *DescriptorPool
	layout *DescriptorSetLayout
	Writes map[[2]uint32]gpu.DescriptorWrite
}

func (s *DescriptorSet) Layout() gpu.DescriptorSetLayout { return s.layout }

// Pool returns the pool the set came from.
func (s *DescriptorSet) Pool() *DescriptorPool { return s.pool }

// Write returns the last write to binding at array element 0.
func (s *DescriptorSet) Write(binding uint32) (gpu.DescriptorWrite, bool) {
	w, ok := s.Writes[[2]uint32{binding, 0}]
	return w, ok
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.LayoutBinding) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &DescriptorSetLayout{handle: d.register("descriptor-set-layout"), Bindings: append([]gpu.LayoutBinding(nil), bindings...)}
	d.track(l)
	return l, nil
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.PoolSize) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if maxSets == 0 {
		return nil, fmt.Errorf("descriptor pool with zero sets")
	}
	p := &DescriptorPool{handle: d.register("descriptor-pool"), maxSets: maxSets}
	d.track(p)
	return p, nil
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, layouts []gpu.DescriptorSetLayout) ([]gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := pool.(*DescriptorPool)
	if p.destroyed {
		d.violate("allocation from destroyed descriptor pool %d", p.id)
	}
	if p.allocated+uint32(len(layouts)) > p.maxSets {
		return nil, fmt.Errorf("descriptor pool %d exhausted: %d of %d sets used", p.id, p.allocated, p.maxSets)
	}
	out := make([]gpu.DescriptorSet, len(layouts))
	for i, l := range layouts {
		s := &DescriptorSet{pool: p, layout: l.(*DescriptorSetLayout), Writes: make(map[[2]uint32]gpu.DescriptorWrite)}
		p.sets = append(p.sets, s)
		out[i] = s
	}
	p.allocated += uint32(len(layouts))
	return out, nil
}

func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, writes []gpu.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := set.(*DescriptorSet)
	if s.pool.destroyed {
		d.violate("write to a set of destroyed pool %d", s.pool.id)
	}
	for _, w := range writes {
		b, ok := s.layout.binding(w.Binding)
		if !ok {
			return fmt.Errorf("binding %d not in layout %d", w.Binding, s.layout.id)
		}
		if b.Type != w.Type {
			return fmt.Errorf("binding %d is type %d, write is type %d", w.Binding, b.Type, w.Type)
		}
		count := uint32(1)
		if len(w.Images) > 1 {
			count = uint32(len(w.Images))
		}
		if w.ArrayElement+count > b.Count {
			return fmt.Errorf("binding %d holds %d elements, write covers %d..%d", w.Binding, b.Count, w.ArrayElement, w.ArrayElement+count)
		}
		d.checkLive(w)
		s.Writes[[2]uint32{w.Binding, w.ArrayElement}] = w
	}
	return nil
}

func (d *Device) checkLive(w gpu.DescriptorWrite) {
	if w.Buffer != nil && w.Buffer.(*Buffer).destroyed {
		d.violate("descriptor write of destroyed buffer %q", w.Buffer.(*Buffer).Label)
	}
	for _, img := range w.Images {
		if img.(*Image).destroyed {
			d.violate("descriptor write of destroyed image %d", img.(*Image).id)
		}
	}
	if w.Accel != nil && w.Accel.(*AccelerationStructure).destroyed {
		d.violate("descriptor write of destroyed acceleration structure")
	}
}
