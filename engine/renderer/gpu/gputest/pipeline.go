package gputest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// ErrPipelineCreation is returned while Device.FailPipelines is positive.
var ErrPipelineCreation = errors.New("pipeline creation failed")

type ShaderModule struct {
	handle
	hash uint64
}

type PipelineLayout struct {
	handle
	Sets []gpu.DescriptorSetLayout
	Push []gpu.PushConstantRange
}

type RenderPass struct {
	handle
	Desc gpu.RenderPassDesc
}

type Framebuffer struct {
	handle
	pass        *RenderPass
	attachments []gpu.Image
	extent      gpu.Extent2D
}

func (f *Framebuffer) Extent() gpu.Extent2D { return f.extent }

// Pipeline carries a signature derived from its shader code, so two pipelines built from the
// same sources compare equal.
type Pipeline struct {
	handle
	Label     string
	layout    *PipelineLayout
	bindPoint gpu.BindPoint
	Signature uint64
}

func (p *Pipeline) Layout() gpu.PipelineLayout { return p.layout }
func (p *Pipeline) BindPoint() gpu.BindPoint   { return p.bindPoint }

func (d *Device) CreateShaderModule(code []uint32) (gpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 {
		return nil, fmt.Errorf("empty shader module")
	}
	h := fnv.New64a()
	buf := make([]byte, 4)
	for _, w := range code {
		binary.LittleEndian.PutUint32(buf, w)
		h.Write(buf)
	}
	m := &ShaderModule{handle: d.register("shader-module"), hash: h.Sum64()}
	d.track(m)
	return m, nil
}

func (d *Device) CreatePipelineLayout(sets []gpu.DescriptorSetLayout, push []gpu.PushConstantRange) (gpu.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &PipelineLayout{handle: d.register("pipeline-layout"), Sets: sets, Push: push}
	d.track(l)
	return l, nil
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp := &RenderPass{handle: d.register("render-pass"), Desc: desc}
	d.track(rp)
	return rp, nil
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, attachments []gpu.Image, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range attachments {
		if a.(*Image).destroyed {
			d.violate("framebuffer over destroyed image %d", a.(*Image).id)
		}
		if a.Extent() != extent {
			return nil, fmt.Errorf("attachment extent %v does not match framebuffer %v", a.Extent(), extent)
		}
	}
	fb := &Framebuffer{handle: d.register("framebuffer"), pass: pass.(*RenderPass), attachments: attachments, extent: extent}
	d.track(fb)
	return fb, nil
}

func (d *Device) signature(modules ...gpu.ShaderModule) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, m := range modules {
		sm := m.(*ShaderModule)
		if sm.destroyed {
			d.violate("pipeline built from destroyed shader module %d", sm.id)
		}
		binary.LittleEndian.PutUint64(buf, sm.hash)
		h.Write(buf)
	}
	return h.Sum64()
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPipelines > 0 {
		d.FailPipelines--
		return nil, ErrPipelineCreation
	}
	p := &Pipeline{
		handle:    d.register("pipeline-graphics"),
		Label:     desc.Label,
		layout:    desc.Layout.(*PipelineLayout),
		bindPoint: gpu.BindPointGraphics,
		Signature: d.signature(desc.Vertex, desc.Fragment),
	}
	d.track(p)
	return p, nil
}

func (d *Device) CreateRayTracingPipeline(desc gpu.RayTracingPipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPipelines > 0 {
		d.FailPipelines--
		return nil, ErrPipelineCreation
	}
	modules := []gpu.ShaderModule{desc.Raygen}
	modules = append(modules, desc.Miss...)
	modules = append(modules, desc.ClosestHit...)
	p := &Pipeline{
		handle:    d.register("pipeline-raytracing"),
		Label:     desc.Label,
		layout:    desc.Layout.(*PipelineLayout),
		bindPoint: gpu.BindPointRayTracing,
		Signature: d.signature(modules...),
	}
	d.track(p)
	return p, nil
}

func (d *Device) RayTracingProperties() gpu.RayTracingProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Props
}

// ShaderGroupHandles returns handles whose first eight bytes are the pipeline signature
// plus the group index, so binding table contents are predictable in tests.
func (d *Device) ShaderGroupHandles(p gpu.Pipeline, first, count uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pl := p.(*Pipeline)
	if pl.bindPoint != gpu.BindPointRayTracing {
		return nil, fmt.Errorf("pipeline %d is not a ray-tracing pipeline", pl.id)
	}
	size := d.Props.HandleSize
	out := make([]byte, size*count)
	for i := uint32(0); i < count; i++ {
		binary.LittleEndian.PutUint64(out[i*size:], pl.Signature+uint64(first+i))
	}
	return out, nil
}
