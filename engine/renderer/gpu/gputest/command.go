package gputest

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type cmdState int

const (
	stateInitial cmdState = iota
	stateRecording
	stateExecutable
	statePending
)

func (s cmdState) String() string {
	return [...]string{"initial", "recording", "executable", "pending"}[s]
}

// Trace is one recorded TraceRays call.
type Trace struct {
	Raygen, Miss, Hit, Callable gpu.StridedRegion
	Extent                      gpu.Extent2D
}

// Push is one recorded PushConstants call.
type Push struct {
	Pipeline *Pipeline
	Stages   gpu.ShaderStage
	Offset   uint32
	Data     []byte
}

// Draw is one recorded Draw or DrawIndexed call.
type Draw struct {
	Pipeline  *Pipeline
	Count     uint32
	Instances uint32
	Indexed   bool
	Sets      map[uint32]*DescriptorSet
	Vertex    *Buffer
	Index     *Buffer
}

// Barrier is one recorded ImageBarrier call.
type Barrier struct {
	Image    *Image
	From, To gpu.Layout
}

// CommandBuffer records calls into Ops and the typed slices below. Everything is cleared
// by Reset and by Begin.
type CommandBuffer struct {
	handle
	state    cmdState
	oneTime  bool
	inFlight *Fence

	// Submits counts frame submissions of this buffer.
	Submits int

	Ops      []string
	Traces   []Trace
	Pushes   []Push
	Draws    []Draw
	Barriers []Barrier
	Passes   []*RenderPass

	bound    map[gpu.BindPoint]*Pipeline
	sets     map[uint32]*DescriptorSet
	vertex   *Buffer
	index    *Buffer
	inPass   *Framebuffer
	deferred []func(d *Device)
}

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &CommandBuffer{handle: d.register("command-buffer")}
	d.track(c)
	return c, nil
}

func (c *CommandBuffer) fail(format string, args ...interface{}) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.violate(format, args...)
}

func (c *CommandBuffer) op(format string, args ...interface{}) bool {
	if c.state != stateRecording {
		c.fail("command buffer %d recorded in state %s", c.id, c.state)
		return false
	}
	c.Ops = append(c.Ops, fmt.Sprintf(format, args...))
	return true
}

func (c *CommandBuffer) clear() {
	c.Ops = nil
	c.Traces = nil
	c.Pushes = nil
	c.Draws = nil
	c.Barriers = nil
	c.Passes = nil
	c.bound = make(map[gpu.BindPoint]*Pipeline)
	c.sets = make(map[uint32]*DescriptorSet)
	c.vertex, c.index, c.inPass = nil, nil, nil
	c.deferred = nil
}

func (c *CommandBuffer) Destroy() {
	c.dev.mu.Lock()
	if c.inFlight != nil {
		c.dev.violate("command buffer %d destroyed while pending", c.id)
	}
	c.dev.mu.Unlock()
	c.handle.Destroy()
}

func (c *CommandBuffer) Reset() error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.inFlight != nil {
		c.dev.violate("command buffer %d reset while its submission is pending", c.id)
	}
	c.state = stateInitial
	c.clear()
	return nil
}

func (c *CommandBuffer) Begin(oneTime bool) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.inFlight != nil {
		c.dev.violate("command buffer %d re-recorded while its submission is pending", c.id)
	}
	if c.state == stateRecording {
		c.dev.violate("command buffer %d begun twice", c.id)
	}
	c.state = stateRecording
	c.oneTime = oneTime
	c.clear()
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("end of command buffer %d in state %s", c.id, c.state)
	}
	if c.inPass != nil {
		c.fail("command buffer %d ended inside a render pass", c.id)
	}
	c.state = stateExecutable
	return nil
}

func (c *CommandBuffer) BeginRenderPass(pass gpu.RenderPass, fb gpu.Framebuffer, clear []gpu.ClearValue) {
	rp := pass.(*RenderPass)
	f := fb.(*Framebuffer)
	if !c.op("begin-render-pass %d", rp.id) {
		return
	}
	if c.inPass != nil {
		c.fail("render pass begun inside another")
	}
	if rp.destroyed || f.destroyed {
		c.fail("render pass %d begun with destroyed objects", rp.id)
	}
	c.inPass = f
	c.Passes = append(c.Passes, rp)

	desc := rp.Desc
	attachments := f.attachments
	c.deferred = append(c.deferred, func(d *Device) {
		for _, a := range attachments {
			img := a.(*Image)
			if img.destroyed {
				d.violate("render pass writes destroyed image %d", img.id)
			}
			if img.format.IsDepth() || img.kind == "swapchain-image" {
				continue
			}
			if desc.ColorInitialLayout != gpu.LayoutUndefined && img.layout != desc.ColorInitialLayout {
				d.violate("render pass expects image %d in %s, found %s", img.id, desc.ColorInitialLayout, img.layout)
			}
			img.layout = desc.ColorFinalLayout
		}
	})
}

func (c *CommandBuffer) EndRenderPass() {
	if !c.op("end-render-pass") {
		return
	}
	if c.inPass == nil {
		c.fail("end of a render pass that was not begun")
	}
	c.inPass = nil
}

func (c *CommandBuffer) SetViewportScissor(extent gpu.Extent2D) {
	c.op("viewport %dx%d", extent.Width, extent.Height)
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	pl := p.(*Pipeline)
	if !c.op("bind-pipeline %s", pl.Label) {
		return
	}
	if pl.destroyed {
		c.fail("bind of destroyed pipeline %q", pl.Label)
	}
	c.bound[pl.bindPoint] = pl
}

func (c *CommandBuffer) BindDescriptorSets(p gpu.Pipeline, firstSet uint32, sets ...gpu.DescriptorSet) {
	pl := p.(*Pipeline)
	if !c.op("bind-sets %s first=%d count=%d", pl.Label, firstSet, len(sets)) {
		return
	}
	for i, s := range sets {
		ds := s.(*DescriptorSet)
		slot := firstSet + uint32(i)
		if int(slot) >= len(pl.layout.Sets) {
			c.fail("pipeline %q has no set %d", pl.Label, slot)
			continue
		}
		if pl.layout.Sets[slot] != gpu.DescriptorSetLayout(ds.layout) {
			c.fail("set %d bound to pipeline %q has a different layout", slot, pl.Label)
		}
		if ds.pool.destroyed {
			c.fail("bound set %d comes from a destroyed pool", slot)
		}
		c.sets[slot] = ds
	}
}

func (c *CommandBuffer) PushConstants(p gpu.Pipeline, stages gpu.ShaderStage, offset uint32, data []byte) {
	pl := p.(*Pipeline)
	if !c.op("push %s %d bytes", pl.Label, len(data)) {
		return
	}
	covered := false
	for _, r := range pl.layout.Push {
		if r.Stages&stages == stages && offset >= r.Offset && offset+uint32(len(data)) <= r.Offset+r.Size {
			covered = true
		}
	}
	if !covered {
		c.fail("push of %d bytes at %d not covered by layout of %q", len(data), offset, pl.Label)
	}
	c.Pushes = append(c.Pushes, Push{Pipeline: pl, Stages: stages, Offset: offset, Data: append([]byte(nil), data...)})
}

func (c *CommandBuffer) BindVertexBuffer(b gpu.Buffer, offset uint64) {
	if c.op("bind-vertex %s", b.(*Buffer).Label) {
		c.vertex = b.(*Buffer)
	}
}

func (c *CommandBuffer) BindIndexBuffer(b gpu.Buffer, offset uint64) {
	if c.op("bind-index %s", b.(*Buffer).Label) {
		c.index = b.(*Buffer)
	}
}

func (c *CommandBuffer) draw(count, instances uint32, indexed bool) {
	pl := c.bound[gpu.BindPointGraphics]
	if pl == nil {
		c.fail("draw without a graphics pipeline")
		return
	}
	if c.inPass == nil {
		c.fail("draw outside a render pass")
	}
	if indexed && c.index == nil {
		c.fail("indexed draw without an index buffer")
	}
	sets := make(map[uint32]*DescriptorSet, len(c.sets))
	for k, v := range c.sets {
		sets[k] = v
	}
	c.Draws = append(c.Draws, Draw{Pipeline: pl, Count: count, Instances: instances, Indexed: indexed, Sets: sets, Vertex: c.vertex, Index: c.index})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount uint32) {
	if c.op("draw %d", vertexCount) {
		c.draw(vertexCount, instanceCount, false)
	}
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32) {
	if c.op("draw-indexed %d", indexCount) {
		c.draw(indexCount, instanceCount, true)
	}
}

func (c *CommandBuffer) UpdateBuffer(b gpu.Buffer, offset uint64, data []byte) {
	buf := b.(*Buffer)
	if !c.op("update %s", buf.Label) {
		return
	}
	if c.inPass != nil {
		c.fail("buffer update inside a render pass")
	}
	if len(data) > 65536 || len(data)%4 != 0 {
		c.fail("buffer update of %d bytes", len(data))
	}
	payload := append([]byte(nil), data...)
	c.deferred = append(c.deferred, func(d *Device) {
		if buf.destroyed {
			d.violate("update of destroyed buffer %q", buf.Label)
			return
		}
		copy(buf.data[offset:], payload)
	})
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size uint64) {
	s, t := src.(*Buffer), dst.(*Buffer)
	if !c.op("copy %s -> %s", s.Label, t.Label) {
		return
	}
	if size > s.size || size > t.size {
		c.fail("copy of %d bytes between %q and %q", size, s.Label, t.Label)
		return
	}
	c.deferred = append(c.deferred, func(d *Device) {
		copy(t.data[:size], s.data[:size])
	})
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image) {
	img := dst.(*Image)
	if !c.op("copy-to-image %d", img.id) {
		return
	}
	c.deferred = append(c.deferred, func(d *Device) {
		if img.layout != gpu.LayoutTransferDst {
			d.violate("copy into image %d in layout %s", img.id, img.layout)
		}
	})
}

func (c *CommandBuffer) BufferBarrier(b gpu.Buffer, from, to gpu.Access) {
	c.op("buffer-barrier %s %d->%d", b.(*Buffer).Label, from, to)
}

func (c *CommandBuffer) MemoryBarrier(from, to gpu.Access) {
	c.op("memory-barrier %d->%d", from, to)
}

func (c *CommandBuffer) ImageBarrier(i gpu.Image, from, to gpu.Layout) {
	img := i.(*Image)
	if !c.op("image-barrier %d %s->%s", img.id, from, to) {
		return
	}
	if c.inPass != nil {
		c.fail("image barrier inside a render pass")
	}
	c.Barriers = append(c.Barriers, Barrier{Image: img, From: from, To: to})
	c.deferred = append(c.deferred, func(d *Device) {
		if from != gpu.LayoutUndefined && img.layout != from {
			d.violate("barrier on image %d from %s, but it is in %s", img.id, from, img.layout)
		}
		img.layout = to
	})
}

type accelOp struct {
	dst, src gpu.AccelerationStructure
	geometry gpu.AccelGeometry
	scratch  gpu.Buffer
}

func (c *CommandBuffer) BuildAccelerationStructure(dst, src gpu.AccelerationStructure, g gpu.AccelGeometry, scratch gpu.Buffer) {
	if !c.op("build-accel kind=%d update=%t", g.Kind, src != nil) {
		return
	}
	op := &accelOp{dst: dst, src: src, geometry: g, scratch: scratch}
	c.deferred = append(c.deferred, func(d *Device) { d.build(op) })
}

func (c *CommandBuffer) TraceRays(raygen, miss, hit, callable gpu.StridedRegion, extent gpu.Extent2D) {
	if !c.op("trace-rays %dx%d", extent.Width, extent.Height) {
		return
	}
	if c.bound[gpu.BindPointRayTracing] == nil {
		c.fail("trace rays without a ray-tracing pipeline")
	}
	if c.inPass != nil {
		c.fail("trace rays inside a render pass")
	}
	c.Traces = append(c.Traces, Trace{Raygen: raygen, Miss: miss, Hit: hit, Callable: callable, Extent: extent})
}

// execute applies the recorded work to device memory. Called with the device lock held.
func (c *CommandBuffer) execute(d *Device) {
	for _, f := range c.deferred {
		f(d)
	}
}

// State returns the recording state as a string.
func (c *CommandBuffer) State() string {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.state.String()
}

var _ gpu.Device = (*Device)(nil)
