package gputest

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type Fence struct {
	handle
	signaled bool
	pending  bool
}

// Signaled reports whether the fence is currently signaled.
func (f *Fence) Signaled() bool {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.signaled
}

type Semaphore struct {
	handle
	signaled bool
}

type Swapchain struct {
	handle
	extent gpu.Extent2D
	format gpu.Format
	images []*Image
}

func (s *Swapchain) Extent() gpu.Extent2D  { return s.extent }
func (s *Swapchain) Format() gpu.Format    { return s.format }
func (s *Swapchain) ImageCount() int       { return len(s.images) }
func (s *Swapchain) Image(i int) gpu.Image { return s.images[i] }

// Destroyed reports whether the swapchain was destroyed.
func (s *Swapchain) Destroyed() bool {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.destroyed
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &Fence{handle: d.register("fence"), signaled: signaled}
	d.track(f)
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Semaphore{handle: d.register("semaphore")}
	d.track(s)
	return s, nil
}

func (d *Device) WaitFence(f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fence := f.(*Fence)
	d.fenceWaits++
	if fence.signaled {
		return nil
	}
	if !fence.pending {
		d.violate("fence %d waited without a pending submission", fence.id)
		return errUnsubmitted
	}
	var target *Submission
	oldest := true
	for _, s := range d.submissions {
		if s.Complete {
			continue
		}
		if s.Fence == fence {
			target = s
			break
		}
		oldest = false
	}
	if !oldest {
		d.waitNotOldest++
	}
	d.completeThrough(target.Seq)
	return nil
}

func (d *Device) ResetFence(f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fence := f.(*Fence)
	if fence.pending {
		d.violate("fence %d reset while its submission is pending", fence.id)
	}
	fence.signaled = false
	return nil
}

func (d *Device) SurfaceCapabilities() (gpu.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Caps, nil
}

func (d *Device) CreateSwapchain(extent gpu.Extent2D, imageCount uint32, old gpu.Swapchain) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if extent.IsZero() {
		return nil, fmt.Errorf("swapchain extent %dx%d", extent.Width, extent.Height)
	}
	if d.FailSwapchains > 0 {
		d.FailSwapchains--
		return nil, errors.New("swapchain creation failed")
	}
	if imageCount < d.Caps.MinImageCount || (d.Caps.MaxImageCount > 0 && imageCount > d.Caps.MaxImageCount) {
		d.violate("swapchain image count %d outside [%d, %d]", imageCount, d.Caps.MinImageCount, d.Caps.MaxImageCount)
	}
	if d.pendingLocked() > 0 {
		d.violate("swapchain created while GPU work is pending")
	}
	sc := &Swapchain{handle: d.register("swapchain"), extent: extent, format: gpu.FormatBGRA8Unorm}
	for i := uint32(0); i < imageCount; i++ {
		img := &Image{handle: d.register("swapchain-image"), extent: extent, format: sc.format}
		sc.images = append(sc.images, img)
	}
	d.track(sc)
	d.swapchains = append(d.swapchains, sc)
	d.imageFence = make(map[uint32]*Fence)
	d.roundRobin = 0
	return sc, nil
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, signal gpu.Semaphore) (uint32, gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	swap := sc.(*Swapchain)
	sem := signal.(*Semaphore)
	if swap.destroyed {
		d.violate("acquire on destroyed swapchain %d", swap.id)
	}

	res := AcquireResult{Index: d.roundRobin % uint32(len(swap.images))}
	if len(d.AcquireScript) > 0 {
		res = d.AcquireScript[0]
		d.AcquireScript = d.AcquireScript[1:]
	} else {
		d.roundRobin++
	}
	if res.Err != nil {
		return 0, gpu.StatusOK, res.Err
	}
	if res.Status == gpu.StatusOutOfDate {
		return 0, res.Status, nil
	}
	if sem.signaled {
		d.violate("semaphore %d signaled twice by acquire", sem.id)
	}
	sem.signaled = true
	d.lastAcquired = int64(res.Index)
	return res.Index, res.Status, nil
}

func (d *Device) Submit(cmd gpu.CommandBuffer, wait gpu.Semaphore, signal gpu.Semaphore, fence gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := cmd.(*CommandBuffer)
	w := wait.(*Semaphore)
	s := signal.(*Semaphore)
	f := fence.(*Fence)

	if c.state != stateExecutable {
		d.violate("command buffer %d submitted in state %s", c.id, c.state)
	}
	if f.signaled || f.pending {
		d.violate("fence %d submitted without being reset", f.id)
	}
	if !w.signaled {
		d.violate("submission waits on semaphore %d that nothing signaled", w.id)
	}
	if s.signaled {
		d.violate("submission signals semaphore %d that is already signaled", s.id)
	}
	if d.lastAcquired < 0 {
		d.violate("submission without an acquired image")
	}
	idx := uint32(d.lastAcquired)
	if prev := d.imageFence[idx]; prev != nil && prev.pending {
		d.violate("image %d reused while fence %d of its previous frame is pending", idx, prev.id)
	}

	w.signaled = false
	s.signaled = true
	f.pending = true
	c.inFlight = f
	c.state = statePending
	c.execute(d)
	d.imageFence[idx] = f

	d.submissions = append(d.submissions, &Submission{
		Seq:        len(d.submissions),
		Command:    c,
		Fence:      f,
		ImageIndex: idx,
	})
	c.Submits++
	return nil
}

func (d *Device) Present(sc gpu.Swapchain, imageIndex uint32, wait gpu.Semaphore) (gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := wait.(*Semaphore)
	if !w.signaled {
		d.violate("present waits on semaphore %d that nothing signaled", w.id)
	}
	w.signaled = false
	d.lastAcquired = -1

	status := gpu.StatusOK
	if len(d.PresentScript) > 0 {
		status = d.PresentScript[0]
		d.PresentScript = d.PresentScript[1:]
	}
	return status, nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdleCalls++
	d.completeAll()
	return nil
}

// Destroy retires the swapchain together with its images.
func (s *Swapchain) Destroy() {
	s.dev.mu.Lock()
	for _, img := range s.images {
		img.destroyed = true
	}
	s.dev.mu.Unlock()
	s.handle.Destroy()
}
