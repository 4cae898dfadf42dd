// Package frame paces CPU recording against GPU execution with a fixed number of frames in
// flight and owns the swapchain together with everything that depends on it.
package frame

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Window is what the scheduler needs from the platform layer while the surface is minimized.
type Window interface {
	FramebufferExtent() gpu.Extent2D
	// WaitEvents blocks until the platform delivers at least one event.
	WaitEvents()
}

// SwapchainDependent is a resource whose lifetime follows the swapchain. Dependents are
// created in registration order and destroyed in reverse.
type SwapchainDependent interface {
	CreateSwapchainResources(sc gpu.Swapchain) error
	DestroySwapchainResources()
}

// Result tells the caller what to do after BeginFrame.
type Result int

const (
	// Continue means the frame was acquired and can be recorded.
	Continue Result = iota
	// Retry means the swapchain was rebuilt and BeginFrame should be called again.
	Retry
)

func (r Result) String() string {
	if r == Retry {
		return "retry"
	}
	return "continue"
}

type slot struct {
	fence          gpu.Fence
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	cmd            gpu.CommandBuffer
}

// Frame is handed out by BeginFrame and must be passed back to EndFrame and Present.
type Frame struct {
	Slot       int
	ImageIndex uint32
	Cmd        gpu.CommandBuffer
	Swapchain  gpu.Swapchain
	Generation int
}

// Extent is the size of the image being rendered.
func (f *Frame) Extent() gpu.Extent2D {
	return f.Swapchain.Extent()
}

// Scheduler owns MaxFramesInFlight frame slots and the swapchain.
type Scheduler struct {
	dev    gpu.FrameDevice
	window Window

	slots   [metadata.MaxFramesInFlight]slot
	current int

	swapchain gpu.Swapchain
	// imagesInFlight maps a swapchain image to the fence of the frame that last rendered it.
	imagesInFlight []gpu.Fence
	dependents     []SwapchainDependent

	// resized is set from event handlers and consumed at present.
	resized    atomic.Bool
	generation int
	label      string
}

// NewScheduler creates the per-slot sync objects and command buffers and the first swapchain.
// On failure everything created so far is destroyed.
func NewScheduler(dev gpu.FrameDevice, window Window) (_ *Scheduler, err error) {
	s := &Scheduler{dev: dev, window: window}
	defer func() {
		if err != nil {
			s.destroy()
		}
	}()
	for i := range s.slots {
		// Signaled so the first wait on every slot returns immediately.
		if s.slots[i].fence, err = dev.CreateFence(true); err != nil {
			return nil, gpu.Fatal("create frame fence", err)
		}
		if s.slots[i].imageAvailable, err = dev.CreateSemaphore(); err != nil {
			return nil, gpu.Fatal("create image available semaphore", err)
		}
		if s.slots[i].renderFinished, err = dev.CreateSemaphore(); err != nil {
			return nil, gpu.Fatal("create render finished semaphore", err)
		}
	}
	if err = s.allocateCommandBuffers(); err != nil {
		return nil, err
	}
	if err = s.createSwapchain(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds a dependent and, if a swapchain already exists, creates its resources.
func (s *Scheduler) Register(d SwapchainDependent) error {
	s.dependents = append(s.dependents, d)
	if s.swapchain == nil {
		return nil
	}
	return d.CreateSwapchainResources(s.swapchain)
}

// Resized requests a rebuild at the next present. Safe from any goroutine.
func (s *Scheduler) Resized() {
	s.resized.Store(true)
}

// Current returns the slot the next BeginFrame uses.
func (s *Scheduler) Current() int { return s.current }

// Generation counts swapchain rebuilds.
func (s *Scheduler) Generation() int { return s.generation }

func (s *Scheduler) Swapchain() gpu.Swapchain { return s.swapchain }

// BeginFrame waits for the current slot, acquires an image and makes sure the previous frame
// that rendered into that image is done with it.
func (s *Scheduler) BeginFrame() (*Frame, Result, error) {
	sl := &s.slots[s.current]
	if err := s.dev.WaitFence(sl.fence); err != nil {
		return nil, Continue, gpu.Fatal("wait frame fence", err)
	}

	idx, status, err := s.dev.AcquireNextImage(s.swapchain, sl.imageAvailable)
	if err != nil {
		return nil, Continue, gpu.Fatal("acquire swapchain image", err)
	}
	switch status {
	case gpu.StatusOutOfDate:
		core.LogDebug("swapchain out of date on acquire, rebuilding")
		if err := s.rebuild(); err != nil {
			return nil, Continue, err
		}
		return nil, Retry, nil
	case gpu.StatusSuboptimal:
		// still presentable; Present rebuilds.
		s.resized.Store(true)
	}
	if int(idx) >= len(s.imagesInFlight) {
		return nil, Continue, gpu.Fatal("acquire swapchain image", fmt.Errorf("image index %d of %d", idx, len(s.imagesInFlight)))
	}

	if prev := s.imagesInFlight[idx]; prev != nil && prev != sl.fence {
		if err := s.dev.WaitFence(prev); err != nil {
			return nil, Continue, gpu.Fatal("wait image fence", err)
		}
	}
	s.imagesInFlight[idx] = sl.fence

	if err := sl.cmd.Reset(); err != nil {
		return nil, Continue, gpu.Fatal("reset command buffer", err)
	}
	return &Frame{
		Slot:       s.current,
		ImageIndex: idx,
		Cmd:        sl.cmd,
		Swapchain:  s.swapchain,
		Generation: s.generation,
	}, Continue, nil
}

// EndFrame submits the recorded command buffer of f.
func (s *Scheduler) EndFrame(f *Frame) error {
	sl := &s.slots[f.Slot]
	if err := s.dev.ResetFence(sl.fence); err != nil {
		return gpu.Fatal("reset frame fence", err)
	}
	if err := s.dev.Submit(sl.cmd, sl.imageAvailable, sl.renderFinished, sl.fence); err != nil {
		return gpu.Fatal("submit frame", err)
	}
	return nil
}

// Present queues the image of f and rebuilds the swapchain when it went stale or the window
// was resized.
func (s *Scheduler) Present(f *Frame) error {
	sl := &s.slots[f.Slot]
	status, err := s.dev.Present(s.swapchain, f.ImageIndex, sl.renderFinished)
	if err != nil {
		return gpu.Fatal("present", err)
	}
	s.current = (s.current + 1) % metadata.MaxFramesInFlight

	resized := s.resized.Swap(false)
	if status.Stale() || resized {
		core.LogDebug("rebuilding swapchain (present %s, resized %t)", status, resized)
		return s.rebuild()
	}
	return nil
}

// rebuild waits for a drawable surface and the GPU, then recreates the swapchain and every
// dependent. Sync objects survive.
func (s *Scheduler) rebuild() error {
	if err := s.dev.WaitIdle(); err != nil {
		return gpu.Fatal("wait idle before rebuild", err)
	}
	for i := len(s.dependents) - 1; i >= 0; i-- {
		s.dependents[i].DestroySwapchainResources()
	}
	if err := s.createSwapchain(); err != nil {
		return err
	}
	for _, sl := range s.slots {
		sl.cmd.Destroy()
	}
	if err := s.allocateCommandBuffers(); err != nil {
		return err
	}
	s.generation++
	return nil
}

// createSwapchain blocks while the framebuffer is empty, then creates a swapchain (replacing
// the current one) and the resources of every dependent.
func (s *Scheduler) createSwapchain() error {
	var caps gpu.SurfaceCapabilities
	var extent gpu.Extent2D
	for {
		var err error
		caps, err = s.dev.SurfaceCapabilities()
		if err != nil {
			return gpu.Fatal("query surface capabilities", err)
		}
		extent = chooseExtent(caps, s.window.FramebufferExtent())
		if !extent.IsZero() {
			break
		}
		s.window.WaitEvents()
	}

	old := s.swapchain
	sc, err := s.dev.CreateSwapchain(extent, chooseImageCount(caps), old)
	if err != nil {
		return gpu.Fatal("create swapchain", err)
	}
	if old != nil {
		old.Destroy()
	}
	s.swapchain = sc
	s.imagesInFlight = make([]gpu.Fence, sc.ImageCount())
	s.label = core.NewLabel("swapchain")
	core.LogInfo("%s: %dx%d, %d images", s.label, extent.Width, extent.Height, sc.ImageCount())

	for _, d := range s.dependents {
		if err := d.CreateSwapchainResources(sc); err != nil {
			return fmt.Errorf("create swapchain resources: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) allocateCommandBuffers() error {
	for i := range s.slots {
		cmd, err := s.dev.AllocateCommandBuffer()
		if err != nil {
			return gpu.Fatal("allocate command buffer", err)
		}
		s.slots[i].cmd = cmd
	}
	return nil
}

// chooseExtent uses the surface extent unless the surface leaves it to the window, in which
// case the window framebuffer is clamped to the surface limits. A zero window always wins:
// nothing can be presented to a minimized window.
func chooseExtent(caps gpu.SurfaceCapabilities, window gpu.Extent2D) gpu.Extent2D {
	if window.IsZero() {
		return gpu.Extent2D{}
	}
	if !caps.ExtentFromWindow {
		return caps.CurrentExtent
	}
	return gpu.Extent2D{
		Width:  math.Clamp(window.Width, caps.MinExtent.Width, caps.MaxExtent.Width),
		Height: math.Clamp(window.Height, caps.MinExtent.Height, caps.MaxExtent.Height),
	}
}

func chooseImageCount(caps gpu.SurfaceCapabilities) uint32 {
	n := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && n > caps.MaxImageCount {
		n = caps.MaxImageCount
	}
	return n
}

// Shutdown waits for the GPU and destroys dependents, the swapchain and the frame slots.
func (s *Scheduler) Shutdown() error {
	if err := s.dev.WaitIdle(); err != nil {
		return gpu.Fatal("wait idle on shutdown", err)
	}
	for i := len(s.dependents) - 1; i >= 0; i-- {
		s.dependents[i].DestroySwapchainResources()
	}
	s.dependents = nil
	s.destroy()
	return nil
}

// destroy releases the swapchain and whatever part of the frame slots exists.
func (s *Scheduler) destroy() {
	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.cmd != nil {
			sl.cmd.Destroy()
		}
		if sl.renderFinished != nil {
			sl.renderFinished.Destroy()
		}
		if sl.imageAvailable != nil {
			sl.imageAvailable.Destroy()
		}
		if sl.fence != nil {
			sl.fence.Destroy()
		}
		*sl = slot{}
	}
}
