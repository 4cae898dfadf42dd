package frame

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/gpu/gputest"
)

func init() {
	core.LogSetOutput(io.Discard)
}

type fakeWindow struct {
	current gpu.Extent2D
	// next is consumed by WaitEvents, one extent per call.
	next    []gpu.Extent2D
	waits   int
	onEvent func()
}

func (w *fakeWindow) FramebufferExtent() gpu.Extent2D { return w.current }

func (w *fakeWindow) WaitEvents() {
	w.waits++
	if w.onEvent != nil {
		w.onEvent()
	}
	if len(w.next) > 0 {
		w.current = w.next[0]
		w.next = w.next[1:]
	}
}

// targets creates one image per swapchain image, the way framebuffers are created.
type targets struct {
	name   string
	dev    *gputest.Device
	images []gpu.Image
	log    *[]string
}

func (t *targets) CreateSwapchainResources(sc gpu.Swapchain) error {
	*t.log = append(*t.log, "create "+t.name)
	for i := 0; i < sc.ImageCount(); i++ {
		img, err := t.dev.CreateImage(gpu.ImageDesc{Label: fmt.Sprintf("%s-%d", t.name, i), Extent: sc.Extent(), Format: gpu.FormatRGBA8Unorm})
		if err != nil {
			return err
		}
		t.images = append(t.images, img)
	}
	return nil
}

func (t *targets) DestroySwapchainResources() {
	*t.log = append(*t.log, "destroy "+t.name)
	for _, img := range t.images {
		img.Destroy()
	}
	t.images = nil
}

func newScheduler(t *testing.T, dev *gputest.Device) (*Scheduler, *fakeWindow) {
	t.Helper()
	w := &fakeWindow{current: gpu.Extent2D{Width: 800, Height: 600}}
	s, err := NewScheduler(dev, w)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s, w
}

// runFrame records an empty command buffer and submits and presents it.
func runFrame(t *testing.T, s *Scheduler) *Frame {
	t.Helper()
	for {
		f, res, err := s.BeginFrame()
		if err != nil {
			t.Fatalf("BeginFrame: %v", err)
		}
		if res == Retry {
			continue
		}
		if err := f.Cmd.Begin(false); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := f.Cmd.End(); err != nil {
			t.Fatalf("End: %v", err)
		}
		if err := s.EndFrame(f); err != nil {
			t.Fatalf("EndFrame: %v", err)
		}
		if err := s.Present(f); err != nil {
			t.Fatalf("Present: %v", err)
		}
		return f
	}
}

func assertNoViolations(t *testing.T, dev *gputest.Device) {
	t.Helper()
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestFramesCycleSlots(t *testing.T) {
	dev := gputest.New()
	s, _ := newScheduler(t, dev)

	want := []int{0, 1, 2, 0, 1}
	for i, slot := range want {
		f := runFrame(t, s)
		if f.Slot != slot {
			t.Errorf("frame %d: expected slot %d, got %d", i, slot, f.Slot)
		}
	}
	subs := dev.Submissions()
	if len(subs) != 5 {
		t.Fatalf("expected 5 submissions, got %d", len(subs))
	}
	if subs[0].Fence != subs[3].Fence || subs[1].Fence != subs[4].Fence {
		t.Errorf("expected frames 3 and 4 to reuse the fences of frames 0 and 1")
	}
	if s.Current() != 2 {
		t.Errorf("expected current slot 2, got %d", s.Current())
	}
	assertNoViolations(t, dev)
}

func TestSlotFenceWaitedBeforeReuse(t *testing.T) {
	dev := gputest.New()
	s, _ := newScheduler(t, dev)
	for i := 0; i < 3; i++ {
		runFrame(t, s)
	}

	f, res, err := s.BeginFrame()
	if err != nil || res != Continue {
		t.Fatalf("BeginFrame: %v %v", res, err)
	}
	subs := dev.Submissions()
	if !subs[0].Complete {
		t.Errorf("expected frame 0 to be complete before slot 0 is reused")
	}
	if subs[1].Complete || subs[2].Complete {
		t.Errorf("expected frames 1 and 2 to still be in flight")
	}
	if got := dev.Stats().WaitNotOldest; got != 0 {
		t.Errorf("expected only the oldest frame to be waited on, got %d deeper waits", got)
	}
	if f.Slot != 0 {
		t.Errorf("expected slot 0, got %d", f.Slot)
	}
	assertNoViolations(t, dev)
}

func TestImageFenceWaitedBeforeReuse(t *testing.T) {
	dev := gputest.New()
	dev.AcquireScript = []gputest.AcquireResult{{Index: 0}, {Index: 0}}
	s, _ := newScheduler(t, dev)

	runFrame(t, s)
	if dev.Submissions()[0].Complete {
		t.Fatalf("expected frame 0 to be in flight")
	}
	f, _, err := s.BeginFrame()
	if err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if f.Slot != 1 || f.ImageIndex != 0 {
		t.Fatalf("expected slot 1 on image 0, got slot %d on image %d", f.Slot, f.ImageIndex)
	}
	if !dev.Submissions()[0].Complete {
		t.Errorf("expected the fence of the frame that last used image 0 to be waited on")
	}
	f.Cmd.Begin(false)
	f.Cmd.End()
	if err := s.EndFrame(f); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	assertNoViolations(t, dev)
}

func TestZeroExtentBlocksRebuild(t *testing.T) {
	dev := gputest.New()
	dev.Caps.ExtentFromWindow = true
	s, w := newScheduler(t, dev)
	runFrame(t, s)

	type snapshot struct{ submissions, swapchains int }
	var seen []snapshot
	w.current = gpu.Extent2D{}
	w.next = []gpu.Extent2D{{}, {}, {Width: 1024, Height: 768}}
	w.onEvent = func() {
		seen = append(seen, snapshot{len(dev.Submissions()), len(dev.Swapchains())})
	}
	s.Resized()
	runFrame(t, s)

	if w.waits != 3 {
		t.Errorf("expected 3 event waits, got %d", w.waits)
	}
	for i, snap := range seen {
		if snap != seen[0] {
			t.Errorf("wait %d: expected no GPU work while the window is minimized, got %+v after %+v", i, snap, seen[0])
		}
	}
	got := s.Swapchain().Extent()
	if got != (gpu.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("expected a 1024x768 swapchain, got %dx%d", got.Width, got.Height)
	}
	runFrame(t, s)
	assertNoViolations(t, dev)
}

func TestRebuildReplacesDependents(t *testing.T) {
	dev := gputest.New()
	s, _ := newScheduler(t, dev)

	var log []string
	a := &targets{name: "a", dev: dev, log: &log}
	b := &targets{name: "b", dev: dev, log: &log}
	for _, d := range []*targets{a, b} {
		if err := s.Register(d); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	runFrame(t, s)

	oldSwapchain := s.Swapchain().(*gputest.Swapchain)
	oldImages := dev.LiveIDs("image")
	syncBefore := dev.LiveIDs("fence", "semaphore")

	dev.Caps.CurrentExtent = gpu.Extent2D{Width: 640, Height: 480}
	dev.PresentScript = []gpu.Status{gpu.StatusOutOfDate}
	log = nil
	runFrame(t, s)

	if s.Generation() != 1 {
		t.Errorf("expected generation 1, got %d", s.Generation())
	}
	if !oldSwapchain.Destroyed() {
		t.Errorf("expected the previous swapchain to be destroyed")
	}
	live := dev.LiveIDs("image")
	for id := range oldImages {
		if live[id] {
			t.Errorf("image %d of the previous generation is still alive", id)
		}
	}
	n := uint32(s.Swapchain().ImageCount())
	if n < dev.Caps.MinImageCount || n > dev.Caps.MaxImageCount {
		t.Errorf("expected an image count in [%d, %d], got %d", dev.Caps.MinImageCount, dev.Caps.MaxImageCount, n)
	}
	if len(a.images) != int(n) {
		t.Errorf("expected %d dependent images, got %d", n, len(a.images))
	}
	if s.Swapchain().Extent().Width != 640 {
		t.Errorf("expected the new surface extent, got %v", s.Swapchain().Extent())
	}
	syncAfter := dev.LiveIDs("fence", "semaphore")
	if len(syncAfter) != len(syncBefore) {
		t.Fatalf("expected %d sync objects, got %d", len(syncBefore), len(syncAfter))
	}
	for id := range syncBefore {
		if !syncAfter[id] {
			t.Errorf("sync object %d was recreated by the rebuild", id)
		}
	}
	wantLog := []string{"destroy b", "destroy a", "create a", "create b"}
	if fmt.Sprint(log) != fmt.Sprint(wantLog) {
		t.Errorf("expected %v, got %v", wantLog, log)
	}
	runFrame(t, s)
	assertNoViolations(t, dev)
}

func TestAcquireOutOfDateRetries(t *testing.T) {
	dev := gputest.New()
	dev.AcquireScript = []gputest.AcquireResult{{Status: gpu.StatusOutOfDate}}
	s, _ := newScheduler(t, dev)

	f, res, err := s.BeginFrame()
	if err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if res != Retry || f != nil {
		t.Fatalf("expected retry without a frame, got %v", res)
	}
	if s.Generation() != 1 {
		t.Errorf("expected a rebuild, got generation %d", s.Generation())
	}
	f = runFrame(t, s)
	if f.Slot != 0 {
		t.Errorf("expected the retried frame to keep slot 0, got %d", f.Slot)
	}
	assertNoViolations(t, dev)
}

func TestSuboptimalAcquireContinues(t *testing.T) {
	dev := gputest.New()
	dev.AcquireScript = []gputest.AcquireResult{{Index: 1, Status: gpu.StatusSuboptimal}}
	s, _ := newScheduler(t, dev)

	f, res, err := s.BeginFrame()
	if err != nil || res != Continue {
		t.Fatalf("expected continue, got %v %v", res, err)
	}
	if f.ImageIndex != 1 || s.Generation() != 0 {
		t.Errorf("expected image 1 without a rebuild, got image %d at generation %d", f.ImageIndex, s.Generation())
	}

	if err := f.Cmd.Begin(false); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := f.Cmd.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := s.EndFrame(f); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	// the present itself reports OK; the suboptimal acquire alone must trigger the rebuild.
	if err := s.Present(f); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if s.Generation() != 1 {
		t.Errorf("expected a rebuild at present, got generation %d", s.Generation())
	}
	runFrame(t, s)
	if s.Generation() != 1 {
		t.Errorf("expected no further rebuild, got generation %d", s.Generation())
	}
	assertNoViolations(t, dev)
}

func TestNewSchedulerFailureReleasesSlots(t *testing.T) {
	dev := gputest.New()
	dev.FailSwapchains = 1
	w := &fakeWindow{current: gpu.Extent2D{Width: 800, Height: 600}}

	s, err := NewScheduler(dev, w)
	if !errors.Is(err, core.ErrFatal) {
		t.Fatalf("expected a fatal error, got %v", err)
	}
	if s != nil {
		t.Errorf("expected no scheduler on failure")
	}
	for _, kind := range []string{"fence", "semaphore", "command-buffer", "swapchain"} {
		if n := dev.LiveCount(kind); n != 0 {
			t.Errorf("expected no live %s, got %d", kind, n)
		}
	}
	if n := dev.Created("fence"); n != 3 {
		t.Errorf("expected 3 fences created before the failure, got %d", n)
	}
}

func TestResizedFromAnotherGoroutine(t *testing.T) {
	dev := gputest.New()
	s, _ := newScheduler(t, dev)

	done := make(chan struct{})
	go func() {
		s.Resized()
		close(done)
	}()
	<-done
	runFrame(t, s)
	if s.Generation() != 1 {
		t.Errorf("expected a rebuild after the resize, got generation %d", s.Generation())
	}
	assertNoViolations(t, dev)
}

func TestAcquireErrorIsFatal(t *testing.T) {
	dev := gputest.New()
	dev.AcquireScript = []gputest.AcquireResult{{Err: errors.New("device lost")}}
	s, _ := newScheduler(t, dev)

	_, _, err := s.BeginFrame()
	if !errors.Is(err, core.ErrFatal) {
		t.Errorf("expected a fatal error, got %v", err)
	}
}

func TestChooseImageCount(t *testing.T) {
	tests := []struct {
		min, max uint32
		want     uint32
	}{
		{2, 4, 3},
		{3, 3, 3},
		{2, 0, 3},
		{1, 2, 2},
	}
	for _, tt := range tests {
		got := chooseImageCount(gpu.SurfaceCapabilities{MinImageCount: tt.min, MaxImageCount: tt.max})
		if got != tt.want {
			t.Errorf("min %d max %d: expected %d images, got %d", tt.min, tt.max, tt.want, got)
		}
	}
}

func TestChooseExtent(t *testing.T) {
	caps := gpu.SurfaceCapabilities{
		CurrentExtent: gpu.Extent2D{Width: 800, Height: 600},
		MinExtent:     gpu.Extent2D{Width: 16, Height: 16},
		MaxExtent:     gpu.Extent2D{Width: 2048, Height: 2048},
	}
	fromWindow := caps
	fromWindow.ExtentFromWindow = true

	tests := []struct {
		name   string
		caps   gpu.SurfaceCapabilities
		window gpu.Extent2D
		want   gpu.Extent2D
	}{
		{"surface decides", caps, gpu.Extent2D{Width: 1000, Height: 1000}, gpu.Extent2D{Width: 800, Height: 600}},
		{"window decides", fromWindow, gpu.Extent2D{Width: 1000, Height: 500}, gpu.Extent2D{Width: 1000, Height: 500}},
		{"clamped", fromWindow, gpu.Extent2D{Width: 4000, Height: 8}, gpu.Extent2D{Width: 2048, Height: 16}},
		{"minimized", caps, gpu.Extent2D{}, gpu.Extent2D{}},
	}
	for _, tt := range tests {
		if got := chooseExtent(tt.caps, tt.window); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	dev := gputest.New()
	s, _ := newScheduler(t, dev)
	var log []string
	if err := s.Register(&targets{name: "a", dev: dev, log: &log}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	runFrame(t, s)
	runFrame(t, s)

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, kind := range []string{"fence", "semaphore", "command-buffer", "swapchain", "image"} {
		if n := dev.LiveCount(kind); n != 0 {
			t.Errorf("expected no live %s, got %d", kind, n)
		}
	}
	assertNoViolations(t, dev)
}
