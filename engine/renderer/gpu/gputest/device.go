// Package gputest provides an in-memory gpu.Device that enforces the synchronization rules
// of a real queue and records every call, so renderer components can be tested without a GPU.
//
// Submitted work executes immediately but a fence only signals when it is waited on (or the
// device idles), which models a GPU that is always behind the CPU. Completion is in order:
// waiting on a fence completes every earlier submission too.
package gputest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// AcquireResult scripts one AcquireNextImage call.
type AcquireResult struct {
	Index  uint32
	Status gpu.Status
	Err    error
}

// Submission is one call to Submit.
type Submission struct {
	Seq        int
	Command    *CommandBuffer
	Fence      *Fence
	ImageIndex uint32
	Complete   bool
}

// Device is the fake. Zero values are not usable; call New.
type Device struct {
	mu sync.Mutex

	// Caps is returned by SurfaceCapabilities.
	Caps gpu.SurfaceCapabilities
	// Props is returned by RayTracingProperties.
	Props gpu.RayTracingProperties
	// AcquireScript is consumed one entry per acquire. When empty, images are handed out
	// round robin with StatusOK.
	AcquireScript []AcquireResult
	// PresentScript is consumed one entry per present. When empty, presents return StatusOK.
	PresentScript []gpu.Status
	// FailPipelines makes the next n pipeline creations fail.
	FailPipelines int
	// FailSwapchains makes the next n swapchain creations fail.
	FailSwapchains int

	nextID      int
	nextAddress uint64
	live        map[int]object
	byAddress   map[uint64]*Buffer
	violations  []string

	submissions    []*Submission
	lastAcquired   int64
	imageFence     map[uint32]*Fence
	roundRobin     uint32
	swapchains     []*Swapchain
	syncSubmits    int
	waitIdleCalls  int
	fenceWaits     int
	waitNotOldest  int
	accelBuilds    int
	accelUpdates   int
	createdByKind  map[string]int
	destroyedKinds map[string]int
}

type object interface {
	base() *handle
}

type handle struct {
	dev       *Device
	id        int
	kind      string
	destroyed bool
}

func (h *handle) base() *handle { return h }

// ID is a stable identifier of the object within its device.
func (h *handle) ID() int { return h.id }

func (h *handle) Destroy() {
	h.dev.release(h)
}

// New returns a fake device with a surface allowing 2 to 4 images at 800x600.
func New() *Device {
	return &Device{
		Caps: gpu.SurfaceCapabilities{
			MinImageCount: 2,
			MaxImageCount: 4,
			CurrentExtent: gpu.Extent2D{Width: 800, Height: 600},
			MinExtent:     gpu.Extent2D{Width: 1, Height: 1},
			MaxExtent:     gpu.Extent2D{Width: 4096, Height: 4096},
		},
		Props: gpu.RayTracingProperties{
			HandleSize:        32,
			HandleAlignment:   32,
			BaseAlignment:     64,
			MaxRecursionDepth: 2,
		},
		nextAddress:    0x10000,
		live:           make(map[int]object),
		byAddress:      make(map[uint64]*Buffer),
		imageFence:     make(map[uint32]*Fence),
		lastAcquired:   -1,
		createdByKind:  make(map[string]int),
		destroyedKinds: make(map[string]int),
	}
}

func (d *Device) register(kind string) handle {
	d.nextID++
	d.createdByKind[kind]++
	return handle{dev: d, id: d.nextID, kind: kind}
}

func (d *Device) track(o object) {
	d.live[o.base().id] = o
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) release(h *handle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h.destroyed {
		d.violate("%s %d destroyed twice", h.kind, h.id)
		return
	}
	switch h.kind {
	case "fence", "semaphore", "command-buffer", "swapchain-image", "shader-module":
	default:
		if d.pendingLocked() > 0 {
			d.violate("%s %d destroyed while GPU work is pending", h.kind, h.id)
		}
	}
	h.destroyed = true
	d.destroyedKinds[h.kind]++
	delete(d.live, h.id)
}

func (d *Device) pendingLocked() int {
	n := 0
	for _, s := range d.submissions {
		if !s.Complete {
			n++
		}
	}
	return n
}

// Violations returns every rule the code under test broke.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// LiveIDs returns the ids of live objects of the given kinds.
func (d *Device) LiveIDs(kinds ...string) map[int]bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := make(map[int]bool)
	for id, o := range d.live {
		if len(kinds) == 0 || want[o.base().kind] {
			out[id] = true
		}
	}
	return out
}

// LiveCount returns the number of live objects of kind.
func (d *Device) LiveCount(kind string) int {
	return len(d.LiveIDs(kind))
}

// Created returns how many objects of kind were ever created.
func (d *Device) Created(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createdByKind[kind]
}

// Submissions returns a copy of every frame submission so far.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Submission, len(d.submissions))
	for i, s := range d.submissions {
		out[i] = *s
	}
	return out
}

// Swapchains returns every swapchain ever created, oldest first.
func (d *Device) Swapchains() []*Swapchain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Swapchain(nil), d.swapchains...)
}

// Stats are counters over the device lifetime.
type Stats struct {
	SyncSubmits   int
	WaitIdleCalls int
	FenceWaits    int
	// WaitNotOldest counts fence waits on a submission that was not the oldest pending one,
	// i.e. waits that blocked on more than the oldest outstanding frame.
	WaitNotOldest int
	AccelBuilds   int
	AccelUpdates  int
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		SyncSubmits:   d.syncSubmits,
		WaitIdleCalls: d.waitIdleCalls,
		FenceWaits:    d.fenceWaits,
		WaitNotOldest: d.waitNotOldest,
		AccelBuilds:   d.accelBuilds,
		AccelUpdates:  d.accelUpdates,
	}
}

// BufferAt returns the live buffer whose device address range contains addr.
func (d *Device) BufferAt(addr uint64) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferAtLocked(addr)
}

func (d *Device) bufferAtLocked(addr uint64) (*Buffer, bool) {
	for base, b := range d.byAddress {
		if addr >= base && addr < base+b.size && !b.destroyed {
			return b, true
		}
	}
	return nil, false
}

// completeThrough marks every submission up to and including seq complete.
func (d *Device) completeThrough(seq int) {
	for _, s := range d.submissions {
		if s.Seq > seq {
			break
		}
		if !s.Complete {
			s.Complete = true
			s.Fence.pending = false
			s.Fence.signaled = true
			s.Command.inFlight = nil
		}
	}
}

func (d *Device) completeAll() {
	if n := len(d.submissions); n > 0 {
		d.completeThrough(d.submissions[n-1].Seq)
	}
}

var errUnsubmitted = errors.New("wait on a fence that is neither signaled nor submitted")
