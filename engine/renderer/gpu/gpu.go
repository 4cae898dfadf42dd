// Package gpu is the boundary between the renderer components and a graphics API.
//
// Every GPU object is an owned value with a single Destroy entry point. Components in
// engine/renderer depend on the interfaces here; engine/renderer/vulkan implements them and
// engine/renderer/gpu/gputest provides an in-memory fake for tests.
package gpu

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
)

// Status is the non-fatal outcome of acquire and present.
type Status int

const (
	StatusOK Status = iota
	// StatusSuboptimal means the swapchain still works but no longer matches the surface.
	StatusSuboptimal
	// StatusOutOfDate means the swapchain can no longer be used and must be rebuilt.
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out of date"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Stale reports whether the swapchain has to be rebuilt.
func (s Status) Stale() bool {
	return s != StatusOK
}

// Fatal wraps err so errors.Is(err, core.ErrFatal) holds.
func Fatal(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, core.ErrFatal, err)
}

// Extent2D is a size in pixels.
type Extent2D struct {
	Width, Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent2D) Aspect() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

// Format is a pixel format.
type Format int

const (
	FormatUndefined Format = iota
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatRGBA16Float
	FormatRGBA32Float
	FormatD32Float
	FormatD32FloatS8
	FormatD24UnormS8
)

// IsDepth reports whether f is a depth format.
func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD32FloatS8 || f == FormatD24UnormS8
}

// ShaderStage is a bit set of shader stages.
type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute
	StageRaygen
	StageMiss
	StageClosestHit
	StageAnyHit
	StageCallable
)

// StagesRayTracing covers every ray-tracing stage.
const StagesRayTracing = StageRaygen | StageMiss | StageClosestHit | StageAnyHit | StageCallable

// Access names a point in the pipeline where a resource is read or written. Barriers are
// expressed as a transition from one Access to another.
type Access int

const (
	AccessNone Access = iota
	AccessHostWrite
	AccessTransferRead
	AccessTransferWrite
	AccessShaderRead
	AccessAccelBuildRead
	AccessAccelBuildWrite
	AccessRayTracingRead
)

// Layout is an image layout.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShaderReadOnly
	LayoutTransferDst
	LayoutPresentSrc
)

func (l Layout) String() string {
	return [...]string{"undefined", "general", "color-attachment", "depth-attachment",
		"shader-read-only", "transfer-dst", "present-src"}[l]
}
