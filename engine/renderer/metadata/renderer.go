package metadata

// MaxFramesInFlight is the number of frames the CPU may record ahead of the GPU.
const MaxFramesInFlight = 3

// MaxTextureCount caps the bindless sampled-image array in the ray-tracing set.
const MaxTextureCount = 24

// RenderMode selects the command-recording path. Both pipelines stay valid in either mode.
type RenderMode uint8

const (
	RenderModeRaster RenderMode = iota
	RenderModeRayTrace
)

func (m RenderMode) String() string {
	switch m {
	case RenderModeRaster:
		return "raster"
	case RenderModeRayTrace:
		return "raytrace"
	default:
		return "unknown"
	}
}

// Toggle returns the other mode.
func (m RenderMode) Toggle() RenderMode {
	if m == RenderModeRaster {
		return RenderModeRayTrace
	}
	return RenderModeRaster
}

// ParseRenderMode maps the config spelling onto a RenderMode.
func ParseRenderMode(s string) (RenderMode, bool) {
	switch s {
	case "raster":
		return RenderModeRaster, true
	case "raytrace":
		return RenderModeRayTrace, true
	}
	return RenderModeRaster, false
}
