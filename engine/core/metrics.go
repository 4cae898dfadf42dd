package core

import "github.com/spaghettifunk/prism/engine/containers"

const AVG_COUNT int = 30

// FrameMetrics keeps a rolling frame-time average and a once-per-second FPS counter.
type FrameMetrics struct {
	samples            *containers.Ring[float64]
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		samples: containers.NewRing[float64](AVG_COUNT),
	}
}

// Update records one frame that took frameElapsed seconds.
func (m *FrameMetrics) Update(frameElapsed float64) {
	frameMS := frameElapsed * 1000.0
	m.samples.Push(frameMS)

	var sum float64
	m.samples.Each(func(v float64) { sum += v })
	m.msAvg = sum / float64(m.samples.Len())

	m.accumulatedFrameMS += frameMS
	m.frames++
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime returns the average frame time in milliseconds.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}
