package core

import "testing"

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	m.Update(0.010)
	m.Update(0.020)

	if got := m.FrameTime(); got < 14.99 || got > 15.01 {
		t.Errorf("expected average 15ms, got %f", got)
	}
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	// 101 frames of 10ms crosses the one second mark on the last update.
	for i := 0; i < 101; i++ {
		m.Update(0.010)
	}
	if m.FPS() != 101 {
		t.Errorf("expected 101 fps, got %f", m.FPS())
	}
}
