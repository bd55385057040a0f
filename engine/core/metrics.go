package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// Metrics keeps rolling frame statistics plus the synchronization numbers the
// renderer reports: time spent blocked on fences and swapchain rebuilds.
type Metrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	fenceWaitMS [AVG_COUNT]float64
	fenceAvg    float64
	rebuilds    uint64
	skipped     uint64
}

// MetricsSnapshot is a copy of the current values.
type MetricsSnapshot struct {
	FPS           float64
	FrameTimeMS   float64
	FenceWaitMS   float64
	Rebuilds      uint64
	SkippedFrames uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Update folds one frame into the averages. fenceWait is how long the frame
// was blocked waiting for the GPU.
func (m *Metrics) Update(frameElapsed time.Duration, fenceWait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	m.msTimes[m.frameAVGCounter] = frameMS
	m.fenceWaitMS[m.frameAVGCounter] = float64(fenceWait) / float64(time.Millisecond)
	if m.frameAVGCounter == AVG_COUNT-1 {
		var sum, fence float64
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
			fence += m.fenceWaitMS[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
		m.fenceAvg = fence / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func (m *Metrics) RecordRebuild() {
	m.mu.Lock()
	m.rebuilds++
	m.mu.Unlock()
}

func (m *Metrics) RecordSkippedFrame() {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		FPS:           m.fps,
		FrameTimeMS:   m.msAvg,
		FenceWaitMS:   m.fenceAvg,
		Rebuilds:      m.rebuilds,
		SkippedFrames: m.skipped,
	}
}
