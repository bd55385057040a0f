package core

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrSwapchainOutOfDate))
	assert.True(t, IsRecoverable(errors.Wrap(ErrSwapchainOutOfDate, "present")))
	assert.False(t, IsRecoverable(ErrDeviceLost))
	assert.False(t, IsRecoverable(errors.WithStack(ErrUnsupportedTransition)))
	assert.False(t, IsRecoverable(nil))
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("debug")
	SetLogLevel("WARN")
	assert.Equal(t, "warn", LogLevel())
	SetLogLevel("bogus")
	assert.Equal(t, "info", LogLevel())
}

func TestEventBusDispatch(t *testing.T) {
	bus := NewEventBus()
	var got []uint32
	first, second := new(int), new(int)

	require.True(t, bus.Register(EVENT_CODE_RESIZED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, data.Data.U32[0])
		return false
	}))
	require.True(t, bus.Register(EVENT_CODE_RESIZED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, data.Data.U32[1])
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, first, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return true }))

	var ctx EventContext
	ctx.Data.U32[0], ctx.Data.U32[1] = 640, 480
	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, ctx))
	assert.Equal(t, []uint32{640, 480}, got)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, second))
	assert.False(t, bus.Fire(EVENT_CODE_RESIZED, nil, ctx))
	assert.False(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, ctx))
}

func TestMetricsAverages(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(10*time.Millisecond, 2*time.Millisecond)
	}
	s := m.Snapshot()
	assert.InDelta(t, 10.0, s.FrameTimeMS, 1e-9)
	assert.InDelta(t, 2.0, s.FenceWaitMS, 1e-9)

	for i := 0; i < 80; i++ {
		m.Update(10*time.Millisecond, 0)
	}
	assert.InDelta(t, 100.0, m.FPS(), 1)

	m.RecordRebuild()
	m.RecordSkippedFrame()
	s = m.Snapshot()
	assert.Equal(t, uint64(1), s.Rebuilds)
	assert.Equal(t, uint64(1), s.SkippedFrames)
}

func TestClock(t *testing.T) {
	now := time.Unix(100, 0)
	c := &Clock{now: func() time.Time { return now }}
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = now.Add(250 * time.Millisecond)
	c.Update()
	assert.Equal(t, 250*time.Millisecond, c.Elapsed())

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.Equal(t, 250*time.Millisecond, c.Elapsed())
	assert.False(t, c.Running())
}
