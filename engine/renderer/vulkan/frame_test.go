package vulkan

import (
	"fmt"
	"testing"

	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSchedulerOneFenceWaitPerFrame(t *testing.T) {
	for _, frames := range []uint32{1, 2, 3} {
		t.Run(fmt.Sprintf("frames=%d", frames), func(t *testing.T) {
			ctx, dev := newTestContext(t, testConfig(frames, 3))
			h := newFrameHarness(t, ctx)
			require.Equal(t, frames, h.scheduler.FramesInFlight())
			require.Equal(t, uint32(3), h.swapchain.ImageCount)

			const cycles = 12
			before := dev.Stats()
			for i := 0; i < cycles; i++ {
				h.cycle()
			}
			after := dev.Stats()

			assert.Equal(t, cycles, after.FenceWaits-before.FenceWaits)
			assert.Equal(t, cycles, after.Submits-before.Submits)
			assert.Equal(t, cycles, after.Presents-before.Presents)
			assert.Zero(t, h.scheduler.Stats().ImageWaits)
			assert.Empty(t, dev.Violations())
		})
	}
}

func TestFrameSchedulerSlotAndImageIndependent(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)

	var slots, images []uint32
	for i := 0; i < 6; i++ {
		ticket := h.cycle()
		slots = append(slots, ticket.Slot)
		images = append(images, ticket.ImageIndex)
	}
	assert.Equal(t, []uint32{0, 1, 0, 1, 0, 1}, slots)
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2}, images)
	assert.Empty(t, dev.Violations())
}

func TestFrameSchedulerWaitsForImageOwner(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(3, 2))
	h := newFrameHarness(t, ctx)
	require.Equal(t, uint32(2), h.swapchain.ImageCount)

	for i := 0; i < 9; i++ {
		h.cycle()
	}
	assert.NotZero(t, h.scheduler.Stats().ImageWaits)
	assert.Empty(t, dev.Violations())
}

func TestFrameSchedulerPollsImageOwnerFence(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(3, 2))
	h := newFrameHarness(t, ctx)

	const cycles = 9
	before := dev.Stats()
	for i := 0; i < cycles; i++ {
		// the GPU keeps up, so every owner fence is already signaled
		dev.Advance(100)
		h.cycle()
	}
	after := dev.Stats()

	assert.Zero(t, h.scheduler.Stats().ImageWaits)
	assert.Equal(t, cycles, after.FenceWaits-before.FenceWaits)
	assert.Zero(t, after.BlockingFenceWaits-before.BlockingFenceWaits)
	assert.Empty(t, dev.Violations())
}

func TestFrameSchedulerFramesInFlightClamped(t *testing.T) {
	ctx, _ := newTestContext(t, testConfig(7, 3))
	h := newFrameHarness(t, ctx)
	assert.Equal(t, VULKAN_MAX_FRAMES_IN_FLIGHT, h.scheduler.FramesInFlight())
}

func TestFrameSchedulerOutOfDateAcquire(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)
	h.cycle()

	dev.InvalidateSwapchains()
	slot := h.scheduler.CurrentSlot()
	_, err := h.scheduler.Acquire()
	require.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	assert.True(t, core.IsRecoverable(err))
	assert.Equal(t, slot, h.scheduler.CurrentSlot())

	h.rebuild()
	assert.Equal(t, 1, dev.Swapchains())
	for i := 0; i < 4; i++ {
		h.cycle()
	}
	assert.Empty(t, dev.Violations())
}

func TestFrameSchedulerOutOfDatePresent(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)

	ticket, err := h.scheduler.Acquire()
	require.NoError(t, err)
	require.NoError(t, h.scheduler.Submit(ticket, h.record(ticket)))
	dev.InvalidateSwapchains()
	err = h.scheduler.Present(ticket)
	require.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	// the slot advances even though presentation failed
	assert.Equal(t, uint32(1), h.scheduler.CurrentSlot())

	h.rebuild()
	for i := 0; i < 4; i++ {
		h.cycle()
	}
	assert.Empty(t, dev.Violations())
}

func TestFrameSchedulerSuboptimalIsReported(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)

	dev.SetSuboptimal(true)
	ticket, err := h.scheduler.Acquire()
	require.NoError(t, err)
	assert.True(t, ticket.Suboptimal)
	require.NoError(t, h.scheduler.Submit(ticket, h.record(ticket)))
	assert.ErrorIs(t, h.scheduler.Present(ticket), core.ErrSwapchainOutOfDate)

	h.rebuild()
	assert.False(t, h.cycle().Suboptimal)
	assert.Empty(t, dev.Violations())
}

func TestFrameSchedulerTimeoutIsDeviceLost(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)
	h.cycle()
	h.cycle()

	dev.Hang()
	_, err := h.scheduler.Acquire()
	require.ErrorIs(t, err, core.ErrDeviceLost)
	assert.False(t, core.IsRecoverable(err))
}

func TestFrameTicketSingleUse(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)

	ticket, err := h.scheduler.Acquire()
	require.NoError(t, err)
	assert.ErrorIs(t, h.scheduler.Present(ticket), core.ErrTicketConsumed)

	cb := h.cbs[ticket.ImageIndex]
	require.NoError(t, cb.Begin(false, false, false))
	assert.ErrorIs(t, h.scheduler.Submit(ticket, cb), core.ErrInvalidCommandBufferState)
	require.NoError(t, cb.End())

	require.NoError(t, h.scheduler.Submit(ticket, cb))
	assert.ErrorIs(t, h.scheduler.Submit(ticket, cb), core.ErrTicketConsumed)
	require.NoError(t, h.scheduler.Present(ticket))
	assert.ErrorIs(t, h.scheduler.Present(ticket), core.ErrTicketConsumed)
	assert.Empty(t, dev.Violations())
}

func TestCommandBufferResetBeforeCompletion(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)

	ticket, err := h.scheduler.Acquire()
	require.NoError(t, err)
	cb := h.record(ticket)
	require.NoError(t, h.scheduler.Submit(ticket, cb))
	require.Equal(t, COMMAND_BUFFER_STATE_SUBMITTED, cb.State)

	assert.ErrorIs(t, cb.Reset(), core.ErrInvalidCommandBufferState)
	assert.ErrorIs(t, cb.Begin(false, false, false), core.ErrInvalidCommandBufferState)
	require.NoError(t, h.scheduler.Present(ticket))

	// once the fence of its slot has been waited on the buffer is reusable
	require.NoError(t, ticket.InFlight.Wait(ctx.Config.FenceTimeout))
	require.NoError(t, cb.Reset())
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, cb.State)
	assert.Empty(t, dev.Violations())
}

func TestRetireWaitsForCompletion(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	h := newFrameHarness(t, ctx)

	buf, err := NewBuffer(ctx, 64, driver.BufferUsageStorage, MemoryLocationDeviceLocal)
	require.NoError(t, err)

	h.cycle()
	destroyed := false
	h.scheduler.Retire("buffer", func() {
		buf.Destroy()
		destroyed = true
	})
	assert.Equal(t, 1, h.scheduler.PendingDeletions())

	// the next slot's fence says nothing about the retiring frame
	h.cycle()
	assert.False(t, destroyed)

	// waiting on the first slot again completes it
	h.cycle()
	assert.True(t, destroyed)
	assert.Zero(t, h.scheduler.PendingDeletions())
	assert.Empty(t, dev.Violations())
}

func TestResetSyncAfterAbandonedFrame(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 4))
	h := newFrameHarness(t, ctx)
	h.cycle()

	// acquired and never submitted: its semaphore stays signaled
	_, err := h.scheduler.Acquire()
	require.NoError(t, err)
	require.NoError(t, ctx.WaitIdle())
	require.NoError(t, h.scheduler.ResetSync())
	assert.Zero(t, h.scheduler.CurrentSlot())

	h.cycle()
	h.cycle()
	assert.Empty(t, dev.Violations())
}

func TestDeletionQueueOrder(t *testing.T) {
	q := NewDeletionQueue()
	var ran []string
	q.Push(1, "a", func() { ran = append(ran, "a") })
	q.Push(2, "b", func() { ran = append(ran, "b") })
	q.Push(3, "c", func() { ran = append(ran, "c") })

	assert.Equal(t, 0, q.Collect(0))
	assert.Equal(t, 2, q.Collect(2))
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, 1, q.Flush())
	assert.Equal(t, []string{"a", "b", "c"}, ran)
	assert.Zero(t, q.Len())
}

func TestTimeline(t *testing.T) {
	var tl Timeline
	assert.True(t, tl.Done(0))
	tl.Complete(4)
	tl.Complete(2)
	assert.Equal(t, uint64(4), tl.Completed())
	assert.True(t, tl.Done(3))
	assert.False(t, tl.Done(5))
}
