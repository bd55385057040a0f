package vulkan

import (
	"testing"
	"unsafe"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	width, height int
}

func (w *fakeWindow) CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error) {
	return 1, nil
}

func (w *fakeWindow) GetFramebufferSize() (int, int) {
	return w.width, w.height
}

func testConfig(frames, images uint32) Config {
	cfg := DefaultConfig()
	cfg.FramesInFlight = frames
	cfg.ImageCount = images
	return cfg
}

// newTestContext builds a context on a simulated GPU. It is destroyed when
// the test ends.
func newTestContext(t *testing.T, cfg Config, specs ...drivertest.DeviceSpec) (*Context, *drivertest.Device) {
	t.Helper()
	gpu := drivertest.New(specs...)
	ctx, err := NewContext(gpu, &fakeWindow{width: 800, height: 600}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx.Destroy()
		gpu.Destroy()
	})
	return ctx, gpu.LogicalDevice()
}

// frameHarness drives a scheduler the way the renderer does, with one
// command buffer per swapchain image.
type frameHarness struct {
	t         *testing.T
	ctx       *Context
	swapchain *Swapchain
	scheduler *FrameScheduler
	cbs       []*CommandBuffer
}

func newFrameHarness(t *testing.T, ctx *Context) *frameHarness {
	t.Helper()
	sc, err := SwapchainCreate(ctx, 800, 600)
	require.NoError(t, err)
	scheduler, err := NewFrameScheduler(ctx, sc)
	require.NoError(t, err)
	cbs, err := ctx.GraphicsCommandPool.AllocatePersistent(sc.ImageCount)
	require.NoError(t, err)
	h := &frameHarness{t: t, ctx: ctx, swapchain: sc, scheduler: scheduler, cbs: cbs}
	t.Cleanup(func() {
		h.scheduler.Destroy()
		h.ctx.GraphicsCommandPool.Free(h.cbs...)
		h.swapchain.Destroy()
	})
	return h
}

// record begins and ends the command buffer of the ticket's image.
func (h *frameHarness) record(ticket *FrameTicket) *CommandBuffer {
	h.t.Helper()
	cb := h.cbs[ticket.ImageIndex]
	if cb.State == COMMAND_BUFFER_STATE_SUBMITTED {
		require.NoError(h.t, cb.Reset())
	}
	require.NoError(h.t, cb.Begin(false, false, false))
	require.NoError(h.t, cb.End())
	return cb
}

// cycle runs one acquire, record, submit, present round.
func (h *frameHarness) cycle() *FrameTicket {
	h.t.Helper()
	ticket, err := h.scheduler.Acquire()
	require.NoError(h.t, err)
	require.NoError(h.t, h.scheduler.Submit(ticket, h.record(ticket)))
	require.NoError(h.t, h.scheduler.Present(ticket))
	return ticket
}

// rebuild swaps in a new swapchain the way the renderer does after an
// out-of-date error.
func (h *frameHarness) rebuild() {
	h.t.Helper()
	sc, err := h.swapchain.Recreate(800, 600)
	require.NoError(h.t, err)
	h.swapchain = sc
	h.scheduler.SetSwapchain(sc)
}
