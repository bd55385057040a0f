package vulkan

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rendererFixture struct {
	renderer *VulkanRenderer
	gpu      *drivertest.GPU
	device   *drivertest.Device
	window   *fakeWindow
}

func newTestRenderer(t *testing.T, cfg Config) *rendererFixture {
	t.Helper()
	gpu := drivertest.New()
	window := &fakeWindow{width: 800, height: 600}
	vr, err := New(gpu, window, cfg, core.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, vr.Shutdown())
		gpu.Destroy()
	})
	return &rendererFixture{renderer: vr, gpu: gpu, device: gpu.LogicalDevice(), window: window}
}

func (f *rendererFixture) draw(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, f.renderer.DrawFrame(nil))
	}
}

func (f *rendererFixture) resize(width, height int) {
	f.window.width, f.window.height = width, height
	f.gpu.Spec(0).Capabilities.CurrentExtent = driver.Extent2D{Width: uint32(width), Height: uint32(height)}
	f.renderer.Resized(uint32(width), uint32(height))
}

func TestRendererDrawsFrames(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	before := f.device.Stats()

	f.draw(t, 10)
	stats := f.device.Stats()
	assert.Equal(t, uint64(10), f.renderer.FrameNumber)
	assert.Equal(t, 10, stats.Submits-before.Submits)
	assert.Equal(t, 10, stats.Presents-before.Presents)
	assert.Equal(t, 10, stats.FenceWaits-before.FenceWaits)
	assert.Empty(t, f.device.Violations())
}

func TestRendererClearColor(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.renderer.SetClearColor(1, 0.5, 0, 1)
	f.draw(t, 3)
	require.NoError(t, f.renderer.Context().WaitIdle())

	for _, img := range f.renderer.Swapchain().Images {
		assert.Equal(t, driver.ClearColor{1, 0.5, 0, 1}, f.device.ClearColor(img))
		assert.Equal(t, driver.ImageLayoutPresentSrc, f.device.ImageLayout(img, 0))
	}
}

func TestRendererRecordRunsInsideRenderPass(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	var images []uint32
	err := f.renderer.DrawFrame(func(cb *CommandBuffer, frame *FrameTicket) error {
		assert.Equal(t, COMMAND_BUFFER_STATE_IN_RENDER_PASS, cb.State)
		images = append(images, frame.ImageIndex)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, images)
}

func TestRendererRebuildsOutOfDateSwapchain(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	var rebuilt [][3]uint32
	f.renderer.OnRebuilt(func(width, height, imageCount uint32) {
		rebuilt = append(rebuilt, [3]uint32{width, height, imageCount})
	})
	f.draw(t, 2)

	f.device.InvalidateSwapchains()
	require.NoError(t, f.renderer.DrawFrame(nil))
	assert.Equal(t, uint64(1), f.renderer.Metrics().Snapshot().Rebuilds)
	assert.Equal(t, 1, f.device.Swapchains())
	assert.Equal(t, [][3]uint32{{800, 600, 3}}, rebuilt)

	f.draw(t, 6)
	assert.Equal(t, uint64(8), f.renderer.FrameNumber)
	assert.Empty(t, f.device.Violations())
}

func TestRendererRebuildsOnOutOfDatePresent(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 1)

	err := f.renderer.DrawFrame(func(cb *CommandBuffer, frame *FrameTicket) error {
		// the window changes while the frame is being recorded
		f.device.InvalidateSwapchains()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.renderer.Metrics().Snapshot().Rebuilds)

	f.draw(t, 4)
	assert.Empty(t, f.device.Violations())
}

func TestRendererRebuildsSuboptimalSwapchain(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.device.SetSuboptimal(true)
	require.NoError(t, f.renderer.DrawFrame(nil))
	assert.Equal(t, uint64(1), f.renderer.Metrics().Snapshot().Rebuilds)
	// the frame was still shown
	assert.Equal(t, uint64(1), f.renderer.FrameNumber)

	f.draw(t, 4)
	assert.Equal(t, uint64(1), f.renderer.Metrics().Snapshot().Rebuilds)
	assert.Empty(t, f.device.Violations())
}

func TestRendererResize(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 2)

	f.resize(1024, 768)
	submits := f.device.Stats().Submits
	require.NoError(t, f.renderer.DrawFrame(nil))
	// the frame that notices the resize only rebuilds
	assert.Equal(t, submits, f.device.Stats().Submits)
	assert.Equal(t, driver.Extent2D{Width: 1024, Height: 768}, f.renderer.Swapchain().Extent)
	assert.Len(t, f.renderer.Framebuffers, 3)

	f.draw(t, 4)
	assert.Empty(t, f.device.Violations())
}

func TestRendererMinimizedWindow(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 1)

	f.window.width, f.window.height = 0, 0
	f.renderer.Resized(0, 0)
	submits := f.device.Stats().Submits
	f.draw(t, 3)
	assert.Equal(t, submits, f.device.Stats().Submits)
	assert.Equal(t, uint64(3), f.renderer.Metrics().Snapshot().SkippedFrames)
	assert.Zero(t, f.renderer.Metrics().Snapshot().Rebuilds)

	// restoring the window rebuilds once and rendering resumes
	f.resize(800, 600)
	f.draw(t, 4)
	assert.Equal(t, uint64(1), f.renderer.Metrics().Snapshot().Rebuilds)
	assert.Greater(t, f.device.Stats().Submits, submits)
	assert.Empty(t, f.device.Violations())
}

func TestRendererVSync(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	assert.Equal(t, driver.PresentModeMailbox, f.renderer.Swapchain().PresentMode)

	f.renderer.SetVSync(true)
	f.draw(t, 1)
	assert.Equal(t, driver.PresentModeFifo, f.renderer.Swapchain().PresentMode)
	info, ok := f.device.SwapchainInfo()
	require.True(t, ok)
	assert.Equal(t, driver.PresentModeFifo, info.PresentMode)

	// no change, no rebuild
	f.renderer.SetVSync(true)
	f.draw(t, 3)
	assert.Equal(t, uint64(1), f.renderer.Metrics().Snapshot().Rebuilds)
	assert.Empty(t, f.device.Violations())
}

func TestRendererRecordError(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 2)

	boom := errors.New("boom")
	err := f.renderer.DrawFrame(func(cb *CommandBuffer, frame *FrameTicket) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(2), f.renderer.FrameNumber)

	f.draw(t, 5)
	assert.Equal(t, uint64(6), f.renderer.FrameNumber)
	assert.Empty(t, f.device.Violations())
}

func TestRendererDeviceLost(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 2)

	f.device.Hang()
	err := f.renderer.DrawFrame(nil)
	require.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestRendererDeviceLostIsSticky(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 2)

	f.device.Hang()
	err := f.renderer.DrawFrame(nil)
	require.ErrorIs(t, err, core.ErrDeviceLost)
	submits := f.device.Stats().Submits
	assert.Equal(t, err, f.renderer.DrawFrame(nil))
	assert.Equal(t, submits, f.device.Stats().Submits)
}

func TestRendererFailedRebuildIsSticky(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	f.draw(t, 2)

	f.gpu.Spec(0).Formats = nil
	f.resize(1024, 768)
	err := f.renderer.DrawFrame(nil)
	require.ErrorIs(t, err, core.ErrNoSuitableDevice)
	assert.Nil(t, f.renderer.Swapchain())
	assert.Zero(t, f.device.Swapchains())

	// the surface recovers but the renderer stays failed
	f.gpu.Spec(0).Formats = drivertest.DefaultDeviceSpec().Formats
	again := f.renderer.DrawFrame(nil)
	assert.ErrorIs(t, again, core.ErrNoSuitableDevice)
	assert.Equal(t, err, again)
	assert.Equal(t, uint64(2), f.renderer.FrameNumber)
	assert.Empty(t, f.device.Violations())
}

func TestRendererRetire(t *testing.T) {
	f := newTestRenderer(t, testConfig(2, 3))
	buf, err := NewBuffer(f.renderer.Context(), 256, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
	require.NoError(t, err)

	f.draw(t, 1)
	f.renderer.Retire("uniforms", buf.Destroy)
	assert.NotZero(t, buf.Handle)

	f.draw(t, 2)
	assert.Zero(t, buf.Handle)
	assert.Zero(t, f.renderer.Scheduler().PendingDeletions())
	assert.Empty(t, f.device.Violations())
}

func TestRendererShutdownReleasesEverything(t *testing.T) {
	gpu := drivertest.New()
	vr, err := New(gpu, &fakeWindow{width: 800, height: 600}, testConfig(2, 3), nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, vr.DrawFrame(nil))
	}
	dev := gpu.LogicalDevice()

	require.NoError(t, vr.Shutdown())
	assert.True(t, dev.Destroyed())
	assert.Zero(t, dev.LiveObjects())
	assert.Zero(t, gpu.Surfaces())
	assert.Empty(t, dev.Violations())
	require.NoError(t, vr.Shutdown())
}
