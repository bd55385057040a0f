package vulkan

import (
	"testing"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := driver.SurfaceFormat{Format: driver.FormatB8G8R8A8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear}
	other := driver.SurfaceFormat{Format: driver.FormatR8G8B8A8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear}

	assert.Equal(t, preferred, ChooseSurfaceFormat([]driver.SurfaceFormat{other, preferred}))
	assert.Equal(t, other, ChooseSurfaceFormat([]driver.SurfaceFormat{other}))
}

func TestChoosePresentMode(t *testing.T) {
	both := []driver.PresentMode{driver.PresentModeFifo, driver.PresentModeMailbox}
	assert.Equal(t, driver.PresentModeMailbox, ChoosePresentMode(both, false))
	assert.Equal(t, driver.PresentModeFifo, ChoosePresentMode(both, true))
	assert.Equal(t, driver.PresentModeFifo, ChoosePresentMode([]driver.PresentMode{driver.PresentModeFifo}, false))
}

func TestChooseExtent(t *testing.T) {
	caps := driver.SurfaceCapabilities{
		CurrentExtent:  driver.Extent2D{Width: 640, Height: 480},
		MinImageExtent: driver.Extent2D{Width: 16, Height: 16},
		MaxImageExtent: driver.Extent2D{Width: 1024, Height: 1024},
	}
	assert.Equal(t, driver.Extent2D{Width: 640, Height: 480}, ChooseExtent(caps, 2000, 10))

	caps.CurrentExtent = driver.Extent2D{Width: driver.UndefinedExtent, Height: driver.UndefinedExtent}
	assert.Equal(t, driver.Extent2D{Width: 1024, Height: 16}, ChooseExtent(caps, 2000, 10))
	assert.Equal(t, driver.Extent2D{Width: 300, Height: 200}, ChooseExtent(caps, 300, 200))
}

func TestChooseImageCount(t *testing.T) {
	caps := driver.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 4}
	assert.Equal(t, uint32(3), ChooseImageCount(caps, 0))
	assert.Equal(t, uint32(2), ChooseImageCount(caps, 1))
	assert.Equal(t, uint32(4), ChooseImageCount(caps, 9))

	caps.MaxImageCount = 0
	assert.Equal(t, uint32(9), ChooseImageCount(caps, 9))
}

func TestSwapchainCreate(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 0))
	sc, err := SwapchainCreate(ctx, 1024, 768)
	require.NoError(t, err)
	defer sc.Destroy()

	// the surface reports a current extent, which wins over the window size
	assert.Equal(t, driver.Extent2D{Width: 800, Height: 600}, sc.Extent)
	assert.Equal(t, uint32(3), sc.ImageCount)
	assert.Len(t, sc.Views, 3)
	assert.Equal(t, driver.FormatB8G8R8A8Unorm, sc.ImageFormat.Format)
	assert.Equal(t, driver.PresentModeMailbox, sc.PresentMode)
	require.NotNil(t, sc.DepthAttachment)
	assert.Equal(t, ctx.Device.DepthFormat, sc.DepthAttachment.Format)
	assert.Equal(t, driver.ImageLayoutDepthStencilAttachment, dev.ImageLayout(sc.DepthAttachment.Handle, 0))

	info, ok := dev.SwapchainInfo()
	require.True(t, ok)
	assert.Equal(t, []uint32{0}, info.QueueFamilies)
	assert.Empty(t, dev.Violations())
}

func TestSwapchainRecreateFollowsSurface(t *testing.T) {
	ctx, dev := newTestContext(t, testConfig(2, 3))
	sc, err := SwapchainCreate(ctx, 800, 600)
	require.NoError(t, err)
	old := sc.Handle

	// the window grew
	gpu := ctx.Instance.(*drivertest.GPU)
	gpu.Spec(0).Capabilities.CurrentExtent = driver.Extent2D{Width: 1024, Height: 768}

	next, err := sc.Recreate(1024, 768)
	require.NoError(t, err)
	defer next.Destroy()

	assert.NotEqual(t, old, next.Handle)
	assert.Zero(t, sc.Handle)
	assert.Equal(t, driver.Extent2D{Width: 1024, Height: 768}, next.Extent)
	assert.Equal(t, uint32(1024), next.DepthAttachment.Width)
	assert.Equal(t, 1, dev.Swapchains())
	info, ok := dev.SwapchainInfo()
	require.True(t, ok)
	assert.Equal(t, old, info.OldSwapchain)
	assert.Empty(t, dev.Violations())
}

func TestSwapchainVSyncSelectsFifo(t *testing.T) {
	cfg := testConfig(2, 3)
	cfg.VSync = true
	ctx, _ := newTestContext(t, cfg)
	sc, err := SwapchainCreate(ctx, 800, 600)
	require.NoError(t, err)
	defer sc.Destroy()
	assert.Equal(t, driver.PresentModeFifo, sc.PresentMode)
}
