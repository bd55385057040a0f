package vulkan

import (
	"errors"
	"sync"
	"testing"

	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextSingleton(t *testing.T) {
	ctx, _ := newTestContext(t, DefaultConfig())
	require.NotNil(t, ctx.Device)

	_, err := NewContext(drivertest.New(), &fakeWindow{width: 800, height: 600}, DefaultConfig())
	assert.ErrorIs(t, err, core.ErrContextExists)
}

func TestContextCanBeRecreatedAfterDestroy(t *testing.T) {
	gpu := drivertest.New()
	ctx, err := NewContext(gpu, &fakeWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)
	ctx.Destroy()
	ctx.Destroy()
	assert.Zero(t, gpu.Surfaces())

	ctx, err = NewContext(gpu, &fakeWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)
	ctx.Destroy()
}

func TestContextDefaults(t *testing.T) {
	ctx, _ := newTestContext(t, Config{})
	assert.Equal(t, uint32(2), ctx.Config.FramesInFlight)
	assert.Equal(t, DefaultConfig().FenceTimeout, ctx.Config.FenceTimeout)
	assert.Equal(t, driver.FormatD32Sfloat, ctx.Device.DepthFormat)
	assert.Equal(t, uint32(0), ctx.Device.GraphicsQueueIndex)
	assert.Equal(t, uint32(0), ctx.Device.PresentQueueIndex)

	w, h := ctx.FramebufferSize()
	assert.Equal(t, []uint32{800, 600}, []uint32{w, h})
}

func TestContextNoSuitableDevice(t *testing.T) {
	noSwapchain := drivertest.DefaultDeviceSpec()
	noSwapchain.Info.Extensions = nil

	noPresent := drivertest.DefaultDeviceSpec()
	noPresent.PresentFamilies = nil

	noAnisotropy := drivertest.DefaultDeviceSpec()
	noAnisotropy.Info.Features.SamplerAnisotropy = false

	noDepth := drivertest.DefaultDeviceSpec()
	delete(noDepth.FormatSupport, driver.FormatD32Sfloat)
	delete(noDepth.FormatSupport, driver.FormatD24UnormS8Uint)
	delete(noDepth.FormatSupport, driver.FormatD32SfloatS8Uint)

	noGraphics := drivertest.DefaultDeviceSpec()
	noGraphics.Info.QueueFamilies = []driver.QueueFamilyProperties{{Flags: driver.QueueTransfer, Count: 1}}

	cases := map[string]drivertest.DeviceSpec{
		"no swapchain extension": noSwapchain,
		"no present family":      noPresent,
		"no anisotropy":          noAnisotropy,
		"no depth format":        noDepth,
		"no graphics family":     noGraphics,
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			gpu := drivertest.New(spec)
			_, err := NewContext(gpu, &fakeWindow{width: 800, height: 600}, DefaultConfig())
			assert.ErrorIs(t, err, core.ErrNoSuitableDevice)
			// a failed context leaves nothing behind
			assert.Zero(t, gpu.Surfaces())
		})
	}
}

func TestContextKeepsDeviceCreationCause(t *testing.T) {
	for _, cause := range []error{driver.ErrExtensionNotPresent, driver.ErrFeatureNotPresent} {
		t.Run(cause.Error(), func(t *testing.T) {
			spec := drivertest.DefaultDeviceSpec()
			spec.CreateDeviceError = cause
			gpu := drivertest.New(spec)
			_, err := NewContext(gpu, &fakeWindow{width: 800, height: 600}, DefaultConfig())
			assert.ErrorIs(t, err, core.ErrNoSuitableDevice)
			assert.ErrorIs(t, err, cause)
			assert.Zero(t, gpu.Surfaces())
		})
	}
}

func TestContextSkipsUnsuitableDevices(t *testing.T) {
	first := drivertest.DefaultDeviceSpec()
	first.Info.Name = "no swapchain"
	first.Info.Extensions = nil
	second := drivertest.DefaultDeviceSpec()
	second.Info.Name = "usable"

	ctx, _ := newTestContext(t, DefaultConfig(), first, second)
	assert.Equal(t, "usable", ctx.Device.Info.Name)
}

func TestContextRequireDiscreteGPU(t *testing.T) {
	integrated := drivertest.DefaultDeviceSpec()
	integrated.Info.Type = driver.PhysicalDeviceTypeIntegrated

	cfg := DefaultConfig()
	cfg.RequireDiscreteGPU = true
	ctx, err := NewContext(drivertest.New(integrated), &fakeWindow{width: 800, height: 600}, cfg)
	if err == nil {
		// discrete GPUs are never required on darwin
		ctx.Destroy()
		return
	}
	assert.ErrorIs(t, err, core.ErrNoSuitableDevice)
}

func TestFindQueueFamilies(t *testing.T) {
	gpu := drivertest.New()
	surface, err := gpu.CreateSurface(&fakeWindow{})
	require.NoError(t, err)
	defer gpu.DestroySurface(surface)
	pds, err := gpu.EnumeratePhysicalDevices()
	require.NoError(t, err)
	pd := pds[0]

	families := []driver.QueueFamilyProperties{
		{Flags: driver.QueueTransfer, Count: 1},
		{Flags: driver.QueueGraphics | driver.QueueTransfer, Count: 4},
		{Flags: driver.QueueGraphics, Count: 4},
	}

	// present on a family without graphics
	gpu.Spec(0).PresentFamilies = []uint32{0, 2}
	info, err := FindQueueFamilies(gpu, pd, surface, families)
	require.NoError(t, err)
	assert.Equal(t, QueueFamilyInfo{GraphicsFamilyIndex: 1, PresentFamilyIndex: 0, HasGraphics: true, HasPresent: true}, info)

	// the first family able to do both roles wins both
	gpu.Spec(0).PresentFamilies = []uint32{1, 2}
	info, err = FindQueueFamilies(gpu, pd, surface, families)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.GraphicsFamilyIndex)
	assert.Equal(t, uint32(1), info.PresentFamilyIndex)

	gpu.Spec(0).PresentFamilies = nil
	info, err = FindQueueFamilies(gpu, pd, surface, families)
	require.NoError(t, err)
	assert.True(t, info.HasGraphics)
	assert.False(t, info.HasPresent)
}

func TestSeparatePresentQueue(t *testing.T) {
	spec := drivertest.DefaultDeviceSpec()
	spec.PresentFamilies = []uint32{1}
	ctx, dev := newTestContext(t, testConfig(2, 3), spec)
	assert.Equal(t, uint32(0), ctx.Device.GraphicsQueueIndex)
	assert.Equal(t, uint32(1), ctx.Device.PresentQueueIndex)

	sc, err := SwapchainCreate(ctx, 800, 600)
	require.NoError(t, err)
	defer sc.Destroy()
	info, ok := dev.SwapchainInfo()
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 1}, info.QueueFamilies)
}

func TestDriverMessagesDoNotAffectFrames(t *testing.T) {
	gpu := drivertest.New()
	ctx, err := NewContext(gpu, &fakeWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)
	defer ctx.Destroy()

	for _, severity := range []driver.Severity{driver.SeverityDebug, driver.SeverityInfo, driver.SeverityWarning, driver.SeverityPerformance, driver.SeverityError} {
		gpu.Message(severity, "vkCreateBuffer: size is zero")
	}
	buf, err := NewBuffer(ctx, 64, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
	require.NoError(t, err)
	buf.Destroy()
}

func TestLockPoolSerializesQueueCalls(t *testing.T) {
	lp := NewLockPool(true)
	assert.True(t, lp.Enabled())

	// the device-wide call only holds queue mutexes that already exist
	require.NoError(t, lp.SafeQueueCall(0, func() error { return nil }))

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = lp.SafeQueueCall(0, func() error {
				counter++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = lp.SafeDeviceCall(func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, counter)
}

func TestLockPoolDisabledPassesErrors(t *testing.T) {
	lp := NewLockPool(false)
	assert.False(t, lp.Enabled())
	boom := errors.New("boom")
	assert.ErrorIs(t, lp.SafeQueueCall(3, func() error { return boom }), boom)
	assert.ErrorIs(t, lp.SafeDeviceCall(func() error { return boom }), boom)
}
