package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unsafe"

	"github.com/spaghettifunk/vkscaffold/engine/config"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
	"github.com/stretchr/testify/assert"
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

// fakePlatform reports a close request after frames pumps. onPump runs at
// the start of every pump, numbered from 1.
type fakePlatform struct {
	bus    *core.EventBus
	window *fakeWindow
	frames int
	onPump func(pump int)

	pumps    int
	waits    int
	started  bool
	shutdown bool
}

func (p *fakePlatform) Startup(applicationName string, x, y, width, height uint32, resizable bool) error {
	p.started = true
	p.window = &fakeWindow{width: int(width), height: int(height)}
	return nil
}

func (p *fakePlatform) Shutdown() error {
	p.shutdown = true
	return nil
}

func (p *fakePlatform) PumpMessages() bool {
	p.pumps++
	if p.onPump != nil {
		p.onPump(p.pumps)
	}
	return p.pumps <= p.frames
}

func (p *fakePlatform) WaitMessages() { p.waits++ }

func (p *fakePlatform) RequiredExtensions() []string {
	return []string{"VK_KHR_surface"}
}

func (p *fakePlatform) Window() vulkan.Window { return p.window }

// resize changes the window and fires the event the way the OS callback does.
func (p *fakePlatform) resize(width, height uint32) {
	p.window.width, p.window.height = int(width), int(height)
	ctx := core.EventContext{}
	ctx.Data.U32[0], ctx.Data.U32[1] = width, height
	p.bus.Fire(core.EVENT_CODE_RESIZED, p, ctx)
}

type engineFixture struct {
	engine   *Engine
	game     *Game
	platform *fakePlatform
	gpu      *drivertest.GPU
	bus      *core.EventBus
}

func testAppConfig(t *testing.T) *ApplicationConfig {
	cfg := config.Default()
	cfg.Application.StartWidth = 800
	cfg.Application.StartHeight = 600
	cfg.Application.AssetsDir = t.TempDir()
	cfg.Log.Level = "warn"
	return &ApplicationConfig{Config: cfg}
}

func newEngineFixture(t *testing.T, app *ApplicationConfig, g *Game) *engineFixture {
	t.Helper()
	if g == nil {
		g = &Game{}
	}
	g.ApplicationConfig = app
	bus := core.NewEventBus()
	p := &fakePlatform{bus: bus}
	gpu := drivertest.New()
	e, err := New(g, bus, p, func(cfg *ApplicationConfig, extensions []string) (driver.Instance, error) {
		assert.Equal(t, []string{"VK_KHR_surface"}, extensions)
		return gpu, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, e.Shutdown())
	})
	return &engineFixture{engine: e, game: g, platform: p, gpu: gpu, bus: bus}
}

func (f *engineFixture) backend() *vulkan.VulkanRenderer {
	return f.game.Renderer.Backend().(*vulkan.VulkanRenderer)
}

func TestEngineRunsFrames(t *testing.T) {
	var updates, renders int
	var resized [][2]uint32
	g := &Game{
		FnInitialize: func() error { return nil },
		FnUpdate: func(deltaTime float64) error {
			updates++
			assert.GreaterOrEqual(t, deltaTime, 0.0)
			return nil
		},
		FnRender: func(packet *renderer.RenderPacket, deltaTime float64) error {
			renders++
			packet.ClearColor = &[4]float32{0, 1, 0, 1}
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			resized = append(resized, [2]uint32{width, height})
			return nil
		},
	}
	f := newEngineFixture(t, testAppConfig(t), g)
	f.platform.frames = 5

	require.NoError(t, f.engine.Initialize())
	assert.Equal(t, EngineStageInitialized, f.engine.Stage())
	assert.True(t, f.platform.started)
	require.NotNil(t, g.Renderer)
	require.NotNil(t, g.SystemManager)

	require.NoError(t, f.engine.Run())
	assert.Equal(t, 5, updates)
	assert.Equal(t, 5, renders)
	assert.Equal(t, uint64(5), f.backend().FrameNumber)
	assert.Equal(t, [][2]uint32{{800, 600}}, resized)

	dev := f.gpu.LogicalDevice()
	require.NoError(t, f.engine.Shutdown())
	assert.Equal(t, EngineStageShutdown, f.engine.Stage())
	assert.True(t, f.platform.shutdown)
	assert.True(t, dev.Destroyed())
	assert.Zero(t, dev.LiveObjects())
	assert.Empty(t, dev.Violations())
}

func TestEngineQuitEvent(t *testing.T) {
	f := newEngineFixture(t, testAppConfig(t), nil)
	f.platform.frames = 100
	f.platform.onPump = func(pump int) {
		if pump == 3 {
			f.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, f.platform, core.EventContext{})
		}
	}
	require.NoError(t, f.engine.Initialize())
	require.NoError(t, f.engine.Run())
	// the frame of the quit event is still drawn
	assert.Equal(t, uint64(3), f.backend().FrameNumber)
}

func TestEngineSuspendsWhileMinimized(t *testing.T) {
	var resized [][2]uint32
	g := &Game{
		FnOnResize: func(width, height uint32) error {
			resized = append(resized, [2]uint32{width, height})
			return nil
		},
	}
	f := newEngineFixture(t, testAppConfig(t), g)
	f.platform.frames = 10
	f.platform.onPump = func(pump int) {
		switch pump {
		case 3:
			f.platform.resize(0, 0)
		case 7:
			f.platform.resize(800, 600)
		}
	}
	require.NoError(t, f.engine.Initialize())
	require.NoError(t, f.engine.Run())

	assert.Equal(t, 4, f.platform.waits)
	assert.Equal(t, uint64(4), f.engine.Metrics().Snapshot().SkippedFrames)
	assert.Equal(t, [][2]uint32{{800, 600}, {800, 600}}, resized)
	// the first frame after the restore is spent on the swapchain rebuild
	assert.Equal(t, uint64(1), f.engine.Metrics().Snapshot().Rebuilds)
	assert.Equal(t, uint64(5), f.backend().FrameNumber)
	assert.Empty(t, f.gpu.LogicalDevice().Violations())
}

func TestEngineDeviceLost(t *testing.T) {
	f := newEngineFixture(t, testAppConfig(t), nil)
	f.platform.frames = 10
	f.platform.onPump = func(pump int) {
		if pump == 4 {
			f.gpu.LogicalDevice().Hang()
		}
	}
	require.NoError(t, f.engine.Initialize())
	err := f.engine.Run()
	require.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestEngineRenderError(t *testing.T) {
	boom := errors.New("boom")
	g := &Game{
		FnRender: func(packet *renderer.RenderPacket, deltaTime float64) error { return boom },
	}
	f := newEngineFixture(t, testAppConfig(t), g)
	f.platform.frames = 10
	require.NoError(t, f.engine.Initialize())
	assert.ErrorIs(t, f.engine.Run(), boom)
}

func TestEngineConfigReload(t *testing.T) {
	app := testAppConfig(t)
	app.ConfigPath = filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(app.ConfigPath, []byte("[log]\nlevel = \"warn\"\n"), 0o644))
	cfg, err := config.Load(app.ConfigPath)
	require.NoError(t, err)
	cfg.Application.AssetsDir = app.Application.AssetsDir
	app.Config = cfg

	f := newEngineFixture(t, app, nil)
	var reloaded []config.Config
	f.bus.Register(core.EVENT_CODE_CONFIG_RELOADED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		reloaded = append(reloaded, data.Data.Any.(config.Config))
		return true
	})
	require.NoError(t, f.engine.Initialize())
	require.NotNil(t, f.engine.watcher)

	data := "[application]\nassets_dir = \"" + filepath.ToSlash(app.Application.AssetsDir) + "\"\n" +
		"[renderer]\nvsync = true\n[log]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(app.ConfigPath, []byte(data), 0o644))

	deadline := time.Now().Add(5 * time.Second)
	for len(reloaded) == 0 {
		require.True(t, time.Now().Before(deadline), "config reload not applied")
		f.engine.applyConfigUpdates()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, app.Renderer.VSync)
	assert.Equal(t, "error", app.Log.Level)
	assert.Equal(t, "error", core.LogLevel())

	require.NoError(t, f.game.Renderer.DrawFrame(&renderer.RenderPacket{}))
	assert.Equal(t, driver.PresentModeFifo, f.backend().Swapchain().PresentMode)
	core.SetLogLevel("warn")
}

func TestEngineInitializeFailure(t *testing.T) {
	bus := core.NewEventBus()
	p := &fakePlatform{bus: bus}
	e, err := New(&Game{ApplicationConfig: testAppConfig(t)}, bus, p, func(cfg *ApplicationConfig, extensions []string) (driver.Instance, error) {
		return nil, errors.New("no loader")
	})
	require.NoError(t, err)
	assert.Error(t, e.Initialize())
	assert.Error(t, e.Run())
	require.NoError(t, e.Shutdown())
	assert.True(t, p.shutdown)
}

func TestNewValidatesConfig(t *testing.T) {
	bus := core.NewEventBus()
	app := testAppConfig(t)
	app.Renderer.FramesInFlight = 0
	factory := func(cfg *ApplicationConfig, extensions []string) (driver.Instance, error) { return nil, nil }

	_, err := New(&Game{ApplicationConfig: app}, bus, &fakePlatform{bus: bus}, factory)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = New(nil, bus, &fakePlatform{bus: bus}, factory)
	assert.Error(t, err)
	_, err = New(&Game{ApplicationConfig: testAppConfig(t)}, nil, &fakePlatform{bus: bus}, factory)
	assert.Error(t, err)
}

func TestLoadApplicationConfig(t *testing.T) {
	app, err := LoadApplicationConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), app.Config)
	assert.Empty(t, app.ConfigPath)

	_, err = LoadApplicationConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
