package engine

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/config"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
	"github.com/spaghettifunk/vkscaffold/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	EngineStageShutdown
)

// how often the frame metrics are logged
const metricsLogInterval = 5 * time.Second

// Platform is the windowing layer the engine runs on.
type Platform interface {
	Startup(applicationName string, x, y, width, height uint32, resizable bool) error
	Shutdown() error
	// PumpMessages returns false once the window should close.
	PumpMessages() bool
	WaitMessages()
	RequiredExtensions() []string
	Window() vulkan.Window
}

// InstanceFactory creates the driver instance once the platform knows which
// extensions its surfaces need.
type InstanceFactory func(cfg *ApplicationConfig, extensions []string) (driver.Instance, error)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     time.Duration
	lastReport   time.Duration

	bus           *core.EventBus
	metrics       *core.Metrics
	platform      Platform
	newInstance   InstanceFactory
	instance      driver.Instance
	renderer      *renderer.Renderer
	systemManager *systems.SystemManager
	watcher       *config.Watcher
}

// New creates an engine running g on p. bus must be the bus p fires its
// window events on.
func New(g *Game, bus *core.EventBus, p Platform, newInstance InstanceFactory) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("game and application config are required")
	}
	if bus == nil || p == nil || newInstance == nil {
		return nil, errors.New("event bus, platform and instance factory are required")
	}
	if err := g.ApplicationConfig.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		bus:          bus,
		metrics:      core.NewMetrics(),
		platform:     p,
		newInstance:  newInstance,
		isSuspended:  false,
		width:        g.ApplicationConfig.Application.StartWidth,
		height:       g.ApplicationConfig.Application.StartHeight,
	}
	// QUIT may be fired from another goroutine, for instance a signal handler.
	e.isRunning.Store(true)
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.New("engine already initialized")
	}
	e.currentStage = EngineStageInitializing
	cfg := e.gameInstance.ApplicationConfig
	core.SetLogLevel(cfg.Log.Level)

	// register some events
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.platform.Startup(cfg.Application.Name,
		cfg.Application.StartPosX,
		cfg.Application.StartPosY,
		cfg.Application.StartWidth,
		cfg.Application.StartHeight,
		cfg.Application.Resizable); err != nil {
		return err
	}

	instance, err := e.newInstance(cfg, e.platform.RequiredExtensions())
	if err != nil {
		return errors.Wrap(err, "failed to create driver instance")
	}
	e.instance = instance

	r, err := renderer.New(instance, e.platform.Window(), cfg.Vulkan(), e.metrics, e.bus)
	if err != nil {
		return err
	}
	e.renderer = r

	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{
		AssetsDir: cfg.Application.AssetsDir,
		Texture: systems.TextureSystemConfig{
			Mipmaps:    true,
			Anisotropy: 16,
			FlipY:      false,
		},
	}, r.Context(), r)
	if err != nil {
		return err
	}
	e.systemManager = sm

	if cfg.ConfigPath != "" {
		w, err := config.Watch(cfg.ConfigPath, cfg.Config)
		if err != nil {
			// not fatal, the engine runs without hot reload
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}

	e.gameInstance.Renderer = r
	e.gameInstance.SystemManager = sm
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine must be initialized before running")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		e.applyConfigUpdates()

		if e.isSuspended {
			// Nothing to draw while minimized; wait for the window to come back.
			e.metrics.RecordSkippedFrame()
			e.platform.WaitMessages()
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()

		e.systemManager.Update()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down.")
				return err
			}
		}

		packet := &renderer.RenderPacket{DeltaTime: delta}
		if e.gameInstance.FnRender != nil {
			// Call the game's render routine.
			if err := e.gameInstance.FnRender(packet, delta); err != nil {
				core.LogError("Game render failed, shutting down.")
				return err
			}
		}

		if err := e.renderer.DrawFrame(packet); err != nil {
			if errors.Is(err, core.ErrDeviceLost) {
				core.LogError("GPU device lost, shutting down.")
			}
			return err
		}

		if currentTime-e.lastReport >= metricsLogInterval {
			s := e.metrics.Snapshot()
			core.LogDebug("fps %.1f, frame %.2fms, fence wait %.2fms, rebuilds %d, skipped %d",
				s.FPS, s.FrameTimeMS, s.FenceWaitMS, s.Rebuilds, s.SkippedFrames)
			e.lastReport = currentTime
		}

		// Update last time
		e.lastTime = currentTime
	}
	return nil
}

// Shutdown tears everything down in the opposite order of Initialize. It is
// safe to call after a failed Initialize.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.clock.Stop()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.gameInstance.FnShutdown != nil && e.renderer != nil {
		keep(e.gameInstance.FnShutdown())
	}
	if e.watcher != nil {
		keep(e.watcher.Close())
		e.watcher = nil
	}
	if e.systemManager != nil {
		keep(e.systemManager.Shutdown())
		e.systemManager = nil
	}
	if e.renderer != nil {
		keep(e.renderer.Shutdown())
		e.renderer = nil
	}
	if e.instance != nil {
		e.instance.Destroy()
		e.instance = nil
	}
	keep(e.platform.Shutdown())
	e.bus.Shutdown()

	e.currentStage = EngineStageShutdown
	return firstErr
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

// ApplicationGetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// applyConfigUpdates applies the settings that can change while running and
// announces the new config on the bus.
func (e *Engine) applyConfigUpdates() {
	if e.watcher == nil {
		return
	}
	var cfg config.Config
	select {
	case c, ok := <-e.watcher.Updates():
		if !ok {
			e.watcher = nil
			return
		}
		cfg = c
	default:
		return
	}

	current := &e.gameInstance.ApplicationConfig.Config
	if cfg.Log.Level != current.Log.Level {
		core.SetLogLevel(cfg.Log.Level)
		current.Log = cfg.Log
	}
	if cfg.Renderer.VSync != current.Renderer.VSync {
		e.renderer.SetVSync(cfg.Renderer.VSync)
		current.Renderer.VSync = cfg.Renderer.VSync
	}
	if *current != cfg {
		core.LogWarn("some config changes only take effect after a restart")
	}

	ctx := core.EventContext{}
	ctx.Data.Any = cfg
	e.bus.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, ctx)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]

	// Check if different. If so, trigger a resize event.
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	// the renderer listens too
	return false
}
