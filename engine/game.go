package engine

import (
	"github.com/spaghettifunk/vkscaffold/engine/renderer"
	"github.com/spaghettifunk/vkscaffold/engine/systems"
)

// Game is the application the engine runs. Renderer and SystemManager are
// set by the engine before FnInitialize is called.
type Game struct {
	ApplicationConfig *ApplicationConfig
	Renderer          *renderer.Renderer
	SystemManager     *systems.SystemManager
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render fills the packet the renderer draws this frame.
type Render func(packet *renderer.RenderPacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
