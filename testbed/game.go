package testbed

import (
	"encoding/binary"
	stdmath "math"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/math"
	"github.com/spaghettifunk/vkscaffold/engine/renderer"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
	"github.com/spaghettifunk/vkscaffold/engine/systems"
)

const logoTexture = "textures/logo.png"

// size of the per-frame uniform block: clear color plus elapsed seconds
const uniformSize = 4*4 + 4

type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed float64
	width   uint32
	height  uint32

	logo *systems.Texture
	// the descriptor group is bound to one texture generation
	logoGeneration uint32
	uniforms       *vulkan.Buffer
	group          *vulkan.DescriptorGroup
}

func NewTestGame(cfg *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: cfg,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil || g.Renderer == nil {
		return errors.New("the engine is not yet initialized with all the system managers")
	}
	state := g.State.(*gameState)

	logo, err := g.SystemManager.TextureSystem.Acquire(logoTexture)
	if err != nil {
		return err
	}
	state.logo = logo

	uniforms, err := vulkan.NewBuffer(g.Renderer.Context(), uniformSize, driver.BufferUsageUniform, vulkan.MemoryLocationHostVisibleCoherent)
	if err != nil {
		return err
	}
	state.uniforms = uniforms
	return g.rebuildDescriptors()
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime

	// the logo finished loading or was hot reloaded
	if state.logo.Generation != state.logoGeneration {
		return g.rebuildDescriptors()
	}
	return nil
}

func (g *TestGame) Render(packet *renderer.RenderPacket, deltaTime float64) error {
	state := g.State.(*gameState)
	color := [4]float32{
		0.1,
		0.2 * math.Pulse(state.elapsed, 4),
		0.2 + 0.3*math.Pulse(state.elapsed, 6),
		1.0,
	}
	packet.ClearColor = &color

	block := make([]byte, uniformSize)
	for i, c := range color {
		binary.LittleEndian.PutUint32(block[i*4:], stdmath.Float32bits(c))
	}
	binary.LittleEndian.PutUint32(block[16:], stdmath.Float32bits(float32(state.elapsed)))
	if err := state.uniforms.LoadData(0, block); err != nil {
		return err
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogDebug("TestGame Shutdown fn....")
	state := g.State.(*gameState)
	if state.group != nil {
		group := state.group
		g.Renderer.Retire("testbed descriptors", group.Destroy)
		state.group = nil
	}
	if state.uniforms != nil {
		uniforms := state.uniforms
		g.Renderer.Retire("testbed uniforms", uniforms.Destroy)
		state.uniforms = nil
	}
	if state.logo != nil {
		g.SystemManager.TextureSystem.Release(logoTexture)
		state.logo = nil
	}
	return nil
}

// rebuildDescriptors binds the current logo image. The previous group may
// still be in use by frames in flight, so it is retired rather than
// destroyed.
func (g *TestGame) rebuildDescriptors() error {
	state := g.State.(*gameState)
	group, err := vulkan.NewDescriptorGroup(g.Renderer.Context(), []vulkan.DescriptorBinding{
		vulkan.BufferBinding(0, driver.DescriptorTypeUniformBuffer, driver.ShaderStageAllGraphics, state.uniforms),
		vulkan.ImageBinding(1, driver.ShaderStageFragment, state.logo.Image, state.logo.Sampler),
	})
	if err != nil {
		return err
	}
	if old := state.group; old != nil {
		g.Renderer.Retire("testbed descriptors", old.Destroy)
	}
	state.group = group
	state.logoGeneration = state.logo.Generation
	core.LogDebug("testbed descriptors bound to %s generation %d", state.logo.Name, state.logo.Generation)
	return nil
}
