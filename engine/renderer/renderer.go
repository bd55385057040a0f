package renderer

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
)

// RenderPacket is everything the renderer needs to draw one frame.
type RenderPacket struct {
	DeltaTime float64
	// ClearColor replaces the clear color of the main render pass when set.
	ClearColor *[4]float32
	// Record runs inside the main render pass. May be nil.
	Record vulkan.RecordFunc
}

// Renderer is the front-end the engine talks to. It forwards window events
// from the event bus to the backend and announces swapchain rebuilds.
type Renderer struct {
	Type    RendererType
	backend RendererBackend
	bus     *core.EventBus
}

// New creates the Vulkan backend on top of instance and hooks it to bus.
// bus may be nil.
func New(instance driver.Instance, window vulkan.Window, cfg vulkan.Config, metrics *core.Metrics, bus *core.EventBus) (*Renderer, error) {
	backend, err := vulkan.New(instance, window, cfg, metrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize renderer backend")
	}
	return newRenderer(Vulkan, backend, bus), nil
}

func newRenderer(t RendererType, backend RendererBackend, bus *core.EventBus) *Renderer {
	r := &Renderer{Type: t, backend: backend, bus: bus}
	if bus != nil {
		bus.Register(core.EVENT_CODE_RESIZED, r, r.onResized)
		backend.OnRebuilt(func(width, height, imageCount uint32) {
			ctx := core.EventContext{}
			ctx.Data.U32[0] = width
			ctx.Data.U32[1] = height
			ctx.Data.U32[2] = imageCount
			bus.Fire(core.EVENT_CODE_SWAPCHAIN_REBUILT, r, ctx)
		})
	}
	core.LogInfo("%s renderer ready", t)
	return r
}

func (r *Renderer) onResized(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	r.backend.Resized(data.Data.U32[0], data.Data.U32[1])
	// other listeners want to know too
	return false
}

func (r *Renderer) Shutdown() error {
	if r.bus != nil {
		r.bus.Unregister(core.EVENT_CODE_RESIZED, r)
	}
	return r.backend.Shutdown()
}

func (r *Renderer) Backend() RendererBackend {
	return r.backend
}

func (r *Renderer) Context() *vulkan.Context {
	return r.backend.Context()
}

func (r *Renderer) SetVSync(vsync bool) {
	r.backend.SetVSync(vsync)
}

// Retire hands destroy to the backend, which runs it once no frame in flight
// can still reference the resource.
func (r *Renderer) Retire(label string, destroy func()) {
	r.backend.Retire(label, destroy)
}

func (r *Renderer) DrawFrame(packet *RenderPacket) error {
	if packet.ClearColor != nil {
		c := packet.ClearColor
		r.backend.SetClearColor(c[0], c[1], c[2], c[3])
	}
	if err := r.backend.DrawFrame(packet.Record); err != nil {
		core.LogError("DrawFrame failed: %s", err)
		return err
	}
	return nil
}
