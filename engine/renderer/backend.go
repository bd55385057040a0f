package renderer

import "github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"

type RendererBackend interface {
	Shutdown() error
	Resized(width, height uint32)
	SetVSync(vsync bool)
	SetClearColor(r, g, b, a float32)
	DrawFrame(record vulkan.RecordFunc) error
	Retire(label string, destroy func())
	OnRebuilt(fn vulkan.RebuiltFunc)
	Context() *vulkan.Context
}

var _ RendererBackend = (*vulkan.VulkanRenderer)(nil)

type RendererType uint8

const (
	Vulkan RendererType = iota
	DirectX
	Metal
	OpenGL
)

func (t RendererType) String() string {
	switch t {
	case Vulkan:
		return "vulkan"
	case DirectX:
		return "directx"
	case Metal:
		return "metal"
	case OpenGL:
		return "opengl"
	}
	return "unknown"
}
