package vulkan

import (
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// VulkanRenderpass is a single-subpass pass with one color attachment that
// ends ready for presentation and an optional depth attachment.
type VulkanRenderpass struct {
	Handle     driver.RenderPass
	X, Y, W, H float32
	R, G, B, A float32
	Depth      float32
	Stencil    uint32
	HasDepth   bool

	device driver.Device
}

func RenderpassCreate(context *Context, colorFormat, depthFormat driver.Format, x, y, w, h, r, g, b, a, depth float32, stencil uint32) (*VulkanRenderpass, error) {
	handle, err := context.Device.LogicalDevice.CreateRenderPass(driver.RenderPassCreateInfo{
		ColorFormat: colorFormat,
		DepthFormat: depthFormat,
		// Transitioned to after the render pass
		ColorFinal: driver.ImageLayoutPresentSrc,
	})
	if err != nil {
		return nil, deviceError(err, "create render pass")
	}
	return &VulkanRenderpass{
		Handle:   handle,
		X:        x,
		Y:        y,
		W:        w,
		H:        h,
		R:        r,
		G:        g,
		B:        b,
		A:        a,
		Depth:    depth,
		Stencil:  stencil,
		HasDepth: depthFormat != driver.FormatUndefined,
		device:   context.Device.LogicalDevice,
	}, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy() {
	if vr.Handle != 0 {
		vr.device.DestroyRenderPass(vr.Handle)
		vr.Handle = 0
	}
}

// SetArea updates the render area, as after a swapchain rebuild.
func (vr *VulkanRenderpass) SetArea(w, h uint32) {
	vr.W = float32(w)
	vr.H = float32(h)
}

func (vr *VulkanRenderpass) SetClearColor(r, g, b, a float32) {
	vr.R, vr.G, vr.B, vr.A = r, g, b, a
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *CommandBuffer, frameBuffer *VulkanFramebuffer) error {
	if err := commandBuffer.recording("begin render pass"); err != nil {
		return err
	}
	vr.device.CmdBeginRenderPass(commandBuffer.Handle, driver.RenderPassBeginInfo{
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer.Handle,
		Offset:      [2]int32{int32(vr.X), int32(vr.Y)},
		Extent:      driver.Extent2D{Width: uint32(vr.W), Height: uint32(vr.H)},
		Color:       driver.ClearColor{vr.R, vr.G, vr.B, vr.A},
		HasDepth:    vr.HasDepth,
		Depth:       vr.Depth,
		Stencil:     vr.Stencil,
	})
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return nil
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *CommandBuffer) error {
	if commandBuffer.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return stateError(commandBuffer, "end render pass")
	}
	vr.device.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}
