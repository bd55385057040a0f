package vulkan

import (
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

type VulkanFramebuffer struct {
	Handle      driver.Framebuffer
	Attachments []driver.ImageView
	Renderpass  *VulkanRenderpass

	device driver.Device
}

func FramebufferCreate(context *Context, renderpass *VulkanRenderpass, width, height uint32, attachments []driver.ImageView) (*VulkanFramebuffer, error) {
	// Take a copy of the attachments
	outFramebuffer := &VulkanFramebuffer{
		Attachments: append([]driver.ImageView(nil), attachments...),
		Renderpass:  renderpass,
		device:      context.Device.LogicalDevice,
	}

	handle, err := context.Device.LogicalDevice.CreateFramebuffer(driver.FramebufferCreateInfo{
		RenderPass:  renderpass.Handle,
		Attachments: outFramebuffer.Attachments,
		Width:       width,
		Height:      height,
	})
	if err != nil {
		core.LogError("failed to create framebuffer: %v", err)
		return nil, deviceError(err, "create framebuffer")
	}
	outFramebuffer.Handle = handle
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy() {
	if vfb.Handle != 0 {
		vfb.device.DestroyFramebuffer(vfb.Handle)
	}
	vfb.Attachments = nil
	vfb.Handle = 0
	vfb.Renderpass = nil
}

// SwapchainFramebuffers creates one framebuffer per swapchain image, sharing
// the depth attachment.
func SwapchainFramebuffers(context *Context, swapchain *Swapchain, renderpass *VulkanRenderpass) ([]*VulkanFramebuffer, error) {
	framebuffers := make([]*VulkanFramebuffer, 0, swapchain.ImageCount)
	for _, view := range swapchain.Views {
		attachments := []driver.ImageView{view}
		if renderpass.HasDepth && swapchain.DepthAttachment != nil {
			attachments = append(attachments, swapchain.DepthAttachment.View)
		}
		fb, err := FramebufferCreate(context, renderpass, swapchain.Extent.Width, swapchain.Extent.Height, attachments)
		if err != nil {
			for _, created := range framebuffers {
				created.Destroy()
			}
			return nil, err
		}
		framebuffers = append(framebuffers, fb)
	}
	return framebuffers, nil
}
