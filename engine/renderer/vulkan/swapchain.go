package vulkan

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/math"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// Swapchain is the set of presentable images of the window surface. It is
// never modified after creation: Recreate builds a new instance.
type Swapchain struct {
	Handle      driver.Swapchain
	ImageFormat driver.SurfaceFormat
	PresentMode driver.PresentMode
	Extent      driver.Extent2D
	ImageCount  uint32
	Images      []driver.Image
	Views       []driver.ImageView

	DepthAttachment *Image

	context *Context
}

// ChooseSurfaceFormat prefers B8G8R8A8_UNORM with the sRGB non-linear color
// space and falls back to the first reported format.
func ChooseSurfaceFormat(formats []driver.SurfaceFormat) driver.SurfaceFormat {
	for _, format := range formats {
		// Preferred formats
		if format.Format == driver.FormatB8G8R8A8Unorm && format.ColorSpace == driver.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

// ChoosePresentMode prefers MAILBOX unless vsync is requested. FIFO is
// always available.
func ChoosePresentMode(modes []driver.PresentMode, vsync bool) driver.PresentMode {
	if vsync {
		return driver.PresentModeFifo
	}
	for _, mode := range modes {
		if mode == driver.PresentModeMailbox {
			return mode
		}
	}
	return driver.PresentModeFifo
}

// ChooseExtent uses the surface's current extent when it is defined, else
// the framebuffer size clamped to what the surface allows.
func ChooseExtent(caps driver.SurfaceCapabilities, width, height uint32) driver.Extent2D {
	if caps.CurrentExtent.Width != driver.UndefinedExtent {
		return caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	return driver.Extent2D{
		Width:  math.Clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: math.Clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// ChooseImageCount clamps requested into the surface limits. Zero requests
// one image more than the minimum. A zero maximum means unbounded.
func ChooseImageCount(caps driver.SurfaceCapabilities, requested uint32) uint32 {
	count := requested
	if count == 0 {
		count = caps.MinImageCount + 1
	}
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func SwapchainCreate(context *Context, width, height uint32) (*Swapchain, error) {
	return createSwapchain(context, width, height, 0)
}

// Recreate waits for the device to go idle, builds a new swapchain for the
// given framebuffer size and destroys this one, also when the rebuild fails.
// Dependents sized by the image count must be rebuilt by the caller.
func (sc *Swapchain) Recreate(width, height uint32) (*Swapchain, error) {
	context := sc.context
	if err := context.WaitIdle(); err != nil {
		sc.Destroy()
		return nil, err
	}
	if err := context.Device.RefreshSwapchainSupport(context); err != nil {
		sc.Destroy()
		return nil, err
	}
	next, err := createSwapchain(context, width, height, sc.Handle)
	sc.Destroy()
	if err != nil {
		return nil, err
	}
	return next, nil
}

func createSwapchain(context *Context, width, height uint32, old driver.Swapchain) (*Swapchain, error) {
	device := context.Device
	support := device.SwapchainSupport
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return nil, errors.Wrap(core.ErrNoSuitableDevice, "surface reports no formats or present modes")
	}

	swapchain := &Swapchain{
		ImageFormat: ChooseSurfaceFormat(support.Formats),
		PresentMode: ChoosePresentMode(support.PresentModes, context.Config.VSync),
		Extent:      ChooseExtent(support.Capabilities, width, height),
		context:     context,
	}
	if swapchain.Extent.Width == 0 || swapchain.Extent.Height == 0 {
		return nil, errors.Errorf("cannot create a %dx%d swapchain", swapchain.Extent.Width, swapchain.Extent.Height)
	}
	imageCount := ChooseImageCount(support.Capabilities, context.Config.ImageCount)

	// Setup the queue family indices
	families := []uint32{device.GraphicsQueueIndex}
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		families = append(families, device.PresentQueueIndex)
	}

	handle, err := device.LogicalDevice.CreateSwapchain(driver.SwapchainCreateInfo{
		Surface:       context.Surface,
		MinImageCount: imageCount,
		Format:        swapchain.ImageFormat,
		Extent:        swapchain.Extent,
		Usage:         driver.ImageUsageColorAttachment,
		QueueFamilies: families,
		Transform:     support.Capabilities.CurrentTransform,
		PresentMode:   swapchain.PresentMode,
		OldSwapchain:  old,
	})
	if err != nil {
		core.LogError("failed to create swapchain: %v", err)
		return nil, deviceError(err, "create swapchain")
	}
	swapchain.Handle = handle

	if err := swapchain.createImages(); err != nil {
		swapchain.Destroy()
		return nil, err
	}

	core.LogInfo("Swapchain created: %dx%d, %d images, %s.", swapchain.Extent.Width, swapchain.Extent.Height, swapchain.ImageCount, swapchain.PresentMode)
	return swapchain, nil
}

func (sc *Swapchain) createImages() error {
	device := sc.context.Device
	images, err := device.LogicalDevice.SwapchainImages(sc.Handle)
	if err != nil {
		return deviceError(err, "get swapchain images")
	}
	sc.Images = images
	sc.ImageCount = uint32(len(images))

	// Views
	sc.Views = make([]driver.ImageView, 0, len(images))
	for _, img := range images {
		view, err := device.LogicalDevice.CreateImageView(driver.ImageViewCreateInfo{
			Image:  img,
			Format: sc.ImageFormat.Format,
			Range:  driver.ImageSubresourceRange{Aspect: driver.ImageAspectColor, LevelCount: 1, LayerCount: 1},
		})
		if err != nil {
			return deviceError(err, "create swapchain image view")
		}
		sc.Views = append(sc.Views, view)
	}

	// Depth resources
	aspect := driver.ImageAspectDepth
	if device.DepthFormat.HasStencil() {
		aspect |= driver.ImageAspectStencil
	}
	depth, err := ImageCreate(sc.context, ImageConfig{
		Width:      sc.Extent.Width,
		Height:     sc.Extent.Height,
		Format:     device.DepthFormat,
		Usage:      driver.ImageUsageDepthStencilAttachment,
		Aspect:     aspect,
		CreateView: true,
	})
	if err != nil {
		return err
	}
	sc.DepthAttachment = depth
	return sc.context.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		return cb.TransitionLayout(depth, driver.ImageLayoutUndefined, driver.ImageLayoutDepthStencilAttachment, 0, 1)
	})
}

// AcquireNextImageIndex asks for the next presentable image, signalling
// imageAvailable once it is writable. An out-of-date swapchain yields
// ErrSwapchainOutOfDate; expiry of timeout yields ErrDeviceLost.
func (sc *Swapchain) AcquireNextImageIndex(timeout time.Duration, imageAvailable driver.Semaphore) (uint32, bool, error) {
	index, suboptimal, err := sc.context.Device.LogicalDevice.AcquireNextImage(sc.Handle, timeout, imageAvailable, 0)
	switch {
	case err == nil:
		return index, suboptimal, nil
	case errors.Is(err, driver.ErrOutOfDate):
		return 0, false, errors.Wrap(core.ErrSwapchainOutOfDate, "acquire")
	}
	core.LogError("failed to acquire swapchain image: %v", err)
	return 0, false, deviceError(err, "acquire next image")
}

// Present queues imageIndex for presentation once renderFinished signals.
// Out-of-date and suboptimal results yield ErrSwapchainOutOfDate.
func (sc *Swapchain) Present(renderFinished driver.Semaphore, imageIndex uint32) error {
	device := sc.context.Device
	var suboptimal bool
	err := sc.context.Locks.SafeQueueCall(device.PresentQueueIndex, func() error {
		var err error
		suboptimal, err = device.LogicalDevice.QueuePresent(device.PresentQueue, driver.PresentInfo{
			WaitSemaphores: []driver.Semaphore{renderFinished},
			Swapchain:      sc.Handle,
			ImageIndex:     imageIndex,
		})
		return err
	})
	switch {
	case errors.Is(err, driver.ErrOutOfDate):
		return errors.Wrap(core.ErrSwapchainOutOfDate, "present")
	case err != nil:
		core.LogError("failed to present swapchain image: %v", err)
		return deviceError(err, "present")
	case suboptimal:
		return errors.Wrap(core.ErrSwapchainOutOfDate, "present: suboptimal")
	}
	return nil
}

// Destroy releases the views, the depth attachment and the swapchain. The
// images belong to the swapchain and go with it.
func (sc *Swapchain) Destroy() {
	device := sc.context.Device.LogicalDevice
	if sc.DepthAttachment != nil {
		sc.DepthAttachment.Destroy()
		sc.DepthAttachment = nil
	}
	for _, view := range sc.Views {
		device.DestroyImageView(view)
	}
	sc.Views = nil
	sc.Images = nil
	if sc.Handle != 0 {
		device.DestroySwapchain(sc.Handle)
		sc.Handle = 0
	}
}
