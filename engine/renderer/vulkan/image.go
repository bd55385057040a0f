package vulkan

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// TexelSize is the byte size of the RGBA8 texels accepted by NewTexture.
const TexelSize = 4

type ImageConfig struct {
	Width     uint32
	Height    uint32
	Format    driver.Format
	MipLevels uint32
	Usage     driver.ImageUsage
	Aspect    driver.ImageAspect
	// CreateView also creates a view covering every mip level.
	CreateView bool
}

// Image is a device-local 2D image with an optional view.
type Image struct {
	ID        uuid.UUID
	Handle    driver.Image
	View      driver.ImageView
	Format    driver.Format
	Width     uint32
	Height    uint32
	MipLevels uint32
	Aspect    driver.ImageAspect

	context    *Context
	allocation *Allocation
}

func ImageCreate(context *Context, config ImageConfig) (*Image, error) {
	if config.MipLevels == 0 {
		config.MipLevels = 1
	}
	if config.Aspect == 0 {
		config.Aspect = driver.ImageAspectColor
	}
	device := context.Device.LogicalDevice
	handle, err := device.CreateImage(driver.ImageCreateInfo{
		Format:    config.Format,
		Extent:    driver.Extent3D{Width: config.Width, Height: config.Height, Depth: 1},
		MipLevels: config.MipLevels,
		Usage:     config.Usage,
	})
	if err != nil {
		return nil, deviceError(err, "create image")
	}

	alloc, err := context.Allocator.Allocate(device.ImageMemoryRequirements(handle), MemoryLocationDeviceLocal)
	if err != nil {
		device.DestroyImage(handle)
		core.LogError("failed to allocate memory for %dx%d image: %v", config.Width, config.Height, err)
		return nil, err
	}
	if err := device.BindImageMemory(handle, alloc.Memory, alloc.Offset); err != nil {
		context.Allocator.Free(alloc)
		device.DestroyImage(handle)
		return nil, deviceError(err, "bind image memory")
	}

	img := &Image{
		ID:         uuid.New(),
		Handle:     handle,
		Format:     config.Format,
		Width:      config.Width,
		Height:     config.Height,
		MipLevels:  config.MipLevels,
		Aspect:     config.Aspect,
		context:    context,
		allocation: alloc,
	}
	if config.CreateView {
		if err := img.createView(); err != nil {
			img.Destroy()
			return nil, err
		}
	}
	return img, nil
}

func (img *Image) createView() error {
	view, err := img.context.Device.LogicalDevice.CreateImageView(driver.ImageViewCreateInfo{
		Image:  img.Handle,
		Format: img.Format,
		Range: driver.ImageSubresourceRange{
			Aspect:     img.Aspect,
			LevelCount: img.MipLevels,
			LayerCount: 1,
		},
	})
	if err != nil {
		return deviceError(err, "create image view")
	}
	img.View = view
	return nil
}

// NewTexture uploads RGBA8 pixels into a sampled image through a staging
// buffer. With mipmaps the full chain is generated on the GPU. The image
// ends in SHADER_READ_ONLY.
func NewTexture(context *Context, width, height uint32, format driver.Format, pixels []byte, mipmaps bool) (*Image, error) {
	if want := int(width) * int(height) * TexelSize; len(pixels) != want {
		return nil, errors.Errorf("texture %dx%d needs %d bytes of pixels, got %d", width, height, want, len(pixels))
	}
	levels := uint32(1)
	usage := driver.ImageUsageTransferDst | driver.ImageUsageSampled
	if mipmaps {
		levels = MipLevels(width, height)
		usage |= driver.ImageUsageTransferSrc
	}
	img, err := ImageCreate(context, ImageConfig{
		Width:      width,
		Height:     height,
		Format:     format,
		MipLevels:  levels,
		Usage:      usage,
		Aspect:     driver.ImageAspectColor,
		CreateView: true,
	})
	if err != nil {
		return nil, err
	}

	staging, err := NewBuffer(context, uint64(len(pixels)), driver.BufferUsageTransferSrc, MemoryLocationHostVisibleCoherent)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	defer staging.Destroy()
	if err := staging.LoadData(0, pixels); err != nil {
		img.Destroy()
		return nil, err
	}

	err = context.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		if err := cb.TransitionLayout(img, driver.ImageLayoutUndefined, driver.ImageLayoutTransferDst, 0, levels); err != nil {
			return err
		}
		if err := cb.CopyBufferToImage(staging, img, 0); err != nil {
			return err
		}
		if mipmaps {
			return cb.GenerateMipmaps(context, img)
		}
		return cb.TransitionLayout(img, driver.ImageLayoutTransferDst, driver.ImageLayoutShaderReadOnly, 0, 1)
	})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	core.LogDebug("texture %s uploaded: %dx%d, %d mip levels", img.ID, width, height, levels)
	return img, nil
}

// ReadLevel copies one mip level of a SHADER_READ_ONLY image back to host
// memory. The image needs TRANSFER_SRC usage.
func (img *Image) ReadLevel(level uint32) ([]byte, error) {
	if level >= img.MipLevels {
		return nil, errors.Errorf("image %s has no mip level %d", img.ID, level)
	}
	w, h := MipExtent(img.Width, img.Height, level)
	staging, err := NewBuffer(img.context, uint64(w)*uint64(h)*TexelSize, driver.BufferUsageTransferDst, MemoryLocationHostVisibleCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	err = img.context.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		if err := cb.TransitionLayout(img, driver.ImageLayoutShaderReadOnly, driver.ImageLayoutTransferSrc, level, 1); err != nil {
			return err
		}
		if err := cb.CopyImageToBuffer(img, level, staging); err != nil {
			return err
		}
		return cb.TransitionLayout(img, driver.ImageLayoutTransferSrc, driver.ImageLayoutShaderReadOnly, level, 1)
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), staging.Mapped()...), nil
}

// Destroy releases the view, the image and its memory.
func (img *Image) Destroy() {
	device := img.context.Device.LogicalDevice
	if img.View != 0 {
		device.DestroyImageView(img.View)
		img.View = 0
	}
	if img.Handle != 0 {
		device.DestroyImage(img.Handle)
		img.Handle = 0
	}
	if img.allocation != nil {
		img.context.Allocator.Free(img.allocation)
		img.allocation = nil
	}
}
