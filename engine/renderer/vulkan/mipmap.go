package vulkan

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/math"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

var ErrLinearBlitUnsupported = errors.New("image format does not support linear blitting")

// MipLevels is the length of a full mip chain for a width x height image.
func MipLevels(width, height uint32) uint32 {
	return math.Log2Floor(math.Max(width, height)) + 1
}

// MipExtent is the size of mip level of a width x height image.
func MipExtent(width, height, level uint32) (uint32, uint32) {
	return math.Max(width>>level, 1), math.Max(height>>level, 1)
}

// GenerateMipmaps fills levels 1..MipLevels-1 of img by successive linear
// blits. Every level must be in TRANSFER_DST on entry; all of them end in
// SHADER_READ_ONLY.
func (cb *CommandBuffer) GenerateMipmaps(context *Context, img *Image) error {
	props := context.Instance.FormatProperties(context.Device.PhysicalDevice, img.Format)
	if props.OptimalTiling&driver.FormatFeatureSampledImageFilterLinear == 0 {
		core.LogError("format %d of image %s cannot be blitted linearly", img.Format, img.ID)
		return errors.WithStack(ErrLinearBlitUnsupported)
	}

	width, height := int32(img.Width), int32(img.Height)
	for i := uint32(1); i < img.MipLevels; i++ {
		if err := cb.TransitionLayout(img, driver.ImageLayoutTransferDst, driver.ImageLayoutTransferSrc, i-1, 1); err != nil {
			return err
		}

		next := driver.Offset3D{X: math.Max(width/2, 1), Y: math.Max(height/2, 1), Z: 1}
		cb.device.CmdBlitImage(cb.Handle,
			img.Handle, driver.ImageLayoutTransferSrc,
			img.Handle, driver.ImageLayoutTransferDst,
			[]driver.ImageBlit{{
				SrcSubresource: driver.ImageSubresourceLayers{Aspect: img.Aspect, MipLevel: i - 1, LayerCount: 1},
				SrcOffsets:     [2]driver.Offset3D{{}, {X: width, Y: height, Z: 1}},
				DstSubresource: driver.ImageSubresourceLayers{Aspect: img.Aspect, MipLevel: i, LayerCount: 1},
				DstOffsets:     [2]driver.Offset3D{{}, next},
			}},
			driver.FilterLinear)

		if err := cb.TransitionLayout(img, driver.ImageLayoutTransferSrc, driver.ImageLayoutShaderReadOnly, i-1, 1); err != nil {
			return err
		}
		width, height = next.X, next.Y
	}

	return cb.TransitionLayout(img, driver.ImageLayoutTransferDst, driver.ImageLayoutShaderReadOnly, img.MipLevels-1, 1)
}
