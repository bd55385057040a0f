package vulkan

import (
	"github.com/spaghettifunk/vkscaffold/engine/math"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

type Sampler struct {
	Handle driver.Sampler

	device driver.Device
}

// NewSampler creates a linear sampler covering mipLevels levels. Anisotropy
// is clamped to the device limit.
func NewSampler(context *Context, mipLevels uint32, anisotropy float32) (*Sampler, error) {
	limit := context.Device.Info.Limits.MaxSamplerAnisotropy
	info := driver.SamplerCreateInfo{
		MagFilter: driver.FilterLinear,
		MinFilter: driver.FilterLinear,
		MaxLod:    float32(math.Max(mipLevels, 1) - 1),
	}
	if anisotropy > 1 && context.Device.Info.Features.SamplerAnisotropy {
		info.AnisotropyEnable = true
		info.MaxAnisotropy = math.Clamp(anisotropy, 1, limit)
	}
	handle, err := context.Device.LogicalDevice.CreateSampler(info)
	if err != nil {
		return nil, deviceError(err, "create sampler")
	}
	return &Sampler{Handle: handle, device: context.Device.LogicalDevice}, nil
}

func (s *Sampler) Destroy() {
	if s.Handle != 0 {
		s.device.DestroySampler(s.Handle)
		s.Handle = 0
	}
}
