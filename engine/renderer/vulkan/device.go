package vulkan

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

const (
	swapchainExtensionName   = "VK_KHR_swapchain"
	portabilityExtensionName = "VK_KHR_portability_subset"
)

type VulkanDevice struct {
	PhysicalDevice     driver.PhysicalDevice
	LogicalDevice      driver.Device
	Info               driver.PhysicalDeviceInfo
	SwapchainSupport   SwapchainSupportInfo
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32

	GraphicsQueue driver.Queue
	PresentQueue  driver.Queue

	DepthFormat driver.Format
}

type SwapchainSupportInfo struct {
	Capabilities driver.SurfaceCapabilities
	Formats      []driver.SurfaceFormat
	PresentModes []driver.PresentMode
}

type PhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type QueueFamilyInfo struct {
	GraphicsFamilyIndex uint32
	PresentFamilyIndex  uint32
	HasGraphics         bool
	HasPresent          bool
}

// FindQueueFamilies scans the families once, in order. The first family
// with the graphics bit becomes the graphics family and the first family
// able to present to surface becomes the present family; the scan stops as
// soon as both are known. Both roles may land on the same index.
func FindQueueFamilies(instance driver.Instance, pd driver.PhysicalDevice, surface driver.Surface, families []driver.QueueFamilyProperties) (QueueFamilyInfo, error) {
	var info QueueFamilyInfo
	for i, family := range families {
		if !info.HasGraphics && family.Flags&driver.QueueGraphics != 0 {
			info.GraphicsFamilyIndex = uint32(i)
			info.HasGraphics = true
		}
		if !info.HasPresent {
			supported, err := instance.SurfaceSupport(pd, uint32(i), surface)
			if err != nil {
				return info, err
			}
			if supported {
				info.PresentFamilyIndex = uint32(i)
				info.HasPresent = true
			}
		}
		if info.HasGraphics && info.HasPresent {
			break
		}
	}
	return info, nil
}

// QuerySwapchainSupport reads the surface capabilities, formats and present
// modes of pd.
func QuerySwapchainSupport(instance driver.Instance, pd driver.PhysicalDevice, surface driver.Surface) (SwapchainSupportInfo, error) {
	var (
		support SwapchainSupportInfo
		err     error
	)
	if support.Capabilities, err = instance.SurfaceCapabilities(pd, surface); err != nil {
		return support, errors.Wrap(err, "surface capabilities")
	}
	if support.Formats, err = instance.SurfaceFormats(pd, surface); err != nil {
		return support, errors.Wrap(err, "surface formats")
	}
	if support.PresentModes, err = instance.SurfacePresentModes(pd, surface); err != nil {
		return support, errors.Wrap(err, "surface present modes")
	}
	return support, nil
}

// DetectDepthFormat returns the first candidate usable as a depth attachment.
func DetectDepthFormat(instance driver.Instance, pd driver.PhysicalDevice) (driver.Format, bool) {
	candidates := []driver.Format{
		driver.FormatD32Sfloat,
		driver.FormatD32SfloatS8Uint,
		driver.FormatD24UnormS8Uint,
	}
	flags := driver.FormatFeatureDepthStencilAttachment
	for _, candidate := range candidates {
		props := instance.FormatProperties(pd, candidate)
		if props.LinearTiling&flags == flags || props.OptimalTiling&flags == flags {
			return candidate, true
		}
	}
	return driver.FormatUndefined, false
}

func hasExtension(available []string, name string) bool {
	for _, ext := range available {
		if ext == name {
			return true
		}
	}
	return false
}

// PhysicalDeviceMeetsRequirements checks pd against requirements and returns
// its queue families and swapchain support when it qualifies.
func PhysicalDeviceMeetsRequirements(instance driver.Instance, pd driver.PhysicalDevice, surface driver.Surface, info *driver.PhysicalDeviceInfo, requirements *PhysicalDeviceRequirements) (QueueFamilyInfo, SwapchainSupportInfo, bool, error) {
	var support SwapchainSupportInfo

	if requirements.DiscreteGPU && info.Type != driver.PhysicalDeviceTypeDiscrete {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return QueueFamilyInfo{}, support, false, nil
	}

	queues, err := FindQueueFamilies(instance, pd, surface, info.QueueFamilies)
	if err != nil {
		return queues, support, false, err
	}
	core.LogInfo("Graphics | Present | Name")
	core.LogInfo("%8t | %7t | %s", queues.HasGraphics, queues.HasPresent, info.Name)

	if (requirements.Graphics && !queues.HasGraphics) || (requirements.Present && !queues.HasPresent) {
		core.LogInfo("Device does not meet queue requirements, skipping.")
		return queues, support, false, nil
	}
	core.LogDebug("Graphics Family Index: %d", queues.GraphicsFamilyIndex)
	core.LogDebug("Present Family Index:  %d", queues.PresentFamilyIndex)

	for _, name := range requirements.DeviceExtensionNames {
		if !hasExtension(info.Extensions, name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return queues, support, false, nil
		}
	}

	support, err = QuerySwapchainSupport(instance, pd, surface)
	if err != nil {
		return queues, support, false, err
	}
	if len(support.Formats) < 1 || len(support.PresentModes) < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return queues, support, false, nil
	}

	if requirements.SamplerAnisotropy && !info.Features.SamplerAnisotropy {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return queues, support, false, nil
	}
	return queues, support, true, nil
}

func versionString(v uint32) (uint32, uint32, uint32) {
	return v >> 22, (v >> 12) & 0x3ff, v & 0xfff
}

func logDeviceInfo(info *driver.PhysicalDeviceInfo) {
	core.LogInfo("Selected device: '%s'.", info.Name)
	core.LogInfo("GPU type is %s.", info.Type)
	major, minor, patch := versionString(info.DriverVersion)
	core.LogInfo("GPU Driver version: %d.%d.%d", major, minor, patch)
	major, minor, patch = versionString(info.APIVersion)
	core.LogInfo("Vulkan API version: %d.%d.%d", major, minor, patch)
	for _, heap := range info.Memory.Heaps {
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.Flags&driver.MemoryHeapDeviceLocal != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

// SelectPhysicalDevice returns the first physical device meeting the
// renderer's requirements.
func SelectPhysicalDevice(c *Context) (*VulkanDevice, error) {
	devices, err := c.Instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}
	if len(devices) == 0 {
		return nil, errors.Wrap(core.ErrNoSuitableDevice, "no devices which support Vulkan were found")
	}

	requirements := PhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		SamplerAnisotropy:    true,
		DiscreteGPU:          c.Config.RequireDiscreteGPU,
		DeviceExtensionNames: []string{swapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	for _, pd := range devices {
		info, err := c.Instance.PhysicalDeviceInfo(pd)
		if err != nil {
			return nil, errors.Wrap(err, "physical device info")
		}
		queues, support, ok, err := PhysicalDeviceMeetsRequirements(c.Instance, pd, c.Surface, &info, &requirements)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		depth, found := DetectDepthFormat(c.Instance, pd)
		if !found {
			core.LogInfo("No supported depth format on '%s', skipping.", info.Name)
			continue
		}
		logDeviceInfo(&info)
		return &VulkanDevice{
			PhysicalDevice:     pd,
			Info:               info,
			SwapchainSupport:   support,
			GraphicsQueueIndex: queues.GraphicsFamilyIndex,
			PresentQueueIndex:  queues.PresentFamilyIndex,
			DepthFormat:        depth,
		}, nil
	}
	return nil, errors.Wrap(core.ErrNoSuitableDevice, "no physical devices were found which meet the requirements")
}

// DeviceCreate selects a physical device and creates the logical device with
// one queue per distinct family.
func DeviceCreate(c *Context) (*VulkanDevice, error) {
	device, err := SelectPhysicalDevice(c)
	if err != nil {
		return nil, err
	}
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	families := []uint32{device.GraphicsQueueIndex}
	if device.PresentQueueIndex != device.GraphicsQueueIndex {
		families = append(families, device.PresentQueueIndex)
	}

	extensions := []string{swapchainExtensionName}
	if hasExtension(device.Info.Extensions, portabilityExtensionName) {
		core.LogInfo("Adding required extension '%s'.", portabilityExtensionName)
		extensions = append(extensions, portabilityExtensionName)
	}

	logical, err := c.Instance.CreateDevice(device.PhysicalDevice, driver.DeviceCreateInfo{
		QueueFamilies:     families,
		Extensions:        extensions,
		SamplerAnisotropy: true,
	})
	if err != nil {
		core.LogError("logical device creation failed: %+v", err)
		// both the selection failure and the driver cause stay matchable
		return nil, errors.WithStack(fmt.Errorf("%w: create device: %w", core.ErrNoSuitableDevice, err))
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	device.GraphicsQueue = logical.Queue(device.GraphicsQueueIndex, 0)
	device.PresentQueue = logical.Queue(device.PresentQueueIndex, 0)
	core.LogInfo("Queues obtained.")
	return device, nil
}

// RefreshSwapchainSupport re-queries the surface, which changes on resize.
func (d *VulkanDevice) RefreshSwapchainSupport(c *Context) error {
	support, err := QuerySwapchainSupport(c.Instance, d.PhysicalDevice, c.Surface)
	if err != nil {
		return err
	}
	d.SwapchainSupport = support
	return nil
}

func DeviceDestroy(d *VulkanDevice) {
	core.LogInfo("Destroying logical device...")
	if d.LogicalDevice != nil {
		d.LogicalDevice.Destroy()
		d.LogicalDevice = nil
	}
	core.LogInfo("Releasing physical device resources...")
	d.PhysicalDevice = 0
	d.SwapchainSupport = SwapchainSupportInfo{}
	d.GraphicsQueue = 0
	d.PresentQueue = 0
}
