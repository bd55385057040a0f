// Package vkdriver implements the driver interfaces on top of goki/vulkan.
package vkdriver

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Config controls instance creation.
type Config struct {
	ApplicationName string
	EngineName      string
	// Extensions are the instance extensions the windowing system needs.
	Extensions []string
	// Validation enables the Khronos validation layer and the debug report
	// callback.
	Validation bool
}

// Instance is a Vulkan instance.
type Instance struct {
	handle   vk.Instance
	debug    vk.DebugReportCallback
	physical []vk.PhysicalDevice

	next     atomic.Uint64
	surfaces *table[vk.Surface]

	mu   sync.Mutex
	sink driver.MessageSink
}

// New loads the Vulkan loader through GLFW and creates an instance.
func New(cfg Config) (*Instance, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.Wrap(driver.ErrInitializationFailed, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize vk")
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(cfg.ApplicationName),
		PEngineName:        safeString(cfg.EngineName),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, cfg.Extensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	var layers []string
	if cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		ok, err := layerAvailable(validationLayer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(driver.ErrExtensionNotPresent, "required validation layer is missing: %s", validationLayer)
		}
		layers = append(layers, validationLayer)
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	inst := &Instance{}
	inst.surfaces = newTable[vk.Surface](&inst.next)
	if err := check(vk.CreateInstance(&createInfo, nil, &inst.handle), "vkCreateInstance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst.handle); err != nil {
		vk.DestroyInstance(inst.handle, nil)
		return nil, errors.Wrap(err, "failed to init instance")
	}
	core.LogInfo("Vulkan Instance created.")

	if cfg.Validation {
		dbgInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: inst.debugCallback,
		}
		if err := check(vk.CreateDebugReportCallback(inst.handle, &dbgInfo, nil, &inst.debug), "vkCreateDebugReportCallback"); err != nil {
			inst.Destroy()
			return nil, err
		}
		core.LogDebug("Vulkan debugger created.")
	}

	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(inst.handle, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		inst.Destroy()
		return nil, err
	}
	inst.physical = make([]vk.PhysicalDevice, count)
	if count > 0 {
		if err := check(vk.EnumeratePhysicalDevices(inst.handle, &count, inst.physical), "vkEnumeratePhysicalDevices"); err != nil {
			inst.Destroy()
			return nil, err
		}
	}
	return inst, nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return false, err
	}
	layers := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, layers), "vkEnumerateInstanceLayerProperties"); err != nil {
		return false, err
	}
	for i := range layers {
		layers[i].Deref()
		if vk.ToString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (inst *Instance) debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	severity := driver.SeverityInfo
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		severity = driver.SeverityError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		severity = driver.SeverityWarning
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		severity = driver.SeverityPerformance
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		severity = driver.SeverityDebug
	}
	inst.mu.Lock()
	sink := inst.sink
	inst.mu.Unlock()
	if sink != nil {
		sink(severity, fmt.Sprintf("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage))
	}
	return vk.Bool32(vk.False)
}

func (inst *Instance) Name() string { return "vulkan" }

func (inst *Instance) Native() interface{} { return inst.handle }

func (inst *Instance) SetMessageSink(sink driver.MessageSink) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.sink = sink
}

func (inst *Instance) CreateSurface(src driver.SurfaceSource) (driver.Surface, error) {
	ptr, err := src.CreateWindowSurface(inst.handle, nil)
	if err != nil {
		return 0, errors.Wrap(driver.ErrSurfaceLost, err.Error())
	}
	return driver.Surface(inst.surfaces.put(vk.SurfaceFromPointer(ptr))), nil
}

func (inst *Instance) DestroySurface(surface driver.Surface) {
	if s, ok := inst.surfaces.take(uint64(surface)); ok {
		vk.DestroySurface(inst.handle, s, nil)
	}
}

func (inst *Instance) EnumeratePhysicalDevices() ([]driver.PhysicalDevice, error) {
	out := make([]driver.PhysicalDevice, len(inst.physical))
	for i := range inst.physical {
		out[i] = driver.PhysicalDevice(i + 1)
	}
	return out, nil
}

func (inst *Instance) pd(h driver.PhysicalDevice) (vk.PhysicalDevice, error) {
	i := int(h) - 1
	if i < 0 || i >= len(inst.physical) {
		return nil, fmt.Errorf("unknown physical device %d", h)
	}
	return inst.physical[i], nil
}

func (inst *Instance) PhysicalDeviceInfo(h driver.PhysicalDevice) (driver.PhysicalDeviceInfo, error) {
	pd, err := inst.pd(h)
	if err != nil {
		return driver.PhysicalDeviceInfo{}, err
	}
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	props.Limits.Deref()

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &features)
	features.Deref()

	info := driver.PhysicalDeviceInfo{
		Name:          vk.ToString(props.DeviceName[:]),
		Type:          driver.PhysicalDeviceType(props.DeviceType),
		APIVersion:    props.ApiVersion,
		DriverVersion: props.DriverVersion,
		Limits: driver.Limits{
			MaxSamplerAnisotropy:            props.Limits.MaxSamplerAnisotropy,
			MinUniformBufferOffsetAlignment: uint64(props.Limits.MinUniformBufferOffsetAlignment),
			NonCoherentAtomSize:             uint64(props.Limits.NonCoherentAtomSize),
			MaxImageDimension2D:             props.Limits.MaxImageDimension2D,
		},
		Features: driver.Features{SamplerAnisotropy: features.SamplerAnisotropy == vk.True},
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)
	for i := range families {
		families[i].Deref()
		info.QueueFamilies = append(info.QueueFamilies, driver.QueueFamilyProperties{
			Flags: driver.QueueFlags(families[i].QueueFlags),
			Count: families[i].QueueCount,
		})
	}

	var extCount uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(pd, "", &extCount, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return driver.PhysicalDeviceInfo{}, err
	}
	exts := make([]vk.ExtensionProperties, extCount)
	if extCount > 0 {
		if err := check(vk.EnumerateDeviceExtensionProperties(pd, "", &extCount, exts), "vkEnumerateDeviceExtensionProperties"); err != nil {
			return driver.PhysicalDeviceInfo{}, err
		}
	}
	for i := range exts {
		exts[i].Deref()
		info.Extensions = append(info.Extensions, vk.ToString(exts[i].ExtensionName[:]))
	}

	var mem vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &mem)
	mem.Deref()
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		mem.MemoryTypes[i].Deref()
		info.Memory.Types = append(info.Memory.Types, driver.MemoryType{
			Properties: driver.MemoryProperty(mem.MemoryTypes[i].PropertyFlags),
			HeapIndex:  mem.MemoryTypes[i].HeapIndex,
		})
	}
	for i := uint32(0); i < mem.MemoryHeapCount; i++ {
		mem.MemoryHeaps[i].Deref()
		info.Memory.Heaps = append(info.Memory.Heaps, driver.MemoryHeap{
			Size:  uint64(mem.MemoryHeaps[i].Size),
			Flags: driver.MemoryHeapFlags(mem.MemoryHeaps[i].Flags),
		})
	}
	return info, nil
}

func (inst *Instance) SurfaceSupport(h driver.PhysicalDevice, family uint32, surface driver.Surface) (bool, error) {
	pd, err := inst.pd(h)
	if err != nil {
		return false, err
	}
	var supported vk.Bool32
	res := vk.GetPhysicalDeviceSurfaceSupport(pd, family, inst.surfaces.get(uint64(surface)), &supported)
	if err := check(res, "vkGetPhysicalDeviceSurfaceSupportKHR"); err != nil {
		return false, err
	}
	return supported == vk.True, nil
}

func (inst *Instance) SurfaceCapabilities(h driver.PhysicalDevice, surface driver.Surface) (driver.SurfaceCapabilities, error) {
	pd, err := inst.pd(h)
	if err != nil {
		return driver.SurfaceCapabilities{}, err
	}
	var caps vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(pd, inst.surfaces.get(uint64(surface)), &caps)
	if err := check(res, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return driver.SurfaceCapabilities{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return driver.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    driver.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent:   driver.Extent2D{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent:   driver.Extent2D{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		CurrentTransform: uint32(caps.CurrentTransform),
	}, nil
}

func (inst *Instance) SurfaceFormats(h driver.PhysicalDevice, surface driver.Surface) ([]driver.SurfaceFormat, error) {
	pd, err := inst.pd(h)
	if err != nil {
		return nil, err
	}
	s := inst.surfaces.get(uint64(surface))
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(pd, s, &count, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(pd, s, &count, formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	out := make([]driver.SurfaceFormat, count)
	for i := range formats {
		formats[i].Deref()
		out[i] = driver.SurfaceFormat{
			Format:     driver.Format(formats[i].Format),
			ColorSpace: driver.ColorSpace(formats[i].ColorSpace),
		}
	}
	return out, nil
}

func (inst *Instance) SurfacePresentModes(h driver.PhysicalDevice, surface driver.Surface) ([]driver.PresentMode, error) {
	pd, err := inst.pd(h)
	if err != nil {
		return nil, err
	}
	s := inst.surfaces.get(uint64(surface))
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(pd, s, &count, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	modes := make([]vk.PresentMode, count)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(pd, s, &count, modes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	out := make([]driver.PresentMode, count)
	for i, m := range modes {
		out[i] = driver.PresentMode(m)
	}
	return out, nil
}

func (inst *Instance) FormatProperties(h driver.PhysicalDevice, format driver.Format) driver.FormatProperties {
	pd, err := inst.pd(h)
	if err != nil {
		return driver.FormatProperties{}
	}
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(pd, vk.Format(format), &props)
	props.Deref()
	return driver.FormatProperties{
		LinearTiling:  driver.FormatFeature(props.LinearTilingFeatures),
		OptimalTiling: driver.FormatFeature(props.OptimalTilingFeatures),
	}
}

func (inst *Instance) CreateDevice(h driver.PhysicalDevice, info driver.DeviceCreateInfo) (driver.Device, error) {
	pd, err := inst.pd(h)
	if err != nil {
		return nil, err
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(info.QueueFamilies))
	for i, family := range info.QueueFamilies {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}
	features := vk.PhysicalDeviceFeatures{}
	if info.SamplerAnisotropy {
		features.SamplerAnisotropy = vk.True
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: safeStrings(info.Extensions),
	}
	var dev vk.Device
	if err := check(vk.CreateDevice(pd, &createInfo, nil, &dev), "vkCreateDevice"); err != nil {
		return nil, err
	}
	return newDevice(inst, dev), nil
}

func (inst *Instance) Destroy() {
	for h, s := range inst.surfaces.m {
		vk.DestroySurface(inst.handle, s, nil)
		delete(inst.surfaces.m, h)
	}
	if inst.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(inst.handle, inst.debug, nil)
		inst.debug = vk.NullDebugReportCallback
	}
	if inst.handle != nil {
		vk.DestroyInstance(inst.handle, nil)
		inst.handle = nil
	}
}
