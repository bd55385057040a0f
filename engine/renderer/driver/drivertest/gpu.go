// Package drivertest provides a simulated GPU implementing driver.Instance and
// driver.Device. Submitted work is queued on a timeline and only completes
// when the host waits for it (fence wait, queue or device idle) or calls
// Advance, the way real work completes asynchronously.
//
// The simulator validates the synchronization rules the renderer core relies
// on and records every breach as a violation instead of failing, so tests can
// assert on Violations() after driving the code under test.
package drivertest

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// BufferAlignment is the alignment reported for every buffer and image.
const BufferAlignment uint64 = 256

// DeviceSpec describes one simulated physical device.
type DeviceSpec struct {
	Info            driver.PhysicalDeviceInfo
	PresentFamilies []uint32
	Capabilities    driver.SurfaceCapabilities
	Formats         []driver.SurfaceFormat
	PresentModes    []driver.PresentMode
	FormatSupport   map[driver.Format]driver.FormatProperties
	// CreateDeviceError is returned by CreateDevice when set, for drivers
	// that advertise more than they can create.
	CreateDeviceError error
}

// DefaultDeviceSpec returns a discrete GPU that satisfies every requirement
// of the renderer: one graphics+present family, a transfer-only family,
// device-local and host-visible memory, FIFO and MAILBOX present modes.
func DefaultDeviceSpec() DeviceSpec {
	allFeatures := driver.FormatFeatureSampledImage | driver.FormatFeatureColorAttachment |
		driver.FormatFeatureBlitSrc | driver.FormatFeatureBlitDst | driver.FormatFeatureSampledImageFilterLinear
	depthFeatures := driver.FormatFeatureDepthStencilAttachment
	return DeviceSpec{
		Info: driver.PhysicalDeviceInfo{
			Name:          "Simulated GPU",
			Type:          driver.PhysicalDeviceTypeDiscrete,
			APIVersion:    1<<22 | 3<<12,
			DriverVersion: 1 << 22,
			Limits: driver.Limits{
				MaxSamplerAnisotropy:            16,
				MinUniformBufferOffsetAlignment: BufferAlignment,
				NonCoherentAtomSize:             64,
				MaxImageDimension2D:             16384,
			},
			Features: driver.Features{SamplerAnisotropy: true},
			QueueFamilies: []driver.QueueFamilyProperties{
				{Flags: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer, Count: 16},
				{Flags: driver.QueueTransfer, Count: 2},
			},
			Extensions: []string{"VK_KHR_swapchain"},
			Memory: driver.MemoryProperties{
				Types: []driver.MemoryType{
					{Properties: driver.MemoryPropertyDeviceLocal, HeapIndex: 0},
					{Properties: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, HeapIndex: 1},
				},
				Heaps: []driver.MemoryHeap{
					{Size: 8 << 30, Flags: driver.MemoryHeapDeviceLocal},
					{Size: 16 << 30},
				},
			},
		},
		PresentFamilies: []uint32{0},
		Capabilities: driver.SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  8,
			CurrentExtent:  driver.Extent2D{Width: 800, Height: 600},
			MinImageExtent: driver.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: driver.Extent2D{Width: 4096, Height: 4096},
		},
		Formats: []driver.SurfaceFormat{
			{Format: driver.FormatR8G8B8A8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear},
			{Format: driver.FormatB8G8R8A8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []driver.PresentMode{driver.PresentModeFifo, driver.PresentModeMailbox},
		FormatSupport: map[driver.Format]driver.FormatProperties{
			driver.FormatR8G8B8A8Unorm:   {OptimalTiling: allFeatures},
			driver.FormatR8G8B8A8Srgb:    {OptimalTiling: allFeatures},
			driver.FormatB8G8R8A8Unorm:   {OptimalTiling: allFeatures},
			driver.FormatB8G8R8A8Srgb:    {OptimalTiling: allFeatures},
			driver.FormatD32Sfloat:       {OptimalTiling: depthFeatures},
			driver.FormatD24UnormS8Uint:  {OptimalTiling: depthFeatures},
			driver.FormatD32SfloatS8Uint: {OptimalTiling: depthFeatures},
		},
	}
}

// GPU is the simulated driver instance.
type GPU struct {
	mu       sync.Mutex
	next     uint64
	specs    []DeviceSpec
	surfaces map[driver.Surface]bool
	sink     driver.MessageSink
	device   *Device
}

// New returns a simulated instance exposing the given physical devices, or
// a single DefaultDeviceSpec when none are given.
func New(specs ...DeviceSpec) *GPU {
	if len(specs) == 0 {
		specs = []DeviceSpec{DefaultDeviceSpec()}
	}
	return &GPU{
		specs:    specs,
		surfaces: make(map[driver.Surface]bool),
	}
}

func (g *GPU) Name() string { return "drivertest" }

func (g *GPU) Native() interface{} { return g }

func (g *GPU) SetMessageSink(sink driver.MessageSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

// Message forwards a diagnostic message to the installed sink.
func (g *GPU) Message(severity driver.Severity, msg string) {
	g.mu.Lock()
	sink := g.sink
	g.mu.Unlock()
	if sink != nil {
		sink(severity, msg)
	}
}

// Spec gives tests access to the spec of physical device i so they can
// change surface properties (for instance the current extent on resize).
func (g *GPU) Spec(i int) *DeviceSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &g.specs[i]
}

// LogicalDevice returns the last device created through CreateDevice.
func (g *GPU) LogicalDevice() *Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.device
}

func (g *GPU) handle() uint64 {
	g.next++
	return g.next
}

func (g *GPU) CreateSurface(src driver.SurfaceSource) (driver.Surface, error) {
	if src != nil {
		if _, err := src.CreateWindowSurface(g, nil); err != nil {
			return 0, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s := driver.Surface(g.handle())
	g.surfaces[s] = true
	return s, nil
}

func (g *GPU) DestroySurface(surface driver.Surface) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.surfaces, surface)
}

func (g *GPU) EnumeratePhysicalDevices() ([]driver.PhysicalDevice, error) {
	out := make([]driver.PhysicalDevice, len(g.specs))
	for i := range g.specs {
		out[i] = driver.PhysicalDevice(i + 1)
	}
	return out, nil
}

func (g *GPU) spec(pd driver.PhysicalDevice) (*DeviceSpec, error) {
	i := int(pd) - 1
	if i < 0 || i >= len(g.specs) {
		return nil, fmt.Errorf("unknown physical device %d", pd)
	}
	return &g.specs[i], nil
}

func (g *GPU) PhysicalDeviceInfo(pd driver.PhysicalDevice) (driver.PhysicalDeviceInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return driver.PhysicalDeviceInfo{}, err
	}
	return s.Info, nil
}

func (g *GPU) SurfaceSupport(pd driver.PhysicalDevice, family uint32, surface driver.Surface) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return false, err
	}
	for _, f := range s.PresentFamilies {
		if f == family {
			return true, nil
		}
	}
	return false, nil
}

func (g *GPU) SurfaceCapabilities(pd driver.PhysicalDevice, surface driver.Surface) (driver.SurfaceCapabilities, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return driver.SurfaceCapabilities{}, err
	}
	return s.Capabilities, nil
}

func (g *GPU) SurfaceFormats(pd driver.PhysicalDevice, surface driver.Surface) ([]driver.SurfaceFormat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return nil, err
	}
	return append([]driver.SurfaceFormat(nil), s.Formats...), nil
}

func (g *GPU) SurfacePresentModes(pd driver.PhysicalDevice, surface driver.Surface) ([]driver.PresentMode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return nil, err
	}
	return append([]driver.PresentMode(nil), s.PresentModes...), nil
}

func (g *GPU) FormatProperties(pd driver.PhysicalDevice, format driver.Format) driver.FormatProperties {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return driver.FormatProperties{}
	}
	return s.FormatSupport[format]
}

func (g *GPU) CreateDevice(pd driver.PhysicalDevice, info driver.DeviceCreateInfo) (driver.Device, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.spec(pd)
	if err != nil {
		return nil, err
	}
	if s.CreateDeviceError != nil {
		return nil, s.CreateDeviceError
	}
	for _, ext := range info.Extensions {
		found := false
		for _, have := range s.Info.Extensions {
			if have == ext {
				found = true
				break
			}
		}
		if !found {
			return nil, driver.ErrExtensionNotPresent
		}
	}
	if info.SamplerAnisotropy && !s.Info.Features.SamplerAnisotropy {
		return nil, driver.ErrFeatureNotPresent
	}
	g.device = newDevice(g, s)
	return g.device, nil
}

func (g *GPU) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.surfaces = make(map[driver.Surface]bool)
}

// Surfaces returns the number of live surfaces.
func (g *GPU) Surfaces() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.surfaces)
}
