package vulkan

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// Window is the windowing collaborator: a surface source that can report its
// framebuffer size in pixels. *glfw.Window satisfies it.
type Window interface {
	driver.SurfaceSource
	GetFramebufferSize() (width, height int)
}

// Config drives device selection and the frame loop.
type Config struct {
	ApplicationName string
	// FramesInFlight is the number of frame slots the CPU may run ahead of
	// the GPU.
	FramesInFlight uint32
	// ImageCount is the requested swapchain image count. 0 selects the
	// device minimum plus one.
	ImageCount uint32
	// VSync forces FIFO presentation.
	VSync bool
	// FenceTimeout bounds every host wait; expiry is reported as device loss.
	FenceTimeout time.Duration
	// SerializeSubmissions guards every queue operation with a per-family
	// mutex so uploads may be issued from other goroutines.
	SerializeSubmissions bool
	RequireDiscreteGPU   bool
	// AllocatorBlockSize is the size of the device memory blocks buffers
	// and images are sub-allocated from.
	AllocatorBlockSize uint64
}

func DefaultConfig() Config {
	return Config{
		ApplicationName:    "vkscaffold",
		FramesInFlight:     2,
		FenceTimeout:       5 * time.Second,
		AllocatorBlockSize: 64 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FramesInFlight == 0 {
		c.FramesInFlight = def.FramesInFlight
	}
	if c.FenceTimeout == 0 {
		c.FenceTimeout = def.FenceTimeout
	}
	if c.AllocatorBlockSize == 0 {
		c.AllocatorBlockSize = def.AllocatorBlockSize
	}
	return c
}

// only one Context may be alive per process
var liveContexts atomic.Int32

// Context owns the device, its queues and the memory allocator. It is the
// root of every other object's lifetime.
type Context struct {
	Instance driver.Instance
	Window   Window
	Surface  driver.Surface
	Config   Config

	Device *VulkanDevice

	Allocator *Allocator
	Locks     *LockPool

	// GraphicsCommandPool holds the persistent per-image command buffers
	// and is used from the render thread only.
	GraphicsCommandPool *CommandPool
	// TransferCommandPool serves single-use uploads and read-backs, which
	// may come from any goroutine.
	TransferCommandPool *CommandPool

	destroyed bool
}

// NewContext selects a physical device able to render to window and creates
// the logical device. No degraded mode exists: any missing requirement fails
// with ErrNoSuitableDevice.
func NewContext(instance driver.Instance, window Window, cfg Config) (*Context, error) {
	if !liveContexts.CompareAndSwap(0, 1) {
		return nil, errors.WithStack(core.ErrContextExists)
	}
	ctx := &Context{
		Instance: instance,
		Window:   window,
		Config:   cfg.withDefaults(),
		Locks:    NewLockPool(cfg.SerializeSubmissions),
	}
	if err := ctx.init(); err != nil {
		ctx.release()
		core.LogError("context creation failed: %+v", err)
		return nil, err
	}
	return ctx, nil
}

func (c *Context) init() error {
	c.Instance.SetMessageSink(logDriverMessage)

	surface, err := c.Instance.CreateSurface(c.Window)
	if err != nil {
		return errors.Wrap(err, "surface creation failed")
	}
	c.Surface = surface
	core.LogDebug("Vulkan surface created.")

	device, err := DeviceCreate(c)
	if err != nil {
		return err
	}
	c.Device = device

	c.Allocator = NewAllocator(device.LogicalDevice, device.Info.Memory, c.Config.AllocatorBlockSize)

	pool, err := NewCommandPool(c, device.GraphicsQueueIndex, device.GraphicsQueue)
	if err != nil {
		return err
	}
	c.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	transfer, err := NewCommandPool(c, device.GraphicsQueueIndex, device.GraphicsQueue)
	if err != nil {
		return err
	}
	c.TransferCommandPool = transfer
	core.LogInfo("Transfer command pool created.")
	return nil
}

// WaitIdle blocks until all submitted GPU work has completed.
func (c *Context) WaitIdle() error {
	if c.Device == nil || c.Device.LogicalDevice == nil {
		return nil
	}
	err := c.Locks.SafeDeviceCall(c.Device.LogicalDevice.WaitIdle)
	return deviceError(err, "device wait idle")
}

// Destroy waits for the device to go idle and releases everything the
// context owns. Dependents must already be destroyed.
func (c *Context) Destroy() {
	if c.destroyed {
		return
	}
	if err := c.WaitIdle(); err != nil {
		core.LogError("wait idle before context destroy: %v", err)
	}
	c.release()
	core.LogInfo("Vulkan context destroyed.")
}

func (c *Context) release() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.TransferCommandPool != nil {
		c.TransferCommandPool.Destroy()
		c.TransferCommandPool = nil
	}
	if c.GraphicsCommandPool != nil {
		c.GraphicsCommandPool.Destroy()
		c.GraphicsCommandPool = nil
	}
	if c.Allocator != nil {
		c.Allocator.Destroy()
		c.Allocator = nil
	}
	if c.Device != nil {
		DeviceDestroy(c.Device)
		c.Device = nil
	}
	if c.Surface != 0 {
		c.Instance.DestroySurface(c.Surface)
		c.Surface = 0
	}
	c.Instance.SetMessageSink(nil)
	liveContexts.Store(0)
}

// FramebufferSize returns the window's framebuffer size in pixels.
func (c *Context) FramebufferSize() (uint32, uint32) {
	if c.Window == nil {
		return 0, 0
	}
	w, h := c.Window.GetFramebufferSize()
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return uint32(w), uint32(h)
}

// logDriverMessage routes validation output into the engine log. It never
// influences control flow.
func logDriverMessage(severity driver.Severity, message string) {
	switch severity {
	case driver.SeverityError:
		core.LogError("[validation] %s", message)
	case driver.SeverityWarning, driver.SeverityPerformance:
		core.LogWarn("[validation] %s", message)
	case driver.SeverityInfo:
		core.LogInfo("[validation] %s", message)
	default:
		core.LogDebug("[validation] %s", message)
	}
}

// deviceError maps driver failures that mean the GPU stopped answering to
// core.ErrDeviceLost and wraps everything else with op.
func deviceError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrDeviceLost), errors.Is(err, driver.ErrTimeout):
		return errors.Wrapf(core.ErrDeviceLost, "%s: %v", op, err)
	case errors.Is(err, driver.ErrOutOfDeviceMemory), errors.Is(err, driver.ErrOutOfHostMemory):
		return errors.Wrapf(core.ErrOutOfMemory, "%s: %v", op, err)
	}
	return errors.Wrap(err, op)
}
