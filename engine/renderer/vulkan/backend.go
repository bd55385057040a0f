package vulkan

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// RecordFunc records the frame's commands into cb. It runs inside the main
// render pass.
type RecordFunc func(cb *CommandBuffer, frame *FrameTicket) error

// RebuiltFunc is told about every swapchain rebuild.
type RebuiltFunc func(width, height, imageCount uint32)

// VulkanRenderer owns everything sized by the swapchain: the swapchain
// itself, the main render pass, one framebuffer and one command buffer per
// image, and the frame scheduler.
type VulkanRenderer struct {
	FrameNumber uint64

	context   *Context
	swapchain *Swapchain
	scheduler *FrameScheduler
	metrics   *core.Metrics

	MainRenderpass         *VulkanRenderpass
	Framebuffers           []*VulkanFramebuffer
	GraphicsCommandBuffers []*CommandBuffer

	framebufferWidth  uint32
	framebufferHeight uint32

	// Framebuffer size generation, a counter which indicates when the
	// framebuffer size (or anything else the swapchain depends on) has been
	// updated.
	framebufferSizeGeneration     uint64
	framebufferSizeLastGeneration uint64
	recreatingSwapchain           bool

	// failed is set once the renderer can no longer draw: the device was
	// lost or a rebuild failed after the old swapchain was torn down.
	// Every later DrawFrame returns it.
	failed error

	onRebuilt RebuiltFunc
}

// New creates the context and every swapchain-sized object. metrics may be
// nil.
func New(instance driver.Instance, window Window, cfg Config, metrics *core.Metrics) (*VulkanRenderer, error) {
	context, err := NewContext(instance, window, cfg)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	vr := &VulkanRenderer{
		context: context,
		metrics: metrics,
	}
	if err := vr.initialize(); err != nil {
		vr.Shutdown()
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return vr, nil
}

func (vr *VulkanRenderer) initialize() error {
	vr.framebufferWidth, vr.framebufferHeight = vr.context.FramebufferSize()

	sc, err := SwapchainCreate(vr.context, vr.framebufferWidth, vr.framebufferHeight)
	if err != nil {
		return err
	}
	vr.swapchain = sc

	rp, err := RenderpassCreate(
		vr.context,
		sc.ImageFormat.Format, vr.context.Device.DepthFormat,
		0, 0, float32(sc.Extent.Width), float32(sc.Extent.Height),
		0.0, 0.0, 0.2, 1.0,
		1.0,
		0)
	if err != nil {
		return err
	}
	vr.MainRenderpass = rp

	if err := vr.regenerateFramebuffers(); err != nil {
		return err
	}
	if err := vr.createCommandBuffers(); err != nil {
		return err
	}

	scheduler, err := NewFrameScheduler(vr.context, vr.swapchain)
	if err != nil {
		return err
	}
	vr.scheduler = scheduler
	return nil
}

// Shutdown waits for the device and destroys everything in the opposite
// order of creation. The driver instance stays with the caller.
func (vr *VulkanRenderer) Shutdown() error {
	if vr.context == nil {
		return nil
	}
	if err := vr.context.WaitIdle(); err != nil {
		core.LogError("wait idle before shutdown: %v", err)
	}
	if vr.scheduler != nil {
		vr.scheduler.Destroy()
		vr.scheduler = nil
	}
	vr.destroySwapchainDependents()
	if vr.MainRenderpass != nil {
		vr.MainRenderpass.RenderpassDestroy()
		vr.MainRenderpass = nil
	}
	if vr.swapchain != nil {
		vr.swapchain.Destroy()
		vr.swapchain = nil
	}
	vr.context.Destroy()
	vr.context = nil
	return nil
}

func (vr *VulkanRenderer) Context() *Context {
	return vr.context
}

func (vr *VulkanRenderer) Swapchain() *Swapchain {
	return vr.swapchain
}

func (vr *VulkanRenderer) Scheduler() *FrameScheduler {
	return vr.scheduler
}

func (vr *VulkanRenderer) Metrics() *core.Metrics {
	return vr.metrics
}

// OnRebuilt registers fn to be called after every swapchain rebuild.
func (vr *VulkanRenderer) OnRebuilt(fn RebuiltFunc) {
	vr.onRebuilt = fn
}

// Resized records a new framebuffer size. The swapchain is rebuilt at the
// start of the next frame.
func (vr *VulkanRenderer) Resized(width, height uint32) {
	vr.framebufferSizeGeneration++
	core.LogInfo("Vulkan renderer backend->resized: w/h/gen: %d/%d/%d", width, height, vr.framebufferSizeGeneration)
}

// SetVSync switches between FIFO and the preferred present mode, which takes
// a swapchain rebuild.
func (vr *VulkanRenderer) SetVSync(vsync bool) {
	if vr.context.Config.VSync == vsync {
		return
	}
	vr.context.Config.VSync = vsync
	vr.framebufferSizeGeneration++
	core.LogInfo("vsync set to %t, swapchain rebuild scheduled", vsync)
}

func (vr *VulkanRenderer) SetClearColor(r, g, b, a float32) {
	vr.MainRenderpass.SetClearColor(r, g, b, a)
}

// Retire destroys a resource once the GPU is done with every frame that may
// still use it.
func (vr *VulkanRenderer) Retire(label string, destroy func()) {
	vr.scheduler.Retire(label, destroy)
}

// DrawFrame runs one acquire, record, submit, present cycle. Out-of-date
// swapchains are rebuilt and the frame is dropped; a zero-sized window skips
// the frame. Only unrecoverable errors are returned.
func (vr *VulkanRenderer) DrawFrame(record RecordFunc) error {
	if vr.failed != nil {
		return vr.failed
	}

	// Check if recreating swap chain and boot out.
	if vr.recreatingSwapchain {
		core.LogInfo("Recreating swapchain, booting.")
		return nil
	}

	// Nothing can be presented to a minimized window.
	if width, height := vr.context.FramebufferSize(); width == 0 || height == 0 {
		vr.metrics.RecordSkippedFrame()
		return nil
	}

	// Check if the framebuffer has been resized. If so, a new swapchain must
	// be created.
	if vr.framebufferSizeGeneration != vr.framebufferSizeLastGeneration {
		rebuilt, err := vr.recreateSwapchain()
		if err != nil {
			return err
		}
		if !rebuilt {
			vr.metrics.RecordSkippedFrame()
		}
		core.LogInfo("Resized, booting.")
		return nil
	}

	start := time.Now()
	ticket, err := vr.scheduler.Acquire()
	if err != nil {
		return vr.handleFrameError(err)
	}

	commandBuffer := vr.GraphicsCommandBuffers[ticket.ImageIndex]
	if err := vr.recordFrame(commandBuffer, ticket, record); err != nil {
		vr.abandonRecording(commandBuffer)
		// The image was acquired but will never be presented and nothing
		// will consume its semaphore. Start over with fresh sync objects
		// and a fresh swapchain.
		if waitErr := vr.context.WaitIdle(); waitErr != nil {
			return waitErr
		}
		if syncErr := vr.scheduler.ResetSync(); syncErr != nil {
			return syncErr
		}
		vr.framebufferSizeGeneration++
		return err
	}

	if err := vr.scheduler.Submit(ticket, commandBuffer); err != nil {
		return vr.handleFrameError(err)
	}

	// Give the image back to the swapchain.
	presentErr := vr.scheduler.Present(ticket)
	vr.FrameNumber++
	vr.metrics.Update(time.Since(start), vr.scheduler.Stats().LastFenceWait)

	if presentErr == nil && ticket.Suboptimal {
		presentErr = errors.Wrap(core.ErrSwapchainOutOfDate, "acquire: suboptimal")
	}
	if presentErr != nil {
		return vr.handleFrameError(presentErr)
	}
	return nil
}

func (vr *VulkanRenderer) recordFrame(commandBuffer *CommandBuffer, ticket *FrameTicket, record RecordFunc) error {
	// Begin recording commands.
	if commandBuffer.State == COMMAND_BUFFER_STATE_SUBMITTED {
		if err := commandBuffer.Reset(); err != nil {
			return err
		}
	}
	if err := commandBuffer.Begin(false, false, false); err != nil {
		return err
	}

	extent := vr.swapchain.Extent
	vr.MainRenderpass.SetArea(extent.Width, extent.Height)

	// Begin the render pass.
	if err := vr.MainRenderpass.RenderpassBegin(commandBuffer, vr.Framebuffers[ticket.ImageIndex]); err != nil {
		return err
	}
	if record != nil {
		if err := record(commandBuffer, ticket); err != nil {
			return err
		}
	}
	if err := vr.MainRenderpass.RenderpassEnd(commandBuffer); err != nil {
		return err
	}
	return commandBuffer.End()
}

// abandonRecording closes whatever a failed record left open so the buffer
// can be begun again.
func (vr *VulkanRenderer) abandonRecording(commandBuffer *CommandBuffer) {
	if commandBuffer.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		_ = vr.MainRenderpass.RenderpassEnd(commandBuffer)
	}
	if commandBuffer.State == COMMAND_BUFFER_STATE_RECORDING {
		_ = commandBuffer.End()
	}
}

// handleFrameError rebuilds on recoverable errors and passes everything
// else up.
func (vr *VulkanRenderer) handleFrameError(err error) error {
	if !core.IsRecoverable(err) {
		core.LogError("frame failed: %+v", err)
		if errors.Is(err, core.ErrDeviceLost) {
			return vr.fail(err)
		}
		return err
	}
	core.LogDebug("%v", err)
	if _, rebuildErr := vr.recreateSwapchain(); rebuildErr != nil {
		return rebuildErr
	}
	return nil
}

// fail makes err the renderer's terminal state.
func (vr *VulkanRenderer) fail(err error) error {
	if vr.failed == nil {
		vr.failed = errors.Wrap(err, "renderer unusable")
		core.LogError("%+v", vr.failed)
	}
	return vr.failed
}

func (vr *VulkanRenderer) createCommandBuffers() error {
	cbs, err := vr.context.GraphicsCommandPool.AllocatePersistent(vr.swapchain.ImageCount)
	if err != nil {
		return err
	}
	vr.GraphicsCommandBuffers = cbs
	core.LogDebug("Vulkan command buffers created.")
	return nil
}

func (vr *VulkanRenderer) regenerateFramebuffers() error {
	framebuffers, err := SwapchainFramebuffers(vr.context, vr.swapchain, vr.MainRenderpass)
	if err != nil {
		core.LogError("failed to execute framebuffer create function")
		return err
	}
	vr.Framebuffers = framebuffers
	return nil
}

func (vr *VulkanRenderer) destroySwapchainDependents() {
	if len(vr.GraphicsCommandBuffers) > 0 {
		vr.context.GraphicsCommandPool.Free(vr.GraphicsCommandBuffers...)
		vr.GraphicsCommandBuffers = nil
	}
	for _, fb := range vr.Framebuffers {
		fb.Destroy()
	}
	vr.Framebuffers = nil
}

// recreateSwapchain rebuilds the swapchain and every object sized by it. It
// reports false when the window is too small to be drawn to; the rebuild is
// then retried on the next frame.
func (vr *VulkanRenderer) recreateSwapchain() (bool, error) {
	// If already being recreated, do not try again.
	if vr.recreatingSwapchain {
		core.LogDebug("recreateSwapchain called when already recreating. Booting.")
		return false, nil
	}

	// Detect if the window is too small to be drawn to
	width, height := vr.context.FramebufferSize()
	if width == 0 || height == 0 {
		core.LogDebug("recreateSwapchain called when window is < 1 in a dimension. Booting.")
		return false, nil
	}

	// Mark as recreating if the dimensions are valid.
	vr.recreatingSwapchain = true
	defer func() { vr.recreatingSwapchain = false }()
	generation := vr.framebufferSizeGeneration

	// Wait for any operations to complete.
	if err := vr.context.WaitIdle(); err != nil {
		return false, vr.fail(err)
	}
	vr.scheduler.MarkIdle()
	vr.destroySwapchainDependents()

	// From here on the old swapchain and its dependents are gone, so any
	// error leaves the renderer unable to draw.
	previousFormat := vr.swapchain.ImageFormat.Format
	sc, err := vr.swapchain.Recreate(width, height)
	if err != nil {
		vr.swapchain = nil
		return false, vr.fail(err)
	}
	vr.swapchain = sc

	if sc.ImageFormat.Format != previousFormat {
		// The render pass is only compatible with the format it was made for.
		old := vr.MainRenderpass
		rp, err := RenderpassCreate(vr.context, sc.ImageFormat.Format, vr.context.Device.DepthFormat,
			0, 0, float32(sc.Extent.Width), float32(sc.Extent.Height),
			old.R, old.G, old.B, old.A, old.Depth, old.Stencil)
		if err != nil {
			return false, vr.fail(err)
		}
		old.RenderpassDestroy()
		vr.MainRenderpass = rp
	}

	// Sync the framebuffer size with the swapchain.
	vr.framebufferWidth = sc.Extent.Width
	vr.framebufferHeight = sc.Extent.Height
	vr.MainRenderpass.X = 0
	vr.MainRenderpass.Y = 0
	vr.MainRenderpass.SetArea(vr.framebufferWidth, vr.framebufferHeight)

	if err := vr.regenerateFramebuffers(); err != nil {
		return false, vr.fail(err)
	}
	if err := vr.createCommandBuffers(); err != nil {
		return false, vr.fail(err)
	}
	vr.scheduler.SetSwapchain(sc)

	// Update framebuffer size generation.
	vr.framebufferSizeLastGeneration = generation
	vr.metrics.RecordRebuild()
	core.LogInfo("Swapchain rebuilt: %dx%d, %d images.", sc.Extent.Width, sc.Extent.Height, sc.ImageCount)
	if vr.onRebuilt != nil {
		vr.onRebuilt(sc.Extent.Width, sc.Extent.Height, sc.ImageCount)
	}
	return true, nil
}
