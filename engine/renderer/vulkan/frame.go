package vulkan

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/math"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// FrameSlot holds the synchronization objects of one frame in flight.
type FrameSlot struct {
	ImageAvailable driver.Semaphore
	RenderFinished driver.Semaphore
	InFlight       *Fence
}

// FrameTicket is the result of one Acquire. It must be submitted once and
// then presented once.
type FrameTicket struct {
	// ImageIndex selects per-image resources: framebuffers and command
	// buffers.
	ImageIndex uint32
	// Slot selects per-frame synchronization objects.
	Slot       uint32
	Suboptimal bool

	ImageAvailable driver.Semaphore
	RenderFinished driver.Semaphore
	InFlight       *Fence

	generation uint64
	submitted  bool
	presented  bool
	scheduler  *FrameScheduler
}

type imageOwner struct {
	generation uint64
	slot       uint32
}

type FrameStats struct {
	// Frames counts presented tickets.
	Frames uint64
	// Generation is the last submission generation issued.
	Generation uint64
	// Completed is the last generation known to have finished.
	Completed uint64
	// ImageWaits counts acquires that had to wait for another slot's
	// fence because the image was still in use.
	ImageWaits uint64
	// LastFenceWait is how long the last Acquire blocked on fences.
	LastFenceWait time.Duration
}

// FrameScheduler runs the acquire, submit, present cycle over a fixed number
// of frame slots. The CPU never runs more than len(slots) frames ahead of the
// GPU.
type FrameScheduler struct {
	context   *Context
	swapchain *Swapchain
	slots     []*FrameSlot
	current   uint32
	timeout   time.Duration

	generation     uint64
	timeline       *Timeline
	imagesInFlight []imageOwner
	deletion       *DeletionQueue
	stats          FrameStats
}

func NewFrameScheduler(context *Context, swapchain *Swapchain) (*FrameScheduler, error) {
	frames := math.Clamp(context.Config.FramesInFlight, 1, VULKAN_MAX_FRAMES_IN_FLIGHT)
	s := &FrameScheduler{
		context:  context,
		timeout:  context.Config.FenceTimeout,
		timeline: &Timeline{},
		deletion: NewDeletionQueue(),
	}
	if err := s.createSlots(frames); err != nil {
		s.destroySlots()
		return nil, err
	}
	s.SetSwapchain(swapchain)
	core.LogInfo("Frame scheduler created with %d frames in flight.", frames)
	return s, nil
}

func (s *FrameScheduler) createSlots(frames uint32) error {
	device := s.context.Device.LogicalDevice
	s.slots = make([]*FrameSlot, 0, frames)
	for i := uint32(0); i < frames; i++ {
		slot := &FrameSlot{}
		s.slots = append(s.slots, slot)
		var err error
		if slot.ImageAvailable, err = device.CreateSemaphore(); err != nil {
			return deviceError(err, "create image available semaphore")
		}
		if slot.RenderFinished, err = device.CreateSemaphore(); err != nil {
			return deviceError(err, "create render finished semaphore")
		}
		// Create the fence in a signaled state, indicating that the first
		// frame has already been "rendered". This prevents the first
		// acquire from waiting forever for a frame that never happened.
		if slot.InFlight, err = newTimelineFence(s.context, true, s.timeline); err != nil {
			return err
		}
	}
	return nil
}

func (s *FrameScheduler) destroySlots() {
	device := s.context.Device.LogicalDevice
	for _, slot := range s.slots {
		if slot.ImageAvailable != 0 {
			device.DestroySemaphore(slot.ImageAvailable)
		}
		if slot.RenderFinished != 0 {
			device.DestroySemaphore(slot.RenderFinished)
		}
		if slot.InFlight != nil {
			slot.InFlight.Destroy()
		}
	}
	s.slots = nil
}

// FramesInFlight returns the number of slots.
func (s *FrameScheduler) FramesInFlight() uint32 {
	return uint32(len(s.slots))
}

// CurrentSlot returns the slot the next Acquire will use.
func (s *FrameScheduler) CurrentSlot() uint32 {
	return s.current
}

func (s *FrameScheduler) Swapchain() *Swapchain {
	return s.swapchain
}

// SetSwapchain switches to a rebuilt swapchain. The device must be idle.
func (s *FrameScheduler) SetSwapchain(swapchain *Swapchain) {
	s.swapchain = swapchain
	s.imagesInFlight = make([]imageOwner, swapchain.ImageCount)
	s.MarkIdle()
}

// ResetSync recreates every slot so none carries a signal from an abandoned
// frame. The device must be idle.
func (s *FrameScheduler) ResetSync() error {
	frames := uint32(len(s.slots))
	s.destroySlots()
	s.current = 0
	if err := s.createSlots(frames); err != nil {
		return err
	}
	s.MarkIdle()
	return nil
}

// Acquire waits until the current slot is free, then acquires the next
// swapchain image. An out-of-date swapchain yields ErrSwapchainOutOfDate
// and leaves the slot untouched.
func (s *FrameScheduler) Acquire() (*FrameTicket, error) {
	slot := s.slots[s.current]

	start := time.Now()
	// Wait for the execution of the current frame to complete. The fence
	// being free will allow this one to move on.
	if err := slot.InFlight.Wait(s.timeout); err != nil {
		return nil, err
	}
	s.deletion.Collect(s.timeline.Completed())

	index, suboptimal, err := s.swapchain.AcquireNextImageIndex(s.timeout, slot.ImageAvailable)
	if err != nil {
		s.stats.LastFenceWait = time.Since(start)
		return nil, err
	}

	// The image may still be in use by a frame submitted from another slot.
	// Its fence is polled first so finished work costs no blocking wait.
	owner := s.imagesInFlight[index]
	if !s.timeline.Done(owner.generation) {
		fence := s.slots[owner.slot].InFlight
		signaled, err := fence.IsSignaled()
		if err != nil {
			return nil, err
		}
		if !signaled {
			s.stats.ImageWaits++
			if err := fence.Wait(s.timeout); err != nil {
				return nil, err
			}
		}
	}
	s.stats.LastFenceWait = time.Since(start)

	return &FrameTicket{
		ImageIndex:     index,
		Slot:           s.current,
		Suboptimal:     suboptimal,
		ImageAvailable: slot.ImageAvailable,
		RenderFinished: slot.RenderFinished,
		InFlight:       slot.InFlight,
		scheduler:      s,
	}, nil
}

// Submit queues the recorded command buffers of the ticket. Color writes
// wait for the image to become available; the slot fence signals when the
// work is done.
func (s *FrameScheduler) Submit(ticket *FrameTicket, commandBuffers ...*CommandBuffer) error {
	if ticket.scheduler != s || ticket.submitted {
		return errors.Wrap(core.ErrTicketConsumed, "submit")
	}
	handles := make([]driver.CommandBuffer, len(commandBuffers))
	for i, cb := range commandBuffers {
		if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return stateError(cb, "submit")
		}
		handles[i] = cb.Handle
	}

	// Make sure the fence is reset for use by this frame.
	if err := ticket.InFlight.Reset(); err != nil {
		return err
	}

	s.generation++
	generation := s.generation
	device := s.context.Device
	err := s.context.Locks.SafeQueueCall(device.GraphicsQueueIndex, func() error {
		return device.LogicalDevice.QueueSubmit(device.GraphicsQueue, []driver.SubmitInfo{{
			WaitSemaphores:   []driver.Semaphore{ticket.ImageAvailable},
			WaitStages:       []driver.PipelineStage{driver.PipelineStageColorAttachmentOutput},
			CommandBuffers:   handles,
			SignalSemaphores: []driver.Semaphore{ticket.RenderFinished},
		}}, ticket.InFlight.Handle)
	})
	if err != nil {
		core.LogError("queue submit failed: %v", err)
		return deviceError(err, "queue submit")
	}

	ticket.InFlight.MarkSubmitted(generation)
	for _, cb := range commandBuffers {
		cb.UpdateSubmitted(ticket.InFlight, generation)
	}
	s.imagesInFlight[ticket.ImageIndex] = imageOwner{generation: generation, slot: ticket.Slot}
	ticket.generation = generation
	ticket.submitted = true
	s.stats.Generation = generation
	return nil
}

// Present queues the ticket's image for presentation and advances to the
// next slot, even when presentation reports ErrSwapchainOutOfDate.
func (s *FrameScheduler) Present(ticket *FrameTicket) error {
	if ticket.scheduler != s || !ticket.submitted || ticket.presented {
		return errors.Wrap(core.ErrTicketConsumed, "present")
	}
	err := s.swapchain.Present(ticket.RenderFinished, ticket.ImageIndex)
	ticket.presented = true
	s.stats.Frames++
	// Increment (and loop) the index.
	s.current = (s.current + 1) % uint32(len(s.slots))
	return err
}

// Retire defers destroy until every submission issued so far has finished.
func (s *FrameScheduler) Retire(label string, destroy func()) {
	s.deletion.Push(s.generation, label, destroy)
}

// PendingDeletions returns the number of retired resources not yet
// destroyed.
func (s *FrameScheduler) PendingDeletions() int {
	return s.deletion.Len()
}

// MarkIdle records that the device went idle, so every submission has
// finished, and runs the deletions that were waiting for it.
func (s *FrameScheduler) MarkIdle() {
	s.timeline.Complete(s.generation)
	s.deletion.Collect(s.timeline.Completed())
}

func (s *FrameScheduler) Stats() FrameStats {
	stats := s.stats
	stats.Completed = s.timeline.Completed()
	return stats
}

// Destroy waits for the device, runs every pending deletion and releases the
// slots.
func (s *FrameScheduler) Destroy() {
	if err := s.context.WaitIdle(); err != nil {
		core.LogError("wait idle before frame scheduler destroy: %v", err)
	}
	s.MarkIdle()
	s.deletion.Flush()
	s.destroySlots()
}
