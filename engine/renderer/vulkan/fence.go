package vulkan

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// Timeline tracks the highest submission generation known to have finished
// on one queue. Work on a queue completes in submission order, so every
// generation at or below it is finished too.
type Timeline struct {
	completed uint64
}

// Complete records that generation finished.
func (t *Timeline) Complete(generation uint64) {
	if generation > t.completed {
		t.completed = generation
	}
}

func (t *Timeline) Completed() uint64 {
	return t.completed
}

func (t *Timeline) Done(generation uint64) bool {
	return t.completed >= generation
}

// Fence wraps a driver fence and remembers which submission generation it
// was last attached to.
type Fence struct {
	Handle driver.Fence

	device    driver.Device
	submitted uint64
	timeline  *Timeline
}

func newTimelineFence(context *Context, createSignaled bool, timeline *Timeline) (*Fence, error) {
	device := context.Device.LogicalDevice
	handle, err := device.CreateFence(createSignaled)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fence")
	}
	return &Fence{Handle: handle, device: device, timeline: timeline}, nil
}

func (f *Fence) Destroy() {
	if f.Handle != 0 {
		f.device.DestroyFence(f.Handle)
		f.Handle = 0
	}
}

// Wait blocks until the fence signals. The driver is always asked: a cached
// state cannot observe the GPU. Expiry of the timeout is reported as device
// loss.
func (f *Fence) Wait(timeout time.Duration) error {
	err := f.device.WaitForFences([]driver.Fence{f.Handle}, timeout)
	switch {
	case err == nil:
		f.timeline.Complete(f.submitted)
		return nil
	case errors.Is(err, driver.ErrTimeout):
		core.LogError("fence wait timed out after %s", timeout)
		return errors.Wrapf(core.ErrDeviceLost, "fence wait timed out after %s", timeout)
	}
	return deviceError(err, "fence wait")
}

func (f *Fence) Reset() error {
	if err := f.device.ResetFences([]driver.Fence{f.Handle}); err != nil {
		return errors.Wrap(err, "failed to reset fence")
	}
	return nil
}

// MarkSubmitted attaches the fence to submission generation.
func (f *Fence) MarkSubmitted(generation uint64) {
	f.submitted = generation
}

// IsSignaled polls the fence without blocking. A signaled fence completes
// its generation on the timeline like a successful Wait.
func (f *Fence) IsSignaled() (bool, error) {
	signaled, err := f.device.FenceSignaled(f.Handle)
	if err != nil {
		return false, deviceError(err, "fence status")
	}
	if signaled {
		f.timeline.Complete(f.submitted)
	}
	return signaled, nil
}

// Done reports whether generation is known to have completed on the fence's
// queue.
func (f *Fence) Done(generation uint64) bool {
	return f.timeline.Done(generation)
}
