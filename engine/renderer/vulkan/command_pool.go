package vulkan

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// CommandPool hands out command buffers from one driver pool. The driver
// pool is externally synchronized: Allocate, Free and RunSingleUse serialize
// on mu. Persistent buffers are recorded outside the lock, so a pool holding
// them belongs to the render thread.
type CommandPool struct {
	Handle      driver.CommandPool
	QueueFamily uint32

	context *Context
	queue   driver.Queue
	mu      sync.Mutex
}

func NewCommandPool(context *Context, queueFamily uint32, queue driver.Queue) (*CommandPool, error) {
	handle, err := context.Device.LogicalDevice.CreateCommandPool(queueFamily, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create command pool")
	}
	return &CommandPool{
		Handle:      handle,
		QueueFamily: queueFamily,
		context:     context,
		queue:       queue,
	}, nil
}

func (p *CommandPool) Destroy() {
	if p.Handle == 0 {
		return
	}
	p.context.Device.LogicalDevice.DestroyCommandPool(p.Handle)
	p.Handle = 0
}

// Allocate returns count primary command buffers in the ready state.
func (p *CommandPool) Allocate(count uint32) ([]*CommandBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked(count)
}

func (p *CommandPool) allocateLocked(count uint32) ([]*CommandBuffer, error) {
	device := p.context.Device.LogicalDevice
	handles, err := device.AllocateCommandBuffers(p.Handle, count, true)
	if err != nil {
		return nil, deviceError(err, "allocate command buffers")
	}
	out := make([]*CommandBuffer, len(handles))
	for i, h := range handles {
		out[i] = &CommandBuffer{
			Handle: h,
			State:  COMMAND_BUFFER_STATE_READY,
			device: device,
			pool:   p,
		}
	}
	return out, nil
}

// AllocatePersistent allocates one command buffer per swapchain image. They
// are rebuilt together with the swapchain.
func (p *CommandPool) AllocatePersistent(imageCount uint32) ([]*CommandBuffer, error) {
	cbs, err := p.Allocate(imageCount)
	if err != nil {
		return nil, err
	}
	core.LogDebug("allocated %d persistent command buffers", imageCount)
	return cbs, nil
}

// Free returns command buffers to the pool. Buffers still executing on the
// GPU must not be freed.
func (p *CommandPool) Free(cbs ...*CommandBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeLocked(cbs...)
}

func (p *CommandPool) freeLocked(cbs ...*CommandBuffer) {
	handles := make([]driver.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		if cb == nil || cb.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
			continue
		}
		handles = append(handles, cb.Handle)
		cb.Handle = 0
		cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	}
	if len(handles) > 0 {
		p.context.Device.LogicalDevice.FreeCommandBuffers(p.Handle, handles)
	}
}

// RunSingleUse records a short transfer sequence through record and executes
// it synchronously. The pool stays locked from allocation until the buffer is
// freed, so concurrent callers never record from the pool at the same time.
// Callers on different goroutines also need Config.SerializeSubmissions for
// the queue. It is meant for resource construction, never the per-frame path.
func (p *CommandPool) RunSingleUse(record func(cb *CommandBuffer) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cbs, err := p.allocateLocked(1)
	if err != nil {
		return err
	}
	cb := cbs[0]
	defer p.freeLocked(cb)

	if err := cb.Begin(true, false, false); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		if cb.State == COMMAND_BUFFER_STATE_RECORDING {
			_ = cb.End()
		}
		return err
	}
	return p.submitAndWait(cb)
}

// submitAndWait ends cb, submits it without semaphores and blocks until the
// queue is idle.
func (p *CommandPool) submitAndWait(cb *CommandBuffer) error {
	if err := cb.End(); err != nil {
		return err
	}
	device := p.context.Device.LogicalDevice
	err := p.context.Locks.SafeQueueCall(p.QueueFamily, func() error {
		submit := driver.SubmitInfo{CommandBuffers: []driver.CommandBuffer{cb.Handle}}
		if err := device.QueueSubmit(p.queue, []driver.SubmitInfo{submit}, 0); err != nil {
			return err
		}
		cb.State = COMMAND_BUFFER_STATE_SUBMITTED
		return device.QueueWaitIdle(p.queue)
	})
	if err != nil {
		return deviceError(err, "single-use submit")
	}
	return nil
}
