package drivertest

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// Stats counts host-visible driver calls.
type Stats struct {
	// FenceWaits counts WaitForFences calls.
	FenceWaits int
	// BlockingFenceWaits counts the calls that found at least one fence
	// unsignaled and had to drain GPU work.
	BlockingFenceWaits int
	Submits            int
	Presents           int
	Acquires           int
	QueueWaitIdles     int
	DeviceWaitIdles    int
	CompletedBatches   int
}

// BarrierRecord is a recorded image barrier along with its stage masks.
type BarrierRecord struct {
	driver.ImageBarrier
	SrcStage driver.PipelineStage
	DstStage driver.PipelineStage
}

// BlitRecord describes one executed blit region.
type BlitRecord struct {
	Src, Dst           driver.Image
	SrcLevel, DstLevel uint32
	SrcW, SrcH         int32
	DstW, DstH         int32
}

type fence struct {
	signaled bool
	pending  bool
}

type semaphore struct {
	signaled bool
}

type batch struct {
	cbs      []driver.CommandBuffer
	fence    driver.Fence
	queue    driver.Queue
	buffers  []driver.Buffer
	images   []driver.Image
	released bool
}

// Device is the simulated logical device.
type Device struct {
	g    *GPU
	spec *DeviceSpec

	mu    sync.Mutex
	next  uint64
	hung  bool
	limit uint64

	fences     map[driver.Fence]*fence
	semaphores map[driver.Semaphore]*semaphore
	swapchains map[driver.Swapchain]*swapchain
	pools      map[driver.CommandPool]uint32
	cbs        map[driver.CommandBuffer]*cmdBuffer
	buffers    map[driver.Buffer]*buffer
	images     map[driver.Image]*image
	memories   map[driver.Memory]*memory
	views      map[driver.ImageView]driver.Image
	samplers   map[driver.Sampler]driver.SamplerCreateInfo
	passes     map[driver.RenderPass]driver.RenderPassCreateInfo
	fbs        map[driver.Framebuffer]driver.FramebufferCreateInfo
	layouts    map[driver.DescriptorSetLayout][]driver.DescriptorSetLayoutBinding
	dpools     map[driver.DescriptorPool]*descriptorPool
	dsets      map[driver.DescriptorSet]*descriptorSet

	timeline   []*batch
	stats      Stats
	violations []string
	barriers   []BarrierRecord
	blits      []BlitRecord
	writes     []driver.DescriptorWrite
	destroyed  bool
}

func newDevice(g *GPU, spec *DeviceSpec) *Device {
	return &Device{
		g:          g,
		spec:       spec,
		next:       1 << 32,
		fences:     make(map[driver.Fence]*fence),
		semaphores: make(map[driver.Semaphore]*semaphore),
		swapchains: make(map[driver.Swapchain]*swapchain),
		pools:      make(map[driver.CommandPool]uint32),
		cbs:        make(map[driver.CommandBuffer]*cmdBuffer),
		buffers:    make(map[driver.Buffer]*buffer),
		images:     make(map[driver.Image]*image),
		memories:   make(map[driver.Memory]*memory),
		views:      make(map[driver.ImageView]driver.Image),
		samplers:   make(map[driver.Sampler]driver.SamplerCreateInfo),
		passes:     make(map[driver.RenderPass]driver.RenderPassCreateInfo),
		fbs:        make(map[driver.Framebuffer]driver.FramebufferCreateInfo),
		layouts:    make(map[driver.DescriptorSetLayout][]driver.DescriptorSetLayoutBinding),
		dpools:     make(map[driver.DescriptorPool]*descriptorPool),
		dsets:      make(map[driver.DescriptorSet]*descriptorSet),
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.violations = append(d.violations, msg)
}

// Violations returns every rule breach observed so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Stats returns a snapshot of the call counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Barriers returns every image barrier recorded so far.
func (d *Device) Barriers() []BarrierRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BarrierRecord(nil), d.barriers...)
}

// Blits returns every blit region executed so far.
func (d *Device) Blits() []BlitRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BlitRecord(nil), d.blits...)
}

// DescriptorWrites returns every descriptor write applied so far.
func (d *Device) DescriptorWrites() []driver.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.DescriptorWrite(nil), d.writes...)
}

// Pending returns the number of submitted batches that have not completed.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timeline)
}

// Hang stops the timeline: submitted work never completes, so finite
// waits time out.
func (d *Device) Hang() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hung = true
}

// Advance completes up to n of the oldest pending batches.
func (d *Device) Advance(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ; n > 0 && len(d.timeline) > 0 && !d.hung; n-- {
		d.completeOldest()
	}
}

// Destroyed reports whether Destroy was called.
func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// LiveObjects counts every object created through the device and not yet
// destroyed. Swapchain images are owned by their swapchain and not counted.
func (d *Device) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.fences) + len(d.semaphores) + len(d.swapchains) + len(d.pools) +
		len(d.cbs) + len(d.buffers) + len(d.memories) + len(d.views) + len(d.samplers) +
		len(d.passes) + len(d.fbs) + len(d.layouts) + len(d.dpools)
	for _, img := range d.images {
		if img.owner == 0 {
			n++
		}
	}
	return n
}

func (d *Device) completeOldest() {
	b := d.timeline[0]
	d.timeline = d.timeline[1:]
	for _, h := range b.cbs {
		cb, ok := d.cbs[h]
		if !ok {
			d.violate("command buffer %d freed while pending", h)
			continue
		}
		for _, cmd := range cb.cmds {
			cmd(d)
		}
		cb.pending--
		if cb.pending == 0 && cb.usage&driver.CommandBufferUsageOneTimeSubmit != 0 {
			cb.state = cbInvalid
		}
	}
	d.release(b)
	if b.fence != 0 {
		if f, ok := d.fences[b.fence]; ok {
			f.signaled = true
			f.pending = false
		}
	}
	d.stats.CompletedBatches++
}

func (d *Device) release(b *batch) {
	if b.released {
		return
	}
	b.released = true
	for _, h := range b.buffers {
		if buf, ok := d.buffers[h]; ok {
			buf.inFlight--
		}
	}
	for _, h := range b.images {
		if img, ok := d.images[h]; ok {
			img.inFlight--
		}
	}
}

func (d *Device) drainQueue(q driver.Queue) {
	for i := 0; i < len(d.timeline); {
		if d.timeline[i].queue != q {
			i++
			continue
		}
		// Completion is FIFO across the whole device, so everything older
		// than the last batch on q completes too.
		for j := 0; j <= i; j++ {
			d.completeOldest()
		}
		i = 0
	}
}

func (d *Device) Queue(family, index uint32) driver.Queue {
	return driver.Queue(uint64(family)<<16 | uint64(index) | 1<<40)
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.DeviceWaitIdles++
	if d.hung && len(d.timeline) > 0 {
		return driver.ErrDeviceLost
	}
	for len(d.timeline) > 0 {
		d.completeOldest()
	}
	return nil
}

func (d *Device) QueueWaitIdle(q driver.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.QueueWaitIdles++
	if d.hung && len(d.timeline) > 0 {
		return driver.ErrDeviceLost
	}
	d.drainQueue(q)
	return nil
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Fence(d.handle())
	d.fences[h] = &fence{signaled: signaled}
	return h, nil
}

func (d *Device) DestroyFence(h driver.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fences[h]; ok && f.pending {
		d.violate("fence %d destroyed while pending", h)
	}
	delete(d.fences, h)
}

func (d *Device) allSignaled(fences []driver.Fence) (bool, error) {
	for _, h := range fences {
		f, ok := d.fences[h]
		if !ok {
			return false, fmt.Errorf("unknown fence %d", h)
		}
		if !f.signaled {
			return false, nil
		}
	}
	return true, nil
}

func (d *Device) WaitForFences(fences []driver.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FenceWaits++
	done, err := d.allSignaled(fences)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	d.stats.BlockingFenceWaits++
	for !done {
		if d.hung || len(d.timeline) == 0 {
			if timeout < 0 {
				d.violate("infinite wait on fences %v that can never signal", fences)
			}
			return driver.ErrTimeout
		}
		d.completeOldest()
		done, _ = d.allSignaled(fences)
	}
	return nil
}

func (d *Device) ResetFences(fences []driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range fences {
		f, ok := d.fences[h]
		if !ok {
			return fmt.Errorf("unknown fence %d", h)
		}
		if f.pending {
			d.violate("fence %d reset while its batch is in flight", h)
		}
		f.signaled = false
	}
	return nil
}

func (d *Device) FenceSignaled(h driver.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return false, fmt.Errorf("unknown fence %d", h)
	}
	return f.signaled, nil
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Semaphore(d.handle())
	d.semaphores[h] = &semaphore{}
	return h, nil
}

func (d *Device) DestroySemaphore(h driver.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, h)
}

// Semaphore signal and wait operations are validated in queue order: a
// signal must find the semaphore unsignaled and a wait must find it
// signaled (or with a signal already queued ahead of it).
func (d *Device) signal(h driver.Semaphore, who string) {
	s, ok := d.semaphores[h]
	if !ok {
		d.violate("%s signals unknown semaphore %d", who, h)
		return
	}
	if s.signaled {
		d.violate("%s signals semaphore %d which is already signaled", who, h)
	}
	s.signaled = true
}

func (d *Device) wait(h driver.Semaphore, who string) {
	s, ok := d.semaphores[h]
	if !ok {
		d.violate("%s waits on unknown semaphore %d", who, h)
		return
	}
	if !s.signaled {
		d.violate("%s waits on semaphore %d with no pending signal", who, h)
	}
	s.signaled = false
}

func (d *Device) QueueSubmit(q driver.Queue, submits []driver.SubmitInfo, fh driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Submits++
	if fh != 0 {
		f, ok := d.fences[fh]
		switch {
		case !ok:
			return fmt.Errorf("unknown fence %d", fh)
		case f.pending:
			d.violate("fence %d submitted while already pending", fh)
		case f.signaled:
			d.violate("fence %d submitted while signaled", fh)
		}
	}
	b := &batch{fence: fh, queue: q}
	for _, s := range submits {
		if len(s.WaitStages) != len(s.WaitSemaphores) {
			d.violate("submit has %d wait semaphores but %d wait stages", len(s.WaitSemaphores), len(s.WaitStages))
		}
		for _, h := range s.WaitSemaphores {
			d.wait(h, "submit")
		}
		for _, h := range s.CommandBuffers {
			cb, ok := d.cbs[h]
			if !ok {
				return fmt.Errorf("unknown command buffer %d", h)
			}
			if cb.state != cbExecutable {
				d.violate("command buffer %d submitted in state %s", h, cb.state)
			}
			if cb.pending > 0 && cb.usage&driver.CommandBufferUsageSimultaneousUse == 0 {
				d.violate("command buffer %d resubmitted while pending", h)
			}
			cb.pending++
			b.cbs = append(b.cbs, h)
			for _, bh := range cb.buffers {
				if buf, ok := d.buffers[bh]; ok {
					buf.inFlight++
					b.buffers = append(b.buffers, bh)
				}
			}
			for _, ih := range cb.images {
				if img, ok := d.images[ih]; ok {
					img.inFlight++
					b.images = append(b.images, ih)
				}
			}
		}
		for _, h := range s.SignalSemaphores {
			d.signal(h, "submit")
		}
	}
	if fh != 0 {
		d.fences[fh].pending = true
	}
	d.timeline = append(d.timeline, b)
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.timeline) > 0 {
		d.violate("device destroyed with %d batches in flight", len(d.timeline))
	}
	d.destroyed = true
}
