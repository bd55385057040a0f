package vkdriver

import (
	"sync"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// Device is a Vulkan logical device.
type Device struct {
	inst   *Instance
	handle vk.Device

	next atomic.Uint64

	qmu    sync.Mutex
	queues map[driver.Queue]vk.Queue

	fences       *table[vk.Fence]
	semaphores   *table[vk.Semaphore]
	swapchains   *table[vk.Swapchain]
	pools        *table[vk.CommandPool]
	cbs          *table[vk.CommandBuffer]
	buffers      *table[vk.Buffer]
	images       *table[vk.Image]
	memories     *table[vk.DeviceMemory]
	views        *table[vk.ImageView]
	samplers     *table[vk.Sampler]
	passes       *table[vk.RenderPass]
	framebuffers *table[vk.Framebuffer]
	layouts      *table[vk.DescriptorSetLayout]
	dpools       *table[vk.DescriptorPool]
	dsets        *table[vk.DescriptorSet]

	scmu     sync.Mutex
	scImages map[driver.Swapchain][]driver.Image
}

func newDevice(inst *Instance, handle vk.Device) *Device {
	d := &Device{
		inst:     inst,
		handle:   handle,
		queues:   make(map[driver.Queue]vk.Queue),
		scImages: make(map[driver.Swapchain][]driver.Image),
	}
	d.fences = newTable[vk.Fence](&d.next)
	d.semaphores = newTable[vk.Semaphore](&d.next)
	d.swapchains = newTable[vk.Swapchain](&d.next)
	d.pools = newTable[vk.CommandPool](&d.next)
	d.cbs = newTable[vk.CommandBuffer](&d.next)
	d.buffers = newTable[vk.Buffer](&d.next)
	d.images = newTable[vk.Image](&d.next)
	d.memories = newTable[vk.DeviceMemory](&d.next)
	d.views = newTable[vk.ImageView](&d.next)
	d.samplers = newTable[vk.Sampler](&d.next)
	d.passes = newTable[vk.RenderPass](&d.next)
	d.framebuffers = newTable[vk.Framebuffer](&d.next)
	d.layouts = newTable[vk.DescriptorSetLayout](&d.next)
	d.dpools = newTable[vk.DescriptorPool](&d.next)
	d.dsets = newTable[vk.DescriptorSet](&d.next)
	return d
}

func timeoutNanos(timeout time.Duration) uint64 {
	if timeout < 0 {
		return vk.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

func (d *Device) Queue(family, index uint32) driver.Queue {
	h := driver.Queue(uint64(family)<<16 | uint64(index) | 1<<40)
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if _, ok := d.queues[h]; !ok {
		var q vk.Queue
		vk.GetDeviceQueue(d.handle, family, index, &q)
		d.queues[h] = q
	}
	return h
}

func (d *Device) queue(h driver.Queue) vk.Queue {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return d.queues[h]
}

func (d *Device) WaitIdle() error {
	return check(vk.DeviceWaitIdle(d.handle), "vkDeviceWaitIdle")
}

func (d *Device) QueueWaitIdle(q driver.Queue) error {
	return check(vk.QueueWaitIdle(d.queue(q)), "vkQueueWaitIdle")
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var f vk.Fence
	if err := check(vk.CreateFence(d.handle, &info, nil, &f), "vkCreateFence"); err != nil {
		return 0, err
	}
	return driver.Fence(d.fences.put(f)), nil
}

func (d *Device) DestroyFence(h driver.Fence) {
	if f, ok := d.fences.take(uint64(h)); ok {
		vk.DestroyFence(d.handle, f, nil)
	}
}

func (d *Device) nativeFences(hs []driver.Fence) []vk.Fence {
	out := make([]vk.Fence, len(hs))
	for i, h := range hs {
		out[i] = d.fences.get(uint64(h))
	}
	return out
}

func (d *Device) WaitForFences(fences []driver.Fence, timeout time.Duration) error {
	res := vk.WaitForFences(d.handle, uint32(len(fences)), d.nativeFences(fences), vk.True, timeoutNanos(timeout))
	return check(res, "vkWaitForFences")
}

func (d *Device) ResetFences(fences []driver.Fence) error {
	return check(vk.ResetFences(d.handle, uint32(len(fences)), d.nativeFences(fences)), "vkResetFences")
}

func (d *Device) FenceSignaled(h driver.Fence) (bool, error) {
	switch res := vk.GetFenceStatus(d.handle, d.fences.get(uint64(h))); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, check(res, "vkGetFenceStatus")
	}
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var s vk.Semaphore
	if err := check(vk.CreateSemaphore(d.handle, &info, nil, &s), "vkCreateSemaphore"); err != nil {
		return 0, err
	}
	return driver.Semaphore(d.semaphores.put(s)), nil
}

func (d *Device) DestroySemaphore(h driver.Semaphore) {
	if s, ok := d.semaphores.take(uint64(h)); ok {
		vk.DestroySemaphore(d.handle, s, nil)
	}
}

func (d *Device) CreateSwapchain(info driver.SwapchainCreateInfo) (driver.Swapchain, error) {
	create := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.inst.surfaces.get(uint64(info.Surface)),
		MinImageCount:    info.MinImageCount,
		ImageFormat:      vk.Format(info.Format.Format),
		ImageColorSpace:  vk.ColorSpace(info.Format.ColorSpace),
		ImageExtent:      vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(info.Usage),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformFlagBits(info.Transform),
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentMode(info.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     d.swapchains.get(uint64(info.OldSwapchain)),
	}
	if len(info.QueueFamilies) > 1 {
		create.ImageSharingMode = vk.SharingModeConcurrent
		create.QueueFamilyIndexCount = uint32(len(info.QueueFamilies))
		create.PQueueFamilyIndices = info.QueueFamilies
	}
	var sc vk.Swapchain
	if err := check(vk.CreateSwapchain(d.handle, &create, nil, &sc), "vkCreateSwapchainKHR"); err != nil {
		return 0, err
	}
	return driver.Swapchain(d.swapchains.put(sc)), nil
}

func (d *Device) DestroySwapchain(h driver.Swapchain) {
	d.scmu.Lock()
	for _, img := range d.scImages[h] {
		d.images.take(uint64(img))
	}
	delete(d.scImages, h)
	d.scmu.Unlock()
	if sc, ok := d.swapchains.take(uint64(h)); ok {
		vk.DestroySwapchain(d.handle, sc, nil)
	}
}

func (d *Device) SwapchainImages(h driver.Swapchain) ([]driver.Image, error) {
	d.scmu.Lock()
	defer d.scmu.Unlock()
	if imgs, ok := d.scImages[h]; ok {
		return append([]driver.Image(nil), imgs...), nil
	}
	sc := d.swapchains.get(uint64(h))
	var count uint32
	if err := check(vk.GetSwapchainImages(d.handle, sc, &count, nil), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	native := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.handle, sc, &count, native), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	imgs := make([]driver.Image, count)
	for i, img := range native {
		imgs[i] = driver.Image(d.images.put(img))
	}
	d.scImages[h] = imgs
	return append([]driver.Image(nil), imgs...), nil
}

func (d *Device) AcquireNextImage(h driver.Swapchain, timeout time.Duration, signal driver.Semaphore, fence driver.Fence) (uint32, bool, error) {
	var index uint32
	res := vk.AcquireNextImage(d.handle, d.swapchains.get(uint64(h)), timeoutNanos(timeout),
		d.semaphores.get(uint64(signal)), d.fences.get(uint64(fence)), &index)
	if err := check(res, "vkAcquireNextImageKHR"); err != nil {
		return 0, false, err
	}
	return index, res == vk.Suboptimal, nil
}

func (d *Device) nativeSemaphores(hs []driver.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, len(hs))
	for i, h := range hs {
		out[i] = d.semaphores.get(uint64(h))
	}
	return out
}

func (d *Device) QueueSubmit(q driver.Queue, submits []driver.SubmitInfo, fence driver.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		stages := make([]vk.PipelineStageFlags, len(s.WaitStages))
		for j, st := range s.WaitStages {
			stages[j] = vk.PipelineStageFlags(st)
		}
		cbs := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, cb := range s.CommandBuffers {
			cbs[j] = d.cbs.get(uint64(cb))
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(s.WaitSemaphores)),
			PWaitSemaphores:      d.nativeSemaphores(s.WaitSemaphores),
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cbs)),
			PCommandBuffers:      cbs,
			SignalSemaphoreCount: uint32(len(s.SignalSemaphores)),
			PSignalSemaphores:    d.nativeSemaphores(s.SignalSemaphores),
		}
	}
	res := vk.QueueSubmit(d.queue(q), uint32(len(infos)), infos, d.fences.get(uint64(fence)))
	return check(res, "vkQueueSubmit")
}

func (d *Device) QueuePresent(q driver.Queue, info driver.PresentInfo) (bool, error) {
	res := vk.QueuePresent(d.queue(q), &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(info.WaitSemaphores)),
		PWaitSemaphores:    d.nativeSemaphores(info.WaitSemaphores),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{d.swapchains.get(uint64(info.Swapchain))},
		PImageIndices:      []uint32{info.ImageIndex},
	})
	if err := check(res, "vkQueuePresentKHR"); err != nil {
		return false, err
	}
	return res == vk.Suboptimal, nil
}

func (d *Device) Destroy() {
	if d.handle != nil {
		vk.DestroyDevice(d.handle, nil)
		d.handle = nil
	}
}
