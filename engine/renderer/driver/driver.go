// Package driver defines the thin, Vulkan-shaped interface the renderer core
// talks to. It exists so the frame loop and resource code can run against the
// real Vulkan driver (package vkdriver) or against the GPU timeline simulator
// in drivertest.
//
// Handles are opaque integers; the zero handle is null. Enumerations carry the
// Vulkan numeric values. Functions returning an error map failing Vulkan
// results to the sentinels in errors.go.
package driver

import (
	"time"
	"unsafe"
)

// SurfaceSource is a native window able to produce a presentable surface.
// *glfw.Window satisfies it.
type SurfaceSource interface {
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (surface uintptr, err error)
}

// MessageSink receives validation/diagnostic messages from the driver.
type MessageSink func(severity Severity, message string)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityPerformance
	SeverityError
	SeverityDebug
)

// Instance is the process-level entry point of a driver.
type Instance interface {
	// Name identifies the driver implementation.
	Name() string
	// Native returns the underlying API instance, as surface creation needs it.
	Native() interface{}
	SetMessageSink(sink MessageSink)

	CreateSurface(src SurfaceSource) (Surface, error)
	DestroySurface(surface Surface)

	EnumeratePhysicalDevices() ([]PhysicalDevice, error)
	PhysicalDeviceInfo(pd PhysicalDevice) (PhysicalDeviceInfo, error)
	SurfaceSupport(pd PhysicalDevice, queueFamily uint32, surface Surface) (bool, error)
	SurfaceCapabilities(pd PhysicalDevice, surface Surface) (SurfaceCapabilities, error)
	SurfaceFormats(pd PhysicalDevice, surface Surface) ([]SurfaceFormat, error)
	SurfacePresentModes(pd PhysicalDevice, surface Surface) ([]PresentMode, error)
	FormatProperties(pd PhysicalDevice, format Format) FormatProperties

	CreateDevice(pd PhysicalDevice, info DeviceCreateInfo) (Device, error)

	Destroy()
}

// Device is a logical device. None of its methods lock: callers serialize
// access to queues.
type Device interface {
	Queue(family, index uint32) Queue
	WaitIdle() error
	QueueWaitIdle(q Queue) error

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	// WaitForFences blocks until every fence is signaled or the timeout
	// expires (ErrTimeout). A negative timeout never expires.
	WaitForFences(fences []Fence, timeout time.Duration) error
	ResetFences(fences []Fence) error
	FenceSignaled(f Fence) (bool, error)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
	DestroySwapchain(sc Swapchain)
	SwapchainImages(sc Swapchain) ([]Image, error)
	// AcquireNextImage returns ErrOutOfDate when the swapchain can no longer
	// be used. suboptimal is reported alongside a valid index.
	AcquireNextImage(sc Swapchain, timeout time.Duration, signal Semaphore, fence Fence) (index uint32, suboptimal bool, err error)

	QueueSubmit(q Queue, submits []SubmitInfo, fence Fence) error
	QueuePresent(q Queue, info PresentInfo) (suboptimal bool, err error)

	CreateCommandPool(queueFamily uint32, resettable bool) (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count uint32, primary bool) ([]CommandBuffer, error)
	FreeCommandBuffers(pool CommandPool, cbs []CommandBuffer)
	BeginCommandBuffer(cb CommandBuffer, usage CommandBufferUsage) error
	EndCommandBuffer(cb CommandBuffer) error
	ResetCommandBuffer(cb CommandBuffer) error

	CmdPipelineBarrier(cb CommandBuffer, src, dst PipelineStage, barriers []ImageBarrier)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdCopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
	CmdCopyImageToBuffer(cb CommandBuffer, src Image, layout ImageLayout, dst Buffer, regions []BufferImageCopy)
	CmdBlitImage(cb CommandBuffer, src Image, srcLayout ImageLayout, dst Image, dstLayout ImageLayout, regions []ImageBlit, filter Filter)
	CmdBeginRenderPass(cb CommandBuffer, info RenderPassBeginInfo)
	CmdEndRenderPass(cb CommandBuffer)

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	DestroyBuffer(b Buffer)
	BufferMemoryRequirements(b Buffer) MemoryRequirements
	CreateImage(info ImageCreateInfo) (Image, error)
	DestroyImage(img Image)
	ImageMemoryRequirements(img Image) MemoryRequirements
	AllocateMemory(size uint64, typeIndex uint32) (Memory, error)
	FreeMemory(mem Memory)
	BindBufferMemory(b Buffer, mem Memory, offset uint64) error
	BindImageMemory(img Image, mem Memory, offset uint64) error
	// MapMemory maps the whole allocation. The returned slice aliases device
	// memory and is valid until UnmapMemory.
	MapMemory(mem Memory, size uint64) ([]byte, error)
	UnmapMemory(mem Memory)

	CreateImageView(info ImageViewCreateInfo) (ImageView, error)
	DestroyImageView(v ImageView)
	CreateSampler(info SamplerCreateInfo) (Sampler, error)
	DestroySampler(s Sampler)

	CreateRenderPass(info RenderPassCreateInfo) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(info FramebufferCreateInfo) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	DestroyDescriptorPool(p DescriptorPool)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	Destroy()
}
