package driver

import "time"

// Opaque object handles. The zero value of every handle is the null handle.
type (
	PhysicalDevice      uint64
	Surface             uint64
	Queue               uint64
	Fence               uint64
	Semaphore           uint64
	Swapchain           uint64
	CommandPool         uint64
	CommandBuffer       uint64
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	Memory              uint64
	RenderPass          uint64
	Framebuffer         uint64
	DescriptorSetLayout uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
)

// Infinite is the timeout used when a wait must never expire.
const Infinite time.Duration = -1

// UndefinedExtent is the surface "current extent" sentinel meaning the
// application may choose the swapchain size.
const UndefinedExtent uint32 = 0xFFFFFFFF

// The enumerations below share their numeric values with the Vulkan API so a
// driver can convert them with a plain cast.

type ImageLayout uint32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutGeneral                ImageLayout = 1
	ImageLayoutColorAttachment        ImageLayout = 2
	ImageLayoutDepthStencilAttachment ImageLayout = 3
	ImageLayoutDepthStencilReadOnly   ImageLayout = 4
	ImageLayoutShaderReadOnly         ImageLayout = 5
	ImageLayoutTransferSrc            ImageLayout = 6
	ImageLayoutTransferDst            ImageLayout = 7
	ImageLayoutPreinitialized         ImageLayout = 8
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "UNDEFINED"
	case ImageLayoutGeneral:
		return "GENERAL"
	case ImageLayoutColorAttachment:
		return "COLOR_ATTACHMENT_OPTIMAL"
	case ImageLayoutDepthStencilAttachment:
		return "DEPTH_STENCIL_ATTACHMENT_OPTIMAL"
	case ImageLayoutDepthStencilReadOnly:
		return "DEPTH_STENCIL_READ_ONLY_OPTIMAL"
	case ImageLayoutShaderReadOnly:
		return "SHADER_READ_ONLY_OPTIMAL"
	case ImageLayoutTransferSrc:
		return "TRANSFER_SRC_OPTIMAL"
	case ImageLayoutTransferDst:
		return "TRANSFER_DST_OPTIMAL"
	case ImageLayoutPreinitialized:
		return "PREINITIALIZED"
	case ImageLayoutPresentSrc:
		return "PRESENT_SRC_KHR"
	}
	return "UNKNOWN_LAYOUT"
}

type AccessFlags uint32

const (
	AccessIndirectCommandRead         AccessFlags = 0x00000001
	AccessIndexRead                   AccessFlags = 0x00000002
	AccessVertexAttributeRead         AccessFlags = 0x00000004
	AccessUniformRead                 AccessFlags = 0x00000008
	AccessInputAttachmentRead         AccessFlags = 0x00000010
	AccessShaderRead                  AccessFlags = 0x00000020
	AccessShaderWrite                 AccessFlags = 0x00000040
	AccessColorAttachmentRead         AccessFlags = 0x00000080
	AccessColorAttachmentWrite        AccessFlags = 0x00000100
	AccessDepthStencilAttachmentRead  AccessFlags = 0x00000200
	AccessDepthStencilAttachmentWrite AccessFlags = 0x00000400
	AccessTransferRead                AccessFlags = 0x00000800
	AccessTransferWrite               AccessFlags = 0x00001000
	AccessHostRead                    AccessFlags = 0x00002000
	AccessHostWrite                   AccessFlags = 0x00004000
	AccessMemoryRead                  AccessFlags = 0x00008000
	AccessMemoryWrite                 AccessFlags = 0x00010000
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe             PipelineStage = 0x00000001
	PipelineStageDrawIndirect          PipelineStage = 0x00000002
	PipelineStageVertexInput           PipelineStage = 0x00000004
	PipelineStageVertexShader          PipelineStage = 0x00000008
	PipelineStageFragmentShader        PipelineStage = 0x00000080
	PipelineStageEarlyFragmentTests    PipelineStage = 0x00000100
	PipelineStageLateFragmentTests     PipelineStage = 0x00000200
	PipelineStageColorAttachmentOutput PipelineStage = 0x00000400
	PipelineStageComputeShader         PipelineStage = 0x00000800
	PipelineStageTransfer              PipelineStage = 0x00001000
	PipelineStageBottomOfPipe          PipelineStage = 0x00002000
	PipelineStageHost                  PipelineStage = 0x00004000
	PipelineStageAllGraphics           PipelineStage = 0x00008000
	PipelineStageAllCommands           PipelineStage = 0x00010000
)

type Format uint32

const (
	FormatUndefined       Format = 0
	FormatR8G8B8A8Unorm   Format = 37
	FormatR8G8B8A8Srgb    Format = 43
	FormatB8G8R8A8Unorm   Format = 44
	FormatB8G8R8A8Srgb    Format = 50
	FormatD16Unorm        Format = 124
	FormatD32Sfloat       Format = 126
	FormatD24UnormS8Uint  Format = 129
	FormatD32SfloatS8Uint Format = 130
)

// HasStencil reports whether a depth format carries a stencil component.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

// IsDepth reports whether f is a depth (or depth/stencil) format.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	}
	return false
}

type ColorSpace uint32

const ColorSpaceSrgbNonlinear ColorSpace = 0

type PresentMode uint32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "IMMEDIATE"
	case PresentModeMailbox:
		return "MAILBOX"
	case PresentModeFifo:
		return "FIFO"
	case PresentModeFifoRelaxed:
		return "FIFO_RELAXED"
	}
	return "UNKNOWN_PRESENT_MODE"
}

type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 0x1
	QueueCompute  QueueFlags = 0x2
	QueueTransfer QueueFlags = 0x4
)

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal  MemoryProperty = 0x1
	MemoryPropertyHostVisible  MemoryProperty = 0x2
	MemoryPropertyHostCoherent MemoryProperty = 0x4
	MemoryPropertyHostCached   MemoryProperty = 0x8
)

type MemoryHeapFlags uint32

const MemoryHeapDeviceLocal MemoryHeapFlags = 0x1

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 0x001
	BufferUsageTransferDst BufferUsage = 0x002
	BufferUsageUniform     BufferUsage = 0x010
	BufferUsageStorage     BufferUsage = 0x020
	BufferUsageIndex       BufferUsage = 0x040
	BufferUsageVertex      BufferUsage = 0x080
	BufferUsageIndirect    BufferUsage = 0x100
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x01
	ImageUsageTransferDst            ImageUsage = 0x02
	ImageUsageSampled                ImageUsage = 0x04
	ImageUsageStorage                ImageUsage = 0x08
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
)

type ImageAspect uint32

const (
	ImageAspectColor   ImageAspect = 0x1
	ImageAspectDepth   ImageAspect = 0x2
	ImageAspectStencil ImageAspect = 0x4
)

type FormatFeature uint32

const (
	FormatFeatureSampledImage             FormatFeature = 0x0001
	FormatFeatureColorAttachment          FormatFeature = 0x0080
	FormatFeatureDepthStencilAttachment   FormatFeature = 0x0200
	FormatFeatureBlitSrc                  FormatFeature = 0x0400
	FormatFeatureBlitDst                  FormatFeature = 0x0800
	FormatFeatureSampledImageFilterLinear FormatFeature = 0x1000
)

type Filter uint32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type DescriptorType uint32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "SAMPLER"
	case DescriptorTypeCombinedImageSampler:
		return "COMBINED_IMAGE_SAMPLER"
	case DescriptorTypeSampledImage:
		return "SAMPLED_IMAGE"
	case DescriptorTypeStorageImage:
		return "STORAGE_IMAGE"
	case DescriptorTypeUniformBuffer:
		return "UNIFORM_BUFFER"
	case DescriptorTypeStorageBuffer:
		return "STORAGE_BUFFER"
	}
	return "UNKNOWN_DESCRIPTOR_TYPE"
}

// IsImage reports whether descriptors of this type reference images or samplers.
func (t DescriptorType) IsImage() bool {
	switch t {
	case DescriptorTypeSampler, DescriptorTypeCombinedImageSampler,
		DescriptorTypeSampledImage, DescriptorTypeStorageImage:
		return true
	}
	return false
}

type ShaderStage uint32

const (
	ShaderStageVertex      ShaderStage = 0x01
	ShaderStageFragment    ShaderStage = 0x10
	ShaderStageCompute     ShaderStage = 0x20
	ShaderStageAllGraphics ShaderStage = 0x1F
)

type PhysicalDeviceType uint32

const (
	PhysicalDeviceTypeOther      PhysicalDeviceType = 0
	PhysicalDeviceTypeIntegrated PhysicalDeviceType = 1
	PhysicalDeviceTypeDiscrete   PhysicalDeviceType = 2
	PhysicalDeviceTypeVirtual    PhysicalDeviceType = 3
	PhysicalDeviceTypeCPU        PhysicalDeviceType = 4
)

func (t PhysicalDeviceType) String() string {
	switch t {
	case PhysicalDeviceTypeIntegrated:
		return "Integrated"
	case PhysicalDeviceTypeDiscrete:
		return "Discrete"
	case PhysicalDeviceTypeVirtual:
		return "Virtual"
	case PhysicalDeviceTypeCPU:
		return "CPU"
	}
	return "Unknown"
}

type CommandBufferUsage uint32

const (
	CommandBufferUsageOneTimeSubmit      CommandBufferUsage = 0x1
	CommandBufferUsageRenderPassContinue CommandBufferUsage = 0x2
	CommandBufferUsageSimultaneousUse    CommandBufferUsage = 0x4
)

type Extent2D struct {
	Width  uint32
	Height uint32
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type SurfaceCapabilities struct {
	MinImageCount  uint32
	MaxImageCount  uint32
	CurrentExtent  Extent2D
	MinImageExtent Extent2D
	MaxImageExtent Extent2D
	// CurrentTransform is passed through to swapchain creation untouched.
	CurrentTransform uint32
}

type QueueFamilyProperties struct {
	Flags QueueFlags
	Count uint32
}

type MemoryType struct {
	Properties MemoryProperty
	HeapIndex  uint32
}

type MemoryHeap struct {
	Size  uint64
	Flags MemoryHeapFlags
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type Limits struct {
	MaxSamplerAnisotropy            float32
	MinUniformBufferOffsetAlignment uint64
	NonCoherentAtomSize             uint64
	MaxImageDimension2D             uint32
}

type Features struct {
	SamplerAnisotropy bool
}

// PhysicalDeviceInfo gathers everything device selection looks at.
type PhysicalDeviceInfo struct {
	Name          string
	Type          PhysicalDeviceType
	APIVersion    uint32
	DriverVersion uint32
	Limits        Limits
	Features      Features
	QueueFamilies []QueueFamilyProperties
	Extensions    []string
	Memory        MemoryProperties
}

type FormatProperties struct {
	LinearTiling  FormatFeature
	OptimalTiling FormatFeature
}

type DeviceCreateInfo struct {
	QueueFamilies     []uint32
	Extensions        []string
	SamplerAnisotropy bool
}

type SwapchainCreateInfo struct {
	Surface       Surface
	MinImageCount uint32
	Format        SurfaceFormat
	Extent        Extent2D
	Usage         ImageUsage
	// QueueFamilies lists the families sharing the images. More than one
	// distinct family selects concurrent sharing.
	QueueFamilies []uint32
	Transform     uint32
	PresentMode   PresentMode
	OldSwapchain  Swapchain
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     uint32
}

type ImageSubresourceRange struct {
	Aspect         ImageAspect
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

type ImageBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
	OldLayout ImageLayout
	NewLayout ImageLayout
	Image     Image
	Range     ImageSubresourceRange
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type Offset3D struct {
	X, Y, Z int32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

type ImageSubresourceLayers struct {
	Aspect         ImageAspect
	MipLevel       uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

type BufferImageCopy struct {
	BufferOffset uint64
	Subresource  ImageSubresourceLayers
	ImageOffset  Offset3D
	ImageExtent  Extent3D
}

type ImageBlit struct {
	SrcSubresource ImageSubresourceLayers
	SrcOffsets     [2]Offset3D
	DstSubresource ImageSubresourceLayers
	DstOffsets     [2]Offset3D
}

type ImageCreateInfo struct {
	Format    Format
	Extent    Extent3D
	MipLevels uint32
	Usage     ImageUsage
}

type ImageViewCreateInfo struct {
	Image  Image
	Format Format
	Range  ImageSubresourceRange
}

type SamplerCreateInfo struct {
	MagFilter        Filter
	MinFilter        Filter
	AnisotropyEnable bool
	MaxAnisotropy    float32
	MaxLod           float32
}

type RenderPassCreateInfo struct {
	ColorFormat Format
	// DepthFormat may be FormatUndefined for a color-only pass.
	DepthFormat Format
	ColorFinal  ImageLayout
}

type FramebufferCreateInfo struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
}

type ClearColor [4]float32

type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Offset      [2]int32
	Extent      Extent2D
	Color       ClearColor
	// Depth and Stencil are only used when the pass has a depth attachment.
	HasDepth bool
	Depth    float32
	Stencil  uint32
}

type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler Sampler
	View    ImageView
	Layout  ImageLayout
}

type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    DescriptorType
	Buffers []DescriptorBufferInfo
	Images  []DescriptorImageInfo
}
