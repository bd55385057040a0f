package vkdriver

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

func (d *Device) CreateBuffer(size uint64, usage driver.BufferUsage) (driver.Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var b vk.Buffer
	if err := check(vk.CreateBuffer(d.handle, &info, nil, &b), "vkCreateBuffer"); err != nil {
		return 0, err
	}
	return driver.Buffer(d.buffers.put(b)), nil
}

func (d *Device) DestroyBuffer(h driver.Buffer) {
	if b, ok := d.buffers.take(uint64(h)); ok {
		vk.DestroyBuffer(d.handle, b, nil)
	}
}

func requirements(reqs vk.MemoryRequirements) driver.MemoryRequirements {
	reqs.Deref()
	return driver.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Device) BufferMemoryRequirements(h driver.Buffer) driver.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, d.buffers.get(uint64(h)), &reqs)
	return requirements(reqs)
}

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, error) {
	create := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var img vk.Image
	if err := check(vk.CreateImage(d.handle, &create, nil, &img), "vkCreateImage"); err != nil {
		return 0, err
	}
	return driver.Image(d.images.put(img)), nil
}

func (d *Device) DestroyImage(h driver.Image) {
	if img, ok := d.images.take(uint64(h)); ok {
		vk.DestroyImage(d.handle, img, nil)
	}
}

func (d *Device) ImageMemoryRequirements(h driver.Image) driver.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, d.images.get(uint64(h)), &reqs)
	return requirements(reqs)
}

func (d *Device) AllocateMemory(size uint64, typeIndex uint32) (driver.Memory, error) {
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}
	var mem vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.handle, &info, nil, &mem), "vkAllocateMemory"); err != nil {
		return 0, err
	}
	return driver.Memory(d.memories.put(mem)), nil
}

func (d *Device) FreeMemory(h driver.Memory) {
	if mem, ok := d.memories.take(uint64(h)); ok {
		vk.FreeMemory(d.handle, mem, nil)
	}
}

func (d *Device) BindBufferMemory(b driver.Buffer, mem driver.Memory, offset uint64) error {
	res := vk.BindBufferMemory(d.handle, d.buffers.get(uint64(b)), d.memories.get(uint64(mem)), vk.DeviceSize(offset))
	return check(res, "vkBindBufferMemory")
}

func (d *Device) BindImageMemory(img driver.Image, mem driver.Memory, offset uint64) error {
	res := vk.BindImageMemory(d.handle, d.images.get(uint64(img)), d.memories.get(uint64(mem)), vk.DeviceSize(offset))
	return check(res, "vkBindImageMemory")
}

func (d *Device) MapMemory(h driver.Memory, size uint64) ([]byte, error) {
	var ptr unsafe.Pointer
	res := vk.MapMemory(d.handle, d.memories.get(uint64(h)), 0, vk.DeviceSize(size), 0, &ptr)
	if err := check(res, "vkMapMemory"); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (d *Device) UnmapMemory(h driver.Memory) {
	vk.UnmapMemory(d.handle, d.memories.get(uint64(h)))
}

func (d *Device) CreateImageView(info driver.ImageViewCreateInfo) (driver.ImageView, error) {
	create := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            d.images.get(uint64(info.Image)),
		ViewType:         vk.ImageViewType2d,
		Format:           vk.Format(info.Format),
		SubresourceRange: subresourceRange(info.Range),
	}
	var v vk.ImageView
	if err := check(vk.CreateImageView(d.handle, &create, nil, &v), "vkCreateImageView"); err != nil {
		return 0, err
	}
	return driver.ImageView(d.views.put(v)), nil
}

func (d *Device) DestroyImageView(h driver.ImageView) {
	if v, ok := d.views.take(uint64(h)); ok {
		vk.DestroyImageView(d.handle, v, nil)
	}
}

func (d *Device) CreateSampler(info driver.SamplerCreateInfo) (driver.Sampler, error) {
	create := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(info.MagFilter),
		MinFilter:               vk.Filter(info.MinFilter),
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0,
		MaxLod:                  info.MaxLod,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if info.AnisotropyEnable {
		create.AnisotropyEnable = vk.True
		create.MaxAnisotropy = info.MaxAnisotropy
	}
	var s vk.Sampler
	if err := check(vk.CreateSampler(d.handle, &create, nil, &s), "vkCreateSampler"); err != nil {
		return 0, err
	}
	return driver.Sampler(d.samplers.put(s)), nil
}

func (d *Device) DestroySampler(h driver.Sampler) {
	if s, ok := d.samplers.take(uint64(h)); ok {
		vk.DestroySampler(d.handle, s, nil)
	}
}

// CreateRenderPass builds a single-subpass pass with one cleared color
// attachment and an optional cleared depth attachment.
func (d *Device) CreateRenderPass(info driver.RenderPassCreateInfo) (driver.RenderPass, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         vk.Format(info.ColorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayout(info.ColorFinal),
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	if info.DepthFormat != driver.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vk.Format(info.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}
	create := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var rp vk.RenderPass
	if err := check(vk.CreateRenderPass(d.handle, &create, nil, &rp), "vkCreateRenderPass"); err != nil {
		return 0, err
	}
	return driver.RenderPass(d.passes.put(rp)), nil
}

func (d *Device) DestroyRenderPass(h driver.RenderPass) {
	if rp, ok := d.passes.take(uint64(h)); ok {
		vk.DestroyRenderPass(d.handle, rp, nil)
	}
}

func (d *Device) CreateFramebuffer(info driver.FramebufferCreateInfo) (driver.Framebuffer, error) {
	views := make([]vk.ImageView, len(info.Attachments))
	for i, v := range info.Attachments {
		views[i] = d.views.get(uint64(v))
	}
	create := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.passes.get(uint64(info.RenderPass)),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.handle, &create, nil, &fb), "vkCreateFramebuffer"); err != nil {
		return 0, err
	}
	return driver.Framebuffer(d.framebuffers.put(fb)), nil
}

func (d *Device) DestroyFramebuffer(h driver.Framebuffer) {
	if fb, ok := d.framebuffers.take(uint64(h)); ok {
		vk.DestroyFramebuffer(d.handle, fb, nil)
	}
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorSetLayoutBinding) (driver.DescriptorSetLayout, error) {
	native := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		native[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(native)),
		PBindings:    native,
	}
	var l vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(d.handle, &info, nil, &l), "vkCreateDescriptorSetLayout"); err != nil {
		return 0, err
	}
	return driver.DescriptorSetLayout(d.layouts.put(l)), nil
}

func (d *Device) DestroyDescriptorSetLayout(h driver.DescriptorSetLayout) {
	if l, ok := d.layouts.take(uint64(h)); ok {
		vk.DestroyDescriptorSetLayout(d.handle, l, nil)
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (driver.DescriptorPool, error) {
	native := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		native[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(native)),
		PPoolSizes:    native,
	}
	var p vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(d.handle, &info, nil, &p), "vkCreateDescriptorPool"); err != nil {
		return 0, err
	}
	return driver.DescriptorPool(d.dpools.put(p)), nil
}

// DestroyDescriptorPool implicitly frees the sets allocated from it.
func (d *Device) DestroyDescriptorPool(h driver.DescriptorPool) {
	if p, ok := d.dpools.take(uint64(h)); ok {
		vk.DestroyDescriptorPool(d.handle, p, nil)
	}
}

func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.dpools.get(uint64(pool)),
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.layouts.get(uint64(layout))},
	}
	var set vk.DescriptorSet
	if err := check(vk.AllocateDescriptorSets(d.handle, &info, &set), "vkAllocateDescriptorSets"); err != nil {
		return 0, err
	}
	return driver.DescriptorSet(d.dsets.put(set)), nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	native := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		nw := vk.WriteDescriptorSet{
			SType:          vk.StructureTypeWriteDescriptorSet,
			DstSet:         d.dsets.get(uint64(w.Set)),
			DstBinding:     w.Binding,
			DescriptorType: vk.DescriptorType(w.Type),
		}
		for _, b := range w.Buffers {
			nw.PBufferInfo = append(nw.PBufferInfo, vk.DescriptorBufferInfo{
				Buffer: d.buffers.get(uint64(b.Buffer)),
				Offset: vk.DeviceSize(b.Offset),
				Range:  vk.DeviceSize(b.Range),
			})
		}
		for _, img := range w.Images {
			nw.PImageInfo = append(nw.PImageInfo, vk.DescriptorImageInfo{
				Sampler:     d.samplers.get(uint64(img.Sampler)),
				ImageView:   d.views.get(uint64(img.View)),
				ImageLayout: vk.ImageLayout(img.Layout),
			})
		}
		nw.DescriptorCount = uint32(len(nw.PBufferInfo) + len(nw.PImageInfo))
		native[i] = nw
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(native)), native, 0, nil)
}
