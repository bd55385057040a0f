package vkdriver

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

func (d *Device) CreateCommandPool(queueFamily uint32, resettable bool) (driver.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
	}
	if resettable {
		info.Flags = vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.handle, &info, nil, &pool), "vkCreateCommandPool"); err != nil {
		return 0, err
	}
	return driver.CommandPool(d.pools.put(pool)), nil
}

func (d *Device) DestroyCommandPool(h driver.CommandPool) {
	if pool, ok := d.pools.take(uint64(h)); ok {
		vk.DestroyCommandPool(d.handle, pool, nil)
	}
}

func (d *Device) AllocateCommandBuffers(h driver.CommandPool, count uint32, primary bool) ([]driver.CommandBuffer, error) {
	level := vk.CommandBufferLevelPrimary
	if !primary {
		level = vk.CommandBufferLevelSecondary
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pools.get(uint64(h)),
		Level:              level,
		CommandBufferCount: count,
	}
	native := make([]vk.CommandBuffer, count)
	if err := check(vk.AllocateCommandBuffers(d.handle, &info, native), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	out := make([]driver.CommandBuffer, count)
	for i, cb := range native {
		out[i] = driver.CommandBuffer(d.cbs.put(cb))
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(h driver.CommandPool, cbs []driver.CommandBuffer) {
	native := make([]vk.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		if n, ok := d.cbs.take(uint64(cb)); ok {
			native = append(native, n)
		}
	}
	if len(native) > 0 {
		vk.FreeCommandBuffers(d.handle, d.pools.get(uint64(h)), uint32(len(native)), native)
	}
}

func (d *Device) BeginCommandBuffer(h driver.CommandBuffer, usage driver.CommandBufferUsage) error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(usage),
	}
	return check(vk.BeginCommandBuffer(d.cbs.get(uint64(h)), &info), "vkBeginCommandBuffer")
}

func (d *Device) EndCommandBuffer(h driver.CommandBuffer) error {
	return check(vk.EndCommandBuffer(d.cbs.get(uint64(h))), "vkEndCommandBuffer")
}

func (d *Device) ResetCommandBuffer(h driver.CommandBuffer) error {
	return check(vk.ResetCommandBuffer(d.cbs.get(uint64(h)), 0), "vkResetCommandBuffer")
}

func subresourceRange(r driver.ImageSubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(r.Aspect),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

func subresourceLayers(l driver.ImageSubresourceLayers) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(l.Aspect),
		MipLevel:       l.MipLevel,
		BaseArrayLayer: l.BaseArrayLayer,
		LayerCount:     l.LayerCount,
	}
}

func offset3D(o driver.Offset3D) vk.Offset3D {
	return vk.Offset3D{X: o.X, Y: o.Y, Z: o.Z}
}

func (d *Device) CmdPipelineBarrier(h driver.CommandBuffer, src, dst driver.PipelineStage, barriers []driver.ImageBarrier) {
	native := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		native[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               d.images.get(uint64(b.Image)),
			SubresourceRange:    subresourceRange(b.Range),
		}
	}
	vk.CmdPipelineBarrier(d.cbs.get(uint64(h)),
		vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		0, nil,
		0, nil,
		uint32(len(native)), native)
}

func (d *Device) CmdCopyBuffer(h driver.CommandBuffer, src, dst driver.Buffer, regions []driver.BufferCopy) {
	native := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		native[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.cbs.get(uint64(h)), d.buffers.get(uint64(src)), d.buffers.get(uint64(dst)), uint32(len(native)), native)
}

func bufferImageCopies(regions []driver.BufferImageCopy) []vk.BufferImageCopy {
	native := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		native[i] = vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(r.BufferOffset),
			ImageSubresource: subresourceLayers(r.Subresource),
			ImageOffset:      offset3D(r.ImageOffset),
			ImageExtent: vk.Extent3D{
				Width:  r.ImageExtent.Width,
				Height: r.ImageExtent.Height,
				Depth:  r.ImageExtent.Depth,
			},
		}
	}
	return native
}

func (d *Device) CmdCopyBufferToImage(h driver.CommandBuffer, src driver.Buffer, dst driver.Image, layout driver.ImageLayout, regions []driver.BufferImageCopy) {
	native := bufferImageCopies(regions)
	vk.CmdCopyBufferToImage(d.cbs.get(uint64(h)), d.buffers.get(uint64(src)), d.images.get(uint64(dst)),
		vk.ImageLayout(layout), uint32(len(native)), native)
}

func (d *Device) CmdCopyImageToBuffer(h driver.CommandBuffer, src driver.Image, layout driver.ImageLayout, dst driver.Buffer, regions []driver.BufferImageCopy) {
	native := bufferImageCopies(regions)
	vk.CmdCopyImageToBuffer(d.cbs.get(uint64(h)), d.images.get(uint64(src)), vk.ImageLayout(layout),
		d.buffers.get(uint64(dst)), uint32(len(native)), native)
}

func (d *Device) CmdBlitImage(h driver.CommandBuffer, src driver.Image, srcLayout driver.ImageLayout, dst driver.Image, dstLayout driver.ImageLayout, regions []driver.ImageBlit, filter driver.Filter) {
	native := make([]vk.ImageBlit, len(regions))
	for i, r := range regions {
		native[i] = vk.ImageBlit{
			SrcSubresource: subresourceLayers(r.SrcSubresource),
			SrcOffsets:     [2]vk.Offset3D{offset3D(r.SrcOffsets[0]), offset3D(r.SrcOffsets[1])},
			DstSubresource: subresourceLayers(r.DstSubresource),
			DstOffsets:     [2]vk.Offset3D{offset3D(r.DstOffsets[0]), offset3D(r.DstOffsets[1])},
		}
	}
	vk.CmdBlitImage(d.cbs.get(uint64(h)),
		d.images.get(uint64(src)), vk.ImageLayout(srcLayout),
		d.images.get(uint64(dst)), vk.ImageLayout(dstLayout),
		uint32(len(native)), native, vk.Filter(filter))
}

func (d *Device) CmdBeginRenderPass(h driver.CommandBuffer, info driver.RenderPassBeginInfo) {
	clears := make([]vk.ClearValue, 1, 2)
	clears[0].SetColor(info.Color[:])
	if info.HasDepth {
		var depth vk.ClearValue
		depth.SetDepthStencil(info.Depth, info.Stencil)
		clears = append(clears, depth)
	}
	begin := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  d.passes.get(uint64(info.RenderPass)),
		Framebuffer: d.framebuffers.get(uint64(info.Framebuffer)),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: info.Offset[0], Y: info.Offset[1]},
			Extent: vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(d.cbs.get(uint64(h)), &begin, vk.SubpassContentsInline)
}

func (d *Device) CmdEndRenderPass(h driver.CommandBuffer) {
	vk.CmdEndRenderPass(d.cbs.get(uint64(h)))
}
