package drivertest

import (
	"fmt"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbInvalid
)

func (s cbState) String() string {
	switch s {
	case cbInitial:
		return "initial"
	case cbRecording:
		return "recording"
	case cbExecutable:
		return "executable"
	case cbInvalid:
		return "invalid"
	}
	return "unknown"
}

type cmdBuffer struct {
	pool       driver.CommandPool
	state      cbState
	usage      driver.CommandBufferUsage
	pending    int
	inPass     bool
	cmds       []func(d *Device)
	buffers    []driver.Buffer
	images     []driver.Image
	recordings int
}

func (d *Device) CreateCommandPool(queueFamily uint32, resettable bool) (driver.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(queueFamily) >= len(d.spec.Info.QueueFamilies) {
		return 0, fmt.Errorf("queue family %d out of range", queueFamily)
	}
	h := driver.CommandPool(d.handle())
	d.pools[h] = queueFamily
	return h, nil
}

func (d *Device) DestroyCommandPool(pool driver.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, cb := range d.cbs {
		if cb.pool != pool {
			continue
		}
		if cb.pending > 0 {
			d.violate("command pool %d destroyed while command buffer %d is pending", pool, h)
		}
		delete(d.cbs, h)
	}
	delete(d.pools, pool)
}

func (d *Device) AllocateCommandBuffers(pool driver.CommandPool, count uint32, primary bool) ([]driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pools[pool]; !ok {
		return nil, fmt.Errorf("unknown command pool %d", pool)
	}
	out := make([]driver.CommandBuffer, count)
	for i := range out {
		h := driver.CommandBuffer(d.handle())
		d.cbs[h] = &cmdBuffer{pool: pool}
		out[i] = h
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(pool driver.CommandPool, cbs []driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range cbs {
		cb, ok := d.cbs[h]
		if !ok {
			continue
		}
		if cb.pending > 0 {
			d.violate("command buffer %d freed while pending", h)
		}
		delete(d.cbs, h)
	}
}

// Recordings returns how many times cb has been begun.
func (d *Device) Recordings(h driver.CommandBuffer) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.cbs[h]; ok {
		return cb.recordings
	}
	return 0
}

func (d *Device) BeginCommandBuffer(h driver.CommandBuffer, usage driver.CommandBufferUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cbs[h]
	if !ok {
		return fmt.Errorf("unknown command buffer %d", h)
	}
	if cb.pending > 0 {
		d.violate("command buffer %d re-recorded while pending", h)
	}
	if cb.state == cbRecording {
		d.violate("command buffer %d begun while recording", h)
	}
	// command pools are externally synchronized
	for other, ocb := range d.cbs {
		if other != h && ocb.pool == cb.pool && ocb.state == cbRecording {
			d.violate("command pool %d records command buffers %d and %d at once", cb.pool, other, h)
		}
	}
	cb.state = cbRecording
	cb.usage = usage
	cb.cmds = nil
	cb.buffers = nil
	cb.images = nil
	cb.inPass = false
	cb.recordings++
	return nil
}

func (d *Device) EndCommandBuffer(h driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cbs[h]
	if !ok {
		return fmt.Errorf("unknown command buffer %d", h)
	}
	if cb.state != cbRecording {
		d.violate("command buffer %d ended in state %s", h, cb.state)
	}
	if cb.inPass {
		d.violate("command buffer %d ended inside a render pass", h)
	}
	cb.state = cbExecutable
	return nil
}

func (d *Device) ResetCommandBuffer(h driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cbs[h]
	if !ok {
		return fmt.Errorf("unknown command buffer %d", h)
	}
	if cb.pending > 0 {
		d.violate("command buffer %d reset while pending", h)
	}
	cb.state = cbInitial
	cb.cmds = nil
	cb.buffers = nil
	cb.images = nil
	return nil
}

func (d *Device) recording(h driver.CommandBuffer, what string) *cmdBuffer {
	cb, ok := d.cbs[h]
	if !ok {
		d.violate("%s recorded into unknown command buffer %d", what, h)
		return nil
	}
	if cb.state != cbRecording {
		d.violate("%s recorded into command buffer %d in state %s", what, h, cb.state)
		return nil
	}
	return cb
}

func (d *Device) CmdPipelineBarrier(h driver.CommandBuffer, src, dst driver.PipelineStage, barriers []driver.ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "pipeline barrier")
	if cb == nil {
		return
	}
	bs := append([]driver.ImageBarrier(nil), barriers...)
	for _, b := range bs {
		d.barriers = append(d.barriers, BarrierRecord{ImageBarrier: b, SrcStage: src, DstStage: dst})
		cb.images = append(cb.images, b.Image)
	}
	cb.cmds = append(cb.cmds, func(d *Device) {
		for _, b := range bs {
			img, ok := d.images[b.Image]
			if !ok {
				d.violate("barrier on destroyed image %d", b.Image)
				continue
			}
			for l := b.Range.BaseMipLevel; l < b.Range.BaseMipLevel+b.Range.LevelCount && int(l) < len(img.layouts); l++ {
				if b.OldLayout != driver.ImageLayoutUndefined && img.layouts[l] != b.OldLayout {
					d.violate("barrier on image %d level %d expects %s but image is in %s", b.Image, l, b.OldLayout, img.layouts[l])
				}
				img.layouts[l] = b.NewLayout
			}
		}
	})
}

func (d *Device) CmdCopyBuffer(h driver.CommandBuffer, src, dst driver.Buffer, regions []driver.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "buffer copy")
	if cb == nil {
		return
	}
	if cb.inPass {
		d.violate("buffer copy recorded inside a render pass")
	}
	cb.buffers = append(cb.buffers, src, dst)
	rs := append([]driver.BufferCopy(nil), regions...)
	cb.cmds = append(cb.cmds, func(d *Device) {
		s, sok := d.buffers[src]
		t, tok := d.buffers[dst]
		if !sok || !tok {
			d.violate("buffer copy %d -> %d on destroyed buffer", src, dst)
			return
		}
		for _, r := range rs {
			if r.SrcOffset+r.Size > s.size || r.DstOffset+r.Size > t.size {
				d.violate("buffer copy region out of bounds")
				continue
			}
			copy(t.bytes(r.DstOffset, r.Size), s.bytes(r.SrcOffset, r.Size))
		}
	})
}

func (d *Device) CmdCopyBufferToImage(h driver.CommandBuffer, src driver.Buffer, dst driver.Image, layout driver.ImageLayout, regions []driver.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "buffer to image copy")
	if cb == nil {
		return
	}
	cb.buffers = append(cb.buffers, src)
	cb.images = append(cb.images, dst)
	rs := append([]driver.BufferImageCopy(nil), regions...)
	cb.cmds = append(cb.cmds, func(d *Device) {
		buf, bok := d.buffers[src]
		img, iok := d.images[dst]
		if !bok || !iok {
			d.violate("buffer to image copy on destroyed object")
			return
		}
		for _, r := range rs {
			lvl := r.Subresource.MipLevel
			if img.layouts[lvl] != driver.ImageLayoutTransferDst || layout != driver.ImageLayoutTransferDst {
				d.violate("copy into image %d level %d in layout %s", dst, lvl, img.layouts[lvl])
			}
			n := uint64(r.ImageExtent.Width) * uint64(r.ImageExtent.Height) * texelSize
			if r.BufferOffset+n > buf.size || n > uint64(len(img.levels[lvl])) {
				d.violate("buffer to image copy region out of bounds")
				continue
			}
			copy(img.levels[lvl], buf.bytes(r.BufferOffset, n))
		}
	})
}

func (d *Device) CmdCopyImageToBuffer(h driver.CommandBuffer, src driver.Image, layout driver.ImageLayout, dst driver.Buffer, regions []driver.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "image to buffer copy")
	if cb == nil {
		return
	}
	cb.buffers = append(cb.buffers, dst)
	cb.images = append(cb.images, src)
	rs := append([]driver.BufferImageCopy(nil), regions...)
	cb.cmds = append(cb.cmds, func(d *Device) {
		buf, bok := d.buffers[dst]
		img, iok := d.images[src]
		if !bok || !iok {
			d.violate("image to buffer copy on destroyed object")
			return
		}
		for _, r := range rs {
			lvl := r.Subresource.MipLevel
			if img.layouts[lvl] != driver.ImageLayoutTransferSrc || layout != driver.ImageLayoutTransferSrc {
				d.violate("copy from image %d level %d in layout %s", src, lvl, img.layouts[lvl])
			}
			n := uint64(r.ImageExtent.Width) * uint64(r.ImageExtent.Height) * texelSize
			if r.BufferOffset+n > buf.size || n > uint64(len(img.levels[lvl])) {
				d.violate("image to buffer copy region out of bounds")
				continue
			}
			copy(buf.bytes(r.BufferOffset, n), img.levels[lvl])
		}
	})
}

func (d *Device) CmdBlitImage(h driver.CommandBuffer, src driver.Image, srcLayout driver.ImageLayout, dst driver.Image, dstLayout driver.ImageLayout, regions []driver.ImageBlit, filter driver.Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "blit")
	if cb == nil {
		return
	}
	cb.images = append(cb.images, src, dst)
	rs := append([]driver.ImageBlit(nil), regions...)
	cb.cmds = append(cb.cmds, func(d *Device) {
		s, sok := d.images[src]
		t, tok := d.images[dst]
		if !sok || !tok {
			d.violate("blit on destroyed image")
			return
		}
		for _, r := range rs {
			sl, dl := r.SrcSubresource.MipLevel, r.DstSubresource.MipLevel
			if s.layouts[sl] != driver.ImageLayoutTransferSrc || srcLayout != driver.ImageLayoutTransferSrc {
				d.violate("blit source image %d level %d in layout %s", src, sl, s.layouts[sl])
			}
			if t.layouts[dl] != driver.ImageLayoutTransferDst || dstLayout != driver.ImageLayoutTransferDst {
				d.violate("blit destination image %d level %d in layout %s", dst, dl, t.layouts[dl])
			}
			rec := BlitRecord{
				Src: src, Dst: dst, SrcLevel: sl, DstLevel: dl,
				SrcW: r.SrcOffsets[1].X - r.SrcOffsets[0].X,
				SrcH: r.SrcOffsets[1].Y - r.SrcOffsets[0].Y,
				DstW: r.DstOffsets[1].X - r.DstOffsets[0].X,
				DstH: r.DstOffsets[1].Y - r.DstOffsets[0].Y,
			}
			d.blits = append(d.blits, rec)
			sw, sh := s.levelExtent(sl)
			dw, dh := t.levelExtent(dl)
			if rec.SrcW > int32(sw) || rec.SrcH > int32(sh) || rec.DstW > int32(dw) || rec.DstH > int32(dh) {
				d.violate("blit region exceeds level bounds")
				continue
			}
			downsample(t.levels[dl], int(rec.DstW), int(rec.DstH), int(dw), s.levels[sl], int(rec.SrcW), int(rec.SrcH), int(sw))
		}
	})
}

// downsample performs a nearest-texel scale of src into dst.
func downsample(dst []byte, dw, dh, dstride int, src []byte, sw, sh, sstride int) {
	if dw <= 0 || dh <= 0 || sw <= 0 || sh <= 0 {
		return
	}
	for y := 0; y < dh; y++ {
		sy := y * sh / dh
		for x := 0; x < dw; x++ {
			sx := x * sw / dw
			di := (y*dstride + x) * int(texelSize)
			si := (sy*sstride + sx) * int(texelSize)
			copy(dst[di:di+int(texelSize)], src[si:si+int(texelSize)])
		}
	}
}

func (d *Device) CmdBeginRenderPass(h driver.CommandBuffer, info driver.RenderPassBeginInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "begin render pass")
	if cb == nil {
		return
	}
	if cb.inPass {
		d.violate("render pass begun inside a render pass")
	}
	cb.inPass = true
	rp, ok := d.passes[info.RenderPass]
	if !ok {
		d.violate("begin of unknown render pass %d", info.RenderPass)
		return
	}
	fb, ok := d.fbs[info.Framebuffer]
	if !ok {
		d.violate("begin with unknown framebuffer %d", info.Framebuffer)
		return
	}
	if fb.Width != info.Extent.Width || fb.Height != info.Extent.Height {
		d.violate("render area %dx%d does not match framebuffer %dx%d", info.Extent.Width, info.Extent.Height, fb.Width, fb.Height)
	}
	var color driver.Image
	if len(fb.Attachments) > 0 {
		color = d.views[fb.Attachments[0]]
		cb.images = append(cb.images, color)
	}
	final := rp.ColorFinal
	cc := info.Color
	cb.cmds = append(cb.cmds, func(d *Device) {
		img, ok := d.images[color]
		if !ok {
			return
		}
		img.clear = cc
		if len(img.layouts) > 0 {
			img.layouts[0] = final
		}
	})
}

func (d *Device) CmdEndRenderPass(h driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.recording(h, "end render pass")
	if cb == nil {
		return
	}
	if !cb.inPass {
		d.violate("render pass ended outside a render pass")
	}
	cb.inPass = false
}
