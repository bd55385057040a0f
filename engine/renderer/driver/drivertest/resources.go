package drivertest

import (
	"fmt"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// texelSize is the byte size of a texel of every simulated color and depth
// format.
const texelSize uint64 = 4

type memory struct {
	data      []byte
	typeIndex uint32
	mapped    bool
}

type buffer struct {
	size     uint64
	usage    driver.BufferUsage
	mem      *memory
	memH     driver.Memory
	offset   uint64
	inFlight int
}

func (b *buffer) bytes(off, n uint64) []byte {
	if b.mem == nil {
		return make([]byte, n)
	}
	start := b.offset + off
	return b.mem.data[start : start+n]
}

type image struct {
	info     driver.ImageCreateInfo
	layouts  []driver.ImageLayout
	levels   [][]byte
	owner    driver.Swapchain
	mem      *memory
	inFlight int
	clear    driver.ClearColor
}

func newImage(info driver.ImageCreateInfo) *image {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	img := &image{
		info:    info,
		layouts: make([]driver.ImageLayout, info.MipLevels),
		levels:  make([][]byte, info.MipLevels),
	}
	for l := range img.levels {
		w, h := img.levelExtent(uint32(l))
		img.levels[l] = make([]byte, uint64(w)*uint64(h)*texelSize)
	}
	return img
}

func (img *image) levelExtent(level uint32) (uint32, uint32) {
	w, h := img.info.Extent.Width>>level, img.info.Extent.Height>>level
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

func (img *image) byteSize() uint64 {
	var n uint64
	for _, l := range img.levels {
		n += uint64(len(l))
	}
	return n
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

func (d *Device) allTypes() uint32 {
	return uint32(1)<<uint(len(d.spec.Info.Memory.Types)) - 1
}

// SetAllocationLimit caps the total bytes of live device memory. Allocations
// beyond it fail with ErrOutOfDeviceMemory. Zero removes the cap.
func (d *Device) SetAllocationLimit(limit uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limit = limit
}

// Allocations returns the number of live memory allocations.
func (d *Device) Allocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.memories)
}

// ImageLayout returns the current layout of one mip level.
func (d *Device) ImageLayout(h driver.Image, level uint32) driver.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok || int(level) >= len(img.layouts) {
		return driver.ImageLayoutUndefined
	}
	return img.layouts[level]
}

// ImageLevel returns a copy of the texels of one mip level.
func (d *Device) ImageLevel(h driver.Image, level uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok || int(level) >= len(img.levels) {
		return nil
	}
	return append([]byte(nil), img.levels[level]...)
}

// ClearColor returns the color the last executed render pass cleared img to.
func (d *Device) ClearColor(h driver.Image) driver.ClearColor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images[h]; ok {
		return img.clear
	}
	return driver.ClearColor{}
}

func (d *Device) CreateBuffer(size uint64, usage driver.BufferUsage) (driver.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size == 0 {
		d.violate("buffer created with zero size")
	}
	h := driver.Buffer(d.handle())
	d.buffers[h] = &buffer{size: size, usage: usage}
	return h, nil
}

func (d *Device) DestroyBuffer(h driver.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[h]; ok && b.inFlight > 0 {
		d.violate("buffer %d destroyed while in use by pending work", h)
	}
	delete(d.buffers, h)
}

func (d *Device) BufferMemoryRequirements(h driver.Buffer) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return driver.MemoryRequirements{}
	}
	return driver.MemoryRequirements{
		Size:           alignUp(b.size, BufferAlignment),
		Alignment:      BufferAlignment,
		MemoryTypeBits: d.allTypes(),
	}
}

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return 0, fmt.Errorf("image extent %dx%d is empty", info.Extent.Width, info.Extent.Height)
	}
	h := driver.Image(d.handle())
	d.images[h] = newImage(info)
	return h, nil
}

func (d *Device) DestroyImage(h driver.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return
	}
	if img.owner != 0 {
		d.violate("swapchain image %d destroyed by the application", h)
		return
	}
	if img.inFlight > 0 {
		d.violate("image %d destroyed while in use by pending work", h)
	}
	delete(d.images, h)
}

func (d *Device) ImageMemoryRequirements(h driver.Image) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return driver.MemoryRequirements{}
	}
	return driver.MemoryRequirements{
		Size:           alignUp(img.byteSize(), BufferAlignment),
		Alignment:      BufferAlignment,
		MemoryTypeBits: d.allTypes() & d.deviceLocalTypes(),
	}
}

func (d *Device) deviceLocalTypes() uint32 {
	var bits uint32
	for i, t := range d.spec.Info.Memory.Types {
		if t.Properties&driver.MemoryPropertyDeviceLocal != 0 {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

func (d *Device) liveBytes() uint64 {
	var n uint64
	for _, m := range d.memories {
		n += uint64(len(m.data))
	}
	return n
}

func (d *Device) AllocateMemory(size uint64, typeIndex uint32) (driver.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(typeIndex) >= len(d.spec.Info.Memory.Types) {
		return 0, fmt.Errorf("memory type %d out of range", typeIndex)
	}
	if d.limit > 0 && d.liveBytes()+size > d.limit {
		return 0, driver.ErrOutOfDeviceMemory
	}
	h := driver.Memory(d.handle())
	d.memories[h] = &memory{data: make([]byte, size), typeIndex: typeIndex}
	return h, nil
}

func (d *Device) FreeMemory(h driver.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for bh, b := range d.buffers {
		if b.memH == h && b.inFlight > 0 {
			d.violate("memory %d freed while buffer %d is in use", h, bh)
		}
	}
	delete(d.memories, h)
}

func (d *Device) BindBufferMemory(h driver.Buffer, mh driver.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("unknown buffer %d", h)
	}
	m, ok := d.memories[mh]
	if !ok {
		return fmt.Errorf("unknown memory %d", mh)
	}
	if b.mem != nil {
		d.violate("buffer %d bound twice", h)
	}
	if offset%BufferAlignment != 0 {
		d.violate("buffer %d bound at unaligned offset %d", h, offset)
	}
	if offset+b.size > uint64(len(m.data)) {
		return fmt.Errorf("buffer %d does not fit memory %d at offset %d", h, mh, offset)
	}
	b.mem, b.memH, b.offset = m, mh, offset
	return nil
}

func (d *Device) BindImageMemory(h driver.Image, mh driver.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return fmt.Errorf("unknown image %d", h)
	}
	m, ok := d.memories[mh]
	if !ok {
		return fmt.Errorf("unknown memory %d", mh)
	}
	if offset%BufferAlignment != 0 {
		d.violate("image %d bound at unaligned offset %d", h, offset)
	}
	if offset+img.byteSize() > uint64(len(m.data)) {
		return fmt.Errorf("image %d does not fit memory %d at offset %d", h, mh, offset)
	}
	img.mem = m
	return nil
}

func (d *Device) MapMemory(h driver.Memory, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[h]
	if !ok {
		return nil, fmt.Errorf("unknown memory %d", h)
	}
	props := d.spec.Info.Memory.Types[m.typeIndex].Properties
	if props&driver.MemoryPropertyHostVisible == 0 {
		return nil, driver.ErrMemoryMapFailed
	}
	if m.mapped {
		d.violate("memory %d mapped twice", h)
	}
	if size > uint64(len(m.data)) {
		return nil, driver.ErrMemoryMapFailed
	}
	m.mapped = true
	return m.data[:size:size], nil
}

func (d *Device) UnmapMemory(h driver.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.memories[h]; ok {
		m.mapped = false
	}
}

func (d *Device) CreateImageView(info driver.ImageViewCreateInfo) (driver.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images[info.Image]; !ok {
		return 0, fmt.Errorf("unknown image %d", info.Image)
	}
	h := driver.ImageView(d.handle())
	d.views[h] = info.Image
	return h, nil
}

func (d *Device) DestroyImageView(h driver.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.views, h)
}

func (d *Device) CreateSampler(info driver.SamplerCreateInfo) (driver.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.AnisotropyEnable && info.MaxAnisotropy > d.spec.Info.Limits.MaxSamplerAnisotropy {
		d.violate("sampler anisotropy %v exceeds device limit", info.MaxAnisotropy)
	}
	h := driver.Sampler(d.handle())
	d.samplers[h] = info
	return h, nil
}

func (d *Device) DestroySampler(h driver.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, h)
}

func (d *Device) CreateRenderPass(info driver.RenderPassCreateInfo) (driver.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.RenderPass(d.handle())
	d.passes[h] = info
	return h, nil
}

func (d *Device) DestroyRenderPass(h driver.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.passes, h)
}

func (d *Device) CreateFramebuffer(info driver.FramebufferCreateInfo) (driver.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.passes[info.RenderPass]; !ok {
		return 0, fmt.Errorf("unknown render pass %d", info.RenderPass)
	}
	for _, v := range info.Attachments {
		if _, ok := d.views[v]; !ok {
			return 0, fmt.Errorf("unknown image view %d", v)
		}
	}
	h := driver.Framebuffer(d.handle())
	info.Attachments = append([]driver.ImageView(nil), info.Attachments...)
	d.fbs[h] = info
	return h, nil
}

func (d *Device) DestroyFramebuffer(h driver.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fbs, h)
}
