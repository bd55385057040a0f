package vulkan

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// Buffer is a device buffer bound to memory from the context allocator. It
// must not be destroyed while a submission that uses it may still execute.
type Buffer struct {
	ID       uuid.UUID
	Handle   driver.Buffer
	Size     uint64
	Usage    driver.BufferUsage
	Location MemoryLocation

	context    *Context
	allocation *Allocation
}

func NewBuffer(context *Context, size uint64, usage driver.BufferUsage, location MemoryLocation) (*Buffer, error) {
	if size == 0 {
		return nil, errors.New("buffer size must be greater than zero")
	}
	device := context.Device.LogicalDevice
	handle, err := device.CreateBuffer(size, usage)
	if err != nil {
		return nil, deviceError(err, "create buffer")
	}

	alloc, err := context.Allocator.Allocate(device.BufferMemoryRequirements(handle), location)
	if err != nil {
		device.DestroyBuffer(handle)
		core.LogError("failed to allocate %d bytes of %s memory: %v", size, location, err)
		return nil, err
	}
	if err := device.BindBufferMemory(handle, alloc.Memory, alloc.Offset); err != nil {
		context.Allocator.Free(alloc)
		device.DestroyBuffer(handle)
		return nil, deviceError(err, "bind buffer memory")
	}

	return &Buffer{
		ID:         uuid.New(),
		Handle:     handle,
		Size:       size,
		Usage:      usage,
		Location:   location,
		context:    context,
		allocation: alloc,
	}, nil
}

// Mapped returns the host view of the buffer, or nil for device-local memory.
func (b *Buffer) Mapped() []byte {
	if b.allocation == nil || b.allocation.Mapped == nil {
		return nil
	}
	return b.allocation.Mapped[:b.Size:b.Size]
}

// LoadData writes data at offset through the host mapping.
func (b *Buffer) LoadData(offset uint64, data []byte) error {
	mapped := b.Mapped()
	if mapped == nil {
		return errors.Errorf("buffer %s is not host visible", b.ID)
	}
	if offset+uint64(len(data)) > b.Size {
		return errors.Errorf("write of %d bytes at %d overflows buffer %s of %d bytes", len(data), offset, b.ID, b.Size)
	}
	copy(mapped[offset:], data)
	return nil
}

// Upload copies data to offset through a host-visible staging buffer and a
// single-use transfer. The buffer needs TRANSFER_DST usage.
func (b *Buffer) Upload(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset+uint64(len(data)) > b.Size {
		return errors.Errorf("upload of %d bytes at %d overflows buffer %s of %d bytes", len(data), offset, b.ID, b.Size)
	}
	staging, err := NewBuffer(b.context, uint64(len(data)), driver.BufferUsageTransferSrc, MemoryLocationHostVisibleCoherent)
	if err != nil {
		return err
	}
	defer staging.Destroy()
	if err := staging.LoadData(0, data); err != nil {
		return err
	}
	return b.context.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		return cb.CopyBuffer(staging, b, 0, offset, uint64(len(data)))
	})
}

// UploadBuffer creates a device-local buffer holding data.
func UploadBuffer(context *Context, usage driver.BufferUsage, data []byte) (*Buffer, error) {
	buf, err := NewBuffer(context, uint64(len(data)), usage|driver.BufferUsageTransferDst, MemoryLocationDeviceLocal)
	if err != nil {
		return nil, err
	}
	if err := buf.Upload(0, data); err != nil {
		buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// ReadBack copies the buffer contents to host memory. The buffer needs
// TRANSFER_SRC usage unless it is host visible.
func (b *Buffer) ReadBack() ([]byte, error) {
	if mapped := b.Mapped(); mapped != nil {
		return append([]byte(nil), mapped...), nil
	}
	staging, err := NewBuffer(b.context, b.Size, driver.BufferUsageTransferDst, MemoryLocationHostVisibleCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	if err := b.CopyTo(staging, 0, 0, b.Size); err != nil {
		return nil, err
	}
	return append([]byte(nil), staging.Mapped()...), nil
}

// CopyTo copies size bytes into dst with a single-use transfer.
func (b *Buffer) CopyTo(dst *Buffer, srcOffset, dstOffset, size uint64) error {
	return b.context.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		return cb.CopyBuffer(b, dst, srcOffset, dstOffset, size)
	})
}

// Destroy releases the buffer. Callers wait for the GPU first, or defer the
// call through FrameScheduler.Retire.
func (b *Buffer) Destroy() {
	if b.Handle == 0 {
		return
	}
	b.context.Device.LogicalDevice.DestroyBuffer(b.Handle)
	b.context.Allocator.Free(b.allocation)
	b.Handle = 0
	b.allocation = nil
}
