package vulkan

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s CommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in render pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED:
		return "not allocated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type CommandBuffer struct {
	Handle driver.CommandBuffer
	// Command buffer state.
	State CommandBufferState

	device driver.Device
	pool   *CommandPool
	// the fence and generation of the last submission
	fence      *Fence
	generation uint64
}

func stateError(cb *CommandBuffer, op string) error {
	return errors.Wrapf(core.ErrInvalidCommandBufferState, "%s in state %s", op, cb.State)
}

// Begin starts recording. Re-recording a submitted buffer requires Reset
// first.
func (cb *CommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	if cb.State != COMMAND_BUFFER_STATE_READY && cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return stateError(cb, "begin")
	}
	var usage driver.CommandBufferUsage
	if isSingleUse {
		usage |= driver.CommandBufferUsageOneTimeSubmit
	}
	if isRenderpassContinue {
		usage |= driver.CommandBufferUsageRenderPassContinue
	}
	if isSimultaneousUse {
		usage |= driver.CommandBufferUsageSimultaneousUse
	}
	if err := cb.device.BeginCommandBuffer(cb.Handle, usage); err != nil {
		core.LogError("failed to begin command buffer: %v", err)
		return errors.Wrap(err, "failed to begin command buffer")
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		return stateError(cb, "end")
	}
	if err := cb.device.EndCommandBuffer(cb.Handle); err != nil {
		core.LogError("failed to end command buffer: %v", err)
		return errors.Wrap(err, "failed to end command buffer")
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// UpdateSubmitted records that the buffer went to the queue with fence as
// part of submission generation.
func (cb *CommandBuffer) UpdateSubmitted(fence *Fence, generation uint64) {
	cb.State = COMMAND_BUFFER_STATE_SUBMITTED
	cb.fence = fence
	cb.generation = generation
}

// Reset makes a submitted buffer recordable again. It fails while the
// submission is not known to have completed.
func (cb *CommandBuffer) Reset() error {
	switch cb.State {
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED, COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return stateError(cb, "reset")
	case COMMAND_BUFFER_STATE_SUBMITTED:
		if cb.fence != nil && !cb.fence.Done(cb.generation) {
			return errors.Wrapf(core.ErrInvalidCommandBufferState, "reset while submission %d may still execute", cb.generation)
		}
	}
	cb.State = COMMAND_BUFFER_STATE_READY
	cb.fence = nil
	return nil
}

// Recording reports whether commands may be recorded outside a render pass.
func (cb *CommandBuffer) recording(op string) error {
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		return stateError(cb, op)
	}
	return nil
}

func (cb *CommandBuffer) CopyBuffer(src, dst *Buffer, srcOffset, dstOffset, size uint64) error {
	if err := cb.recording("copy buffer"); err != nil {
		return err
	}
	cb.device.CmdCopyBuffer(cb.Handle, src.Handle, dst.Handle, []driver.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	return nil
}

func (cb *CommandBuffer) CopyBufferToImage(src *Buffer, dst *Image, level uint32) error {
	if err := cb.recording("copy buffer to image"); err != nil {
		return err
	}
	w, h := MipExtent(dst.Width, dst.Height, level)
	cb.device.CmdCopyBufferToImage(cb.Handle, src.Handle, dst.Handle, driver.ImageLayoutTransferDst, []driver.BufferImageCopy{{
		Subresource: driver.ImageSubresourceLayers{Aspect: dst.Aspect, MipLevel: level, LayerCount: 1},
		ImageExtent: driver.Extent3D{Width: w, Height: h, Depth: 1},
	}})
	return nil
}

func (cb *CommandBuffer) CopyImageToBuffer(src *Image, level uint32, dst *Buffer) error {
	if err := cb.recording("copy image to buffer"); err != nil {
		return err
	}
	w, h := MipExtent(src.Width, src.Height, level)
	cb.device.CmdCopyImageToBuffer(cb.Handle, src.Handle, driver.ImageLayoutTransferSrc, dst.Handle, []driver.BufferImageCopy{{
		Subresource: driver.ImageSubresourceLayers{Aspect: src.Aspect, MipLevel: level, LayerCount: 1},
		ImageExtent: driver.Extent3D{Width: w, Height: h, Depth: 1},
	}})
	return nil
}
