package core

import (
	"github.com/pkg/errors"
)

var (
	// fatal at initialization
	ErrNoSuitableDevice = errors.New("no suitable physical device")
	ErrOutOfMemory      = errors.New("no compatible memory type or memory exhausted")
	ErrContextExists    = errors.New("a rendering context is already alive")

	// recoverable by rebuilding the swapchain and everything sized by it
	ErrSwapchainOutOfDate = errors.New("swapchain out of date or suboptimal, rebuilding")

	// programming errors
	ErrUnsupportedTransition     = errors.New("unsupported image layout transition")
	ErrDescriptorMismatch        = errors.New("descriptor binding mismatch")
	ErrInvalidCommandBufferState = errors.New("invalid command buffer state")
	ErrTicketConsumed            = errors.New("frame ticket already consumed")

	// the GPU stopped answering; everything has to be torn down
	ErrDeviceLost = errors.New("device lost")

	ErrUnknown = errors.New("unknown")
)

// IsRecoverable reports whether err can be handled by rebuilding the
// swapchain and its dependents and carrying on with the next frame.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate)
}
