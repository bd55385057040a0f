package driver

import "github.com/pkg/errors"

var (
	ErrOutOfDate            = errors.New("swapchain out of date")
	ErrSurfaceLost          = errors.New("surface lost")
	ErrDeviceLost           = errors.New("device lost")
	ErrTimeout              = errors.New("wait timed out")
	ErrOutOfHostMemory      = errors.New("out of host memory")
	ErrOutOfDeviceMemory    = errors.New("out of device memory")
	ErrOutOfPoolMemory      = errors.New("out of descriptor pool memory")
	ErrMemoryMapFailed      = errors.New("memory map failed")
	ErrExtensionNotPresent  = errors.New("extension not present")
	ErrFeatureNotPresent    = errors.New("feature not present")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrUnknown              = errors.New("unknown driver error")
)
