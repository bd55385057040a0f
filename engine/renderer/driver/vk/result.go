package vkdriver

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// resultString returns the VK_* name of a result code.
func resultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.EventSet:
		return "VK_EVENT_SET"
	case vk.EventReset:
		return "VK_EVENT_RESET"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorNativeWindowInUse:
		return "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case vk.ErrorIncompatibleDisplay:
		return "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorFragmentation:
		return "VK_ERROR_FRAGMENTATION"
	}
	return "VK_ERROR_UNKNOWN"
}

// sentinel maps a failing result to the driver error it represents.
func sentinel(result vk.Result) error {
	switch result {
	case vk.ErrorOutOfDate:
		return driver.ErrOutOfDate
	case vk.ErrorSurfaceLost:
		return driver.ErrSurfaceLost
	case vk.ErrorDeviceLost:
		return driver.ErrDeviceLost
	case vk.Timeout, vk.NotReady:
		return driver.ErrTimeout
	case vk.ErrorOutOfHostMemory:
		return driver.ErrOutOfHostMemory
	case vk.ErrorOutOfDeviceMemory:
		return driver.ErrOutOfDeviceMemory
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool, vk.ErrorFragmentation:
		return driver.ErrOutOfPoolMemory
	case vk.ErrorMemoryMapFailed:
		return driver.ErrMemoryMapFailed
	case vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent:
		return driver.ErrExtensionNotPresent
	case vk.ErrorFeatureNotPresent:
		return driver.ErrFeatureNotPresent
	case vk.ErrorInitializationFailed, vk.ErrorIncompatibleDriver:
		return driver.ErrInitializationFailed
	}
	return driver.ErrUnknown
}

// check turns a result into nil or a wrapped driver sentinel naming op.
// VK_SUBOPTIMAL_KHR is a success here; callers that care test for it first.
func check(result vk.Result, op string) error {
	if result == vk.Success || result == vk.Suboptimal {
		return nil
	}
	return errors.Wrapf(sentinel(result), "%s: %s", op, resultString(result))
}

const nul = "\x00"

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + nul
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}
