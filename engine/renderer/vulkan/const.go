package vulkan

/**
 * @brief Upper bound on frame-in-flight slots
 */
const VULKAN_MAX_FRAMES_IN_FLIGHT uint32 = 3

/**
 * @brief Max number of bindings in a descriptor group
 */
const VULKAN_MAX_DESCRIPTOR_BINDINGS int = 32

/**
 * @brief Capacity the deletion queue starts with; it grows on demand
 */
const VULKAN_DELETION_QUEUE_CAPACITY uint32 = 64
