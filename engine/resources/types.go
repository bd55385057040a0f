package resources

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	ResourceTypeNone ResourceType = iota
	/** @brief Image resource type. Decoded to tightly packed RGBA8. */
	ResourceTypeImage
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeImage:
		return "image"
	}
	return "none"
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource, its path relative to the assets directory. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	Type     ResourceType
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}

// ImageResourceParams are passed to the image loader.
type ImageResourceParams struct {
	/** @brief Indicates if the image should be flipped on the y-axis when loaded. */
	FlipY bool
}

type ImageResourceData struct {
	ChannelCount uint8
	Width        uint32
	Height       uint32
	// Pixels holds Width*Height*ChannelCount bytes, row by row.
	Pixels []uint8
}
