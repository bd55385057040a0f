package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/resources"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

type ImageLoader struct{}

// Load decodes the image at path into tightly packed RGBA8 pixels. params
// may be nil or *resources.ImageResourceParams.
func (il *ImageLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	var flipY bool
	if p, ok := params.(*resources.ImageResourceParams); ok && p != nil {
		flipY = p.FlipY
	}

	// Open and decode the texture image file
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}

	data := toRGBA(img, flipY)
	return &resources.Resource{
		Name:     format,
		FullPath: path,
		Type:     resources.ResourceTypeImage,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (il *ImageLoader) Unload(res *resources.Resource) error {
	if res == nil {
		return errors.New("nil resource")
	}
	res.Data = nil
	res.DataSize = 0
	return nil
}

func toRGBA(img image.Image, flipY bool) *resources.ImageResourceData {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	width, height := b.Dx(), b.Dy()
	pixels := rgba.Pix
	if rgba.Stride != width*4 || flipY {
		pixels = make([]uint8, width*height*4)
		for y := 0; y < height; y++ {
			src := y
			if flipY {
				src = height - 1 - y
			}
			copy(pixels[y*width*4:(y+1)*width*4], rgba.Pix[src*rgba.Stride:src*rgba.Stride+width*4])
		}
	}
	return &resources.ImageResourceData{
		ChannelCount: 4,
		Width:        uint32(width),
		Height:       uint32(height),
		Pixels:       pixels,
	}
}
