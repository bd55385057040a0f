package systems

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/assets"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
	"github.com/spaghettifunk/vkscaffold/engine/resources"
)

const DEFAULT_TEXTURE_NAME = "default"

// Retirer destroys GPU objects once no frame in flight can use them.
type Retirer interface {
	Retire(label string, destroy func())
}

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
	Mipmaps         bool
	Anisotropy      float32
	FlipY           bool
}

// Texture is a named image plus its sampler. Until the file is loaded, and
// whenever loading fails, it shows the default texture. Generation changes
// every time Image changes, so descriptor groups know when to rebuild.
type Texture struct {
	Name       string
	Generation uint32
	Width      uint32
	Height     uint32
	Image      *vulkan.Image
	Sampler    *vulkan.Sampler

	refCount int
	owned    bool
}

type TextureSystem struct {
	Config         TextureSystemConfig
	DefaultTexture *Texture
	// Hashtable for texture lookups.
	RegisteredTextureTable map[string]*Texture

	context      *vulkan.Context
	retirer      Retirer
	jobSystem    *JobSystem
	assetManager *assets.AssetManager
}

func NewTextureSystem(config TextureSystemConfig, context *vulkan.Context, retirer Retirer, js *JobSystem, am *assets.AssetManager) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		return nil, errors.New("func NewTextureSystem - config.MaxTextureCount must be > 0")
	}
	if context == nil || retirer == nil || js == nil || am == nil {
		return nil, errors.New("func NewTextureSystem - every collaborator is required")
	}
	return &TextureSystem{
		Config:                 config,
		RegisteredTextureTable: make(map[string]*Texture),
		context:                context,
		retirer:                retirer,
		jobSystem:              js,
		assetManager:           am,
	}, nil
}

// Initialize uploads the default texture.
func (ts *TextureSystem) Initialize() error {
	const dim, tiles = 256, 8
	pixels := checkerboard(dim, tiles)
	img, err := vulkan.NewTexture(ts.context, dim, dim, driver.FormatR8G8B8A8Unorm, pixels, false)
	if err != nil {
		return errors.Wrap(err, "failed to create default texture")
	}
	sampler, err := vulkan.NewSampler(ts.context, img.MipLevels, ts.Config.Anisotropy)
	if err != nil {
		img.Destroy()
		return errors.Wrap(err, "failed to create default sampler")
	}
	ts.DefaultTexture = &Texture{
		Name:    DEFAULT_TEXTURE_NAME,
		Width:   dim,
		Height:  dim,
		Image:   img,
		Sampler: sampler,
		owned:   true,
	}
	return nil
}

// Shutdown retires every texture, the default one included.
func (ts *TextureSystem) Shutdown() error {
	for name, t := range ts.RegisteredTextureTable {
		ts.retire(t)
		delete(ts.RegisteredTextureTable, name)
	}
	if ts.DefaultTexture != nil {
		ts.retire(ts.DefaultTexture)
		ts.DefaultTexture = nil
	}
	return nil
}

// Acquire returns the texture called name, an asset path, and starts loading
// it the first time it is asked for. Each Acquire needs a Release.
func (ts *TextureSystem) Acquire(name string) (*Texture, error) {
	if name == DEFAULT_TEXTURE_NAME {
		core.LogWarn("func texture system Acquire called for default texture. Use DefaultTexture instead")
		return ts.DefaultTexture, nil
	}
	if t, ok := ts.RegisteredTextureTable[name]; ok {
		t.refCount++
		return t, nil
	}
	if uint32(len(ts.RegisteredTextureTable)) >= ts.Config.MaxTextureCount {
		return nil, fmt.Errorf("texture system is full (%d textures)", ts.Config.MaxTextureCount)
	}

	t := &Texture{Name: name, refCount: 1}
	ts.bindDefault(t)
	ts.RegisteredTextureTable[name] = t
	if err := ts.load(t); err != nil {
		delete(ts.RegisteredTextureTable, name)
		return nil, err
	}
	return t, nil
}

func (ts *TextureSystem) Release(name string) {
	// Ignore release requests for the default texture.
	if name == DEFAULT_TEXTURE_NAME {
		return
	}
	t, ok := ts.RegisteredTextureTable[name]
	if !ok {
		core.LogWarn("texture %s released but never acquired", name)
		return
	}
	t.refCount--
	if t.refCount > 0 {
		return
	}
	delete(ts.RegisteredTextureTable, name)
	ts.retire(t)
	core.LogDebug("texture %s released", name)
}

// Reload loads the file of an acquired texture again.
func (ts *TextureSystem) Reload(name string) error {
	t, ok := ts.RegisteredTextureTable[name]
	if !ok {
		return nil
	}
	return ts.load(t)
}

// Update reloads textures whose files changed. Call once per frame, before
// the job system runs its callbacks.
func (ts *TextureSystem) Update() {
	for {
		select {
		case name, ok := <-ts.assetManager.Changes():
			if !ok {
				return
			}
			if err := ts.Reload(name); err != nil {
				core.LogWarn("reloading texture %s: %s", name, err)
			}
		default:
			return
		}
	}
}

func (ts *TextureSystem) load(t *Texture) error {
	params := &resources.ImageResourceParams{FlipY: ts.Config.FlipY}
	return ts.jobSystem.Submit(JobTask{
		Name: "load texture " + t.Name,
		Run: func() (interface{}, error) {
			res, err := ts.assetManager.LoadAsset(t.Name, params)
			if err != nil {
				return nil, err
			}
			return res.Data, nil
		},
		OnComplete: func(result interface{}) {
			// released while loading
			if ts.RegisteredTextureTable[t.Name] != t {
				return
			}
			if err := ts.upload(t, result.(*resources.ImageResourceData)); err != nil {
				core.LogError("texture %s upload failed: %s", t.Name, err)
			}
		},
		OnFailure: func(err error) {
			core.LogWarn("texture %s stays on the default texture: %s", t.Name, err)
		},
	})
}

func (ts *TextureSystem) upload(t *Texture, data *resources.ImageResourceData) error {
	img, err := vulkan.NewTexture(ts.context, data.Width, data.Height, driver.FormatR8G8B8A8Unorm, data.Pixels, ts.Config.Mipmaps)
	if err != nil {
		return err
	}
	sampler, err := vulkan.NewSampler(ts.context, img.MipLevels, ts.Config.Anisotropy)
	if err != nil {
		img.Destroy()
		return err
	}

	// Frames in flight may still sample the previous image.
	ts.retire(t)
	t.Image, t.Sampler, t.owned = img, sampler, true
	t.Width, t.Height = data.Width, data.Height
	t.Generation++
	core.LogDebug("texture %s loaded: %dx%d, generation %d", t.Name, t.Width, t.Height, t.Generation)
	return nil
}

func (ts *TextureSystem) bindDefault(t *Texture) {
	t.Image = ts.DefaultTexture.Image
	t.Sampler = ts.DefaultTexture.Sampler
	t.Width, t.Height = ts.DefaultTexture.Width, ts.DefaultTexture.Height
	t.owned = false
}

// retire hands the texture's GPU objects to the retirer, unless they belong
// to the default texture.
func (ts *TextureSystem) retire(t *Texture) {
	if !t.owned {
		return
	}
	img, sampler := t.Image, t.Sampler
	ts.retirer.Retire(fmt.Sprintf("texture %s gen %d", t.Name, t.Generation), func() {
		sampler.Destroy()
		img.Destroy()
	})
	t.owned = false
}

// checkerboard builds dim*dim RGBA8 pixels alternating white and magenta.
func checkerboard(dim, tiles int) []uint8 {
	pixels := make([]uint8, dim*dim*4)
	tile := dim / tiles
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			i := (y*dim + x) * 4
			pixels[i+0] = 255
			pixels[i+1] = 255
			pixels[i+2] = 255
			pixels[i+3] = 255
			if ((x/tile)+(y/tile))%2 == 1 {
				pixels[i+1] = 0
			}
		}
	}
	return pixels
}
