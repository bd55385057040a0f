package systems

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unsafe"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct{}

func (window) CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error) {
	return 1, nil
}

func (window) GetFramebufferSize() (int, int) { return 800, 600 }

// retirer collects deletions and runs them on demand.
type retirer struct {
	labels  []string
	pending []func()
}

func (r *retirer) Retire(label string, destroy func()) {
	r.labels = append(r.labels, label)
	r.pending = append(r.pending, destroy)
}

func (r *retirer) flush() {
	for _, fn := range r.pending {
		fn()
	}
	r.pending = nil
}

func writeSolidPNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

type textureFixture struct {
	sm      *SystemManager
	ctx     *vulkan.Context
	device  *drivertest.Device
	retirer *retirer
	dir     string
}

// newTextureFixture writes files into the assets directory before the
// asset manager scans it.
func newTextureFixture(t *testing.T, files ...func(dir string)) *textureFixture {
	t.Helper()
	gpu := drivertest.New()
	ctx, err := vulkan.NewContext(gpu, window{}, vulkan.DefaultConfig())
	require.NoError(t, err)

	dir := t.TempDir()
	for _, write := range files {
		write(dir)
	}
	r := &retirer{}
	sm, err := NewSystemManager(SystemManagerConfig{
		AssetsDir: dir,
		Workers:   2,
		Texture:   TextureSystemConfig{Mipmaps: true, Anisotropy: 4},
	}, ctx, r)
	require.NoError(t, err)

	dev := gpu.LogicalDevice()
	t.Cleanup(func() {
		require.NoError(t, sm.Shutdown())
		require.NoError(t, ctx.WaitIdle())
		r.flush()
		assert.Empty(t, dev.Violations())
		ctx.Destroy()
		gpu.Destroy()
	})
	return &textureFixture{sm: sm, ctx: ctx, device: dev, retirer: r, dir: dir}
}

// waitFor runs the per-frame update until cond holds.
func (f *textureFixture) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		f.sm.Update()
		time.Sleep(time.Millisecond)
	}
}

func TestTextureLoadsInBackground(t *testing.T) {
	f := newTextureFixture(t, func(dir string) {
		writeSolidPNG(t, filepath.Join(dir, "wall.png"), 32, 16, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	})
	ts := f.sm.TextureSystem
	require.Equal(t, 1, f.sm.AssetManager.Count())

	tex, err := ts.Acquire("wall.png")
	require.NoError(t, err)
	// shows the default texture until the upload happened
	assert.Same(t, ts.DefaultTexture.Image, tex.Image)
	assert.Zero(t, tex.Generation)

	f.waitFor(t, func() bool { return tex.Generation == 1 })
	assert.NotSame(t, ts.DefaultTexture.Image, tex.Image)
	assert.Equal(t, uint32(32), tex.Width)
	assert.Equal(t, uint32(16), tex.Height)
	assert.Equal(t, vulkan.MipLevels(32, 16), tex.Image.MipLevels)

	level, err := tex.Image.ReadLevel(tex.Image.MipLevels - 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255}, level)

	again, err := ts.Acquire("wall.png")
	require.NoError(t, err)
	assert.Same(t, tex, again)

	ts.Release("wall.png")
	assert.Empty(t, f.retirer.pending)
	ts.Release("wall.png")
	assert.Len(t, f.retirer.pending, 1)
	assert.NotContains(t, ts.RegisteredTextureTable, "wall.png")
}

func TestTextureHotReloadRetiresPreviousImage(t *testing.T) {
	f := newTextureFixture(t, func(dir string) {
		writeSolidPNG(t, filepath.Join(dir, "swap.png"), 8, 8, color.NRGBA{R: 255, A: 255})
	})
	path := filepath.Join(f.dir, "swap.png")
	ts := f.sm.TextureSystem

	tex, err := ts.Acquire("swap.png")
	require.NoError(t, err)
	f.waitFor(t, func() bool { return tex.Generation == 1 })
	first := tex.Image

	writeSolidPNG(t, path, 4, 4, color.NRGBA{G: 255, A: 255})
	f.waitFor(t, func() bool { return tex.Width == 4 })
	assert.NotSame(t, first, tex.Image)
	assert.Contains(t, f.retirer.labels, "texture swap.png gen 1")
	// the old image lives until the retirer says so
	assert.NotZero(t, first.Handle)
	require.NoError(t, f.ctx.WaitIdle())
	f.retirer.flush()
	assert.Zero(t, first.Handle)
}

func TestTextureMissingFileKeepsDefault(t *testing.T) {
	f := newTextureFixture(t)
	ts := f.sm.TextureSystem

	tex, err := ts.Acquire("missing.png")
	require.NoError(t, err)
	f.waitFor(t, func() bool { return f.sm.JobSystem.Pending() == 0 })
	assert.Same(t, ts.DefaultTexture.Image, tex.Image)

	// nothing of the default texture is ever retired by a release
	ts.Release("missing.png")
	assert.Empty(t, f.retirer.pending)
}

func TestDefaultTexture(t *testing.T) {
	f := newTextureFixture(t)
	ts := f.sm.TextureSystem

	tex, err := ts.Acquire(DEFAULT_TEXTURE_NAME)
	require.NoError(t, err)
	assert.Same(t, ts.DefaultTexture, tex)
	assert.Equal(t, uint32(256), tex.Width)

	pixels := checkerboard(4, 2)
	assert.Equal(t, []uint8{255, 255, 255, 255}, pixels[0:4])
	// second tile of the first row
	assert.Equal(t, []uint8{255, 0, 255, 255}, pixels[8:12])
}

func TestTextureSystemLimit(t *testing.T) {
	f := newTextureFixture(t)
	ts := f.sm.TextureSystem
	ts.Config.MaxTextureCount = 1

	_, err := ts.Acquire("a.png")
	require.NoError(t, err)
	_, err = ts.Acquire("b.png")
	assert.Error(t, err)
	f.waitFor(t, func() bool { return f.sm.JobSystem.Pending() == 0 })
	ts.Release("a.png")
}
