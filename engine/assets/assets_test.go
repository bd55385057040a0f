package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/vkscaffold/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// twoRows is 2x2: red over blue.
func twoRows() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
		img.Set(x, 1, color.NRGBA{B: 255, A: 255})
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func newManager(t *testing.T, dir string) *AssetManager {
	t.Helper()
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir))
	t.Cleanup(am.Shutdown)
	return am
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "textures"), 0o755))
	writePNG(t, filepath.Join(dir, "textures", "rows.png"), twoRows())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	am := newManager(t, dir)
	assert.Equal(t, 1, am.Count())

	res, err := am.LoadAsset("textures/rows.png", nil)
	require.NoError(t, err)
	assert.Equal(t, "textures/rows.png", res.Name)
	assert.Equal(t, resources.ResourceTypeImage, res.Type)

	data := res.Data.(*resources.ImageResourceData)
	assert.Equal(t, uint32(2), data.Width)
	assert.Equal(t, uint32(2), data.Height)
	assert.Equal(t, uint8(4), data.ChannelCount)
	assert.Equal(t, []uint8{
		255, 0, 0, 255, 255, 0, 0, 255,
		0, 0, 255, 255, 0, 0, 255, 255,
	}, data.Pixels)
	assert.Equal(t, uint64(16), res.DataSize)

	flipped, err := am.LoadAsset("textures/rows.png", &resources.ImageResourceParams{FlipY: true})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), flipped.Data.(*resources.ImageResourceData).Pixels[0])
	assert.Equal(t, uint8(255), flipped.Data.(*resources.ImageResourceData).Pixels[2])

	require.NoError(t, am.UnloadAsset(res))
	assert.Nil(t, res.Data)
}

func TestLoadBMP(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, twoRows()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.bmp"), buf.Bytes(), 0o644))

	am := newManager(t, dir)
	res, err := am.LoadAsset("rows.bmp", nil)
	require.NoError(t, err)
	data := res.Data.(*resources.ImageResourceData)
	assert.Equal(t, []uint8{255, 0, 0, 255}, data.Pixels[:4])
}

func TestLoadMissingAsset(t *testing.T) {
	am := newManager(t, t.TempDir())
	_, err := am.LoadAsset("nope.png", nil)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestChangedAssetIsReported(t *testing.T) {
	dir := t.TempDir()
	am := newManager(t, dir)

	writePNG(t, filepath.Join(dir, "late.png"), twoRows())
	select {
	case name := <-am.Changes():
		assert.Equal(t, "late.png", name)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	// the first event may arrive before the file is fully written
	require.Eventually(t, func() bool {
		_, err := am.LoadAsset("late.png", nil)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownWithoutInitialize(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	am.Shutdown()
	am.Shutdown()
	_, open := <-am.Changes()
	assert.False(t, open)
}
