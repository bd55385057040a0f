package vulkan

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

func TestBufferRoundTrip(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())

	for _, size := range []int{1, 255, 256, 257, 4<<20 + 3} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			data := pattern(size)
			buf, err := UploadBuffer(ctx, driver.BufferUsageStorage|driver.BufferUsageTransferSrc, data)
			require.NoError(t, err)
			defer buf.Destroy()
			assert.Equal(t, MemoryLocationDeviceLocal, buf.Location)
			assert.Nil(t, buf.Mapped())

			out, err := buf.ReadBack()
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, out))
		})
	}
	assert.Empty(t, dev.Violations())
}

func TestBufferRejectsZeroSize(t *testing.T) {
	ctx, _ := newTestContext(t, DefaultConfig())
	_, err := NewBuffer(ctx, 0, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
	assert.Error(t, err)
}

func TestBufferHostVisible(t *testing.T) {
	ctx, _ := newTestContext(t, DefaultConfig())
	buf, err := NewBuffer(ctx, 16, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
	require.NoError(t, err)
	defer buf.Destroy()

	require.NoError(t, buf.LoadData(4, []byte{1, 2, 3, 4}))
	assert.Error(t, buf.LoadData(14, []byte{1, 2, 3}))
	out, err := buf.ReadBack()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, out[:8])
}

func TestBufferCopyTo(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	src, err := UploadBuffer(ctx, driver.BufferUsageTransferSrc, pattern(512))
	require.NoError(t, err)
	defer src.Destroy()
	dst, err := NewBuffer(ctx, 256, driver.BufferUsageTransferDst, MemoryLocationHostVisibleCoherent)
	require.NoError(t, err)
	defer dst.Destroy()

	require.NoError(t, src.CopyTo(dst, 256, 0, 256))
	assert.Equal(t, pattern(512)[256:], dst.Mapped())
	assert.Empty(t, dev.Violations())
}

func TestAllocatorSubAllocatesSmallBuffers(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	before := dev.Allocations()
	var bufs []*Buffer
	for i := 0; i < 8; i++ {
		buf, err := NewBuffer(ctx, 1024, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}
	// one block serves all of them
	assert.Equal(t, 1, dev.Allocations()-before)
	for _, buf := range bufs {
		buf.Destroy()
	}
}

func TestAllocatorDedicatedAllocations(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	small, err := NewBuffer(ctx, 1024, driver.BufferUsageStorage, MemoryLocationDeviceLocal)
	require.NoError(t, err)
	defer small.Destroy()
	// more than half a block gets its own memory
	large, err := NewBuffer(ctx, 40<<20, driver.BufferUsageStorage, MemoryLocationDeviceLocal)
	require.NoError(t, err)

	assert.False(t, small.allocation.Dedicated())
	assert.True(t, large.allocation.Dedicated())
	assert.Equal(t, 1, ctx.Allocator.Stats().Dedicated)

	before := dev.Allocations()
	large.Destroy()
	assert.Equal(t, before-1, dev.Allocations())
	assert.Zero(t, ctx.Allocator.Stats().Dedicated)
}

func TestAllocatorOutOfMemory(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	dev.SetAllocationLimit(1 << 20)
	_, err := NewBuffer(ctx, 4<<20, driver.BufferUsageStorage, MemoryLocationDeviceLocal)
	assert.ErrorIs(t, err, core.ErrOutOfMemory)
}

func TestMipLevels(t *testing.T) {
	assert.Equal(t, uint32(1), MipLevels(1, 1))
	assert.Equal(t, uint32(7), MipLevels(64, 32))
	assert.Equal(t, uint32(10), MipLevels(300, 512))
	assert.Equal(t, uint32(11), MipLevels(1024, 1))

	w, h := MipExtent(64, 32, 5)
	assert.Equal(t, []uint32{2, 1}, []uint32{w, h})
	w, h = MipExtent(64, 32, 6)
	assert.Equal(t, []uint32{1, 1}, []uint32{w, h})
}

func TestTextureMipChain(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	pixels := pattern(64 * 32 * TexelSize)

	img, err := NewTexture(ctx, 64, 32, driver.FormatR8G8B8A8Unorm, pixels, true)
	require.NoError(t, err)
	defer img.Destroy()
	require.Equal(t, uint32(7), img.MipLevels)

	blits := dev.Blits()
	require.Len(t, blits, 6)
	w, h := int32(64), int32(32)
	for i, blit := range blits {
		assert.Equal(t, uint32(i), blit.SrcLevel)
		assert.Equal(t, uint32(i+1), blit.DstLevel)
		assert.Equal(t, []int32{w, h}, []int32{blit.SrcW, blit.SrcH})
		nw, nh := MipExtent(64, 32, uint32(i+1))
		assert.Equal(t, []int32{int32(nw), int32(nh)}, []int32{blit.DstW, blit.DstH})
		w, h = int32(nw), int32(nh)
	}
	for level := uint32(0); level < img.MipLevels; level++ {
		assert.Equal(t, driver.ImageLayoutShaderReadOnly, dev.ImageLayout(img.Handle, level), "level %d", level)
	}

	out, err := img.ReadLevel(0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pixels, out))
	last, err := img.ReadLevel(6)
	require.NoError(t, err)
	assert.Len(t, last, TexelSize)
	_, err = img.ReadLevel(7)
	assert.Error(t, err)

	// read-back returns every level to its shader layout
	assert.Equal(t, driver.ImageLayoutShaderReadOnly, dev.ImageLayout(img.Handle, 6))
	assert.Empty(t, dev.Violations())
}

func TestTextureSolidColorSurvivesDownsampling(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	pixels := bytes.Repeat([]byte{10, 20, 30, 255}, 16*16)

	img, err := NewTexture(ctx, 16, 16, driver.FormatR8G8B8A8Unorm, pixels, true)
	require.NoError(t, err)
	defer img.Destroy()

	out, err := img.ReadLevel(img.MipLevels - 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255}, out)
	assert.Empty(t, dev.Violations())
}

func TestTextureWithoutMipmaps(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	img, err := NewTexture(ctx, 8, 8, driver.FormatR8G8B8A8Unorm, pattern(8*8*TexelSize), false)
	require.NoError(t, err)
	defer img.Destroy()

	assert.Equal(t, uint32(1), img.MipLevels)
	assert.Empty(t, dev.Blits())
	assert.Equal(t, driver.ImageLayoutShaderReadOnly, dev.ImageLayout(img.Handle, 0))
	assert.Empty(t, dev.Violations())
}

func TestTexturePixelLengthMismatch(t *testing.T) {
	ctx, _ := newTestContext(t, DefaultConfig())
	_, err := NewTexture(ctx, 4, 4, driver.FormatR8G8B8A8Unorm, make([]byte, 4*4*TexelSize-1), true)
	assert.Error(t, err)
}

func TestTextureNeedsLinearBlit(t *testing.T) {
	spec := drivertest.DefaultDeviceSpec()
	spec.FormatSupport[driver.FormatR8G8B8A8Unorm] = driver.FormatProperties{
		OptimalTiling: driver.FormatFeatureSampledImage | driver.FormatFeatureBlitSrc | driver.FormatFeatureBlitDst,
	}
	ctx, dev := newTestContext(t, DefaultConfig(), spec)

	_, err := NewTexture(ctx, 16, 16, driver.FormatR8G8B8A8Unorm, pattern(16*16*TexelSize), true)
	require.ErrorIs(t, err, ErrLinearBlitUnsupported)
	assert.Empty(t, dev.Blits())
}

func TestLookupTransition(t *testing.T) {
	allowed := [][2]driver.ImageLayout{
		{driver.ImageLayoutUndefined, driver.ImageLayoutTransferDst},
		{driver.ImageLayoutTransferDst, driver.ImageLayoutShaderReadOnly},
		{driver.ImageLayoutUndefined, driver.ImageLayoutDepthStencilAttachment},
		{driver.ImageLayoutUndefined, driver.ImageLayoutColorAttachment},
		{driver.ImageLayoutTransferDst, driver.ImageLayoutTransferSrc},
		{driver.ImageLayoutTransferSrc, driver.ImageLayoutShaderReadOnly},
		{driver.ImageLayoutShaderReadOnly, driver.ImageLayoutTransferSrc},
	}
	for _, pair := range allowed {
		masks, err := LookupTransition(pair[0], pair[1])
		require.NoError(t, err, "%s -> %s", pair[0], pair[1])
		assert.NotZero(t, masks.DstAccess)
		assert.NotZero(t, masks.DstStage)
	}

	masks, _ := LookupTransition(driver.ImageLayoutUndefined, driver.ImageLayoutTransferDst)
	assert.Zero(t, masks.SrcAccess)
	assert.Equal(t, driver.PipelineStageTopOfPipe, masks.SrcStage)

	for _, pair := range [][2]driver.ImageLayout{
		{driver.ImageLayoutShaderReadOnly, driver.ImageLayoutTransferDst},
		{driver.ImageLayoutColorAttachment, driver.ImageLayoutPresentSrc},
		{driver.ImageLayoutTransferDst, driver.ImageLayoutTransferDst},
	} {
		_, err := LookupTransition(pair[0], pair[1])
		assert.ErrorIs(t, err, core.ErrUnsupportedTransition)
	}
}

func TestTransitionLayoutRecordsNothingOnUnsupportedPair(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	img, err := NewTexture(ctx, 4, 4, driver.FormatR8G8B8A8Unorm, pattern(4*4*TexelSize), false)
	require.NoError(t, err)
	defer img.Destroy()
	before := len(dev.Barriers())

	err = ctx.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		return cb.TransitionLayout(img, driver.ImageLayoutShaderReadOnly, driver.ImageLayoutTransferDst, 0, 1)
	})
	assert.ErrorIs(t, err, core.ErrUnsupportedTransition)
	assert.Len(t, dev.Barriers(), before)
}

func TestSampler(t *testing.T) {
	ctx, _ := newTestContext(t, DefaultConfig())
	sampler, err := NewSampler(ctx, 7, 64)
	require.NoError(t, err)
	assert.NotZero(t, sampler.Handle)
	sampler.Destroy()
	assert.Zero(t, sampler.Handle)
}

func TestDescriptorGroup(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	ubo, err := NewBuffer(ctx, 64, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
	require.NoError(t, err)
	defer ubo.Destroy()
	img, err := NewTexture(ctx, 8, 8, driver.FormatR8G8B8A8Unorm, pattern(8*8*TexelSize), true)
	require.NoError(t, err)
	defer img.Destroy()
	sampler, err := NewSampler(ctx, img.MipLevels, 1)
	require.NoError(t, err)
	defer sampler.Destroy()

	group, err := NewDescriptorGroup(ctx, []DescriptorBinding{
		BufferBinding(0, driver.DescriptorTypeUniformBuffer, driver.ShaderStageVertex, ubo),
		ImageBinding(1, driver.ShaderStageFragment, img, sampler),
	})
	require.NoError(t, err)
	assert.NotZero(t, group.Set)

	writes := dev.DescriptorWrites()
	require.Len(t, writes, 2)
	assert.Equal(t, group.Set, writes[0].Set)
	assert.Equal(t, ubo.Handle, writes[0].Buffers[0].Buffer)
	assert.Equal(t, img.View, writes[1].Images[0].View)

	group.Destroy()
	assert.Zero(t, group.Pool)
	assert.Empty(t, dev.Violations())
}

func TestDescriptorGroupMismatch(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	ubo, err := NewBuffer(ctx, 64, driver.BufferUsageUniform, MemoryLocationHostVisibleCoherent)
	require.NoError(t, err)
	defer ubo.Destroy()
	uniform := BufferBinding(0, driver.DescriptorTypeUniformBuffer, driver.ShaderStageVertex, ubo)

	countMismatch := uniform
	countMismatch.Count = 2
	wrongKind := uniform
	wrongKind.Type = driver.DescriptorTypeCombinedImageSampler
	zeroCount := uniform
	zeroCount.Count = 0
	zeroCount.Buffers = nil

	cases := map[string][]DescriptorBinding{
		"empty":          nil,
		"duplicate":      {uniform, uniform},
		"count mismatch": {countMismatch},
		"wrong kind":     {wrongKind},
		"zero count":     {zeroCount},
	}
	for name, bindings := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDescriptorGroup(ctx, bindings)
			assert.ErrorIs(t, err, core.ErrDescriptorMismatch)
		})
	}
	assert.Empty(t, dev.DescriptorWrites())
}
