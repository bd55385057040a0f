package vulkan

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPoolOverlappingRecordingIsReported(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	cbs, err := ctx.TransferCommandPool.Allocate(2)
	require.NoError(t, err)
	defer ctx.TransferCommandPool.Free(cbs...)

	require.NoError(t, cbs[0].Begin(true, false, false))
	require.NoError(t, cbs[1].Begin(true, false, false))
	require.NoError(t, cbs[0].End())
	require.NoError(t, cbs[1].End())

	violations := dev.Violations()
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "records command buffers")
}

func TestRunSingleUseFreesOnRecordError(t *testing.T) {
	ctx, dev := newTestContext(t, DefaultConfig())
	before := dev.LiveObjects()
	boom := fmt.Errorf("boom")

	err := ctx.TransferCommandPool.RunSingleUse(func(cb *CommandBuffer) error {
		assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, cb.State)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, dev.LiveObjects())
	assert.Zero(t, dev.Pending())
	assert.Empty(t, dev.Violations())
}

func TestConcurrentUploadsWhileRendering(t *testing.T) {
	cfg := testConfig(2, 3)
	cfg.SerializeSubmissions = true
	ctx, dev := newTestContext(t, cfg)
	h := newFrameHarness(t, ctx)

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			data := pattern(4096 + w)
			for i := 0; i < 5; i++ {
				buf, err := UploadBuffer(ctx, driver.BufferUsageStorage|driver.BufferUsageTransferSrc, data)
				if err != nil {
					errs <- err
					return
				}
				out, err := buf.ReadBack()
				buf.Destroy()
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(data, out) {
					errs <- fmt.Errorf("worker %d read back different bytes", w)
					return
				}
			}
		}(w)
	}

	for i := 0; i < 50; i++ {
		h.cycle()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Empty(t, dev.Violations())
}
