package systems

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain runs Update until every submitted job has reported back.
func drain(t *testing.T, js *JobSystem) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for js.Pending() > 0 {
		require.True(t, time.Now().Before(deadline), "jobs still pending")
		js.Update()
		time.Sleep(time.Millisecond)
	}
}

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobCallbacksRunInUpdate(t *testing.T) {
	js, err := NewJobSystem(3, 4)
	require.NoError(t, err)
	defer js.Shutdown()

	var ran atomic.Int32
	completed, failed, sum := 0, 0, 0
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, js.Submit(JobTask{
			Name: "square",
			Run: func() (interface{}, error) {
				ran.Add(1)
				if i == 3 {
					return nil, boom
				}
				return i * i, nil
			},
			OnComplete: func(result interface{}) {
				completed++
				sum += result.(int)
			},
			OnFailure: func(err error) {
				failed++
				assert.ErrorIs(t, err, boom)
			},
		}))
	}
	drain(t, js)
	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, 9, completed)
	assert.Equal(t, 1, failed)
	// 0+1+4+...+81 without 9
	assert.Equal(t, 276, sum)
	assert.Zero(t, js.Update())
}

func TestJobSystemShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)

	var ran atomic.Int32
	require.NoError(t, js.Submit(JobTask{Run: func() (interface{}, error) {
		ran.Add(1)
		return nil, nil
	}}))
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	assert.Equal(t, int32(1), ran.Load())
	assert.ErrorIs(t, js.Submit(JobTask{}), ErrJobSystemClosed)
}
