package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, uint32(2), Clamp(uint32(1), 2, 8))
	assert.Equal(t, uint32(8), Clamp(uint32(9), 2, 8))
	assert.Equal(t, uint32(5), Clamp(uint32(5), 2, 8))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(uint64(0), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(1), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint64(512), AlignUp(uint64(257), 256))
	assert.Equal(t, uint64(7), AlignUp(uint64(7), 0))
}

func TestLog2Floor(t *testing.T) {
	assert.Equal(t, uint32(0), Log2Floor(0))
	assert.Equal(t, uint32(0), Log2Floor(1))
	assert.Equal(t, uint32(9), Log2Floor(512))
	assert.Equal(t, uint32(9), Log2Floor(1023))
	assert.Equal(t, uint32(10), Log2Floor(1024))
}

func TestPulseRange(t *testing.T) {
	for s := 0.0; s < 3; s += 0.1 {
		p := Pulse(s, 2)
		assert.GreaterOrEqual(t, p, float32(0))
		assert.LessOrEqual(t, p, float32(1))
	}
	assert.Equal(t, float32(0), Pulse(1, 0))
}
