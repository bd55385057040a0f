package math

import (
	m "math"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

func Min[T Number](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T Number](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Clamp returns v limited to [lo, hi].
func Clamp[T Number](v, lo, hi T) T {
	return Max(lo, Min(v, hi))
}

// AlignUp rounds v up to a multiple of align. align must be a power of two.
func AlignUp[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Log2Floor returns floor(log2(v)) for v > 0, and 0 otherwise.
func Log2Floor(v uint32) uint32 {
	var r uint32
	for v > 1 {
		v >>= 1
		r++
	}
	return r
}

// Pulse returns a value in [0, 1] oscillating with the given period in seconds.
func Pulse(seconds, period float64) float32 {
	if period <= 0 {
		return 0
	}
	return float32(0.5 + 0.5*m.Sin(2*m.Pi*seconds/period))
}
