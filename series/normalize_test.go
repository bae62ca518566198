package series

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRange(t *testing.T) {
	tests := []struct {
		name string
		got  []uint8
	}{
		{"int16 signed", Normalize([]int16{-1024, 0, 3071})},
		{"uint16", Normalize([]uint16{0, 100, 4095, 12})},
		{"int", Normalize([]int{7, 8})},
		{"float32", Normalize([]float32{-0.5, 0.25, 0.5})},
		{"float64 tiny range", Normalize([]float64{1, 1 + 1e-9})},
		{"uint8", Normalize([]uint8{10, 20, 30})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, uint8(0), slices.Min(tt.got))
			require.Equal(t, uint8(255), slices.Max(tt.got))
		})
	}
}

func TestNormalizeConstant(t *testing.T) {
	tests := []struct {
		name string
		got  []uint8
		n    int
	}{
		{"all zero", Normalize([]int16{0, 0, 0, 0}), 4},
		{"all same", Normalize([]uint16{500, 500, 500}), 3},
		{"single sample", Normalize([]float64{42}), 1},
		{"empty", Normalize([]int{}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.got, tt.n)
			for _, v := range tt.got {
				require.Zero(t, v)
			}
		})
	}
}

func TestNormalizeRounds(t *testing.T) {
	// 1/3 * 255 = 85, 2/3 * 255 = 170, 0.5 * 255 = 127.5 rounds half away from zero.
	require.Equal(t, []uint8{0, 85, 170, 255}, Normalize([]int{0, 1, 2, 3}))
	require.Equal(t, []uint8{0, 128, 255}, Normalize([]int{0, 1, 2}))
}

func TestNormalizePreservesOrder(t *testing.T) {
	in := []int32{300, -200, 50, 1000}
	out := Normalize(in)
	for i := range in {
		for j := range in {
			if in[i] < in[j] {
				require.LessOrEqual(t, out[i], out[j])
			}
		}
	}
}

func TestNormalizeNaN(t *testing.T) {
	out := Normalize([]float64{math.NaN(), 0, 10})
	require.Equal(t, []uint8{0, 0, 255}, out)
}
