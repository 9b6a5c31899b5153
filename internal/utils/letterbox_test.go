package utils

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLetterbox(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		wantScale  float64
		wantW      int
		wantH      int
		wantPadX   int
		wantPadY   int
	}{
		{"landscape", 640, 480, 0.65, 416, 312, 0, 52},
		{"portrait", 480, 640, 0.65, 312, 416, 52, 0},
		{"square", 832, 832, 0.5, 416, 416, 0, 0},
		{"upscale", 208, 104, 2, 416, 208, 0, 104},
		{"odd remainder", 1000, 333, 0.416, 416, 139, 0, 138},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := NewLetterbox(tt.srcW, tt.srcH, 416)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScale, lb.Scale, 1e-9)
			assert.Equal(t, tt.wantW, lb.NewW)
			assert.Equal(t, tt.wantH, lb.NewH)
			assert.Equal(t, tt.wantPadX, lb.PadX)
			assert.Equal(t, tt.wantPadY, lb.PadY)
			assert.Equal(t, tt.srcW, lb.SrcW)
			assert.Equal(t, tt.srcH, lb.SrcH)
		})
	}
}

func TestNewLetterbox_InvalidInput(t *testing.T) {
	for _, dims := range [][3]int{{0, 10, 416}, {10, -1, 416}, {10, 10, 0}} {
		_, err := NewLetterbox(dims[0], dims[1], dims[2])
		require.Error(t, err)
		var ipe *ImageProcessingError
		assert.True(t, errors.As(err, &ipe))
	}
	_, err := NewLetterbox(0, 0, 416)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestLetterbox_ToSource(t *testing.T) {
	lb, err := NewLetterbox(640, 480, 416)
	require.NoError(t, err)

	// Full padded content area maps onto the whole source, clamped to the last pixel.
	got := lb.ToSource(Box{X: 0, Y: 52, W: 416, H: 312})
	assert.InDelta(t, 0, got.X, 1e-9)
	assert.InDelta(t, 0, got.Y, 1e-9)
	assert.InDelta(t, 639, got.W, 1e-9)
	assert.InDelta(t, 479, got.H, 1e-9)

	got = lb.ToSource(Box{X: 65, Y: 117, W: 13, H: 26})
	assert.InDelta(t, 100, got.X, 1e-9)
	assert.InDelta(t, 100, got.Y, 1e-9)
	assert.InDelta(t, 20, got.W, 1e-9)
	assert.InDelta(t, 40, got.H, 1e-9)

	// A box entirely in the padding collapses onto the border.
	got = lb.ToSource(Box{X: 10, Y: 0, W: 20, H: 20})
	assert.InDelta(t, 0, got.Y, 1e-9)
	assert.InDelta(t, 0, got.H, 1e-9)
}

func TestStretch(t *testing.T) {
	lb, err := Stretch(832, 416)
	require.NoError(t, err)
	assert.Equal(t, 0, lb.PadX)
	assert.Equal(t, 0, lb.PadY)
	assert.InDelta(t, 0.5, lb.Scale, 1e-9)

	got := lb.ToSource(Box{X: 10, Y: 20, W: 30, H: 40})
	assert.InDelta(t, 20, got.X, 1e-9)
	assert.InDelta(t, 40, got.Y, 1e-9)
	assert.InDelta(t, 60, got.W, 1e-9)
	assert.InDelta(t, 80, got.H, 1e-9)
}

func TestLetterbox_PaddingProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("content plus padding covers the target within one pixel", prop.ForAll(
		func(w, h, size int) bool {
			lb, err := NewLetterbox(w, h, size)
			if err != nil {
				return false
			}
			if lb.PadX < 0 || lb.PadY < 0 {
				return false
			}
			dx := size - (lb.NewW + 2*lb.PadX)
			dy := size - (lb.NewH + 2*lb.PadY)
			return dx >= 0 && dx <= 1 && dy >= 0 && dy <= 1
		},
		gen.IntRange(1, 5000),
		gen.IntRange(1, 5000),
		gen.IntRange(1, 1024),
	))

	properties.TestingRun(t)
}

func TestLetterbox_ToSourceClampProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("mapped boxes stay inside the source image", prop.ForAll(
		func(w, h int, x, y, bw, bh float64) bool {
			lb, err := NewLetterbox(w, h, 416)
			if err != nil {
				return false
			}
			got := lb.ToSource(Box{X: x, Y: y, W: bw, H: bh})
			maxX, maxY := float64(w-1), float64(h-1)
			return got.X >= 0 && got.Y >= 0 && got.W >= 0 && got.H >= 0 &&
				got.MaxX() <= maxX && got.MaxY() <= maxY
		},
		gen.IntRange(1, 4000),
		gen.IntRange(1, 4000),
		gen.Float64Range(-500, 900),
		gen.Float64Range(-500, 900),
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1000),
	))

	properties.TestingRun(t)
}
