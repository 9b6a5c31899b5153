package utils

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBox_OrdersCorners(t *testing.T) {
	b := NewBox(10, 20, 4, 5)
	assert.Equal(t, Box{X: 4, Y: 5, W: 6, H: 15}, b)
	assert.InDelta(t, 10, b.MaxX(), 1e-9)
	assert.InDelta(t, 20, b.MaxY(), 1e-9)
}

func TestBox_AreaAndEmpty(t *testing.T) {
	assert.InDelta(t, 12, Box{W: 3, H: 4}.Area(), 1e-9)
	assert.Zero(t, Box{W: 0, H: 4}.Area())
	assert.Zero(t, Box{W: -3, H: 4}.Area())
	assert.True(t, Box{W: 5}.Empty())
	assert.False(t, Box{W: 1, H: 1}.Empty())
}

func TestBox_RectTruncates(t *testing.T) {
	b := Box{X: 10.9, Y: 3.2, W: 5.99, H: 7.5}
	assert.Equal(t, Box{X: 10, Y: 3, W: 5, H: 7}, b.Truncate())
	assert.Equal(t, image.Rect(10, 3, 15, 10), b.Rect())
}

func TestBox_Within(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want bool
	}{
		{"inside", Box{X: 1, Y: 1, W: 5, H: 5}, true},
		{"touches edge", Box{X: 5, Y: 5, W: 5, H: 5}, true},
		{"negative x", Box{X: -1, Y: 1, W: 5, H: 5}, false},
		{"overflows right", Box{X: 6, Y: 0, W: 5, H: 5}, false},
		{"overflows bottom", Box{X: 0, Y: 6, W: 5, H: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.box.Within(10, 10))
		})
	}
}
