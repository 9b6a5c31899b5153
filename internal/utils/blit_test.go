package utils

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledBuffer(rows, cols, channels int, v byte) *PixelBuffer {
	buf := NewPixelBuffer(rows, cols, channels)
	for i := range buf.Data {
		buf.Data[i] = v
	}
	return buf
}

func TestCopyToROI_Example(t *testing.T) {
	src := filledBuffer(2, 2, 3, 255)
	dst := NewPixelBuffer(4, 4, 3)

	require.NoError(t, CopyToROI(src, dst, 1, 1))

	for y := range 4 {
		for x := range 4 {
			want := byte(0)
			if y >= 1 && y <= 2 && x >= 1 && x <= 2 {
				want = 255
			}
			for c := range 3 {
				assert.Equal(t, want, dst.Data[(y*4+x)*3+c], "pixel (%d,%d) channel %d", x, y, c)
			}
		}
	}
}

func TestCopyToROI_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     *PixelBuffer
		dst     *PixelBuffer
		x, y    int
		wantErr error
	}{
		{"nil source", nil, NewPixelBuffer(4, 4, 3), 0, 0, ErrNullBuffer},
		{"nil destination", NewPixelBuffer(2, 2, 3), nil, 0, 0, ErrNullBuffer},
		{"empty data", &PixelBuffer{Rows: 2, Cols: 2, Channels: 3}, NewPixelBuffer(4, 4, 3), 0, 0, ErrNullBuffer},
		{"short data", &PixelBuffer{Rows: 2, Cols: 2, Channels: 3, Data: make([]byte, 5)}, NewPixelBuffer(4, 4, 3), 0, 0, ErrNullBuffer},
		{"channel mismatch", NewPixelBuffer(2, 2, 1), NewPixelBuffer(4, 4, 3), 0, 0, ErrChannelMismatch},
		{"negative offset", NewPixelBuffer(2, 2, 3), NewPixelBuffer(4, 4, 3), -1, 0, ErrOutOfBounds},
		{"overflow right", NewPixelBuffer(2, 2, 3), NewPixelBuffer(4, 4, 3), 3, 0, ErrOutOfBounds},
		{"overflow bottom", NewPixelBuffer(2, 2, 3), NewPixelBuffer(4, 4, 3), 0, 3, ErrOutOfBounds},
		{"source larger", NewPixelBuffer(5, 5, 3), NewPixelBuffer(4, 4, 3), 0, 0, ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before []byte
			if tt.dst != nil {
				before = bytes.Clone(tt.dst.Data)
			}
			err := CopyToROI(tt.src, tt.dst, tt.x, tt.y)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.dst != nil {
				assert.Equal(t, before, tt.dst.Data, "destination must not be touched on error")
			}
		})
	}
}

func TestCopyToROI_ReproducesSourceProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("copied region equals source bytes and nothing else changes", prop.ForAll(
		func(w, h, extraW, extraH, ch int, seed byte) bool {
			src := NewPixelBuffer(h, w, ch)
			for i := range src.Data {
				src.Data[i] = byte(i) ^ seed | 1
			}
			dst := NewPixelBuffer(h+extraH, w+extraW, ch)
			ox, oy := extraW/2, extraH/2

			if err := CopyToROI(src, dst, ox, oy); err != nil {
				return false
			}
			for y := range dst.Rows {
				for x := range dst.Cols {
					inside := x >= ox && x < ox+w && y >= oy && y < oy+h
					for c := range ch {
						got := dst.Data[(y*dst.Cols+x)*ch+c]
						if !inside {
							if got != 0 {
								return false
							}
							continue
						}
						if got != src.Data[((y-oy)*w+(x-ox))*ch+c] {
							return false
						}
					}
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 12),
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
		gen.IntRange(1, 4),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestPixelBuffer_ImageRoundTrip(t *testing.T) {
	buf := NewPixelBuffer(2, 3, 3)
	for i := range buf.Data {
		buf.Data[i] = byte(i * 10)
	}
	img, err := buf.ToImage()
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	back, err := PixelBufferFromImage(img)
	require.NoError(t, err)
	assert.Equal(t, buf.Data, back.Data)

	_, err = NewPixelBuffer(2, 2, 1).ToImage()
	assert.ErrorIs(t, err, ErrChannelMismatch)
}
