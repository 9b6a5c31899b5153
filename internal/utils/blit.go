package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/codescan/internal/mempool"
)

var (
	// ErrNullBuffer is returned when a pixel buffer is nil, empty or shorter
	// than its declared geometry.
	ErrNullBuffer = errors.New("null or empty pixel buffer")
	// ErrChannelMismatch is returned when source and destination differ in
	// channel count.
	ErrChannelMismatch = errors.New("channel count mismatch")
	// ErrOutOfBounds is returned when the source does not fit inside the
	// destination at the requested offset.
	ErrOutOfBounds = errors.New("region out of bounds")
)

// PixelBuffer is an interleaved 8-bit image: Rows x Cols pixels with
// Channels bytes each, row stride Cols*Channels.
type PixelBuffer struct {
	Rows     int
	Cols     int
	Channels int
	Data     []byte
}

// NewPixelBuffer allocates a zeroed buffer.
func NewPixelBuffer(rows, cols, channels int) *PixelBuffer {
	return &PixelBuffer{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Data:     make([]byte, rows*cols*channels),
	}
}

// NewPooledPixelBuffer allocates a zeroed buffer from mempool. Call Release
// when done with it.
func NewPooledPixelBuffer(rows, cols, channels int) *PixelBuffer {
	return &PixelBuffer{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Data:     mempool.GetZeroedBytes(rows * cols * channels),
	}
}

// Release hands the backing storage back to mempool. The buffer must not be
// used afterwards.
func (p *PixelBuffer) Release() {
	if p == nil {
		return
	}
	mempool.PutBytes(p.Data)
	p.Data = nil
}

// Stride returns the number of bytes per row.
func (p *PixelBuffer) Stride() int { return p.Cols * p.Channels }

func (p *PixelBuffer) valid() bool {
	if p == nil || len(p.Data) == 0 || p.Rows <= 0 || p.Cols <= 0 || p.Channels <= 0 {
		return false
	}
	return len(p.Data) >= p.Rows*p.Cols*p.Channels
}

// CopyToROI copies src into dst with its top-left corner at (destX, destY).
// Every precondition is checked before the first byte is written, so on error
// dst is left untouched.
func CopyToROI(src, dst *PixelBuffer, destX, destY int) error {
	if !src.valid() || !dst.valid() {
		return ErrNullBuffer
	}
	if src.Channels != dst.Channels {
		return fmt.Errorf("%w: source %d, destination %d", ErrChannelMismatch, src.Channels, dst.Channels)
	}
	if destX < 0 || destY < 0 || destX+src.Cols > dst.Cols || destY+src.Rows > dst.Rows {
		return fmt.Errorf("%w: %dx%d at (%d,%d) into %dx%d",
			ErrOutOfBounds, src.Cols, src.Rows, destX, destY, dst.Cols, dst.Rows)
	}

	srcStride := src.Stride()
	dstStride := dst.Stride()
	offset := destX * dst.Channels
	for y := range src.Rows {
		d := (destY+y)*dstStride + offset
		copy(dst.Data[d:d+srcStride], src.Data[y*srcStride:(y+1)*srcStride])
	}
	return nil
}

// PixelBufferFromImage converts img into a packed 3-channel RGB buffer.
func PixelBufferFromImage(img image.Image) (*PixelBuffer, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "rgb", Err: ErrInvalidImage}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &ImageProcessingError{Operation: "rgb", Err: fmt.Errorf("%w: empty bounds", ErrInvalidImage)}
	}
	buf := NewPixelBuffer(b.Dy(), b.Dx(), 3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			buf.Data[i] = uint8(r >> 8)
			buf.Data[i+1] = uint8(g >> 8)
			buf.Data[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return buf, nil
}

// ToImage wraps a 3-channel RGB buffer as an *image.NRGBA copy.
func (p *PixelBuffer) ToImage() (*image.NRGBA, error) {
	if !p.valid() {
		return nil, ErrNullBuffer
	}
	if p.Channels != 3 {
		return nil, fmt.Errorf("%w: expected 3 channels, got %d", ErrChannelMismatch, p.Channels)
	}
	out := image.NewNRGBA(image.Rect(0, 0, p.Cols, p.Rows))
	for i, j := 0, 0; i < p.Rows*p.Cols*3; i, j = i+3, j+4 {
		out.Pix[j] = p.Data[i]
		out.Pix[j+1] = p.Data[i+1]
		out.Pix[j+2] = p.Data[i+2]
		out.Pix[j+3] = 0xff
	}
	return out, nil
}
