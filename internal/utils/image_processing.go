package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/codescan/internal/mempool"
	"github.com/disintegration/imaging"
)

// ErrInvalidImage marks input that cannot be turned into a network tensor.
var ErrInvalidImage = errors.New("invalid image")

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// LetterboxImage resizes img with bilinear filtering so that it fits a
// size x size square while keeping its aspect ratio, and blits it centred
// into a zero-filled RGB buffer. The returned Letterbox maps network
// coordinates back onto img. The buffer is pooled; call Release on it.
func LetterboxImage(img image.Image, size int) (*PixelBuffer, Letterbox, error) {
	if img == nil {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: fmt.Errorf("%w: nil image", ErrInvalidImage)}
	}
	b := img.Bounds()
	lb, err := NewLetterbox(b.Dx(), b.Dy(), size)
	if err != nil {
		return nil, Letterbox{}, err
	}

	resized := imaging.Resize(img, lb.NewW, lb.NewH, imaging.Linear)
	src, err := PixelBufferFromImage(resized)
	if err != nil {
		return nil, Letterbox{}, err
	}

	canvas := NewPooledPixelBuffer(size, size, 3)
	if err := CopyToROI(src, canvas, lb.PadX, lb.PadY); err != nil {
		canvas.Release()
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: err}
	}
	return canvas, lb, nil
}

// StretchPixels resizes a square side x side RGB buffer straight to
// size x size without padding.
func StretchPixels(rgb []byte, side, size int) (*PixelBuffer, Letterbox, error) {
	if side <= 0 || len(rgb) < side*side*3 {
		return nil, Letterbox{}, &ImageProcessingError{
			Operation: "stretch",
			Err:       fmt.Errorf("%w: %d bytes for a %dx%d RGB square", ErrInvalidImage, len(rgb), side, side),
		}
	}
	lb, err := Stretch(side, size)
	if err != nil {
		return nil, Letterbox{}, err
	}
	src := &PixelBuffer{Rows: side, Cols: side, Channels: 3, Data: rgb[:side*side*3]}
	img, err := src.ToImage()
	if err != nil {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "stretch", Err: err}
	}
	out, err := PixelBufferFromImage(imaging.Resize(img, size, size, imaging.Linear))
	if err != nil {
		return nil, Letterbox{}, err
	}
	return out, lb, nil
}

// NormalizePooled converts an interleaved RGB buffer to planar NCHW float32
// scaled to [0,1]. The slice comes from mempool and the caller must return
// it with mempool.PutFloat32.
func NormalizePooled(buf *PixelBuffer) ([]float32, error) {
	if !buf.valid() {
		return nil, &ImageProcessingError{Operation: "normalize", Err: ErrNullBuffer}
	}
	if buf.Channels != 3 {
		return nil, &ImageProcessingError{
			Operation: "normalize",
			Err:       fmt.Errorf("%w: expected 3 channels, got %d", ErrChannelMismatch, buf.Channels),
		}
	}

	plane := buf.Rows * buf.Cols
	tensor := mempool.GetFloat32(3 * plane)
	for i := range plane {
		p := i * 3
		tensor[i] = float32(buf.Data[p]) / 255.0
		tensor[plane+i] = float32(buf.Data[p+1]) / 255.0
		tensor[2*plane+i] = float32(buf.Data[p+2]) / 255.0
	}
	return tensor, nil
}
