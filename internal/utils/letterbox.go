package utils

import (
	"fmt"
	"math"
)

// Letterbox describes how a SrcW x SrcH image is scaled (aspect preserved) and
// centred inside a DstSize x DstSize square: dst = src*Scale + pad.
// Values are derived once by NewLetterbox and never mutated.
type Letterbox struct {
	Scale   float64
	PadX    int
	PadY    int
	NewW    int
	NewH    int
	SrcW    int
	SrcH    int
	DstSize int
}

// NewLetterbox computes the letterbox transform for a source image of
// srcW x srcH placed into a dstSize square.
func NewLetterbox(srcW, srcH, dstSize int) (Letterbox, error) {
	if srcW <= 0 || srcH <= 0 {
		return Letterbox{}, &ImageProcessingError{
			Operation: "letterbox",
			Err:       fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, srcW, srcH),
		}
	}
	if dstSize <= 0 {
		return Letterbox{}, &ImageProcessingError{
			Operation: "letterbox",
			Err:       fmt.Errorf("invalid target size %d", dstSize),
		}
	}

	scale := math.Min(float64(dstSize)/float64(srcW), float64(dstSize)/float64(srcH))
	newW := int(math.Round(float64(srcW) * scale))
	newH := int(math.Round(float64(srcH) * scale))
	// Rounding can overshoot by one pixel on extreme aspect ratios.
	newW = min(max(newW, 1), dstSize)
	newH = min(max(newH, 1), dstSize)

	return Letterbox{
		Scale:   scale,
		PadX:    (dstSize - newW) / 2,
		PadY:    (dstSize - newH) / 2,
		NewW:    newW,
		NewH:    newH,
		SrcW:    srcW,
		SrcH:    srcH,
		DstSize: dstSize,
	}, nil
}

// Stretch returns the transform for a square side x side image resized
// directly to dstSize without padding.
func Stretch(side, dstSize int) (Letterbox, error) {
	lb, err := NewLetterbox(side, side, dstSize)
	if err != nil {
		return Letterbox{}, err
	}
	lb.NewW, lb.NewH = dstSize, dstSize
	lb.PadX, lb.PadY = 0, 0
	lb.Scale = float64(dstSize) / float64(side)
	return lb, nil
}

// ToSource maps a network-space box back onto the source image. Each corner
// is un-padded, un-scaled and clamped to [0, SrcW-1] x [0, SrcH-1].
func (l Letterbox) ToSource(b Box) Box {
	maxX := float64(l.SrcW - 1)
	maxY := float64(l.SrcH - 1)
	padX := float64(l.PadX)
	padY := float64(l.PadY)

	x1 := clampFloat((b.X-padX)/l.Scale, 0, maxX)
	y1 := clampFloat((b.Y-padY)/l.Scale, 0, maxY)
	x2 := clampFloat((b.X+b.W-padX)/l.Scale, 0, maxX)
	y2 := clampFloat((b.Y+b.H-padY)/l.Scale, 0, maxY)

	return NewBox(x1, y1, x2, y2)
}
