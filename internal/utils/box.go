package utils

import (
	"image"
	"math"
)

// Box is an axis-aligned rectangle given by its top-left corner and extent.
// A box with zero width or height is degenerate but valid.
type Box struct {
	X float64
	Y float64
	W float64
	H float64
}

// NewBox constructs a Box from two corners, normalising their order.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// MaxX returns the right edge.
func (b Box) MaxX() float64 { return b.X + b.W }

// MaxY returns the bottom edge.
func (b Box) MaxY() float64 { return b.Y + b.H }

// Area returns W*H, or 0 for boxes with a negative extent.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool { return b.W <= 0 || b.H <= 0 }

// Truncate drops the fractional part of every coordinate (toward zero),
// matching integer-rectangle construction from float corners.
func (b Box) Truncate() Box {
	return Box{
		X: math.Trunc(b.X),
		Y: math.Trunc(b.Y),
		W: math.Trunc(b.W),
		H: math.Trunc(b.H),
	}
}

// Rect converts the box to an image.Rectangle using truncated coordinates.
func (b Box) Rect() image.Rectangle {
	t := b.Truncate()
	x, y := int(t.X), int(t.Y)
	return image.Rect(x, y, x+int(t.W), y+int(t.H))
}

// Within reports whether the box lies fully inside a width x height image
// anchored at the origin. Touching the right/bottom edge is allowed.
func (b Box) Within(width, height int) bool {
	return b.X >= 0 && b.Y >= 0 &&
		b.X+b.W <= float64(width) && b.Y+b.H <= float64(height)
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
