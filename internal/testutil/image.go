package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Canvas returns a w x h image filled with bg.
func Canvas(w, h int, bg color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return img
}

// DrawQRCode renders text as a QR code filling rect of dst.
func DrawQRCode(dst draw.Image, rect image.Rectangle, text string) error {
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, rect.Dx(), rect.Dy(), nil)
	if err != nil {
		return fmt.Errorf("encode qr %q: %w", text, err)
	}
	draw.Draw(dst, rect, m, image.Point{}, draw.Src)
	return nil
}

// DrawCode128 renders text as a Code 128 barcode filling rect of dst.
func DrawCode128(dst draw.Image, rect image.Rectangle, text string) error {
	m, err := oned.NewCode128Writer().Encode(text, gozxing.BarcodeFormat_CODE_128, rect.Dx(), rect.Dy(), nil)
	if err != nil {
		return fmt.Errorf("encode code128 %q: %w", text, err)
	}
	draw.Draw(dst, rect, m, image.Point{}, draw.Src)
	return nil
}

// CompareImages reports whether two images have the same size and their
// mean per-channel difference is at most tolerance (0..1).
func CompareImages(a, b image.Image, tolerance float64) bool {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return false
	}
	var diff, n float64
	for y := range ab.Dy() {
		for x := range ab.Dx() {
			r1, g1, b1, _ := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, _ := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			diff += absDiff(r1, r2) + absDiff(g1, g2) + absDiff(b1, b2)
			n += 3
		}
	}
	if n == 0 {
		return true
	}
	return diff/n/0xffff <= tolerance
}

func absDiff(a, b uint32) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}
