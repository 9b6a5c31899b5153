package pipeline

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayOptions controls RenderOverlay.
type OverlayOptions struct {
	// ClassColors maps class IDs to box colours; missing classes use Fallback.
	ClassColors map[int]color.Color
	Fallback    color.Color
	Thickness   int
	Labels      bool
}

// DefaultOverlayOptions draws barcodes red and QR codes blue with labels.
func DefaultOverlayOptions() OverlayOptions {
	return OverlayOptions{
		ClassColors: map[int]color.Color{
			detector.ClassBarcode: color.RGBA{R: 230, G: 40, B: 40, A: 255},
			detector.ClassQRCode:  color.RGBA{R: 30, G: 110, B: 230, A: 255},
		},
		Fallback:  color.RGBA{R: 40, G: 200, B: 60, A: 255},
		Thickness: 2,
		Labels:    true,
	}
}

// ParseColor parses a colour such as "#ff8800" or "ff8800".
func ParseColor(s string) (color.Color, error) {
	if s == "" {
		return nil, errors.New("empty colour")
	}
	if s[0] != '#' {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// RenderOverlay draws the detections of res over a copy of img. Decoded
// text, when present, is appended to the label.
func RenderOverlay(img image.Image, res *ScanResult, opts OverlayOptions) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	if res == nil {
		return dst
	}
	if opts.Fallback == nil {
		opts.Fallback = DefaultOverlayOptions().Fallback
	}

	for _, d := range res.Detections {
		col, ok := opts.ClassColors[d.ClassID]
		if !ok {
			col = opts.Fallback
		}
		rect := d.Box.Rect()
		utils.DrawRect(dst, rect, col, opts.Thickness)
		if opts.Labels {
			drawLabel(dst, rect, labelFor(d, res.Matches), col)
		}
	}
	return dst
}

func labelFor(d detector.Detection, matches []DecodeMatch) string {
	label := fmt.Sprintf("%s %.2f", d.ClassName(), d.Score)
	for _, m := range matches {
		if m.Detection == d {
			return label + " " + m.Text
		}
	}
	return label
}

// drawLabel writes text on a filled background above rect, or inside it
// when there is no room above.
func drawLabel(dst *image.RGBA, rect image.Rectangle, text string, bg color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := rect.Min.Y - height
	if top < 0 {
		top = rect.Min.Y
	}
	box := image.Rect(rect.Min.X, top, rect.Min.X+width, top+height)
	utils.FillRect(dst, box, bg)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(box.Min.X+2, box.Min.Y+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}

// SaveOverlay writes an overlay image; the format follows the extension.
func SaveOverlay(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save overlay %s: %w", path, err)
	}
	return nil
}
