package testutil

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/onnx/mock"
)

// Symbol is one code drawn into a scene.
type Symbol struct {
	Class int // detector.ClassQRCode or detector.ClassBarcode
	Text  string
	Rect  image.Rectangle
}

// Scene is a white square canvas with symbols at known positions.
type Scene struct {
	Name    string
	Size    int
	Symbols []Symbol
}

// Scenes returns the standard scenes by name.
func Scenes() map[string]Scene {
	return map[string]Scene{
		"qr": {
			Name:    "qr",
			Size:    416,
			Symbols: []Symbol{{Class: detector.ClassQRCode, Text: "hello", Rect: image.Rect(100, 100, 300, 300)}},
		},
		"qr-large": {
			Name:    "qr-large",
			Size:    832,
			Symbols: []Symbol{{Class: detector.ClassQRCode, Text: "https://example.com/item/42", Rect: image.Rect(200, 200, 600, 600)}},
		},
		"barcode": {
			Name:    "barcode",
			Size:    416,
			Symbols: []Symbol{{Class: detector.ClassBarcode, Text: "C128-42", Rect: image.Rect(40, 160, 376, 256)}},
		},
		"mixed": {
			Name: "mixed",
			Size: 416,
			Symbols: []Symbol{
				{Class: detector.ClassQRCode, Text: "left", Rect: image.Rect(20, 20, 180, 180)},
				{Class: detector.ClassBarcode, Text: "RIGHT-7", Rect: image.Rect(40, 260, 376, 340)},
			},
		},
		"blank": {Name: "blank", Size: 416},
	}
}

// SceneNames returns the names of the standard scenes, sorted.
func SceneNames() []string {
	var names []string
	for name := range Scenes() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupScene returns a standard scene by name.
func LookupScene(name string) (Scene, error) {
	s, ok := Scenes()[name]
	if !ok {
		return Scene{}, fmt.Errorf("unknown scene %q", name)
	}
	return s, nil
}

// Image renders the scene.
func (s Scene) Image() (*image.RGBA, error) {
	if s.Size <= 0 {
		return nil, errors.New("scene size must be positive")
	}
	img := Canvas(s.Size, s.Size, color.White)
	for _, sym := range s.Symbols {
		var err error
		switch sym.Class {
		case detector.ClassQRCode:
			err = DrawQRCode(img, sym.Rect, sym.Text)
		case detector.ClassBarcode:
			err = DrawCode128(img, sym.Rect, sym.Text)
		default:
			err = fmt.Errorf("unsupported class %d", sym.Class)
		}
		if err != nil {
			return nil, err
		}
	}
	return img, nil
}

// boxMargin is the quiet zone, in source pixels, added around each symbol.
const boxMargin = 10

// Grid returns a raw detector output that reports every symbol of the
// scene with the given score.
func (s Scene) Grid(score float64) (*mock.GridTensor, error) {
	grid := NewGrid()
	if err := s.Place(grid, score); err != nil {
		return nil, err
	}
	return grid, nil
}

// Place writes a box around every symbol into grid. The scene is square,
// so the letterbox is a pure scale.
func (s Scene) Place(grid *mock.GridTensor, score float64) error {
	scale := float64(grid.InputSize) / float64(s.Size)
	stride := grid.Strides[len(grid.Strides)-1]
	for _, sym := range s.Symbols {
		r := sym.Rect.Inset(-boxMargin).Intersect(image.Rect(0, 0, s.Size, s.Size))
		cx := (float64(r.Min.X+r.Max.X) / 2) * scale
		cy := (float64(r.Min.Y+r.Max.Y) / 2) * scale
		if err := grid.PlaceBox(stride, cx, cy, float64(r.Dx())*scale, float64(r.Dy())*scale, sym.Class, score); err != nil {
			return fmt.Errorf("scene %s: %w", s.Name, err)
		}
	}
	return nil
}
