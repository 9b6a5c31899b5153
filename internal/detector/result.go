package detector

import (
	"slices"

	"github.com/MeKo-Tech/codescan/internal/utils"
)

// Class indices of the shipped model.
const (
	ClassBarcode = 0
	ClassQRCode  = 1
)

var classNames = []string{"barcode", "qrcode"}

// ClassNames returns the label of every known class in index order.
func ClassNames() []string { return slices.Clone(classNames) }

// ClassName returns the label for a class index or "" when unknown.
func ClassName(id int) string {
	if id < 0 || id >= len(classNames) {
		return ""
	}
	return classNames[id]
}

// Detection is one scored box. Before postprocessing the box is in network
// coordinates; after it is in source image pixels.
type Detection struct {
	Box     utils.Box
	Score   float64
	ClassID int
}

// ClassName returns the detection's class label.
func (d Detection) ClassName() string { return ClassName(d.ClassID) }

// DetectionJSON is the serialisable form of a Detection.
type DetectionJSON struct {
	Class   string  `json:"class"`
	ClassID int     `json:"class_id"`
	Score   float64 `json:"score"`
	Box     BoxJSON `json:"box"`
}

// BoxJSON is an integer pixel rectangle.
type BoxJSON struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ToJSON converts d using truncated integer coordinates.
func (d Detection) ToJSON() DetectionJSON {
	r := d.Box.Rect()
	return DetectionJSON{
		Class:   d.ClassName(),
		ClassID: d.ClassID,
		Score:   d.Score,
		Box:     BoxJSON{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
	}
}

// DetectionsToJSON converts a slice of detections.
func DetectionsToJSON(dets []Detection) []DetectionJSON {
	out := make([]DetectionJSON, len(dets))
	for i, d := range dets {
		out[i] = d.ToJSON()
	}
	return out
}
