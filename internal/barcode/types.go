package barcode

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatAztec
	FormatCode128
	FormatCode39
	FormatCode93
	FormatEAN8
	FormatEAN13
	FormatUPCA
	FormatUPCE
	FormatITF
	FormatCodabar
)

var formatNames = map[Format]string{
	FormatQR:         "qr",
	FormatDataMatrix: "datamatrix",
	FormatAztec:      "aztec",
	FormatCode128:    "code128",
	FormatCode39:     "code39",
	FormatCode93:     "code93",
	FormatEAN8:       "ean8",
	FormatEAN13:      "ean13",
	FormatUPCA:       "upca",
	FormatUPCE:       "upce",
	FormatITF:        "itf",
	FormatCodabar:    "codabar",
}

var formatAliases = map[string]Format{
	"data-matrix":     FormatDataMatrix,
	"qrcode":          FormatQR,
	"code-128":        FormatCode128,
	"code-39":         FormatCode39,
	"code-93":         FormatCode93,
	"ean-8":           FormatEAN8,
	"ean-13":          FormatEAN13,
	"upc-a":           FormatUPCA,
	"upc-e":           FormatUPCE,
	"interleaved2of5": FormatITF,
	"i2/5":            FormatITF,
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// MarshalText renders the format name in JSON and YAML.
func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// IsMatrix reports whether f is a two-dimensional symbology.
func (f Format) IsMatrix() bool {
	switch f {
	case FormatQR, FormatDataMatrix, FormatAztec:
		return true
	default:
		return false
	}
}

// ParseFormat parses a symbology name such as "qr", "ean-13" or "code128".
func ParseFormat(s string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == key {
			return f, nil
		}
	}
	if f, ok := formatAliases[key]; ok {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("unknown barcode format %q", s)
}

// ParseFormats parses a comma separated list of symbology names.
func ParseFormats(csv string) ([]Format, error) {
	var out []Format
	for part := range strings.SplitSeq(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		f, err := ParseFormat(part)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Mode selects the family of symbologies a region is searched for.
type Mode int

const (
	// ModeAny searches linear and matrix symbologies.
	ModeAny Mode = iota
	// ModeLinear searches one-dimensional symbologies only.
	ModeLinear
	// ModeMatrix searches two-dimensional symbologies only.
	ModeMatrix
)

func (m Mode) String() string {
	switch m {
	case ModeLinear:
		return "linear"
	case ModeMatrix:
		return "matrix"
	default:
		return "any"
	}
}

// Options controls backend decoding behavior.
type Options struct {
	// Mode restricts the search to linear or matrix codes.
	Mode Mode

	// Formats further constrains the set of symbologies. Formats outside
	// Mode are ignored.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// TryInvert retries on the inverted image when nothing was found.
	TryInvert bool

	// Multi enables multi-symbol detection in a single image.
	Multi bool

	// MaxSymbols caps the number of results; 0 means no cap.
	MaxSymbols int

	// ROI optionally restricts decoding to a sub-rectangle of the image.
	// If zero-sized or out of bounds, backends ignore it.
	ROI image.Rectangle
}

// Point is an integer point in image coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result represents a decoded barcode.
type Result struct {
	Type   Format          `json:"format"`
	Value  string          `json:"text"`
	Points []Point         `json:"points,omitempty"` // Corner or key points if available
	BBox   image.Rectangle `json:"-"`                // Bounding box derived from points
}

// Backend is a pluggable barcode decoder implementation. A region without a
// readable symbol yields an empty slice and no error.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewBackend returns the default gozxing backend.
func NewBackend() Backend { return &gozxingBackend{} }
