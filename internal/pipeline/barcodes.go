package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// DefaultMaxSymbols caps decoded symbols per region.
const DefaultMaxSymbols = 3

// BarcodeConfig controls decoding of detected regions.
type BarcodeConfig struct {
	Enabled    bool             // Decode regions in ProcessImage
	MaxSymbols int              // Symbols per region (default: 3)
	TryHarder  bool             // Slower, more exhaustive search
	TryInvert  bool             // Retry on inverted pixels
	Formats    []barcode.Format // Optional format filter
}

// DefaultBarcodeConfig returns the default decode configuration (enabled).
func DefaultBarcodeConfig() BarcodeConfig {
	return BarcodeConfig{Enabled: true, MaxSymbols: DefaultMaxSymbols}
}

// DecodeMatch pairs a detection with one symbol decoded inside it.
type DecodeMatch struct {
	Detection detector.Detection
	Text      string
	Format    barcode.Format
}

// modeForClass selects the symbology family searched for a class. Unknown
// classes are not decoded.
func modeForClass(classID int) (barcode.Mode, bool) {
	switch classID {
	case detector.ClassBarcode:
		return barcode.ModeLinear, true
	case detector.ClassQRCode:
		return barcode.ModeMatrix, true
	default:
		return barcode.ModeAny, false
	}
}

// DecodeDetections crops every detection out of img and decodes it. Boxes
// that are empty or reach outside the image are skipped, as are unknown
// classes. A backend error aborts the call without partial results.
func (p *Pipeline) DecodeDetections(ctx context.Context, img image.Image, dets []detector.Detection) ([]DecodeMatch, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, &utils.ImageProcessingError{Operation: "decode", Err: fmt.Errorf("%w: nil image", utils.ErrInvalidImage)}
	}
	b := img.Bounds()
	var matches []DecodeMatch
	for i, det := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if det.Box.Empty() || !det.Box.Within(b.Dx(), b.Dy()) {
			slog.Debug("Skipping region", "index", i, "box", det.Box, "reason", "outside image or empty")
			continue
		}
		mode, ok := modeForClass(det.ClassID)
		if !ok {
			slog.Debug("Skipping region", "index", i, "class_id", det.ClassID, "reason", "unknown class")
			continue
		}

		crop := utils.CropImageBox(img, det.Box)
		results, err := p.barcodes.Decode(ctx, crop, barcode.Options{
			Mode:       mode,
			Formats:    p.cfg.Barcode.Formats,
			TryHarder:  p.cfg.Barcode.TryHarder,
			TryInvert:  p.cfg.Barcode.TryInvert,
			Multi:      p.cfg.Barcode.MaxSymbols > 1,
			MaxSymbols: p.cfg.Barcode.MaxSymbols,
		})
		if err != nil {
			return nil, fmt.Errorf("decode region %d: %w", i, err)
		}
		if n := p.cfg.Barcode.MaxSymbols; n > 0 && len(results) > n {
			results = results[:n]
		}
		for _, r := range results {
			matches = append(matches, DecodeMatch{Detection: det, Text: r.Value, Format: r.Type})
		}
	}
	return matches, nil
}
