package pipeline

import (
	"context"
	"encoding/json"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/codescan/internal/common"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// ScanResult is the per-image output: detections in source coordinates,
// the symbols decoded inside them and per-stage timings.
type ScanResult struct {
	Width      int
	Height     int
	Detections []detector.Detection
	Matches    []DecodeMatch
	Decoded    bool // whether region decoding ran
	TimingsMs  map[string]float64
	TotalMs    float64
}

// MatchJSON is the serialisable form of a DecodeMatch.
type MatchJSON struct {
	detector.DetectionJSON
	Format string `json:"format"`
	Text   string `json:"text"`
}

// ScanResultJSON is the serialisable form of a ScanResult.
type ScanResultJSON struct {
	Width      int                      `json:"width"`
	Height     int                      `json:"height"`
	Detections []detector.DetectionJSON `json:"detections"`
	Matches    []MatchJSON              `json:"matches,omitempty"`
	Timings    map[string]float64       `json:"timings_ms"`
	TotalMs    float64                  `json:"total_ms"`
}

// ToJSON converts a DecodeMatch.
func (m DecodeMatch) ToJSON() MatchJSON {
	return MatchJSON{DetectionJSON: m.Detection.ToJSON(), Format: m.Format.String(), Text: m.Text}
}

// ToJSON converts the result into its wire form.
func (r *ScanResult) ToJSON() ScanResultJSON {
	out := ScanResultJSON{
		Width:      r.Width,
		Height:     r.Height,
		Detections: detector.DetectionsToJSON(r.Detections),
		Timings:    r.TimingsMs,
		TotalMs:    r.TotalMs,
	}
	if len(r.Matches) > 0 {
		out.Matches = make([]MatchJSON, len(r.Matches))
		for i, m := range r.Matches {
			out.Matches[i] = m.ToJSON()
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r *ScanResult) MarshalJSON() ([]byte, error) { return json.Marshal(r.ToJSON()) }

// ProcessImage detects regions in img and, when barcode decoding is enabled,
// decodes each of them.
func (p *Pipeline) ProcessImage(ctx context.Context, img image.Image) (*ScanResult, error) {
	return p.process(ctx, img, p.cfg.Barcode.Enabled)
}

// ScanImage is ProcessImage with region decoding always on.
func (p *Pipeline) ScanImage(ctx context.Context, img image.Image) (*ScanResult, error) {
	return p.process(ctx, img, true)
}

// ScanEncoded decodes an encoded image and runs ScanImage on it.
func (p *Pipeline) ScanEncoded(ctx context.Context, data []byte) (*ScanResult, error) {
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return p.ScanImage(ctx, img)
}

func (p *Pipeline) process(ctx context.Context, img image.Image, decode bool) (*ScanResult, error) {
	stages := common.NewStages()
	dets, err := p.detectImage(ctx, img, stages)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	res := &ScanResult{Width: b.Dx(), Height: b.Dy(), Detections: dets}
	if decode && len(dets) > 0 {
		matches, err := p.DecodeDetections(ctx, img, dets)
		if err != nil {
			return nil, err
		}
		res.Matches = matches
		res.Decoded = true
		stages.Lap(StageDecode)
	}

	res.TimingsMs = stages.Millis()
	res.TotalMs = float64(stages.Total().Microseconds()) / 1000
	slog.Debug("Image processed",
		"width", res.Width, "height", res.Height,
		"detections", len(res.Detections), "matches", len(res.Matches),
		"total_ms", res.TotalMs)
	return res, nil
}

// ProcessImages processes images sequentially, stopping at the first error.
func (p *Pipeline) ProcessImages(ctx context.Context, images []image.Image) ([]*ScanResult, error) {
	out := make([]*ScanResult, 0, len(images))
	for _, img := range images {
		res, err := p.ProcessImage(ctx, img)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
