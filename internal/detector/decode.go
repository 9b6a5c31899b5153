package detector

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/codescan/internal/utils"
)

// Decoder turns raw grid output into candidate detections in network space.
// It is immutable after construction and safe for concurrent use.
type Decoder struct {
	cfg  DecoderConfig
	grid []gridCell
}

// NewDecoder validates cfg and precomputes the grid.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg, grid: buildGrid(cfg.InputSize, cfg.Strides)}, nil
}

// Config returns the decoder geometry.
func (d *Decoder) Config() DecoderConfig { return d.cfg }

// Cells returns the number of grid cells the decoder expects.
func (d *Decoder) Cells() int { return len(d.grid) }

// ExpectedLength returns the tensor length the decoder accepts.
func (d *Decoder) ExpectedLength() int { return len(d.grid) * d.cfg.RecordSize() }

func sigmoid(x float32) float64 {
	return 1 / (1 + math.Exp(-float64(x)))
}

// bestClass returns the argmax of sigmoid class scores. A later class only
// replaces the current best when strictly greater, so ties go to the lower
// index.
func bestClass(logits []float32) (int, float64) {
	best, bestScore := 0, -1.0
	for i, l := range logits {
		if s := sigmoid(l); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// Decode emits every cell whose objectness*class score exceeds
// scoreThreshold, in grid order. An empty tensor yields no candidates.
func (d *Decoder) Decode(tensor []float32, scoreThreshold float64) ([]Detection, error) {
	if len(tensor) == 0 {
		slog.Warn("model produced no output", "error", ErrEmptyModelOutput)
		return []Detection{}, nil
	}
	if len(tensor) != d.ExpectedLength() {
		return nil, fmt.Errorf("%w: got %d values, want %d (%d cells x %d)",
			ErrTensorLayout, len(tensor), d.ExpectedLength(), len(d.grid), d.cfg.RecordSize())
	}

	records, err := Records(tensor, d.cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	dets := make([]Detection, 0)
	for i, rec := range records {
		obj := sigmoid(rec.Objectness)
		cls, clsScore := bestClass(rec.ClassLogits)
		score := obj * clsScore
		if !(score > scoreThreshold) { // NaN scores never pass
			continue
		}

		cell := d.grid[i]
		s := float64(cell.Stride)
		cx := (float64(rec.Offsets[0]) + float64(cell.GX)) * s
		cy := (float64(rec.Offsets[1]) + float64(cell.GY)) * s
		w := math.Exp(float64(rec.Offsets[2])) * s
		h := math.Exp(float64(rec.Offsets[3])) * s

		dets = append(dets, Detection{
			Box:     utils.Box{X: cx - w/2, Y: cy - h/2, W: w, H: h},
			Score:   score,
			ClassID: cls,
		})
	}

	slog.Debug("decoded grid", "cells", len(records), "candidates", len(dets), "threshold", scoreThreshold)
	return dets, nil
}
