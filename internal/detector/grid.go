package detector

import (
	"errors"
	"fmt"
	"slices"
)

// DecoderConfig describes the grid an anchor-free head predicts over.
type DecoderConfig struct {
	InputSize  int
	Strides    []int
	NumClasses int
}

// DefaultDecoderConfig returns the geometry of the shipped model.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{InputSize: DefaultInputSize, Strides: DefaultStrides(), NumClasses: DefaultNumClasses}
}

// Validate checks that every stride divides the input and strides ascend.
func (c DecoderConfig) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be > 0, got %d", c.InputSize)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num classes must be > 0, got %d", c.NumClasses)
	}
	if len(c.Strides) == 0 {
		return errors.New("at least one stride is required")
	}
	for i, s := range c.Strides {
		if s <= 0 || s > c.InputSize {
			return fmt.Errorf("invalid stride %d for input size %d", s, c.InputSize)
		}
		if c.InputSize%s != 0 {
			return fmt.Errorf("stride %d does not divide input size %d", s, c.InputSize)
		}
		if i > 0 && s <= c.Strides[i-1] {
			return fmt.Errorf("strides must be strictly ascending, got %v", c.Strides)
		}
	}
	return nil
}

// RecordSize returns the float count per cell: 4 offsets, objectness, classes.
func (c DecoderConfig) RecordSize() int { return 5 + c.NumClasses }

// gridCell is one spatial location at one stride.
type gridCell struct {
	GX, GY, Stride int
}

// buildGrid enumerates cells for every stride in ascending order, rows
// before columns within a stride. This is the order the model emits records.
func buildGrid(inputSize int, strides []int) []gridCell {
	total := 0
	for _, s := range strides {
		n := inputSize / s
		total += n * n
	}
	cells := make([]gridCell, 0, total)
	for _, s := range strides {
		n := inputSize / s
		for gy := range n {
			for gx := range n {
				cells = append(cells, gridCell{GX: gx, GY: gy, Stride: s})
			}
		}
	}
	return cells
}

// Record is the structured view of one cell in the raw output tensor.
// Offsets holds (ox, oy, log w, log h) in stride units.
type Record struct {
	Offsets     [4]float32
	Objectness  float32
	ClassLogits []float32
}

// Records splits a flat tensor into records of 5+numClasses floats.
// ClassLogits alias the tensor; callers must not modify them.
func Records(tensor []float32, numClasses int) ([]Record, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: num classes %d", ErrTensorLayout, numClasses)
	}
	size := 5 + numClasses
	if len(tensor)%size != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of record size %d", ErrTensorLayout, len(tensor), size)
	}
	out := make([]Record, 0, len(tensor)/size)
	for chunk := range slices.Chunk(tensor, size) {
		out = append(out, Record{
			Offsets:     [4]float32{chunk[0], chunk[1], chunk[2], chunk[3]},
			Objectness:  chunk[4],
			ClassLogits: chunk[5:size:size],
		})
	}
	return out, nil
}
