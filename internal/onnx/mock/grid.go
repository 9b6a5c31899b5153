// Package mock builds synthetic raw detector outputs for tests.
package mock

import (
	"fmt"
	"math"
)

// Background is the logit written to every cell of a fresh tensor. Its
// sigmoid is ~2e-9, far below any realistic score threshold.
const Background float32 = -20

// Cell is one grid record: box offsets, objectness logit and class logits.
type Cell struct {
	Offsets     [4]float32
	Objectness  float32
	ClassLogits []float32
}

// GridTensor is an anchor-free detector output of shape
// [1, cells, 5+NumClasses], cells ordered by ascending stride then row-major.
type GridTensor struct {
	InputSize  int
	Strides    []int
	NumClasses int
	Data       []float32

	first map[int]int // stride -> index of its first cell
}

// NewGridTensor returns a tensor in which every cell is background.
func NewGridTensor(inputSize int, strides []int, numClasses int) *GridTensor {
	g := &GridTensor{
		InputSize:  inputSize,
		Strides:    strides,
		NumClasses: numClasses,
		first:      make(map[int]int, len(strides)),
	}
	cells := 0
	for _, s := range strides {
		g.first[s] = cells
		n := inputSize / s
		cells += n * n
	}
	g.Data = make([]float32, cells*g.RecordSize())
	for i := range cells {
		base := i * g.RecordSize()
		for j := 4; j < g.RecordSize(); j++ {
			g.Data[base+j] = Background
		}
	}
	return g
}

// RecordSize returns 5+NumClasses.
func (g *GridTensor) RecordSize() int { return 5 + g.NumClasses }

// Cells returns the number of grid cells across all strides.
func (g *GridTensor) Cells() int { return len(g.Data) / g.RecordSize() }

// Shape returns the [1, cells, record] output shape.
func (g *GridTensor) Shape() []int64 {
	return []int64{1, int64(g.Cells()), int64(g.RecordSize())}
}

// SetCell overwrites the record of cell (gx, gy) at the given stride.
func (g *GridTensor) SetCell(stride, gx, gy int, c Cell) error {
	first, ok := g.first[stride]
	if !ok {
		return fmt.Errorf("unknown stride %d", stride)
	}
	n := g.InputSize / stride
	if gx < 0 || gy < 0 || gx >= n || gy >= n {
		return fmt.Errorf("cell (%d,%d) outside %dx%d grid", gx, gy, n, n)
	}
	if len(c.ClassLogits) != g.NumClasses {
		return fmt.Errorf("got %d class logits, want %d", len(c.ClassLogits), g.NumClasses)
	}
	base := (first + gy*n + gx) * g.RecordSize()
	copy(g.Data[base:base+4], c.Offsets[:])
	g.Data[base+4] = c.Objectness
	copy(g.Data[base+5:base+g.RecordSize()], c.ClassLogits)
	return nil
}

// PlaceBox encodes a network-space box centred at (cx, cy) with size w x h
// into the cell that contains the centre, so that decoding reproduces it.
// Both objectness and the chosen class get the logit of sqrt(score) so the
// decoded score equals score.
func (g *GridTensor) PlaceBox(stride int, cx, cy, w, h float64, classID int, score float64) error {
	if classID < 0 || classID >= g.NumClasses {
		return fmt.Errorf("class %d out of range", classID)
	}
	s := float64(stride)
	gx, gy := int(math.Floor(cx/s)), int(math.Floor(cy/s))
	logit := Logit(math.Sqrt(score))

	classes := make([]float32, g.NumClasses)
	for i := range classes {
		classes[i] = Background
	}
	classes[classID] = logit

	return g.SetCell(stride, gx, gy, Cell{
		Offsets: [4]float32{
			float32(cx/s - float64(gx)),
			float32(cy/s - float64(gy)),
			float32(math.Log(w / s)),
			float32(math.Log(h / s)),
		},
		Objectness:  logit,
		ClassLogits: classes,
	})
}

// Logit is the inverse sigmoid, clamped away from 0 and 1.
func Logit(p float64) float32 {
	p = math.Min(math.Max(p, 1e-7), 1-1e-7)
	return float32(math.Log(p / (1 - p)))
}
