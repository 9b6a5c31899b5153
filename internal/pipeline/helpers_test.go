package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"slices"
	"sync"
	"testing"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/onnx"
	"github.com/MeKo-Tech/codescan/internal/onnx/mock"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
)

// scriptedEngine returns a fixed output for every call and records inputs.
type scriptedEngine struct {
	mu     sync.Mutex
	output []float32
	err    error
	calls  int
	shapes [][]int64
	closed bool
}

func (e *scriptedEngine) Run(ctx context.Context, t onnx.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.shapes = append(e.shapes, slices.Clone(t.Shape))
	if e.err != nil {
		return nil, e.err
	}
	return slices.Clone(e.output), nil
}

func (e *scriptedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// fakeBackend returns canned results and records the options it saw.
type fakeBackend struct {
	mu      sync.Mutex
	results []barcode.Result
	err     error
	seen    []barcode.Options
}

func (f *fakeBackend) Decode(_ context.Context, _ image.Image, opts barcode.Options) ([]barcode.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, opts)
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.results), nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Detector.ModelPath = "unused.onnx"
	cfg.Parallel.MaxWorkers = 2
	return cfg
}

func newGrid() *mock.GridTensor {
	return mock.NewGridTensor(detector.DefaultInputSize, detector.DefaultStrides(), detector.DefaultNumClasses)
}

// newTestPipeline builds a pipeline over a scripted engine whose output is
// the given grid (nil for an empty output).
func newTestPipeline(t *testing.T, grid *mock.GridTensor, backend barcode.Backend) (*Pipeline, *scriptedEngine) {
	t.Helper()
	engine := &scriptedEngine{output: []float32{}}
	if grid != nil {
		engine.output = grid.Data
	}
	p, err := NewWithEngine(testConfig(), engine, backend)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, engine
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// qrCanvas returns a white size x size canvas with a QR code of side qrSide
// at (at, at).
func qrCanvas(t *testing.T, text string, size, qrSide, at int) *image.RGBA {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, qrSide, qrSide, nil)
	require.NoError(t, err)
	canvas := solidImage(size, size, color.White)
	draw.Draw(canvas, image.Rect(at, at, at+qrSide, at+qrSide), m, image.Point{}, draw.Src)
	return canvas
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
