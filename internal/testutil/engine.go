package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/onnx"
	"github.com/MeKo-Tech/codescan/internal/onnx/mock"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
)

// ScriptedEngine is an inference engine that returns a fixed raw output
// for every call.
type ScriptedEngine struct {
	mu     sync.Mutex
	output []float32
	err    error
	calls  int
}

// NewScriptedEngine returns an engine answering with a copy of output.
func NewScriptedEngine(output []float32) *ScriptedEngine {
	return &ScriptedEngine{output: slices.Clone(output)}
}

// Run implements pipeline.InferenceEngine.
func (e *ScriptedEngine) Run(ctx context.Context, _ onnx.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return slices.Clone(e.output), nil
}

// Close implements pipeline.InferenceEngine.
func (e *ScriptedEngine) Close() error { return nil }

// SetOutput replaces the raw output of later calls.
func (e *ScriptedEngine) SetOutput(output []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output = slices.Clone(output)
}

// SetError makes later calls fail with err.
func (e *ScriptedEngine) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many times Run was invoked.
func (e *ScriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// NewGrid returns an empty output tensor for the default detector geometry.
func NewGrid() *mock.GridTensor {
	return mock.NewGridTensor(detector.DefaultInputSize, detector.DefaultStrides(), detector.DefaultNumClasses)
}

// NewPipeline builds a pipeline over a scripted engine answering with grid
// and the real gozxing backend. A nil cfg uses the defaults.
func NewPipeline(grid *mock.GridTensor, cfg *pipeline.Config) (*pipeline.Pipeline, *ScriptedEngine, error) {
	c := pipeline.DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.Detector.ModelPath == "" {
		c.Detector.ModelPath = "scripted.onnx"
	}
	engine := NewScriptedEngine(nil)
	if grid != nil {
		engine.SetOutput(grid.Data)
	}
	p, err := pipeline.NewWithEngine(c, engine, barcode.NewBackend())
	if err != nil {
		return nil, nil, err
	}
	return p, engine, nil
}
