package pipeline

import (
	"context"

	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/onnx"
)

// InferenceEngine runs the detection network on a prepared NCHW tensor and
// returns the flat raw output. The returned slice belongs to the caller.
type InferenceEngine interface {
	Run(ctx context.Context, tensor onnx.Tensor) ([]float32, error)
	Close() error
}

var _ InferenceEngine = (*detector.Detector)(nil)
