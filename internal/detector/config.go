package detector

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/codescan/internal/models"
	"github.com/MeKo-Tech/codescan/internal/onnx"
)

var (
	// ErrModelLoad is returned when the model cannot be read or a session
	// cannot be created from it.
	ErrModelLoad = errors.New("model load failed")
	// ErrInference is returned when a forward pass fails.
	ErrInference = errors.New("inference failed")
	// ErrEmptyModelOutput is logged when the engine returns no data. It is a
	// warning, not a failure: the call yields no detections.
	ErrEmptyModelOutput = errors.New("empty model output")
	// ErrTensorLayout is returned when the output length does not match the
	// grid implied by the decoder configuration.
	ErrTensorLayout = errors.New("unexpected tensor layout")
)

// Defaults of the shipped barcode/QR model.
const (
	DefaultInputSize      = 416
	DefaultNumClasses     = 2
	DefaultScoreThreshold = 0.25
	DefaultNMSThreshold   = 0.5
	DefaultInputName      = "in0"
	DefaultOutputName     = "out0"
)

// DefaultStrides returns the feature-map strides of the shipped model.
func DefaultStrides() []int { return []int{8, 16, 32} }

// Config holds configuration for the barcode/QR detector.
type Config struct {
	ModelPath        string         // Path to ONNX detection model
	InputSize        int            // Square network input side (default: 416)
	Strides          []int          // Feature-map strides, ascending (default: 8,16,32)
	NumClasses       int            // Number of classes (default: 2)
	ScoreThreshold   float64        // Minimum objectness*class score (default: 0.25)
	NMSThreshold     float64        // IoU above which lower-scored boxes are dropped (default: 0.5)
	NumThreads       int            // Intra-op threads (default: 0 for auto)
	WarmupIterations int            // Zero-tensor passes after load
	InputName        string         // Model input name; empty = first input
	OutputName       string         // Model output name; empty = first output
	GPU              onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:      models.GetDetectionModelPath(""),
		InputSize:      DefaultInputSize,
		Strides:        DefaultStrides(),
		NumClasses:     DefaultNumClasses,
		ScoreThreshold: DefaultScoreThreshold,
		NMSThreshold:   DefaultNMSThreshold,
		GPU:            onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath points ModelPath at the default model inside modelsDir.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetDetectionModelPath(modelsDir)
}

// DecoderConfig extracts the grid geometry part of the configuration.
func (c Config) DecoderConfig() DecoderConfig {
	return DecoderConfig{InputSize: c.InputSize, Strides: c.Strides, NumClasses: c.NumClasses}
}

// Validate checks thresholds and grid geometry.
func (c Config) Validate() error {
	if err := c.DecoderConfig().Validate(); err != nil {
		return err
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %v", c.ScoreThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold must be in [0,1], got %v", c.NMSThreshold)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be >= 0, got %d", c.NumThreads)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}

// validateConfig validates what NewDetector needs before touching the runtime.
func validateConfig(config Config) error {
	if config.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	return config.Validate()
}
