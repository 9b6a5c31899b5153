package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MeKo-Tech/codescan/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

var errClosed = errors.New("detector session is closed")

// Detector runs the barcode/QR model through ONNX Runtime. The model bytes
// are loaded once and the session is reused for every call. Run is safe for
// concurrent use; Close must not race with it.
type Detector struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	modelBytes int
	mu         sync.RWMutex
}

// NewDetector loads the model and creates an inference session.
func NewDetector(config Config) (*Detector, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	data, err := loadModel(config.ModelPath)
	if err != nil {
		return nil, err
	}

	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"model_bytes", len(data),
		"input_size", config.InputSize,
		"strides", config.Strides,
		"gpu_enabled", config.GPU.UseGPU)

	if err := onnx.EnsureEnvironment(config.GPU.UseGPU); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	inputInfo, outputInfo, err := validateModelInfo(data, config)
	if err != nil {
		return nil, err
	}

	session, err := createSession(data, inputInfo, outputInfo, config)
	if err != nil {
		return nil, err
	}

	d := &Detector{
		config:     config,
		session:    session,
		inputInfo:  inputInfo,
		outputInfo: outputInfo,
		modelBytes: len(data),
	}

	if err := d.Warmup(config.WarmupIterations); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("warmup failed: %w", err)
	}

	slog.Debug("Detector initialized successfully")
	return d, nil
}

// Close releases the session. The process-wide runtime environment stays
// initialised for other detectors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy detector session: %w", err)
	}
	return nil
}

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetInputShape returns the model's declared input shape.
func (d *Detector) GetInputShape() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.inputInfo.Dimensions)
}

// GetOutputShape returns the model's declared output shape.
func (d *Detector) GetOutputShape() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.outputInfo.Dimensions)
}

// Run executes one forward pass and returns a copy of the flat output. The
// runtime call itself cannot be interrupted; ctx is checked before it starts.
func (d *Detector) Run(ctx context.Context, tensor onnx.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := onnx.VerifyImageTensor(tensor); err != nil {
		return nil, fmt.Errorf("%w: invalid tensor: %w", ErrInference, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, errClosed)
	}
	return runSession(d.session, tensor)
}

// runSession performs one inference with runtime-allocated outputs.
func runSession(session *onnxruntime_go.DynamicAdvancedSession, tensor onnx.Tensor) ([]float32, error) {
	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(tensor.Shape...), tensor.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %w", ErrInference, err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("%w: runtime returned no output", ErrInference)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("failed to destroy output tensor", "error", err)
		}
	}()

	floatTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: expected float32 tensor, got %T", ErrInference, outputs[0])
	}

	// The data is owned by the runtime and freed with the tensor.
	data := slices.Clone(floatTensor.GetData())
	minV, maxV, mean := onnx.TensorStats(data)
	slog.Debug("inference output",
		"shape", floatTensor.GetShape().String(), "min", minV, "max", maxV, "mean", mean)
	return data, nil
}

// GetModelInfo returns information about the loaded detection model.
func (d *Detector) GetModelInfo() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return map[string]any{
		"model_path":        d.config.ModelPath,
		"model_bytes":       d.modelBytes,
		"input_name":        d.inputInfo.Name,
		"output_name":       d.outputInfo.Name,
		"input_shape":       d.inputInfo.Dimensions,
		"output_shape":      d.outputInfo.Dimensions,
		"input_size":        d.config.InputSize,
		"strides":           d.config.Strides,
		"num_classes":       d.config.NumClasses,
		"classes":           ClassNames(),
		"score_threshold":   d.config.ScoreThreshold,
		"nms_threshold":     d.config.NMSThreshold,
		"num_threads":       d.config.NumThreads,
		"warmup_iterations": d.config.WarmupIterations,
		"gpu": map[string]any{
			"enabled":            d.config.GPU.UseGPU,
			"device_id":          d.config.GPU.DeviceID,
			"memory_limit_bytes": d.config.GPU.GPUMemLimit,
		},
	}
}
