package detector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/codescan/internal/models"
	"github.com/MeKo-Tech/codescan/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, models.GetDetectionModelPath(""), config.ModelPath)
	assert.Equal(t, 416, config.InputSize)
	assert.Equal(t, []int{8, 16, 32}, config.Strides)
	assert.Equal(t, 2, config.NumClasses)
	assert.InDelta(t, 0.25, config.ScoreThreshold, 1e-9)
	assert.InDelta(t, 0.5, config.NMSThreshold, 1e-9)
	assert.False(t, config.GPU.UseGPU)
	require.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"score above one", func(c *Config) { c.ScoreThreshold = 1.5 }},
		{"negative nms", func(c *Config) { c.NMSThreshold = -0.1 }},
		{"negative threads", func(c *Config) { c.NumThreads = -1 }},
		{"bad strides", func(c *Config) { c.Strides = []int{32, 16} }},
		{"bad gpu", func(c *Config) { c.GPU = onnx.GPUConfig{UseGPU: true, DeviceID: -1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_UpdateModelPath(t *testing.T) {
	cfg := DefaultConfig()
	dir := t.TempDir()
	cfg.UpdateModelPath(dir)
	assert.Equal(t, filepath.Join(dir, models.DetectionDefault), cfg.ModelPath)
	assert.Equal(t, DecoderConfig{InputSize: 416, Strides: []int{8, 16, 32}, NumClasses: 2}, cfg.DecoderConfig())
}

func TestNewDetector_EmptyModelPath(t *testing.T) {
	detector, err := NewDetector(Config{})
	require.Error(t, err)
	assert.Nil(t, detector)
	assert.Contains(t, err.Error(), "model path cannot be empty")
}

func TestNewDetector_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "nonexistent.onnx")

	detector, err := NewDetector(cfg)
	require.ErrorIs(t, err, ErrModelLoad)
	assert.Nil(t, detector)
	assert.Contains(t, err.Error(), "model file not found")
}

func TestNewDetector_EmptyOrCorruptModel(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.onnx")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	corrupt := filepath.Join(dir, "corrupt.onnx")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not protobuf"), 0o600))

	for _, p := range []string{empty, corrupt} {
		cfg := DefaultConfig()
		cfg.ModelPath = p
		_, err := NewDetector(cfg)
		require.ErrorIs(t, err, ErrModelLoad, p)
	}
}

func TestDetector_ClosedSession(t *testing.T) {
	d := &Detector{config: DefaultConfig()}
	_, err := d.Run(context.Background(), onnx.ZeroImageTensor(3, 4, 4))
	require.ErrorIs(t, err, ErrInference)
	require.NoError(t, d.Close())
}

func TestDetector_RunChecksContextAndTensor(t *testing.T) {
	d := &Detector{config: DefaultConfig()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, onnx.ZeroImageTensor(3, 4, 4))
	require.ErrorIs(t, err, context.Canceled)

	_, err = d.Run(context.Background(), onnx.Tensor{Data: make([]float32, 3), Shape: []int64{1, 3, 2, 2}})
	require.ErrorIs(t, err, ErrInference)
}

func requireModel(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		t.Skip("Detection model not available, skipping test")
	}
	if _, err := onnx.ResolveLibraryPath(false); err != nil {
		t.Skip("ONNX Runtime library not available, skipping test")
	}
	return cfg
}

func TestDetector_RealModel(t *testing.T) {
	cfg := requireModel(t)

	detector, err := NewDetector(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, detector.Close()) }()

	inputShape := detector.GetInputShape()
	require.Len(t, inputShape, 4)
	assert.Equal(t, int64(3), inputShape[1])

	out, err := detector.Run(context.Background(), onnx.ZeroImageTensor(3, cfg.InputSize, cfg.InputSize))
	require.NoError(t, err)

	dec, err := NewDecoder(cfg.DecoderConfig())
	require.NoError(t, err)
	assert.Len(t, out, dec.ExpectedLength())

	info := detector.GetModelInfo()
	assert.Equal(t, cfg.ModelPath, info["model_path"])
	assert.NotEmpty(t, info["input_name"])
}
