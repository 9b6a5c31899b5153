package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yalue/onnxruntime_go"
)

func TestDetector_WarmupNoop(t *testing.T) {
	d := &Detector{config: DefaultConfig()}
	require.NoError(t, d.Warmup(0))
	require.ErrorIs(t, d.Warmup(1), errClosed)
}

func TestDetector_WarmupShape(t *testing.T) {
	d := &Detector{config: DefaultConfig()}
	c, h, w := d.warmupShape()
	assert.Equal(t, []int{3, 416, 416}, []int{c, h, w})

	d.inputInfo = onnxruntime_go.InputOutputInfo{Dimensions: onnxruntime_go.NewShape(1, 3, 320, 640)}
	c, h, w = d.warmupShape()
	assert.Equal(t, []int{3, 320, 640}, []int{c, h, w})

	d.inputInfo = onnxruntime_go.InputOutputInfo{Dimensions: onnxruntime_go.NewShape(-1, 3, -1, -1)}
	c, h, w = d.warmupShape()
	assert.Equal(t, []int{3, 416, 416}, []int{c, h, w})
}

func TestDetector_WarmupRealModel(t *testing.T) {
	cfg := requireModel(t)
	cfg.WarmupIterations = 1
	det, err := NewDetector(cfg)
	require.NoError(t, err)
	defer func() { _ = det.Close() }()

	require.NoError(t, det.Warmup(2))
}
