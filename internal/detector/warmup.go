package detector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/codescan/internal/onnx"
)

// warmupShape returns the [C,H,W] to warm up with, preferring the model's
// declared static dimensions over the configured input size.
func (d *Detector) warmupShape() (int, int, int) {
	c, h, w := 3, d.config.InputSize, d.config.InputSize
	if dims := d.inputInfo.Dimensions; len(dims) == 4 {
		if dims[1] > 0 {
			c = int(dims[1])
		}
		if dims[2] > 0 {
			h = int(dims[2])
		}
		if dims[3] > 0 {
			w = int(dims[3])
		}
	}
	return c, h, w
}

// Warmup runs a number of forward passes on an all-zero tensor to reduce
// first-call latency.
func (d *Detector) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return errClosed
	}

	c, h, w := d.warmupShape()
	tensor := onnx.ZeroImageTensor(c, h, w)
	start := time.Now()
	for i := range iterations {
		if _, err := runSession(d.session, tensor); err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i+1, err)
		}
	}
	slog.Debug("Detector warmed up", "iterations", iterations, "duration", time.Since(start))
	return nil
}
