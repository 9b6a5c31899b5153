package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/models"
)

// Config holds configuration for the scan pipeline and its components.
type Config struct {
	ModelsDir string
	Detector  detector.Config
	Barcode   BarcodeConfig

	// Parallel processing configuration
	Parallel ParallelConfig
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.GetModelsDir(""),
		Detector:  detector.DefaultConfig(),
		Barcode:   DefaultBarcodeConfig(),
		Parallel:  DefaultParallelConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg          Config
	modelPathSet bool
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithModelsDir sets the models directory and updates the detector model path.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	if !b.modelPathSet {
		b.cfg.Detector.UpdateModelPath(b.cfg.ModelsDir)
	}
	return b
}

// WithModelPath overrides the detection model path directly.
func (b *Builder) WithModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
		b.modelPathSet = true
	}
	return b
}

// WithThresholds sets the score threshold and the NMS IoU threshold.
// Negative values keep the current setting.
func (b *Builder) WithThresholds(score, nms float64) *Builder {
	if score >= 0 {
		b.cfg.Detector.ScoreThreshold = score
	}
	if nms >= 0 {
		b.cfg.Detector.NMSThreshold = nms
	}
	return b
}

// WithInputSize sets the square network input side.
func (b *Builder) WithInputSize(size int) *Builder {
	if size > 0 {
		b.cfg.Detector.InputSize = size
	}
	return b
}

// WithThreads sets the intra-op thread count (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.Detector.NumThreads = n
	}
	return b
}

// WithBarcodes enables region decoding with a per-region symbol cap and an
// optional format filter.
func (b *Builder) WithBarcodes(enabled bool, maxSymbols int, formats []barcode.Format) *Builder {
	b.cfg.Barcode.Enabled = enabled
	if maxSymbols > 0 {
		b.cfg.Barcode.MaxSymbols = maxSymbols
	}
	if len(formats) > 0 {
		b.cfg.Barcode.Formats = formats
	}
	return b
}

// WithTryHarder enables the slower, more exhaustive decoder search.
func (b *Builder) WithTryHarder(enabled bool) *Builder {
	b.cfg.Barcode.TryHarder = enabled
	return b
}

// WithWarmup sets model warmup runs to reduce cold-start latency.
func (b *Builder) WithWarmup(n int) *Builder {
	if n >= 0 {
		b.cfg.Detector.WarmupIterations = n
	}
	return b
}

// WithParallelWorkers sets the number of parallel workers for batch processing.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the progress callback for batch processing.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// WithGPU enables GPU acceleration.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.GPU.UseGPU = enabled
	return b
}

// WithGPUDevice sets the CUDA device ID.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Detector.GPU.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit sets the GPU memory limit in bytes.
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Detector.GPU.GPUMemLimit = limitBytes
	return b
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.modelPathSet = cfg.Detector.ModelPath != ""
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that the model file exists and the configuration looks sane.
func (b *Builder) Validate() error {
	if b.cfg.Detector.ModelPath == "" {
		return errors.New("detector model path is empty")
	}
	if _, err := os.Stat(b.cfg.Detector.ModelPath); err != nil {
		return fmt.Errorf("%w: detector model not found: %s", detector.ErrModelLoad, b.cfg.Detector.ModelPath)
	}
	if err := b.cfg.Detector.Validate(); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}
	if b.cfg.Barcode.MaxSymbols < 0 {
		return errors.New("barcode max symbols must be >= 0")
	}
	return nil
}

// Build loads the model and returns a ready pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return New(b.cfg)
}

// Pipeline owns one inference engine and turns images into scored,
// suppressed detections in source coordinates, optionally decoding each
// region. Detection and decoding calls are safe for concurrent use; Close
// must not race with them.
type Pipeline struct {
	cfg        Config
	engine     InferenceEngine
	decoder    *detector.Decoder
	suppressor detector.Suppressor
	barcodes   barcode.Backend
}

// New creates a pipeline backed by an ONNX Runtime detector.
func New(cfg Config) (*Pipeline, error) {
	det, err := detector.NewDetector(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("init detector: %w", err)
	}
	p, err := NewWithEngine(cfg, det, nil)
	if err != nil {
		_ = det.Close()
		return nil, err
	}
	return p, nil
}

// NewWithEngine creates a pipeline around an existing engine. The pipeline
// takes ownership of engine and closes it in Close. A nil backend selects
// the default barcode backend.
func NewWithEngine(cfg Config, engine InferenceEngine, backend barcode.Backend) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("inference engine is nil")
	}
	dec, err := detector.NewDecoder(cfg.Detector.DecoderConfig())
	if err != nil {
		return nil, fmt.Errorf("init decoder: %w", err)
	}
	if backend == nil {
		backend = barcode.NewBackend()
	}
	if cfg.Barcode.MaxSymbols <= 0 {
		cfg.Barcode.MaxSymbols = DefaultMaxSymbols
	}
	slog.Debug("Pipeline ready",
		"input_size", cfg.Detector.InputSize,
		"score_threshold", cfg.Detector.ScoreThreshold,
		"nms_threshold", cfg.Detector.NMSThreshold,
		"barcodes", cfg.Barcode.Enabled)
	return &Pipeline{
		cfg:        cfg,
		engine:     engine,
		decoder:    dec,
		suppressor: detector.NewSuppressor(cfg.Detector.NMSThreshold),
		barcodes:   backend,
	}, nil
}

// Close releases the inference engine.
func (p *Pipeline) Close() error {
	if p == nil || p.engine == nil {
		return nil
	}
	err := p.engine.Close()
	p.engine = nil
	return err
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info returns a map with key pipeline properties and model info.
func (p *Pipeline) Info() map[string]any {
	info := map[string]any{
		"models_dir":  p.cfg.ModelsDir,
		"grid_cells":  p.decoder.Cells(),
		"tensor_size": p.decoder.ExpectedLength(),
		"barcode": map[string]any{
			"enabled":     p.cfg.Barcode.Enabled,
			"max_symbols": p.cfg.Barcode.MaxSymbols,
			"try_harder":  p.cfg.Barcode.TryHarder,
			"formats":     p.cfg.Barcode.Formats,
		},
		"parallel": map[string]any{
			"max_workers":           p.cfg.Parallel.MaxWorkers,
			"has_progress_callback": p.cfg.Parallel.ProgressCallback != nil,
		},
	}
	if d, ok := p.engine.(*detector.Detector); ok {
		info["detector"] = d.GetModelInfo()
	} else {
		info["detector"] = map[string]any{
			"input_size":      p.cfg.Detector.InputSize,
			"strides":         p.cfg.Detector.Strides,
			"num_classes":     p.cfg.Detector.NumClasses,
			"score_threshold": p.cfg.Detector.ScoreThreshold,
			"nms_threshold":   p.cfg.Detector.NMSThreshold,
		}
	}
	return info
}

func (p *Pipeline) ready() error {
	if p == nil || p.engine == nil || p.decoder == nil {
		return errors.New("pipeline not initialized")
	}
	return nil
}
