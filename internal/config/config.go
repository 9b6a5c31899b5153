package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/models"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Detector: DetectorConfig{
			InputSize:      det.InputSize,
			Strides:        det.Strides,
			NumClasses:     det.NumClasses,
			ScoreThreshold: det.ScoreThreshold,
			NMSThreshold:   det.NMSThreshold,
			NumThreads:     det.NumThreads,
		},
		Barcode: BarcodeConfig{
			Enabled:    true,
			MaxSymbols: pipeline.DefaultMaxSymbols,
		},
		Output: OutputConfig{
			Format: pipeline.FormatText,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			OverlayEnabled:  true,
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: false,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatCSV}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.OverlayColor != "" {
		if _, err := pipeline.ParseColor(c.Output.OverlayColor); err != nil {
			return fmt.Errorf("invalid output.overlay_color: %w", err)
		}
	}

	if err := validateThreshold(c.Detector.ScoreThreshold, "detector.score_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detector.NMSThreshold, "detector.nms_threshold"); err != nil {
		return err
	}
	if err := c.toDetectorConfig().DecoderConfig().Validate(); err != nil {
		return fmt.Errorf("invalid detector geometry: %w", err)
	}
	if c.Detector.NumThreads < 0 {
		return fmt.Errorf("invalid detector.num_threads: %d (must be >= 0)", c.Detector.NumThreads)
	}
	if c.Detector.WarmupIterations < 0 {
		return fmt.Errorf("invalid detector.warmup_iterations: %d (must be >= 0)", c.Detector.WarmupIterations)
	}

	if c.Barcode.MaxSymbols < 0 {
		return fmt.Errorf("invalid barcode.max_symbols: %d (must be >= 0)", c.Barcode.MaxSymbols)
	}
	if _, err := c.barcodeFormats(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return errors.New("invalid server.rate_limit: limits must be >= 0")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d (must be >= 0)", c.GPU.Device)
	}
	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
// Call Validate first; invalid formats and memory limits are dropped here.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if c.ModelsDir != "" {
		cfg.ModelsDir = c.ModelsDir
	}
	cfg.Detector = c.toDetectorConfig()
	formats, _ := c.barcodeFormats()
	cfg.Barcode = pipeline.BarcodeConfig{
		Enabled:    c.Barcode.Enabled,
		MaxSymbols: c.Barcode.MaxSymbols,
		TryHarder:  c.Barcode.TryHarder,
		TryInvert:  c.Barcode.TryInvert,
		Formats:    formats,
	}
	if c.Batch.Workers > 0 {
		cfg.Parallel.MaxWorkers = c.Batch.Workers
	}
	return cfg
}

// toDetectorConfig converts to detector.Config.
func (c *Config) toDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	if c.ModelsDir != "" {
		cfg.UpdateModelPath(c.ModelsDir)
	}
	if c.Detector.ModelPath != "" {
		cfg.ModelPath = c.Detector.ModelPath
	}
	if c.Detector.InputSize > 0 {
		cfg.InputSize = c.Detector.InputSize
	}
	if len(c.Detector.Strides) > 0 {
		cfg.Strides = slices.Clone(c.Detector.Strides)
	}
	if c.Detector.NumClasses > 0 {
		cfg.NumClasses = c.Detector.NumClasses
	}
	cfg.ScoreThreshold = c.Detector.ScoreThreshold
	cfg.NMSThreshold = c.Detector.NMSThreshold
	cfg.NumThreads = c.Detector.NumThreads
	cfg.WarmupIterations = c.Detector.WarmupIterations

	cfg.GPU.UseGPU = c.GPU.Enabled
	cfg.GPU.DeviceID = c.GPU.Device
	if limit, err := ParseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPU.GPUMemLimit = limit
	}
	return cfg
}

func (c *Config) barcodeFormats() ([]barcode.Format, error) {
	out := make([]barcode.Format, 0, len(c.Barcode.Formats))
	for _, name := range c.Barcode.Formats {
		f, err := barcode.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("invalid barcode.formats: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// ToYAML renders the configuration as YAML.
func (c *Config) ToYAML() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(b), nil
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit converts a GPU memory limit such as "1GB" or "512MB" to
// bytes. "" and "auto" mean no limit (0).
func ParseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || strings.EqualFold(limit, "auto") {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		num, ok := strings.CutSuffix(upper, u.suffix)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(v * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB (got %s)", limit)
}
