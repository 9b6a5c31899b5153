package cmd

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/MeKo-Tech/codescan/internal/batch"
	"github.com/MeKo-Tech/codescan/internal/config"
	"github.com/spf13/cobra"
)

// scanCmd detects and decodes symbols in images.
var scanCmd = &cobra.Command{
	Use:   "scan [images...]",
	Short: "Detect and decode barcodes and QR codes in images",
	Long: `Detect barcode and QR code regions in one or more images and decode the
symbol inside every region.

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  codescan scan label.png
  codescan scan a.jpg b.png --format json --output results.json
  codescan scan shelf.jpg --formats qr,ean13 --try-harder
  codescan scan shelf.jpg --overlay-dir out/`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd, scanFlagBindings) },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImages(cmd, args, true)
	},
}

// detectCmd only locates symbol regions.
var detectCmd = &cobra.Command{
	Use:   "detect [images...]",
	Short: "Locate barcode and QR code regions without decoding them",
	Long: `Run the region detector on one or more images and report the scored
boxes in image coordinates.

Examples:
  codescan detect shelf.jpg
  codescan detect shelf.jpg --score-threshold 0.5 --format csv`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd, imageFlagBindings) },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImages(cmd, args, false)
	},
}

var imageFlagBindings = []flagBinding{
	{"output.format", "format"},
	{"output.file", "output"},
	{"output.overlay_dir", "overlay-dir"},
	{"output.overlay_color", "overlay-color"},
	{"detector.model_path", "model"},
	{"detector.input_size", "input-size"},
	{"detector.score_threshold", "score-threshold"},
	{"detector.nms_threshold", "nms-threshold"},
	{"detector.num_threads", "threads"},
	{"batch.workers", "workers"},
	{"gpu.enabled", "gpu"},
	{"gpu.device", "gpu-device"},
	{"gpu.memory_limit", "gpu-mem-limit"},
}

var scanFlagBindings = append(slices.Clone(imageFlagBindings),
	flagBinding{"barcode.formats", "formats"},
	flagBinding{"barcode.max_symbols", "max-symbols"},
	flagBinding{"barcode.try_harder", "try-harder"},
	flagBinding{"barcode.try_invert", "try-invert"},
)

func addImageFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()

	cmd.Flags().StringP("format", "f", defaults.Output.Format, "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("overlay-dir", "", "directory to write overlay images (drawn boxes)")
	cmd.Flags().String("overlay-color", "", "overlay box colour (hex); default colours boxes per class")
	cmd.Flags().String("model", "", "override detection model path (defaults to organized models path)")
	cmd.Flags().Int("input-size", defaults.Detector.InputSize, "detector input size in pixels")
	cmd.Flags().Float64("score-threshold", defaults.Detector.ScoreThreshold, "minimum detection score (0..1)")
	cmd.Flags().Float64("nms-threshold", defaults.Detector.NMSThreshold, "IoU above which overlapping boxes are suppressed (0..1)")
	cmd.Flags().Int("threads", 0, "ONNX Runtime intra-op threads (0=auto)")
	cmd.Flags().Int("workers", defaults.Batch.Workers, "number of images scanned in parallel")

	// GPU acceleration flags
	cmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	cmd.Flags().Int("gpu-device", 0, "CUDA device ID to use")
	cmd.Flags().String("gpu-mem-limit", defaults.GPU.MemoryLimit, "GPU memory limit "+
		"(e.g., '2GB', '512MB', 'auto' for no limit)")
}

func addDecodeFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()

	cmd.Flags().StringSlice("formats", nil, "symbologies to decode (e.g. qr,ean13,code128); default all")
	cmd.Flags().Int("max-symbols", defaults.Barcode.MaxSymbols, "maximum number of regions decoded per image")
	cmd.Flags().Bool("try-harder", false, "spend more time looking for a symbol in each region")
	cmd.Flags().Bool("try-invert", false, "also try light-on-dark symbols")
}

// runImages scans explicit image files with one pipeline. decode selects
// between scan and detect.
func runImages(cmd *cobra.Command, files []string, decode bool) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	pCfg := cfg.ToPipelineConfig()
	pCfg.Barcode.Enabled = decode
	pl, err := buildPipeline(pCfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Warn("Error closing pipeline", "error", err)
		}
	}()

	bCfg := &batch.Config{
		Pipeline:     pCfg,
		Format:       cfg.Output.Format,
		OutputFile:   cfg.Output.File,
		OverlayDir:   cfg.Output.OverlayDir,
		OverlayColor: cfg.Output.OverlayColor,
		Workers:      cfg.Batch.Workers,
		Quiet:        true,
	}
	result, err := batch.Run(cmd.Context(), pl, files, bCfg)
	if err != nil {
		return err
	}
	return result.SaveResults(cmd.OutOrStdout(), bCfg.Format, bCfg.OutputFile, false)
}

// GetScanCommand returns the scan command for testing.
func GetScanCommand() *cobra.Command {
	return scanCmd
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(detectCmd)

	addImageFlags(scanCmd)
	addDecodeFlags(scanCmd)
	addImageFlags(detectCmd)
}
