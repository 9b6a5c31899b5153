package batch

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// loadImage loads an image, rejecting unsupported extensions.
func loadImage(path string) (image.Image, error) {
	if !utils.IsSupportedImage(path) {
		return nil, fmt.Errorf("unsupported image format: %s", path)
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return img, nil
}

// overlayPath returns the overlay file for an input image. The index keeps
// inputs with the same base name in different directories apart.
func overlayPath(dir, input string, index int, seen map[string]int) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name := base + "_overlay.png"
	if n := seen[name]; n > 0 {
		name = fmt.Sprintf("%s_%d_overlay.png", base, index)
	}
	seen[base+"_overlay.png"]++
	return filepath.Join(dir, name)
}

// overlayOptions builds the rendering options; color overrides the
// per-class palette.
func overlayOptions(color string) (pipeline.OverlayOptions, error) {
	opts := pipeline.DefaultOverlayOptions()
	if color == "" {
		return opts, nil
	}
	c, err := pipeline.ParseColor(color)
	if err != nil {
		return opts, err
	}
	opts.ClassColors = nil
	opts.Fallback = c
	return opts, nil
}

// saveOverlays renders every successful result over its image into dir,
// creating it when missing. Failing to write a single overlay is logged.
func saveOverlays(images []image.Image, paths []string, results []*pipeline.ScanResult, dir string, opts pipeline.OverlayOptions) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create overlay directory: %w", err)
	}
	seen := make(map[string]int)
	for i, res := range results {
		if res == nil || images[i] == nil {
			continue
		}
		out := overlayPath(dir, paths[i], i, seen)
		ov := pipeline.RenderOverlay(images[i], res, opts)
		if err := pipeline.SaveOverlay(ov, out); err != nil {
			slog.Warn("Failed to save overlay", "file", paths[i], "error", err)
			continue
		}
		slog.Debug("Overlay saved", "file", out)
	}
	return nil
}
