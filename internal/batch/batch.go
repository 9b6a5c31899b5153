// Package batch scans many image files with one pipeline.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/codescan/internal/common"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
)

// ProcessBatch discovers the images named by paths, builds a pipeline from
// config and scans them.
func ProcessBatch(ctx context.Context, paths []string, config *Config) (*Result, error) {
	files, err := Discover(paths, config)
	if err != nil {
		return nil, err
	}

	pl, err := pipeline.NewBuilder().WithConfig(config.Pipeline).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Warn("Error closing pipeline", "error", err)
		}
	}()

	return Run(ctx, pl, files, config)
}

// Discover expands paths into the image files to scan using the discovery
// settings of config.
func Discover(paths []string, config *Config) ([]string, error) {
	files, err := discoverImageFiles(paths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}
	return files, nil
}

// Run scans files with an existing pipeline. Images that fail to load or
// scan abort the run unless ContinueOnError is set, in which case they are
// recorded in Result.Errors.
func Run(ctx context.Context, pl *pipeline.Pipeline, files []string, config *Config) (*Result, error) {
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}
	overlayOpts, err := overlayOptions(config.OverlayColor)
	if err != nil {
		return nil, fmt.Errorf("invalid overlay colour: %w", err)
	}

	timer := common.NewNamedTimer("batch")
	result := &Result{
		Results:     make([]*pipeline.ScanResult, len(files)),
		Errors:      make([]error, len(files)),
		ImagePaths:  files,
		WorkerCount: config.Workers,
	}

	images := make([]image.Image, len(files))
	var loaded []image.Image
	var loadedIdx []int
	for i, path := range files {
		img, err := loadImage(path)
		if err != nil {
			if !config.ContinueOnError {
				return nil, err
			}
			slog.Warn("Skipping image", "file", path, "error", err)
			result.Errors[i] = err
			continue
		}
		images[i] = img
		loaded = append(loaded, img)
		loadedIdx = append(loadedIdx, i)
	}

	if len(loaded) > 0 {
		scanned, err := pl.ProcessImagesParallel(ctx, loaded, pipeline.ParallelConfig{
			MaxWorkers:       config.Workers,
			ProgressCallback: progressCallback(config),
			ErrorHandler: func(i int, err error) {
				result.Errors[loadedIdx[i]] = fmt.Errorf("%s: %w", files[loadedIdx[i]], err)
			},
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil && !config.ContinueOnError {
			return nil, fmt.Errorf("batch processing failed: %w", err)
		}
		for j, res := range scanned {
			result.Results[loadedIdx[j]] = res
		}
	}

	if config.OverlayDir != "" {
		if err := saveOverlays(images, files, result.Results, config.OverlayDir, overlayOpts); err != nil {
			return nil, err
		}
	}

	result.Duration = timer.Stop()
	slog.Info("Batch complete",
		"images", len(files), "failed", result.Failed(), "symbols", result.Symbols(),
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func progressCallback(config *Config) pipeline.ProgressCallback {
	if !config.ShowProgress || config.Quiet {
		return nil
	}
	var w io.Writer = os.Stderr
	if config.ProgressWriter != nil {
		w = config.ProgressWriter
	}
	cb := pipeline.NewConsoleProgressCallback(w, "Scanning: ")
	if config.ProgressInterval > 0 {
		cb = cb.WithUpdateInterval(config.ProgressInterval)
	}
	return cb
}
