package cmd

import (
	"fmt"
	"slices"
	"time"

	"github.com/MeKo-Tech/codescan/internal/batch"
	"github.com/MeKo-Tech/codescan/internal/config"
	"github.com/spf13/cobra"
)

// batchCmd scans whole directories of images in parallel.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Scan many images in parallel",
	Long: `Scan image files and directories in parallel. Directories are searched
for supported images; --recursive descends into sub-directories.

Examples:
  codescan batch *.jpg *.png
  codescan batch photos/ --recursive --workers 8
  codescan batch photos/ --format csv --output results.csv --stats
  codescan batch photos/ --exclude '*_overlay.png' --continue-on-error`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	PreRunE:      func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd, batchFlagBindings) },
	RunE:         runBatchCommand,
}

var batchFlagBindings = append(slices.Clone(scanFlagBindings),
	flagBinding{"batch.continue_on_error", "continue-on-error"},
)

// configToBatchConfig maps the resolved configuration and the batch-only
// flags to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	bc := &batch.Config{
		Pipeline:        cfg.ToPipelineConfig(),
		Format:          cfg.Output.Format,
		OutputFile:      cfg.Output.File,
		OverlayDir:      cfg.Output.OverlayDir,
		OverlayColor:    cfg.Output.OverlayColor,
		Workers:         cfg.Batch.Workers,
		ContinueOnError: cfg.Batch.ContinueOnError,
	}
	bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	bc.ShowProgress, _ = cmd.Flags().GetBool("progress")
	bc.Quiet, _ = cmd.Flags().GetBool("quiet")
	bc.ProgressInterval, _ = cmd.Flags().GetDuration("progress-interval")
	bc.ProgressWriter = cmd.ErrOrStderr()
	return bc
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	bc := configToBatchConfig(cfg, cmd)

	pl, err := buildPipeline(bc.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() { _ = pl.Close() }()

	files, err := batch.Discover(args, bc)
	if err != nil {
		return err
	}
	result, err := batch.Run(cmd.Context(), pl, files, bc)
	if err != nil {
		return err
	}
	if err := result.SaveResults(cmd.OutOrStdout(), bc.Format, bc.OutputFile, bc.Quiet); err != nil {
		return err
	}
	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		result.PrintStats(cmd.ErrOrStderr())
	}
	if n := result.Failed(); n > 0 && !bc.Quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d images failed\n", n, len(result.ImagePaths))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addImageFlags(batchCmd)
	addDecodeFlags(batchCmd)
	batchCmd.Flags().Bool("continue-on-error", false, "keep going when an image fails to load or scan")

	// File discovery flags
	batchCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", []string{}, "file patterns to include (e.g. '*.png')")
	batchCmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	// Progress flags
	batchCmd.Flags().Bool("progress", false, "show progress bar")
	batchCmd.Flags().Bool("quiet", false, "suppress progress output")
	batchCmd.Flags().Bool("stats", false, "show processing statistics")
	batchCmd.Flags().Duration("progress-interval", 500*time.Millisecond, "progress update interval")
}
