package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/codescan/internal/benchmark"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench [images...]",
	Short: "Measure scan latency per image",
	Long: `Scan every image repeatedly and report latency percentiles, throughput
and the mean time spent in each pipeline stage.

Examples:
  codescan bench shelf.jpg --iterations 50
  codescan bench a.png b.png --compare-gpu --csv bench.csv`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, []flagBinding{
			{"detector.model_path", "model"},
			{"detector.num_threads", "threads"},
			{"barcode.try_harder", "try-harder"},
			{"gpu.device", "gpu-device"},
			{"gpu.memory_limit", "gpu-mem-limit"},
		})
	},
	RunE: runBench,
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	iterations, _ := cmd.Flags().GetInt("iterations")
	warmup, _ := cmd.Flags().GetInt("warmup")
	compareGPU, _ := cmd.Flags().GetBool("compare-gpu")
	csvFile, _ := cmd.Flags().GetString("csv")
	opts := benchmark.Options{Iterations: iterations, Warmup: warmup}

	cpuCfg := cfg.ToPipelineConfig()
	cpuCfg.Detector.GPU.UseGPU = false
	cpu, err := buildPipeline(cpuCfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer closePipeline(cpu)

	var gpu *pipeline.Pipeline
	if compareGPU {
		gpuCfg := cfg.ToPipelineConfig()
		gpuCfg.Detector.GPU.UseGPU = true
		if gpu, err = buildPipeline(gpuCfg); err != nil {
			slog.Warn("GPU pipeline unavailable", "error", err)
			gpu = nil
		} else {
			defer closePipeline(gpu)
		}
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	var results []benchmark.Result
	var comparisons []benchmark.Comparison
	for _, path := range args {
		name := filepath.Base(path)
		img, _, err := utils.LoadImage(path)
		if err != nil {
			results = append(results, benchmark.Result{Name: name, Err: err})
			continue
		}
		res := benchmark.Run(ctx, name, cpu, img, opts)
		results = append(results, res)
		if compareGPU {
			c := benchmark.Comparison{CPU: res, GPUAvailable: gpu != nil}
			if gpu != nil {
				c.GPU = benchmark.Run(ctx, name, gpu, img, opts)
			}
			comparisons = append(comparisons, c)
		}
	}

	if err := benchmark.Report(out, results); err != nil {
		return err
	}
	if len(comparisons) > 0 {
		_, _ = fmt.Fprintln(out)
		for _, c := range comparisons {
			_, _ = fmt.Fprintln(out, c.String())
		}
	}

	if csvFile != "" {
		f, err := os.Create(csvFile) //nolint:gosec // user-provided output path
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", csvFile, err)
		}
		if err := benchmark.WriteCSV(f, results); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", csvFile)
	}

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.Name, r.Err)
		}
	}
	return nil
}

func closePipeline(p *pipeline.Pipeline) {
	if err := p.Close(); err != nil {
		slog.Warn("Error closing pipeline", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().Int("iterations", 10, "measured scans per image")
	benchCmd.Flags().Int("warmup", 1, "unmeasured scans before measuring")
	benchCmd.Flags().Bool("compare-gpu", false, "also run on the GPU and report the speedup")
	benchCmd.Flags().String("csv", "", "write results as CSV to this file")
	benchCmd.Flags().String("model", "", "override detection model path")
	benchCmd.Flags().Int("threads", 0, "ONNX Runtime intra-op threads (0=auto)")
	benchCmd.Flags().Bool("try-harder", false, "spend more time looking for a symbol in each region")
	benchCmd.Flags().Int("gpu-device", 0, "CUDA device ID for --compare-gpu")
	benchCmd.Flags().String("gpu-mem-limit", "auto", "GPU memory limit for --compare-gpu")
}
