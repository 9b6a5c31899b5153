// Package benchmark measures scan latency and throughput of a pipeline.
package benchmark

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"io"
	"runtime"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/codescan/internal/common"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
)

// Scanner is the part of a pipeline a benchmark drives.
type Scanner interface {
	ScanImage(ctx context.Context, img image.Image) (*pipeline.ScanResult, error)
}

// Stages reported per result, in pipeline order.
var Stages = []string{
	pipeline.StagePreprocess,
	pipeline.StageInference,
	pipeline.StagePostprocess,
	pipeline.StageDecode,
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64 // Currently allocated bytes
	TotalAllocBytes uint64 // Total allocated bytes (cumulative)
	NumGC           uint32 // Number of GC runs
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{AllocBytes: m.Alloc, TotalAllocBytes: m.TotalAlloc, NumGC: m.NumGC}
}

// Options controls a run.
type Options struct {
	Iterations int           // measured scans (default 10)
	Warmup     int           // unmeasured scans before the first measurement
	Timeout    time.Duration // per scan; zero means none
}

// Result holds the measurements of one image.
type Result struct {
	Name       string
	Width      int
	Height     int
	Iterations int
	Durations  []time.Duration
	StageMs    map[string]float64 // mean per stage
	Symbols    int                // decoded symbols of the last scan
	AllocBytes uint64             // bytes allocated while measuring
	Err        error
}

// Total returns the summed scan time.
func (r Result) Total() time.Duration {
	var sum time.Duration
	for _, d := range r.Durations {
		sum += d
	}
	return sum
}

// Mean returns the mean scan time.
func (r Result) Mean() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	return r.Total() / time.Duration(len(r.Durations))
}

// Percentile returns the p-th percentile (0..100) of the scan times using
// the nearest-rank method.
func (r Result) Percentile(p float64) time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	sorted := slices.Clone(r.Durations)
	slices.Sort(sorted)
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

// PerSecond returns the throughput in images per second.
func (r Result) PerSecond() float64 {
	if t := r.Total(); t > 0 {
		return float64(len(r.Durations)) / t.Seconds()
	}
	return 0
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Err)
	}
	return fmt.Sprintf("%s (%dx%d): %d iterations, mean %v, p95 %v, %.1f images/sec, %d symbols",
		r.Name, r.Width, r.Height, len(r.Durations), r.Mean().Round(time.Microsecond),
		r.Percentile(95).Round(time.Microsecond), r.PerSecond(), r.Symbols)
}

// Run scans img repeatedly and records the timings. The first failing scan
// ends the run and is reported in Result.Err.
func Run(ctx context.Context, name string, s Scanner, img image.Image, opts Options) Result {
	if opts.Iterations <= 0 {
		opts.Iterations = 10
	}
	b := img.Bounds()
	res := Result{
		Name:       name,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Iterations: opts.Iterations,
		StageMs:    make(map[string]float64, len(Stages)),
	}

	for range opts.Warmup {
		if _, err := scan(ctx, s, img, opts.Timeout); err != nil {
			res.Err = fmt.Errorf("warmup: %w", err)
			return res
		}
	}

	runtime.GC()
	before := GetMemoryStats()
	for range opts.Iterations {
		timer := common.NewTimer()
		out, err := scan(ctx, s, img, opts.Timeout)
		if err != nil {
			res.Err = err
			break
		}
		res.Durations = append(res.Durations, timer.Stop())
		for stage, ms := range out.TimingsMs {
			res.StageMs[stage] += ms
		}
		res.Symbols = len(out.Matches)
	}
	res.AllocBytes = GetMemoryStats().TotalAllocBytes - before.TotalAllocBytes

	if n := len(res.Durations); n > 0 {
		for stage := range res.StageMs {
			res.StageMs[stage] /= float64(n)
		}
	}
	return res
}

func scan(ctx context.Context, s Scanner, img image.Image, timeout time.Duration) (*pipeline.ScanResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.ScanImage(ctx, img)
}

// Comparison pairs CPU and GPU results for one image.
type Comparison struct {
	CPU          Result
	GPU          Result
	GPUAvailable bool
}

// Speedup returns how many times faster the GPU run was; 0 when there is
// nothing to compare.
func (c Comparison) Speedup() float64 {
	if !c.GPUAvailable || c.GPU.Err != nil || c.GPU.Mean() == 0 {
		return 0
	}
	return float64(c.CPU.Mean()) / float64(c.GPU.Mean())
}

func (c Comparison) String() string {
	if !c.GPUAvailable {
		return fmt.Sprintf("%s: GPU not available, CPU mean %v", c.CPU.Name, c.CPU.Mean().Round(time.Microsecond))
	}
	return fmt.Sprintf("%s: CPU %v, GPU %v (%.2fx)", c.CPU.Name,
		c.CPU.Mean().Round(time.Microsecond), c.GPU.Mean().Round(time.Microsecond), c.Speedup())
}

// Report writes a table of results followed by the mean stage times.
func Report(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "IMAGE\tSIZE\tN\tMEAN\tP50\tP95\tIMG/S\tSYMBOLS\tALLOC/SCAN")
	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(tw, "%s\t%dx%d\tERROR: %v\n", r.Name, r.Width, r.Height, r.Err)
			continue
		}
		perScan := uint64(0)
		if n := len(r.Durations); n > 0 {
			perScan = r.AllocBytes / uint64(n)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%dx%d\t%d\t%v\t%v\t%v\t%.1f\t%d\t%d KB\n",
			r.Name, r.Width, r.Height, len(r.Durations),
			r.Mean().Round(time.Microsecond), r.Percentile(50).Round(time.Microsecond),
			r.Percentile(95).Round(time.Microsecond), r.PerSecond(), r.Symbols, perScan/1024)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "IMAGE"
	for _, s := range Stages {
		header += "\t" + s + " ms"
	}
	_, _ = fmt.Fprintln(tw, header)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		line := r.Name
		for _, s := range Stages {
			line += "\t" + strconv.FormatFloat(r.StageMs[s], 'f', 2, 64)
		}
		_, _ = fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

// WriteCSV writes one row per result.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	header := []string{"image", "width", "height", "iterations", "mean_ms", "p50_ms", "p95_ms", "images_per_sec", "symbols"}
	for _, s := range Stages {
		header = append(header, s+"_ms")
	}
	header = append(header, "error")
	if err := cw.Write(header); err != nil {
		return err
	}
	ms := func(d time.Duration) string { return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 3, 64) }
	for _, r := range results {
		row := []string{
			r.Name, strconv.Itoa(r.Width), strconv.Itoa(r.Height), strconv.Itoa(len(r.Durations)),
			ms(r.Mean()), ms(r.Percentile(50)), ms(r.Percentile(95)),
			strconv.FormatFloat(r.PerSecond(), 'f', 2, 64), strconv.Itoa(r.Symbols),
		}
		for _, s := range Stages {
			row = append(row, strconv.FormatFloat(r.StageMs[s], 'f', 3, 64))
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		if err := cw.Write(append(row, errText)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
