package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScene renders a standard scene to dir/name.
func writeScene(t *testing.T, dir, scene, name string) string {
	t.Helper()
	s, err := testutil.LookupScene(scene)
	require.NoError(t, err)
	img, err := s.Image()
	require.NoError(t, err)
	return testutil.WriteImage(t, filepath.Join(dir, name), img)
}

// qrPipeline answers every image with the box of the "qr" scene.
func qrPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	s, err := testutil.LookupScene("qr")
	require.NoError(t, err)
	grid, err := s.Grid(0.9)
	require.NoError(t, err)
	p, _, err := testutil.NewPipeline(grid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProcessBatch_NoImageFiles(t *testing.T) {
	result, err := ProcessBatch(context.Background(), []string{t.TempDir()}, &Config{Workers: 1})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "no image files found")
}

func TestProcessBatch_InvalidPath(t *testing.T) {
	result, err := ProcessBatch(context.Background(), []string{"/nonexistent/file.png"}, &Config{Workers: 1})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "cannot access")
}

func TestProcessBatch_MissingModel(t *testing.T) {
	dir := t.TempDir()
	writeScene(t, dir, "qr", "a.png")

	cfg := &Config{Workers: 1, Pipeline: pipeline.DefaultConfig()}
	cfg.Pipeline.Detector.ModelPath = filepath.Join(dir, "missing.onnx")
	_, err := ProcessBatch(context.Background(), []string{dir}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build pipeline")
}

func TestRun_ScansInOrder(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeScene(t, dir, "qr", "a.png"),
		writeScene(t, dir, "blank", "b.png"),
		writeScene(t, dir, "qr", "c.jpg"),
	}
	var progress bytes.Buffer
	cfg := &Config{Workers: 2, ShowProgress: true, ProgressWriter: &progress}

	res, err := Run(context.Background(), qrPipeline(t), files, cfg)
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.Equal(t, files, res.ImagePaths)
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, 2, res.WorkerCount)
	assert.Positive(t, res.Duration)

	// Every image gets the scripted box; only the real QR codes decode.
	for i, r := range res.Results {
		require.NotNil(t, r, files[i])
		assert.Len(t, r.Detections, 1)
	}
	assert.Equal(t, "hello", res.Results[0].Matches[0].Text)
	assert.Empty(t, res.Results[1].Matches)
	assert.Equal(t, 2, res.Symbols())
	assert.NotEmpty(t, progress.String())
}

func TestRun_ContinueOnError(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	good := writeScene(t, dir, "qr", "good.png")
	files := []string{bad, good}

	_, err := Run(context.Background(), qrPipeline(t), files, &Config{Workers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.png")

	res, err := Run(context.Background(), qrPipeline(t), files, &Config{Workers: 1, ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed())
	assert.Error(t, res.Errors[0])
	assert.Nil(t, res.Results[0])
	require.NotNil(t, res.Results[1])
	assert.Equal(t, 1, res.Symbols())
}

func TestRun_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeScene(t, dir, "qr", "a.png")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, qrPipeline(t), files, &Config{Workers: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Overlays(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	files := []string{
		writeScene(t, dir, "qr", "page.png"),
		writeScene(t, sub, "qr", "page.png"),
	}
	overlayDir := filepath.Join(dir, "overlays", "nested")
	require.NoDirExists(t, overlayDir)

	_, err := Run(context.Background(), qrPipeline(t), files, &Config{Workers: 1, OverlayDir: overlayDir, OverlayColor: "#00ff00"})
	require.NoError(t, err)
	assert.True(t, testutil.FileExists(filepath.Join(overlayDir, "page_overlay.png")))
	assert.True(t, testutil.FileExists(filepath.Join(overlayDir, "page_1_overlay.png")))

	_, err = Run(context.Background(), qrPipeline(t), files, &Config{Workers: 1, OverlayColor: "bogus"})
	assert.Error(t, err)
}

func TestRun_OverlayDirNotCreatable(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeScene(t, dir, "qr", "page.png")}
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Run(context.Background(), qrPipeline(t), files, &Config{Workers: 1, OverlayDir: filepath.Join(blocker, "out")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlay directory")
}

func TestResult_SaveResults(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeScene(t, dir, "qr", "a.png")}
	res, err := Run(context.Background(), qrPipeline(t), files, &Config{Workers: 1})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, res.SaveResults(&out, pipeline.FormatJSON, "", false))
	var entries []struct {
		File   string `json:"file"`
		Result struct {
			Matches []struct {
				Text string `json:"text"`
			} `json:"matches"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, files[0], entries[0].File)
	assert.Equal(t, "hello", entries[0].Result.Matches[0].Text)

	outFile := filepath.Join(dir, "out.csv")
	out.Reset()
	require.NoError(t, res.SaveResults(&out, pipeline.FormatCSV, outFile, false))
	assert.Contains(t, out.String(), "Results written to")
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "file,class,"))

	assert.Error(t, res.SaveResults(&out, "xml", "", true))
}

func TestResult_PrintStats(t *testing.T) {
	res := &Result{
		Results:     []*pipeline.ScanResult{{Matches: make([]pipeline.DecodeMatch, 2)}, nil},
		Errors:      []error{nil, assert.AnError},
		ImagePaths:  []string{"a.png", "b.png"},
		Duration:    2 * time.Second,
		WorkerCount: 3,
	}
	var out bytes.Buffer
	res.PrintStats(&out)

	s := out.String()
	assert.Contains(t, s, "Total images: 2")
	assert.Contains(t, s, "Processed: 1")
	assert.Contains(t, s, "Failed: 1")
	assert.Contains(t, s, "Symbols decoded: 2")
	assert.Contains(t, s, "Workers: 3")
}
