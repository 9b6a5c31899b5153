package cmd

import (
	"strings"
	"testing"

	"github.com/MeKo-Tech/codescan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCommand_Directory(t *testing.T) {
	useScene(t, "qr")
	dir := t.TempDir()
	writeScene(t, dir, "qr", "a.png")
	writeScene(t, dir, "qr", "b.png")

	out, stderr, err := execute(t, "batch", dir, "--format", "csv", "--stats", "--workers", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "hello"))
	assert.Contains(t, stderr, "Processing Statistics")
	assert.Contains(t, stderr, "Total images: 2")
}

func TestBatchCommand_ExcludeLeavesNothing(t *testing.T) {
	useScene(t, "qr")
	dir := t.TempDir()
	writeScene(t, dir, "qr", "a.png")

	_, _, err := execute(t, "batch", dir, "--exclude", "*.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image files found")
}

func TestConfigToBatchConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Batch.Workers = 3
	cfg.Batch.ContinueOnError = true
	cfg.Output.Format = "json"
	cfg.Output.OverlayDir = "/tmp/overlays"

	require.NoError(t, batchCmd.Flags().Set("recursive", "true"))
	require.NoError(t, batchCmd.Flags().Set("include", "*.png,*.jpg"))
	t.Cleanup(func() { resetFlags(batchCmd) })

	bc := configToBatchConfig(&cfg, batchCmd)
	assert.Equal(t, 3, bc.Workers)
	assert.True(t, bc.ContinueOnError)
	assert.True(t, bc.Recursive)
	assert.Equal(t, []string{"*.png", "*.jpg"}, bc.IncludePatterns)
	assert.Equal(t, "json", bc.Format)
	assert.Equal(t, "/tmp/overlays", bc.OverlayDir)
	assert.Equal(t, 3, bc.Pipeline.Parallel.MaxWorkers)
}
