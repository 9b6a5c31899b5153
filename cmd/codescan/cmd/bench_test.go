package cmd

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchCommand(t *testing.T) {
	useScene(t, "qr")
	dir := t.TempDir()
	img := writeScene(t, dir, "qr", "qr.png")
	csvPath := filepath.Join(dir, "bench.csv")

	stdout, stderr, err := execute(t, "bench", img, "--iterations", "2", "--warmup", "0", "--csv", csvPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "qr.png")
	assert.Contains(t, stdout, "inference ms")
	assert.Contains(t, stderr, "Results written to")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "qr.png", rows[1][0])
	assert.Equal(t, "2", rows[1][3])
	assert.Equal(t, "1", rows[1][8])
}

func TestBenchCommand_CompareGPU(t *testing.T) {
	useScene(t, "qr")
	img := writeScene(t, t.TempDir(), "qr", "qr.png")

	stdout, _, err := execute(t, "bench", img, "--iterations", "1", "--compare-gpu")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CPU")
	assert.Contains(t, stdout, "GPU")
}

func TestBenchCommand_Errors(t *testing.T) {
	useScene(t, "qr")

	_, _, err := execute(t, "bench")
	require.Error(t, err)

	_, _, err = execute(t, "bench", filepath.Join(t.TempDir(), "missing.png"), "--iterations", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.png")
}
