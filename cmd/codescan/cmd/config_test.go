package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	file := filepath.Join(t.TempDir(), "codescan.yaml")

	out, _, err := execute(t, "config", "init", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "score_threshold")

	_, _, err = execute(t, "config", "init", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "config", "init", file, "--force")
	require.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	out, _, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "detector:")
	assert.Contains(t, out, "input_size: 416")

	out, _, err = execute(t, "config", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"input_size": 416`)
}

func TestConfigShow_VerboseListsSources(t *testing.T) {
	out, stderr, err := execute(t, "config", "show", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Configuration search paths:")
	assert.Contains(t, stderr, "Environment prefix: CODESCAN")
	assert.NotContains(t, out, "Configuration search paths:")

	_, stderr, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "Configuration search paths:")
}

func TestModelsCommand(t *testing.T) {
	out, _, err := execute(t, "models", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "barcode_qr_det.onnx")

	out, _, err = execute(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "AVAILABLE")
}

func TestExecute_FlagsDoNotLeakBetweenRuns(t *testing.T) {
	out, _, err := execute(t, "config", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"input_size"`)

	out, _, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, `"input_size"`)
	assert.Contains(t, out, "input_size: 416")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codescan version dev")
	assert.Contains(t, out, "Go: go")
}
