package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// useScene makes every command scan with a scripted engine that reports the
// symbols of the named scene.
func useScene(t *testing.T, name string) {
	t.Helper()
	scene, err := testutil.LookupScene(name)
	require.NoError(t, err)
	grid, err := scene.Grid(0.9)
	require.NoError(t, err)

	prev := buildPipeline
	buildPipeline = func(cfg pipeline.Config) (*pipeline.Pipeline, error) {
		pl, _, err := testutil.NewPipeline(grid, &cfg)
		return pl, err
	}
	t.Cleanup(func() { buildPipeline = prev })
}

// writeScene renders a scene into dir and returns the file path.
func writeScene(t *testing.T, dir, scene, name string) string {
	t.Helper()
	s, err := testutil.LookupScene(scene)
	require.NoError(t, err)
	img, err := s.Image()
	require.NoError(t, err)
	return testutil.WriteImage(t, filepath.Join(dir, name), img)
}

// execute runs the root command with args and returns stdout and stderr.
// Flags are reset first so earlier calls in the same test do not leak.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		resetFlags(rootCmd)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// resetFlags restores every flag of cmd and its children to its default so
// that commands can be executed again.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
