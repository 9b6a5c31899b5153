// Package support holds the godog step definitions of the scan suite.
package support

import (
	"fmt"
	"image"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/codescan/internal/onnx/mock"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Files created by the scenario, by logical name.
	Files map[string]string

	// Scripted detector output and the pipeline built around it.
	Grid     *mock.GridTensor
	Engine   *testutil.ScriptedEngine
	Pipeline *pipeline.Pipeline
	Config   pipeline.Config

	// Last in-process result.
	LastImage  image.Image
	LastResult *pipeline.ScanResult
	LastOutput string
	LastError  error

	// Last batch run.
	BatchResults []*pipeline.ScanResult
	BatchErrors  []error

	// HTTP server state.
	HTTPServer         *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "codescan-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		TempDir: dir,
		Files:   make(map[string]string),
		Grid:    testutil.NewGrid(),
		Config:  pipeline.DefaultConfig(),
	}, nil
}

// path resolves a logical file name inside the scenario directory.
func (testCtx *TestContext) path(name string) string {
	if p, ok := testCtx.Files[name]; ok {
		return p
	}
	return filepath.Join(testCtx.TempDir, name)
}

// pipeline returns the scenario pipeline, building it on first use from
// the current grid and configuration.
func (testCtx *TestContext) pipeline() (*pipeline.Pipeline, error) {
	if testCtx.Pipeline != nil {
		return testCtx.Pipeline, nil
	}
	pl, engine, err := testutil.NewPipeline(testCtx.Grid, &testCtx.Config)
	if err != nil {
		return nil, err
	}
	testCtx.Pipeline = pl
	testCtx.Engine = engine
	return pl, nil
}

// resetPipeline drops the current pipeline so that the next use picks up
// a changed grid or configuration.
func (testCtx *TestContext) resetPipeline() {
	if testCtx.Pipeline != nil {
		_ = testCtx.Pipeline.Close()
	}
	testCtx.Pipeline = nil
	testCtx.Engine = nil
}

// Cleanup stops the server and removes scenario files.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	testCtx.resetPipeline()
	return os.RemoveAll(testCtx.TempDir)
}
