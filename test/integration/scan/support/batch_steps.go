package support

import (
	"context"
	"fmt"
	"io"

	"github.com/MeKo-Tech/codescan/internal/batch"
	"github.com/cucumber/godog"
)

func (testCtx *TestContext) batchScan(workers int, continueOnError bool) error {
	pl, err := testCtx.pipeline()
	if err != nil {
		return err
	}
	cfg := &batch.Config{
		Pipeline:        testCtx.Config,
		Workers:         workers,
		ContinueOnError: continueOnError,
		Quiet:           true,
		ProgressWriter:  io.Discard,
	}
	files, err := batch.Discover([]string{testCtx.TempDir}, cfg)
	if err != nil {
		testCtx.LastError = err
		return nil
	}
	res, err := batch.Run(context.Background(), pl, files, cfg)
	testCtx.LastError = err
	if err == nil {
		testCtx.BatchResults = res.Results
		testCtx.BatchErrors = res.Errors
		testCtx.LastOutput, testCtx.LastError = res.FormatResults("text")
	}
	return nil
}

func (testCtx *TestContext) iBatchScanTheDirectoryWithWorkers(workers int) error {
	return testCtx.batchScan(workers, false)
}

func (testCtx *TestContext) iBatchScanTheDirectoryContinuingOnErrors() error {
	return testCtx.batchScan(2, true)
}

func (testCtx *TestContext) theBatchShouldReport(images, failures int) error {
	if testCtx.LastError != nil {
		return fmt.Errorf("batch failed: %w", testCtx.LastError)
	}
	if got := len(testCtx.BatchResults); got != images {
		return fmt.Errorf("expected %d images, got %d", images, got)
	}
	failed := 0
	for _, err := range testCtx.BatchErrors {
		if err != nil {
			failed++
		}
	}
	if failed != failures {
		return fmt.Errorf("expected %d failures, got %d", failures, failed)
	}
	return nil
}

func (testCtx *TestContext) theBatchShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected the batch to fail")
	}
	return nil
}

// RegisterBatchSteps registers the batch processing steps.
func (testCtx *TestContext) RegisterBatchSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I batch scan the directory with (\d+) workers?$`, testCtx.iBatchScanTheDirectoryWithWorkers)
	sc.Step(`^I batch scan the directory continuing on errors$`, testCtx.iBatchScanTheDirectoryContinuingOnErrors)
	sc.Step(`^the batch should report (\d+) images? with (\d+) failures?$`, testCtx.theBatchShouldReport)
	sc.Step(`^the batch should fail$`, testCtx.theBatchShouldFail)
}
