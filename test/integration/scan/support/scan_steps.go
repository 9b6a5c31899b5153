package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/testutil"
	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/cucumber/godog"
)

func (testCtx *TestContext) aSceneImageNamed(scene, name string) error {
	s, err := testutil.LookupScene(scene)
	if err != nil {
		return err
	}
	img, err := s.Image()
	if err != nil {
		return err
	}
	path := testCtx.path(name)
	if err := testutil.SaveImage(path, img); err != nil {
		return err
	}
	testCtx.Files[name] = path
	return nil
}

func (testCtx *TestContext) aCorruptImageNamed(name string) error {
	path := testCtx.path(name)
	if err := os.WriteFile(path, []byte("not an image"), 0o600); err != nil {
		return err
	}
	testCtx.Files[name] = path
	return nil
}

func (testCtx *TestContext) theDetectorReportsTheScene(scene string) error {
	s, err := testutil.LookupScene(scene)
	if err != nil {
		return err
	}
	if err := s.Place(testCtx.Grid, 0.9); err != nil {
		return err
	}
	testCtx.resetPipeline()
	return nil
}

func (testCtx *TestContext) theDetectorReportsADuplicateOfTheScene(scene string) error {
	s, err := testutil.LookupScene(scene)
	if err != nil {
		return err
	}
	// A weaker, slightly shifted box for each symbol on the finest level.
	grid := testCtx.Grid
	scale := float64(grid.InputSize) / float64(s.Size)
	for _, sym := range s.Symbols {
		r := sym.Rect
		cx := float64(r.Min.X+r.Max.X)/2*scale + 4
		cy := float64(r.Min.Y+r.Max.Y)/2*scale + 4
		w, h := float64(r.Dx())*scale, float64(r.Dy())*scale
		if err := grid.PlaceBox(grid.Strides[0], cx, cy, w, h, sym.Class, 0.6); err != nil {
			return err
		}
	}
	testCtx.resetPipeline()
	return nil
}

func (testCtx *TestContext) theDetectorFailsWith(msg string) error {
	if _, err := testCtx.pipeline(); err != nil {
		return err
	}
	testCtx.Engine.SetError(errors.New(msg))
	return nil
}

func (testCtx *TestContext) theScoreThresholdIs(thr float64) error {
	testCtx.Config.Detector.ScoreThreshold = thr
	testCtx.resetPipeline()
	return nil
}

func (testCtx *TestContext) decodingIsLimitedTo(format string) error {
	f, err := barcode.ParseFormat(format)
	if err != nil {
		return err
	}
	testCtx.Config.Barcode.Formats = []barcode.Format{f}
	testCtx.resetPipeline()
	return nil
}

func (testCtx *TestContext) run(name string, decode bool) error {
	pl, err := testCtx.pipeline()
	if err != nil {
		return err
	}
	img, _, err := utils.LoadImage(testCtx.path(name))
	if err != nil {
		testCtx.LastResult, testCtx.LastError = nil, err
		return nil
	}
	testCtx.LastImage = img
	if decode {
		testCtx.LastResult, testCtx.LastError = pl.ScanImage(context.Background(), img)
	} else {
		var dets []detector.Detection
		dets, testCtx.LastError = pl.Detect(context.Background(), img)
		b := img.Bounds()
		testCtx.LastResult = &pipeline.ScanResult{Width: b.Dx(), Height: b.Dy(), Detections: dets}
	}
	return nil
}

func (testCtx *TestContext) iScan(name string) error { return testCtx.run(name, true) }

func (testCtx *TestContext) iDetectRegionsIn(name string) error { return testCtx.run(name, false) }

func (testCtx *TestContext) theScanShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("expected success, got %w", testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theScanShouldFailMentioning(msg string) error {
	if testCtx.LastError == nil {
		return errors.New("expected the scan to fail")
	}
	if !containsFold(testCtx.LastError.Error(), msg) {
		return fmt.Errorf("error %q does not mention %q", testCtx.LastError, msg)
	}
	return nil
}

func (testCtx *TestContext) thereShouldBeDetections(n int) error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	if got := len(testCtx.LastResult.Detections); got != n {
		return fmt.Errorf("expected %d detections, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) aRegionShouldBeFound(class string) error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	for _, d := range testCtx.LastResult.Detections {
		if d.ClassName() == class {
			return nil
		}
	}
	return fmt.Errorf("no %s region among %d detections", class, len(testCtx.LastResult.Detections))
}

func (testCtx *TestContext) theDecodedTextsShouldInclude(text string) error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	texts := decodedTexts(testCtx.LastResult)
	if !slices.Contains(texts, text) {
		return fmt.Errorf("decoded texts %v do not include %q", texts, text)
	}
	return nil
}

func (testCtx *TestContext) noTextShouldBeDecoded() error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	if texts := decodedTexts(testCtx.LastResult); len(texts) > 0 {
		return fmt.Errorf("expected no decoded text, got %v", texts)
	}
	return nil
}

func (testCtx *TestContext) everyDetectionShouldLieWithinTheImage() error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	return pipeline.ValidateScanResult(testCtx.LastResult)
}

func (testCtx *TestContext) theRegionShouldCover(minX, minY, maxX, maxY, tol int) error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	for _, d := range testCtx.LastResult.Detections {
		r := d.Box.Rect()
		if abs(r.Min.X-minX) <= tol && abs(r.Min.Y-minY) <= tol &&
			abs(r.Max.X-maxX) <= tol && abs(r.Max.Y-maxY) <= tol {
			return nil
		}
	}
	return fmt.Errorf("no region within %dpx of (%d,%d)-(%d,%d)", tol, minX, minY, maxX, maxY)
}

func (testCtx *TestContext) iRenderTheResultAs(format string) error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	testCtx.LastOutput, testCtx.LastError = pipeline.FormatResult(testCtx.LastResult, format)
	return testCtx.LastError
}

func (testCtx *TestContext) theOutputShouldContain(s string) error {
	if !containsFold(testCtx.LastOutput, s) {
		return fmt.Errorf("output does not contain %q:\n%s", s, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastOutput)) {
		return fmt.Errorf("output is not valid JSON:\n%s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) iSaveAnOverlayAs(name string) error {
	if err := testCtx.theScanShouldSucceed(); err != nil {
		return err
	}
	ov := pipeline.RenderOverlay(testCtx.LastImage, testCtx.LastResult, pipeline.DefaultOverlayOptions())
	path := testCtx.path(name)
	if err := pipeline.SaveOverlay(ov, path); err != nil {
		return err
	}
	testCtx.Files[name] = path
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.path(name)) {
		return fmt.Errorf("file %s does not exist", name)
	}
	return nil
}

// RegisterScanSteps registers the in-process scanning steps.
func (testCtx *TestContext) RegisterScanSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a "([^"]*)" scene image named "([^"]*)"$`, testCtx.aSceneImageNamed)
	sc.Step(`^a corrupt image named "([^"]*)"$`, testCtx.aCorruptImageNamed)
	sc.Step(`^the detector reports the symbols of the "([^"]*)" scene$`, testCtx.theDetectorReportsTheScene)
	sc.Step(`^the detector also reports a weaker duplicate of the "([^"]*)" scene$`,
		testCtx.theDetectorReportsADuplicateOfTheScene)
	sc.Step(`^the detector fails with "([^"]*)"$`, testCtx.theDetectorFailsWith)
	sc.Step(`^the score threshold is ([0-9.]+)$`, testCtx.theScoreThresholdIs)
	sc.Step(`^decoding is limited to "([^"]*)"$`, testCtx.decodingIsLimitedTo)

	sc.Step(`^I scan "([^"]*)"$`, testCtx.iScan)
	sc.Step(`^I detect regions in "([^"]*)"$`, testCtx.iDetectRegionsIn)
	sc.Step(`^I render the result as "([^"]*)"$`, testCtx.iRenderTheResultAs)
	sc.Step(`^I save an overlay as "([^"]*)"$`, testCtx.iSaveAnOverlayAs)

	sc.Step(`^the scan should succeed$`, testCtx.theScanShouldSucceed)
	sc.Step(`^the scan should fail mentioning "([^"]*)"$`, testCtx.theScanShouldFailMentioning)
	sc.Step(`^there should be (\d+) detections?$`, testCtx.thereShouldBeDetections)
	sc.Step(`^a "([^"]*)" region should be found$`, testCtx.aRegionShouldBeFound)
	sc.Step(`^the decoded texts should include "([^"]*)"$`, testCtx.theDecodedTextsShouldInclude)
	sc.Step(`^no text should be decoded$`, testCtx.noTextShouldBeDecoded)
	sc.Step(`^every detection should lie within the image$`, testCtx.everyDetectionShouldLieWithinTheImage)
	sc.Step(`^a region should cover \((\d+),(\d+)\)-\((\d+),(\d+)\) within (\d+) pixels$`, testCtx.theRegionShouldCover)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}

func decodedTexts(res *pipeline.ScanResult) []string {
	texts := make([]string, 0, len(res.Matches))
	for _, m := range res.Matches {
		texts = append(texts, m.Text)
	}
	return texts
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
