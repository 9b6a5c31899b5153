package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/codescan/internal/server"
	"github.com/cucumber/godog"
)

func (testCtx *TestContext) startServer(mutate func(*server.Config)) error {
	pl, err := testCtx.pipeline()
	if err != nil {
		return err
	}
	cfg := server.DefaultConfig()
	cfg.PipelineConfig = testCtx.Config
	cfg.PipelineConfig.ModelsDir = testCtx.TempDir
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := server.NewServerWithPipeline(cfg, pl)
	if err != nil {
		return err
	}
	testCtx.HTTPServer = httptest.NewServer(s.Handler())
	return nil
}

func (testCtx *TestContext) theScanServerIsRunning() error {
	return testCtx.startServer(nil)
}

func (testCtx *TestContext) theScanServerIsRunningWithALimitOf(n int) error {
	return testCtx.startServer(func(c *server.Config) { c.RateLimit.RequestsPerMinute = n })
}

func (testCtx *TestContext) theScanServerIsRunningWithOverlaysDisabled() error {
	return testCtx.startServer(func(c *server.Config) { c.OverlayEnabled = false })
}

func (testCtx *TestContext) do(req *http.Request) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iRequest(path string) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) upload(name, path, field string, fields map[string]string) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadTo(name, path string) error {
	return testCtx.upload(name, path, "image", nil)
}

func (testCtx *TestContext) iUploadToAs(name, path, format string) error {
	return testCtx.upload(name, path, "image", map[string]string{"format": format})
}

func (testCtx *TestContext) iUploadToTimes(name, path string, n int) error {
	for range n {
		if err := testCtx.upload(name, path, "image", nil); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(s string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, s) {
		return fmt.Errorf("response does not contain %q: %s", s, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("header %s is %q, expected %q", name, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] == "" {
		return fmt.Errorf("header %s is not set", name)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldReport(outcome string) error {
	var envelope struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &envelope); err != nil {
		return fmt.Errorf("response is not a JSON envelope: %w", err)
	}
	if envelope.Success != (outcome == "success") {
		return fmt.Errorf("expected %s, got: %s", outcome, testCtx.LastHTTPResponse)
	}
	return nil
}

// RegisterServerSteps registers the HTTP server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the scan server is running$`, testCtx.theScanServerIsRunning)
	sc.Step(`^the scan server is running with a limit of (\d+) requests? per minute$`,
		testCtx.theScanServerIsRunningWithALimitOf)
	sc.Step(`^the scan server is running with overlays disabled$`, testCtx.theScanServerIsRunningWithOverlaysDisabled)

	sc.Step(`^I request "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" as "([^"]*)"$`, testCtx.iUploadToAs)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" (\d+) times$`, testCtx.iUploadToTimes)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
	sc.Step(`^the response should report (success|failure)$`, testCtx.theResponseShouldReport)
}
