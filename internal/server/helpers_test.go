package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/MeKo-Tech/codescan/internal/barcode"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/stretchr/testify/require"
)

// mockPipeline returns fixed detections: a QR code holding "hello" and a
// weaker barcode without a match.
type mockPipeline struct {
	mu     sync.Mutex
	err    error
	pdfErr error
	calls  int
	closed bool

	pdfName     string
	pdfPages    string
	pdfPassword string
	pdfData     []byte
}

var (
	qrDetection = detector.Detection{
		Box: utils.Box{X: 10, Y: 20, W: 100, H: 100}, Score: 0.9, ClassID: detector.ClassQRCode,
	}
	barcodeDetection = detector.Detection{
		Box: utils.Box{X: 150, Y: 40, W: 200, H: 60}, Score: 0.4, ClassID: detector.ClassBarcode,
	}
)

func (m *mockPipeline) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []detector.Detection{qrDetection, barcodeDetection}, ctx.Err()
}

func (m *mockPipeline) ScanImage(ctx context.Context, img image.Image) (*pipeline.ScanResult, error) {
	dets, err := m.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &pipeline.ScanResult{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Detections: dets,
		Matches:    []pipeline.DecodeMatch{{Detection: qrDetection, Text: "hello", Format: barcode.FormatQR}},
		Decoded:    true,
		TimingsMs:  map[string]float64{pipeline.StageInference: 1},
		TotalMs:    2,
	}, nil
}

func (m *mockPipeline) ProcessPDF(ctx context.Context, filename, pageRange, password string) (*pipeline.PDFResult, error) {
	m.mu.Lock()
	m.pdfName, m.pdfPages, m.pdfPassword = filename, pageRange, password
	m.pdfData, _ = os.ReadFile(filename)
	pdfErr := m.pdfErr
	m.mu.Unlock()
	if pdfErr != nil {
		return nil, pdfErr
	}

	res, err := m.ScanImage(ctx, image.NewGray(image.Rect(0, 0, 400, 300)))
	if err != nil {
		return nil, err
	}
	return &pipeline.PDFResult{
		Filename:   filename,
		TotalPages: 1,
		Pages: []pipeline.PDFPageResult{
			{PageNumber: 1, Images: []pipeline.PDFImageResult{{ImageIndex: 0, Result: res}}},
		},
	}, nil
}

func (m *mockPipeline) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *mockPipeline) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PipelineConfig.ModelsDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	mp := &mockPipeline{}
	s, err := NewServerWithPipeline(cfg, mp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mp
}

// createTestImage creates a small gradient image.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: byte(x % 256), G: byte(y % 256), A: 255})
		}
	}
	return img
}

func encodeImageToPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createMultipartRequest builds a multipart POST with one file field.
func createMultipartRequest(t *testing.T, target, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newImageUpload(t *testing.T, target string, fields map[string]string) *http.Request {
	t.Helper()
	return createMultipartRequest(t, target, "image", "test.png", encodeImageToPNG(t, createTestImage(400, 300)), fields)
}
