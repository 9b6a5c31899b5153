package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// imageRequest is a parsed image upload.
type imageRequest struct {
	img       image.Image
	threshold float64
	format    string
	overlay   bool
	color     string
}

// detectImageHandler runs detection only and returns the regions.
func (s *Server) detectImageHandler(w http.ResponseWriter, r *http.Request) {
	s.handleImage(w, r, "detect", func(req *imageRequest) (*pipeline.ScanResult, error) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		start := time.Now()
		dets, err := s.pipeline.Detect(ctx, req.img)
		if err != nil {
			return nil, err
		}
		b := req.img.Bounds()
		return &pipeline.ScanResult{
			Width:      b.Dx(),
			Height:     b.Dy(),
			Detections: dets,
			TotalMs:    float64(time.Since(start).Microseconds()) / 1000,
		}, nil
	})
}

// scanImageHandler detects regions and decodes the symbols inside them.
func (s *Server) scanImageHandler(w http.ResponseWriter, r *http.Request) {
	s.handleImage(w, r, "image", func(req *imageRequest) (*pipeline.ScanResult, error) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		return s.pipeline.ScanImage(ctx, req.img)
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, kind string,
	run func(*imageRequest) (*pipeline.ScanResult, error),
) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := s.parseImageRequest(w, r)
	if err != nil {
		scanRequestsTotal.WithLabelValues(kind, "error").Inc()
		return // error already written
	}

	start := time.Now()
	res, err := run(req)
	duration := time.Since(start)
	if err != nil {
		scanRequestsTotal.WithLabelValues(kind, "error").Inc()
		slog.Warn("Scan request failed", "type", kind, "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("processing failed: %v", err), statusForError(err))
		return
	}
	res = filterByScore(res, req.threshold)

	scanRequestsTotal.WithLabelValues(kind, "success").Inc()
	scanProcessingDuration.WithLabelValues(kind).Observe(duration.Seconds())
	observeScan(kind, res)

	s.writeScanResponse(w, req, res)
}

func (s *Server) parseImageRequest(w http.ResponseWriter, r *http.Request) (*imageRequest, error) {
	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		s.writeUploadError(w, err)
		return nil, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, err
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, fmt.Errorf("upload of %d bytes exceeds limit", header.Size)
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return nil, err
	}
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return nil, err
	}

	threshold, err := parseScoreThreshold(r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}

	format := requestFormat(r)
	return &imageRequest{
		img:       img,
		threshold: threshold,
		format:    format,
		overlay:   format == formatOverlay || r.FormValue("overlay") == "1",
		color:     r.FormValue("color"),
	}, nil
}

// writeUploadError distinguishes an oversized body from a malformed form.
func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
}

func (s *Server) writeScanResponse(w http.ResponseWriter, req *imageRequest, res *pipeline.ScanResult) {
	if req.overlay {
		s.writeOverlay(w, req, res)
		return
	}
	switch req.format {
	case pipeline.FormatCSV:
		out, err := pipeline.ToCSVImage(res)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		s.writeText(w, "text/csv", out)
	case pipeline.FormatText:
		out, err := pipeline.ToPlainTextImage(res)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		s.writeText(w, "text/plain; charset=utf-8", out)
	default:
		j := res.ToJSON()
		s.writeJSON(w, http.StatusOK, ScanResponse{Success: true, Result: &j})
	}
}

// writeOverlay renders the detections over the uploaded image as PNG.
func (s *Server) writeOverlay(w http.ResponseWriter, req *imageRequest, res *pipeline.ScanResult) {
	if !s.overlayEnabled {
		s.writeErrorResponse(w, "overlay output disabled", http.StatusForbidden)
		return
	}

	opts := pipeline.DefaultOverlayOptions()
	for _, hex := range []string{req.color, s.overlayColor} {
		if hex == "" {
			continue
		}
		if c, err := pipeline.ParseColor(hex); err == nil {
			opts.ClassColors = nil
			opts.Fallback = c
			break
		}
	}

	ov := pipeline.RenderOverlay(req.img, res, opts)
	if ov == nil {
		s.writeErrorResponse(w, "overlay failed", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, ov); err != nil {
		s.writeErrorResponse(w, "overlay encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
