package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MeKo-Tech/codescan/internal/pipeline"
)

// scanPDFHandler scans the embedded images of an uploaded PDF.
func (s *Server) scanPDFHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		scanRequestsTotal.WithLabelValues("pdf", "error").Inc()
		s.writeUploadError(w, err)
		return
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		scanRequestsTotal.WithLabelValues("pdf", "error").Inc()
		s.writeErrorResponse(w, "No PDF file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	threshold, err := parseScoreThreshold(r)
	if err != nil {
		scanRequestsTotal.WithLabelValues("pdf", "error").Inc()
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	res, err := s.scanPDF(ctx, header.Filename, file, r.FormValue("pages"), r.FormValue("password"))
	duration := time.Since(start)
	if err != nil {
		scanRequestsTotal.WithLabelValues("pdf", "error").Inc()
		slog.Warn("PDF scan failed", "file", header.Filename, "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("processing failed: %v", err), statusForError(err))
		return
	}
	filterPDFByScore(res, threshold)

	scanRequestsTotal.WithLabelValues("pdf", "success").Inc()
	scanProcessingDuration.WithLabelValues("pdf").Observe(duration.Seconds())
	_, results := res.Flatten()
	for _, img := range results {
		observeScan("pdf", img)
	}

	switch format := requestFormat(r); format {
	case pipeline.FormatText, pipeline.FormatCSV:
		names, results := res.Flatten()
		out, err := pipeline.FormatResults(names, results, format)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		contentType := "text/plain; charset=utf-8"
		if format == pipeline.FormatCSV {
			contentType = "text/csv"
		}
		s.writeText(w, contentType, out)
	default:
		s.writeJSON(w, http.StatusOK, PDFResponse{Success: true, Result: res})
	}
}

// scanPDF spools src to a temporary file, scans it and reports the
// client's filename instead of the temporary path.
func (s *Server) scanPDF(ctx context.Context, name string, src io.Reader, pages, password string) (*pipeline.PDFResult, error) {
	tmp, err := os.CreateTemp("", "codescan-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	res, err := s.pipeline.ProcessPDF(ctx, tmp.Name(), pages, password)
	if err != nil {
		return nil, err
	}
	res.Filename = name
	return res, nil
}

func filterPDFByScore(res *pipeline.PDFResult, threshold float64) {
	for p := range res.Pages {
		for i := range res.Pages[p].Images {
			img := &res.Pages[p].Images[i]
			img.Result = filterByScore(img.Result, threshold)
		}
	}
}
