package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// maxBatchImages caps the number of images in one batch request.
const maxBatchImages = 64

// BatchImage is one base64-encoded image of a batch request.
type BatchImage struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// BatchRequest is the body of POST /scan/batch.
type BatchRequest struct {
	Images         []BatchImage `json:"images"`
	ScoreThreshold float64      `json:"score_threshold,omitempty"`
}

// BatchItemResult is the outcome for one image of a batch.
type BatchItemResult struct {
	Name       string                   `json:"name"`
	Success    bool                     `json:"success"`
	Result     *pipeline.ScanResultJSON `json:"result,omitempty"`
	Error      string                   `json:"error,omitempty"`
	DurationMs float64                  `json:"duration_ms"`
}

// BatchResponse summarises a batch request.
type BatchResponse struct {
	Success   bool              `json:"success"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Symbols   int               `json:"symbols"`
	Results   []BatchItemResult `json:"results"`
	TotalMs   float64           `json:"total_ms"`
}

// scanBatchHandler scans several images sent as a JSON document. A failing
// image is reported in its entry and does not abort the batch.
func (s *Server) scanBatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		scanRequestsTotal.WithLabelValues("batch", "error").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	switch {
	case len(req.Images) == 0:
		s.writeErrorResponse(w, "no images provided", http.StatusBadRequest)
		return
	case len(req.Images) > maxBatchImages:
		s.writeErrorResponse(w, fmt.Sprintf("too many images (max %d)", maxBatchImages), http.StatusBadRequest)
		return
	case req.ScoreThreshold < 0 || req.ScoreThreshold > 1:
		s.writeErrorResponse(w, "score_threshold must be a number between 0 and 1", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	resp := BatchResponse{Success: true, Total: len(req.Images), Results: make([]BatchItemResult, len(req.Images))}
	for i, item := range req.Images {
		entry := &resp.Results[i]
		entry.Name = item.Name
		if entry.Name == "" {
			entry.Name = "image-" + strconv.Itoa(i)
		}
		if err := ctx.Err(); err != nil {
			entry.Error = err.Error()
			resp.Failed++
			continue
		}

		itemStart := time.Now()
		res, err := s.scanBytes(ctx, item.Data)
		entry.DurationMs = float64(time.Since(itemStart).Microseconds()) / 1000
		if err != nil {
			entry.Error = err.Error()
			resp.Failed++
			continue
		}
		res = filterByScore(res, req.ScoreThreshold)
		observeScan("batch", res)
		j := res.ToJSON()
		entry.Result = &j
		entry.Success = true
		resp.Succeeded++
		resp.Symbols += len(res.Matches)
	}
	resp.TotalMs = float64(time.Since(start).Microseconds()) / 1000

	status := "success"
	if resp.Failed > 0 {
		status = "partial"
	}
	scanRequestsTotal.WithLabelValues("batch", status).Inc()
	scanProcessingDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	s.writeJSON(w, http.StatusOK, resp)
}

// scanBytes decodes an encoded image and scans it.
func (s *Server) scanBytes(ctx context.Context, data []byte) (*pipeline.ScanResult, error) {
	if len(data) == 0 {
		return nil, errors.New("no image data provided")
	}
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return s.pipeline.ScanImage(ctx, img)
}
