package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/codescan/internal/models"
	"github.com/MeKo-Tech/codescan/internal/pdf"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/MeKo-Tech/codescan/internal/version"
)

const formatOverlay = "overlay"

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// modelsHandler returns information about available models.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := models.ListAvailableModels(s.modelsDir)
	list := make([]ModelInfo, len(infos))
	for i, info := range infos {
		list[i] = ModelInfo{
			Name:        info.Name,
			Path:        info.Path,
			Type:        info.Type,
			Description: info.Description,
			Available:   info.Available,
		}
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{Models: list, Count: len(list)})
}

// requestContext bounds a request by the configured processing timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return s.timeoutContext(r.Context())
}

func (s *Server) timeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.timeoutSec) * time.Second
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Server) maxUploadBytes() int64 { return s.maxUploadMB * 1024 * 1024 }

// requestFormat reads the output format from the form or the query string.
func requestFormat(r *http.Request) string {
	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}
	return strings.ToLower(format)
}

// parseScoreThreshold reads an optional score_threshold in [0,1].
func parseScoreThreshold(r *http.Request) (float64, error) {
	raw := r.FormValue("score_threshold")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, errors.New("score_threshold must be a number between 0 and 1")
	}
	return v, nil
}

// filterByScore drops detections (and their matches) scoring below
// threshold. The pipeline threshold still applies first, so a request can
// only tighten it.
func filterByScore(res *pipeline.ScanResult, threshold float64) *pipeline.ScanResult {
	if res == nil || threshold <= 0 {
		return res
	}
	out := *res
	out.Detections = nil
	for _, d := range res.Detections {
		if d.Score >= threshold {
			out.Detections = append(out.Detections, d)
		}
	}
	out.Matches = nil
	for _, m := range res.Matches {
		if m.Detection.Score >= threshold {
			out.Matches = append(out.Matches, m)
		}
	}
	return &out
}

// statusForError maps pipeline errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, pdf.ErrPasswordRequired):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

func (s *Server) writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
