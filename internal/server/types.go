package server

import (
	"context"
	"errors"
	"image"
	"net/http"

	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// scanPipeline defines the methods needed by the server from a pipeline.
type scanPipeline interface {
	Detect(ctx context.Context, img image.Image) ([]detector.Detection, error)
	ScanImage(ctx context.Context, img image.Image) (*pipeline.ScanResult, error)
	ProcessPDF(ctx context.Context, filename, pageRange, password string) (*pipeline.PDFResult, error)
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline       scanPipeline
	modelsDir      string
	corsOrigin     string
	maxUploadMB    int64
	timeoutSec     int
	overlayEnabled bool
	overlayColor   string
	rateLimiter    *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	PipelineConfig pipeline.Config
	OverlayEnabled bool
	OverlayColor   string // empty: per-class colours
	RateLimit      RateLimitConfig
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8080,
		CORSOrigin:     "*",
		MaxUploadMB:    50,
		TimeoutSec:     30,
		PipelineConfig: pipeline.DefaultConfig(),
		OverlayEnabled: true,
	}
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Available   bool   `json:"available"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ScanResponse wraps a single-image result.
type ScanResponse struct {
	Success bool                     `json:"success"`
	Result  *pipeline.ScanResultJSON `json:"result"`
}

// PDFResponse wraps a document result.
type PDFResponse struct {
	Success bool                `json:"success"`
	Result  *pipeline.PDFResult `json:"result"`
}

// NewServer creates a server with a pipeline built from config.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.NewBuilder().WithConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	return NewServerWithPipeline(config, pl)
}

// NewServerWithPipeline creates a server around an existing pipeline. The
// server takes ownership of pl.
func NewServerWithPipeline(config Config, pl scanPipeline) (*Server, error) {
	if pl == nil {
		return nil, errors.New("pipeline is nil")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = DefaultConfig().MaxUploadMB
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = DefaultConfig().TimeoutSec
	}
	if config.OverlayColor != "" {
		if _, err := pipeline.ParseColor(config.OverlayColor); err != nil {
			return nil, err
		}
	}
	s := &Server{
		pipeline:       pl,
		modelsDir:      config.PipelineConfig.ModelsDir,
		corsOrigin:     config.CORSOrigin,
		maxUploadMB:    config.MaxUploadMB,
		timeoutSec:     config.TimeoutSec,
		overlayEnabled: config.OverlayEnabled,
		overlayColor:   config.OverlayColor,
	}
	if config.RateLimit.Enabled() {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/detect/image", s.corsMiddleware(s.rateLimitMiddleware(s.detectImageHandler)))
	mux.HandleFunc("/scan/image", s.corsMiddleware(s.rateLimitMiddleware(s.scanImageHandler)))
	mux.HandleFunc("/scan/pdf", s.corsMiddleware(s.rateLimitMiddleware(s.scanPDFHandler)))
	mux.HandleFunc("/scan/batch", s.corsMiddleware(s.rateLimitMiddleware(s.scanBatchHandler)))
	mux.HandleFunc("/ws/scan", s.scanWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
