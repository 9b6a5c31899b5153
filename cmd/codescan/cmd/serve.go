package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/codescan/internal/config"
	"github.com/MeKo-Tech/codescan/internal/server"
	"github.com/spf13/cobra"
)

const rateLimitPruneInterval = time.Hour

// serveCmd runs the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scan server",
	Long: `Start an HTTP server that detects and decodes barcodes and QR codes in
uploaded images and PDFs.

Endpoints:
  GET  /health        liveness and version
  GET  /models        available detector models
  POST /detect/image  multipart "image": regions only
  POST /scan/image    multipart "image": regions and decoded symbols
  POST /scan/pdf      multipart "pdf": images embedded in a PDF
  POST /scan/batch    JSON list of base64 images
  GET  /ws/scan       WebSocket scanning
  GET  /metrics       Prometheus metrics

Examples:
  codescan serve
  codescan serve --host 0.0.0.0 --port 9000 --requests-per-minute 60`,
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, serveFlagBindings)
	},
	RunE: runServe,
}

var serveFlagBindings = []flagBinding{
	{"server.host", "host"},
	{"server.port", "port"},
	{"server.cors_origin", "cors-origin"},
	{"server.max_upload_mb", "max-upload-size"},
	{"server.timeout_sec", "timeout"},
	{"server.shutdown_timeout", "shutdown-timeout"},
	{"server.overlay_enabled", "overlay-enable"},
	{"output.overlay_color", "overlay-color"},
	{"server.rate_limit.requests_per_minute", "requests-per-minute"},
	{"server.rate_limit.requests_per_hour", "requests-per-hour"},
	{"server.rate_limit.max_requests_per_day", "max-requests-per-day"},
	{"server.rate_limit.max_data_per_day_mb", "max-data-per-day"},
	{"detector.model_path", "model"},
	{"detector.score_threshold", "score-threshold"},
	{"detector.nms_threshold", "nms-threshold"},
	{"detector.num_threads", "threads"},
	{"detector.warmup_iterations", "warmup"},
	{"barcode.try_harder", "try-harder"},
	{"gpu.enabled", "gpu"},
	{"gpu.device", "gpu-device"},
	{"gpu.memory_limit", "gpu-mem-limit"},
}

// serverConfig maps the resolved configuration to server.Config.
func serverConfig(cfg *config.Config) server.Config {
	rl := cfg.Server.RateLimit
	return server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
		TimeoutSec:     cfg.Server.TimeoutSec,
		PipelineConfig: cfg.ToPipelineConfig(),
		OverlayEnabled: cfg.Server.OverlayEnabled,
		OverlayColor:   cfg.Output.OverlayColor,
		RateLimit: server.RateLimitConfig{
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     int64(rl.MaxDataPerDayMB) * 1024 * 1024,
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	serverCfg := serverConfig(cfg)

	pl, err := buildPipeline(serverCfg.PipelineConfig)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	scanServer, err := server.NewServerWithPipeline(serverCfg, pl)
	if err != nil {
		_ = pl.Close()
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	go scanServer.RunMaintenance(ctx, rateLimitPruneInterval)

	timeout := time.Duration(serverCfg.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:           scanServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting scan server", "host", serverCfg.Host, "port", serverCfg.Port,
			"rate_limit", serverCfg.RateLimit.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = scanServer.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := scanServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	defaults := config.DefaultConfig()

	serveCmd.Flags().StringP("host", "H", defaults.Server.Host, "server host")
	serveCmd.Flags().IntP("port", "p", defaults.Server.Port, "server port")
	serveCmd.Flags().String("cors-origin", defaults.Server.CORSOrigin, "CORS allowed origin")
	serveCmd.Flags().Int("max-upload-size", defaults.Server.MaxUploadMB, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", defaults.Server.TimeoutSec, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("overlay-enable", defaults.Server.OverlayEnabled, "enable overlay image responses")
	serveCmd.Flags().String("overlay-color", "", "overlay box colour (hex); default colours boxes per class")

	// Pipeline flags
	serveCmd.Flags().String("model", "", "override detection model path")
	serveCmd.Flags().Float64("score-threshold", defaults.Detector.ScoreThreshold, "minimum detection score (0..1)")
	serveCmd.Flags().Float64("nms-threshold", defaults.Detector.NMSThreshold, "NMS IoU threshold (0..1)")
	serveCmd.Flags().Int("threads", 0, "ONNX Runtime intra-op threads (0=auto)")
	serveCmd.Flags().Int("warmup", 0, "warmup inference runs before serving")
	serveCmd.Flags().Bool("try-harder", false, "spend more time decoding each region")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	serveCmd.Flags().Int("gpu-device", 0, "CUDA device ID to use")
	serveCmd.Flags().String("gpu-mem-limit", defaults.GPU.MemoryLimit, "GPU memory limit (e.g., '2GB', 'auto')")

	// Rate limiting flags; zero disables a limit
	serveCmd.Flags().Int("requests-per-minute", 0, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 0, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client")
	serveCmd.Flags().Int("max-data-per-day", 0, "maximum upload data per day per client (MB)")
}
