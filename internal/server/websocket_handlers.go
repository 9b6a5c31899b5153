package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WebSocketScanRequest is a JSON request sent as a text frame. Binary
// frames carry an encoded image and are treated as {"type":"image"}.
type WebSocketScanRequest struct {
	Type           string  `json:"type"` // "image", "pdf" or "ping"
	RequestID      string  `json:"request_id,omitempty"`
	Image          []byte  `json:"image,omitempty"`
	PDF            []byte  `json:"pdf,omitempty"`
	Filename       string  `json:"filename,omitempty"`
	Pages          string  `json:"pages,omitempty"`
	Password       string  `json:"password,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

// WebSocketScanResponse is every message the server sends.
type WebSocketScanResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"` // "processing", "completed", "error"
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// checkOrigin accepts same-host requests and the configured CORS origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// scanWebSocketHandler streams scans over a WebSocket connection.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(s.maxUploadBytes())
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		s.handleWebSocketMessage(ctx, conn, messageType, data)
	}
}

var wsRequestSeq atomic.Uint64

// handleWebSocketMessage processes one frame and writes the replies.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, messageType int, data []byte) {
	var req WebSocketScanRequest
	switch messageType {
	case websocket.BinaryMessage:
		req = WebSocketScanRequest{Type: "image", Image: data}
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
			return
		}
	default:
		return
	}
	if req.RequestID == "" {
		req.RequestID = strconv.FormatUint(wsRequestSeq.Add(1), 10)
	}
	if req.ScoreThreshold < 0 || req.ScoreThreshold > 1 {
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "score_threshold must be between 0 and 1")
		return
	}

	switch req.Type {
	case "ping":
		s.sendWebSocketResponse(conn, WebSocketScanResponse{Type: "pong", Status: "completed", RequestID: req.RequestID})
	case "image":
		s.processWebSocketImage(ctx, conn, req)
	case "pdf":
		s.processWebSocketPDF(ctx, conn, req)
	default:
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "Unsupported request type: "+req.Type)
	}
}

func (s *Server) processWebSocketImage(ctx context.Context, conn WebSocketConnWriter, req WebSocketScanRequest) {
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "No image data provided")
		return
	}
	s.sendWebSocketResponse(conn, WebSocketScanResponse{Type: "scan_response", Status: "processing", RequestID: req.RequestID})

	ctx, cancel := s.timeoutContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := s.scanBytes(ctx, req.Image)
	if err != nil {
		scanRequestsTotal.WithLabelValues("websocket_image", "error").Inc()
		s.sendWebSocketError(conn, req.RequestID, "processing_error", fmt.Sprintf("scan failed: %v", err))
		return
	}
	res = filterByScore(res, req.ScoreThreshold)
	scanRequestsTotal.WithLabelValues("websocket_image", "success").Inc()
	scanProcessingDuration.WithLabelValues("websocket_image").Observe(time.Since(start).Seconds())
	observeScan("websocket_image", res)

	j := res.ToJSON()
	s.sendWebSocketResponse(conn, WebSocketScanResponse{
		Type:      "scan_response",
		Status:    "completed",
		RequestID: req.RequestID,
		Result:    &j,
	})
}

func (s *Server) processWebSocketPDF(ctx context.Context, conn WebSocketConnWriter, req WebSocketScanRequest) {
	if len(req.PDF) == 0 {
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "No PDF data provided")
		return
	}
	s.sendWebSocketResponse(conn, WebSocketScanResponse{Type: "scan_response", Status: "processing", RequestID: req.RequestID})

	ctx, cancel := s.timeoutContext(ctx)
	defer cancel()

	name := req.Filename
	if name == "" {
		name = "upload.pdf"
	}
	start := time.Now()
	res, err := s.scanPDF(ctx, name, bytes.NewReader(req.PDF), req.Pages, req.Password)
	if err != nil {
		scanRequestsTotal.WithLabelValues("websocket_pdf", "error").Inc()
		s.sendWebSocketError(conn, req.RequestID, "processing_error", fmt.Sprintf("scan failed: %v", err))
		return
	}
	filterPDFByScore(res, req.ScoreThreshold)
	scanRequestsTotal.WithLabelValues("websocket_pdf", "success").Inc()
	scanProcessingDuration.WithLabelValues("websocket_pdf").Observe(time.Since(start).Seconds())

	s.sendWebSocketResponse(conn, WebSocketScanResponse{
		Type:      "scan_response",
		Status:    "completed",
		RequestID: req.RequestID,
		Result:    res,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketScanResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketScanResponse{
		Type:      "error",
		Status:    "error",
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
