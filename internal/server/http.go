package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localscribe/transcription-service/internal/audio"
	"github.com/localscribe/transcription-service/internal/config"
	"github.com/localscribe/transcription-service/internal/health"
	"github.com/localscribe/transcription-service/internal/metrics"
	"github.com/localscribe/transcription-service/internal/queue"
	"github.com/localscribe/transcription-service/internal/vad"
)

// Error kinds exposed in the transcription response contract. These strings
// are stable; clients match on them.
const (
	KindInvalidRequest    = "InvalidRequest"
	KindEmptyInput        = "EmptyInput"
	KindUnsupportedFormat = "UnsupportedFormat"
	KindCorruptAudio      = "CorruptAudio"
	KindServerBusy        = "ServerBusy"
	KindInferenceTimeout  = "InferenceTimeout"
	KindInferenceError    = "InferenceError"
)

// HTTPServer exposes the transcription service over HTTP
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	metrics    *metrics.Metrics
	reporter   *health.Reporter
	normalizer *audio.Normalizer
	detector   *vad.Detector // nil when the silence gate is disabled

	// The serializer appears after the model finishes loading.
	serializerMu sync.RWMutex
	serializer   *queue.Serializer

	startTime time.Time
}

// transcribeRequest is the wire shape of POST /transcribe. Data carries the
// audio bytes base64-encoded; it is decoded at this boundary and the rest of
// the pipeline works on raw binary.
type transcribeRequest struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
	Format   string `json:"format"`
	Language string `json:"language"`
}

// transcribeResponse is the wire shape of a successful transcription. Text is
// always present; an empty string means the model found no speech.
type transcribeResponse struct {
	OK       bool    `json:"ok"`
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// errorResponse is the wire shape of a failed request.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// healthResponse is the wire shape of GET /health.
type healthResponse struct {
	OK    bool   `json:"ok"`
	Model string `json:"model,omitempty"`
}

// NewHTTPServer creates the HTTP server. The serializer is attached later,
// once the model has loaded, via SetSerializer.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
	reporter *health.Reporter, normalizer *audio.Normalizer, detector *vad.Detector) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		metrics:    m,
		reporter:   reporter,
		normalizer: normalizer,
		detector:   detector,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Queue.GetRequestTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return h
}

// SetSerializer attaches the job serializer once the model is loaded.
func (h *HTTPServer) SetSerializer(s *queue.Serializer) {
	h.serializerMu.Lock()
	defer h.serializerMu.Unlock()
	h.serializer = s
}

func (h *HTTPServer) getSerializer() *queue.Serializer {
	h.serializerMu.RLock()
	defer h.serializerMu.RUnlock()
	return h.serializer
}

// Handler returns the configured route handler, used directly by tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements GET /health. It reports 503 with ok:false until
// the model finishes loading, then 200 with the model name.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready, model := h.reporter.Ready()
	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false})
		return
	}

	h.writeJSON(w, http.StatusOK, healthResponse{OK: true, Model: model})
}

// handleTranscribe implements POST /transcribe.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.GetMaxBodySize())

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, KindInvalidRequest)
		return
	}

	if req.Format == "" {
		h.writeError(w, http.StatusBadRequest, KindInvalidRequest)
		return
	}

	if req.Language == "" {
		req.Language = "auto"
	}

	if !h.config.Engine.IsLanguageAllowed(req.Language) {
		h.writeError(w, http.StatusBadRequest, KindInvalidRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, KindInvalidRequest)
		return
	}

	serializer := h.getSerializer()
	if serializer == nil {
		// Model still loading; clients should retry once /health reports ready.
		h.writeError(w, http.StatusServiceUnavailable, KindServerBusy)
		return
	}

	pcm, err := h.normalizer.Normalize(r.Context(), data, req.Format)
	if err != nil {
		status, kind := classifyError(err)
		h.metrics.RecordJobFailed(kind)

		h.logger.Warn("Normalization failed",
			slog.String("filename", req.Filename),
			slog.String("format", req.Format),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		h.writeError(w, status, kind)
		return
	}

	// Clips with no signal skip the queue entirely. The response contract is
	// the same one a real inference of silence would produce.
	if h.detector != nil && h.detector.Silent(pcm) {
		h.metrics.RecordSilenceSkip()

		h.logger.Debug("Silent clip answered without inference",
			slog.String("filename", req.Filename),
			slog.Duration("audio_duration", pcm.Duration()),
		)
		h.writeJSON(w, http.StatusOK, transcribeResponse{
			OK:       true,
			Duration: pcm.Duration().Seconds(),
		})
		return
	}

	h.metrics.RecordJobSubmitted(pcm.Duration().Seconds())

	start := time.Now()
	result, err := serializer.Submit(r.Context(), pcm, req.Language)
	h.metrics.SetQueueDepth(serializer.GetStatistics().QueueDepth)

	if err != nil {
		status, kind := classifyError(err)
		switch kind {
		case KindServerBusy:
			h.metrics.RecordJobRejected()
		case KindInferenceTimeout:
			h.metrics.RecordInferenceTimeout()
		default:
			h.metrics.RecordJobFailed(kind)
		}

		h.logger.Warn("Transcription failed",
			slog.String("filename", req.Filename),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		h.writeError(w, status, kind)
		return
	}

	h.metrics.RecordJobCompleted(time.Since(start).Seconds())

	h.writeJSON(w, http.StatusOK, transcribeResponse{
		OK:       true,
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration.Seconds(),
	})
}

// classifyError maps internal error kinds to HTTP status and wire kind.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, audio.ErrEmptyInput):
		return http.StatusBadRequest, KindEmptyInput
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusBadRequest, KindUnsupportedFormat
	case errors.Is(err, audio.ErrCorruptAudio):
		return http.StatusBadRequest, KindCorruptAudio
	case errors.Is(err, queue.ErrServerBusy), errors.Is(err, queue.ErrStopped):
		return http.StatusServiceUnavailable, KindServerBusy
	case errors.Is(err, queue.ErrInferenceTimeout):
		return http.StatusGatewayTimeout, KindInferenceTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; the status is never seen but keeps logs honest.
		return 499, KindInvalidRequest
	default:
		return http.StatusInternalServerError, KindInferenceError
	}
}

// handleConfig implements GET /config with a sanitized configuration view.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"address":          h.config.Server.Address,
			"port":             h.config.Server.Port,
			"max_body_size_mb": h.config.Server.MaxBodySizeMB,
		},
		"engine": map[string]interface{}{
			"backend":   h.config.Engine.Backend,
			"model":     h.config.Engine.Model,
			"languages": h.config.Engine.Languages,
		},
		"audio": map[string]interface{}{
			"sample_rate":       h.config.Audio.SampleRate,
			"channels":          h.config.Audio.Channels,
			"bit_depth":         h.config.Audio.BitDepth,
			"max_duration":      h.config.Audio.MaxDuration,
			"silence_threshold": h.config.Audio.SilenceThreshold,
			"supported_formats": audio.SupportedFormats(),
		},
		"queue": map[string]interface{}{
			"capacity":        h.config.Queue.Capacity,
			"request_timeout": h.config.Queue.RequestTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitized)
}

// handleStats implements GET /stats.
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready, model := h.reporter.Ready()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"ready":     ready,
		"model":     model,
	}

	if serializer := h.getSerializer(); serializer != nil {
		stats["queue"] = serializer.GetStatistics()
	}
	if h.detector != nil {
		stats["vad"] = h.detector.GetStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements GET / with an endpoint index.
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "transcription-service",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"GET /health":      "Readiness and loaded model",
			"POST /transcribe": "Transcribe an audio payload",
			"GET /config":      "Running configuration",
			"GET /stats":       "Queue and uptime statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, kind string) {
	h.writeJSON(w, status, errorResponse{OK: false, Error: kind})
}
