// Package server implements the HTTP API for the document QA pipeline:
// question answering, ingestion, document listing, health, and metrics.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quintal-labs/docqa/internal/llm"
	"github.com/quintal-labs/docqa/internal/logging"
	"github.com/quintal-labs/docqa/internal/pipeline"
	"github.com/quintal-labs/docqa/internal/rag"
	"github.com/quintal-labs/docqa/internal/registry"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must be
	// long enough for streamed answers.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// APIKey is the Bearer token required on all /api/* routes. If empty,
	// authentication is disabled (development mode).
	APIKey string
	// RateLimit is the sustained request rate allowed per IP (requests per
	// second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20.
	RateBurst int
	// Registry exposes the document listing. Optional.
	Registry *registry.Registry
}

// answerer is the interface handleAsk calls. *pipeline.Orchestrator
// satisfies it; tests inject a fake.
type answerer interface {
	Ask(ctx context.Context, query string) (*pipeline.Answer, error)
	AskStream(ctx context.Context, query string, emit func(string)) (*pipeline.Answer, error)
	Ingest(ctx context.Context, paths []string) (*pipeline.IngestReport, error)
}

// Server is the HTTP server wrapping the pipeline orchestrator.
type Server struct {
	// pipeline answers questions and ingests documents.
	pipeline answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds this instance's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Query is the user's natural-language question.
	Query string `json:"query"`
	// Stream requests an SSE response with incremental answer text.
	Stream bool `json:"stream,omitempty"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Paths lists the files to ingest, resolved on the server host.
	Paths []string `json:"paths"`
}

// errorResponse is the JSON body for error statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// New constructs a Server. The Prometheus registry is injected so tests can
// use a fresh one.
func New(p answerer, cfg *Config, reg prometheus.Registerer) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Ingestion of a large batch and streamed answers both run long.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		pipeline: p,
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  newServerMetrics(reg),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stop

	if cfg.APIKey == "" {
		cfg.Logger.Warn("API authentication is disabled — set DOCQA_API_KEY to require a Bearer token")
	}

	api := func(h http.HandlerFunc) http.Handler {
		return rl.middleware(authMiddleware(cfg.APIKey, h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", api(s.handleAsk))
	mux.Handle("POST /api/ingest", api(s.handleIngest))
	mux.Handle("GET /api/documents", api(s.handleDocuments))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if g, ok := reg.(prometheus.Gatherer); ok {
		mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, s.metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler exposes the server's full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask. Plain requests get a JSON Answer;
// stream=true requests get SSE with incremental text followed by the full
// answer in the final event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	if req.Stream {
		s.streamAsk(w, r, req.Query, started)
		return
	}

	ans, err := s.pipeline.Ask(r.Context(), req.Query)
	if err != nil {
		s.metrics.askRequestsTotal.WithLabelValues(outcomeFor(err)).Inc()
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.metrics.askRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.askDurationSeconds.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	s.metrics.askContextChunks.Observe(float64(len(ans.Citations)))
	writeJSON(w, http.StatusOK, ans)
}

// streamAsk delivers the answer over SSE: one "text" event per increment,
// then a "done" event carrying the complete Answer as JSON.
func (s *Server) streamAsk(w http.ResponseWriter, r *http.Request, query string, started time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ans, err := s.pipeline.AskStream(r.Context(), query, func(text string) {
		fmt.Fprintf(w, "event: text\ndata: %s\n\n", sseData(text))
		flusher.Flush()
	})
	if err != nil {
		s.metrics.askRequestsTotal.WithLabelValues(outcomeFor(err)).Inc()
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", sseData(err.Error()))
		flusher.Flush()
		return
	}

	payload, _ := json.Marshal(ans)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
	flusher.Flush()
	s.metrics.askRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.askDurationSeconds.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	s.metrics.askContextChunks.Observe(float64(len(ans.Citations)))
}

// handleIngest handles POST /api/ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	report, err := s.pipeline.Ingest(r.Context(), req.Paths)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	for _, d := range report.Documents {
		s.metrics.ingestDocumentsTotal.WithLabelValues(string(d.Status)).Inc()
		s.metrics.ingestChunksTotal.Add(float64(d.Chunks))
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDocuments handles GET /api/documents, listing the registry.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Registry == nil {
		writeError(w, http.StatusNotFound, "document registry not configured")
		return
	}
	recs, err := s.cfg.Registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type docEntry struct {
		ID         string `json:"id"`
		Path       string `json:"path"`
		Format     string `json:"format"`
		ChunkCount int    `json:"chunk_count"`
		Status     string `json:"status"`
	}
	out := make([]docEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, docEntry{
			ID:         rec.ID,
			Path:       rec.Path,
			Format:     rec.Format,
			ChunkCount: rec.ChunkCount,
			Status:     string(rec.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors onto HTTP statuses by their class.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrAuth), errors.Is(err, llm.ErrQuota):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// outcomeFor maps an error onto the metrics outcome label.
func outcomeFor(err error) string {
	if errors.Is(err, rag.ErrBackendUnavailable) {
		return "unavailable"
	}
	return "error"
}

// sseData escapes newlines so multi-line text never breaks an SSE frame:
// every line of the payload becomes its own "data:" line.
func sseData(s string) string {
	return strings.ReplaceAll(s, "\n", "\ndata: ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
