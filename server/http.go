// Package server provides the HTTP API for series conversion, the document
// cache and workspace scans.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/pnavin9/MedCompanion/expiry"
	"github.com/pnavin9/MedCompanion/lifecycle"
	"github.com/pnavin9/MedCompanion/runlog"
	"github.com/pnavin9/MedCompanion/series"
	"github.com/pnavin9/MedCompanion/telemetry"
	"github.com/pnavin9/MedCompanion/workspace"
)

// SeriesConverter converts a folder of DICOM files.
type SeriesConverter interface {
	Convert(ctx context.Context, folder string) (*series.OutputBatch, error)
}

// DocumentCache is the part of the document cache the API exposes.
type DocumentCache interface {
	Preprocess(ctx context.Context, paths []string) (*doccache.PreprocessResult, error)
	Clear(ctx context.Context) error
}

// WorkspaceScanner bundles the documents of a workspace folder.
type WorkspaceScanner interface {
	Scan(ctx context.Context, dir string) (*workspace.Bundle, error)
}

// StatsSource reports document cache statistics.
type StatsSource interface {
	GetStats(ctx context.Context) (*expiry.Stats, error)
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8000")
	Address string

	Converter SeriesConverter
	Documents DocumentCache
	Scanner   WorkspaceScanner

	// Registry tracks conversion output folders; they are removed on
	// shutdown.
	Registry *lifecycle.Registry

	// Runs stores run history. Optional.
	Runs *runlog.Store

	// Stats backs GET /stats. Optional.
	Stats StatsSource

	// Expiry is started with the server and stopped on shutdown. Optional.
	Expiry *expiry.Manager

	// Logger for the server
	Logger *slog.Logger
}

// Server is the MedCompanion HTTP server.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
	recorder   *runlog.Recorder
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8000"
	}
	if cfg.Converter == nil || cfg.Documents == nil || cfg.Scanner == nil {
		return nil, fmt.Errorf("converter, document cache and scanner are required")
	}
	if cfg.Registry == nil {
		cfg.Registry = lifecycle.New(cfg.Logger)
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		recorder: runlog.NewRecorder(cfg.Runs, cfg.Logger.With("component", "runlog")),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // series conversion and extraction run inside the request
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("POST /api/v1/dicom/process-series", s.handleProcessSeries)
	mux.HandleFunc("POST /api/v1/documents/preprocess-pdfs", s.handlePreprocess)
	mux.HandleFunc("POST /api/v1/documents/clear-pdf-cache", s.handleClearCache)
	mux.HandleFunc("POST /api/v1/workspace/scan", s.handleScan)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		telemetry.SetAPI(r, deriveAPI(r.URL.Path))
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"api", tags.API,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		level := slog.LevelInfo
		if tags.API == "ops" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the expiry manager, if any, and serves until Shutdown.
func (s *Server) Start() error {
	if s.config.Expiry != nil {
		s.logger.Info("starting expiry manager")
		if err := s.config.Expiry.Start(context.Background()); err != nil {
			return fmt.Errorf("starting expiry manager: %w", err)
		}
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, then the expiry manager, then removes
// every registered conversion output folder.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)

	if s.config.Expiry != nil {
		s.config.Expiry.Stop()
	}

	res := s.config.Registry.CleanupAll(context.WithoutCancel(ctx))
	s.logger.Info("removed output folders",
		"removed", len(res.Removed),
		"missing", len(res.Missing),
		"failed", len(res.Failed),
	)
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveAPI maps a request path to its route group.
func deriveAPI(path string) string {
	switch {
	case path == "/health" || path == "/stats" || path == "/metrics":
		return "ops"
	case strings.HasPrefix(path, "/api/v1/dicom/"):
		return "dicom"
	case strings.HasPrefix(path, "/api/v1/documents/"):
		return "documents"
	case strings.HasPrefix(path, "/api/v1/workspace/"):
		return "workspace"
	case path == "/api/v1/runs" || strings.HasPrefix(path, "/api/v1/runs/"):
		return "runs"
	default:
		return "unknown"
	}
}
