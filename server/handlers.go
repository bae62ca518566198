package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	medcompanion "github.com/pnavin9/MedCompanion"
	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/pnavin9/MedCompanion/runlog"
	"github.com/pnavin9/MedCompanion/series"
	"github.com/pnavin9/MedCompanion/telemetry"
	"github.com/pnavin9/MedCompanion/workspace"
)

const (
	maxRequestBody  = 1 << 20
	defaultRunLimit = 50
)

type processSeriesRequest struct {
	Folder string `json:"folder"`
}

type processSeriesResponse struct {
	Success        bool                `json:"success"`
	OutputFolder   string              `json:"output_folder"`
	TotalSlices    int                 `json:"total_slices"`
	SeriesInfoFile string              `json:"series_info_file"`
	FailedItems    []series.ItemResult `json:"failed_items"`
}

type preprocessRequest struct {
	FilePaths []string `json:"file_paths"`
}

type scanRequest struct {
	WorkspacePath string `json:"workspace_path"`
}

type scanResponse struct {
	Content   string               `json:"content"`
	Documents []workspace.Document `json:"documents"`
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats handles document cache statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.config.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "stats not enabled"})
		return
	}

	stats, err := s.config.Stats.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProcessSeries(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "process-series")

	var req processSeriesRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Folder == "" {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}

	started := time.Now()
	batch, err := s.config.Converter.Convert(r.Context(), req.Folder)
	s.recorder.Record(r.Context(), runlog.FromConversion(req.Folder, batch, err, started, time.Since(started)))

	switch {
	case err == nil:
	case errors.Is(err, series.ErrNoFiles):
		writeError(w, http.StatusNotFound, "No DICOM files found in folder")
		return
	case errors.Is(err, medcompanion.ErrNotFound):
		writeError(w, http.StatusNotFound, "Folder not found: "+req.Folder)
		return
	case errors.Is(err, series.ErrAllItemsFailed):
		writeError(w, http.StatusInternalServerError, "Failed to process any DICOM files")
		return
	default:
		s.logger.Error("series conversion failed", "folder", req.Folder, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error processing DICOM series: %v", err))
		return
	}

	failed := batch.Failures()
	if failed == nil {
		failed = []series.ItemResult{}
	}
	writeJSON(w, http.StatusOK, processSeriesResponse{
		Success:        true,
		OutputFolder:   batch.OutputFolder,
		TotalSlices:    batch.Succeeded,
		SeriesInfoFile: batch.SeriesInfoFile,
		FailedItems:    failed,
	})
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "preprocess-pdfs")

	var req preprocessRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	started := time.Now()
	res, err := s.config.Documents.Preprocess(r.Context(), req.FilePaths)
	s.recorder.Record(r.Context(), runlog.FromPreprocess(req.FilePaths, res, err, started, time.Since(started)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	telemetry.SetCacheResult(r, preprocessCacheResult(res))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "clear-pdf-cache")

	if err := s.config.Documents.Clear(r.Context()); err != nil {
		s.logger.Error("clearing document cache failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error clearing cache: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "PDF cache cleared",
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "scan")

	var req scanRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.WorkspacePath == "" {
		writeError(w, http.StatusBadRequest, "workspace_path is required")
		return
	}

	bundle, err := s.config.Scanner.Scan(r.Context(), req.WorkspacePath)
	if errors.Is(err, medcompanion.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Workspace not found: "+req.WorkspacePath)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	docs := bundle.Documents
	if docs == nil {
		docs = []workspace.Document{}
	}
	writeJSON(w, http.StatusOK, scanResponse{Content: bundle.Text(), Documents: docs})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "list-runs")

	if s.config.Runs == nil {
		writeJSON(w, http.StatusOK, []*runlog.Run{})
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.config.Runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*runlog.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "get-run")

	id := r.PathValue("id")
	if s.config.Runs == nil {
		writeError(w, http.StatusNotFound, "Run not found: "+id)
		return
	}

	run, err := s.config.Runs.Get(r.Context(), id)
	if errors.Is(err, medcompanion.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// preprocessCacheResult is a hit only when every path was already cached.
func preprocessCacheResult(res *doccache.PreprocessResult) telemetry.CacheResult {
	if len(res.Details) == 0 {
		return telemetry.CacheNA
	}
	for _, d := range res.Details {
		if d.Status != doccache.StatusAlreadyCached {
			return telemetry.CacheMiss
		}
	}
	return telemetry.CacheHit
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a {"detail": msg} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
