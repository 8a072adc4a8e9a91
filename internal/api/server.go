// Package api exposes the HTTP control surface for the scan pipeline:
// session lifecycle, live sampled point clouds, and the composite
// export index.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meshscan-io/meshscan/internal/archive"
	"github.com/meshscan-io/meshscan/internal/mesh"
	"github.com/meshscan-io/meshscan/internal/monitoring"
	"github.com/meshscan-io/meshscan/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	session   *mesh.ScanSession
	store     *mesh.FragmentStore
	sampler   *mesh.SpatialGridSampler
	scheduler *mesh.UpdateScheduler
	stats     *mesh.PipelineStats
	archive   *archive.FragmentArchive
	exports   *archive.ExportStore
	sessions  *archive.SessionStore
	exportDir string
}

func NewServer(session *mesh.ScanSession, store *mesh.FragmentStore, sampler *mesh.SpatialGridSampler,
	scheduler *mesh.UpdateScheduler, stats *mesh.PipelineStats,
	arch *archive.FragmentArchive, exports *archive.ExportStore, sessions *archive.SessionStore,
	exportDir string) *Server {
	return &Server{
		session:   session,
		store:     store,
		sampler:   sampler,
		scheduler: scheduler,
		stats:     stats,
		archive:   arch,
		exports:   exports,
		sessions:  sessions,
		exportDir: exportDir,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/session", s.handleSessionStatus)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)
	mux.HandleFunc("/api/session/reset", s.handleSessionReset)
	mux.HandleFunc("/api/sessions", s.handleSessionList)
	mux.HandleFunc("/api/points", s.handlePoints)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/exports", s.handleExportList)
	mux.HandleFunc("/api/exports/", s.handleExportDelete)
	return mux
}

// Serve runs the HTTP server on addr until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: LoggingMiddleware(s.ServeMux()),
	}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[API] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("[API] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "ok %s (%s)\n", version.Version, version.GitSHA)
}

type sessionResponse struct {
	Session   mesh.SessionStatus `json:"session"`
	Stats     mesh.StatsSnapshot `json:"stats"`
	Scheduler schedulerStatus    `json:"scheduler"`
}

type schedulerStatus struct {
	Entities      int   `json:"entities"`
	Pending       int   `json:"pending"`
	Batches       int64 `json:"batches"`
	BuildFailures int64 `json:"build_failures"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := sessionResponse{Session: s.session.Status()}
	if s.stats != nil {
		resp.Stats = s.stats.Snapshot()
	}
	if s.scheduler != nil {
		resp.Scheduler = schedulerStatus{
			Entities:      s.scheduler.EntityCount(),
			Pending:       s.scheduler.PendingCount(),
			Batches:       s.scheduler.Batches(),
			BuildFailures: s.scheduler.BuildFailures(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Stop(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Reset()
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, []archive.SessionSummary{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := s.sessions.ListSessions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []archive.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handlePoints returns the live store downsampled to one point per grid
// cell. An optional cell_size query parameter overrides the configured
// grid resolution for this request only.
func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var points []mesh.Vec3
	s.store.ForEach(func(_ string, frag *mesh.MeshFragment) {
		points = append(points, frag.WorldVertices()...)
	})

	cellSize := 0.0
	if v := r.URL.Query().Get("cell_size"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid cell_size %q", v))
			return
		}
		cellSize = parsed
	}

	sampled := s.sampler.SampleCellSize(points, cellSize)
	if sampled == nil {
		sampled = []mesh.SampledPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(sampled),
		"points": sampled,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	model, err := s.archive.Composite()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(model.Points) == 0 {
		writeError(w, http.StatusConflict, fmt.Errorf("nothing to export: archive is empty"))
		return
	}

	var sampler *mesh.SpatialGridSampler
	if r.URL.Query().Get("sampled") == "true" {
		sampler = s.sampler
	}

	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		fileName = fmt.Sprintf("scan-%s.asc", time.Now().UTC().Format("20060102-150405"))
	}

	path, pointCount, err := archive.ExportCompositeASC(model, sampler, s.exportDir, fileName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	rec := &archive.ExportRecord{
		SessionID:     s.session.Status().SessionID,
		FileName:      path,
		FragmentCount: model.FragmentCount,
		PointCount:    pointCount,
	}
	if s.exports != nil {
		if err := s.exports.Insert(rec); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExportList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.exports == nil {
		writeJSON(w, http.StatusOK, []archive.ExportRecord{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.exports.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []archive.ExportRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExportDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	exportID := strings.TrimPrefix(r.URL.Path, "/api/exports/")
	if exportID == "" || strings.Contains(exportID, "/") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid export id"))
		return
	}

	fileName, err := s.exports.Delete(exportID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if fileName == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("export not found: %s", exportID))
		return
	}
	// The index row is already gone; a stranded artifact cannot corrupt
	// later exports, so removal failure is only logged.
	if err := os.Remove(fileName); err != nil && !os.IsNotExist(err) {
		monitoring.Logf("[API] failed to remove export artifact %s: %v", fileName, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": exportID})
}
