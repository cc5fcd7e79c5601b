// Package status exposes a running migration over HTTP: JSON progress
// snapshots, a Prometheus text endpoint, checkpoint lookups and a
// WebSocket stream of live updates. The server is optional; a run without
// a status address configured never starts it.
package status

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/whisperflux/pkg/checkpoint"
	"github.com/nicktill/whisperflux/pkg/convert"
	"github.com/nicktill/whisperflux/pkg/httpx"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second

	// broadcastInterval is how often the run counters are checked for
	// WebSocket clients. Unchanged counters are not rebroadcast.
	broadcastInterval = time.Second
)

// ProgressSource yields progress snapshots. *convert.Progress implements it.
type ProgressSource interface {
	Snapshot() convert.Summary
}

// Server serves one conversion run's progress.
type Server struct {
	src         ProgressSource
	checkpoints checkpoint.Store
	hub         *Hub
	srv         *http.Server
	addr        string
	startedAt   time.Time
}

// New builds a status server for addr. checkpoints may be nil when resume
// tracking is disabled; the checkpoint endpoint then answers 503.
func New(addr string, src ProgressSource, checkpoints checkpoint.Store) *Server {
	s := &Server{
		src:         src,
		checkpoints: checkpoints,
		hub:         NewHub(),
		startedAt:   time.Now(),
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}
	return s
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/progress", s.handleProgress).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/checkpoint", s.handleCheckpoint).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	// Prometheus-compatible metrics endpoint (standard /metrics path)
	router.HandleFunc("/metrics", s.handlePrometheusMetrics).Methods("GET")

	return router
}

// Start binds the listener and begins serving and broadcasting. It returns
// once the address is bound; serving continues until ctx is cancelled or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr().String()

	go s.hub.Run(ctx)
	go s.broadcastLoop(ctx)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Status server failed: %v", err)
		}
	}()

	log.Printf("🌐 Status server listening on http://%s", s.addr)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// broadcastLoop pushes a snapshot to WebSocket clients whenever the
// counters move, and a final one when the run finishes.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	var last convert.Summary
	sent := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.src.Snapshot()
			if sent && !countersChanged(last, snap) {
				continue
			}
			if err := s.hub.Broadcast(snap); err != nil {
				log.Printf("Failed to broadcast progress: %v", err)
			}
			last, sent = snap, true
			if snap.Done {
				return
			}
		}
	}
}

func countersChanged(a, b convert.Summary) bool {
	return a.Discovered != b.Discovered ||
		a.Written != b.Written ||
		a.Skipped != b.Skipped ||
		a.Failed != b.Failed ||
		a.SamplesWritten != b.SamplesWritten ||
		a.SamplesDropped != b.SamplesDropped ||
		a.Batches != b.Batches ||
		a.Done != b.Done
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, s.src.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).String(),
	})
}

// handleCheckpoint answers whether a series was already migrated:
// GET /v1/checkpoint?series=<series key>.
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, errors.New("checkpointing is disabled for this run"))
		return
	}

	series := r.URL.Query().Get("series")
	if series == "" {
		httpx.RespondError(w, http.StatusBadRequest, errors.New("missing series parameter"))
		return
	}

	entry, err := s.checkpoints.Get(r.Context(), series)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if entry == nil {
		httpx.RespondError(w, http.StatusNotFound, fmt.Errorf("no checkpoint for %s", series))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, entry)
}

// runCounters defines the Prometheus series exported by /metrics.
var runCounters = []struct {
	name  string
	help  string
	value func(convert.Summary) int64
}{
	{"whisperflux_metrics_discovered_total", "Metrics yielded by discovery.",
		func(s convert.Summary) int64 { return s.Discovered }},
	{"whisperflux_metrics_written_total", "Metrics fully written to the target.",
		func(s convert.Summary) int64 { return s.Written }},
	{"whisperflux_metrics_skipped_total", "Metrics skipped as missing, empty or already converted.",
		func(s convert.Summary) int64 { return s.Skipped }},
	{"whisperflux_metrics_failed_total", "Metrics that hit a read or write failure.",
		func(s convert.Summary) int64 { return s.Failed }},
	{"whisperflux_samples_written_total", "Samples submitted to the sink.",
		func(s convert.Summary) int64 { return s.SamplesWritten }},
	{"whisperflux_samples_dropped_total", "Samples dropped as gap sentinels or non-finite values.",
		func(s convert.Summary) int64 { return s.SamplesDropped }},
	{"whisperflux_batches_total", "Batches submitted to the sink.",
		func(s convert.Summary) int64 { return s.Batches }},
}

// handlePrometheusMetrics exports the run counters in Prometheus text
// format so external tools can scrape a long migration.
//
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	for _, c := range runCounters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n\n", c.name, c.value(snap))
	}

	fmt.Fprintf(w, "# HELP whisperflux_run_elapsed_seconds Wall-clock run time.\n")
	fmt.Fprintf(w, "# TYPE whisperflux_run_elapsed_seconds gauge\n")
	fmt.Fprintf(w, "whisperflux_run_elapsed_seconds %v\n", snap.ElapsedSeconds)
}
