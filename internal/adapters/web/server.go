// Package web exposes detections over REST and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/adapters/reporting"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// EnvironmentProvider exposes the engine's ambient classification.
type EnvironmentProvider interface {
	Environment() domain.Environment
}

// Server handles HTTP and WebSocket connections. It doubles as the
// engine's notification collaborator: level transitions are pushed to
// connected clients.
type Server struct {
	Addr      string
	Store     ports.DetectionStore
	Env       EnvironmentProvider
	WSManager *WSManager
	Reporter  *reporting.PDFReporter
	log       *slog.Logger
	srv       *http.Server
}

// NewServer creates a web server over the detection store.
func NewServer(addr string, store ports.DetectionStore, env EnvironmentProvider, reporter *reporting.PDFReporter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Addr:      addr,
		Store:     store,
		Env:       env,
		WSManager: NewWSManager(log),
		Reporter:  reporter,
		log:       log,
	}
}

// NotifyLevelChange implements ports.Notifier by broadcasting the
// transition to every connected client.
func (s *Server) NotifyLevelChange(ctx context.Context, d domain.Detection, previous domain.ThreatLevel) {
	s.WSManager.BroadcastTransition(d, previous)
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/api/detections", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/detections/{protocol}/{identity}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/environment", s.handleEnvironment).Methods(http.MethodGet)
	r.HandleFunc("/api/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WSManager.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           otelhttp.NewHandler(r, "flocksense-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("web server shutdown", "error", err)
		}
	}()

	s.log.Info("web server listening", "addr", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ports.DetectionFilter{
		Protocol:   domain.Protocol(r.URL.Query().Get("protocol")),
		MinLevel:   domain.ThreatLevel(r.URL.Query().Get("min_level")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	writeJSON(w, s.Store.List(r.Context(), filter))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, err := s.Store.Get(r.Context(), domain.Protocol(vars["protocol"]), vars["identity"])
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	max, _ := strconv.Atoi(r.URL.Query().Get("max"))
	writeJSON(w, s.Store.Snapshot(r.Context(), max))
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	env := domain.EnvUnknown
	if s.Env != nil {
		env = s.Env.Environment()
	}
	writeJSON(w, map[string]string{"environment": string(env)})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.Reporter == nil {
		http.Error(w, "reporting not configured", http.StatusNotImplemented)
		return
	}
	detections := s.Store.Snapshot(r.Context(), 0)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=threat_report.pdf")
	if err := s.Reporter.Generate(w, detections, time.Now()); err != nil {
		s.log.Error("generating report", "error", err)
		http.Error(w, "report generation failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
