package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dockpulse/internal/db"
	"dockpulse/internal/hub"
	"dockpulse/internal/models"
	"dockpulse/internal/series"
	"dockpulse/internal/telemetry"
)

// Snapshots exposes the newest Snapshot without sampling.
type Snapshots interface {
	Latest() (models.Snapshot, bool)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	ViewerTimeout time.Duration
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
}

type Server struct {
	repo     *db.Repository
	store    *series.Store
	hub      *hub.Hub
	snaps    Snapshots
	docker   Pinger
	metrics  *telemetry.Metrics
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(repo *db.Repository, store *series.Store, h *hub.Hub, snaps Snapshots, docker Pinger, metrics *telemetry.Metrics, opts Options, logger *slog.Logger) *Server {
	if opts.ViewerTimeout <= 0 {
		opts.ViewerTimeout = 3 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Server{
		repo:    repo,
		store:   store,
		hub:     h,
		snaps:   snaps,
		docker:  docker,
		metrics: metrics,
		opts:    opts,
		log:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/system/metrics", s.handleSystemMetrics)
	mux.HandleFunc("GET /api/system/metrics/history", s.handleSystemHistory)
	mux.HandleFunc("GET /api/container/{entity}/stats/history", s.handleEntityHistory)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSaveSettings)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return logMiddleware(mux, s.log)
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snaps.Latest()
	if !ok {
		http.Error(w, "no metrics yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap.Host)
}

func (s *Server) handleSystemHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.History(r.Context(), models.HostSeriesID, parseHours(r.URL.Query().Get("hours")))
	if err != nil {
		s.log.Error("system history", "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"metrics": points})
}

func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	points, err := s.store.History(r.Context(), entity, parseHours(r.URL.Query().Get("hours")))
	if err != nil {
		s.log.Error("entity history", "entity", entity, "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"stats": points})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var acknowledged *bool
	if v := q.Get("acknowledged"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			acknowledged = &b
		}
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	alerts, err := s.repo.ListAlerts(r.Context(), acknowledged, limit)
	if err != nil {
		s.log.Error("list alerts", "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.repo.AcknowledgeAlert(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("acknowledge alert", "id", id, "err", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	th, err := s.repo.LoadThresholds(r.Context())
	if err != nil {
		s.log.Error("load settings", "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, th)
}

// handleSaveSettings applies the posted fields over the stored thresholds so
// a partial body only changes what it names.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	th, err := s.repo.LoadThresholds(r.Context())
	if err != nil {
		s.log.Error("load settings", "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&th); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := validateThresholds(th); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.repo.SaveThresholds(r.Context(), th); err != nil {
		s.log.Error("save settings", "err", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	s.log.Info("alert thresholds updated", "cpu", th.CPUAlertThreshold, "memory", th.MemoryAlertThreshold, "disk", th.DiskAlertThreshold, "enabled", th.EnableAlerts)
	writeJSON(w, th)
}

func validateThresholds(th models.AlertThresholds) error {
	for name, v := range map[string]float64{
		"cpu_alert_threshold":    th.CPUAlertThreshold,
		"memory_alert_threshold": th.MemoryAlertThreshold,
		"disk_alert_threshold":   th.DiskAlertThreshold,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DB().PingContext(r.Context()); err != nil {
		http.Error(w, "db not ready", 503)
		return
	}
	if err := s.docker.Ping(r.Context()); err != nil {
		http.Error(w, "docker not ready", 503)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseHours(v string) float64 {
	if v == "" {
		return 1
	}
	h, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil || h <= 0 {
		return 1
	}
	return h
}
