// Package admin exposes the operator HTTP interface: status, manual scans,
// tenant target edits, metrics and health.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threat-relay/internal/config"
	"threat-relay/internal/route"
	"threat-relay/internal/scan"
)

type Scanner interface {
	Stats() scan.Stats
	RunCycle(ctx context.Context, trigger string, opts scan.RunOptions) (scan.Report, error)
}

type TenantStore interface {
	Load() ([]config.Tenant, error)
	SetTarget(id, target string) error
}

type Server struct {
	router  chi.Router
	scanner Scanner
	tenants TenantStore
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(scanner Scanner, tenants TenantStore, opts ...Option) *Server {
	s := &Server{
		scanner: scanner,
		tenants: tenants,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Post("/scan", s.triggerScan)
	r.Put("/tenants/{id}/target", s.setTarget)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type tenantView struct {
	ID        string   `json:"id"`
	Provider  string   `json:"provider"`
	Filters   []string `json:"filters"`
	Locale    string   `json:"locale,omitempty"`
	HasTarget bool     `json:"has_target"`
}

type statusResponse struct {
	Uptime          string       `json:"uptime"`
	StartedAt       time.Time    `json:"started_at"`
	Running         bool         `json:"running"`
	CyclesCompleted int          `json:"cycles_completed"`
	ItemsSent       int          `json:"items_sent"`
	CacheHits       int          `json:"cache_hits"`
	FeedsFailed     int          `json:"feeds_failed"`
	LastRunAt       *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty"`
	LastTrigger     string       `json:"last_trigger,omitempty"`
	LastCycleID     string       `json:"last_cycle_id,omitempty"`
	LastDuration    string       `json:"last_duration,omitempty"`
	Tenants         []tenantView `json:"tenants"`
	TenantsError    string       `json:"tenants_error,omitempty"`
	FilterTags      []string     `json:"filter_tags"`
}

type reportResponse struct {
	CycleID          string `json:"cycle_id,omitempty"`
	Trigger          string `json:"trigger"`
	Skipped          bool   `json:"skipped"`
	Bypass           bool   `json:"bypass"`
	Duration         string `json:"duration"`
	Compacted        bool   `json:"compacted"`
	Sources          int    `json:"sources"`
	CacheHits        int    `json:"cache_hits"`
	FeedsFailed      int    `json:"feeds_failed"`
	Sent             int    `json:"sent"`
	Deliveries       int    `json:"deliveries"`
	DeliveryFailures int    `json:"delivery_failures"`
}

type targetRequest struct {
	DeliveryTarget string `json:"delivery_target"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	st := s.scanner.Stats()
	resp := statusResponse{
		Uptime:          st.Uptime(s.now()),
		StartedAt:       st.StartedAt,
		Running:         st.Running,
		CyclesCompleted: st.CyclesCompleted,
		ItemsSent:       st.ItemsSent,
		CacheHits:       st.CacheHits,
		FeedsFailed:     st.FeedsFailed,
		LastRunAt:       optionalTime(st.LastRunAt),
		NextRunAt:       optionalTime(st.NextRunAt),
		LastTrigger:     st.LastTrigger,
		LastCycleID:     st.LastCycleID,
		Tenants:         []tenantView{},
		FilterTags:      route.FilterTags(),
	}
	if st.LastDuration > 0 {
		resp.LastDuration = st.LastDuration.Round(time.Millisecond).String()
	}

	tenants, err := s.tenants.Load()
	if err != nil {
		resp.TenantsError = err.Error()
	}
	for _, t := range tenants {
		resp.Tenants = append(resp.Tenants, tenantView{
			ID:        t.ID,
			Provider:  t.Provider,
			Filters:   t.Filters,
			Locale:    t.Locale,
			HasTarget: strings.TrimSpace(t.DeliveryTarget) != "",
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// triggerScan runs a cycle and answers with its report. The cycle outlives a
// client that hangs up.
func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	bypass := false
	if raw := r.URL.Query().Get("bypass"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bypass must be a boolean")
			return
		}
		bypass = b
	}

	ctx := context.WithoutCancel(r.Context())
	report, err := s.scanner.RunCycle(ctx, scan.TriggerManual, scan.RunOptions{BypassCache: bypass})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scan.ErrNoTenants) || errors.Is(err, scan.ErrNoSources) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	resp := reportResponse{
		CycleID:          report.CycleID,
		Trigger:          report.Trigger,
		Skipped:          report.Skipped,
		Bypass:           bypass,
		Duration:         report.Duration.Round(time.Millisecond).String(),
		Compacted:        report.Compacted,
		Sources:          report.Sources,
		CacheHits:        report.CacheHits,
		FeedsFailed:      report.FeedsFailed,
		Sent:             report.Sent,
		Deliveries:       report.Deliveries,
		DeliveryFailures: report.DeliveryFailures,
	}
	if report.Skipped {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) setTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target := strings.TrimSpace(req.DeliveryTarget)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		writeError(w, http.StatusBadRequest, "delivery_target must be an http(s) URL")
		return
	}

	if err := s.tenants.SetTarget(id, target); err != nil {
		if errors.Is(err, config.ErrUnknownTenant) {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		s.logger.Error("Failed to update tenant target", "tenant", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update tenant")
		return
	}
	s.logger.Info("Updated tenant target", "tenant", id)
	writeJSON(w, http.StatusOK, map[string]string{"tenant": id, "delivery_target": target})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("Failed to write JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
