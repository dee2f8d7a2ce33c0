// Package httpapi exposes the operational HTTP surface: health and readiness
// probes, Prometheus metrics, the incident snapshot, and the approval
// endpoints operators use to resolve pending requests.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cirruswatch/stormsentry/internal/approval"
	"github.com/cirruswatch/stormsentry/internal/domain"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// IncidentLister exposes the latest incident per monitored location.
type IncidentLister interface {
	Snapshot() []domain.Incident
}

// ApprovalGate is the operator-facing slice of the approval gate.
type ApprovalGate interface {
	Pending() []approval.Request
	Get(id string) (approval.Request, error)
	Resolve(id string, decision approval.Decision, actor string) error
}

// Server exposes the operational HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router and wires all endpoints.
func NewServer(addr string, ready ReadinessChecker, incidents IncidentLister, gate ApprovalGate, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", handleReady(ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/incidents", handleIncidents(incidents))
	r.Get("/approvals", handleListApprovals(gate))
	r.Get("/approvals/{id}", handleGetApproval(gate))
	r.Post("/approvals/{id}", s.handleResolveApproval(gate))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleIncidents(incidents IncidentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents.Snapshot()})
	}
}

func handleListApprovals(gate ApprovalGate) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"approvals": gate.Pending()})
	}
}

func handleGetApproval(gate ApprovalGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := gate.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// resolveRequest is the operator's approve/reject call.
type resolveRequest struct {
	Decision string `json:"decision"`
	Actor    string `json:"actor"`
}

func (s *Server) handleResolveApproval(gate ApprovalGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var body resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		decision := approval.Decision(body.Decision)
		if decision != approval.DecisionApproved && decision != approval.DecisionRejected {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "decision must be approved or rejected",
			})
			return
		}

		err := gate.Resolve(id, decision, body.Actor)
		switch {
		case errors.Is(err, approval.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		case errors.Is(err, approval.ErrInvalidState):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		case err != nil:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		s.logger.Info("approval resolved via api",
			"request_id", id, "decision", decision, "actor", body.Actor)

		req, err := gate.Get(id)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
