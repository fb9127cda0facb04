package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/valuator/internal/valuation/batch"
)

// Status is the aggregated health of the valuator.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// StatusProvider reports the batch controller status.
type StatusProvider interface {
	Status() batch.Status
}

// Check probes one dependency, e.g. a database ping.
type Check func(ctx context.Context) error

// Report is the detailed health response.
type Report struct {
	Status     Status            `json:"status"`
	Controller batch.Status      `json:"controller"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	provider StatusProvider
	checks   map[string]Check
	server   *http.Server
}

// NewServer creates a new health server.
func NewServer(provider StatusProvider, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		provider: provider,
		checks:   make(map[string]Check),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// AddCheck registers a dependency probe. Call before Start.
func (s *Server) AddCheck(name string, check Check) {
	s.checks[name] = check
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) report(ctx context.Context) Report {
	rep := Report{Status: StatusHealthy, Controller: s.provider.Status()}

	switch rep.Controller.State {
	case batch.StateAborted:
		rep.Status = StatusCritical
	case batch.StatePausedForBackoff:
		rep.Status = StatusDegraded
	}

	if len(s.checks) > 0 {
		rep.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := check(checkCtx)
			cancel()
			if err != nil {
				rep.Checks[name] = err.Error()
				if rep.Status == StatusHealthy {
					rep.Status = StatusDegraded
				}
				continue
			}
			rep.Checks[name] = "ok"
		}
	}
	return rep
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.report(r.Context())

	response := map[string]string{
		"status": string(rep.Status),
		"state":  string(rep.Controller.State),
	}
	w.Header().Set("Content-Type", "application/json")

	if rep.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	rep := s.report(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rep)
}
