// Package server is the HTTP surface of `revcompare serve`: the GitHub
// webhook trigger, health probes and the Prometheus scrape endpoint.
//
// Shutdown marks the probes unready first and then drains connections, so a
// load balancer stops routing deliveries before the listener closes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/revcompare/internal/health"
)

// Server serves the webhook, probe and metrics endpoints.
type Server struct {
	httpServer      *http.Server
	probeManager    *health.ProbeManager
	inShutdown      atomic.Bool
	shutdownTimeout time.Duration
}

// Config holds server configuration. Zero timeouts take the defaults
// 30s shutdown, 10s read and write, 60s idle.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration

	// Webhook handles POST /webhook. Nil leaves the route unregistered.
	Webhook http.Handler

	// Metrics serves GET /metrics. Nil leaves the route unregistered.
	Metrics http.Handler
}

// NewServer creates the server and registers its routes.
func NewServer(probeManager *health.ProbeManager, cfg Config) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		probeManager:    probeManager,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	ready := probe(probeManager.CheckReadiness, http.StatusServiceUnavailable)
	mux := http.NewServeMux()
	mux.Handle("/health/live", probe(probeManager.CheckLiveness, http.StatusOK))
	mux.Handle("/health/ready", ready)
	mux.Handle("/health/startup", probe(probeManager.CheckStartup, http.StatusServiceUnavailable))
	mux.Handle("/healthz", ready)

	if cfg.Webhook != nil {
		mux.Handle("/webhook", cfg.Webhook)
	}
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start listens and serves until the server is shut down.
// Returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	s.probeManager.MarkInitialized()
	return s.httpServer.ListenAndServe()
}

// Handler returns the route multiplexer, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown fails readiness, stops keep-alives and drains connections for at
// most ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.probeManager.MarkShutdown()
	s.httpServer.SetKeepAlivesEnabled(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

type probeFunc func(context.Context) *health.ProbeResult

// probe serves a GET-only probe endpoint. An unhealthy result is answered
// with failStatus; liveness passes http.StatusOK so draining never restarts
// the process.
func probe(check probeFunc, failStatus int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result := check(r.Context())
		body, err := json.Marshal(result)
		if err != nil {
			http.Error(w, fmt.Sprintf("encode probe: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if result.Status == health.StatusUnhealthy {
			w.WriteHeader(failStatus)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write(body)
	}
}
