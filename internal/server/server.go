// Package server exposes the long-running caretaker process over HTTP:
// GitHub webhook deliveries, health probes and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/caretaker/internal/github"
	"github.com/felixgeelhaar/caretaker/internal/health"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
)

// MaxWebhookBody bounds the size of a webhook delivery.
const MaxWebhookBody = 25 << 20

// Submitter queues repository runs. *scheduler.Trigger implements it.
type Submitter interface {
	Submit(repoIDs []string) error
}

// Config holds server configuration.
type Config struct {
	// Address is the listen address, e.g. ":8080".
	Address string

	// ShutdownTimeout bounds connection draining. Defaults to 30s.
	ShutdownTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// WebhookSecret validates X-Hub-Signature-256. Empty disables checks.
	WebhookSecret string

	// Allowed filters the repositories a webhook may trigger. Nil allows all.
	Allowed func(repoID string) bool

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front of `caretaker serve`.
type Server struct {
	httpServer      *http.Server
	probes          *health.ProbeManager
	trigger         Submitter
	secret          []byte
	allowed         func(string) bool
	inShutdown      atomic.Bool
	shutdownTimeout time.Duration
	logger          *log.Logger
}

// New creates a server. trigger may be nil, in which case /webhook is not
// registered.
func New(probes *health.ProbeManager, trigger Submitter, cfg Config, logger *log.Logger) *Server {
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
		probes:          probes,
		trigger:         trigger,
		secret:          []byte(cfg.WebhookSecret),
		allowed:         cfg.Allowed,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          log.OrDefault(logger).With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	mux.HandleFunc("GET /health/startup", s.handleStartup)
	mux.HandleFunc("GET /healthz", s.handleReadiness)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.HandlerFor(cfg.Gatherer))
	} else {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	if trigger != nil {
		mux.HandleFunc("POST /webhook", s.handleWebhook)
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

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and blocks until shutdown.
// It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l and blocks until shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.probes.MarkInitialized()
	s.logger.Info("http server listening", "address", l.Addr().String())
	return s.httpServer.Serve(l)
}

// Shutdown fails readiness, stops keep-alives and drains connections for at
// most the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.probes.MarkShutdown()
	s.httpServer.SetKeepAlivesEnabled(false)

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeProbe(w http.ResponseWriter, result *health.ProbeResult, unhealthyStatus int) {
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = unhealthyStatus
	}
	writeJSON(w, status, result)
}

// Liveness always answers 200, even while shutting down.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, s.probes.CheckLiveness(r.Context()), http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, s.probes.CheckReadiness(r.Context()), http.StatusServiceUnavailable)
}

func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, s.probes.CheckStartup(r.Context()), http.StatusServiceUnavailable)
}

type webhookResponse struct {
	Status       string   `json:"status"`
	Repositories []string `json:"repositories,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, webhookResponse{Status: "shutting_down"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxWebhookBody)

	delivery := r.Header.Get("X-GitHub-Delivery")
	repos, err := github.ParseTrigger(r, s.secret)
	if stderrors.Is(err, github.ErrIgnoredEvent) {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}
	if err != nil {
		s.logger.Warn("rejected webhook delivery", "delivery", delivery, "error", err)
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: err.Error()})
		return
	}

	if s.allowed != nil {
		kept := repos[:0]
		for _, repo := range repos {
			if s.allowed(repo) {
				kept = append(kept, repo)
			}
		}
		repos = kept
	}
	if len(repos) == 0 {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	if err := s.trigger.Submit(repos); err != nil {
		s.logger.WithError(err).Warn("could not queue webhook run", "delivery", delivery)
		writeJSON(w, http.StatusServiceUnavailable, webhookResponse{Status: "busy", Error: err.Error()})
		return
	}

	s.logger.Info("queued webhook run", "delivery", delivery, "event", r.Header.Get("X-GitHub-Event"), "repos", repos)
	writeJSON(w, http.StatusAccepted, webhookResponse{Status: "queued", Repositories: repos})
}

// AllowList returns an Allowed filter for repoIDs. An empty list allows every
// repository.
func AllowList(repoIDs []string) func(string) bool {
	if len(repoIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		set[id] = true
	}
	return func(repoID string) bool { return set[repoID] }
}
