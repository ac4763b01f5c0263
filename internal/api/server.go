// Package api is the HTTP surface of the dispatch pipeline: campaign
// submission and control, the progress stream, blacklist administration,
// scheduled campaigns and operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/whatsapp-dispatch/internal/config"
	"github.com/ignite/whatsapp-dispatch/internal/progress"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

// Deps are the services the handlers call. Scheduler, Progress, Gatherer
// and Health may be nil; their routes then answer 501 or are not mounted.
type Deps struct {
	Campaigns *campaign.Service
	Blacklist *blacklist.Service
	Scheduler *scheduler.Scheduler
	Queue     queue.Queue
	Progress  *progress.Broadcaster
	Gatherer  prometheus.Gatherer
	Health    *HealthChecker
}

// Handlers holds the dependencies shared by every handler.
type Handlers struct {
	campaigns *campaign.Service
	blacklist *blacklist.Service
	schedules *scheduler.Scheduler
	queue     queue.Queue
	progress  *progress.Broadcaster

	// heartbeat is the idle interval between SSE keep-alive comments.
	heartbeat time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		campaigns: d.Campaigns,
		blacklist: d.Blacklist,
		schedules: d.Scheduler,
		queue:     d.Queue,
		progress:  d.Progress,
		heartbeat: 15 * time.Second,
	}
}

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, d Deps) *Server {
	router := SetupRoutes(NewHandlers(d), d, cfg.AllowedOrigins)
	return &Server{
		config:  cfg,
		handler: router,
		router:  router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: the progress stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
