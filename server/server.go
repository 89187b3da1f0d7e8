// Package server is the HTTP and WebSocket surface over the engine: a thin
// chi router dispatching onto the orchestrator plus a gorilla-backed
// real-time event feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/metrics"
)

// Server hosts the REST routes and the WebSocket hub. It implements
// gamify.Runner so the engine starts it last and stops it first.
type Server struct {
	engine *gamify.Engine
	cfg    gamify.HTTPConfig
	wsCfg  gamify.WebSocketConfig
	logger gamify.Logger

	httpServer *http.Server
	hub        *Hub
	limiter    *ipLimiter
}

// New builds the server from the engine's configuration.
func New(engine *gamify.Engine) *Server {
	cfg := engine.Config()
	s := &Server{
		engine: engine,
		cfg:    cfg.HTTP,
		wsCfg:  cfg.WebSocket,
		logger: engine.Logger(),
	}
	if s.cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(s.cfg.RateLimit, s.cfg.RateBurst)
	}
	if s.wsCfg.Enabled {
		s.hub = newHub(engine, s.wsCfg, s.logger)
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = "/gamification"
	}

	r.Route(prefix, func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)
			if collector := s.engine.Metrics(); collector != nil {
				registry := prometheus.NewRegistry()
				registry.MustRegister(metrics.NewPrometheusBridge(collector))
				r.Method(http.MethodGet, "/metrics/prometheus",
					promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			}

			r.Get("/users/{userID}", s.handleUserStats)
			r.Get("/users/{userID}/{module}", s.handleUserModule)
			r.Get("/leaderboards/{period}", s.handleLeaderboard)
			r.Get("/leaderboards/{period}/user/{userID}", s.handleUserRank)
			r.Get("/badges", s.handleBadgeCatalog)
			r.Post("/events", s.handleTrack)
			r.Post("/admin/reset/{userID}", s.handleAdminReset)
			r.Post("/admin/award", s.handleAdminAward)

			if s.hub != nil {
				r.Get("/ws", s.hub.handleUpgrade)
			}
		})
	})
	return r
}

// Start implements gamify.Runner. The listener runs on its own goroutine;
// bind errors surface through the logger since ListenAndServe blocks.
func (s *Server) Start(ctx context.Context) error {
	if s.hub != nil {
		if err := s.hub.start(); err != nil {
			return err
		}
	}
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown implements gamify.Runner: stop accepting requests, then close
// every WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.hub != nil {
		s.hub.stop()
	}
	if s.limiter != nil {
		s.limiter.stop()
	}
	return err
}
