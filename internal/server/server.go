// Package server exposes the engine over HTTP per spec.md §6's endpoint
// table, following the chi-router-plus-middleware shape of trader-go's
// internal/server/server.go: panic recovery, request IDs, real-IP,
// structured request logging, a request timeout, permissive CORS and
// response compression.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/engine"
)

// Config holds the settings New needs to build a Server.
type Config struct {
	Port    int
	Log     zerolog.Logger
	Engine  *engine.Engine
	DevMode bool
}

// Server is the HTTP front end over one Engine.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	engine *engine.Engine
}

// New builds a Server with routes and middleware wired, but not started.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		engine: cfg.Engine,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/expr", func(r chi.Router) {
		r.Post("/series", s.handleExprSeries)
		r.Post("/chart", s.handleExprChart)
		r.Post("/ma", s.handleExprMA)
		r.Post("/bollinger", s.handleExprBollinger)
		r.Post("/rsi", s.handleExprRSI)
		r.Post("/drawdown", s.handleExprDrawdown)
		r.Post("/sharpe", s.handleExprSharpe)
		r.Post("/zscore", s.handleExprZScore)
		r.Post("/corr", s.handleExprCorr)
		r.Post("/seasonality/years", s.handleSeasonalityYears)
		r.Post("/seasonality/heatmap", s.handleSeasonalityHeatmap)
		r.Post("/pack", s.handleExprPack)
	})

	s.router.Route("/data", func(r chi.Router) {
		r.Post("/ohlcv", s.handleDataOHLCV)
	})
}

// Start serves until the process is told to stop.
func (s *Server) Start() error {
	s.log.Info().Int("port", portOf(s.server.Addr)).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func portOf(addr string) int {
	var p int
	fmt.Sscanf(addr, ":%d", &p)
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connected":   s.engine.Session.Connected(),
		"coordinator": s.engine.Coordinator.Stats(),
		"cache":       s.engine.Cache.Stats(),
		"engine":      collectDiagnostics(),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
