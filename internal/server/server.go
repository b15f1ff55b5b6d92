// Package server exposes the read-only status API for the trader.
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

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/quotes"
	"github.com/neolight/smarttrader/internal/reliability"
)

// AllocationSource exposes the execution loop's current allocation.
type AllocationSource interface {
	Allocation() domain.AllocationVector
	CycleCount() int64
}

// PortfolioSource exposes the paper broker's book.
type PortfolioSource interface {
	Cash() float64
	Positions() []domain.Position
}

// QuoteMetricsSource exposes the quote service counters.
type QuoteMetricsSource interface {
	Snapshot() quotes.Metrics
}

// BreakerSource exposes circuit breaker telemetry.
type BreakerSource interface {
	Snapshot() []reliability.BreakerInfo
}

// TradeSource reads recent fills from the ledger.
type TradeSource interface {
	GetHistory(limit int) ([]domain.Trade, error)
}

// Config holds the server's dependencies and port.
type Config struct {
	Port      int
	DataDir   string
	Loop      AllocationSource
	Portfolio PortfolioSource
	Quotes    QuoteMetricsSource
	Breakers  BreakerSource
	Trades    TradeSource
	Log       zerolog.Logger
}

// Server is the HTTP status server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	handlers *Handlers
	log      zerolog.Logger
}

// New creates the server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		handlers: NewHandlers(cfg, cfg.Log),
		log:      cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/allocation/current", s.handlers.HandleCurrentAllocation)
		r.Get("/breakers", s.handlers.HandleBreakers)
		r.Get("/quotes/metrics", s.handlers.HandleQuoteMetrics)
		r.Get("/trades/recent", s.handlers.HandleRecentTrades)
		r.Get("/portfolio", s.handlers.HandlePortfolio)
		r.Get("/system", s.handlers.HandleSystem)
	})
}

// Router returns the configured router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting status server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down status server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs every request with its status and duration.
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
