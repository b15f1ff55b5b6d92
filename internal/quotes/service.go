// Package quotes provides validated market quotes with ordered source
// fallback, an in-memory cache and per-symbol circuit breakers.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/reliability"
)

// ErrNoQuote is returned when every source failed and no cached fallback exists.
var ErrNoQuote = errors.New("no quote available")

// ErrBreakerOpen is returned when the symbol's circuit breaker rejects the fetch.
var ErrBreakerOpen = errors.New("quote circuit breaker open")

// Source is one ordered quote provider.
type Source interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// Config holds quote service tuning parameters.
type Config struct {
	MaxAge        time.Duration // Freshness window for cached quotes
	FetchTimeout  time.Duration // Per-source timeout
	UseStaleCache bool          // Serve stale cache when all sources fail
}

// Metrics counts quote service outcomes for telemetry.
type Metrics struct {
	FreshCacheHits uint64        `json:"fresh_cache_hits"`
	StaleCacheHits uint64        `json:"stale_cache_hits"`
	FetchSuccesses uint64        `json:"fetch_successes"`
	FetchFailures  uint64        `json:"fetch_failures"`
	MaxStaleAge    time.Duration `json:"max_stale_age"`
}

// Service serves validated quotes. Fetch order: fresh cache, then each
// source in configured order, then stale cache as a last resort. Stale
// cache hits do not count as breaker failures; the breaker only trips
// when a symbol has no fallback left at all.
type Service struct {
	sources  []Source
	config   Config
	breakers *reliability.BreakerRegistry
	log      zerolog.Logger

	mu       sync.RWMutex
	cache    map[string]domain.Quote
	sequence uint64
	metrics  Metrics
	now      func() time.Time // Injectable clock for tests
}

// NewService creates a quote service over the given ordered sources.
func NewService(sources []Source, cfg Config, breakers *reliability.BreakerRegistry, log zerolog.Logger) *Service {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}

	return &Service{
		sources:  sources,
		config:   cfg,
		breakers: breakers,
		log:      log.With().Str("service", "quotes").Logger(),
		cache:    make(map[string]domain.Quote),
		now:      time.Now,
	}
}

// GetQuote returns a validated quote for the symbol, preferring the
// freshest available data.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	now := s.now()

	// Fresh cache first
	if cached, ok := s.cachedQuote(symbol); ok && cached.Age(now) <= s.config.MaxAge {
		s.mu.Lock()
		s.metrics.FreshCacheHits++
		s.mu.Unlock()
		return &cached, nil
	}

	breaker := s.breakers.Get("quotes:" + symbol)
	if !breaker.CanProceed() {
		if quote, ok := s.staleFallback(symbol, now); ok {
			return quote, nil
		}
		return nil, fmt.Errorf("%w for %s", ErrBreakerOpen, symbol)
	}

	// Ordered source fallback
	for _, source := range s.sources {
		quote, err := s.fetchFromSource(ctx, source, symbol)
		if err != nil {
			s.log.Debug().
				Err(err).
				Str("symbol", symbol).
				Str("source", source.Name()).
				Msg("Source fetch failed")
			continue
		}

		s.storeQuote(*quote)
		breaker.RecordSuccess()

		s.mu.Lock()
		s.metrics.FetchSuccesses++
		quote.Sequence = s.sequence
		s.mu.Unlock()

		return quote, nil
	}

	// All sources failed
	s.mu.Lock()
	s.metrics.FetchFailures++
	s.mu.Unlock()

	if quote, ok := s.staleFallback(symbol, now); ok {
		// A usable fallback exists, so this is degradation rather than
		// an outage and the breaker stays untouched.
		return quote, nil
	}

	breaker.RecordFailure()
	return nil, fmt.Errorf("%w for %s: all sources failed", ErrNoQuote, symbol)
}

// HandleStreamQuote ingests a quote pushed by the live stream.
func (s *Service) HandleStreamQuote(quote domain.Quote) {
	if quote.Price <= 0 || quote.Symbol == "" {
		return
	}
	s.storeQuote(quote)
}

// Snapshot returns current metrics for the status server.
func (s *Service) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// fetchFromSource fetches one quote with the per-source timeout applied.
func (s *Service) fetchFromSource(ctx context.Context, source Source, symbol string) (*domain.Quote, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	quote, err := source.FetchQuote(fetchCtx, symbol)
	if err != nil {
		return nil, err
	}
	if quote.Price <= 0 {
		return nil, fmt.Errorf("source %s returned invalid price %f", source.Name(), quote.Price)
	}
	return quote, nil
}

// staleFallback serves the cached quote past its freshness window when
// configured to do so.
func (s *Service) staleFallback(symbol string, now time.Time) (*domain.Quote, bool) {
	if !s.config.UseStaleCache {
		return nil, false
	}

	cached, ok := s.cachedQuote(symbol)
	if !ok {
		return nil, false
	}

	age := cached.Age(now)

	s.mu.Lock()
	s.metrics.StaleCacheHits++
	if age > s.metrics.MaxStaleAge {
		s.metrics.MaxStaleAge = age
	}
	s.mu.Unlock()

	s.log.Warn().
		Str("symbol", symbol).
		Dur("age", age).
		Msg("Serving stale cached quote")

	stale := cached
	stale.Stale = true
	return &stale, true
}

func (s *Service) cachedQuote(symbol string) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.cache[symbol]
	return cached, ok
}

func (s *Service) storeQuote(quote domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	quote.Sequence = s.sequence
	quote.Stale = false
	s.cache[quote.Symbol] = quote
}
