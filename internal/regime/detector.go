// Package regime derives market regime features from the benchmark
// price series. The features feed the RL state vector and are exposed
// on the status server.
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/pkg/formulas"
)

// Features is the four-dimensional regime descriptor, every component
// bounded so the RL state stays well scaled.
type Features struct {
	BullBear      float64 `json:"bull_bear"`      // [-1, 1], price vs long moving average
	SharpeRegime  float64 `json:"sharpe_regime"`  // [-1, 1], squashed rolling Sharpe
	Stability     float64 `json:"stability"`      // [0, 1], inverse of realized volatility
	TrendStrength float64 `json:"trend_strength"` // [0, 1], normalized regression slope
}

// Vector returns the features in canonical order.
func (f Features) Vector() []float64 {
	return []float64{f.BullBear, f.SharpeRegime, f.Stability, f.TrendStrength}
}

// Detector computes and caches regime features. Detection runs on the
// execution loop's cadence; readers (RL allocator, status server) get
// the cached copy.
type Detector struct {
	longPeriod int
	log        zerolog.Logger

	mu         sync.RWMutex
	current    Features
	detectedAt time.Time
}

// NewDetector creates a regime detector with a 50-bar long average.
func NewDetector(log zerolog.Logger) *Detector {
	return &Detector{
		longPeriod: 50,
		log:        log.With().Str("component", "regime_detector").Logger(),
	}
}

// Update recomputes features from the benchmark series and caches them.
// Short series leave the previous features in place.
func (d *Detector) Update(closes []float64) Features {
	if len(closes) < d.longPeriod {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.current
	}

	features := Features{
		BullBear:      d.bullBear(closes),
		SharpeRegime:  d.sharpeRegime(closes),
		Stability:     d.stability(closes),
		TrendStrength: d.trendStrength(closes),
	}

	d.mu.Lock()
	d.current = features
	d.detectedAt = time.Now()
	d.mu.Unlock()

	d.log.Debug().
		Float64("bull_bear", features.BullBear).
		Float64("stability", features.Stability).
		Msg("Regime updated")

	return features
}

// Current returns the cached features.
func (d *Detector) Current() Features {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// bullBear measures the distance of price from its long moving average,
// saturating at ±5%.
func (d *Detector) bullBear(closes []float64) float64 {
	longSMA := formulas.Mean(closes[len(closes)-d.longPeriod:])
	if longSMA <= 0 {
		return 0
	}

	distance := (closes[len(closes)-1] - longSMA) / longSMA
	return clamp(distance*20, -1, 1)
}

// sharpeRegime squashes the rolling Sharpe of the last longPeriod bars
// into [-1, 1].
func (d *Detector) sharpeRegime(closes []float64) float64 {
	returns := formulas.CalculateReturns(closes[len(closes)-d.longPeriod:])
	sharpe := formulas.CalculateSharpeRatio(returns, 0, 252)
	if sharpe == nil {
		return 0
	}
	return math.Tanh(*sharpe / 2)
}

// stability maps realized annualized volatility into [0, 1], where 1 is
// a very quiet market.
func (d *Detector) stability(closes []float64) float64 {
	returns := formulas.CalculateReturns(closes[len(closes)-d.longPeriod:])
	vol := formulas.AnnualizedVolatility(returns)
	return clamp(1-vol/0.5, 0, 1)
}

// trendStrength normalizes the regression slope of the window by its
// mean price level.
func (d *Detector) trendStrength(closes []float64) float64 {
	window := closes[len(closes)-d.longPeriod:]
	mean := formulas.Mean(window)
	if mean <= 0 {
		return 0
	}

	slope := formulas.LinearSlope(window)
	return clamp(math.Abs(slope)/mean*200, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
