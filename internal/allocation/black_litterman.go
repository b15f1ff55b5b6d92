package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/pkg/formulas"
)

// BlackLittermanConfig holds the model parameters and the post-solve
// weight clamps.
type BlackLittermanConfig struct {
	RiskAversion   float64 // delta
	Tau            float64
	ViewCount      int
	ViewConfidence float64
	MinWeight      float64
	MaxWeight      float64
	MinCycles      int
}

// DefaultBlackLittermanConfig returns the production parameters.
func DefaultBlackLittermanConfig() BlackLittermanConfig {
	return BlackLittermanConfig{
		RiskAversion:   3.0,
		Tau:            0.05,
		ViewCount:      3,
		ViewConfidence: 0.3,
		MinWeight:      0.05,
		MaxWeight:      0.40,
		MinCycles:      20,
	}
}

// BlackLitterman blends an equal-weight equilibrium with views favoring
// the strategies with the best trailing Sharpe. The posterior expected
// returns are converted back to weights and clamped so no strategy is
// starved or dominant.
type BlackLitterman struct {
	cfg BlackLittermanConfig
	log zerolog.Logger
}

// NewBlackLitterman creates the allocator.
func NewBlackLitterman(cfg BlackLittermanConfig, log zerolog.Logger) *BlackLitterman {
	return &BlackLitterman{
		cfg: cfg,
		log: log.With().Str("component", "black_litterman").Logger(),
	}
}

// Name implements Allocator.
func (b *BlackLitterman) Name() string { return "black_litterman" }

// Allocate implements Allocator. It declines when the return history is
// too short for a covariance estimate.
func (b *BlackLitterman) Allocate(inputs Inputs) (domain.AllocationVector, error) {
	n := len(inputs.StrategyIDs)
	if n < 2 {
		return domain.AllocationVector{}, fmt.Errorf("need at least 2 strategies, have %d", n)
	}

	series := make([][]float64, 0, n)
	for _, id := range inputs.StrategyIDs {
		s := inputs.Returns[id]
		if len(s) < b.cfg.MinCycles {
			return domain.AllocationVector{}, fmt.Errorf("insufficient return history for %s: %d cycles, need %d",
				id, len(s), b.cfg.MinCycles)
		}
		series = append(series, s)
	}

	sigma, err := formulas.CovarianceMatrix(series)
	if err != nil {
		return domain.AllocationVector{}, fmt.Errorf("failed to build covariance matrix: %w", err)
	}

	raw, err := b.posteriorWeights(inputs, sigma, n)
	if err != nil {
		return domain.AllocationVector{}, err
	}

	weights := make(map[string]float64, n)
	for i, id := range inputs.StrategyIDs {
		weights[id] = raw[i]
	}
	b.clampAndRenormalize(weights)

	return domain.AllocationVector{Weights: weights}, nil
}

func (b *BlackLitterman) posteriorWeights(inputs Inputs, sigma *mat.SymDense, n int) ([]float64, error) {
	// Equilibrium returns from equal market weights: Pi = delta * Sigma * w
	wEq := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		wEq.SetVec(i, 1/float64(n))
	}
	pi := mat.NewVecDense(n, nil)
	pi.MulVec(sigma, wEq)
	pi.ScaleVec(b.cfg.RiskAversion, pi)

	views := b.selectViews(inputs)
	posterior := pi

	if len(views) > 0 {
		var err error
		posterior, err = b.applyViews(pi, sigma, views, inputs.StrategyIDs, n)
		if err != nil {
			return nil, err
		}
	}

	// Back out weights: w = (delta * Sigma)^-1 * posterior
	scaled := mat.NewDense(n, n, nil)
	scaled.Scale(b.cfg.RiskAversion, sigma)
	inv, err := formulas.PseudoInverse(scaled)
	if err != nil {
		return nil, fmt.Errorf("failed to invert scaled covariance: %w", err)
	}

	w := mat.NewVecDense(n, nil)
	w.MulVec(inv, posterior)

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = w.AtVec(i)
	}
	return raw, nil
}

// selectViews returns the indexes of the top trailing-Sharpe strategies.
func (b *BlackLitterman) selectViews(inputs Inputs) []int {
	type ranked struct {
		index  int
		sharpe float64
	}

	candidates := make([]ranked, 0, len(inputs.StrategyIDs))
	for i, id := range inputs.StrategyIDs {
		sharpe := inputs.States[id].Sharpe
		if sharpe > 0 {
			candidates = append(candidates, ranked{index: i, sharpe: sharpe})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sharpe != candidates[j].sharpe {
			return candidates[i].sharpe > candidates[j].sharpe
		}
		return candidates[i].index < candidates[j].index
	})

	count := b.cfg.ViewCount
	if count > len(candidates) {
		count = len(candidates)
	}

	views := make([]int, count)
	for i := 0; i < count; i++ {
		views[i] = candidates[i].index
	}
	return views
}

// applyViews computes the posterior expected returns:
// E[R] = Pi + tau*Sigma*P' * (P*tau*Sigma*P' + Omega)^-1 * (Q - P*Pi)
func (b *BlackLitterman) applyViews(pi *mat.VecDense, sigma *mat.SymDense, views []int, strategyIDs []string, n int) (*mat.VecDense, error) {
	k := len(views)

	p := mat.NewDense(k, n, nil)
	q := mat.NewVecDense(k, nil)
	for v, idx := range views {
		p.Set(v, idx, 1)
		// Each view: the favored strategy outperforms its equilibrium
		// return by a tenth of its own volatility.
		q.SetVec(v, pi.AtVec(idx)+0.1*math.Sqrt(sigma.At(idx, idx)))
	}

	// tau * Sigma
	tauSigma := mat.NewDense(n, n, nil)
	tauSigma.Scale(b.cfg.Tau, sigma)

	// P * tauSigma * P'
	var pts, ptsp mat.Dense
	pts.Mul(p, tauSigma)
	ptsp.Mul(&pts, p.T())

	// Omega: diagonal uncertainty scaled by confidence. Higher
	// confidence means smaller Omega and a stronger view.
	omega := mat.NewDense(k, k, nil)
	scale := (1 - b.cfg.ViewConfidence) / b.cfg.ViewConfidence
	for v := 0; v < k; v++ {
		omega.Set(v, v, ptsp.At(v, v)*scale)
	}

	var sum mat.Dense
	sum.Add(&ptsp, omega)
	inv, err := formulas.PseudoInverse(&sum)
	if err != nil {
		return nil, fmt.Errorf("failed to invert view matrix: %w", err)
	}

	// Q - P*Pi
	diff := mat.NewVecDense(k, nil)
	diff.MulVec(p, pi)
	diff.SubVec(q, diff)

	// tauSigma * P' * inv * diff
	var tsp mat.Dense
	tsp.Mul(tauSigma, p.T())

	adj := mat.NewVecDense(k, nil)
	adj.MulVec(inv, diff)

	update := mat.NewVecDense(n, nil)
	update.MulVec(&tsp, adj)

	posterior := mat.NewVecDense(n, nil)
	posterior.AddVec(pi, update)
	return posterior, nil
}

// clampAndRenormalize floors negatives at zero, normalizes, then pins
// every weight into [MinWeight, MaxWeight] and redistributes the
// remainder until the vector sums to 1.
func (b *BlackLitterman) clampAndRenormalize(weights map[string]float64) {
	for id, w := range weights {
		if w < 0 || math.IsNaN(w) {
			weights[id] = 0
		}
	}
	if !normalize(weights) {
		for id := range weights {
			weights[id] = 1 / float64(len(weights))
		}
		return
	}

	for iter := 0; iter < 16; iter++ {
		for id, w := range weights {
			if w < b.cfg.MinWeight {
				weights[id] = b.cfg.MinWeight
			} else if w > b.cfg.MaxWeight {
				weights[id] = b.cfg.MaxWeight
			}
		}

		sum := 0.0
		for _, w := range weights {
			sum += w
		}
		if math.Abs(sum-1) <= weightSumTolerance {
			return
		}
		for id := range weights {
			weights[id] /= sum
		}
	}
}
