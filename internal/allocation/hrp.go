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

// Linkage selects how cluster distances are combined while building the
// dendrogram.
type Linkage string

const (
	LinkageWard     Linkage = "ward"
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// hrpMinCycles is the minimum aligned history length before correlation
// estimates are trusted.
const hrpMinCycles = 20

// HRP allocates by hierarchical risk parity: cluster strategies by
// return correlation, order them quasi-diagonally and split risk
// top-down with inverse-variance bisection. It needs no expected-return
// estimates, only the covariance structure.
type HRP struct {
	linkage   Linkage
	minCycles int
	log       zerolog.Logger
}

// NewHRP creates the allocator with Ward linkage.
func NewHRP(log zerolog.Logger) *HRP {
	return &HRP{
		linkage:   LinkageWard,
		minCycles: hrpMinCycles,
		log:       log.With().Str("component", "hrp").Logger(),
	}
}

// Name implements Allocator.
func (h *HRP) Name() string { return "hrp" }

// Allocate implements Allocator. It declines when the aligned return
// history is too short to estimate correlations.
func (h *HRP) Allocate(inputs Inputs) (domain.AllocationVector, error) {
	series := make([][]float64, 0, len(inputs.StrategyIDs))
	for _, id := range inputs.StrategyIDs {
		s := inputs.Returns[id]
		if len(s) < h.minCycles {
			return domain.AllocationVector{}, fmt.Errorf("insufficient return history for %s: %d cycles, need %d",
				id, len(s), h.minCycles)
		}
		series = append(series, s)
	}

	if len(series) == 1 {
		return domain.AllocationVector{
			Weights: map[string]float64{inputs.StrategyIDs[0]: 1},
		}, nil
	}

	raw, err := h.computeWeights(series)
	if err != nil {
		return domain.AllocationVector{}, err
	}

	weights := make(map[string]float64, len(inputs.StrategyIDs))
	for i, id := range inputs.StrategyIDs {
		weights[id] = raw[i]
	}

	return domain.AllocationVector{Weights: weights}, nil
}

func (h *HRP) computeWeights(series [][]float64) ([]float64, error) {
	corr, err := formulas.CorrelationMatrix(series)
	if err != nil {
		return nil, fmt.Errorf("failed to build correlation matrix: %w", err)
	}
	cov, err := formulas.CovarianceMatrix(series)
	if err != nil {
		return nil, fmt.Errorf("failed to build covariance matrix: %w", err)
	}

	n := len(series)
	dist := correlationDistance(corr, n)

	root := buildDendrogram(dist, n, h.linkage)
	order := quasiDiagonalOrder(root)

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	recursiveBisection(weights, order, cov)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) {
		return nil, fmt.Errorf("bisection produced degenerate weights")
	}
	for i := range weights {
		weights[i] /= sum
	}

	return weights, nil
}

// correlationDistance maps correlation to a metric: perfectly correlated
// strategies are distance 0, anti-correlated ones are furthest apart.
func correlationDistance(corr *mat.SymDense, n int) [][]float64 {
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := 2 * (1 - corr.At(i, j))
			if d < 0 {
				d = 0
			}
			dist[i][j] = math.Sqrt(d)
		}
	}
	return dist
}

// clusterNode is a dendrogram node. Leaves hold a single strategy
// index; internal nodes hold the merge of their children.
type clusterNode struct {
	left    *clusterNode
	right   *clusterNode
	leaves  []int
	minLeaf int
}

// buildDendrogram runs agglomerative clustering: repeatedly merge the
// closest pair, maintaining cluster distances with the Lance-Williams
// update. Ties break deterministically on the smaller minLeaf pair so
// the same inputs always produce the same tree.
func buildDendrogram(dist [][]float64, n int, linkage Linkage) *clusterNode {
	clusters := make([]*clusterNode, n)
	for i := 0; i < n; i++ {
		clusters[i] = &clusterNode{leaves: []int{i}, minLeaf: i}
	}

	// cd[i][j] is the current distance between clusters[i] and
	// clusters[j]; initially the leaf distance matrix.
	cd := make([][]float64, n)
	for i := range cd {
		cd[i] = append([]float64{}, dist[i]...)
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestDist := math.Inf(1)

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := cd[i][j]
				if d < bestDist || (d == bestDist && clusterPairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestDist = d
					bestI, bestJ = i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}

		merged := &clusterNode{
			left:    left,
			right:   right,
			leaves:  append(append([]int{}, left.leaves...), right.leaves...),
			minLeaf: left.minLeaf,
		}

		survivors := make([]int, 0, len(clusters)-2)
		for k := range clusters {
			if k != bestI && k != bestJ {
				survivors = append(survivors, k)
			}
		}

		m := len(survivors) + 1
		nextCD := make([][]float64, m)
		for a := range nextCD {
			nextCD[a] = make([]float64, m)
		}
		for a, ka := range survivors {
			for b, kb := range survivors {
				nextCD[a][b] = cd[ka][kb]
			}
		}
		for a, ka := range survivors {
			d := lanceWilliams(linkage, cd[bestI][bestJ], cd[bestI][ka], cd[bestJ][ka],
				len(clusters[bestI].leaves), len(clusters[bestJ].leaves), len(clusters[ka].leaves))
			nextCD[a][m-1] = d
			nextCD[m-1][a] = d
		}

		next := make([]*clusterNode, 0, m)
		for _, k := range survivors {
			next = append(next, clusters[k])
		}
		clusters = append(next, merged)
		cd = nextCD
	}

	return clusters[0]
}

func clusterPairLess(a1, a2, b1, b2 *clusterNode) bool {
	aMin, aMax := orderedPair(a1.minLeaf, a2.minLeaf)
	bMin, bMax := orderedPair(b1.minLeaf, b2.minLeaf)
	if aMin != bMin {
		return aMin < bMin
	}
	return aMax < bMax
}

func orderedPair(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

// lanceWilliams computes the distance from a freshly merged cluster
// (i joined with j, sizes ni and nj) to another cluster k of size nk,
// using only the pre-merge pairwise distances.
func lanceWilliams(linkage Linkage, dij, dik, djk float64, ni, nj, nk int) float64 {
	switch linkage {
	case LinkageSingle:
		return math.Min(dik, djk)
	case LinkageComplete:
		return math.Max(dik, djk)
	case LinkageAverage:
		return (float64(ni)*dik + float64(nj)*djk) / float64(ni+nj)
	default: // ward
		fi, fj, fk := float64(ni), float64(nj), float64(nk)
		d2 := ((fi+fk)*dik*dik + (fj+fk)*djk*djk - fk*dij*dij) / (fi + fj + fk)
		if d2 < 0 {
			d2 = 0
		}
		return math.Sqrt(d2)
	}
}

// quasiDiagonalOrder flattens the dendrogram left to right, placing
// correlated strategies next to each other.
func quasiDiagonalOrder(node *clusterNode) []int {
	if node.left == nil {
		return node.leaves
	}
	return append(quasiDiagonalOrder(node.left), quasiDiagonalOrder(node.right)...)
}

// recursiveBisection splits the ordered strategies in half and assigns
// each half a share inversely proportional to its cluster variance.
func recursiveBisection(weights []float64, order []int, cov *mat.SymDense) {
	if len(order) <= 1 {
		return
	}

	mid := len(order) / 2
	left, right := order[:mid], order[mid:]

	vLeft := clusterVariance(left, cov)
	vRight := clusterVariance(right, cov)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1 - vLeft/(vLeft+vRight)
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1 - alpha
	}

	recursiveBisection(weights, left, cov)
	recursiveBisection(weights, right, cov)
}

// clusterVariance is w^T Sigma w with inverse-variance weights inside
// the cluster.
func clusterVariance(cluster []int, cov *mat.SymDense) float64 {
	const eps = 1e-12

	ivp := make([]float64, len(cluster))
	sum := 0.0
	for k, i := range cluster {
		v := cov.At(i, i)
		if v < eps {
			v = eps
		}
		ivp[k] = 1 / v
		sum += ivp[k]
	}
	for k := range ivp {
		ivp[k] /= sum
	}

	variance := 0.0
	for a, i := range cluster {
		for b, j := range cluster {
			variance += ivp[a] * ivp[b] * cov.At(i, j)
		}
	}
	return variance
}

// sortedLeaves is used by tests to inspect dendrogram determinism.
func sortedLeaves(node *clusterNode) []int {
	leaves := append([]int{}, node.leaves...)
	sort.Ints(leaves)
	return leaves
}
