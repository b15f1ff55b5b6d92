package formulas

// KellyFraction calculates the Kelly criterion betting fraction.
//
// Kelly Formula:
//
//	f* = W - (1 - W) / R
//
// where W is the historical win rate and R is the reward/risk ratio
// (average win divided by average loss). A negative result means the
// edge is negative and the caller should not size the position at all.
//
// Args:
//
//	winRate: Fraction of winning trades, in [0, 1]
//	rewardRisk: Average win / average loss, must be > 0
//
// Returns:
//
//	Raw Kelly fraction (may be negative) and ok=false when the inputs
//	make the formula undefined.
func KellyFraction(winRate, rewardRisk float64) (float64, bool) {
	if winRate < 0 || winRate > 1 || rewardRisk <= 0 {
		return 0, false
	}
	return winRate - (1-winRate)/rewardRisk, true
}

// Clamp bounds v to the inclusive range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
