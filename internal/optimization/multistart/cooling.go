package multistart

import "math"

// coolingScale controls how fast the pull toward the incumbent grows.
const coolingScale = 100.0

// Biased reports whether iteration k pulls its draw toward the incumbent.
// Iteration biasStart itself is still a pure draw.
func Biased(k, biasStart int) bool {
	return k > biasStart
}

// CoolingWeight returns the share of the random draw kept at iteration k:
//
//	chi_k = 0.5 * (2 / (1 + exp((k - biasStart) / 100)))
//
// It is 0.5 at k == biasStart and decays toward 0 afterwards.
func CoolingWeight(k, biasStart int) float64 {
	return 0.5 * (2 / (1 + math.Exp(float64(k-biasStart)/coolingScale)))
}
