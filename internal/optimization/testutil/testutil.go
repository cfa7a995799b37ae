// Package testutil holds fakes and objectives shared by optimization tests.
package testutil

import (
	"context"
	"math"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// ScriptedSampler replays a fixed list of draws, cycling when exhausted.
// Draws shorter than dst are repeated coordinate-wise.
type ScriptedSampler struct {
	Draws [][]float64
	calls int
}

// Sample copies the next scripted draw into dst, ignoring the bounds.
func (s *ScriptedSampler) Sample(dst []float64, low, high float64) {
	draw := s.Draws[s.calls%len(s.Draws)]
	s.calls++
	for i := range dst {
		dst[i] = draw[i%len(draw)]
	}
}

// Calls returns the number of draws served.
func (s *ScriptedSampler) Calls() int {
	return s.calls
}

// SnapOptimizer stands in for a local optimizer on objectives whose local
// minima sit on the integer lattice: it rounds every coordinate. It is
// stateless and safe for concurrent use.
type SnapOptimizer struct{}

// Minimize implements optimization.LocalOptimizer.
func (SnapOptimizer) Minimize(ctx context.Context, f func([]float64) float64, x0 []float64) (*optimization.LocalResult, error) {
	x := make([]float64, len(x0))
	for i, v := range x0 {
		x[i] = math.Round(v)
	}
	return &optimization.LocalResult{X: x, F: f(x), Converged: true, Evaluations: 1}, nil
}

// IdentityOptimizer returns the starting point unchanged and reports no
// convergence, like a local optimizer that gave up immediately.
type IdentityOptimizer struct{}

// Minimize implements optimization.LocalOptimizer.
func (IdentityOptimizer) Minimize(ctx context.Context, f func([]float64) float64, x0 []float64) (*optimization.LocalResult, error) {
	x := append([]float64(nil), x0...)
	return &optimization.LocalResult{X: x, F: f(x), Converged: false, Evaluations: 1}, nil
}

// LatticeObjective has local minima near every integer coordinate and its
// global minimum 0 at the origin. At integer points it equals sum(x_i^2)/100.
func LatticeObjective(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v*v/100 + 1 - math.Cos(2*math.Pi*v)
	}
	return sum, nil
}
