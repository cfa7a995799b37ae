package optimization

import (
	"context"
	"math"
	"time"
)

// DefaultDimension is used when OptimizerConfig.Dimension is zero.
const DefaultDimension = 2

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of iterations
	GetHistory() []Evaluation

	// Progress returns the fraction of the iteration budget consumed
	Progress() float64

	// Stop gracefully stops the optimization process
	Stop()
}

// LocalOptimizer refines a starting point by minimizing f. It is a black box:
// the returned point need not improve on x0 nor respect any bounds.
type LocalOptimizer interface {
	Minimize(ctx context.Context, f func([]float64) float64, x0 []float64) (*LocalResult, error)
}

// LocalResult is the outcome of one local refinement.
type LocalResult struct {
	X           []float64
	F           float64
	Converged   bool
	Evaluations int
}

// ObjectiveFunction defines the function to be optimized
type ObjectiveFunction func([]float64) (float64, error)

// Bounds is the sampling interval [Low, High) applied to every dimension.
type Bounds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Validate reports a configuration error unless Low < High and both are finite.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Low) || math.IsNaN(b.High) || math.IsInf(b.Low, 0) || math.IsInf(b.High, 0) {
		return NewConfigurationError("bounds must be finite, got [%v, %v)", b.Low, b.High).
			WithComponent("bounds")
	}
	if b.Low >= b.High {
		return NewConfigurationError("bounds low %v must be less than high %v", b.Low, b.High).
			WithComponent("bounds")
	}
	return nil
}

// Contains reports whether every coordinate of x lies in [Low, High).
func (b Bounds) Contains(x []float64) bool {
	for _, v := range x {
		if v < b.Low || v >= b.High {
			return false
		}
	}
	return true
}

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for random candidate draws, shared by all dimensions
	Bounds Bounds

	// Dimension of the search space; zero means DefaultDimension
	Dimension int

	// Threshold stops the run once the best value is strictly below it
	Threshold float64

	// BiasStart is the last iteration drawn without a pull toward the incumbent
	BiasStart int

	// Maximum number of iterations
	MaxIterations int

	// Random seed for reproducibility; zero seeds from the clock
	RandomSeed int64

	// Verbose logs every iteration at info level
	Verbose bool
}

// Validate checks the configuration and fills in defaults. It never
// evaluates the objective.
func (c *OptimizerConfig) Validate() error {
	if c.Objective == nil {
		return NewConfigurationError("objective function is required").WithComponent("config")
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if c.MaxIterations <= 0 {
		return NewConfigurationError("max iterations must be positive, got %d", c.MaxIterations).
			WithComponent("config")
	}
	if c.Dimension < 0 {
		return NewConfigurationError("dimension must be positive, got %d", c.Dimension).
			WithComponent("config")
	}
	if c.Dimension == 0 {
		c.Dimension = DefaultDimension
	}
	if c.BiasStart < 0 {
		return NewConfigurationError("bias start iteration must not be negative, got %d", c.BiasStart).
			WithComponent("config")
	}
	if math.IsNaN(c.Threshold) {
		return NewConfigurationError("threshold must not be NaN").WithComponent("config")
	}
	return nil
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
}

// Clone returns a deep copy of the solution.
func (s *Solution) Clone() *Solution {
	if s == nil {
		return nil
	}
	return &Solution{
		Parameters: append([]float64(nil), s.Parameters...),
		Value:      s.Value,
	}
}

// Evaluation records one iteration of a multistart run.
type Evaluation struct {
	Iteration int `json:"iteration"`
	// Start is the point handed to the local optimizer, after any pull
	// toward the incumbent.
	Start []float64 `json:"start"`
	// Chi is the cooling weight applied to the random draw; 1 when unbiased.
	Chi float64 `json:"chi"`
	// Solution is the refined point and its objective value.
	Solution *Solution `json:"solution"`
	// Converged reports whether the local optimizer signalled convergence.
	Converged bool `json:"converged"`
	// Improved reports whether this iteration replaced the incumbent.
	Improved bool `json:"improved"`
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	// Starts holds the starting point of every iteration, in order.
	Starts  [][]float64
	History []Evaluation
	// Trace holds the incumbent value after every iteration.
	Trace      []float64
	Iterations int
	// Evaluations counts objective calls, including those made by the
	// local optimizer.
	Evaluations int
	// Converged reports whether the threshold was reached.
	Converged bool
	Duration  time.Duration
}
