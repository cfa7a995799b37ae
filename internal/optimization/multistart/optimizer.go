// Package multistart implements a global minimizer that combines uniform
// random restarts with an annealed pull toward the best point found so far,
// refining every restart with a local optimizer.
package multistart

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/multistart/internal/optimization"
	"github.com/copyleftdev/multistart/internal/optimization/local"
)

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use when shared between runs.
type Recorder interface {
	ObserveIteration(improved, localConverged bool)
	ObserveRun(result *optimization.OptimizationResult, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIteration(bool, bool)                        {}
func (nopRecorder) ObserveRun(*optimization.OptimizationResult, error) {}

// Optimizer implements optimization.Optimizer.
type Optimizer struct {
	// Configuration
	config optimization.OptimizerConfig

	// Collaborators
	local      optimization.LocalOptimizer
	sampler    Sampler
	newSampler SamplerFactory
	logger     *zap.Logger
	recorder   Recorder

	// Run state, readable while Optimize is running
	mu         sync.RWMutex
	best       *optimization.Solution
	history    []optimization.Evaluation
	iterations int
	cancel     context.CancelFunc
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLocalOptimizer sets the refinement step. The default is BFGS.
func WithLocalOptimizer(l optimization.LocalOptimizer) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.local = l
		}
	}
}

// WithSampler sets the random source. The default is a UniformSampler
// seeded with the config's RandomSeed.
func WithSampler(s Sampler) Option {
	return func(o *Optimizer) {
		if s != nil {
			o.sampler = s
		}
	}
}

// WithSamplerFactory builds the sampler from the config's RandomSeed when
// no sampler is set explicitly. RunBatch calls it once per run.
func WithSamplerFactory(f SamplerFactory) Option {
	return func(o *Optimizer) {
		if f != nil {
			o.newSampler = f
		}
	}
}

// withoutSampler drops a sampler set by earlier options.
func withoutSampler() Option {
	return func(o *Optimizer) {
		o.sampler = nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger.Named("multistart")
		}
	}
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) {
		if r != nil {
			o.recorder = r
		}
	}
}

// NewOptimizer validates config and creates an optimizer. Invalid
// parameters fail here with a configuration error.
func NewOptimizer(config optimization.OptimizerConfig, opts ...Option) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &Optimizer{
		config:   config,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.local == nil {
		o.local = local.NewBFGS(local.WithLogger(o.logger))
	}
	if o.sampler == nil && o.newSampler != nil {
		o.sampler = o.newSampler(config.RandomSeed)
	}
	if o.sampler == nil {
		o.sampler = NewUniformSampler(config.RandomSeed)
	}
	return o, nil
}

// Search runs a single multistart search. It is shorthand for NewOptimizer
// followed by Optimize.
func Search(ctx context.Context, config optimization.OptimizerConfig, opts ...Option) (*optimization.OptimizationResult, error) {
	o, err := NewOptimizer(config, opts...)
	if err != nil {
		return nil, err
	}
	return o.Optimize(ctx)
}

// Config returns the validated configuration.
func (o *Optimizer) Config() optimization.OptimizerConfig {
	return o.config
}

// Optimize runs the search. It returns as soon as the best value drops
// strictly below the threshold, otherwise after MaxIterations iterations;
// both exits return the same best-effort result.
func (o *Optimizer) Optimize(ctx context.Context) (*optimization.OptimizationResult, error) {
	const op = "Optimize"

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.reset(cancel)

	cfg := o.config
	started := time.Now()
	capacity := cfg.MaxIterations
	if capacity > 1024 {
		capacity = 1024
	}
	result := &optimization.OptimizationResult{
		Starts:  make([][]float64, 0, capacity),
		History: make([]optimization.Evaluation, 0, capacity),
		Trace:   make([]float64, 0, capacity),
	}
	obj := &countingObjective{fn: cfg.Objective}

	o.logger.Info("Starting multistart search",
		zap.Int("dimension", cfg.Dimension),
		zap.Float64("low", cfg.Bounds.Low),
		zap.Float64("high", cfg.Bounds.High),
		zap.Float64("threshold", cfg.Threshold),
		zap.Int("bias_start", cfg.BiasStart),
		zap.Int("max_iterations", cfg.MaxIterations),
	)

	var best *optimization.Solution
	draw := make([]float64, cfg.Dimension)

	for k := 0; k < cfg.MaxIterations; k++ {
		if err := ctx.Err(); err != nil {
			o.recorder.ObserveRun(nil, err)
			return nil, err
		}

		o.sampler.Sample(draw, cfg.Bounds.Low, cfg.Bounds.High)

		start := make([]float64, cfg.Dimension)
		chi := 1.0
		if Biased(k, cfg.BiasStart) {
			chi = CoolingWeight(k, cfg.BiasStart)
			floats.ScaleTo(start, chi, draw)
			floats.AddScaled(start, 1-chi, best.Parameters)
		} else {
			copy(start, draw)
		}
		result.Starts = append(result.Starts, start)

		refined, err := o.local.Minimize(ctx, obj.local, start)
		if err == nil {
			err = obj.err
		}
		if err != nil {
			if ctx.Err() == nil {
				err = optimization.WrapErrorf(err, "local optimization failed at iteration %d", k).
					WithComponent("multistart").WithOperation(op)
			}
			o.recorder.ObserveRun(nil, err)
			return nil, err
		}
		if refined == nil || len(refined.X) != cfg.Dimension {
			err := optimization.NewErrorf("local optimizer returned an invalid point at iteration %d", k).
				WithComponent("multistart").WithOperation(op)
			o.recorder.ObserveRun(nil, err)
			return nil, err
		}

		value, err := obj.evaluate(refined.X)
		if err != nil {
			err = optimization.WrapErrorf(err, "objective failed at iteration %d", k).
				WithComponent("multistart").WithOperation(op)
			o.recorder.ObserveRun(nil, err)
			return nil, err
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			err := optimization.NewNumericalError("objective returned %v at iteration %d", value, k).
				WithComponent("multistart").WithOperation(op)
			o.recorder.ObserveRun(nil, err)
			return nil, err
		}

		improved := best == nil || value < best.Value
		if improved {
			best = &optimization.Solution{
				Parameters: append([]float64(nil), refined.X...),
				Value:      value,
			}
			o.logger.Debug("New incumbent",
				zap.Int("iteration", k),
				zap.Float64("value", value),
				zap.Float64s("parameters", best.Parameters),
			)
		}

		eval := optimization.Evaluation{
			Iteration: k,
			Start:     start,
			Chi:       chi,
			Solution: &optimization.Solution{
				Parameters: append([]float64(nil), refined.X...),
				Value:      value,
			},
			Converged: refined.Converged,
			Improved:  improved,
		}
		result.History = append(result.History, eval)
		result.Trace = append(result.Trace, best.Value)
		o.publish(best, eval)
		o.recorder.ObserveIteration(improved, refined.Converged)
		if cfg.Verbose {
			o.logger.Info("Iteration complete",
				zap.Int("iteration", k),
				zap.Float64("chi", chi),
				zap.Float64("value", value),
				zap.Float64("best_value", best.Value),
				zap.Bool("local_converged", refined.Converged),
			)
		}

		if best.Value < cfg.Threshold {
			result.Converged = true
			break
		}
	}

	result.BestSolution = best
	result.Iterations = len(result.Starts)
	result.Evaluations = obj.calls
	result.Duration = time.Since(started)

	reason := "iteration budget exhausted"
	if result.Converged {
		reason = "threshold reached"
	}
	o.logger.Info("Multistart search finished",
		zap.String("reason", reason),
		zap.Int("iterations", result.Iterations),
		zap.Int("evaluations", result.Evaluations),
		zap.Float64("best_value", best.Value),
		zap.Float64s("best_parameters", best.Parameters),
		zap.Duration("duration", result.Duration),
	)
	o.recorder.ObserveRun(result, nil)

	return result, nil
}

// GetBestSolution returns a copy of the incumbent, or nil before the first
// iteration completes.
func (o *Optimizer) GetBestSolution() *optimization.Solution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.best.Clone()
}

// GetHistory returns the iterations recorded so far.
func (o *Optimizer) GetHistory() []optimization.Evaluation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]optimization.Evaluation(nil), o.history...)
}

// Progress returns completed iterations over the iteration budget.
func (o *Optimizer) Progress() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return float64(o.iterations) / float64(o.config.MaxIterations)
}

// Stop cancels a running search.
func (o *Optimizer) Stop() {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Optimizer) reset(cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.best = nil
	o.history = nil
	o.iterations = 0
	o.cancel = cancel
}

func (o *Optimizer) publish(best *optimization.Solution, eval optimization.Evaluation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.best = best
	o.history = append(o.history, eval)
	o.iterations++
}

// countingObjective adapts an ObjectiveFunction to the plain signature the
// local optimizer expects. The first objective error is kept and every
// later call returns +Inf.
type countingObjective struct {
	fn    optimization.ObjectiveFunction
	calls int
	err   error
}

func (c *countingObjective) local(x []float64) float64 {
	if c.err != nil {
		return math.Inf(1)
	}
	v, err := c.evaluate(x)
	if err != nil {
		c.err = err
		return math.Inf(1)
	}
	return v
}

func (c *countingObjective) evaluate(x []float64) (float64, error) {
	c.calls++
	return c.fn(x)
}
