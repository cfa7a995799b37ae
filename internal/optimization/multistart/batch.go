package multistart

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// BatchResult holds the outcome of independent runs, indexed by run.
type BatchResult struct {
	Results []*optimization.OptimizationResult
	// Seeds holds the seed used by each run.
	Seeds []int64
	// Best is the index of the run with the lowest best value.
	Best int
}

// BestResult returns the result of the best run.
func (b *BatchResult) BestResult() *optimization.OptimizationResult {
	return b.Results[b.Best]
}

// Converged counts the runs that reached the threshold.
func (b *BatchResult) Converged() int {
	n := 0
	for _, r := range b.Results {
		if r.Converged {
			n++
		}
	}
	return n
}

// RunBatch executes runs independent searches, at most concurrency at a
// time. Run i uses seed config.RandomSeed+i with its own sampler, built by
// the WithSamplerFactory option or a UniformSampler; a zero seed is replaced
// by the clock once for the whole batch. WithSampler options are ignored
// since a sampler cannot be shared between runs. The first failing run cancels the rest
// and its error is returned.
func RunBatch(ctx context.Context, config optimization.OptimizerConfig, runs, concurrency int, opts ...Option) (*BatchResult, error) {
	if runs <= 0 {
		return nil, optimization.NewConfigurationError("batch needs at least one run, got %d", runs).
			WithComponent("multistart").WithOperation("RunBatch")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	base := config.RandomSeed
	if base == 0 {
		base = time.Now().UnixNano()
	}

	batch := &BatchResult{
		Results: make([]*optimization.OptimizationResult, runs),
		Seeds:   make([]int64, runs),
	}

	p := pool.New().
		WithMaxGoroutines(concurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for i := 0; i < runs; i++ {
		seed := base + int64(i)
		if seed == 0 {
			// Zero would reseed from the clock.
			seed = base + int64(runs)
		}
		batch.Seeds[i] = seed

		runCfg := config
		runCfg.RandomSeed = seed
		runOpts := append(append([]Option(nil), opts...), withoutSampler())

		p.Go(func(ctx context.Context) error {
			result, err := Search(ctx, runCfg, runOpts...)
			if err != nil {
				return err
			}
			batch.Results[i] = result
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	for i, r := range batch.Results {
		if r.BestSolution.Value < batch.Results[batch.Best].BestSolution.Value {
			batch.Best = i
		}
	}
	return batch, nil
}
