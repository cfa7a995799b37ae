package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/multistart/internal/optimization"
	"github.com/copyleftdev/multistart/internal/optimization/local"
	"github.com/copyleftdev/multistart/internal/optimization/multistart"
	"github.com/copyleftdev/multistart/internal/optimization/objectives"
)

type runOptions struct {
	objective string
	low       float64
	high      float64
	dim       int
	threshold float64
	biasStart int
	maxIter   int
	seed      int64
	method    string
	sampler   string
	runs      int
	workers   int
	starts    bool
	verbose   bool
}

type runSummary struct {
	Seed       int64                  `json:"seed"`
	Best       *optimization.Solution `json:"best"`
	Iterations int                    `json:"iterations"`
	Converged  bool                   `json:"converged"`
}

type runOutput struct {
	Objective   string                 `json:"objective"`
	Method      string                 `json:"method"`
	Best        *optimization.Solution `json:"best"`
	Iterations  int                    `json:"iterations"`
	Evaluations int                    `json:"evaluations"`
	Converged   bool                   `json:"converged"`
	Duration    string                 `json:"duration"`
	Starts      [][]float64            `json:"starts,omitempty"`

	// Batch fields, set when more than one run is requested.
	Runs          []runSummary `json:"runs,omitempty"`
	ConvergedRuns *int         `json:"converged_runs,omitempty"`
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a multistart search on a catalogue objective",
		Long: `Runs a multistart search and prints the best point, its value and the
iteration count as JSON. With --runs greater than one, independent searches
with consecutive seeds run concurrently and the best of them is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.objective, "objective", "griewank", "Objective name (see the objectives command)")
	f.Float64Var(&opts.low, "low", -10, "Lower search bound, applied to every coordinate")
	f.Float64Var(&opts.high, "high", 10, "Upper search bound (exclusive), applied to every coordinate")
	f.IntVar(&opts.dim, "dim", optimization.DefaultDimension, "Number of coordinates")
	f.Float64Var(&opts.threshold, "threshold", 1e-8, "Stop once the best value is strictly below this")
	f.IntVar(&opts.biasStart, "bias-start", 10, "Iteration after which starts are pulled toward the incumbent")
	f.IntVar(&opts.maxIter, "max-iter", 1000, "Iteration budget")
	f.Int64Var(&opts.seed, "seed", 0, "Random seed (0 seeds from the clock)")
	f.StringVar(&opts.method, "method", string(local.MethodBFGS), "Local method: bfgs, lbfgs, nelder-mead")
	f.StringVar(&opts.sampler, "sampler", multistart.SamplerUniform, "Restart sampler: uniform, lhs (Latin hypercube)")
	f.IntVar(&opts.runs, "runs", 1, "Independent runs with consecutive seeds")
	f.IntVar(&opts.workers, "workers", runtime.NumCPU(), "Concurrent runs when --runs > 1")
	f.BoolVar(&opts.verbose, "verbose", false, "Log every iteration at info level")
	f.BoolVar(&opts.starts, "starts", false, "Include the recorded starting points in the output")

	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, opts *runOptions) error {
	obj, err := objectives.Lookup(opts.objective)
	if err != nil {
		return err
	}
	minimizer, err := local.New(opts.method, local.WithLogger(a.zap))
	if err != nil {
		return err
	}
	samplers, err := multistart.NewSamplerFactory(opts.sampler)
	if err != nil {
		return err
	}

	cfg := optimization.OptimizerConfig{
		Objective:     obj.Func,
		Bounds:        optimization.Bounds{Low: opts.low, High: opts.high},
		Dimension:     opts.dim,
		Threshold:     opts.threshold,
		BiasStart:     opts.biasStart,
		MaxIterations: opts.maxIter,
		RandomSeed:    opts.seed,
		Verbose:       opts.verbose,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	searchOpts := []multistart.Option{
		multistart.WithLocalOptimizer(minimizer),
		multistart.WithSamplerFactory(samplers),
		multistart.WithLogger(a.zap),
	}

	out := runOutput{Objective: obj.Name, Method: string(minimizer.Method())}

	if opts.runs <= 1 {
		result, err := multistart.Search(ctx, cfg, searchOpts...)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		fillOutput(&out, result, opts.starts)
		return writeOutput(cmd, out)
	}

	batch, err := multistart.RunBatch(ctx, cfg, opts.runs, opts.workers, searchOpts...)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	fillOutput(&out, batch.BestResult(), opts.starts)
	for i, r := range batch.Results {
		out.Runs = append(out.Runs, runSummary{
			Seed:       batch.Seeds[i],
			Best:       r.BestSolution,
			Iterations: r.Iterations,
			Converged:  r.Converged,
		})
	}
	converged := batch.Converged()
	out.ConvergedRuns = &converged

	a.logger.Info("Batch finished", map[string]interface{}{
		"runs":      opts.runs,
		"converged": converged,
		"best_run":  batch.Best,
	})
	return writeOutput(cmd, out)
}

func fillOutput(out *runOutput, result *optimization.OptimizationResult, withStarts bool) {
	out.Best = result.BestSolution
	out.Iterations = result.Iterations
	out.Evaluations = result.Evaluations
	out.Converged = result.Converged
	out.Duration = result.Duration.String()
	if withStarts {
		out.Starts = result.Starts
	}
}

func writeOutput(cmd *cobra.Command, out runOutput) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
