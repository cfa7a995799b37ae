// Package local provides the local refinement step of a multistart search,
// backed by gonum's optimize package.
package local

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Method names a local minimization algorithm.
type Method string

const (
	MethodBFGS       Method = "bfgs"
	MethodLBFGS      Method = "lbfgs"
	MethodNelderMead Method = "nelder-mead"
)

// Methods lists the supported method names.
func Methods() []Method {
	return []Method{MethodBFGS, MethodLBFGS, MethodNelderMead}
}

// ParseMethod resolves a method name, ignoring case.
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case MethodBFGS, MethodLBFGS, MethodNelderMead:
		return m, nil
	case "":
		return MethodBFGS, nil
	}
	return "", optimization.NewConfigurationError("unknown local method %q", name).
		WithComponent("local")
}

// Minimizer runs one gonum minimization per call. It holds no per-call
// state and is safe for concurrent use.
type Minimizer struct {
	method Method

	// Convergence settings
	gradientThreshold float64
	functionTolerance float64
	majorIterations   int
	funcEvaluations   int

	// Finite difference settings for gradient based methods
	diff *fd.Settings

	logger *zap.Logger
}

// Option configures a Minimizer.
type Option func(*Minimizer)

// WithLogger sets the logger used for failed refinements.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Minimizer) {
		if logger != nil {
			m.logger = logger.Named("local")
		}
	}
}

// WithMajorIterations caps the iterations of a single refinement.
func WithMajorIterations(n int) Option {
	return func(m *Minimizer) {
		m.majorIterations = n
	}
}

// WithGradientThreshold sets the infinity-norm gradient tolerance.
func WithGradientThreshold(tol float64) Option {
	return func(m *Minimizer) {
		m.gradientThreshold = tol
	}
}

// New creates a Minimizer for the named method.
func New(name string, opts ...Option) (*Minimizer, error) {
	method, err := ParseMethod(name)
	if err != nil {
		return nil, err
	}
	m := &Minimizer{
		method:            method,
		gradientThreshold: 1e-8,
		functionTolerance: 1e-12,
		majorIterations:   1000,
		funcEvaluations:   50000,
		diff:              &fd.Settings{Formula: fd.Central},
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewBFGS creates a quasi-Newton minimizer with numerical gradients.
func NewBFGS(opts ...Option) *Minimizer {
	m, _ := New(string(MethodBFGS), opts...)
	return m
}

// NewNelderMead creates a derivative-free simplex minimizer.
func NewNelderMead(opts ...Option) *Minimizer {
	m, _ := New(string(MethodNelderMead), opts...)
	return m
}

// Method returns the configured algorithm.
func (m *Minimizer) Method() Method {
	return m.method
}

// Minimize refines x0. A gonum failure that still produced a location is
// reported with Converged set to false rather than as an error; only
// cancellation and unusable input are errors.
func (m *Minimizer) Minimize(ctx context.Context, f func([]float64) float64, x0 []float64) (*optimization.LocalResult, error) {
	const op = "Minimize"

	if len(x0) == 0 {
		return nil, optimization.NewConfigurationError("empty starting point").
			WithComponent("local").WithOperation(op)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	evaluations := 0
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			evaluations++
			return f(x)
		},
	}
	if m.method != MethodNelderMead {
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, problem.Func, x, m.diff)
		}
	}

	settings := &optimize.Settings{
		GradientThreshold: m.gradientThreshold,
		Converger: &optimize.FunctionConverge{
			Absolute:   m.functionTolerance,
			Relative:   m.functionTolerance,
			Iterations: 20,
		},
		MajorIterations: m.majorIterations,
		FuncEvaluations: m.funcEvaluations,
		Recorder:        &contextRecorder{ctx: ctx},
	}

	result, err := optimize.Minimize(problem, append([]float64(nil), x0...), settings, m.newMethod())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if result == nil || len(result.X) != len(x0) {
		m.logger.Debug("local minimizer returned no location",
			zap.String("method", string(m.method)),
			zap.Error(err),
		)
		start := append([]float64(nil), x0...)
		return &optimization.LocalResult{
			X:           start,
			F:           f(start),
			Converged:   false,
			Evaluations: evaluations + 1,
		}, nil
	}

	converged := err == nil && convergedStatus(result.Status)
	if !converged {
		m.logger.Debug("local minimizer did not converge",
			zap.String("method", string(m.method)),
			zap.String("status", result.Status.String()),
			zap.Error(err),
		)
	}

	return &optimization.LocalResult{
		X:           append([]float64(nil), result.X...),
		F:           result.F,
		Converged:   converged && !math.IsNaN(result.F) && !math.IsInf(result.F, 0),
		Evaluations: evaluations,
	}, nil
}

func (m *Minimizer) newMethod() optimize.Method {
	switch m.method {
	case MethodLBFGS:
		return &optimize.LBFGS{}
	case MethodNelderMead:
		return &optimize.NelderMead{
			Reflection:  1.0,
			Expansion:   2.0,
			Contraction: 0.5,
			Shrink:      0.5,
			SimplexSize: 0.2,
		}
	default:
		return &optimize.BFGS{}
	}
}

func convergedStatus(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.MethodConverge, optimize.FunctionConvergence,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// contextRecorder stops gonum's loop once the context is done.
type contextRecorder struct {
	ctx context.Context
}

func (r *contextRecorder) Init() error {
	return r.ctx.Err()
}

func (r *contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
