package correction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnknownDistance indicates a distance metric name with no registered
// objective or solver.
var ErrUnknownDistance = errors.New("unknown distance metric")

// Operator applies a noise operator and its transpose without exposing its
// representation; both exact and factorized models satisfy it, as do the
// small per-cluster matrices.
type Operator interface {
	Apply(p []float64) ([]float64, error)
	ApplyTranspose(p []float64) ([]float64, error)
	Dim() int
}

// Objective is a differentiable distance D(M*p, q) in the true-distribution
// variable p.
type Objective interface {
	Value(p []float64) (float64, error)
	Gradient(p []float64) ([]float64, error)
}

// Diagnostics reports how a solve went.
type Diagnostics struct {
	Iterations int     `json:"iterations"`
	Residual   float64 `json:"residual"`
	Converged  bool    `json:"converged"`
}

// Solver minimizes an objective over the probability simplex. Implementations
// are interchangeable: the corrector picks one per distance metric but callers
// may supply their own.
type Solver interface {
	Solve(ctx context.Context, obj Objective, x0 []float64, tol float64, maxIter int) ([]float64, Diagnostics, error)
}

// NewObjective builds the objective for a distance metric.
func NewObjective(d Distance, op Operator, noisy []float64) (Objective, error) {
	switch d {
	case DistanceSquaredL2:
		return &squaredL2Objective{op: op, noisy: noisy}, nil
	case DistanceNLL:
		return &nllObjective{op: op, noisy: noisy}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDistance, d)
	}
}

// SolverFor returns the default solver for a distance metric: projected
// gradient for squared-L2, multiplicative (EM) updates for negative
// log-likelihood.
func SolverFor(d Distance) (Solver, error) {
	switch d {
	case DistanceSquaredL2:
		return &ProjectedGradientSolver{}, nil
	case DistanceNLL:
		return &EMSolver{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDistance, d)
	}
}

// likelihoodFloor guards logarithms and ratios against zero model
// probabilities.
const likelihoodFloor = 1e-300

type squaredL2Objective struct {
	op    Operator
	noisy []float64
}

func (o *squaredL2Objective) Value(p []float64) (float64, error) {
	mp, err := o.op.Apply(p)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for j := range mp {
		r := mp[j] - o.noisy[j]
		sum += r * r
	}
	return sum, nil
}

func (o *squaredL2Objective) Gradient(p []float64) ([]float64, error) {
	mp, err := o.op.Apply(p)
	if err != nil {
		return nil, err
	}
	r := make([]float64, len(mp))
	for j := range mp {
		r[j] = 2 * (mp[j] - o.noisy[j])
	}
	return o.op.ApplyTranspose(r)
}

type nllObjective struct {
	op    Operator
	noisy []float64
}

func (o *nllObjective) Value(p []float64) (float64, error) {
	mp, err := o.op.Apply(p)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for j, q := range o.noisy {
		if q == 0 {
			continue
		}
		sum -= q * math.Log(math.Max(mp[j], likelihoodFloor))
	}
	return sum, nil
}

func (o *nllObjective) Gradient(p []float64) ([]float64, error) {
	mp, err := o.op.Apply(p)
	if err != nil {
		return nil, err
	}
	w := make([]float64, len(mp))
	for j, q := range o.noisy {
		if q == 0 {
			continue
		}
		w[j] = -q / math.Max(mp[j], likelihoodFloor)
	}
	return o.op.ApplyTranspose(w)
}

// ProjectedGradientSolver iterates gradient steps followed by Euclidean
// projection onto the simplex, with backtracking on the step size.
type ProjectedGradientSolver struct{}

func (s *ProjectedGradientSolver) Solve(ctx context.Context, obj Objective, x0 []float64, tol float64, maxIter int) ([]float64, Diagnostics, error) {
	x := ProjectOntoSimplex(x0)
	fx, err := obj.Value(x)
	if err != nil {
		return nil, Diagnostics{}, err
	}

	var diag Diagnostics
	step := 1.0
	for it := 1; it <= maxIter; it++ {
		if ctx.Err() != nil {
			return x, diag, &ConvergenceError{Iterations: diag.Iterations, Residual: diag.Residual, Tolerance: tol, Best: x}
		}

		g, err := obj.Gradient(x)
		if err != nil {
			return nil, diag, err
		}

		var next []float64
		var fNext float64
		t := step
		accepted := false
		for k := 0; k < 40; k++ {
			cand := make([]float64, len(x))
			for i := range x {
				cand[i] = x[i] - t*g[i]
			}
			cand = ProjectOntoSimplex(cand)
			fCand, err := obj.Value(cand)
			if err != nil {
				return nil, diag, err
			}
			if fCand < fx-1e-15 {
				next, fNext = cand, fCand
				accepted = true
				break
			}
			t /= 2
		}

		if !accepted {
			// No descent in any step size: x is the constrained optimum.
			diag.Iterations = it
			diag.Residual = 0
			diag.Converged = true
			return x, diag, nil
		}

		res := l1Distance(next, x)
		x, fx = next, fNext
		step = t * 2

		diag.Iterations = it
		diag.Residual = res
		if res <= tol {
			diag.Converged = true
			return x, diag, nil
		}
	}

	return x, diag, &ConvergenceError{Iterations: diag.Iterations, Residual: diag.Residual, Tolerance: tol, Best: x}
}

// EMSolver runs multiplicative updates p <- p .* (-grad). For the
// negative-log-likelihood objective the negative gradient is the likelihood
// ratio M^T(q ./ M p), so each update is one expectation-maximization step and
// the iterate stays on the simplex throughout.
type EMSolver struct{}

func (s *EMSolver) Solve(ctx context.Context, obj Objective, x0 []float64, tol float64, maxIter int) ([]float64, Diagnostics, error) {
	// Strictly positive start: entries at zero can never leave zero under
	// multiplicative updates.
	x := ProjectOntoSimplex(x0)
	n := float64(len(x))
	for i := range x {
		x[i] = x[i]*(1-1e-6) + 1e-6/n
	}

	var diag Diagnostics
	for it := 1; it <= maxIter; it++ {
		if ctx.Err() != nil {
			return x, diag, &ConvergenceError{Iterations: diag.Iterations, Residual: diag.Residual, Tolerance: tol, Best: x}
		}

		g, err := obj.Gradient(x)
		if err != nil {
			return nil, diag, err
		}

		next := make([]float64, len(x))
		sum := 0.0
		for i := range x {
			v := x[i] * -g[i]
			if v < 0 {
				v = 0
			}
			next[i] = v
			sum += v
		}
		if sum <= 0 {
			return x, diag, &ConvergenceError{Iterations: it, Residual: diag.Residual, Tolerance: tol, Best: x}
		}
		for i := range next {
			next[i] /= sum
		}

		res := l1Distance(next, x)
		x = next

		diag.Iterations = it
		diag.Residual = res
		if res <= tol {
			diag.Converged = true
			return x, diag, nil
		}
	}

	return x, diag, &ConvergenceError{Iterations: diag.Iterations, Residual: diag.Residual, Tolerance: tol, Best: x}
}

// ProjectOntoSimplex returns the Euclidean projection of v onto the
// probability simplex: the closest vector with non-negative entries summing
// to 1. Sort-based, O(n log n).
func ProjectOntoSimplex(v []float64) []float64 {
	n := len(v)
	u := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	css := 0.0
	theta := 0.0
	for i := 0; i < n; i++ {
		css += u[i]
		t := (css - 1) / float64(i+1)
		if u[i]-t > 0 {
			theta = t
		}
	}

	out := make([]float64, n)
	for i := range v {
		out[i] = math.Max(v[i]-theta, 0)
	}
	return out
}

func l1Distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}
