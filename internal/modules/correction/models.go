// Package correction recovers a best estimate of the true outcome
// distribution from noisy measurement statistics and a noise model.
//
// Two methods are offered. Unconstrained correction inverts the noise
// operator directly: fast, unbiased, but free to return entries outside
// [0,1] when shot noise passes through the inverse. Constrained correction
// searches the probability simplex for the distribution whose image under the
// model is closest to the observed statistics, guaranteeing a physical result
// at the cost of iteration.
package correction

import (
	"errors"
	"fmt"

	"github.com/fbmaciej/qrem/internal/modules/sampling"
)

// Method identifies a correction algorithm.
type Method string

const (
	// MethodUnconstrained is direct linear inversion.
	MethodUnconstrained Method = "unconstrained"
	// MethodConstrained is simplex-constrained optimization.
	MethodConstrained Method = "constrained"
)

// Distance selects the objective minimized by constrained correction.
type Distance string

const (
	// DistanceSquaredL2 minimizes ||M*p - q||^2.
	DistanceSquaredL2 Distance = "squared-l2"
	// DistanceNLL minimizes the negative log-likelihood of q under M*p.
	DistanceNLL Distance = "negative-log-likelihood"
)

// ErrConvergence marks a constrained solve that exhausted its iteration
// budget or was cancelled before reaching tolerance. Recoverable: the caller
// may retry with a larger budget or fall back to the other method.
var ErrConvergence = errors.New("constrained solver did not converge")

// ConvergenceError carries the best-so-far iterate alongside the failure, so
// a caller can still use the partial result.
type ConvergenceError struct {
	Iterations int
	Residual   float64
	Tolerance  float64
	Best       []float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("constrained solver did not converge: residual %.3g after %d iterations (tolerance %.3g)",
		e.Residual, e.Iterations, e.Tolerance)
}

func (e *ConvergenceError) Unwrap() error { return ErrConvergence }

// QualityMetrics is the per-correction quality record. Out-of-range entries
// from unconstrained inversion are reported here, never raised as errors.
type QualityMetrics struct {
	Method Method `json:"method"`

	// Unconstrained only: total mass of negative entries and the deviation
	// of the entry sum from 1.
	NegativeMass float64 `json:"negative_mass"`
	SumDeviation float64 `json:"sum_deviation"`

	// Constrained only.
	Iterations int     `json:"iterations,omitempty"`
	Residual   float64 `json:"residual,omitempty"`
	Converged  bool    `json:"converged,omitempty"`

	// Present when the caller asked for a statistical confidence bound.
	ConfidenceBound *sampling.Estimate `json:"confidence_bound,omitempty"`
}

// Result is a corrected distribution with its quality record. It owns its
// storage: corrections never alias model or table memory.
type Result struct {
	// Vector is the corrected distribution in lexicographic outcome order.
	Vector []float64 `json:"-"`
	// Distribution maps outcome bit-strings to corrected probabilities.
	Distribution map[string]float64 `json:"distribution"`
	Metrics      QualityMetrics     `json:"metrics"`
}

// Options tunes a single correction request. Zero values fall back to the
// corrector's configured defaults.
type Options struct {
	// SingularThreshold is the condition-number cutoff for inversion.
	SingularThreshold float64
	// Distance selects the constrained objective.
	Distance Distance
	// Tolerance is the constrained convergence tolerance; zero derives it
	// from the sample-complexity bound of the input.
	Tolerance float64
	// MaxIterations is the constrained iteration budget.
	MaxIterations int
	// FullJoint forces constrained correction over the full alphabet even
	// for factorized models, instead of per-cluster decomposition. The full
	// operator is still never materialized.
	FullJoint bool
	// WithConfidenceBound attaches a TV-distance bound to the metrics.
	WithConfidenceBound bool
	// Confidence is the bound's confidence level; zero means 0.95.
	Confidence float64
}
