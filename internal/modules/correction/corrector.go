package correction

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	"github.com/fbmaciej/qrem/internal/modules/sampling"
	"github.com/fbmaciej/qrem/pkg/bitstr"
)

// Defaults are the service-level correction settings; per-request Options
// override them field by field.
type Defaults struct {
	SingularThreshold float64
	Distance          Distance
	Tolerance         float64
	MaxIterations     int
}

// Corrector runs corrections against immutable noise models. It holds no
// per-request state, so one instance serves concurrent requests.
type Corrector struct {
	defaults Defaults
	log      zerolog.Logger
}

// NewCorrector creates a corrector with the given defaults.
func NewCorrector(defaults Defaults, log zerolog.Logger) *Corrector {
	if defaults.Distance == "" {
		defaults.Distance = DistanceSquaredL2
	}
	if defaults.MaxIterations <= 0 {
		defaults.MaxIterations = 10000
	}
	return &Corrector{
		defaults: defaults,
		log:      log.With().Str("service", "correction").Logger(),
	}
}

func (c *Corrector) resolve(opts Options) Options {
	if opts.SingularThreshold <= 0 {
		opts.SingularThreshold = c.defaults.SingularThreshold
	}
	if opts.Distance == "" {
		opts.Distance = c.defaults.Distance
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = c.defaults.Tolerance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = c.defaults.MaxIterations
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = 0.95
	}
	return opts
}

// Unconstrained corrects by direct inversion: p = M^{-1} q. The result may
// contain entries outside [0,1]; their total negative mass and the sum's
// deviation from 1 are reported as quality metrics, never clipped and never
// treated as an error.
func (c *Corrector) Unconstrained(model *noisemodel.Model, table *counts.FrequencyTable, opts Options) (*Result, error) {
	opts = c.resolve(opts)

	q, err := noisyVector(model, table)
	if err != nil {
		return nil, err
	}

	raw, err := model.ApplyInverse(q, opts.SingularThreshold)
	if err != nil {
		return nil, err
	}

	negMass := 0.0
	sum := 0.0
	for _, v := range raw {
		if v < 0 {
			negMass -= v
		}
		sum += v
	}

	metrics := QualityMetrics{
		Method:       MethodUnconstrained,
		NegativeMass: negMass,
		SumDeviation: math.Abs(sum - 1),
	}
	if err := c.attachBound(&metrics, model, table, opts); err != nil {
		return nil, err
	}

	c.log.Debug().Int("nbits", model.NumBits()).Float64("negative_mass", negMass).
		Msg("Unconstrained correction complete")
	return newResult(raw, model.NumBits(), metrics), nil
}

// Constrained corrects by minimizing the configured distance between M*p and
// the observed statistics over the probability simplex. For factorized models
// the problem decomposes into independent per-cluster solves unless FullJoint
// is set. On budget exhaustion or cancellation the best-so-far result is
// returned together with a ConvergenceError.
func (c *Corrector) Constrained(ctx context.Context, model *noisemodel.Model, table *counts.FrequencyTable, opts Options) (*Result, error) {
	opts = c.resolve(opts)

	q, err := noisyVector(model, table)
	if err != nil {
		return nil, err
	}

	tol := opts.Tolerance
	if tol <= 0 {
		tol = sampling.SuggestedTolerance(model.Dim(), table.Shots())
	}

	var vec []float64
	var diag Diagnostics
	var solveErr error
	if model.Mode() == noisemodel.ModeFactorized && !opts.FullJoint {
		vec, diag, solveErr = c.solvePerCluster(ctx, model, table, opts, tol)
	} else {
		vec, diag, solveErr = c.solveJoint(ctx, model, q, opts, tol)
	}
	if solveErr != nil && !errors.Is(solveErr, ErrConvergence) {
		return nil, solveErr
	}

	metrics := QualityMetrics{
		Method:     MethodConstrained,
		Iterations: diag.Iterations,
		Residual:   diag.Residual,
		Converged:  diag.Converged,
	}
	if err := c.attachBound(&metrics, model, table, opts); err != nil {
		return nil, err
	}

	c.log.Debug().Int("nbits", model.NumBits()).Int("iterations", diag.Iterations).
		Bool("converged", diag.Converged).Msg("Constrained correction complete")
	return newResult(vec, model.NumBits(), metrics), solveErr
}

func (c *Corrector) solveJoint(ctx context.Context, model *noisemodel.Model, q []float64, opts Options, tol float64) ([]float64, Diagnostics, error) {
	obj, err := NewObjective(opts.Distance, model, q)
	if err != nil {
		return nil, Diagnostics{}, err
	}
	solver, err := SolverFor(opts.Distance)
	if err != nil {
		return nil, Diagnostics{}, err
	}
	return solver.Solve(ctx, obj, q, tol, opts.MaxIterations)
}

// solvePerCluster exploits the product structure: under the product-noise
// assumption the objective separates across clusters, so each cluster's
// marginal statistics are corrected on its own small simplex and the results
// recombine as a product distribution.
func (c *Corrector) solvePerCluster(ctx context.Context, model *noisemodel.Model, table *counts.FrequencyTable, opts Options, tol float64) ([]float64, Diagnostics, error) {
	solver, err := SolverFor(opts.Distance)
	if err != nil {
		return nil, Diagnostics{}, err
	}

	parts := make([][]float64, model.NumClusters())
	qubitSets := make([][]int, model.NumClusters())
	agg := Diagnostics{Converged: true}
	for cl := 0; cl < model.NumClusters(); cl++ {
		qubits := model.ClusterQubits(cl)
		qubitSets[cl] = qubits

		marg, err := table.Marginal(qubits)
		if err != nil {
			return nil, agg, err
		}
		qc, err := marg.Vector()
		if err != nil {
			return nil, agg, err
		}

		obj, err := NewObjective(opts.Distance, clusterOperator{m: model.Cluster(cl)}, qc)
		if err != nil {
			return nil, agg, err
		}

		x, diag, err := solver.Solve(ctx, obj, qc, tol, opts.MaxIterations)
		if err != nil {
			var convErr *ConvergenceError
			if !errors.As(err, &convErr) {
				return nil, agg, err
			}
			agg.Converged = false
		}
		parts[cl] = x
		agg.Iterations += diag.Iterations
		if diag.Residual > agg.Residual {
			agg.Residual = diag.Residual
		}
		if !diag.Converged {
			agg.Converged = false
		}
	}

	// Recombine the per-cluster solutions into the product distribution.
	nbits := model.NumBits()
	out := make([]float64, model.Dim())
	for idx := range out {
		v := 1.0
		for cl, qubits := range qubitSets {
			v *= parts[cl][bitstr.SubIndex(idx, nbits, qubits)]
			if v == 0 {
				break
			}
		}
		out[idx] = v
	}

	if !agg.Converged {
		return out, agg, &ConvergenceError{Iterations: agg.Iterations, Residual: agg.Residual, Tolerance: tol, Best: out}
	}
	return out, agg, nil
}

func (c *Corrector) attachBound(metrics *QualityMetrics, model *noisemodel.Model, table *counts.FrequencyTable, opts Options) error {
	if !opts.WithConfidenceBound {
		return nil
	}
	est, err := sampling.TVDistanceBound(model.Dim(), table.Shots(), opts.Confidence)
	if err != nil {
		return fmt.Errorf("failed to compute confidence bound: %w", err)
	}
	metrics.ConfidenceBound = &est
	return nil
}

// noisyVector validates the table against the model dimension and normalizes
// it to a probability vector.
func noisyVector(model *noisemodel.Model, table *counts.FrequencyTable) ([]float64, error) {
	if table.NumBits() != model.NumBits() {
		return nil, fmt.Errorf("%w: table is over %d bits but model expects %d",
			counts.ErrMalformedTable, table.NumBits(), model.NumBits())
	}
	return table.Vector()
}

func newResult(vec []float64, nbits int, metrics QualityMetrics) *Result {
	dist := make(map[string]float64, len(vec))
	for idx, p := range vec {
		dist[bitstr.String(idx, nbits)] = p
	}
	return &Result{Vector: vec, Distribution: dist, Metrics: metrics}
}

// clusterOperator adapts one cluster's confusion matrix to the Operator
// interface for per-cluster solves.
type clusterOperator struct {
	m *confusion.Matrix
}

func (o clusterOperator) Dim() int { return o.m.Dim() }

func (o clusterOperator) Apply(p []float64) ([]float64, error) {
	if len(p) != o.m.Dim() {
		return nil, fmt.Errorf("%w: vector length %d does not match cluster dimension %d",
			counts.ErrMalformedTable, len(p), o.m.Dim())
	}
	out := make([]float64, o.m.Dim())
	for j := range out {
		sum := 0.0
		for i := range p {
			sum += o.m.At(j, i) * p[i]
		}
		out[j] = sum
	}
	return out, nil
}

func (o clusterOperator) ApplyTranspose(p []float64) ([]float64, error) {
	if len(p) != o.m.Dim() {
		return nil, fmt.Errorf("%w: vector length %d does not match cluster dimension %d",
			counts.ErrMalformedTable, len(p), o.m.Dim())
	}
	out := make([]float64, o.m.Dim())
	for i := range out {
		sum := 0.0
		for j := range p {
			sum += o.m.At(j, i) * p[j]
		}
		out[i] = sum
	}
	return out, nil
}
