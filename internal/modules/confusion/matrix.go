// Package confusion builds and validates per-subsystem confusion matrices.
//
// A confusion matrix for a k-qubit subsystem is the 2^k x 2^k column-stochastic
// matrix M with M[j,i] = P(observe outcome j | true outcome i), estimated by
// detector tomography: one calibration run per computational basis state.
package confusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/pkg/bitstr"
)

// ErrInsufficientData indicates a calibration basis state with zero shots
// (or no calibration run at all), leaving its column unestimable.
var ErrInsufficientData = errors.New("insufficient calibration data")

// ErrCorruptedCalibration indicates calibration data whose column sums drift
// from 1 beyond the configured bound, or entries outside [0,1].
var ErrCorruptedCalibration = errors.New("corrupted calibration data")

// renormTolerance is the drift below which column sums are silently accepted;
// drift above it but within MaxColumnDrift is renormalized away.
const renormTolerance = 1e-9

// DefaultMaxColumnDrift is the column-sum drift beyond which calibration data
// is rejected as corrupted rather than renormalized.
const DefaultMaxColumnDrift = 1e-6

// Matrix is a read-only column-stochastic confusion matrix for one subsystem.
type Matrix struct {
	nbits int
	dim   int
	m     *mat.Dense
}

// BuildOptions tunes validation during construction.
type BuildOptions struct {
	// MaxColumnDrift overrides DefaultMaxColumnDrift when positive.
	MaxColumnDrift float64
}

func (o BuildOptions) maxDrift() float64 {
	if o.MaxColumnDrift > 0 {
		return o.MaxColumnDrift
	}
	return DefaultMaxColumnDrift
}

// Build estimates the confusion matrix of a k-qubit subsystem from calibration
// runs, one FrequencyTable per prepared basis state keyed by its bit-string.
// Column i is the empirical outcome distribution of the run prepared in basis
// state i.
func Build(nbits int, runs map[string]*counts.FrequencyTable, opts BuildOptions) (*Matrix, error) {
	if nbits < 1 {
		return nil, fmt.Errorf("%w: subsystem size %d must be positive", ErrCorruptedCalibration, nbits)
	}
	dim := 1 << nbits

	m := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		state := bitstr.String(i, nbits)
		run, ok := runs[state]
		if !ok || run.Shots() == 0 {
			return nil, fmt.Errorf("%w: basis state %s has no shots", ErrInsufficientData, state)
		}
		if run.NumBits() != nbits {
			return nil, fmt.Errorf("%w: basis state %s run is over %d bits, want %d",
				ErrCorruptedCalibration, state, run.NumBits(), nbits)
		}
		col, err := run.Vector()
		if err != nil {
			return nil, fmt.Errorf("calibration run for basis state %s: %w", state, err)
		}
		for j := 0; j < dim; j++ {
			m.Set(j, i, col[j])
		}
	}

	mx := &Matrix{nbits: nbits, dim: dim, m: m}
	if err := mx.normalize(opts.maxDrift()); err != nil {
		return nil, err
	}
	return mx, nil
}

// FromDense validates externally supplied (or persisted) entries as a
// confusion matrix. Entries are row-major, observed outcome = row, true
// outcome = column.
func FromDense(nbits int, entries []float64, opts BuildOptions) (*Matrix, error) {
	if nbits < 1 {
		return nil, fmt.Errorf("%w: subsystem size %d must be positive", ErrCorruptedCalibration, nbits)
	}
	dim := 1 << nbits
	if len(entries) != dim*dim {
		return nil, fmt.Errorf("%w: got %d entries, want %d", ErrCorruptedCalibration, len(entries), dim*dim)
	}

	data := make([]float64, len(entries))
	copy(data, entries)
	mx := &Matrix{nbits: nbits, dim: dim, m: mat.NewDense(dim, dim, data)}
	if err := mx.normalize(opts.maxDrift()); err != nil {
		return nil, err
	}
	return mx, nil
}

// Identity returns the noiseless confusion matrix for a k-qubit subsystem.
func Identity(nbits int) *Matrix {
	dim := 1 << nbits
	m := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		m.Set(i, i, 1)
	}
	return &Matrix{nbits: nbits, dim: dim, m: m}
}

// normalize enforces the stochasticity invariant: entries in [0,1] and column
// sums equal to 1. Drift within renormTolerance is accepted as-is, drift up to
// maxDrift is renormalized, anything beyond fails.
func (x *Matrix) normalize(maxDrift float64) error {
	for i := 0; i < x.dim; i++ {
		sum := 0.0
		for j := 0; j < x.dim; j++ {
			v := x.m.At(j, i)
			if v < 0 || v > 1 || math.IsNaN(v) {
				return fmt.Errorf("%w: entry M[%d,%d]=%g outside [0,1]", ErrCorruptedCalibration, j, i, v)
			}
			sum += v
		}
		drift := math.Abs(sum - 1)
		if drift <= renormTolerance {
			continue
		}
		if drift > maxDrift {
			return fmt.Errorf("%w: column %d sums to %g, drift %g exceeds bound %g",
				ErrCorruptedCalibration, i, sum, drift, maxDrift)
		}
		for j := 0; j < x.dim; j++ {
			x.m.Set(j, i, x.m.At(j, i)/sum)
		}
	}
	return nil
}

// NumBits returns the subsystem size k.
func (x *Matrix) NumBits() int { return x.nbits }

// Dim returns the local alphabet size 2^k.
func (x *Matrix) Dim() int { return x.dim }

// At returns P(observe j | true i).
func (x *Matrix) At(j, i int) float64 { return x.m.At(j, i) }

// Entries returns a row-major copy of the matrix, suitable for persistence.
func (x *Matrix) Entries() []float64 {
	out := make([]float64, x.dim*x.dim)
	for j := 0; j < x.dim; j++ {
		for i := 0; i < x.dim; i++ {
			out[j*x.dim+i] = x.m.At(j, i)
		}
	}
	return out
}

// Dense returns the underlying matrix. Callers must treat it as read-only.
func (x *Matrix) Dense() *mat.Dense { return x.m }

// ConditionNumber returns the 2-norm condition number. Returns +Inf for a
// numerically singular matrix.
func (x *Matrix) ConditionNumber() float64 {
	var svd mat.SVD
	if !svd.Factorize(x.m, mat.SVDNone) {
		return math.Inf(1)
	}
	values := svd.Values(nil)
	smallest := values[len(values)-1]
	if smallest == 0 {
		return math.Inf(1)
	}
	return values[0] / smallest
}

// Inverse computes the matrix inverse. The caller is responsible for checking
// the condition number against its singularity threshold first.
func (x *Matrix) Inverse() (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(x.m); err != nil {
		return nil, fmt.Errorf("failed to invert confusion matrix: %w", err)
	}
	return &inv, nil
}
