// Package noisemodel composes per-cluster confusion matrices into a model of
// the full-system readout noise.
//
// Small systems get the exact composition: the full Kronecker product of the
// cluster matrices, materialized as one dense matrix. Larger systems keep the
// factorized form, an ordered list of small cluster matrices, and every
// operation (apply, transpose-apply, inverse-apply) walks the tensor-factor
// structure instead of ever materializing the 2^n x 2^n operator.
package noisemodel

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/pkg/bitstr"
)

// ErrSingularModel indicates a confusion matrix whose condition number exceeds
// the caller's singularity threshold: the calibration data does not
// sufficiently distinguish outcomes for inversion to be meaningful.
var ErrSingularModel = errors.New("singular noise model")

// Mode selects how the full-system operator is represented.
type Mode string

const (
	// ModeExact materializes the full Kronecker product.
	ModeExact Mode = "exact"
	// ModeFactorized keeps the per-cluster matrices and defers composition.
	ModeFactorized Mode = "factorized"
)

// DefaultExactModeThreshold is the largest full alphabet size for which the
// composer materializes the exact matrix.
const DefaultExactModeThreshold = 256

// DefaultSingularThreshold is the condition-number cutoff used when a caller
// passes a non-positive threshold.
const DefaultSingularThreshold = 1e8

// maxMaterializeDim caps on-demand materialization of a factorized model's
// full matrix (testing and inspection only).
const maxMaterializeDim = 1 << 12

// Model is an immutable full-system noise model. It is safe for concurrent
// use: batch corrections share one model across workers without locking, and
// recalibration publishes a new model rather than mutating an old one.
type Model struct {
	nbits     int
	mode      Mode
	partition Partition
	clusters  []*confusion.Matrix
	conds     []float64

	full     *mat.Dense // exact mode only
	fullCond float64

	invOnce []sync.Once
	invs    []*mat.Dense
	invErrs []error

	fullInvOnce sync.Once
	fullInv     *mat.Dense
	fullInvErr  error
}

// ComposeOptions tunes model composition.
type ComposeOptions struct {
	// ExactModeThreshold overrides DefaultExactModeThreshold when positive.
	ExactModeThreshold int
}

func (o ComposeOptions) threshold() int {
	if o.ExactModeThreshold > 0 {
		return o.ExactModeThreshold
	}
	return DefaultExactModeThreshold
}

// Compose builds a noise model for an nbits-qubit system from per-cluster
// confusion matrices, ordered to match the partition. The model is exact when
// the full alphabet fits under the threshold and factorized otherwise.
func Compose(nbits int, clusters []*confusion.Matrix, partition Partition, opts ComposeOptions) (*Model, error) {
	if err := partition.Validate(nbits); err != nil {
		return nil, err
	}
	if len(clusters) != len(partition) {
		return nil, fmt.Errorf("%w: %d cluster matrices for %d clusters",
			ErrInvalidPartition, len(clusters), len(partition))
	}
	for c, m := range clusters {
		if m.NumBits() != len(partition[c]) {
			return nil, fmt.Errorf("%w: cluster %d has %d qubits but its matrix covers %d",
				ErrInvalidPartition, c, len(partition[c]), m.NumBits())
		}
	}

	conds := make([]float64, len(clusters))
	for c, m := range clusters {
		conds[c] = m.ConditionNumber()
	}

	model := &Model{
		nbits:     nbits,
		partition: partition.clone(),
		clusters:  clusters,
		conds:     conds,
		invOnce:   make([]sync.Once, len(clusters)),
		invs:      make([]*mat.Dense, len(clusters)),
		invErrs:   make([]error, len(clusters)),
	}

	if 1<<nbits <= opts.threshold() {
		model.mode = ModeExact
		model.full = materialize(nbits, clusters, model.partition)
		model.fullCond = mat.Cond(model.full, 2)
	} else {
		model.mode = ModeFactorized
	}

	return model, nil
}

// Identity returns the noiseless model over the given partition, useful as a
// baseline: both correction methods leave distributions unchanged under it.
func Identity(nbits int, partition Partition, opts ComposeOptions) (*Model, error) {
	clusters := make([]*confusion.Matrix, len(partition))
	for c, cluster := range partition {
		clusters[c] = confusion.Identity(len(cluster))
	}
	return Compose(nbits, clusters, partition, opts)
}

// materialize computes the full composed matrix entrywise:
// Full[j,i] = prod_c M_c[j_c, i_c] with j_c, i_c the bits of j and i owned by
// cluster c. This is the Kronecker product of the cluster matrices, expressed
// through the qubit-index maps so arbitrary (non-contiguous) partitions
// compose correctly.
func materialize(nbits int, clusters []*confusion.Matrix, partition Partition) *mat.Dense {
	dim := 1 << nbits
	full := mat.NewDense(dim, dim, nil)
	for j := 0; j < dim; j++ {
		for i := 0; i < dim; i++ {
			v := 1.0
			for c, m := range clusters {
				jc := bitstr.SubIndex(j, nbits, partition[c])
				ic := bitstr.SubIndex(i, nbits, partition[c])
				v *= m.At(jc, ic)
				if v == 0 {
					break
				}
			}
			full.Set(j, i, v)
		}
	}
	return full
}

// NumBits returns the number of measured qubits.
func (m *Model) NumBits() int { return m.nbits }

// Dim returns the full alphabet size 2^n.
func (m *Model) Dim() int { return 1 << m.nbits }

// Mode reports whether the model is exact or factorized.
func (m *Model) Mode() Mode { return m.mode }

// Partition returns a copy of the cluster partition.
func (m *Model) Partition() Partition { return m.partition.clone() }

// NumClusters returns the number of clusters.
func (m *Model) NumClusters() int { return len(m.clusters) }

// Cluster returns the confusion matrix of cluster c.
func (m *Model) Cluster(c int) *confusion.Matrix { return m.clusters[c] }

// ClusterQubits returns a copy of the qubit indices owned by cluster c.
func (m *Model) ClusterQubits(c int) []int {
	return append([]int(nil), m.partition[c]...)
}

// ConditionNumbers returns the per-cluster condition numbers computed at
// composition time.
func (m *Model) ConditionNumbers() []float64 {
	return append([]float64(nil), m.conds...)
}

// MaxConditionNumber returns the worst cluster condition number.
func (m *Model) MaxConditionNumber() float64 {
	worst := 0.0
	for _, c := range m.conds {
		if c > worst {
			worst = c
		}
	}
	return worst
}

func (m *Model) checkDim(p []float64) error {
	if len(p) != m.Dim() {
		return fmt.Errorf("%w: vector length %d does not match model alphabet size %d",
			counts.ErrMalformedTable, len(p), m.Dim())
	}
	return nil
}

// Apply computes M * p, the noisy distribution produced by the model from a
// true distribution p.
func (m *Model) Apply(p []float64) ([]float64, error) {
	if err := m.checkDim(p); err != nil {
		return nil, err
	}
	if m.mode == ModeExact {
		return m.mulFull(m.full, p), nil
	}
	v := append([]float64(nil), p...)
	for c, cm := range m.clusters {
		v = applyLocal(v, m.nbits, m.partition[c], cm.Dense(), false)
	}
	return v, nil
}

// ApplyTranspose computes M^T * p. The constrained solvers need this for
// gradients; like Apply it never materializes the full operator in factorized
// mode.
func (m *Model) ApplyTranspose(p []float64) ([]float64, error) {
	if err := m.checkDim(p); err != nil {
		return nil, err
	}
	if m.mode == ModeExact {
		dim := m.Dim()
		out := make([]float64, dim)
		for i := 0; i < dim; i++ {
			sum := 0.0
			for j := 0; j < dim; j++ {
				sum += m.full.At(j, i) * p[j]
			}
			out[i] = sum
		}
		return out, nil
	}
	v := append([]float64(nil), p...)
	for c, cm := range m.clusters {
		v = applyLocal(v, m.nbits, m.partition[c], cm.Dense(), true)
	}
	return v, nil
}

// ApplyInverse computes M^{-1} * p. In factorized mode the inverse of each
// cluster matrix is applied to its tensor factor in turn, which equals
// inverting the full Kronecker product at a cost linear in the number of
// clusters. Fails with ErrSingularModel when any cluster's condition number
// exceeds the threshold (non-positive threshold selects the default).
func (m *Model) ApplyInverse(p []float64, singularThreshold float64) ([]float64, error) {
	if err := m.checkDim(p); err != nil {
		return nil, err
	}
	if singularThreshold <= 0 {
		singularThreshold = DefaultSingularThreshold
	}

	if m.mode == ModeExact {
		if m.fullCond > singularThreshold {
			return nil, fmt.Errorf("%w: composed matrix condition number %.3g exceeds threshold %.3g",
				ErrSingularModel, m.fullCond, singularThreshold)
		}
		inv, err := m.fullInverse()
		if err != nil {
			return nil, err
		}
		return m.mulFull(inv, p), nil
	}

	v := append([]float64(nil), p...)
	for c := range m.clusters {
		if m.conds[c] > singularThreshold {
			return nil, fmt.Errorf("%w: cluster %d condition number %.3g exceeds threshold %.3g",
				ErrSingularModel, c, m.conds[c], singularThreshold)
		}
		inv, err := m.clusterInverse(c)
		if err != nil {
			return nil, err
		}
		v = applyLocal(v, m.nbits, m.partition[c], inv, false)
	}
	return v, nil
}

// FullMatrix materializes the composed operator. Exact models return a copy of
// the stored matrix; factorized models compute it on demand and refuse
// alphabets too large to materialize. Intended for inspection and testing.
func (m *Model) FullMatrix() (*mat.Dense, error) {
	if m.mode == ModeExact {
		var out mat.Dense
		out.CloneFrom(m.full)
		return &out, nil
	}
	if m.Dim() > maxMaterializeDim {
		return nil, fmt.Errorf("refusing to materialize %d x %d matrix from factorized model", m.Dim(), m.Dim())
	}
	return materialize(m.nbits, m.clusters, m.partition), nil
}

func (m *Model) mulFull(a *mat.Dense, p []float64) []float64 {
	var out mat.VecDense
	out.MulVec(a, mat.NewVecDense(len(p), append([]float64(nil), p...)))
	res := make([]float64, len(p))
	copy(res, out.RawVector().Data)
	return res
}

func (m *Model) fullInverse() (*mat.Dense, error) {
	m.fullInvOnce.Do(func() {
		var inv mat.Dense
		if err := inv.Inverse(m.full); err != nil {
			m.fullInvErr = fmt.Errorf("%w: composed matrix is not invertible: %v", ErrSingularModel, err)
			return
		}
		m.fullInv = &inv
	})
	return m.fullInv, m.fullInvErr
}

func (m *Model) clusterInverse(c int) (*mat.Dense, error) {
	m.invOnce[c].Do(func() {
		inv, err := m.clusters[c].Inverse()
		if err != nil {
			m.invErrs[c] = fmt.Errorf("%w: cluster %d is not invertible: %v", ErrSingularModel, c, err)
			return
		}
		m.invs[c] = inv
	})
	return m.invs[c], m.invErrs[c]
}

// applyLocal applies a small matrix a (over the listed qubits) to a dense
// full-alphabet vector, contracting only the cluster's tensor factor. With
// trans set, a^T is applied instead.
func applyLocal(v []float64, nbits int, qubits []int, a *mat.Dense, trans bool) []float64 {
	localDim := 1 << len(qubits)
	out := make([]float64, len(v))
	for idx := range v {
		j := bitstr.SubIndex(idx, nbits, qubits)
		sum := 0.0
		for i := 0; i < localDim; i++ {
			src := bitstr.WithSubIndex(idx, nbits, qubits, i)
			if trans {
				sum += a.At(i, j) * v[src]
			} else {
				sum += a.At(j, i) * v[src]
			}
		}
		out[idx] = sum
	}
	return out
}
