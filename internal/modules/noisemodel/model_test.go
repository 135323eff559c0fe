package noisemodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/counts"
)

func mustMatrix(t *testing.T, nbits int, entries []float64) *confusion.Matrix {
	t.Helper()
	m, err := confusion.FromDense(nbits, entries, confusion.BuildOptions{})
	require.NoError(t, err)
	return m
}

// qubitMatrix is the single-qubit confusion matrix used throughout:
// P(0|0)=0.95, P(1|0)=0.05, P(0|1)=0.10, P(1|1)=0.90.
func qubitMatrix(t *testing.T) *confusion.Matrix {
	t.Helper()
	return mustMatrix(t, 1, []float64{0.95, 0.10, 0.05, 0.90})
}

func TestComposeSelectsMode(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), qubitMatrix(t)}

	exact, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{ExactModeThreshold: 4})
	require.NoError(t, err)
	assert.Equal(t, ModeExact, exact.Mode())

	factorized, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{ExactModeThreshold: 2})
	require.NoError(t, err)
	assert.Equal(t, ModeFactorized, factorized.Mode())
}

func TestComposeRejectsBadPartition(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), qubitMatrix(t)}

	_, err := Compose(3, clusters, Partition{{0}, {1}}, ComposeOptions{})
	assert.ErrorIs(t, err, ErrInvalidPartition)

	_, err = Compose(2, clusters[:1], SingleQubit(2), ComposeOptions{})
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestComposeRejectsDimensionMismatch(t *testing.T) {
	// A 1-qubit matrix assigned to a 2-qubit cluster.
	clusters := []*confusion.Matrix{qubitMatrix(t)}

	_, err := Compose(2, clusters, FullSystem(2), ComposeOptions{})
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestExactAndFactorizedComposeIdentically(t *testing.T) {
	// Non-contiguous partition: qubits 0 and 2 share a cluster.
	pair := mustMatrix(t, 2, []float64{
		0.90, 0.05, 0.03, 0.01,
		0.04, 0.88, 0.02, 0.05,
		0.04, 0.02, 0.92, 0.06,
		0.02, 0.05, 0.03, 0.88,
	})
	single := qubitMatrix(t)
	partition := Partition{{0, 2}, {1}}
	clusters := []*confusion.Matrix{pair, single}

	exact, err := Compose(3, clusters, partition, ComposeOptions{ExactModeThreshold: 8})
	require.NoError(t, err)
	factorized, err := Compose(3, clusters, partition, ComposeOptions{ExactModeThreshold: 2})
	require.NoError(t, err)
	require.Equal(t, ModeExact, exact.Mode())
	require.Equal(t, ModeFactorized, factorized.Mode())

	em, err := exact.FullMatrix()
	require.NoError(t, err)
	fm, err := factorized.FullMatrix()
	require.NoError(t, err)

	for j := 0; j < 8; j++ {
		for i := 0; i < 8; i++ {
			assert.InDelta(t, em.At(j, i), fm.At(j, i), 1e-12, "entry (%d,%d)", j, i)
		}
	}
}

func TestApplyAgreesAcrossModes(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), qubitMatrix(t), qubitMatrix(t)}
	p := []float64{0.2, 0.1, 0.05, 0.15, 0.1, 0.1, 0.05, 0.25}

	exact, err := Compose(3, clusters, SingleQubit(3), ComposeOptions{ExactModeThreshold: 8})
	require.NoError(t, err)
	factorized, err := Compose(3, clusters, SingleQubit(3), ComposeOptions{ExactModeThreshold: 2})
	require.NoError(t, err)

	qe, err := exact.Apply(p)
	require.NoError(t, err)
	qf, err := factorized.Apply(p)
	require.NoError(t, err)

	for i := range qe {
		assert.InDelta(t, qe[i], qf[i], 1e-12)
	}
}

func TestApplyPreservesNormalization(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), qubitMatrix(t)}
	model, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{ExactModeThreshold: 2})
	require.NoError(t, err)

	uniform := []float64{0.25, 0.25, 0.25, 0.25}
	q, err := model.Apply(uniform)
	require.NoError(t, err)

	sum := 0.0
	for _, v := range q {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestApplyInverseRoundTrip(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), qubitMatrix(t)}
	p := []float64{0.4, 0.1, 0.1, 0.4}

	for _, threshold := range []int{2, 4} {
		model, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{ExactModeThreshold: threshold})
		require.NoError(t, err)

		q, err := model.Apply(p)
		require.NoError(t, err)
		back, err := model.ApplyInverse(q, 0)
		require.NoError(t, err)

		for i := range p {
			assert.InDelta(t, p[i], back[i], 1e-9, "mode %s", model.Mode())
		}
	}
}

func TestApplyInverseSingular(t *testing.T) {
	// A detector that reports a fair coin regardless of the true state.
	useless := mustMatrix(t, 1, []float64{0.5, 0.5, 0.5, 0.5})
	model, err := Compose(2, []*confusion.Matrix{useless, qubitMatrix(t)}, SingleQubit(2),
		ComposeOptions{ExactModeThreshold: 2})
	require.NoError(t, err)

	_, err = model.ApplyInverse([]float64{0.25, 0.25, 0.25, 0.25}, 0)
	assert.ErrorIs(t, err, ErrSingularModel)
}

func TestIdentityModelIsNoOp(t *testing.T) {
	model, err := Identity(3, Partition{{0, 1}, {2}}, ComposeOptions{})
	require.NoError(t, err)

	p := []float64{0.3, 0.05, 0.05, 0.1, 0.1, 0.1, 0.1, 0.2}
	q, err := model.Apply(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p, q, 1e-12)

	back, err := model.ApplyInverse(p, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p, back, 1e-12)
}

func TestApplyRejectsDimensionMismatch(t *testing.T) {
	model, err := Identity(2, SingleQubit(2), ComposeOptions{})
	require.NoError(t, err)

	_, err = model.Apply([]float64{0.5, 0.5})
	assert.ErrorIs(t, err, counts.ErrMalformedTable)
}

func TestApplyTranspose(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), qubitMatrix(t)}
	model, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{ExactModeThreshold: 4})
	require.NoError(t, err)

	full, err := model.FullMatrix()
	require.NoError(t, err)

	p := []float64{0.4, 0.3, 0.2, 0.1}
	got, err := model.ApplyTranspose(p)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		want := 0.0
		for j := 0; j < 4; j++ {
			want += full.At(j, i) * p[j]
		}
		assert.InDelta(t, want, got[i], 1e-12)
	}

	// Factorized transpose agrees with the materialized one.
	factorized, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{ExactModeThreshold: 2})
	require.NoError(t, err)
	gotF, err := factorized.ApplyTranspose(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, got, gotF, 1e-12)
}

func TestConditionNumbers(t *testing.T) {
	clusters := []*confusion.Matrix{qubitMatrix(t), confusion.Identity(1)}
	model, err := Compose(2, clusters, SingleQubit(2), ComposeOptions{})
	require.NoError(t, err)

	conds := model.ConditionNumbers()
	require.Len(t, conds, 2)
	assert.Greater(t, conds[0], 1.0)
	assert.InDelta(t, 1.0, conds[1], 1e-12)
	assert.Equal(t, conds[0], model.MaxConditionNumber())
}
