package confusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbmaciej/qrem/internal/modules/counts"
)

func mustTable(t *testing.T, nbits int, raw map[string]int64) *counts.FrequencyTable {
	t.Helper()
	ft, err := counts.New(nbits, raw)
	require.NoError(t, err)
	return ft
}

func TestBuildSingleQubit(t *testing.T) {
	runs := map[string]*counts.FrequencyTable{
		"0": mustTable(t, 1, map[string]int64{"0": 95, "1": 5}),
		"1": mustTable(t, 1, map[string]int64{"0": 10, "1": 90}),
	}

	m, err := Build(1, runs, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, m.NumBits())
	assert.Equal(t, 2, m.Dim())
	assert.InDelta(t, 0.95, m.At(0, 0), 1e-12)
	assert.InDelta(t, 0.05, m.At(1, 0), 1e-12)
	assert.InDelta(t, 0.10, m.At(0, 1), 1e-12)
	assert.InDelta(t, 0.90, m.At(1, 1), 1e-12)
}

func TestBuildColumnsStochastic(t *testing.T) {
	runs := map[string]*counts.FrequencyTable{
		"00": mustTable(t, 2, map[string]int64{"00": 90, "01": 4, "10": 4, "11": 2}),
		"01": mustTable(t, 2, map[string]int64{"00": 5, "01": 88, "10": 2, "11": 5}),
		"10": mustTable(t, 2, map[string]int64{"00": 3, "01": 2, "10": 92, "11": 3}),
		"11": mustTable(t, 2, map[string]int64{"00": 1, "01": 5, "10": 6, "11": 88}),
	}

	m, err := Build(2, runs, BuildOptions{})
	require.NoError(t, err)

	for i := 0; i < m.Dim(); i++ {
		sum := 0.0
		for j := 0; j < m.Dim(); j++ {
			sum += m.At(j, i)
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "column %d", i)
	}
}

func TestBuildZeroShotsFails(t *testing.T) {
	runs := map[string]*counts.FrequencyTable{
		"0": mustTable(t, 1, map[string]int64{"0": 95, "1": 5}),
		"1": mustTable(t, 1, nil),
	}

	_, err := Build(1, runs, BuildOptions{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBuildMissingBasisStateFails(t *testing.T) {
	runs := map[string]*counts.FrequencyTable{
		"0": mustTable(t, 1, map[string]int64{"0": 100}),
	}

	_, err := Build(1, runs, BuildOptions{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFromDenseRenormalizesSmallDrift(t *testing.T) {
	// Columns drift from 1 by 1e-8: above the silent tolerance, below the bound.
	entries := []float64{
		0.95 + 1e-8, 0.10,
		0.05, 0.90 + 1e-8,
	}

	m, err := FromDense(1, entries, BuildOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		sum := m.At(0, i) + m.At(1, i)
		assert.InDelta(t, 1.0, sum, 1e-12, "column %d", i)
	}
}

func TestFromDenseRejectsLargeDrift(t *testing.T) {
	entries := []float64{
		0.95, 0.10,
		0.10, 0.90,
	}

	_, err := FromDense(1, entries, BuildOptions{})
	assert.ErrorIs(t, err, ErrCorruptedCalibration)
}

func TestFromDenseRejectsOutOfRangeEntry(t *testing.T) {
	entries := []float64{
		1.05, 0.10,
		-0.05, 0.90,
	}

	_, err := FromDense(1, entries, BuildOptions{})
	assert.ErrorIs(t, err, ErrCorruptedCalibration)
}

func TestIdentity(t *testing.T) {
	m := Identity(2)
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.Equal(t, want, m.At(j, i))
		}
	}
	assert.InDelta(t, 1.0, m.ConditionNumber(), 1e-12)
}

func TestConditionNumber(t *testing.T) {
	good := Identity(1)
	assert.InDelta(t, 1.0, good.ConditionNumber(), 1e-12)

	// A completely uninformative detector: both columns identical.
	bad, err := FromDense(1, []float64{0.5, 0.5, 0.5, 0.5}, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, math.IsInf(bad.ConditionNumber(), 1) || bad.ConditionNumber() > 1e15)
}

func TestInverseRoundTrip(t *testing.T) {
	m, err := FromDense(1, []float64{0.95, 0.10, 0.05, 0.90}, BuildOptions{})
	require.NoError(t, err)

	inv, err := m.Inverse()
	require.NoError(t, err)

	// M^{-1} M = I
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			got := inv.At(i, 0)*m.At(0, j) + inv.At(i, 1)*m.At(1, j)
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(t, want, got, 1e-12)
		}
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	src := []float64{0.95, 0.10, 0.05, 0.90}
	m, err := FromDense(1, src, BuildOptions{})
	require.NoError(t, err)

	restored, err := FromDense(1, m.Entries(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, m.Entries(), restored.Entries())
}
