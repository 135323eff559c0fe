package counts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidTable(t *testing.T) {
	ft, err := New(2, map[string]int64{"00": 460, "01": 140, "10": 140, "11": 260})
	require.NoError(t, err)

	assert.Equal(t, 2, ft.NumBits())
	assert.Equal(t, 4, ft.AlphabetSize())
	assert.Equal(t, int64(1000), ft.Shots())
	assert.Equal(t, int64(460), ft.Count("00"))
	assert.Equal(t, int64(0), ft.Count("11x"))
}

func TestNewRejectsNegativeCount(t *testing.T) {
	_, err := New(2, map[string]int64{"00": -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestNewRejectsAlphabetMismatch(t *testing.T) {
	_, err := New(2, map[string]int64{"000": 5})
	assert.ErrorIs(t, err, ErrMalformedTable)

	_, err = New(2, map[string]int64{"0x": 5})
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestVectorNormalized(t *testing.T) {
	ft, err := New(2, map[string]int64{"00": 1, "01": 1, "10": 1, "11": 1})
	require.NoError(t, err)

	v, err := ft.Vector()
	require.NoError(t, err)
	require.Len(t, v, 4)

	sum := 0.0
	for _, p := range v {
		assert.InDelta(t, 0.25, p, 1e-12)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestVectorLexicographicOrder(t *testing.T) {
	ft, err := New(2, map[string]int64{"01": 1, "11": 3})
	require.NoError(t, err)

	v, err := ft.Vector()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0, 0.75}, v)
}

func TestVectorEmptyTable(t *testing.T) {
	ft, err := New(2, nil)
	require.NoError(t, err)

	_, err = ft.Vector()
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestMarginal(t *testing.T) {
	ft, err := New(3, map[string]int64{
		"000": 10,
		"010": 20,
		"101": 30,
		"111": 40,
	})
	require.NoError(t, err)

	m, err := ft.Marginal([]int{0})
	require.NoError(t, err)
	assert.Equal(t, int64(30), m.Count("0"))
	assert.Equal(t, int64(70), m.Count("1"))

	m, err = ft.Marginal([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(10), m.Count("00"))
	assert.Equal(t, int64(30), m.Count("01"))
	assert.Equal(t, int64(20), m.Count("10"))
	assert.Equal(t, int64(40), m.Count("11"))
}

func TestMarginalRejectsBadQubit(t *testing.T) {
	ft, err := New(2, map[string]int64{"00": 1})
	require.NoError(t, err)

	_, err = ft.Marginal([]int{2})
	assert.ErrorIs(t, err, ErrMalformedTable)
}
