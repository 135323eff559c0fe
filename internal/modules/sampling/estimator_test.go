package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundShrinksWithShots(t *testing.T) {
	prev := 1e18
	for _, shots := range []int64{100, 1000, 10000, 100000} {
		est, err := TVDistanceBound(2, shots, 0.95)
		require.NoError(t, err)
		assert.Less(t, est.Bound, prev, "bound must shrink as shots grow")
		prev = est.Bound
	}
}

func TestBoundQuartersAt16xShots(t *testing.T) {
	// 1/sqrt(N) scaling: 16x the shots means a quarter of the bound.
	base, err := TVDistanceBound(2, 10000, 0.95)
	require.NoError(t, err)
	more, err := TVDistanceBound(2, 160000, 0.95)
	require.NoError(t, err)

	assert.InDelta(t, base.Bound/4, more.Bound, 1e-12)
}

func TestBoundGrowsWithAlphabet(t *testing.T) {
	small, err := TVDistanceBound(4, 10000, 0.95)
	require.NoError(t, err)
	large, err := TVDistanceBound(64, 10000, 0.95)
	require.NoError(t, err)

	assert.Greater(t, large.Bound, small.Bound)
}

func TestBoundGrowsWithConfidence(t *testing.T) {
	loose, err := TVDistanceBound(2, 10000, 0.90)
	require.NoError(t, err)
	tight, err := TVDistanceBound(2, 10000, 0.99)
	require.NoError(t, err)

	assert.Greater(t, tight.Bound, loose.Bound)
}

func TestBoundValidation(t *testing.T) {
	_, err := TVDistanceBound(1, 100, 0.95)
	assert.Error(t, err)

	_, err = TVDistanceBound(2, 0, 0.95)
	assert.Error(t, err)

	_, err = TVDistanceBound(2, 100, 1.0)
	assert.Error(t, err)

	_, err = TVDistanceBound(2, 100, 0)
	assert.Error(t, err)
}

func TestSuggestedTolerance(t *testing.T) {
	est, err := TVDistanceBound(4, 10000, 0.95)
	require.NoError(t, err)

	tol := SuggestedTolerance(4, 10000)
	assert.InDelta(t, est.Bound/10, tol, 1e-15)

	// Floored for absurdly large shot counts.
	assert.Equal(t, 1e-10, SuggestedTolerance(2, 1<<62))
}
