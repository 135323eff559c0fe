package bitstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRoundTrip(t *testing.T) {
	n := 4
	for i := 0; i < 1<<n; i++ {
		s := String(i, n)
		idx, err := Index(s)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
}

func TestIndexOrdering(t *testing.T) {
	// Lexicographic: "00" < "01" < "10" < "11"
	for i, s := range []string{"00", "01", "10", "11"} {
		idx, err := Index(s)
		require.NoError(t, err)
		assert.Equal(t, i, idx, "outcome %s", s)
	}
}

func TestIndexRejectsNonBinary(t *testing.T) {
	_, err := Index("01x")
	assert.Error(t, err)

	_, err = Index("")
	assert.Error(t, err)
}

func TestBit(t *testing.T) {
	// "101" = index 5: qubit 0 is the leftmost (most significant) bit.
	idx, err := Index("101")
	require.NoError(t, err)

	assert.Equal(t, 1, Bit(idx, 3, 0))
	assert.Equal(t, 0, Bit(idx, 3, 1))
	assert.Equal(t, 1, Bit(idx, 3, 2))
}

func TestSubIndex(t *testing.T) {
	idx, err := Index("1101")
	require.NoError(t, err)

	// Bits of qubits 0 and 3 are '1' and '1' -> sub-index 0b11.
	assert.Equal(t, 3, SubIndex(idx, 4, []int{0, 3}))
	// Bits of qubits 2 and 1 (in that order) are '0' and '1' -> 0b01.
	assert.Equal(t, 1, SubIndex(idx, 4, []int{2, 1}))
}

func TestWithSubIndex(t *testing.T) {
	idx, err := Index("0000")
	require.NoError(t, err)

	got := WithSubIndex(idx, 4, []int{1, 2}, 3) // set qubits 1,2 to '1'
	assert.Equal(t, "0110", String(got, 4))

	// Round trip: writing what was read leaves the index unchanged.
	idx, err = Index("1011")
	require.NoError(t, err)
	sub := SubIndex(idx, 4, []int{0, 2, 3})
	assert.Equal(t, idx, WithSubIndex(idx, 4, []int{0, 2, 3}, sub))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("0101", 4))
	assert.False(t, Valid("0101", 3))
	assert.False(t, Valid("01a1", 4))
}
