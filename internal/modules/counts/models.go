// Package counts provides the FrequencyTable, the observed-outcome statistics
// that every higher layer of the mitigation engine consumes.
package counts

import (
	"errors"
	"fmt"

	"github.com/fbmaciej/qrem/pkg/bitstr"
)

// ErrMalformedTable indicates outcome counts that cannot form a valid
// frequency table: negative counts, or outcome labels that do not belong to
// the fixed-length binary alphabet.
var ErrMalformedTable = errors.New("malformed frequency table")

// FrequencyTable holds observed outcome counts over the alphabet of n-bit
// strings. It is immutable once constructed: builders and correctors only
// ever read it.
type FrequencyTable struct {
	nbits  int
	shots  int64
	counts map[string]int64
}

// New validates raw counts and builds an immutable FrequencyTable.
// Outcomes absent from the map are treated as observed zero times.
func New(nbits int, raw map[string]int64) (*FrequencyTable, error) {
	if nbits < 1 {
		return nil, fmt.Errorf("%w: number of bits %d must be positive", ErrMalformedTable, nbits)
	}
	if nbits > 30 {
		return nil, fmt.Errorf("%w: %d bits exceeds the supported alphabet size", ErrMalformedTable, nbits)
	}

	c := make(map[string]int64, len(raw))
	var shots int64
	for outcome, n := range raw {
		if !bitstr.Valid(outcome, nbits) {
			return nil, fmt.Errorf("%w: outcome %q is not a %d-bit string", ErrMalformedTable, outcome, nbits)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: outcome %q has negative count %d", ErrMalformedTable, outcome, n)
		}
		if n == 0 {
			continue
		}
		c[outcome] = n
		shots += n
	}

	return &FrequencyTable{nbits: nbits, shots: shots, counts: c}, nil
}

// NumBits returns the bit-string length of the outcome alphabet.
func (t *FrequencyTable) NumBits() int { return t.nbits }

// AlphabetSize returns the number of possible outcomes, 2^n.
func (t *FrequencyTable) AlphabetSize() int { return 1 << t.nbits }

// Shots returns the total number of recorded shots.
func (t *FrequencyTable) Shots() int64 { return t.shots }

// Count returns the recorded count for one outcome.
func (t *FrequencyTable) Count(outcome string) int64 { return t.counts[outcome] }

// Counts returns a copy of the non-zero counts.
func (t *FrequencyTable) Counts() map[string]int64 {
	out := make(map[string]int64, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Vector returns the empirical probability distribution as a dense vector in
// lexicographic outcome order. Fails on an empty table, since zero shots
// define no distribution.
func (t *FrequencyTable) Vector() ([]float64, error) {
	if t.shots == 0 {
		return nil, fmt.Errorf("%w: table has zero shots", ErrMalformedTable)
	}
	v := make([]float64, t.AlphabetSize())
	total := float64(t.shots)
	for outcome, n := range t.counts {
		idx, err := bitstr.Index(outcome)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		v[idx] = float64(n) / total
	}
	return v, nil
}

// Marginal projects the table onto the listed qubits, summing counts over all
// other bits. Used to build per-cluster statistics in factorized corrections.
func (t *FrequencyTable) Marginal(qubits []int) (*FrequencyTable, error) {
	for _, q := range qubits {
		if q < 0 || q >= t.nbits {
			return nil, fmt.Errorf("%w: qubit index %d out of range [0,%d)", ErrMalformedTable, q, t.nbits)
		}
	}
	k := len(qubits)
	raw := make(map[string]int64)
	for outcome, n := range t.counts {
		idx, err := bitstr.Index(outcome)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		sub := bitstr.SubIndex(idx, t.nbits, qubits)
		raw[bitstr.String(sub, k)] += n
	}
	return New(k, raw)
}
