// Package bitstr maps between measurement outcome bit-strings and their
// lexicographic indices.
//
// Outcomes over n measured qubits are strings of '0'/'1' of length n. The
// leftmost character is qubit 0 and carries the most significant bit, so for
// n=2 the alphabet in order is "00", "01", "10", "11" with indices 0..3.
// This ordering is fixed for the lifetime of any model built on top of it.
package bitstr

import "fmt"

// Index converts a bit-string to its lexicographic index.
func Index(s string) (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty outcome string")
	}
	if len(s) > 62 {
		return 0, fmt.Errorf("outcome string %q exceeds 62 bits", s)
	}
	idx := 0
	for i := 0; i < len(s); i++ {
		idx <<= 1
		switch s[i] {
		case '0':
		case '1':
			idx |= 1
		default:
			return 0, fmt.Errorf("outcome string %q contains non-binary character %q", s, s[i])
		}
	}
	return idx, nil
}

// String converts a lexicographic index back to an n-bit string.
func String(index, n int) string {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		if index&1 == 1 {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		index >>= 1
	}
	return string(b)
}

// Bit returns the value (0 or 1) of the given qubit's bit within an n-bit index.
// Qubit 0 is the most significant bit.
func Bit(index, n, qubit int) int {
	return (index >> (n - 1 - qubit)) & 1
}

// SubIndex extracts the bits belonging to the listed qubits from an n-bit index
// and packs them, in the listed order, into a len(qubits)-bit index.
func SubIndex(index, n int, qubits []int) int {
	sub := 0
	for _, q := range qubits {
		sub = sub<<1 | Bit(index, n, q)
	}
	return sub
}

// WithSubIndex returns index with the bits of the listed qubits replaced by the
// bits of sub (packed in the listed order). The inverse of SubIndex on those
// positions.
func WithSubIndex(index, n int, qubits []int, sub int) int {
	for i := len(qubits) - 1; i >= 0; i-- {
		q := qubits[i]
		shift := n - 1 - q
		index &^= 1 << shift
		index |= (sub & 1) << shift
		sub >>= 1
	}
	return index
}

// Valid reports whether s is a well-formed bit-string of length n.
func Valid(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return false
		}
	}
	return true
}
