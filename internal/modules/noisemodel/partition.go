package noisemodel

import (
	"errors"
	"fmt"
)

// ErrInvalidPartition indicates a cluster assignment that does not cover all
// qubits exactly once.
var ErrInvalidPartition = errors.New("invalid cluster partition")

// Partition groups the measured qubits into disjoint clusters. Each cluster is
// modeled by one confusion matrix; errors across clusters are assumed
// independent. Cluster granularity is the caller's accuracy/tractability
// trade-off and is never derived here.
type Partition [][]int

// SingleQubit returns the finest partition: every qubit its own cluster.
func SingleQubit(nbits int) Partition {
	p := make(Partition, nbits)
	for i := 0; i < nbits; i++ {
		p[i] = []int{i}
	}
	return p
}

// FullSystem returns the coarsest partition: all qubits in one cluster.
func FullSystem(nbits int) Partition {
	qubits := make([]int, nbits)
	for i := range qubits {
		qubits[i] = i
	}
	return Partition{qubits}
}

// Validate checks that the clusters partition {0,...,nbits-1} exactly:
// no overlap, no gap, no out-of-range index, no empty cluster.
func (p Partition) Validate(nbits int) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: no clusters", ErrInvalidPartition)
	}
	seen := make([]bool, nbits)
	total := 0
	for c, cluster := range p {
		if len(cluster) == 0 {
			return fmt.Errorf("%w: cluster %d is empty", ErrInvalidPartition, c)
		}
		for _, q := range cluster {
			if q < 0 || q >= nbits {
				return fmt.Errorf("%w: cluster %d contains qubit %d, outside [0,%d)",
					ErrInvalidPartition, c, q, nbits)
			}
			if seen[q] {
				return fmt.Errorf("%w: qubit %d assigned to more than one cluster",
					ErrInvalidPartition, q)
			}
			seen[q] = true
			total++
		}
	}
	if total != nbits {
		for q, ok := range seen {
			if !ok {
				return fmt.Errorf("%w: qubit %d not assigned to any cluster", ErrInvalidPartition, q)
			}
		}
	}
	return nil
}

// NumBits returns the total number of qubits covered by the partition.
func (p Partition) NumBits() int {
	n := 0
	for _, cluster := range p {
		n += len(cluster)
	}
	return n
}

// clone returns a deep copy, so models never share mutable partition storage
// with callers.
func (p Partition) clone() Partition {
	out := make(Partition, len(p))
	for i, cluster := range p {
		out[i] = append([]int(nil), cluster...)
	}
	return out
}
