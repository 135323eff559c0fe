// Package calibration manages calibration datasets and turns them into noise
// models. A calibration set holds, per cluster, one counts table for every
// prepared basis state of that cluster.
package calibration

import (
	"errors"
	"fmt"
	"time"

	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	"github.com/fbmaciej/qrem/pkg/bitstr"
)

// ErrCalibrationNotFound indicates an unknown calibration ID.
var ErrCalibrationNotFound = errors.New("calibration set not found")

// ClusterCalibration is the calibration data of one cluster: the qubits it
// covers and one run per prepared basis state, keyed by the preparation
// bit-string over the cluster's qubits.
type ClusterCalibration struct {
	Qubits []int
	Runs   map[string]*counts.FrequencyTable
}

// Set is a complete calibration dataset for an nbits-qubit device.
type Set struct {
	ID        string
	Name      string
	NumBits   int
	CreatedAt time.Time
	Clusters  []ClusterCalibration
}

// Meta is the listing view of a calibration set.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NumBits   int       `json:"nbits"`
	Clusters  int       `json:"clusters"`
	CreatedAt time.Time `json:"created_at"`
}

// Partition returns the cluster structure of the set.
func (s *Set) Partition() noisemodel.Partition {
	p := make(noisemodel.Partition, len(s.Clusters))
	for i, c := range s.Clusters {
		p[i] = append([]int(nil), c.Qubits...)
	}
	return p
}

// Validate checks that the clusters partition the device and that every run
// is a well-formed table over its cluster's qubits. Missing basis states are
// allowed here; they surface as ErrInsufficientData at model-build time.
func (s *Set) Validate() error {
	if err := s.Partition().Validate(s.NumBits); err != nil {
		return err
	}
	for ci, c := range s.Clusters {
		k := len(c.Qubits)
		for prep, run := range c.Runs {
			if !bitstr.Valid(prep, k) {
				return fmt.Errorf("%w: cluster %d preparation label %q is not a %d-bit string",
					counts.ErrMalformedTable, ci, prep, k)
			}
			if run == nil || run.NumBits() != k {
				return fmt.Errorf("%w: cluster %d run %q does not cover %d qubits",
					counts.ErrMalformedTable, ci, prep, k)
			}
		}
	}
	return nil
}
