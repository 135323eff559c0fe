package noisemodel

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fbmaciej/qrem/internal/modules/confusion"
)

const snapshotVersion = 1

// snapshot is the persisted form of a model: the exact partition structure and
// every cluster matrix entry, bit-exact, so a reloaded model reproduces the
// original's corrections.
type snapshot struct {
	Version   int         `msgpack:"version"`
	NumBits   int         `msgpack:"nbits"`
	Mode      string      `msgpack:"mode"`
	Partition [][]int     `msgpack:"partition"`
	Clusters  [][]float64 `msgpack:"clusters"` // row-major entries, partition order
}

// MarshalBinary encodes the model for persistence.
func (m *Model) MarshalBinary() ([]byte, error) {
	snap := snapshot{
		Version:   snapshotVersion,
		NumBits:   m.nbits,
		Mode:      string(m.mode),
		Partition: m.partition.clone(),
		Clusters:  make([][]float64, len(m.clusters)),
	}
	for c, cm := range m.clusters {
		snap.Clusters[c] = cm.Entries()
	}
	return msgpack.Marshal(snap)
}

// UnmarshalModel rebuilds a model from its persisted form, revalidating the
// partition and matrix stochasticity. The persisted mode wins over any
// threshold configuration, so a model round-trips into the same variant it
// was built as.
func UnmarshalModel(data []byte) (*Model, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode noise model snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported noise model snapshot version %d", snap.Version)
	}

	partition := Partition(snap.Partition)
	clusters := make([]*confusion.Matrix, len(snap.Clusters))
	for c, entries := range snap.Clusters {
		if c >= len(partition) {
			return nil, fmt.Errorf("%w: %d cluster matrices for %d clusters",
				ErrInvalidPartition, len(snap.Clusters), len(partition))
		}
		cm, err := confusion.FromDense(len(partition[c]), entries, confusion.BuildOptions{})
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", c, err)
		}
		clusters[c] = cm
	}

	// Force the persisted mode: a threshold of 1 can never admit exact mode,
	// while the model's own alphabet size always does.
	opts := ComposeOptions{ExactModeThreshold: 1}
	if Mode(snap.Mode) == ModeExact {
		opts.ExactModeThreshold = 1 << snap.NumBits
	}
	return Compose(snap.NumBits, clusters, partition, opts)
}
