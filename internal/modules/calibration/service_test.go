package calibration_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbmaciej/qrem/internal/modules/calibration"
	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	qremtesting "github.com/fbmaciej/qrem/internal/testing"
)

func testService(t *testing.T) (*calibration.Service, *noisemodel.Repository, func()) {
	t.Helper()
	db, cleanup := qremtesting.NewTestDB(t, "models")

	repo := calibration.NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, repo.InitSchema())
	modelRepo := noisemodel.NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, modelRepo.InitSchema())

	svc := calibration.NewService(repo, modelRepo, calibration.ServiceConfig{}, zerolog.Nop())
	return svc, modelRepo, cleanup
}

func table(t *testing.T, nbits int, raw map[string]int64) *counts.FrequencyTable {
	t.Helper()
	ft, err := counts.New(nbits, raw)
	require.NoError(t, err)
	return ft
}

// singleQubitClusters calibrates each qubit independently with P(0|0)=0.95
// and P(1|1)=0.90.
func singleQubitClusters(t *testing.T, nbits int) []calibration.ClusterCalibration {
	t.Helper()
	clusters := make([]calibration.ClusterCalibration, nbits)
	for q := 0; q < nbits; q++ {
		clusters[q] = calibration.ClusterCalibration{
			Qubits: []int{q},
			Runs: map[string]*counts.FrequencyTable{
				"0": table(t, 1, map[string]int64{"0": 950, "1": 50}),
				"1": table(t, 1, map[string]int64{"0": 100, "1": 900}),
			},
		}
	}
	return clusters
}

func TestSubmitAndRoundTrip(t *testing.T) {
	svc, _, cleanup := testService(t)
	defer cleanup()

	set, err := svc.Submit("ibmq-lima", 2, singleQubitClusters(t, 2))
	require.NoError(t, err)
	require.NotEmpty(t, set.ID)

	loaded, err := svc.Get(set.ID)
	require.NoError(t, err)
	assert.Equal(t, "ibmq-lima", loaded.Name)
	assert.Equal(t, 2, loaded.NumBits)
	require.Len(t, loaded.Clusters, 2)
	assert.Equal(t, []int{1}, loaded.Clusters[1].Qubits)
	assert.Equal(t, int64(950), loaded.Clusters[0].Runs["0"].Count("0"))
	assert.Equal(t, int64(900), loaded.Clusters[1].Runs["1"].Count("1"))
}

func TestSubmitRejectsBadPartition(t *testing.T) {
	svc, _, cleanup := testService(t)
	defer cleanup()

	// Qubit 1 is never calibrated.
	clusters := singleQubitClusters(t, 1)
	_, err := svc.Submit("partial", 2, clusters)
	assert.ErrorIs(t, err, noisemodel.ErrInvalidPartition)
}

func TestSubmitRejectsMismatchedRun(t *testing.T) {
	svc, _, cleanup := testService(t)
	defer cleanup()

	clusters := singleQubitClusters(t, 1)
	clusters[0].Runs["00"] = table(t, 2, map[string]int64{"00": 10})
	_, err := svc.Submit("bad", 1, clusters)
	assert.ErrorIs(t, err, counts.ErrMalformedTable)
}

func TestBuildModelFromCalibration(t *testing.T) {
	svc, modelRepo, cleanup := testService(t)
	defer cleanup()

	set, err := svc.Submit("ibmq-lima", 2, singleQubitClusters(t, 2))
	require.NoError(t, err)

	modelID, model, err := svc.BuildModel(set.ID, "lima-model")
	require.NoError(t, err)
	require.NotEmpty(t, modelID)

	assert.Equal(t, 2, model.NumBits())
	assert.Equal(t, 2, model.NumClusters())
	assert.InDelta(t, 0.95, model.Cluster(0).At(0, 0), 1e-12)
	assert.InDelta(t, 0.90, model.Cluster(1).At(1, 1), 1e-12)

	// The model was persisted under the returned ID.
	loaded, meta, err := modelRepo.Get(modelID)
	require.NoError(t, err)
	assert.Equal(t, "lima-model", meta.Name)
	assert.Equal(t, model.Mode(), loaded.Mode())
}

func TestBuildModelMissingBasisState(t *testing.T) {
	svc, _, cleanup := testService(t)
	defer cleanup()

	clusters := singleQubitClusters(t, 1)
	delete(clusters[0].Runs, "1")
	set, err := svc.Submit("partial-runs", 1, clusters)
	require.NoError(t, err, "submission tolerates missing runs")

	_, _, err = svc.BuildModel(set.ID, "m")
	assert.ErrorIs(t, err, confusion.ErrInsufficientData)
}

func TestBuildModelUnknownCalibration(t *testing.T) {
	svc, _, cleanup := testService(t)
	defer cleanup()

	_, _, err := svc.BuildModel("nope", "m")
	assert.ErrorIs(t, err, calibration.ErrCalibrationNotFound)
}

func TestListAndDeleteCalibrations(t *testing.T) {
	svc, _, cleanup := testService(t)
	defer cleanup()

	a, err := svc.Submit("a", 1, singleQubitClusters(t, 1))
	require.NoError(t, err)
	_, err = svc.Submit("b", 2, singleQubitClusters(t, 2))
	require.NoError(t, err)

	metas, err := svc.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)

	require.NoError(t, svc.Delete(a.ID))
	metas, err = svc.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)

	assert.ErrorIs(t, svc.Delete(a.ID), calibration.ErrCalibrationNotFound)
}
