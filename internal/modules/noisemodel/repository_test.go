package noisemodel_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	qremtesting "github.com/fbmaciej/qrem/internal/testing"
)

func testRepo(t *testing.T) (*noisemodel.Repository, func()) {
	t.Helper()
	db, cleanup := qremtesting.NewTestDB(t, "models")
	repo := noisemodel.NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, repo.InitSchema())
	return repo, cleanup
}

func buildModel(t *testing.T, threshold int) *noisemodel.Model {
	t.Helper()
	single, err := confusion.FromDense(1, []float64{0.95, 0.10, 0.05, 0.90}, confusion.BuildOptions{})
	require.NoError(t, err)
	pair, err := confusion.FromDense(2, []float64{
		0.90, 0.05, 0.03, 0.01,
		0.04, 0.88, 0.02, 0.05,
		0.04, 0.02, 0.92, 0.06,
		0.02, 0.05, 0.03, 0.88,
	}, confusion.BuildOptions{})
	require.NoError(t, err)

	model, err := noisemodel.Compose(3, []*confusion.Matrix{pair, single},
		noisemodel.Partition{{0, 2}, {1}}, noisemodel.ComposeOptions{ExactModeThreshold: threshold})
	require.NoError(t, err)
	return model
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo, cleanup := testRepo(t)
	defer cleanup()

	model := buildModel(t, 2) // factorized
	require.NoError(t, repo.Save("m-1", "ibmq-test", model))

	loaded, meta, err := repo.Get("m-1")
	require.NoError(t, err)
	assert.Equal(t, "ibmq-test", meta.Name)
	assert.Equal(t, 3, meta.NumBits)
	assert.Equal(t, noisemodel.ModeFactorized, meta.Mode)
	assert.Equal(t, 2, meta.Clusters)

	// Mode survives the round trip regardless of thresholds.
	assert.Equal(t, model.Mode(), loaded.Mode())
	assert.Equal(t, model.Partition(), loaded.Partition())

	// Matrix entries round-trip bit-exactly.
	for c := 0; c < model.NumClusters(); c++ {
		assert.Equal(t, model.Cluster(c).Entries(), loaded.Cluster(c).Entries(), "cluster %d", c)
	}
}

func TestExactModeRoundTrip(t *testing.T) {
	repo, cleanup := testRepo(t)
	defer cleanup()

	model := buildModel(t, 8) // exact
	require.NoError(t, repo.Save("m-2", "exact", model))

	loaded, _, err := repo.Get("m-2")
	require.NoError(t, err)
	require.Equal(t, noisemodel.ModeExact, loaded.Mode())

	// The composed operators agree entrywise.
	want, err := model.FullMatrix()
	require.NoError(t, err)
	got, err := loaded.FullMatrix()
	require.NoError(t, err)
	for j := 0; j < 8; j++ {
		for i := 0; i < 8; i++ {
			assert.Equal(t, want.At(j, i), got.At(j, i))
		}
	}
}

func TestGetMissing(t *testing.T) {
	repo, cleanup := testRepo(t)
	defer cleanup()

	_, _, err := repo.Get("nope")
	assert.ErrorIs(t, err, noisemodel.ErrModelNotFound)
}

func TestListAndDelete(t *testing.T) {
	repo, cleanup := testRepo(t)
	defer cleanup()

	require.NoError(t, repo.Save("m-1", "a", buildModel(t, 2)))
	require.NoError(t, repo.Save("m-2", "b", buildModel(t, 8)))

	metas, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, metas, 2)

	require.NoError(t, repo.Delete("m-1"))
	metas, err = repo.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)

	assert.ErrorIs(t, repo.Delete("m-1"), noisemodel.ErrModelNotFound)
}
