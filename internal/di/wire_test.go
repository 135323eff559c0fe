package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbmaciej/qrem/internal/config"
)

func TestWireInitializesEverything(t *testing.T) {
	cfg := &config.Config{
		DataDir:             t.TempDir(),
		Workers:             2,
		ResultRetentionDays: 7,
	}

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.ModelsDB)
	assert.NotNil(t, c.ResultsDB)
	assert.NotNil(t, c.CalibrationRepo)
	assert.NotNil(t, c.ModelRepo)
	assert.NotNil(t, c.ResultRepo)
	assert.NotNil(t, c.CalibrationService)
	assert.NotNil(t, c.Corrector)
	assert.NotNil(t, c.Pool)
	assert.NotNil(t, c.Scheduler)

	// Both databases live under the configured data dir.
	assert.Equal(t, "models", c.ModelsDB.Name())
	assert.Equal(t, "results", c.ResultsDB.Name())
}

func TestWireSchemasAreUsable(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir(), Workers: 1, ResultRetentionDays: 1}

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	// Schemas exist: listing works on fresh databases.
	_, err = c.CalibrationRepo.List()
	assert.NoError(t, err)
	_, err = c.ModelRepo.List()
	assert.NoError(t, err)
}
