package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 256, cfg.ExactModeThreshold)
	assert.Equal(t, DistanceSquaredL2, cfg.DistanceMetric)
	assert.Equal(t, 4, cfg.Workers)
	assert.Zero(t, cfg.ConvergenceTolerance, "tolerance defaults to derived-from-bound")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QREM_PORT", "9090")
	t.Setenv("QREM_DISTANCE_METRIC", DistanceNLL)
	t.Setenv("QREM_EXACT_MODE_THRESHOLD", "16")
	t.Setenv("QREM_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DistanceNLL, cfg.DistanceMetric)
	assert.Equal(t, 16, cfg.ExactModeThreshold)
	assert.Equal(t, 8, cfg.Workers)
}

func TestLoadRejectsUnknownMetric(t *testing.T) {
	t.Setenv("QREM_DISTANCE_METRIC", "chi-squared")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("QREM_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}
