package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestNewSetsGlobalLevel(t *testing.T) {
	New(Config{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	New(Config{Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	// Unknown levels fall back to info.
	New(Config{Level: "whisper"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetGlobalLogger(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	SetGlobalLogger(zerolog.New(&buf))

	log.Info().Msg("routed through global")
	assert.Contains(t, buf.String(), "routed through global")
}
