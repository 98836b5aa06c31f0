package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup("debug", "json", &buf))

	log.Debug().Str("mode", "direct").Msg("relay started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "direct", line["mode"])
	assert.Equal(t, "relay started", line["message"])
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup("warn", "json", &buf))

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestSetup_Rejects(t *testing.T) {
	assert.Error(t, Setup("loud", "json", nil))
	assert.Error(t, Setup("info", "xml", nil))
}
