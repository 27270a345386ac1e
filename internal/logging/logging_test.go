package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json", "checkin")
	log.Debug().Str("guest_id", "g-1").Msg("Duplicate check-in ignored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "checkin", line["component"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "g-1", line["guest_id"])
}

func TestNewWithWriter_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", "json", "")
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "console", "whatsapp")
	log.Info().Msg("Connected to WhatsApp")
	assert.Contains(t, buf.String(), "Connected to WhatsApp")
	assert.Contains(t, buf.String(), "whatsapp")
}
