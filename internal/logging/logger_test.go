package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "detector")

	log.Info("boxes found", "count", 3, "page", 1, "err", errors.New("boom"), "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "boxes found", entry["message"])
	assert.Equal(t, "detector", entry["component"])
	assert.EqualValues(t, 3, entry["count"])
	assert.EqualValues(t, 1, entry["page"])
	assert.Equal(t, "boom", entry["err"])
	assert.NotContains(t, entry, "dangling")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Setup("loud", "json"))
	require.NoError(t, Setup("info", "json"))
}
