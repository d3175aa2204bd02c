package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := Get()
	Set(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(prev) })
	return buf
}

func TestInfow(t *testing.T) {
	buf := captureOutput(t)

	Infow("request authorized", "subject", "user1", "tool", "get_weather")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "request authorized", entry["msg"])
	assert.Equal(t, "user1", entry["subject"])
	assert.Equal(t, "get_weather", entry["tool"])
}

func TestErrorf(t *testing.T) {
	buf := captureOutput(t)

	Errorf("failed to load token for %s", "user2")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "failed to load token for user2", entry["msg"])
}

func TestInitializeDoesNotPanicWithoutEnv(t *testing.T) {
	Initialize()
	assert.NotNil(t, Get())
}
