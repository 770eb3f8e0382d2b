package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogrusLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogrusLogger("debug", "json", &buf)
	require.NoError(t, err)

	NewLogrus(l).Info("Retrying operation", "operation", "plaid.accounts", "attempt", 2, "error", errors.New("status 503"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "Retrying operation", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "plaid.accounts", entry["operation"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "status 503", entry["error"])
}

func TestLogrusLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogrusLogger("info", "json", &buf)
	require.NoError(t, err)

	NewLogrus(l).With("component", "plaid").Warn("slow", "dangling")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "plaid", entry["component"])
	assert.Equal(t, "dangling", entry["extra"])
	assert.Equal(t, "warning", entry["level"])
}

func TestLogrusLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogrusLogger("warn", "text", &buf)
	require.NoError(t, err)

	NewLogrus(l).Debug("hidden")
	NewLogrus(l).Info("hidden")
	assert.Zero(t, buf.Len())

	NewLogrus(l).Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogrusLogger_Invalid(t *testing.T) {
	_, err := NewLogrusLogger("loud", "json", nil)
	assert.Error(t, err)

	_, err = NewLogrusLogger("info", "xml", nil)
	assert.Error(t, err)
}

func TestNewLogrus_NilUsesStandardLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewLogrus(nil).Debug("noop")
	})
}

func TestZerologLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(zerolog.New(&buf))

	l.Error("All retry attempts failed", "operation", "db.query", "attempts", 3, "error", errors.New("deadlock"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "All retry attempts failed", entry["message"])
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "db.query", entry["operation"])
	assert.Equal(t, float64(3), entry["attempts"])
	assert.Equal(t, "deadlock", entry["error"])
}

func TestZerologLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Debug("hidden", "k", "v")
	assert.Zero(t, buf.Len())

	l.Info("shown", 42, "non-string key")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "non-string key", entry["42"])
}

func TestLoggersIgnoreLevelMismatch(t *testing.T) {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	l.SetLevel(logrus.PanicLevel)
	assert.NotPanics(t, func() {
		NewLogrus(l).Error("quiet")
	})
}
