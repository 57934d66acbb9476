package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Options{Output: &buf, Level: level, Format: "json"}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_JSONFields(t *testing.T) {
	log, buf := newBuffered(LevelInfo)

	log.With(Component("coordinator")).Info("progress updated",
		Version(3),
		Err(errors.New("boom")),
		ModuleID("foundation"),
	)

	entry := decodeLine(t, buf)
	assert.Equal(t, "progress updated", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, float64(3), entry["version"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "foundation", entry["module_id"])
}

func TestLogger_LevelFilters(t *testing.T) {
	log, buf := newBuffered(LevelWarn)

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestUserID_IsHashed(t *testing.T) {
	f := UserID("alice@example.com")

	assert.Equal(t, "user_id", f.Key)
	assert.NotContains(t, f.Value, "alice")
	assert.Equal(t, f, UserID("alice@example.com"))
	assert.NotEqual(t, f, UserID("bob@example.com"))
}

func TestContext_RoundTrip(t *testing.T) {
	log, buf := newBuffered(LevelInfo)
	ctx := WithContext(context.Background(), log.WithRequestID("req-1"))

	FromContext(ctx).Info("handled")

	assert.Equal(t, "req-1", decodeLine(t, buf)[RequestIDKey])
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
