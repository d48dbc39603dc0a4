package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestComponentScoping(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf}).Component("engine")
	logger.Info("task started", "task_id", 7)

	out := buf.String()
	assert.Contains(t, out, `"component":"engine"`)
	assert.Contains(t, out, `"task_id":7`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Output: &buf})
	logger.Info("hidden")
	logger.Warn("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
