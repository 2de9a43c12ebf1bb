package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.Format = "json"
	opts.Level = "warn"

	logger, closer, err := New(opts, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("Backend unreachable", slog.String("component", "connectivity"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Backend unreachable", entry["msg"])
	assert.Equal(t, "connectivity", entry["component"])
}

func TestNewRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csync.log")
	opts := DefaultOptions()
	opts.File = path

	var stderr bytes.Buffer
	logger, closer, err := New(opts, &stderr)
	require.NoError(t, err)

	logger.Info("Record created", slog.String("local_reference", "RAD-LOCAL-1"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "local_reference=RAD-LOCAL-1")
	assert.Empty(t, stderr.String())
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	opts := DefaultOptions()
	opts.Format = "xml"
	_, _, err := New(opts, &bytes.Buffer{})
	assert.Error(t, err)
}
