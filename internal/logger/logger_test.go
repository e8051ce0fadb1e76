package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := newLogger(&buf, config.LogConfig{Level: "warn"}, false)
	require.NoError(t, err)
	defer closeFn()

	log.Info("hidden")
	log.Warn("shown", "owner", "Users")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "owner=Users")
}

func TestNewLogger_JSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := newLogger(&buf, config.LogConfig{}, true)
	require.NoError(t, err)
	defer closeFn()

	log.Info("stored", "filename", "ab.jpg")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stored", entry["msg"])
	assert.Equal(t, "ab.jpg", entry["filename"])
}

func TestNewLogger_File(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "simpleimage.log")
	log, closeFn, err := newLogger(&buf, config.LogConfig{File: path, Format: "text", MaxSizeMB: 1}, true)
	require.NoError(t, err)

	log.Error("variant failed", "preset", "thumb")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "variant failed")
	assert.Contains(t, buf.String(), "variant failed")
}
