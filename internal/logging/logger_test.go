package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepperpark/imapcopy/internal/config"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelInfo, "json")
	log.Debug("hidden")
	log.Info("connected", "server", "Source")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "connected", rec["msg"])
	assert.Equal(t, "Source", rec["server"])
}

func TestNewLevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imapcopy.log")
	log := New(config.LoggingConfig{Level: "error", Output: path})
	log.Warn("dropped")
	log.Error("kept", "step", "Connect")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "msg=kept step=Connect")
}

func TestNewDefaultsToWarn(t *testing.T) {
	log := New(config.LoggingConfig{})
	assert.True(t, log.Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))
}
