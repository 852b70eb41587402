package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestProductionWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Component("registry").Info("Session created", zap.String("session_id", "term_x"))
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "registry", entry["logger"])
	assert.Equal(t, "Session created", entry["message"])
	assert.Equal(t, "term_x", entry["session_id"])
}

func TestDevelopmentWritesConsole(t *testing.T) {
	cfg := DevelopmentConfig()
	assert.Equal(t, "debug", cfg.Level)

	path := filepath.Join(t.TempDir(), "dev.log")
	cfg.OutputPaths = []string{path}
	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Component("ws", zap.String("viewer_id", "view_a")).Debug("Viewer attached")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "Viewer attached")
	assert.Contains(t, line, "ws")
	assert.Contains(t, line, `"viewer_id": "view_a"`)
	assert.False(t, json.Valid(data), "console output is not JSON")
}

func TestNewDefault(t *testing.T) {
	assert.NotNil(t, NewDefault().Logger)
}
