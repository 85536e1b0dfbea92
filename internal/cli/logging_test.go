package cli

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apeichen/fpga-aichip/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger := setupLogging(config.LogConfig{Level: "warn", Format: "json"}, false, buf)
	logger.Info("hidden")
	logger.Warn("shown", "channel", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"channel":2`)

	buf.Reset()
	logger = setupLogging(config.LogConfig{Level: "error", Format: "text"}, true, buf)
	logger.Debug("trace line")
	assert.Contains(t, buf.String(), "level=DEBUG msg=\"trace line\"")
}
