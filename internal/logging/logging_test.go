package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, InfoLevel, cfg.Level)
	assert.Equal(t, os.Stderr, cfg.Output)
	assert.False(t, cfg.Pretty)
	assert.False(t, cfg.LogToFile)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"error", ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{" info ", InfoLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("hidden")
	Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})
	defer Init(DefaultConfig())

	Component("aggregator").Info().Str("scope", "userSettings").Msg("scope loaded")

	out := buf.String()
	assert.Contains(t, out, `"component":"aggregator"`)
	assert.Contains(t, out, `"scope":"userSettings"`)
}

func TestComponentFollowsReinit(t *testing.T) {
	var first, second bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &first})
	Init(Config{Level: InfoLevel, Output: &second})
	defer Init(DefaultConfig())

	Component("watch").Info().Msg("after reinit")

	assert.Empty(t, first.String())
	assert.Contains(t, second.String(), "after reinit")
}

func TestLogToFile(t *testing.T) {
	dir := t.TempDir()
	Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, LogToFile: true, LogDir: dir})
	defer func() {
		Close()
		Init(DefaultConfig())
	}()

	Info().Msg("file log test")

	logPath := GetLogFilePath()
	require.NotEmpty(t, logPath)
	assert.True(t, strings.HasPrefix(logPath, dir))

	name := filepath.Base(logPath)
	assert.True(t, strings.HasPrefix(name, "toolguard-"), name)
	assert.True(t, strings.HasSuffix(name, ".log"), name)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "file log test")
}

func TestClose(t *testing.T) {
	Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, LogToFile: true, LogDir: t.TempDir()})
	require.NotEmpty(t, GetLogFilePath())

	Close()
	assert.Empty(t, GetLogFilePath())
	Init(DefaultConfig())
}

func TestInitWithNilOutput(t *testing.T) {
	assert.NotPanics(t, func() {
		Init(Config{Level: InfoLevel})
	})
	Init(DefaultConfig())
}
