// ABOUTME: Tests for logger construction
// ABOUTME: Checks level parsing and filtering

package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]log.Level{
		"debug":   log.DebugLevel,
		"INFO":    log.InfoLevel,
		"":        log.InfoLevel,
		"warning": log.WarnLevel,
		" error ": log.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "deal", "deal-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "deal=deal-1")
}

func TestNewUnknownLevelStillLogs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "chatty")
	assert.Error(t, err)
	require.NotNil(t, logger)

	logger.Info("still here")
	assert.Contains(t, buf.String(), "still here")
}
