package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	got, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, got)
}

func TestJSONOutputCarriesAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.log")
	logger, err := NewLogger(&Config{Level: slog.LevelInfo, Format: "json", Output: path})
	require.NoError(t, err)

	logger.WithComponent("coordinator").WithOrder("order-1").Info("order stored")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "order stored", entry["msg"])
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "order-1", entry["order_id"])
}

type codedError struct{}

func (codedError) Error() string { return "order expired" }
func (codedError) Code() string  { return "VALIDATION_FAILED" }

func TestWithErrorSurfacesCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.log")
	logger, err := NewLogger(&Config{Level: slog.LevelInfo, Format: "json", Output: path})
	require.NoError(t, err)

	logger.WithError(codedError{}).Warn("intent rejected")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "order expired", entry["error"])
	assert.Equal(t, "VALIDATION_FAILED", entry["error_code"])
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.log")
	logger, err := NewLogger(&Config{Level: slog.LevelWarn, Format: "text", Output: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}
