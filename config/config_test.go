package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/puzzle-miner/extract"
)

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvDurationFallback(t *testing.T) {
	v, err := envDuration("TEST_DUR_MISSING", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "puzzles.db", cfg.DBPath)
	assert.Equal(t, 600*time.Millisecond, cfg.EngineWatchdog)
	assert.Equal(t, 15*time.Minute, cfg.JobLease)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PUZZLER_PORT", "9090")
	t.Setenv("PUZZLER_ENGINE_PATH", "/opt/stockfish")
	t.Setenv("PUZZLER_ENGINE_WATCHDOG", "1s")
	t.Setenv("PUZZLER_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/opt/stockfish", cfg.EnginePath)
	assert.Equal(t, time.Second, cfg.EngineWatchdog)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"PUZZLER_PORT":            "eighty",
		"PUZZLER_ENGINE_WATCHDOG": "10ms",
		"PUZZLER_LOG_LEVEL":       "loud",
		"PUZZLER_POLL_INTERVAL":   "soon",
		"PUZZLER_JOB_LEASE":       "0s",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadExtractOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: avoidBlunder
blunder_swing_cp: 300
analysis_budget: 1s
include_analysis: true
`), 0o644))

	opts, err := LoadExtractOptions(path, extract.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, extract.ModeAvoidBlunder, opts.Mode)
	assert.Equal(t, 300, opts.BlunderSwingCp)
	assert.Equal(t, time.Second, opts.AnalysisBudget)
	assert.True(t, opts.IncludeAnalysis)
	assert.Equal(t, 180, opts.MissedTacticSwingCp)

	same, err := LoadExtractOptions("", extract.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, extract.DefaultOptions(), same)
}

func TestLoadExtractOptionsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: sideways\n"), 0o644))
	_, err := LoadExtractOptions(path, extract.DefaultOptions())
	assert.Error(t, err)

	_, err = LoadExtractOptions(filepath.Join(t.TempDir(), "missing.yaml"), extract.DefaultOptions())
	assert.Error(t, err)
}
