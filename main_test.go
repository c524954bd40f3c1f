package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/puzzle-miner/extract"
	"github.com/jacokyle01/puzzle-miner/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"server", "worker", "extract"})
}

func TestExtractRequiresUser(t *testing.T) {
	_, err := execute(t, "extract", "games.pgn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}

func TestExtractMissingFile(t *testing.T) {
	_, err := execute(t, "extract", "--user", "bob", filepath.Join(t.TempDir(), "missing.pgn"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestServerRejectsBadPort(t *testing.T) {
	_, err := execute(t, "server", "http")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
}

func TestInvalidConfigFailsEarly(t *testing.T) {
	t.Setenv("PUZZLER_LOG_LEVEL", "shouty")
	_, err := execute(t, "extract", "--user", "bob", "games.pgn")
	assert.Error(t, err)
}

func TestEnvFileLoaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PUZZLER_PORT=9191\n"), 0o644))
	t.Setenv("PUZZLER_PORT", "unset below, restored on cleanup")
	os.Unsetenv("PUZZLER_PORT")

	a := &app{envFile: path}
	require.NoError(t, a.load())
	assert.Equal(t, 9191, a.cfg.Port)
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, extract.Result{Puzzles: []models.Puzzle{{ID: "p1"}}}))
	assert.Contains(t, buf.String(), `"id": "p1"`)
	assert.NotContains(t, buf.String(), "analyses")
}
