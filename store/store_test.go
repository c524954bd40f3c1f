package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/puzzle-miner/models"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPuzzle(id, gameID string, ply int) models.Puzzle {
	return models.Puzzle{
		ID:            id,
		Category:      models.AvoidBlunder,
		Kind:          models.KindBlunder,
		GameID:        gameID,
		SourcePly:     ply,
		FEN:           "r1bqk2r/pppp1ppp/2n2n2/2b1p3/2BPP3/2P2N2/PP3PPP/RNBQK2R b KQkq - 0 5",
		SideToMove:    models.Black,
		BestLine:      []string{"e5d4", "c3d4", "c5b4"},
		AcceptedMoves: []string{"e5d4"},
		Score:         models.CP(0),
		Swing:         300,
		Severity:      models.SeverityMedium,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestJobsLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2"} {
		require.NoError(t, s.SaveJob(ctx, models.Job{ID: id, Identity: models.Identity{"lichess": "bob"}}))
	}
	// duplicate submissions do not create a second row
	require.NoError(t, s.SaveJob(ctx, models.Job{ID: "job-1"}))

	pending, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "job-1", pending[0].ID)
	assert.Equal(t, "bob", pending[0].Identity["lichess"])

	require.NoError(t, s.SaveResult(ctx, models.Result{JobID: "job-1"}))
	pending, err = s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "job-2", pending[0].ID)
}

func TestSaveAndGetResult(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := models.Result{
		JobID:      "job-1",
		Puzzles:    []models.Puzzle{testPuzzle("p2", "g1", 24), testPuzzle("p1", "g1", 10)},
		Skipped:    []models.SkippedGame{{GameID: "g2", Reason: "no moves"}},
		Worker:     "w-1",
		FinishedAt: finished,
	}
	require.NoError(t, s.SaveResult(ctx, r))

	got, err := s.GetResult(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "w-1", got.Worker)
	assert.True(t, finished.Equal(got.FinishedAt))
	assert.Len(t, got.Puzzles, 2)
	assert.Equal(t, r.Skipped, got.Skipped)

	puzzles, err := s.PuzzlesByGame(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, puzzles, 2)
	assert.Equal(t, "p1", puzzles[0].ID)
	assert.Equal(t, []string{"e5d4", "c3d4", "c5b4"}, puzzles[0].BestLine)
}

func TestSaveResultReplacesPuzzles(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, models.Result{JobID: "job-1", Puzzles: []models.Puzzle{testPuzzle("p1", "g1", 10)}}))
	require.NoError(t, s.SaveResult(ctx, models.Result{JobID: "job-1", Puzzles: []models.Puzzle{testPuzzle("p3", "g1", 30)}}))

	puzzles, err := s.PuzzlesByGame(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, puzzles, 1)
	assert.Equal(t, "p3", puzzles[0].ID)
}

func TestGetResultNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
