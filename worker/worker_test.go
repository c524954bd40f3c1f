package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/puzzle-miner/engine"
	"github.com/jacokyle01/puzzle-miner/extract"
	"github.com/jacokyle01/puzzle-miner/models"
	"github.com/jacokyle01/puzzle-miner/primaryserver"
	"github.com/jacokyle01/puzzle-miner/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	opts  []extract.Options
	res   extract.Result
	err   error
}

func (f *fakeRunner) Extract(_ context.Context, _ []models.Game, _ models.Identity, opts extract.Options, progress extract.ProgressFunc) (extract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.opts = append(f.opts, opts)
	progress(extract.Progress{Phase: extract.PhaseDone})
	return f.res, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestServer(t *testing.T) (*primaryserver.Server, *store.Store, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := primaryserver.NewServer(st, primaryserver.Options{PollWait: 20 * time.Millisecond}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, st, ts.URL
}

func testOptions() Options {
	return Options{Name: "w-test", Base: extract.DefaultOptions(), PollInterval: 10 * time.Millisecond}
}

func testJob(id string) models.Job {
	return models.Job{
		ID:       id,
		Games:    []models.Game{{ID: "g1", Provider: "lichess", MoveText: "1. e4 e5 *"}},
		Identity: models.Identity{"lichess": "bob"},
	}
}

func startLoop(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.WorkLoop(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func TestWorkLoopProcessesJobs(t *testing.T) {
	srv, st, url := newTestServer(t)
	runner := &fakeRunner{res: extract.Result{Puzzles: []models.Puzzle{{ID: "p1", GameID: "g1", SourcePly: 10}}}}

	limit := 1
	job := testJob("job-1")
	job.Overrides.MaxPuzzlesPerGame = &limit
	require.NoError(t, srv.AddJob(context.Background(), job))

	cancel, errc := startLoop(t, NewClient(url, runner, testOptions(), nil))

	require.Eventually(t, func() bool {
		_, err := st.GetResult(context.Background(), "job-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	res, err := st.GetResult(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "w-test", res.Worker)
	assert.Empty(t, res.Error)
	require.Len(t, res.Puzzles, 1)
	assert.False(t, res.FinishedAt.IsZero())

	runner.mu.Lock()
	assert.Equal(t, 1, runner.opts[0].MaxPuzzlesPerGame)
	runner.mu.Unlock()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("work loop did not stop")
	}
}

func TestWorkLoopStopsWhenEngineDies(t *testing.T) {
	srv, st, url := newTestServer(t)
	runner := &fakeRunner{err: &engine.OpError{Op: "go", Err: engine.ErrEngineUnavailable}}
	require.NoError(t, srv.AddJob(context.Background(), testJob("job-1")))

	_, errc := startLoop(t, NewClient(url, runner, testOptions(), nil))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("work loop kept running without an engine")
	}

	res, err := st.GetResult(context.Background(), "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestInvalidOverridesReportedWithoutRunning(t *testing.T) {
	srv, st, url := newTestServer(t)
	runner := &fakeRunner{}

	job := testJob("job-1")
	negative := -1
	job.Overrides.MaxPuzzlesPerGame = &negative
	require.NoError(t, srv.AddJob(context.Background(), job))

	c := NewClient(url, runner, testOptions(), nil)
	worked, err := c.processJob(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Zero(t, runner.count())

	res, err := st.GetResult(context.Background(), "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestProcessJobIdle(t *testing.T) {
	_, _, url := newTestServer(t)
	c := NewClient(url, &fakeRunner{}, testOptions(), nil)

	worked, err := c.processJob(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestSubmitResultRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, &fakeRunner{}, testOptions(), nil)
	require.NoError(t, c.submitResult(context.Background(), models.Result{JobID: "j"}))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSubmitResultGivesUpOnRejection(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, &fakeRunner{}, testOptions(), nil)
	assert.Error(t, c.submitResult(context.Background(), models.Result{JobID: "j"}))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestStartEngineMissingBinary(t *testing.T) {
	_, err := StartEngine(context.Background(), filepath.Join(t.TempDir(), "no-such-engine"), engine.SchedulerOptions{}, nil)
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
}
