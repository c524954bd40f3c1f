package primaryserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/puzzle-miner/models"
	"github.com/jacokyle01/puzzle-miner/store"
)

func newTestServer(t *testing.T, opts Options) (*Server, *store.Store, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if opts.PollWait == 0 {
		opts.PollWait = 50 * time.Millisecond
	}
	s := NewServer(st, opts, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, st, ts
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func testJob(id string) models.Job {
	return models.Job{
		ID:       id,
		Games:    []models.Game{{ID: "g1", Provider: "lichess", MoveText: "1. e4 e5 *"}},
		Identity: models.Identity{"lichess": "bob"},
	}
}

func TestAnalyzeThenWorkerRoundTrip(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/analyze", testJob(""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var submitted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	jobID := submitted["job_id"]
	require.NotEmpty(t, jobID)

	resp, err := http.Get(ts.URL + "/job")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job models.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, jobID, job.ID)
	assert.Len(t, job.Games, 1)

	resp = postJSON(t, ts.URL+"/result", models.Result{
		JobID:   jobID,
		Worker:  "w-1",
		Puzzles: []models.Puzzle{{ID: "p1", GameID: "g1", SourcePly: 10, FEN: "8/8/8/8/8/8/8/K6k w - - 0 1"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/get_result?job_id=" + jobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "w-1", got.Worker)
	require.Len(t, got.Puzzles, 1)
	assert.Equal(t, "p1", got.Puzzles[0].ID)
}

func TestGetJobEmptyQueue(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/job")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAnalyzeValidation(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})
	badMode := "sideways"

	tests := []struct {
		name string
		job  models.Job
	}{
		{"no games", models.Job{Identity: models.Identity{"lichess": "bob"}}},
		{"no identity", models.Job{Games: []models.Game{{ID: "g"}}}},
		{"bad overrides", func() models.Job {
			j := testJob("")
			j.Overrides.Mode = &badMode
			return j
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/analyze", tt.job)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Post(ts.URL+"/analyze", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/analyze")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestQueueFullRejects(t *testing.T) {
	_, _, ts := newTestServer(t, Options{QueueSize: 1})

	resp := postJSON(t, ts.URL+"/analyze", testJob("a"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/analyze", testJob("b"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/analyze", testJob("a"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetResultErrors(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/get_result")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/get_result?job_id=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestForAnalysisBatches(t *testing.T) {
	s, _, ts := newTestServer(t, Options{GamesPerJob: 1})

	pgn := `[Event "Rated Blitz game"]
[White "bob"]
[Black "carol"]
[Result "1-0"]

1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0

[Event "Rated Blitz game"]
[White "dave"]
[Black "bob"]
[Result "*"]

1. d4 d5 *
`
	resp := postJSON(t, ts.URL+"/requestForAnalysis", map[string]any{
		"pgn": pgn, "provider": "lichess", "username": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		BatchID string   `json:"batch_id"`
		JobIDs  []string `json:"job_ids"`
		Games   int      `json:"games"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Games)
	require.Len(t, out.JobIDs, 2)

	batch, ok := s.Batch(out.BatchID)
	require.True(t, ok)
	assert.Equal(t, 2, batch.Total)
	assert.False(t, batch.Done())

	for _, id := range out.JobIDs {
		job, ok := s.GetJob(context.Background())
		require.True(t, ok)
		assert.Equal(t, "bob", job.Identity["lichess"])
		require.NoError(t, s.SubmitResult(context.Background(), models.Result{JobID: id}))
	}

	batch, ok = s.Batch(out.BatchID)
	require.True(t, ok)
	assert.Equal(t, 2, batch.Completed)
	assert.True(t, batch.Done())

	resp, err := http.Get(ts.URL + "/batch?id=" + out.BatchID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestForAnalysisRejectsBadInput(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/requestForAnalysis", map[string]any{"pgn": "1. e4 e5 *"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing username")

	resp = postJSON(t, ts.URL+"/requestForAnalysis", map[string]any{"pgn": "", "username": "bob"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no games")
}

func TestRestoreRequeuesPendingJobs(t *testing.T) {
	s, st, _ := newTestServer(t, Options{})
	ctx := context.Background()

	require.NoError(t, st.SaveJob(ctx, testJob("left-over")))
	require.NoError(t, s.Restore(ctx))

	job, ok := s.GetJob(ctx)
	require.True(t, ok)
	assert.Equal(t, "left-over", job.ID)
}

func TestViewQueueAndMetrics(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})
	postJSON(t, ts.URL+"/analyze", testJob("q1"))

	resp, err := http.Get(ts.URL + "/queue")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status struct {
		QueueLength int `json:"queue_length"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status.QueueLength)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpiredLeaseRequeuesJob(t *testing.T) {
	s, _, ts := newTestServer(t, Options{LeaseTimeout: time.Minute})
	ctx := context.Background()
	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.AddJob(ctx, testJob("lost")))
	job, ok := s.GetJob(ctx)
	require.True(t, ok)
	require.Equal(t, "lost", job.ID)

	// lease still held: nothing to hand out
	_, ok = s.GetJob(ctx)
	assert.False(t, ok)

	clock = clock.Add(2 * time.Minute)
	job, ok = s.GetJob(ctx)
	require.True(t, ok, "expired job was not queued again")
	assert.Equal(t, "lost", job.ID)

	// the id is still owned by the server, so a duplicate submit conflicts
	resp := postJSON(t, ts.URL+"/analyze", testJob("lost"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, s.SubmitResult(ctx, models.Result{JobID: "lost", Worker: "w-2"}))
	clock = clock.Add(2 * time.Minute)
	_, ok = s.GetJob(ctx)
	assert.False(t, ok, "finished job came back")
}

func TestStaleQueuedCopySkipped(t *testing.T) {
	s, _, _ := newTestServer(t, Options{LeaseTimeout: time.Minute})
	ctx := context.Background()
	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.AddJob(ctx, testJob("slow")))
	_, ok := s.GetJob(ctx)
	require.True(t, ok)

	// the lease lapses and the job is queued again, then the slow worker
	// reports before anyone picks the copy up
	clock = clock.Add(2 * time.Minute)
	s.requeueExpired()
	require.NoError(t, s.SubmitResult(ctx, models.Result{JobID: "slow", Worker: "w-1"}))

	_, ok = s.GetJob(ctx)
	assert.False(t, ok)
}
