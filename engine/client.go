package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jacokyle01/puzzle-miner/models"
)

// DefaultStopGrace is how long past its time budget a search may run
// before the client asks the engine to stop it.
const DefaultStopGrace = 2 * time.Second

type cacheKey struct {
	fen    string
	budget time.Duration
	lines  int
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%d|%d", k.fen, k.budget, k.lines)
}

type cacheEntry struct {
	result models.EvalResult
	lines  []models.TopLine
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type request struct {
	job    *Job
	cancel chan struct{}
}

// Client evaluates positions through one Scheduler and caches every answer
// by (position, budget, line count) for its lifetime.
//
// Completions of concurrent callers are not ordered by call order; callers
// that need deterministic behavior await each call before issuing the next.
type Client struct {
	sched     *Scheduler
	logger    *slog.Logger
	stopGrace time.Duration
	flight    singleflight.Group

	mu      sync.Mutex
	cache   map[cacheKey]cacheEntry
	pending map[*request]struct{}
	flights map[cacheKey]*flight
}

// NewClient returns a Client backed by sched. A Scheduler should back
// exactly one Client.
func NewClient(sched *Scheduler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		sched:     sched,
		logger:    logger.With("component", "engine_client"),
		stopGrace: DefaultStopGrace,
		cache:     make(map[cacheKey]cacheEntry),
		pending:   make(map[*request]struct{}),
		flights:   make(map[cacheKey]*flight),
	}
}

// Evaluate returns the best line of fen searched for budget.
func (c *Client) Evaluate(ctx context.Context, fen string, budget time.Duration) (models.EvalResult, error) {
	e, err := c.lookup(ctx, cacheKey{fen: fen, budget: budget, lines: 1})
	if err != nil {
		return models.EvalResult{}, err
	}
	return e.result, nil
}

// EvaluateTopLines returns up to n ranked lines of fen, n in 1..5.
func (c *Client) EvaluateTopLines(ctx context.Context, fen string, budget time.Duration, n int) ([]models.TopLine, error) {
	if n < 1 || n > MaxMultiPV {
		return nil, fmt.Errorf("top lines: n=%d out of range 1..%d", n, MaxMultiPV)
	}
	e, err := c.lookup(ctx, cacheKey{fen: fen, budget: budget, lines: n})
	if err != nil {
		return nil, err
	}
	return e.lines, nil
}

// CancelAll fails every outstanding request with ErrCancelled and asks the
// scheduler to stop their jobs.
func (c *Client) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for req := range c.pending {
		close(req.cancel)
		c.sched.RequestStop(req.job.ID())
	}
	if n := len(c.pending); n > 0 {
		c.logger.Info("cancelled pending evaluations", "count", n)
	}
	c.pending = make(map[*request]struct{})
}

func (c *Client) lookup(ctx context.Context, key cacheKey) (cacheEntry, error) {
	if e, ok := c.cached(key); ok {
		cacheRequests.WithLabelValues("hit").Inc()
		return e, nil
	}
	cacheRequests.WithLabelValues("miss").Inc()

	for {
		c.mu.Lock()
		if e, ok := c.cache[key]; ok {
			c.mu.Unlock()
			return e, nil
		}
		f := c.join(ctx, key)
		c.mu.Unlock()

		ch := c.flight.DoChan(key.String(), func() (any, error) {
			return c.run(f.ctx, key)
		})
		select {
		case r := <-ch:
			c.leave(key, f)
			if r.Err != nil {
				// every earlier caller gave up on the shared search
				if errors.Is(r.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return cacheEntry{}, r.Err
			}
			return r.Val.(cacheEntry), nil
		case <-ctx.Done():
			c.leave(key, f)
			return cacheEntry{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}

func (c *Client) cached(key cacheKey) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	return e, ok
}

// join registers a caller on the search for key. The search runs detached
// from any single caller and is stopped once its last caller leaves.
// c.mu must be held.
func (c *Client) join(ctx context.Context, key cacheKey) *flight {
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Client) leave(key cacheKey, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (c *Client) run(ctx context.Context, key cacheKey) (cacheEntry, error) {
	job, err := c.sched.Start(JobParams{
		FEN:     key.fen,
		MultiPV: key.lines,
		Stop:    MoveTime(key.budget),
	})
	if err != nil {
		return cacheEntry{}, err
	}

	req := &request{job: job, cancel: make(chan struct{})}
	c.mu.Lock()
	c.pending[req] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req)
		c.mu.Unlock()
	}()

	deadline := time.NewTimer(key.budget + c.stopGrace)
	defer deadline.Stop()

	for {
		select {
		case <-job.Done():
			snap, err := job.Result()
			if err != nil {
				return cacheEntry{}, err
			}
			e := entryFromSnapshot(snap)
			if !snap.ForceCleared {
				c.mu.Lock()
				c.cache[key] = e
				c.mu.Unlock()
			}
			return e, nil
		case <-deadline.C:
			c.logger.Warn("search overran its budget, stopping", "job_id", job.ID(), "budget", key.budget)
			c.sched.RequestStop(job.ID())
		case <-req.cancel:
			return cacheEntry{}, ErrCancelled
		case <-ctx.Done():
			c.sched.RequestStop(job.ID())
			return cacheEntry{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}

func entryFromSnapshot(snap Snapshot) cacheEntry {
	e := cacheEntry{
		result: models.EvalResult{
			FEN:      snap.FEN,
			BestMove: snap.BestMove,
			Depth:    snap.Depth,
			Elapsed:  snap.Elapsed,
		},
		lines: make([]models.TopLine, 0, len(snap.Lines)),
	}
	for _, l := range snap.Lines {
		e.lines = append(e.lines, models.TopLine{Rank: l.Rank, PV: l.PV, Score: l.Score, Depth: l.Depth})
	}
	if len(snap.Lines) > 0 && snap.Lines[0].Rank == 1 {
		best := snap.Lines[0]
		e.result.PV = best.PV
		e.result.Score = best.Score
		if e.result.BestMove == "" && len(best.PV) > 0 {
			e.result.BestMove = best.PV[0]
		}
	}
	return e
}
