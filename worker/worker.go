// Package worker pulls extraction jobs from the server, runs them against a
// local engine and reports the puzzles back.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jacokyle01/puzzle-miner/engine"
	"github.com/jacokyle01/puzzle-miner/extract"
	"github.com/jacokyle01/puzzle-miner/models"
)

// Runner extracts puzzles from games. *extract.Extractor implements it.
type Runner interface {
	Extract(ctx context.Context, games []models.Game, identity models.Identity, opts extract.Options, progress extract.ProgressFunc) (extract.Result, error)
}

// Options tunes a Client.
type Options struct {
	Name string
	// Base is the option set job overrides are applied to.
	Base            extract.Options
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	HTTPClient      *http.Client
}

// Client represents a worker client
type Client struct {
	serverURL string
	runner    Runner
	opts      Options
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a worker that reports to serverURL.
func NewClient(serverURL string, runner Runner, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = 15 * opts.PollInterval
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		serverURL: serverURL,
		runner:    runner,
		opts:      opts,
		http:      hc,
		logger:    logger.With("component", "worker", "worker", opts.Name),
	}
}

// WorkLoop runs jobs until ctx is cancelled or the engine becomes
// unavailable. Idle polls and server errors back off exponentially.
func (c *Client) WorkLoop(ctx context.Context) error {
	c.logger.Info("starting worker", "server", c.serverURL)

	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = c.opts.PollInterval
	idle.MaxInterval = c.opts.MaxPollInterval
	idle.MaxElapsedTime = 0
	idle.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		worked, err := c.processJob(ctx)
		switch {
		case errors.Is(err, engine.ErrEngineUnavailable):
			return err
		case ctx.Err() != nil:
			return nil
		case err != nil:
			c.logger.Warn("job cycle failed", "err", err)
		case worked:
			idle.Reset()
			continue
		}

		wait := idle.NextBackOff()
		c.logger.Debug("no work, waiting", "wait", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// processJob fetches, runs and reports one job. It reports whether a job
// was found.
func (c *Client) processJob(ctx context.Context) (bool, error) {
	job, ok, err := c.fetchJob(ctx)
	if err != nil || !ok {
		return false, err
	}

	log := c.logger.With("job_id", job.ID)
	log.Info("processing job", "games", len(job.Games))
	started := time.Now()

	result := models.Result{JobID: job.ID, Worker: c.opts.Name}
	opts, err := c.opts.Base.ApplyOverrides(job.Overrides)
	var runErr error
	if err != nil {
		result.Error = err.Error()
	} else {
		progress := func(p extract.Progress) {
			log.Debug("progress", "game", p.GameIndex+1, "of", p.GameCount, "ply", p.Ply, "plies", p.PlyCount, "phase", p.Phase)
		}
		res, err := c.runner.Extract(ctx, job.Games, job.Identity, opts, progress)
		result.Puzzles, result.Analyses, result.Skipped = res.Puzzles, res.Analyses, res.Skipped
		if err != nil {
			if ctx.Err() != nil {
				// the job stays pending on the server
				return true, ctx.Err()
			}
			result.Error = err.Error()
			runErr = err
		}
	}
	result.FinishedAt = time.Now()

	if err := c.submitResult(ctx, result); err != nil {
		return true, errors.Join(runErr, err)
	}
	log.Info("job finished", "puzzles", len(result.Puzzles), "skipped", len(result.Skipped),
		"elapsed", time.Since(started), "error", result.Error)
	return true, runErr
}

func (c *Client) fetchJob(ctx context.Context) (models.Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/job", nil)
	if err != nil {
		return models.Job{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("getting job: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return models.Job{}, false, nil
	case http.StatusOK:
	default:
		return models.Job{}, false, fmt.Errorf("getting job: server answered %s", resp.Status)
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return models.Job{}, false, fmt.Errorf("decoding job: %w", err)
	}
	return job, true, nil
}

// submitResult posts r, retrying transient failures a few times.
func (c *Client) submitResult(ctx context.Context, r models.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/result", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("server answered %s", resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("server rejected result: %s", resp.Status))
		}
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("submitting result failed, retrying", "job_id", r.JobID, "err", err, "wait", wait)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.PollInterval / 4
	retry := backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)
	if err := backoff.RetryNotify(op, retry, notify); err != nil {
		return fmt.Errorf("submitting result %s: %w", r.JobID, err)
	}
	return nil
}
