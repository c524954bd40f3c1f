package worker

import (
	"context"
	"log/slog"

	"github.com/jacokyle01/puzzle-miner/engine"
	"github.com/jacokyle01/puzzle-miner/extract"
)

// Engine is one engine process together with the scheduler and client that
// own it. One Engine serves one extractor.
type Engine struct {
	session *engine.Session
	client  *engine.Client
}

// StartEngine launches the engine binary at path.
func StartEngine(ctx context.Context, path string, opts engine.SchedulerOptions, logger *slog.Logger) (*Engine, error) {
	session, err := engine.Start(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	sched := engine.NewScheduler(session, opts, logger)
	return &Engine{session: session, client: engine.NewClient(sched, logger)}, nil
}

// Evaluator returns the evaluation client for an extractor.
func (e *Engine) Evaluator() extract.Evaluator {
	return e.client
}

// Healthy reports whether the engine process is still usable.
func (e *Engine) Healthy() bool {
	return e.session.Err() == nil
}

// Close cancels outstanding evaluations and stops the process.
func (e *Engine) Close() error {
	e.client.CancelAll()
	return e.session.Close()
}
