package primaryserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacokyle01/puzzle-miner/models"
	"github.com/jacokyle01/puzzle-miner/store"
)

// Options tunes a Server.
type Options struct {
	QueueSize           int
	MaxRequestBodyBytes int64
	// PollWait is how long GET /job waits for work before answering 204.
	PollWait time.Duration
	// GamesPerJob splits PGN submissions into jobs of at most this many games.
	GamesPerJob int
	// LeaseTimeout is how long a handed-out job may go without a result
	// before it is queued again.
	LeaseTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.MaxRequestBodyBytes <= 0 {
		o.MaxRequestBodyBytes = 8 << 20
	}
	if o.PollWait <= 0 {
		o.PollWait = 5 * time.Second
	}
	if o.GamesPerJob <= 0 {
		o.GamesPerJob = 10
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 15 * time.Minute
	}
	return o
}

// Server manages the extraction job queue and distributes work to workers.
type Server struct {
	opts   Options
	store  *store.Store
	logger *slog.Logger

	jobs    chan models.Job
	mu      sync.RWMutex
	jobMap  map[string]models.Job // submitted, no result yet
	leases  map[string]time.Time  // handed out, lease expiry
	batches map[string]*models.Batch
	batchOf map[string]string // job id -> batch id

	now func() time.Time
}

// NewServer creates a server persisting to st.
func NewServer(st *store.Store, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Server{
		opts:    opts,
		store:   st,
		logger:  logger.With("component", "server"),
		jobs:    make(chan models.Job, opts.QueueSize),
		jobMap:  make(map[string]models.Job),
		batches: make(map[string]*models.Batch),
		batchOf: make(map[string]string),
		leases:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Restore re-queues the jobs that were pending when the server last stopped.
func (s *Server) Restore(ctx context.Context) error {
	pending, err := s.store.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("restore pending jobs: %w", err)
	}
	for _, job := range pending {
		if err := s.enqueue(job); err != nil {
			s.logger.Warn("could not restore job", "job_id", job.ID, "err", err)
			continue
		}
	}
	if len(pending) > 0 {
		s.logger.Info("restored pending jobs", "count", len(pending))
	}
	return nil
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/job", s.handleGetJob)
	mux.HandleFunc("/result", s.handleSubmitResult)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/get_result", s.handleGetResult)
	mux.HandleFunc("/batch", s.handleGetBatch)
	mux.HandleFunc("/queue", s.handleViewQueue)
	mux.HandleFunc("/requestForAnalysis", s.requestForAnalysis)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartServer serves the API on addr until ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: max(writeTimeout, s.opts.PollWait+time.Second),
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
