package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jacokyle01/puzzle-miner/models"
)

const (
	DefaultThrottle = 150 * time.Millisecond
	DefaultWatchdog = 600 * time.Millisecond
	MinWatchdog     = 50 * time.Millisecond

	defaultUpdateBuffer = 8
)

// Conn is the engine conversation a Scheduler drives. *Session implements it.
type Conn interface {
	Configure(multiPV int) error
	SetPosition(fen string) error
	Go(jobID uint64, stop StopCondition) error
	Stop() error
	Abandon(jobID uint64)
	Events() <-chan Event
	Err() error
}

// SchedulerOptions tunes a Scheduler. Zero values take the defaults.
type SchedulerOptions struct {
	Throttle     time.Duration
	Watchdog     time.Duration
	UpdateBuffer int
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.Throttle <= 0 {
		o.Throttle = DefaultThrottle
	}
	if o.Watchdog <= 0 {
		o.Watchdog = DefaultWatchdog
	}
	if o.Watchdog < MinWatchdog {
		o.Watchdog = MinWatchdog
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = defaultUpdateBuffer
	}
	return o
}

// JobParams describes one search.
type JobParams struct {
	FEN     string
	MultiPV int
	Stop    StopCondition
	// MinDepth suppresses intermediate snapshots below this depth.
	MinDepth int
}

// Line is the accumulated state of one multi-PV line.
type Line struct {
	Rank  int
	Score models.Score
	PV    []string
	Depth int
}

// Snapshot is the accumulated result of a job at one instant.
type Snapshot struct {
	JobID        uint64
	FEN          string
	Depth        int
	Elapsed      time.Duration
	Lines        []Line // ordered by rank
	BestMove     string
	Ponder       string
	Final        bool
	ForceCleared bool
}

type jobState int

const (
	jobQueued jobState = iota
	jobActive
	jobStopRequested
	jobDone
	jobForceCleared
	jobDropped
)

func (s jobState) String() string {
	switch s {
	case jobQueued:
		return "queued"
	case jobActive:
		return "active"
	case jobStopRequested:
		return "stop_requested"
	case jobDone:
		return "done"
	case jobForceCleared:
		return "force_cleared"
	default:
		return "dropped"
	}
}

// Job is one search owned by a Scheduler.
type Job struct {
	id      uint64
	params  JobParams
	updates chan Snapshot
	done    chan struct{}

	// guarded by Scheduler.mu
	state    jobState
	depth    int
	elapsed  time.Duration
	lines    map[int]*Line
	bestMove string
	ponder   string
	throttle *rate.Sometimes
	watchdog *time.Timer

	// written once before done is closed
	result Snapshot
	err    error
}

// ID returns the scheduler-assigned job id.
func (j *Job) ID() uint64 { return j.id }

// Updates delivers throttled snapshots followed by one final snapshot,
// then closes. Intermediate snapshots are dropped when the reader lags.
func (j *Job) Updates() <-chan Snapshot { return j.updates }

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the final snapshot or error. Valid after Done is closed.
func (j *Job) Result() (Snapshot, error) { return j.result, j.err }

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (j *Job) merge(info Info) {
	if info.Depth != nil && *info.Depth > j.depth {
		j.depth = *info.Depth
	}
	if info.Time != nil {
		j.elapsed = *info.Time
	}
	rank := 1
	if info.MultiPV != nil {
		rank = *info.MultiPV
	}
	if rank < 1 || rank > j.params.MultiPV {
		return
	}
	if info.Score == nil && info.PV == nil {
		return
	}
	line, ok := j.lines[rank]
	if !ok {
		line = &Line{Rank: rank}
		j.lines[rank] = line
	}
	if info.Score != nil {
		line.Score = *info.Score
	}
	if info.PV != nil {
		line.PV = info.PV
	}
	if info.Depth != nil {
		line.Depth = *info.Depth
	}
}

func (j *Job) snapshot(final bool) Snapshot {
	snap := Snapshot{
		JobID:    j.id,
		FEN:      j.params.FEN,
		Depth:    j.depth,
		Elapsed:  j.elapsed,
		BestMove: j.bestMove,
		Ponder:   j.ponder,
		Final:    final,
		Lines:    make([]Line, 0, len(j.lines)),
	}
	for _, l := range j.lines {
		cp := *l
		cp.PV = append([]string(nil), l.PV...)
		snap.Lines = append(snap.Lines, cp)
	}
	sort.Slice(snap.Lines, func(a, b int) bool { return snap.Lines[a].Rank < snap.Lines[b].Rank })
	return snap
}

func (j *Job) emit(snap Snapshot) {
	select {
	case j.updates <- snap:
	default:
	}
}

// emitFinal never drops the terminal snapshot: it evicts the oldest
// pending update instead.
func (j *Job) emitFinal(snap Snapshot) {
	for {
		select {
		case j.updates <- snap:
			return
		default:
		}
		select {
		case <-j.updates:
		default:
		}
	}
}

// Scheduler serializes jobs against one engine conversation: at most one
// Active and one Queued job exist at any time.
type Scheduler struct {
	conn   Conn
	opts   SchedulerOptions
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	active *Job
	queued *Job
	err    error
}

// NewScheduler takes ownership of conn's event stream.
func NewScheduler(conn Conn, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		conn:   conn,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "engine_scheduler"),
	}
	go s.loop()
	return s
}

// Start submits a job. A running job is asked to stop and the new one waits
// in the queued slot, replacing any job already waiting there.
func (s *Scheduler) Start(params JobParams) (*Job, error) {
	if params.MultiPV == 0 {
		params.MultiPV = 1
	}
	if params.MultiPV < 1 || params.MultiPV > MaxMultiPV {
		return nil, fmt.Errorf("multipv %d out of range 1..%d", params.MultiPV, MaxMultiPV)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	s.nextID++
	j := &Job{
		id:       s.nextID,
		params:   params,
		updates:  make(chan Snapshot, s.opts.UpdateBuffer),
		done:     make(chan struct{}),
		state:    jobQueued,
		lines:    make(map[int]*Line),
		throttle: &rate.Sometimes{Interval: s.opts.Throttle},
	}

	if s.active == nil {
		if err := s.activate(j); err != nil {
			return nil, err
		}
		return j, nil
	}

	if s.queued != nil {
		s.logger.Debug("queued job superseded", "job_id", s.queued.id, "by", j.id)
		s.drop(s.queued)
	}
	s.queued = j
	s.stopActive()
	return j, nil
}

// RequestStop cancels a job. A queued job is dropped without touching the
// engine; the active job is asked to stop and a watchdog is armed.
func (s *Scheduler) RequestStop(jobID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queued != nil && s.queued.id == jobID {
		q := s.queued
		s.queued = nil
		s.drop(q)
		return
	}
	if s.active != nil && s.active.id == jobID {
		s.stopActive()
	}
}

// Err returns the error that ended the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) activate(j *Job) error {
	j.state = jobActive
	s.active = j

	err := s.conn.Configure(j.params.MultiPV)
	if err == nil {
		err = s.conn.SetPosition(j.params.FEN)
	}
	if err == nil {
		err = s.conn.Go(j.id, j.params.Stop)
	}
	if err != nil {
		s.active = nil
		s.finish(j, jobDropped, Snapshot{}, err)
		jobsFinished.WithLabelValues("failed").Inc()
		return err
	}
	jobsStarted.Inc()
	s.logger.Debug("job active", "job_id", j.id, "fen", j.params.FEN, "multipv", j.params.MultiPV)
	return nil
}

func (s *Scheduler) stopActive() {
	a := s.active
	if a == nil || a.state == jobStopRequested {
		return
	}
	a.state = jobStopRequested
	if err := s.conn.Stop(); err != nil {
		s.logger.Warn("stop failed", "job_id", a.id, "err", err)
	}
	id := a.id
	a.watchdog = time.AfterFunc(s.opts.Watchdog, func() { s.onWatchdog(id) })
}

func (s *Scheduler) onWatchdog(jobID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.active
	if a == nil || a.id != jobID || a.state != jobStopRequested {
		return
	}
	s.logger.Warn("force-clearing job", "job_id", a.id, "after", s.opts.Watchdog, "err", ErrProtocolTimeout)
	snap := a.snapshot(true)
	snap.ForceCleared = true
	s.conn.Abandon(a.id)
	s.active = nil
	s.finish(a, jobForceCleared, snap, nil)
	jobsFinished.WithLabelValues("force_cleared").Inc()
	s.promote()
}

func (s *Scheduler) loop() {
	for ev := range s.conn.Events() {
		s.handle(ev)
	}
	err := s.conn.Err()
	if err == nil || !errors.Is(err, ErrEngineUnavailable) {
		err = fmt.Errorf("%w: event stream closed: %v", ErrEngineUnavailable, err)
	}
	s.failAll(err)
}

func (s *Scheduler) handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.active
	if a == nil || a.id != ev.JobID {
		staleEvents.Inc()
		s.logger.Debug("discarding stale event", "job_id", ev.JobID)
		return
	}

	if ev.Info != nil {
		a.merge(*ev.Info)
		if a.depth >= a.params.MinDepth {
			a.throttle.Do(func() { a.emit(a.snapshot(false)) })
		}
	}

	if ev.BestMove != nil {
		a.bestMove = ev.BestMove.Move
		a.ponder = ev.BestMove.Ponder
		if a.watchdog != nil {
			a.watchdog.Stop()
		}
		s.active = nil
		s.finish(a, jobDone, a.snapshot(true), nil)
		jobsFinished.WithLabelValues("done").Inc()
		s.promote()
	}
}

func (s *Scheduler) promote() {
	q := s.queued
	if q == nil {
		return
	}
	s.queued = nil
	if err := s.activate(q); err != nil {
		s.logger.Warn("promoting queued job failed", "job_id", q.id, "err", err)
	}
}

func (s *Scheduler) drop(j *Job) {
	s.finish(j, jobDropped, Snapshot{}, ErrCancelled)
	jobsFinished.WithLabelValues("cancelled").Inc()
}

func (s *Scheduler) finish(j *Job, state jobState, snap Snapshot, err error) {
	j.state = state
	j.result = snap
	j.err = err
	s.logger.Debug("job finished", "job_id", j.id, "state", state, "err", err)
	if err == nil {
		j.emitFinal(snap)
	}
	close(j.updates)
	close(j.done)
}

func (s *Scheduler) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
	for _, j := range []*Job{s.active, s.queued} {
		if j == nil {
			continue
		}
		if j.watchdog != nil {
			j.watchdog.Stop()
		}
		s.finish(j, jobDropped, Snapshot{}, err)
		jobsFinished.WithLabelValues("failed").Inc()
	}
	s.active, s.queued = nil, nil
	if errors.Is(err, ErrClosed) {
		s.logger.Debug("scheduler stopped", "err", err)
		return
	}
	s.logger.Error("scheduler stopped", "err", err)
}
