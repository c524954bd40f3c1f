package primaryserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacokyle01/puzzle-miner/models"
)

// ErrQueueFull is returned when no more jobs can be accepted.
var ErrQueueFull = errors.New("job queue full")

// AddJob persists a job and queues it for a worker.
func (s *Server) AddJob(ctx context.Context, job models.Job) error {
	if err := s.enqueue(job); err != nil {
		return err
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		// the job is already queued; it only loses restart durability
		s.logger.Warn("could not persist job", "job_id", job.ID, "err", err)
	}
	jobsSubmitted.Inc()
	s.logger.Info("added job to queue", "job_id", job.ID, "games", len(job.Games))
	return nil
}

func (s *Server) enqueue(job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobMap[job.ID]; dup {
		return fmt.Errorf("job %s already queued", job.ID)
	}
	select {
	case s.jobs <- job:
		s.jobMap[job.ID] = job
		queueDepth.Set(float64(len(s.jobs)))
		return nil
	default:
		return fmt.Errorf("%w: dropping job %s", ErrQueueFull, job.ID)
	}
}

// GetJob returns the next job for a worker, waiting up to the poll wait.
// The job is leased to the caller; without a result before the lease
// expires it is queued again.
func (s *Server) GetJob(ctx context.Context) (models.Job, bool) {
	s.requeueExpired()

	t := time.NewTimer(s.opts.PollWait)
	defer t.Stop()
	for {
		select {
		case job := <-s.jobs:
			queueDepth.Set(float64(len(s.jobs)))
			if s.lease(job.ID) {
				return job, true
			}
		case <-t.C:
			return models.Job{}, false
		case <-ctx.Done():
			return models.Job{}, false
		}
	}
}

// lease marks a dequeued job as handed out. It reports false for a stale
// copy of a job whose result has already arrived.
func (s *Server) lease(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobMap[id]; !ok {
		return false
	}
	s.leases[id] = s.now().Add(s.opts.LeaseTimeout)
	return true
}

func (s *Server) requeueExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, expiry := range s.leases {
		if now.Before(expiry) {
			continue
		}
		job, ok := s.jobMap[id]
		if !ok {
			delete(s.leases, id)
			continue
		}
		select {
		case s.jobs <- job:
			delete(s.leases, id)
			queueDepth.Set(float64(len(s.jobs)))
			jobsRequeued.Inc()
			s.logger.Warn("job lease expired, requeueing", "job_id", id, "expired", expiry)
		default:
			// retried on the next poll
		}
	}
}
