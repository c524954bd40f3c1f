package primaryserver

import (
	"context"
	"fmt"

	"github.com/jacokyle01/puzzle-miner/models"
)

// SubmitResult stores a completed extraction result and advances its batch.
func (s *Server) SubmitResult(ctx context.Context, result models.Result) error {
	if err := s.store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("save result %s: %w", result.JobID, err)
	}
	resultsReceived.Inc()
	puzzlesStored.Add(float64(len(result.Puzzles)))

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobMap, result.JobID)
	delete(s.leases, result.JobID)
	if batchID, ok := s.batchOf[result.JobID]; ok {
		batch := s.batches[batchID]
		if _, seen := batch.Results[result.JobID]; !seen {
			batch.Completed++
		}
		batch.Results[result.JobID] = result
		s.logger.Info("batch progress", "batch_id", batch.ID, "completed", batch.Completed, "total", batch.Total)
	}

	emit := s.logger.Info
	if result.Error != "" {
		emit = s.logger.Warn
	}
	emit("received result", "job_id", result.JobID, "worker", result.Worker,
		"puzzles", len(result.Puzzles), "skipped", len(result.Skipped), "error", result.Error)
	return nil
}

// GetResult retrieves a result by job ID.
func (s *Server) GetResult(ctx context.Context, jobID string) (models.Result, error) {
	return s.store.GetResult(ctx, jobID)
}

// trackBatch records the jobs created from one submission.
func (s *Server) trackBatch(batch *models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	for _, id := range batch.JobIDs {
		s.batchOf[id] = batch.ID
	}
}

// trimBatch shrinks a batch to its first n jobs after a partial submission.
func (s *Server) trimBatch(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return
	}
	for _, jobID := range batch.JobIDs[n:] {
		delete(s.batchOf, jobID)
	}
	batch.JobIDs = batch.JobIDs[:n]
	batch.Total = n
}

// Batch returns a copy of a tracked batch.
func (s *Server) Batch(id string) (models.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return models.Batch{}, false
	}
	cp := *b
	cp.JobIDs = append([]string(nil), b.JobIDs...)
	cp.Results = make(map[string]models.Result, len(b.Results))
	for k, v := range b.Results {
		cp.Results[k] = v
	}
	return cp, true
}
