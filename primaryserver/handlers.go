package primaryserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jacokyle01/puzzle-miner/extract"
	"github.com/jacokyle01/puzzle-miner/models"
	"github.com/jacokyle01/puzzle-miner/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// HTTP handlers
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, ok := s.GetJob(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var result models.Result
	if !s.decode(w, r, &result) {
		return
	}
	if result.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	if err := s.SubmitResult(r.Context(), result); err != nil {
		s.logger.Error("storing result failed", "job_id", result.JobID, "err", err)
		http.Error(w, "could not store result", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var job models.Job
	if !s.decode(w, r, &job) {
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if len(job.Games) == 0 {
		http.Error(w, "job has no games", http.StatusBadRequest)
		return
	}
	if len(job.Identity) == 0 {
		http.Error(w, "job has no identity", http.StatusBadRequest)
		return
	}
	if _, err := extract.DefaultOptions().ApplyOverrides(job.Overrides); err != nil {
		http.Error(w, "invalid overrides: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !s.submit(w, r, job) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, job models.Job) bool {
	if err := s.AddJob(r.Context(), job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			s.logger.Warn("rejecting job", "job_id", job.ID, "err", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return false
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return false
	}
	return true
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "Missing job_id parameter", http.StatusBadRequest)
		return
	}

	result, err := s.GetResult(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("loading result failed", "job_id", jobID, "err", err)
		http.Error(w, "could not load result", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	batch, ok := s.Batch(r.URL.Query().Get("id"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch": batch,
		"done":  batch.Done(),
	})
}

func (s *Server) handleViewQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type pending struct {
		ID       string `json:"id"`
		Games    int    `json:"games"`
		Priority int    `json:"priority"`
	}
	pendingJobs := make([]pending, 0, len(s.jobMap))
	for _, job := range s.jobMap {
		pendingJobs = append(pendingJobs, pending{ID: job.ID, Games: len(job.Games), Priority: job.Priority})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue_length": len(s.jobs),
		"in_flight":    len(s.leases),
		"pending_jobs": pendingJobs,
	})
}

// requestForAnalysis accepts a PGN database for one user, splits its games
// into jobs and tracks them as a batch.
func (s *Server) requestForAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PGN       string                  `json:"pgn"`
		Provider  string                  `json:"provider"`
		Username  string                  `json:"username"`
		Overrides models.ExtractOverrides `json:"overrides"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		req.Provider = "pgn"
	}
	if _, err := extract.DefaultOptions().ApplyOverrides(req.Overrides); err != nil {
		http.Error(w, "invalid overrides: "+err.Error(), http.StatusBadRequest)
		return
	}

	games, err := extract.GamesFromPGN(strings.NewReader(req.PGN), req.Provider)
	if err != nil {
		http.Error(w, "invalid PGN: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(games) == 0 {
		http.Error(w, "PGN contains no games", http.StatusBadRequest)
		return
	}

	batch := &models.Batch{ID: uuid.NewString(), Results: make(map[string]models.Result)}
	var jobs []models.Job
	for start := 0; start < len(games); start += s.opts.GamesPerJob {
		end := min(start+s.opts.GamesPerJob, len(games))
		jobs = append(jobs, models.Job{
			ID:        uuid.NewString(),
			Games:     games[start:end],
			Identity:  models.Identity{req.Provider: req.Username},
			Overrides: req.Overrides,
		})
		batch.JobIDs = append(batch.JobIDs, jobs[len(jobs)-1].ID)
	}
	batch.Total = len(jobs)
	// tracked before queueing so no result can arrive for an unknown batch
	s.trackBatch(batch)

	for i, job := range jobs {
		if !s.submit(w, r, job) {
			s.trimBatch(batch.ID, i)
			return
		}
	}

	s.logger.Info("accepted PGN submission", "batch_id", batch.ID, "games", len(games), "jobs", batch.Total)
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batch.ID,
		"job_ids":  batch.JobIDs,
		"games":    len(games),
	})
}
