package models

import "time"

// SkippedGame records a game that was excluded from extraction.
type SkippedGame struct {
	GameID string `json:"game_id"`
	Reason string `json:"reason"`
}

// Result is what a worker reports back for a Job.
type Result struct {
	JobID      string         `json:"job_id"`
	Puzzles    []Puzzle       `json:"puzzles"`
	Analyses   []GameAnalysis `json:"analyses,omitempty"`
	Skipped    []SkippedGame  `json:"skipped,omitempty"`
	Worker     string         `json:"worker,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
}
