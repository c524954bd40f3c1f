package models

import "time"

// EvalResult is the engine's verdict on one position at one time budget.
type EvalResult struct {
	FEN      string        `json:"fen"`
	BestMove string        `json:"best_move"`
	PV       []string      `json:"pv"` // principal variation, UCI moves
	Score    Score         `json:"score"`
	Depth    int           `json:"depth,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// TopLine is one ranked line of a multi-PV evaluation.
type TopLine struct {
	Rank  int      `json:"rank"`
	PV    []string `json:"pv"`
	Score Score    `json:"score"`
	Depth int      `json:"depth,omitempty"`
}
