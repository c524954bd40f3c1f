package models

import "time"

// Classification is the quality label of a played move.
type Classification string

const (
	Book       Classification = "book"
	Brilliant  Classification = "brilliant"
	Great      Classification = "great"
	Best       Classification = "best"
	Excellent  Classification = "excellent"
	Good       Classification = "good"
	Inaccuracy Classification = "inaccuracy"
	Mistake    Classification = "mistake"
	Blunder    Classification = "blunder"
)

// AnalyzedMove is the analysis of one ply. Evaluations are centipawns from
// White's perspective and are nil when the ply was not analyzed.
type AnalyzedMove struct {
	Ply            int            `json:"ply"`
	Move           string         `json:"move"`
	SAN            string         `json:"san,omitempty"`
	Color          Color          `json:"color"`
	Classification Classification `json:"classification"`
	EvalBefore     *int           `json:"eval_before,omitempty"`
	EvalAfter      *int           `json:"eval_after,omitempty"`
	CPLoss         int            `json:"cp_loss"`
	BestMove       string         `json:"best_move,omitempty"`
	PuzzleID       string         `json:"puzzle_id,omitempty"`
}

// GameAnalysis is the per-move analysis of a whole game.
type GameAnalysis struct {
	GameID        string         `json:"game_id"`
	Moves         []AnalyzedMove `json:"moves"`
	WhiteAccuracy *float64       `json:"white_accuracy,omitempty"`
	BlackAccuracy *float64       `json:"black_accuracy,omitempty"`
	AnalyzedAt    time.Time      `json:"analyzed_at"`
}
