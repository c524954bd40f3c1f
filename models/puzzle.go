package models

import "time"

type PuzzleCategory string

const (
	AvoidBlunder  PuzzleCategory = "avoidBlunder"
	PunishBlunder PuzzleCategory = "punishBlunder"
)

type PuzzleKind string

const (
	KindBlunder      PuzzleKind = "blunder"
	KindMissedWin    PuzzleKind = "missedWin"
	KindMissedTactic PuzzleKind = "missedTactic"
)

type Severity string

const (
	SeveritySmall  Severity = "small"
	SeverityMedium Severity = "medium"
	SeverityBig    Severity = "big"
)

type Phase string

const (
	PhaseOpening    Phase = "opening"
	PhaseMiddlegame Phase = "middlegame"
	PhaseEndgame    Phase = "endgame"
)

// Puzzle tags.
const (
	TagMateThreat   = "mateThreat"
	TagHangingPiece = "hangingPiece"
)

// Opening describes the opening a puzzle arose from.
type Opening struct {
	ECO  string `json:"eco,omitempty"`
	Name string `json:"name,omitempty"`
}

// Puzzle is a training position extracted from a played game. FEN is the
// position that was evaluated to produce BestLine and Score.
type Puzzle struct {
	ID            string         `json:"id"`
	Category      PuzzleCategory `json:"category"`
	Kind          PuzzleKind     `json:"kind"`
	GameID        string         `json:"game_id"`
	SourcePly     int            `json:"source_ply"`
	FEN           string         `json:"fen"`
	SideToMove    Color          `json:"side_to_move"`
	BestLine      []string       `json:"best_line"`
	AcceptedMoves []string       `json:"accepted_moves"`
	Score         Score          `json:"score"` // solver perspective
	Swing         int            `json:"swing"`
	Severity      Severity       `json:"severity"`
	Tags          []string       `json:"tags,omitempty"`
	Opening       Opening        `json:"opening"`
	Phase         Phase          `json:"phase"`
	CreatedAt     time.Time      `json:"created_at"`
}
