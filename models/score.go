package models

import (
	"fmt"
	"strconv"
)

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// ScoreKind tags the Score union.
type ScoreKind uint8

const (
	ScoreNone ScoreKind = iota
	ScoreCP
	ScoreMate
)

// Score is an engine evaluation from the perspective of the side to move
// in the position it was computed for. Mate values are in moves as
// reported by the engine; negative means the side to move gets mated.
type Score struct {
	Kind  ScoreKind `json:"kind"`
	Value int       `json:"value"`
}

// CP returns a centipawn score.
func CP(v int) Score { return Score{Kind: ScoreCP, Value: v} }

// Mate returns a mate-in-N score.
func Mate(n int) Score { return Score{Kind: ScoreMate, Value: n} }

// Valid reports whether the engine reported a score at all.
func (s Score) Valid() bool { return s.Kind != ScoreNone }

// IsMate reports whether s is a forced mate score.
func (s Score) IsMate() bool { return s.Kind == ScoreMate }

// Negate flips the score to the other side's perspective.
func (s Score) Negate() Score {
	return Score{Kind: s.Kind, Value: -s.Value}
}

func (s Score) String() string {
	switch s.Kind {
	case ScoreCP:
		return fmt.Sprintf("cp %d", s.Value)
	case ScoreMate:
		return "mate " + strconv.Itoa(s.Value)
	default:
		return "none"
	}
}
