package extract

import "errors"

var (
	// ErrInput marks a game that cannot be replayed. The game is skipped.
	ErrInput = errors.New("invalid game input")
	// ErrInconclusive marks a ply whose evaluation is too thin to judge.
	ErrInconclusive = errors.New("analysis inconclusive")
)
