package classify

import (
	"github.com/notnil/chess"

	"github.com/jacokyle01/puzzle-miner/models"
)

// endgamePieces is the number of non-pawn, non-king pieces at or below
// which a position counts as an endgame.
const endgamePieces = 6

// openingPlies bounds the opening phase.
const openingPlies = 20

// PieceValue returns the centipawn value of a piece type. Kings are zero.
func PieceValue(pt chess.PieceType) int {
	switch pt {
	case chess.Pawn:
		return 100
	case chess.Knight, chess.Bishop:
		return 300
	case chess.Rook:
		return 500
	case chess.Queen:
		return 900
	default:
		return 0
	}
}

// Material sums the piece values of one side.
func Material(pos *chess.Position, c models.Color) int {
	want := ToChessColor(c)
	total := 0
	for _, p := range pos.Board().SquareMap() {
		if p.Color() == want {
			total += PieceValue(p.Type())
		}
	}
	return total
}

// NonKingPieces counts every piece on the board except the kings.
func NonKingPieces(pos *chess.Position) int {
	n := 0
	for _, p := range pos.Board().SquareMap() {
		if p != chess.NoPiece && p.Type() != chess.King {
			n++
		}
	}
	return n
}

// GamePhase classifies a position reached after ply half-moves.
func GamePhase(pos *chess.Position, ply int) models.Phase {
	pieces := 0
	for _, p := range pos.Board().SquareMap() {
		switch p.Type() {
		case chess.Knight, chess.Bishop, chess.Rook, chess.Queen:
			pieces++
		}
	}
	switch {
	case pieces <= endgamePieces:
		return models.PhaseEndgame
	case ply <= openingPlies:
		return models.PhaseOpening
	default:
		return models.PhaseMiddlegame
	}
}

// ColorOf converts a chess color.
func ColorOf(c chess.Color) models.Color {
	if c == chess.Black {
		return models.Black
	}
	return models.White
}

// ToChessColor converts to a chess color.
func ToChessColor(c models.Color) chess.Color {
	if c == models.Black {
		return chess.Black
	}
	return chess.White
}
