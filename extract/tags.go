package extract

import (
	"github.com/notnil/chess"

	"github.com/jacokyle01/puzzle-miner/models"
)

// hangingPieceMinLoss is the net loss at which a line counts as dropping a
// piece rather than a pawn.
const hangingPieceMinLoss = 300

// OpeningBook looks up the opening a position belongs to.
type OpeningBook interface {
	Lookup(fen string) (models.Opening, bool)
}

// tagInput names the evaluations that play the "before" and "after" roles
// for a candidate. For punish candidates both roles hold the same
// evaluation of the position after the blunder.
type tagInput struct {
	before    models.EvalResult
	after     models.EvalResult
	afterPos  *chess.Position
	blunderer models.Color
}

func (x *Extractor) tags(in tagInput, opts Options) []string {
	var tags []string
	if shortMate(in.before.Score, opts.MateThreatMaxMoves) || shortMate(in.after.Score, opts.MateThreatMaxMoves) {
		tags = append(tags, models.TagMateThreat)
	}
	if materialLoss(in.afterPos, in.after.PV, opts.HangingPiecePlies, in.blunderer) >= hangingPieceMinLoss {
		tags = append(tags, models.TagHangingPiece)
	}
	return tags
}

func shortMate(s models.Score, maxMoves int) bool {
	if !s.IsMate() || s.Value == 0 {
		return false
	}
	n := s.Value
	if n < 0 {
		n = -n
	}
	return n <= maxMoves
}

// opening resolves opening metadata for the position reached after ply
// half-moves: the book first, walking back toward the start, then the PGN
// tags, then the game record.
func (x *Extractor) opening(g models.Game, rp *replay, ply int) models.Opening {
	if x.book != nil {
		for i := min(ply, len(rp.positions)-1); i >= 0; i-- {
			if o, ok := x.book.Lookup(rp.positions[i].String()); ok {
				return o
			}
		}
	}
	o := models.Opening{ECO: rp.tags["ECO"], Name: rp.tags["Opening"]}
	if o.ECO == "" {
		o.ECO = g.ECO
	}
	if o.Name == "" {
		o.Name = g.Opening
	}
	return o
}

func (x *Extractor) isBookMove(after *chess.Position) bool {
	if x.book == nil {
		return false
	}
	_, ok := x.book.Lookup(after.String())
	return ok
}
