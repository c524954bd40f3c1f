package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/notnil/chess"

	"github.com/jacokyle01/puzzle-miner/classify"
	"github.com/jacokyle01/puzzle-miner/models"
)

var fenTagRe = regexp.MustCompile(`(?m)^\s*\[FEN\s+"`)

// replay is a game decoded into its positions. positions[i] is the board
// before move i; positions[len(moves)] is the final board.
type replay struct {
	positions []*chess.Position
	moves     []*chess.Move
	uci       []string
	san       []string
	tags      map[string]string
}

func replayGame(g models.Game) (*replay, error) {
	text := strings.TrimSpace(g.MoveText)
	if text == "" {
		return nil, fmt.Errorf("%w: game %s has no moves", ErrInput, g.ID)
	}
	// a FEN tag in the PGN itself wins over the record's start position
	if g.InitialFEN != "" && !fenTagRe.MatchString(text) {
		text = fmt.Sprintf("[SetUp \"1\"]\n[FEN \"%s\"]\n\n%s", g.InitialFEN, text)
	}

	opt, err := chess.PGN(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: game %s: %v", ErrInput, g.ID, err)
	}
	cg := chess.NewGame(opt)

	rp := &replay{
		positions: cg.Positions(),
		moves:     cg.Moves(),
		tags:      make(map[string]string),
	}
	if len(rp.moves) == 0 {
		return nil, fmt.Errorf("%w: game %s has no moves", ErrInput, g.ID)
	}
	if len(rp.positions) != len(rp.moves)+1 {
		return nil, fmt.Errorf("%w: game %s: %d positions for %d moves", ErrInput, g.ID, len(rp.positions), len(rp.moves))
	}
	for i, m := range rp.moves {
		pos := rp.positions[i]
		rp.uci = append(rp.uci, chess.UCINotation{}.Encode(pos, m))
		rp.san = append(rp.san, chess.AlgebraicNotation{}.Encode(pos, m))
	}
	for _, tp := range cg.TagPairs() {
		rp.tags[tp.Key] = tp.Value
	}
	return rp, nil
}

// resolveMove finds the legal move of pos written as uci. The returned
// move carries its capture and check tags.
func resolveMove(pos *chess.Position, uci string) *chess.Move {
	var n chess.UCINotation
	for _, m := range pos.ValidMoves() {
		if n.Encode(pos, m) == uci {
			return m
		}
	}
	return nil
}

// tacticalWithin reports whether one of the first plies moves of pv from
// pos gives check, captures or promotes. Replay stops at the first illegal
// move.
func tacticalWithin(pos *chess.Position, pv []string, plies int) bool {
	cur := pos
	for i := 0; i < len(pv) && i < plies; i++ {
		m := resolveMove(cur, pv[i])
		if m == nil {
			return false
		}
		if m.HasTag(chess.Check) || m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant) || m.Promo() != chess.NoPieceType {
			return true
		}
		cur = cur.Update(m)
	}
	return false
}

// materialLoss replays up to plies moves of pv from pos and returns how
// much the balance moved against side. Positive means side lost material.
func materialLoss(pos *chess.Position, pv []string, plies int, side models.Color) int {
	balance := func(p *chess.Position) int {
		return classify.Material(p, side) - classify.Material(p, side.Opposite())
	}
	start := balance(pos)
	cur := pos
	for i := 0; i < len(pv) && i < plies; i++ {
		m := resolveMove(cur, pv[i])
		if m == nil {
			break
		}
		cur = cur.Update(m)
	}
	return start - balance(cur)
}

// isSacrifice reports whether the played move leaves the moved piece to be
// taken by the opponent's best reply for at least a minor exchange.
func isSacrifice(before, after *chess.Position, played *chess.Move, replyPV []string) bool {
	if len(replyPV) == 0 {
		return false
	}
	reply := resolveMove(after, replyPV[0])
	if reply == nil || reply.S2() != played.S2() || !reply.HasTag(chess.Capture) {
		return false
	}
	moved := classify.PieceValue(before.Board().Piece(played.S1()).Type())
	taken := classify.PieceValue(before.Board().Piece(played.S2()).Type())
	return moved-taken >= sacrificeMinCP
}

const sacrificeMinCP = 200
