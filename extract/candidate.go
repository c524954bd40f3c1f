package extract

import (
	"context"

	"github.com/google/uuid"
	"github.com/notnil/chess"

	"github.com/jacokyle01/puzzle-miner/classify"
	"github.com/jacokyle01/puzzle-miner/models"
)

// candidate runs the quality gates for ply p and returns the accepted puzzle,
// or nil when the ply does not qualify.
func (w *gameWalk) candidate(ctx context.Context, p *ply) (*models.Puzzle, error) {
	if p.swing < w.opts.MissedTacticSwingCp {
		return nil, nil
	}

	var (
		pz     models.Puzzle
		pos    *chess.Position
		posIdx int
		ev     models.EvalResult
		ti     tagInput
	)
	switch {
	case p.mover == w.user && w.opts.Mode.avoid():
		pos, posIdx, ev = p.before, p.n-1, p.evB
		pz.Category = models.AvoidBlunder
		pz.Kind = w.avoidKind(p)
		ti = tagInput{before: p.evB, after: p.evA, afterPos: p.after, blunderer: p.mover}

	case p.mover != w.user && w.opts.Mode.punish():
		// the user must have missed the refutation for it to be a puzzle
		if p.n >= len(w.rp.uci) || w.rp.uci[p.n] == p.evA.BestMove {
			return nil, nil
		}
		pos, posIdx, ev = p.after, p.n, p.evA
		pz.Category = models.PunishBlunder
		pz.Kind = models.KindBlunder
		ti = tagInput{before: p.evA, after: p.evA, afterPos: p.after, blunderer: p.mover}

	default:
		return nil, nil
	}

	solverCP := classify.ToCentipawns(ev.Score)
	if solverCP < w.opts.EvalBandMinCp || solverCP > w.opts.EvalBandMaxCp {
		return nil, nil
	}
	if w.opts.RequireTactical && !tacticalWithin(pos, ev.PV, w.opts.TacticalLookahead) {
		return nil, nil
	}

	fen := pos.String()
	if w.opts.Confirm {
		w.report(p.n, PhaseConfirm)
		deep, err := w.x.eval.Evaluate(ctx, fen, w.opts.ConfirmBudget)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			w.x.logger.Debug("confirmation failed, discarding candidate", "game_id", w.game.ID, "ply", p.n, "err", err)
			return nil, nil
		}
		if deep.BestMove != ev.BestMove {
			w.x.logger.Debug("best move changed on confirmation", "game_id", w.game.ID, "ply", p.n,
				"shallow", ev.BestMove, "deep", deep.BestMove)
			return nil, nil
		}
		if len(deep.PV) >= len(ev.PV) && deep.Score.Valid() {
			ev = deep
		}
	}
	if ev.BestMove == "" {
		return nil, nil
	}

	pz.ID = uuid.NewString()
	pz.GameID = w.game.ID
	pz.SourcePly = p.n
	pz.FEN = fen
	pz.SideToMove = classify.ColorOf(pos.Turn())
	pz.BestLine = ev.PV
	pz.AcceptedMoves = []string{ev.BestMove}
	pz.Score = ev.Score
	pz.Swing = p.swing
	pz.Severity = classify.Severity(p.swing)
	pz.Tags = w.x.tags(ti, w.opts)
	pz.Opening = w.x.opening(w.game, w.rp, posIdx)
	pz.Phase = classify.GamePhase(pos, posIdx)
	pz.CreatedAt = w.x.now()
	return &pz, nil
}

func (w *gameWalk) avoidKind(p *ply) models.PuzzleKind {
	switch {
	case p.swing >= w.opts.BlunderSwingCp:
		return models.KindBlunder
	case p.beforeCP >= w.opts.WinningThresholdCp && p.swing >= w.opts.MissedWinSwingCp:
		return models.KindMissedWin
	default:
		return models.KindMissedTactic
	}
}
