// Package extract replays played games against an engine, classifies every
// move and turns the serious mistakes into training puzzles.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/jacokyle01/puzzle-miner/classify"
	"github.com/jacokyle01/puzzle-miner/engine"
	"github.com/jacokyle01/puzzle-miner/models"
)

// Evaluator is the position-evaluation capability the extractor needs.
// *engine.Client implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string, budget time.Duration) (models.EvalResult, error)
	EvaluateTopLines(ctx context.Context, fen string, budget time.Duration, n int) ([]models.TopLine, error)
}

// Progress phases.
const (
	PhaseReplay  = "replay"
	PhaseAnalyze = "analyze"
	PhaseConfirm = "confirm"
	PhaseDone    = "done"
)

// Progress is reported once per ply. It has no effect on extraction.
type Progress struct {
	GameID    string
	GameIndex int
	GameCount int
	Ply       int
	PlyCount  int
	Phase     string
}

// ProgressFunc observes extraction progress.
type ProgressFunc func(Progress)

// Result is the output of one Extract call.
type Result struct {
	Puzzles  []models.Puzzle
	Analyses []models.GameAnalysis
	Skipped  []models.SkippedGame
}

// Extractor turns games into puzzles. It evaluates strictly one position at
// a time, so one Extractor drives one engine.
type Extractor struct {
	eval   Evaluator
	book   OpeningBook
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOpeningBook enables book-move detection and book opening names.
func WithOpeningBook(b OpeningBook) Option {
	return func(x *Extractor) { x.book = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(x *Extractor) { x.now = now }
}

// New returns an Extractor evaluating through eval.
func New(eval Evaluator, opts ...Option) *Extractor {
	x := &Extractor{eval: eval, now: time.Now}
	for _, o := range opts {
		o(x)
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	x.logger = x.logger.With("component", "extractor")
	return x
}

// Extract processes games in order. Games the identity does not play in are
// skipped silently and games that cannot be replayed are reported in
// Result.Skipped. Only engine unavailability or cancellation aborts the
// call; the puzzles gathered so far are returned with the error.
func (x *Extractor) Extract(ctx context.Context, games []models.Game, identity models.Identity, opts Options, progress ProgressFunc) (Result, error) {
	var res Result
	if err := opts.Validate(); err != nil {
		return res, err
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	for i, g := range games {
		user, ok := userColor(g, identity)
		if !ok {
			x.logger.Debug("user does not play in game, skipping", "game_id", g.ID, "provider", g.Provider)
			continue
		}

		w := &gameWalk{x: x, opts: opts, game: g, user: user, index: i, count: len(games), progress: progress}
		err := w.run(ctx)
		res.Puzzles = append(res.Puzzles, w.puzzles...)
		if err != nil {
			if errors.Is(err, ErrInput) {
				x.logger.Warn("skipping game", "game_id", g.ID, "err", err)
				res.Skipped = append(res.Skipped, models.SkippedGame{GameID: g.ID, Reason: err.Error()})
				continue
			}
			return res, err
		}
		if w.analysis != nil {
			res.Analyses = append(res.Analyses, *w.analysis)
		}
		x.logger.Info("game extracted", "game_id", g.ID, "puzzles", len(w.puzzles), "plies", len(w.rp.moves))
	}
	return res, nil
}

func userColor(g models.Game, identity models.Identity) (models.Color, bool) {
	name := strings.TrimSpace(identity[g.Provider])
	if name == "" {
		return "", false
	}
	switch {
	case strings.EqualFold(name, strings.TrimSpace(g.White.Name)):
		return models.White, true
	case strings.EqualFold(name, strings.TrimSpace(g.Black.Name)):
		return models.Black, true
	default:
		return "", false
	}
}

// fatal reports whether err must abort the whole Extract call.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, engine.ErrEngineUnavailable) || errors.Is(err, engine.ErrCancelled) || ctx.Err() != nil
}

// gameWalk is the state of extracting one game.
type gameWalk struct {
	x        *Extractor
	opts     Options
	game     models.Game
	user     models.Color
	index    int
	count    int
	progress ProgressFunc

	rp        *replay
	puzzles   []models.Puzzle
	moves     []models.AnalyzedMove
	lastPly   int // ply of the last accepted puzzle, 0 if none
	lossSum   map[models.Color]int
	lossCount map[models.Color]int
	analysis  *models.GameAnalysis
}

// ply is everything known about one half-move under analysis.
type ply struct {
	n      int // 1-based
	before *chess.Position
	after  *chess.Position
	move   *chess.Move
	mover  models.Color
	evB    models.EvalResult
	evA    models.EvalResult
	// beforeCP and afterCP are both from the mover's perspective.
	beforeCP int
	afterCP  int
	swing    int
}

func (w *gameWalk) report(n int, phase string) {
	w.progress(Progress{
		GameID:    w.game.ID,
		GameIndex: w.index,
		GameCount: w.count,
		Ply:       n,
		PlyCount:  len(w.rp.moves),
		Phase:     phase,
	})
}

func (w *gameWalk) run(ctx context.Context) error {
	rp, err := replayGame(w.game)
	if err != nil {
		return err
	}
	w.rp = rp
	w.lossSum = make(map[models.Color]int)
	w.lossCount = make(map[models.Color]int)

	for i, mv := range rp.moves {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", engine.ErrCancelled, err)
		}

		p := &ply{
			n:      i + 1,
			before: rp.positions[i],
			after:  rp.positions[i+1],
			move:   mv,
			mover:  classify.ColorOf(rp.positions[i].Turn()),
		}
		capped := len(w.puzzles) >= w.opts.MaxPuzzlesPerGame
		if capped && !w.opts.IncludeAnalysis {
			break
		}

		if reason := w.skipReason(p); reason != "" {
			w.report(p.n, PhaseReplay)
			w.neutral(p, reason)
			continue
		}

		w.report(p.n, PhaseAnalyze)
		if err := w.analyze(ctx, p, capped); err != nil {
			if fatal(ctx, err) {
				return err
			}
			w.x.logger.Debug("ply skipped", "game_id", w.game.ID, "ply", p.n, "err", err)
			w.neutral(p, "inconclusive")
		}
	}

	if w.opts.IncludeAnalysis {
		w.analysis = &models.GameAnalysis{
			GameID:        w.game.ID,
			Moves:         w.moves,
			WhiteAccuracy: w.accuracy(models.White),
			BlackAccuracy: w.accuracy(models.Black),
			AnalyzedAt:    w.x.now(),
		}
	}
	w.report(len(rp.moves), PhaseDone)
	return nil
}

func (w *gameWalk) skipReason(p *ply) string {
	switch {
	case p.n <= w.opts.OpeningPlies:
		return "opening"
	case w.opts.MinPieces > 0 && classify.NonKingPieces(p.before) < w.opts.MinPieces:
		return "material"
	case w.lastPly > 0 && p.n <= w.lastPly+w.opts.CooldownPlies:
		return "cooldown"
	}
	return ""
}

// neutral records a ply that was replayed but not judged.
func (w *gameWalk) neutral(p *ply, reason string) {
	if !w.opts.IncludeAnalysis {
		return
	}
	w.x.logger.Debug("ply not judged", "game_id", w.game.ID, "ply", p.n, "reason", reason)
	class := models.Good
	if w.x.isBookMove(p.after) {
		class = models.Book
	}
	w.moves = append(w.moves, models.AnalyzedMove{
		Ply:            p.n,
		Move:           w.rp.uci[p.n-1],
		SAN:            w.rp.san[p.n-1],
		Color:          p.mover,
		Classification: class,
	})
}

func (w *gameWalk) analyze(ctx context.Context, p *ply, capped bool) error {
	budget := w.opts.AnalysisBudget

	evB, err := w.x.eval.Evaluate(ctx, p.before.String(), budget)
	if err != nil {
		return err
	}
	if len(evB.PV) < w.opts.MinPVLength || !evB.Score.Valid() {
		return fmt.Errorf("%w: before ply %d: pv length %d", ErrInconclusive, p.n, len(evB.PV))
	}
	evA, err := w.x.eval.Evaluate(ctx, p.after.String(), budget)
	if err != nil {
		return err
	}
	if len(evA.PV) < w.opts.MinPVLength || !evA.Score.Valid() {
		return fmt.Errorf("%w: after ply %d: pv length %d", ErrInconclusive, p.n, len(evA.PV))
	}

	p.evB, p.evA = evB, evA
	p.beforeCP = classify.ToCentipawns(evB.Score)
	p.afterCP = classify.Reproject(classify.ToCentipawns(evA.Score), p.mover.Opposite(), p.mover)
	p.swing = p.beforeCP - p.afterCP

	var entry models.AnalyzedMove
	if w.opts.IncludeAnalysis {
		entry, err = w.judge(ctx, p)
		if err != nil {
			return err
		}
	}

	if !capped {
		pz, err := w.candidate(ctx, p)
		if err != nil {
			return err
		}
		if pz != nil {
			w.puzzles = append(w.puzzles, *pz)
			w.lastPly = p.n
			entry.PuzzleID = pz.ID
			w.x.logger.Info("puzzle accepted",
				"game_id", w.game.ID, "ply", p.n, "category", pz.Category, "kind", pz.Kind, "swing", p.swing)
		}
	}

	if w.opts.IncludeAnalysis {
		w.moves = append(w.moves, entry)
	}
	return nil
}

// judge classifies the played move and accumulates its loss for accuracy.
func (w *gameWalk) judge(ctx context.Context, p *ply) (models.AnalyzedMove, error) {
	cpLoss := max(0, p.swing)
	uci := w.rp.uci[p.n-1]
	in := classify.Input{
		CPLoss:         cpLoss,
		IsBestMove:     uci == p.evB.BestMove,
		IsBookMove:     w.x.isBookMove(p.after),
		WasAlreadyLost: p.beforeCP < classify.AlreadyLostCP,
	}

	if in.IsBestMove && w.opts.DetectBrilliant && !in.IsBookMove {
		lines, err := w.x.eval.EvaluateTopLines(ctx, p.before.String(), w.opts.AnalysisBudget, 2)
		switch {
		case err != nil && fatal(ctx, err):
			return models.AnalyzedMove{}, err
		case err == nil && len(lines) >= 2 && lines[0].Score.Valid() && lines[1].Score.Valid():
			gap := classify.ToCentipawns(lines[0].Score) - classify.ToCentipawns(lines[1].Score)
			in.FoundDeepTactic = gap >= w.opts.DeepTacticGapCp
		}
		if in.FoundDeepTactic {
			in.IsSacrifice = isSacrifice(p.before, p.after, p.move, p.evA.PV)
		}
	}

	w.lossSum[p.mover] += cpLoss
	w.lossCount[p.mover]++

	before := classify.Reproject(p.beforeCP, p.mover, models.White)
	after := classify.Reproject(p.afterCP, p.mover, models.White)
	return models.AnalyzedMove{
		Ply:            p.n,
		Move:           uci,
		SAN:            w.rp.san[p.n-1],
		Color:          p.mover,
		Classification: classify.Classify(in),
		EvalBefore:     &before,
		EvalAfter:      &after,
		CPLoss:         cpLoss,
		BestMove:       p.evB.BestMove,
	}, nil
}

func (w *gameWalk) accuracy(c models.Color) *float64 {
	n := w.lossCount[c]
	if n == 0 {
		return nil
	}
	a := classify.Accuracy(float64(w.lossSum[c]) / float64(n))
	return &a
}
