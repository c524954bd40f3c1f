package extract

import (
	"fmt"
	"time"

	"github.com/jacokyle01/puzzle-miner/models"
)

// Mode selects which candidate generators run.
type Mode string

const (
	ModeAvoidBlunder  Mode = "avoidBlunder"
	ModePunishBlunder Mode = "punishBlunder"
	ModeBoth          Mode = "both"
)

func (m Mode) avoid() bool  { return m == ModeAvoidBlunder || m == ModeBoth }
func (m Mode) punish() bool { return m == ModePunishBlunder || m == ModeBoth }

// Options holds every extraction threshold. Use DefaultOptions and override
// individual fields.
type Options struct {
	Mode Mode `yaml:"mode"`

	OpeningPlies  int `yaml:"opening_plies"`
	MinPieces     int `yaml:"min_pieces"` // 0 disables the material gate
	CooldownPlies int `yaml:"cooldown_plies"`
	MinPVLength   int `yaml:"min_pv_length"`

	MissedTacticSwingCp int `yaml:"missed_tactic_swing_cp"`
	BlunderSwingCp      int `yaml:"blunder_swing_cp"`
	MissedWinSwingCp    int `yaml:"missed_win_swing_cp"`
	WinningThresholdCp  int `yaml:"winning_threshold_cp"`

	EvalBandMinCp int `yaml:"eval_band_min_cp"`
	EvalBandMaxCp int `yaml:"eval_band_max_cp"`

	RequireTactical   bool `yaml:"require_tactical"`
	TacticalLookahead int  `yaml:"tactical_lookahead"`

	Confirm       bool          `yaml:"confirm"`
	ConfirmBudget time.Duration `yaml:"confirm_budget"`

	MaxPuzzlesPerGame int           `yaml:"max_puzzles_per_game"`
	AnalysisBudget    time.Duration `yaml:"analysis_budget"`
	IncludeAnalysis   bool          `yaml:"include_analysis"`

	DetectBrilliant    bool `yaml:"detect_brilliant"`
	DeepTacticGapCp    int  `yaml:"deep_tactic_gap_cp"`
	MateThreatMaxMoves int  `yaml:"mate_threat_max_moves"`
	HangingPiecePlies  int  `yaml:"hanging_piece_plies"`

	// UniquenessMarginCp is accepted for compatibility with stored option
	// sets. It does not filter candidates.
	UniquenessMarginCp int `yaml:"uniqueness_margin_cp"`
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		Mode:                ModeBoth,
		OpeningPlies:        8,
		MinPieces:           4,
		CooldownPlies:       1,
		MinPVLength:         2,
		MissedTacticSwingCp: 180,
		BlunderSwingCp:      250,
		MissedWinSwingCp:    150,
		WinningThresholdCp:  200,
		EvalBandMinCp:       -300,
		EvalBandMaxCp:       600,
		RequireTactical:     true,
		TacticalLookahead:   4,
		Confirm:             false,
		ConfirmBudget:       2 * time.Second,
		MaxPuzzlesPerGame:   5,
		AnalysisBudget:      300 * time.Millisecond,
		IncludeAnalysis:     false,
		DetectBrilliant:     true,
		DeepTacticGapCp:     150,
		MateThreatMaxMoves:  3,
		HangingPiecePlies:   2,
	}
}

// Validate rejects option sets the extractor cannot run with.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeAvoidBlunder, ModePunishBlunder, ModeBoth:
	default:
		return fmt.Errorf("options: unknown mode %q", o.Mode)
	}
	if o.AnalysisBudget <= 0 {
		return fmt.Errorf("options: analysis_budget must be positive")
	}
	if o.Confirm && o.ConfirmBudget <= 0 {
		return fmt.Errorf("options: confirm_budget must be positive when confirm is set")
	}
	if o.EvalBandMinCp > o.EvalBandMaxCp {
		return fmt.Errorf("options: eval band [%d,%d] is empty", o.EvalBandMinCp, o.EvalBandMaxCp)
	}
	if o.OpeningPlies < 0 || o.MinPieces < 0 || o.CooldownPlies < 0 || o.MinPVLength < 0 {
		return fmt.Errorf("options: ply and piece gates must not be negative")
	}
	if o.MaxPuzzlesPerGame < 0 {
		return fmt.Errorf("options: max_puzzles_per_game must not be negative")
	}
	if o.RequireTactical && o.TacticalLookahead < 1 {
		return fmt.Errorf("options: tactical_lookahead must be at least 1")
	}
	return nil
}

// ApplyOverrides returns o with the non-nil fields of ov applied.
func (o Options) ApplyOverrides(ov models.ExtractOverrides) (Options, error) {
	if ov.Mode != nil {
		o.Mode = Mode(*ov.Mode)
	}
	set(&o.OpeningPlies, ov.OpeningPlies)
	set(&o.MinPieces, ov.MinPieces)
	set(&o.CooldownPlies, ov.CooldownPlies)
	set(&o.MinPVLength, ov.MinPVLength)
	set(&o.MissedTacticSwingCp, ov.MissedTacticSwingCp)
	set(&o.BlunderSwingCp, ov.BlunderSwingCp)
	set(&o.MissedWinSwingCp, ov.MissedWinSwingCp)
	set(&o.WinningThresholdCp, ov.WinningThresholdCp)
	set(&o.EvalBandMinCp, ov.EvalBandMinCp)
	set(&o.EvalBandMaxCp, ov.EvalBandMaxCp)
	set(&o.RequireTactical, ov.RequireTactical)
	set(&o.TacticalLookahead, ov.TacticalLookahead)
	set(&o.Confirm, ov.Confirm)
	setMillis(&o.ConfirmBudget, ov.ConfirmBudgetMs)
	set(&o.MaxPuzzlesPerGame, ov.MaxPuzzlesPerGame)
	setMillis(&o.AnalysisBudget, ov.AnalysisBudgetMs)
	set(&o.IncludeAnalysis, ov.IncludeAnalysis)
	set(&o.DetectBrilliant, ov.DetectBrilliant)
	set(&o.DeepTacticGapCp, ov.DeepTacticGapCp)
	set(&o.MateThreatMaxMoves, ov.MateThreatMaxMoves)
	set(&o.HangingPiecePlies, ov.HangingPiecePlies)
	set(&o.UniquenessMarginCp, ov.UniquenessMarginCp)
	return o, o.Validate()
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setMillis(dst *time.Duration, ms *int) {
	if ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}
