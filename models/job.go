package models

// ExtractOverrides carries per-job threshold overrides. Nil fields keep the
// worker's configured value. Budgets are in milliseconds.
type ExtractOverrides struct {
	Mode *string `json:"mode,omitempty"`

	OpeningPlies  *int `json:"opening_plies,omitempty"`
	MinPieces     *int `json:"min_pieces,omitempty"`
	CooldownPlies *int `json:"cooldown_plies,omitempty"`
	MinPVLength   *int `json:"min_pv_length,omitempty"`

	MissedTacticSwingCp *int `json:"missed_tactic_swing_cp,omitempty"`
	BlunderSwingCp      *int `json:"blunder_swing_cp,omitempty"`
	MissedWinSwingCp    *int `json:"missed_win_swing_cp,omitempty"`
	WinningThresholdCp  *int `json:"winning_threshold_cp,omitempty"`

	EvalBandMinCp *int `json:"eval_band_min_cp,omitempty"`
	EvalBandMaxCp *int `json:"eval_band_max_cp,omitempty"`

	RequireTactical   *bool `json:"require_tactical,omitempty"`
	TacticalLookahead *int  `json:"tactical_lookahead,omitempty"`

	Confirm         *bool `json:"confirm,omitempty"`
	ConfirmBudgetMs *int  `json:"confirm_budget_ms,omitempty"`

	MaxPuzzlesPerGame *int  `json:"max_puzzles_per_game,omitempty"`
	AnalysisBudgetMs  *int  `json:"analysis_budget_ms,omitempty"`
	IncludeAnalysis   *bool `json:"include_analysis,omitempty"`

	DetectBrilliant    *bool `json:"detect_brilliant,omitempty"`
	DeepTacticGapCp    *int  `json:"deep_tactic_gap_cp,omitempty"`
	MateThreatMaxMoves *int  `json:"mate_threat_max_moves,omitempty"`
	HangingPiecePlies  *int  `json:"hanging_piece_plies,omitempty"`
	UniquenessMarginCp *int  `json:"uniqueness_margin_cp,omitempty"`
}

// Job is a batch of games queued for puzzle extraction on a worker.
type Job struct {
	ID        string           `json:"id"`
	Games     []Game           `json:"games"`
	Identity  Identity         `json:"identity"`
	Overrides ExtractOverrides `json:"overrides"`
	Priority  int              `json:"priority"`
}
