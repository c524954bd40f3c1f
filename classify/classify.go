// Package classify holds the pure scoring functions used to judge played
// moves: perspective changes, move classification and accuracy.
package classify

import (
	"math"

	"github.com/jacokyle01/puzzle-miner/models"
)

// MateCP is the centipawn value a forced mate maps to.
const MateCP = 100000

// Classification thresholds in centipawns of loss.
const (
	BestMaxLoss       = 10
	ExcellentMaxLoss  = 25
	GoodMaxLoss       = 50
	InaccuracyMaxLoss = 100
	MistakeMaxLoss    = 200

	// LostInaccuracyMaxLoss replaces InaccuracyMaxLoss when the mover was
	// already lost before the move.
	LostInaccuracyMaxLoss = 150
	// AlreadyLostCP is the mover's eval below which the position counts as lost.
	AlreadyLostCP = -300
)

// ToCentipawns maps a score onto one comparable integer scale.
func ToCentipawns(s models.Score) int {
	switch s.Kind {
	case models.ScoreMate:
		if s.Value > 0 {
			return MateCP
		}
		return -MateCP
	default:
		return s.Value
	}
}

// Reproject converts cp computed for from's perspective into to's.
func Reproject(cp int, from, to models.Color) int {
	if from != to {
		return -cp
	}
	return cp
}

// Input describes one played move for Classify.
type Input struct {
	CPLoss          int
	IsBestMove      bool
	IsSacrifice     bool
	FoundDeepTactic bool
	IsBookMove      bool
	WasAlreadyLost  bool
}

// Classify labels a move. Book moves always classify as book.
func Classify(in Input) models.Classification {
	switch {
	case in.IsBookMove:
		return models.Book
	case in.IsBestMove && in.IsSacrifice && in.FoundDeepTactic:
		return models.Brilliant
	case in.IsBestMove && in.FoundDeepTactic:
		return models.Great
	case in.CPLoss <= BestMaxLoss:
		return models.Best
	case in.CPLoss <= ExcellentMaxLoss:
		return models.Excellent
	case in.CPLoss <= GoodMaxLoss:
		return models.Good
	}

	inaccuracy := InaccuracyMaxLoss
	if in.WasAlreadyLost {
		inaccuracy = LostInaccuracyMaxLoss
	}
	switch {
	case in.CPLoss <= inaccuracy:
		return models.Inaccuracy
	case in.CPLoss <= MistakeMaxLoss:
		return models.Mistake
	default:
		return models.Blunder
	}
}

// accuracySnap is how close to 100 the curve must come to read as a
// perfect game. The curve tops out at 99.9999 for zero loss.
const accuracySnap = 1e-3

// Accuracy converts an average centipawn loss into a 0..100 accuracy
// percentage.
func Accuracy(avgCPLoss float64) float64 {
	v := 103.1668*math.Exp(-0.04354*avgCPLoss) - 3.1669
	if v >= 100-accuracySnap {
		return 100
	}
	return math.Max(0, v)
}

// Severity buckets an eval swing.
func Severity(swing int) models.Severity {
	switch {
	case swing < 200:
		return models.SeveritySmall
	case swing < 400:
		return models.SeverityMedium
	default:
		return models.SeverityBig
	}
}
