package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jacokyle01/puzzle-miner/models"
)

// infiniteMoveTime replaces "go infinite", which some engine builds never
// conclude reliably.
const infiniteMoveTime = 10 * time.Minute

// StopCondition tells the engine when to conclude a search.
type StopCondition struct {
	Depth    int
	MoveTime time.Duration
	Infinite bool
}

// Depth searches to a fixed depth.
func Depth(d int) StopCondition { return StopCondition{Depth: d} }

// MoveTime searches for a fixed time budget.
func MoveTime(t time.Duration) StopCondition { return StopCondition{MoveTime: t} }

// UntilStopped searches until Stop is called.
func UntilStopped() StopCondition { return StopCondition{Infinite: true} }

func (c StopCondition) command() string {
	switch {
	case c.Infinite:
		return fmt.Sprintf("go movetime %d", infiniteMoveTime.Milliseconds())
	case c.Depth > 0:
		return fmt.Sprintf("go depth %d", c.Depth)
	default:
		ms := c.MoveTime.Milliseconds()
		if ms <= 0 {
			ms = 1
		}
		return fmt.Sprintf("go movetime %d", ms)
	}
}

// Info is a partial update parsed from one "info" line. Nil fields were
// absent from the line.
type Info struct {
	Depth   *int
	Time    *time.Duration
	MultiPV *int
	Score   *models.Score
	PV      []string
}

func (i Info) empty() bool {
	return i.Depth == nil && i.Time == nil && i.MultiPV == nil && i.Score == nil && i.PV == nil
}

// BestMove is the terminal reply of a search. Move is empty when the engine
// reports "(none)".
type BestMove struct {
	Move   string
	Ponder string
}

// Event is one message from the engine, tagged with the job id of the
// search that produced it.
type Event struct {
	JobID    uint64
	Info     *Info
	BestMove *BestMove
}

// ParseInfo parses an "info" line. It never fails: malformed or unknown
// tokens are skipped and leave the corresponding field nil.
func ParseInfo(line string) Info {
	var info Info
	parts := strings.Fields(line)
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if v, ok := intAt(parts, i+1); ok {
				info.Depth = &v
				i++
			}
		case "time":
			if v, ok := intAt(parts, i+1); ok {
				d := time.Duration(v) * time.Millisecond
				info.Time = &d
				i++
			}
		case "multipv":
			if v, ok := intAt(parts, i+1); ok {
				info.MultiPV = &v
				i++
			}
		case "score":
			if i+2 < len(parts) {
				if v, ok := intAt(parts, i+2); ok {
					switch parts[i+1] {
					case "cp":
						s := models.CP(v)
						info.Score = &s
						i += 2
					case "mate":
						s := models.Mate(v)
						info.Score = &s
						i += 2
					}
				}
			}
		case "pv":
			// pv runs to the end of the line
			if i+1 < len(parts) {
				info.PV = append([]string(nil), parts[i+1:]...)
			}
			return info
		case "string":
			return info
		}
	}
	return info
}

// ParseBestMove parses a "bestmove" line.
func ParseBestMove(line string) BestMove {
	var bm BestMove
	parts := strings.Fields(line)
	if len(parts) > 1 && parts[1] != "(none)" && parts[1] != "0000" {
		bm.Move = parts[1]
	}
	if len(parts) > 3 && parts[2] == "ponder" {
		bm.Ponder = parts[3]
	}
	return bm
}

func intAt(parts []string, i int) (int, bool) {
	if i >= len(parts) {
		return 0, false
	}
	v, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0, false
	}
	return v, true
}
