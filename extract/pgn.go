package extract

import (
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/jacokyle01/puzzle-miner/models"
)

// GamesFromPGN reads every game of a PGN database and normalizes it. Games
// without an id-bearing tag are numbered by their position in the file.
func GamesFromPGN(r io.Reader, provider string) ([]models.Game, error) {
	parsed, err := chess.GamesFromPGN(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	games := make([]models.Game, 0, len(parsed))
	for i, cg := range parsed {
		games = append(games, normalize(cg, provider, i+1))
	}
	return games, nil
}

func normalize(cg *chess.Game, provider string, n int) models.Game {
	tag := func(k string) string {
		if tp := cg.GetTagPair(k); tp != nil {
			return strings.TrimSpace(tp.Value)
		}
		return ""
	}

	g := models.Game{
		ID:          gameID(tag("GameId"), tag("Site"), n),
		Provider:    provider,
		MoveText:    cg.String(),
		White:       models.Player{Name: tag("White"), Rating: rating(tag("WhiteElo"))},
		Black:       models.Player{Name: tag("Black"), Rating: rating(tag("BlackElo"))},
		Result:      tag("Result"),
		Termination: tag("Termination"),
		ECO:         tag("ECO"),
		Opening:     tag("Opening"),
		TimeClass:   timeClass(tag("TimeControl")),
		PlayedAt:    playedAt(tag("UTCDate"), tag("UTCTime"), tag("Date")),
	}
	if ev := strings.ToLower(tag("Event")); ev != "" {
		rated := strings.HasPrefix(ev, "rated")
		g.Rated = &rated
	}
	return g
}

func gameID(id, site string, n int) string {
	if id != "" {
		return id
	}
	if strings.HasPrefix(site, "http") {
		if base := path.Base(site); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return fmt.Sprintf("game-%d", n)
}

func rating(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// timeClass buckets a TimeControl tag by estimated game duration.
func timeClass(tc string) string {
	if tc == "" || tc == "?" {
		return ""
	}
	if tc == "-" {
		return "correspondence"
	}
	base, inc, _ := strings.Cut(tc, "+")
	b, err := strconv.Atoi(base)
	if err != nil {
		return ""
	}
	i, _ := strconv.Atoi(inc)
	switch est := b + 40*i; {
	case est < 30:
		return "ultraBullet"
	case est < 180:
		return "bullet"
	case est < 480:
		return "blitz"
	case est < 1500:
		return "rapid"
	default:
		return "classical"
	}
}

func playedAt(utcDate, utcTime, date string) time.Time {
	if utcDate != "" {
		if t, err := time.Parse("2006.01.02 15:04:05", utcDate+" "+utcTime); err == nil {
			return t
		}
		if t, err := time.Parse("2006.01.02", utcDate); err == nil {
			return t
		}
	}
	if t, err := time.Parse("2006.01.02", date); err == nil {
		return t
	}
	return time.Time{}
}
