package models

import "time"

// Player is one side of a game as reported by the provider.
type Player struct {
	Name   string `json:"name"`
	Rating *int   `json:"rating,omitempty"`
}

// Game is a normalized game record. MoveText is PGN, with or without tag pairs.
// InitialFEN, when set, overrides the standard starting position unless the
// PGN carries its own FEN tag.
type Game struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	MoveText    string    `json:"move_text"`
	InitialFEN  string    `json:"initial_fen,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
	TimeClass   string    `json:"time_class,omitempty"`
	Rated       *bool     `json:"rated,omitempty"`
	White       Player    `json:"white"`
	Black       Player    `json:"black"`
	Result      string    `json:"result,omitempty"`
	Termination string    `json:"termination,omitempty"`
	ECO         string    `json:"eco,omitempty"`
	Opening     string    `json:"opening,omitempty"`
}

// Identity maps a provider name to the user's account name on it.
type Identity map[string]string
