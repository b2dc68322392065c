package game

import (
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side. Zero value maps to zero value.
func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return ""
}

// Status represents a game lifecycle state. All states other than
// waiting and active are terminal.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusResigned  Status = "resigned"
	StatusDraw      Status = "draw"
	StatusTimeout   Status = "timeout"
	StatusAborted   Status = "aborted"
)

func (s Status) Terminal() bool {
	return s != StatusWaiting && s != StatusActive
}

// ClockConfig is fixed at game creation.
type ClockConfig struct {
	InitialTimeSeconds int `json:"initial_time_seconds"`
	IncrementSeconds   int `json:"increment_seconds"`
}

// ClockSnapshot is the last raw remaining-time pair written to the
// store, used to resume a clock after the in-memory timer is lost.
type ClockSnapshot struct {
	WhiteRemainingMs int64 `json:"white_remaining_ms"`
	BlackRemainingMs int64 `json:"black_remaining_ms"`
}

// Result is set once a game reaches a terminal status. Winner is empty
// for stalemate and draws.
type Result struct {
	Winner Color  `json:"winner,omitempty"`
	Reason string `json:"reason"`
}

// MoveRecord is one applied move. Append-only, never mutated.
type MoveRecord struct {
	Sequence  int       `json:"seq"`
	Notation  string    `json:"san"`
	Timestamp time.Time `json:"ts"`
}

// Session is the persisted game aggregate.
type Session struct {
	ID          string         `json:"id"`
	InviteToken string         `json:"invite_token"`
	Status      Status         `json:"status"`
	CreatorID   string         `json:"creator_id"`
	WhiteID     string         `json:"white_id,omitempty"`
	BlackID     string         `json:"black_id,omitempty"`
	Position    string         `json:"fen"`
	Moves       []MoveRecord   `json:"moves"`
	Turn        Color          `json:"turn"`
	Clock       ClockConfig    `json:"clock"`
	ClockSnap   *ClockSnapshot `json:"persisted_clock,omitempty"`
	DrawOffer   Color          `json:"draw_offer,omitempty"`
	Result      *Result        `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PlayerColor resolves the side a user occupies, or "" when the user is
// not a player in this game.
func (g *Session) PlayerColor(userID string) Color {
	if userID == "" {
		return ""
	}
	if g.WhiteID == userID {
		return White
	}
	if g.BlackID == userID {
		return Black
	}
	return ""
}

// PlayerID returns the user occupying the given side, or "".
func (g *Session) PlayerID(c Color) string {
	if c == White {
		return g.WhiteID
	}
	if c == Black {
		return g.BlackID
	}
	return ""
}

func (g *Session) MoveCount() int { return len(g.Moves) }

// SANHistory returns the played notations in order.
func (g *Session) SANHistory() []string {
	out := make([]string, 0, len(g.Moves))
	for _, m := range g.Moves {
		out = append(out, m.Notation)
	}
	return out
}
