// Package wire defines the event names and payload shapes exchanged
// with clients over the real-time transport.
package wire

// Server-to-client events. gameState and error are delivered only to
// the requesting connection; all others are broadcast to the room.
const (
	EventGameState            = "gameState"
	EventMoveMade             = "moveMade"
	EventGameOver             = "gameOver"
	EventDrawOffered          = "drawOffered"
	EventDrawDeclined         = "drawDeclined"
	EventClockUpdate          = "clockUpdate"
	EventOpponentDisconnected = "opponentDisconnected"
	EventOpponentReconnected  = "opponentReconnected"
	EventError                = "error"
	EventAck                  = "ack"
)

// Client-to-server operations.
const (
	OpJoinRoom   = "joinRoom"
	OpLeaveRoom  = "leaveRoom"
	OpMove       = "move"
	OpResign     = "resign"
	OpOfferDraw  = "offerDraw"
	OpAcceptDraw = "acceptDraw"
	OpAbort      = "abort"
)

// Move acknowledgment reasons for rejected sequence numbers.
const (
	ReasonDuplicate = "duplicate"
	ReasonOutOfSync = "out_of_sync"
)

// ClockView is a client-facing clock snapshot.
type ClockView struct {
	WhiteMs int64  `json:"white_ms"`
	BlackMs int64  `json:"black_ms"`
	Active  string `json:"active,omitempty"`
}

// GameResult mirrors the aggregate's terminal result.
type GameResult struct {
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason"`
}

// GameState is the full snapshot sent to a connection on room join.
type GameState struct {
	GameID    string      `json:"game_id"`
	Status    string      `json:"status"`
	Position  string      `json:"fen"`
	Moves     []string    `json:"moves"`
	Turn      string      `json:"turn"`
	WhiteID   string      `json:"white_id,omitempty"`
	BlackID   string      `json:"black_id,omitempty"`
	DrawOffer string      `json:"draw_offer,omitempty"`
	Result    *GameResult `json:"result,omitempty"`
	Clock     *ClockView  `json:"clock,omitempty"`
}

// MoveMade announces an accepted move to the room.
type MoveMade struct {
	GameID   string      `json:"game_id"`
	Sequence int         `json:"seq"`
	SAN      string      `json:"san"`
	Position string      `json:"fen"`
	Turn     string      `json:"turn"`
	Status   string      `json:"status"`
	Result   *GameResult `json:"result,omitempty"`
	Clock    *ClockView  `json:"clock,omitempty"`
}

// GameOver announces a terminal status to the room.
type GameOver struct {
	GameID string      `json:"game_id"`
	Status string      `json:"status"`
	Result *GameResult `json:"result,omitempty"`
	Clock  *ClockView  `json:"clock,omitempty"`
}

// DrawOffered / DrawDeclined carry the color acting on the offer.
type DrawOffered struct {
	GameID string `json:"game_id"`
	By     string `json:"by"`
}

type DrawDeclined struct {
	GameID string `json:"game_id"`
	By     string `json:"by"`
}

// ClockUpdate is the periodic clock broadcast.
type ClockUpdate struct {
	GameID string    `json:"game_id"`
	Clock  ClockView `json:"clock"`
}

// PlayerPresence reports an opponent connecting or disconnecting.
type PlayerPresence struct {
	GameID string `json:"game_id"`
	UserID string `json:"user_id"`
	Color  string `json:"color,omitempty"`
}

// ErrorPayload is delivered only to the requesting connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MoveRequest is the client's move submission. Sequence must equal the
// number of moves the server has recorded; RTTMs is the client's
// measured round trip used for lag compensation.
type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Sequence  int    `json:"seq"`
	RTTMs     int64  `json:"rtt_ms,omitempty"`
}

// MoveAck is the request/response acknowledgment for a move.
type MoveAck struct {
	OK       bool   `json:"ok"`
	Sequence int    `json:"seq"`
	Reason   string `json:"reason,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}
