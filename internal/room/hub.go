// Package room maps live connections to game rooms and keeps every
// connection consistent with server-authoritative state. A room is the
// set of connections attached to one game id; one user may hold any
// number of simultaneous connections.
package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Theodhor-90/chess-sub000/internal/clock"
	"github.com/Theodhor-90/chess-sub000/internal/game"
	"github.com/Theodhor-90/chess-sub000/internal/obslog"
	"github.com/Theodhor-90/chess-sub000/pkg/wire"
)

// Conn is one live client connection. Send must never block the
// caller; slow consumers are the transport's problem.
type Conn interface {
	ID() string
	UserID() string
	Send(event string, payload any)
}

// Archiver persists finished games. Optional.
type Archiver interface {
	SaveResult(ctx context.Context, g *game.Session) error
}

// Hub is the session sync protocol. State mutations for one game are
// serialized through a per-game mutex; the client-declared sequence
// number is a consistency check on top of that, not a substitute.
type Hub struct {
	machine *game.Machine
	clocks  *clock.Manager
	archive Archiver

	mu    sync.Mutex
	rooms map[string]map[string]Conn

	lockMu   sync.Mutex
	locks    map[string]*sync.Mutex
	finished map[string]struct{}
}

func NewHub(machine *game.Machine, clocks *clock.Manager, archive Archiver) *Hub {
	return &Hub{
		machine:  machine,
		clocks:   clocks,
		archive:  archive,
		rooms:    make(map[string]map[string]Conn),
		locks:    make(map[string]*sync.Mutex),
		finished: make(map[string]struct{}),
	}
}

func (h *Hub) gameLock(gameID string) *sync.Mutex {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()
	lk, ok := h.locks[gameID]
	if !ok {
		lk = &sync.Mutex{}
		h.locks[gameID] = lk
	}
	return lk
}

// markFinished flags a game as terminal so its lock entry can be
// released once the room empties. When no room remains the entry goes
// right away. A straggler still holding the old mutex is harmless:
// every mutation against a terminal game is rejected by status guards.
func (h *Hub) markFinished(gameID string) {
	h.mu.Lock()
	_, hasRoom := h.rooms[gameID]
	h.mu.Unlock()

	h.lockMu.Lock()
	defer h.lockMu.Unlock()
	if hasRoom {
		h.finished[gameID] = struct{}{}
		return
	}
	delete(h.locks, gameID)
	delete(h.finished, gameID)
}

func (h *Hub) pruneLock(gameID string) {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()
	if _, done := h.finished[gameID]; done {
		delete(h.locks, gameID)
		delete(h.finished, gameID)
	}
}

// JoinRoom attaches a connection to a game's room, sends it a full
// state snapshot, and revives the clock from the persisted snapshot if
// the game is active with no clock running (this is how a clock
// survives a process restart). Errors go only to the caller.
func (h *Hub) JoinRoom(ctx context.Context, c Conn, gameID string) error {
	lk := h.gameLock(gameID)
	lk.Lock()
	defer lk.Unlock()

	g, err := h.machine.Get(ctx, gameID)
	if err != nil {
		return err
	}
	color := g.PlayerColor(c.UserID())
	if color == "" {
		return game.NewError(game.CodeNotAPlayer, "not a player in this game")
	}
	opponentID := g.PlayerID(color.Opponent())

	h.mu.Lock()
	conns, ok := h.rooms[gameID]
	if !ok {
		conns = make(map[string]Conn)
		h.rooms[gameID] = conns
	}
	opponentPresent := false
	for _, other := range conns {
		if other.UserID() == opponentID && opponentID != "" {
			opponentPresent = true
			break
		}
	}
	conns[c.ID()] = c
	h.mu.Unlock()

	if g.Status == game.StatusActive && h.clocks.GetState(gameID) == nil {
		h.clocks.Start(gameID, g.Clock, g.Turn, g.ClockSnap)
	}

	c.Send(wire.EventGameState, stateView(g, h.clocks.GetState(gameID)))

	if g.Status == game.StatusActive && opponentPresent {
		h.sendToUser(gameID, opponentID, wire.EventOpponentReconnected, wire.PlayerPresence{
			GameID: gameID,
			UserID: c.UserID(),
			Color:  string(color),
		})
	}
	obslog.L().Info("room_join",
		zap.String("game_id", gameID),
		zap.String("conn_id", c.ID()),
		zap.String("user_id", c.UserID()),
	)
	return nil
}

// LeaveRoom detaches a connection. When the last connection of a user
// leaves, the rest of the room is told that player disconnected.
func (h *Hub) LeaveRoom(c Conn, gameID string) {
	h.mu.Lock()
	conns, ok := h.rooms[gameID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := conns[c.ID()]; !present {
		h.mu.Unlock()
		return
	}
	delete(conns, c.ID())
	userGone := true
	for _, other := range conns {
		if other.UserID() == c.UserID() {
			userGone = false
			break
		}
	}
	var rest []Conn
	if userGone {
		for _, other := range conns {
			rest = append(rest, other)
		}
	}
	emptied := len(conns) == 0
	if emptied {
		delete(h.rooms, gameID)
	}
	h.mu.Unlock()

	if emptied {
		h.pruneLock(gameID)
	}
	for _, other := range rest {
		other.Send(wire.EventOpponentDisconnected, wire.PlayerPresence{
			GameID: gameID,
			UserID: c.UserID(),
		})
	}
	obslog.L().Info("room_leave",
		zap.String("game_id", gameID),
		zap.String("conn_id", c.ID()),
		zap.String("user_id", c.UserID()),
	)
}

// Move applies a client move. The sequence number must equal the
// recorded move count: a retry of the last applied move acks
// "duplicate", anything else stale acks "out_of_sync"; neither mutates
// state or broadcasts. Failures are acked to the caller only.
func (h *Hub) Move(ctx context.Context, c Conn, gameID string, req wire.MoveRequest) wire.MoveAck {
	lk := h.gameLock(gameID)
	lk.Lock()
	defer lk.Unlock()

	g, err := h.machine.Get(ctx, gameID)
	if err != nil {
		return ackError(err)
	}
	count := g.MoveCount()
	if req.Sequence != count {
		reason := wire.ReasonOutOfSync
		if req.Sequence >= 0 && req.Sequence == count-1 {
			reason = wire.ReasonDuplicate
		}
		obslog.L().Debug("room_move_seq_reject",
			zap.String("game_id", gameID),
			zap.Int("client_seq", req.Sequence),
			zap.Int("server_count", count),
			zap.String("reason", reason),
		)
		return wire.MoveAck{OK: false, Sequence: count, Reason: reason}
	}
	moverColor := g.PlayerColor(c.UserID())

	out, err := h.machine.Move(ctx, gameID, c.UserID(), game.MoveInput{
		From:      req.From,
		To:        req.To,
		Promotion: req.Promotion,
	})
	if err != nil {
		return ackError(err)
	}
	g = out.Session

	snap := h.clocks.SwitchClock(gameID, moverColor, req.RTTMs)
	if snap != nil {
		if perr := h.machine.PersistClockSnapshot(ctx, gameID, game.ClockSnapshot{
			WhiteRemainingMs: snap.WhiteRemainingMs,
			BlackRemainingMs: snap.BlackRemainingMs,
		}); perr != nil {
			obslog.L().Error("room_clock_persist_error", zap.String("game_id", gameID), zap.Error(perr))
		}
	}

	terminal := g.Status.Terminal()
	if terminal {
		h.clocks.Stop(gameID)
		h.archiveResult(ctx, g)
		h.markFinished(gameID)
	}

	if out.PriorDrawOffer != "" && out.PriorDrawOffer != moverColor {
		h.broadcast(gameID, wire.EventDrawDeclined, wire.DrawDeclined{GameID: gameID, By: string(moverColor)})
	}
	h.broadcast(gameID, wire.EventMoveMade, wire.MoveMade{
		GameID:   gameID,
		Sequence: g.MoveCount() - 1,
		SAN:      out.SAN,
		Position: g.Position,
		Turn:     string(g.Turn),
		Status:   string(g.Status),
		Result:   resultView(g.Result),
		Clock:    clockView(snap),
	})
	if terminal {
		h.broadcast(gameID, wire.EventGameOver, wire.GameOver{
			GameID: gameID,
			Status: string(g.Status),
			Result: resultView(g.Result),
			Clock:  clockView(snap),
		})
	}
	return wire.MoveAck{OK: true, Sequence: g.MoveCount()}
}

// Resign ends the game in the opponent's favor and notifies the room.
func (h *Hub) Resign(ctx context.Context, c Conn, gameID string) error {
	lk := h.gameLock(gameID)
	lk.Lock()
	defer lk.Unlock()

	g, err := h.machine.Resign(ctx, gameID, c.UserID())
	if err != nil {
		return err
	}
	h.finishGame(ctx, g)
	return nil
}

// OfferDraw records or accepts a draw offer on behalf of the caller.
func (h *Hub) OfferDraw(ctx context.Context, c Conn, gameID string) error {
	return h.draw(ctx, c, gameID)
}

// AcceptDraw accepts an outstanding offer; when none exists it records
// the caller's own offer, same as OfferDraw.
func (h *Hub) AcceptDraw(ctx context.Context, c Conn, gameID string) error {
	return h.draw(ctx, c, gameID)
}

func (h *Hub) draw(ctx context.Context, c Conn, gameID string) error {
	lk := h.gameLock(gameID)
	lk.Lock()
	defer lk.Unlock()

	out, err := h.machine.OfferOrAcceptDraw(ctx, gameID, c.UserID())
	if err != nil {
		return err
	}
	if out.Accepted {
		h.finishGame(ctx, out.Session)
		return nil
	}
	h.broadcast(gameID, wire.EventDrawOffered, wire.DrawOffered{GameID: gameID, By: string(out.Offered)})
	return nil
}

// Abort cancels a waiting game and notifies the room.
func (h *Hub) Abort(ctx context.Context, c Conn, gameID string) error {
	lk := h.gameLock(gameID)
	lk.Lock()
	defer lk.Unlock()

	g, err := h.machine.Abort(ctx, gameID, c.UserID())
	if err != nil {
		return err
	}
	h.markFinished(gameID)
	h.broadcast(gameID, wire.EventGameOver, wire.GameOver{
		GameID: gameID,
		Status: string(g.Status),
	})
	return nil
}

// Run consumes the clock manager's event stream until ctx is done.
// Ticks fan out as clock updates; a flag fall drives the timeout
// transition. A timeout racing a game that already ended through
// another path is expected and dropped silently.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.clocks.Events():
			switch ev.Kind {
			case clock.EventTick:
				h.broadcast(ev.GameID, wire.EventClockUpdate, wire.ClockUpdate{
					GameID: ev.GameID,
					Clock:  *clockView(&ev.State),
				})
			case clock.EventTimeout:
				h.handleTimeout(ctx, ev)
			}
		}
	}
}

func (h *Hub) handleTimeout(ctx context.Context, ev clock.Event) {
	lk := h.gameLock(ev.GameID)
	lk.Lock()
	defer lk.Unlock()

	g, err := h.machine.Timeout(ctx, ev.GameID, ev.Color)
	if err != nil {
		if game.IsCode(err, game.CodeInvalidStatus) {
			// game already ended through another path; benign race
			return
		}
		obslog.L().Error("room_timeout_error", zap.String("game_id", ev.GameID), zap.Error(err))
		return
	}
	if perr := h.machine.PersistClockSnapshot(ctx, ev.GameID, game.ClockSnapshot{
		WhiteRemainingMs: ev.State.WhiteRemainingMs,
		BlackRemainingMs: ev.State.BlackRemainingMs,
	}); perr != nil {
		obslog.L().Error("room_clock_persist_error", zap.String("game_id", ev.GameID), zap.Error(perr))
	}
	h.archiveResult(ctx, g)
	h.markFinished(ev.GameID)
	h.broadcast(ev.GameID, wire.EventGameOver, wire.GameOver{
		GameID: ev.GameID,
		Status: string(g.Status),
		Result: resultView(g.Result),
		Clock:  clockView(&ev.State),
	})
}

// finishGame persists the final remaining times, releases the timer,
// archives the result, and announces the end to the room.
func (h *Hub) finishGame(ctx context.Context, g *game.Session) {
	var cv *wire.ClockView
	if snap := h.clocks.RemainingTimes(g.ID); snap != nil {
		cv = &wire.ClockView{WhiteMs: snap.WhiteRemainingMs, BlackMs: snap.BlackRemainingMs}
		if perr := h.machine.PersistClockSnapshot(ctx, g.ID, *snap); perr != nil {
			obslog.L().Error("room_clock_persist_error", zap.String("game_id", g.ID), zap.Error(perr))
		}
	}
	h.clocks.Stop(g.ID)
	h.archiveResult(ctx, g)
	h.markFinished(g.ID)
	h.broadcast(g.ID, wire.EventGameOver, wire.GameOver{
		GameID: g.ID,
		Status: string(g.Status),
		Result: resultView(g.Result),
		Clock:  cv,
	})
}

func (h *Hub) archiveResult(ctx context.Context, g *game.Session) {
	if h.archive == nil || !g.Status.Terminal() {
		return
	}
	if err := h.archive.SaveResult(ctx, g); err != nil {
		obslog.L().Error("room_archive_error", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	obslog.L().Info("room_archive", zap.String("game_id", g.ID), zap.String("status", string(g.Status)))
}

func (h *Hub) broadcast(gameID, event string, payload any) {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.rooms[gameID]))
	for _, c := range h.rooms[gameID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Send(event, payload)
	}
}

func (h *Hub) sendToUser(gameID, userID, event string, payload any) {
	h.mu.Lock()
	var conns []Conn
	for _, c := range h.rooms[gameID] {
		if c.UserID() == userID {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Send(event, payload)
	}
}

func ackError(err error) wire.MoveAck {
	code := game.CodeOf(err)
	if code == "" {
		return wire.MoveAck{OK: false, Code: "Internal", Message: err.Error()}
	}
	return wire.MoveAck{OK: false, Code: string(code), Message: err.Error()}
}

func clockView(st *clock.State) *wire.ClockView {
	if st == nil {
		return nil
	}
	return &wire.ClockView{
		WhiteMs: st.WhiteRemainingMs,
		BlackMs: st.BlackRemainingMs,
		Active:  string(st.ActiveColor),
	}
}

func resultView(r *game.Result) *wire.GameResult {
	if r == nil {
		return nil
	}
	return &wire.GameResult{Winner: string(r.Winner), Reason: r.Reason}
}

func stateView(g *game.Session, st *clock.State) wire.GameState {
	return wire.GameState{
		GameID:    g.ID,
		Status:    string(g.Status),
		Position:  g.Position,
		Moves:     g.SANHistory(),
		Turn:      string(g.Turn),
		WhiteID:   g.WhiteID,
		BlackID:   g.BlackID,
		DrawOffer: string(g.DrawOffer),
		Result:    resultView(g.Result),
		Clock:     clockView(st),
	}
}
