// Package ws is the websocket transport for the session sync protocol.
// Connection identity is established upstream: the auth layer places
// the authenticated user id in the X-User-Id header before the request
// reaches this handler.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Theodhor-90/chess-sub000/internal/game"
	"github.com/Theodhor-90/chess-sub000/internal/obslog"
	"github.com/Theodhor-90/chess-sub000/internal/room"
	"github.com/Theodhor-90/chess-sub000/pkg/wire"
)

const (
	writeTimeout = 5 * time.Second
	egressBuffer = 64
)

// Envelope is one server-to-client frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Request is one client-to-server frame.
type Request struct {
	Op     string            `json:"op"`
	GameID string            `json:"game_id"`
	Move   *wire.MoveRequest `json:"move,omitempty"`
}

// Server accepts websocket connections and bridges them to the hub.
type Server struct {
	hub *room.Hub
}

func NewServer(hub *room.Hub) *Server { return &Server{hub: hub} }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	wc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     wc,
		egress: make(chan Envelope, egressBuffer),
		joined: make(map[string]struct{}),
		cancel: cancel,
	}
	obslog.L().Info("ws_connect", zap.String("conn_id", c.id), zap.String("user_id", userID))

	go c.writePump(ctx)
	s.readLoop(ctx, c)

	cancel()
	for gameID := range c.joined {
		s.hub.LeaveRoom(c, gameID)
	}
	_ = wc.Close(websocket.StatusNormalClosure, "bye")
	obslog.L().Info("ws_disconnect", zap.String("conn_id", c.id), zap.String("user_id", userID))
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		var req Request
		if err := wsjson.Read(ctx, c.ws, &req); err != nil {
			return
		}
		s.dispatch(ctx, c, req)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, req Request) {
	gameID := strings.TrimSpace(req.GameID)
	switch req.Op {
	case wire.OpJoinRoom:
		if err := s.hub.JoinRoom(ctx, c, gameID); err != nil {
			c.sendError(err)
			return
		}
		c.joined[gameID] = struct{}{}
	case wire.OpLeaveRoom:
		s.hub.LeaveRoom(c, gameID)
		delete(c.joined, gameID)
	case wire.OpMove:
		if req.Move == nil {
			c.Send(wire.EventAck, wire.MoveAck{OK: false, Code: "BadRequest", Message: "move payload required"})
			return
		}
		ack := s.hub.Move(ctx, c, gameID, *req.Move)
		c.Send(wire.EventAck, ack)
	case wire.OpResign:
		if err := s.hub.Resign(ctx, c, gameID); err != nil {
			c.sendError(err)
		}
	case wire.OpOfferDraw:
		if err := s.hub.OfferDraw(ctx, c, gameID); err != nil {
			c.sendError(err)
		}
	case wire.OpAcceptDraw:
		if err := s.hub.AcceptDraw(ctx, c, gameID); err != nil {
			c.sendError(err)
		}
	case wire.OpAbort:
		if err := s.hub.Abort(ctx, c, gameID); err != nil {
			c.sendError(err)
		}
	default:
		c.Send(wire.EventError, wire.ErrorPayload{Code: "UnknownOp", Message: "unknown operation " + req.Op})
	}
}

// conn is one live websocket connection. Writes funnel through a
// buffered egress channel so hub broadcasts never block on a slow
// client; the joined set is touched only by the read loop.
type conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	egress chan Envelope
	joined map[string]struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func (c *conn) ID() string     { return c.id }
func (c *conn) UserID() string { return c.userID }

// Send enqueues an event for delivery. Drops the frame when the
// client cannot keep up; the next full snapshot on rejoin re-syncs it.
func (c *conn) Send(event string, payload any) {
	select {
	case c.egress <- Envelope{Event: event, Data: payload}:
	default:
		obslog.L().Warn("ws_egress_drop",
			zap.String("conn_id", c.id),
			zap.String("event", event),
		)
	}
}

func (c *conn) sendError(err error) {
	code := game.CodeOf(err)
	if code == "" {
		code = "Internal"
	}
	c.Send(wire.EventError, wire.ErrorPayload{Code: string(code), Message: err.Error()})
}

func (c *conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.egress:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				c.once.Do(c.cancel)
				return
			}
		}
	}
}
