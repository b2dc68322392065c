package game

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Theodhor-90/chess-sub000/internal/obslog"
	"github.com/Theodhor-90/chess-sub000/internal/rules"
)

// MoveInput is a candidate move as submitted by a client.
type MoveInput struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// MoveOutcome is the state after an accepted move. PriorDrawOffer holds
// the color that had an outstanding draw offer before the move applied.
type MoveOutcome struct {
	Session        *Session
	SAN            string
	PriorDrawOffer Color
}

// DrawOutcome distinguishes recording an offer from accepting one.
type DrawOutcome struct {
	Session  *Session
	Accepted bool
	Offered  Color
}

// Machine enforces the game lifecycle. Either a full transition commits
// or nothing changes: every mutation runs as a single store update with
// guards evaluated at the moment of application.
type Machine struct {
	store    *Store
	oracle   rules.Oracle
	defaults ClockConfig
}

func NewMachine(store *Store, oracle rules.Oracle, defaults ClockConfig) *Machine {
	return &Machine{store: store, oracle: oracle, defaults: defaults}
}

func (m *Machine) Store() *Store { return m.store }

// Create allocates a new waiting game. The creator is assigned a color
// uniformly at random; no clock runs until the game goes active.
func (m *Machine) Create(ctx context.Context, userID string, cfg *ClockConfig) (*Session, error) {
	if userID == "" {
		return nil, NewError(CodeNotAPlayer, "creator required")
	}
	clock := m.defaults
	if cfg != nil {
		clock = *cfg
	}
	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	g := &Session{
		ID:          uuid.NewString(),
		InviteToken: token,
		Status:      StatusWaiting,
		CreatorID:   userID,
		Position:    rules.StartFEN,
		Moves:       []MoveRecord{},
		Turn:        White,
		Clock:       clock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if randomColor() == White {
		g.WhiteID = userID
	} else {
		g.BlackID = userID
	}
	if err := m.store.Create(ctx, g); err != nil {
		return nil, err
	}
	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("creator_id", userID),
		zap.String("creator_color", string(g.PlayerColor(userID))),
		zap.Int("initial_seconds", clock.InitialTimeSeconds),
		zap.Int("increment_seconds", clock.IncrementSeconds),
	)
	return g, nil
}

// Get loads a game, failing with GameNotFound when absent.
func (m *Machine) Get(ctx context.Context, gameID string) (*Session, error) {
	g, err := m.store.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, NewError(CodeGameNotFound, "game not found")
	}
	return g, nil
}

// GetByInviteToken resolves a game through its invite token.
func (m *Machine) GetByInviteToken(ctx context.Context, token string) (*Session, error) {
	g, err := m.store.GetByInviteToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, NewError(CodeGameNotFound, "game not found")
	}
	return g, nil
}

// ListByUser returns the user's games, most recently updated first.
func (m *Machine) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.ListByUser(ctx, userID)
}

// Join seats the second player and activates the game.
func (m *Machine) Join(ctx context.Context, gameID, userID, inviteToken string) (*Session, error) {
	if userID == "" {
		return nil, NewError(CodeNotAPlayer, "user required")
	}
	g, err := m.store.Update(ctx, gameID,
		func(g *Session) error {
			if g.Status != StatusWaiting {
				return NewError(CodeInvalidStatus, "game is not open for joining")
			}
			if g.InviteToken != inviteToken {
				return NewError(CodeInvalidInviteToken, "invite token does not match")
			}
			if g.PlayerColor(userID) != "" {
				return NewError(CodeCannotJoinOwnGame, "cannot join your own game")
			}
			open := White
			if g.WhiteID != "" {
				open = Black
			}
			if err := SetPlayer(open, userID)(g); err != nil {
				return err
			}
			return SetStatus(StatusActive)(g)
		},
	)
	if err != nil {
		return nil, err
	}
	if err := m.store.IndexPlayer(ctx, gameID, userID); err != nil {
		return nil, err
	}
	obslog.L().Info("game_join",
		zap.String("game_id", g.ID),
		zap.String("user_id", userID),
		zap.String("color", string(g.PlayerColor(userID))),
	)
	return g, nil
}

// Move applies a candidate move. Legality and termination detection are
// delegated to the oracle against the current position; status is
// re-validated at the moment of application so a move racing a timeout
// loses cleanly.
func (m *Machine) Move(ctx context.Context, gameID, userID string, in MoveInput) (*MoveOutcome, error) {
	out := &MoveOutcome{}
	g, err := m.store.Update(ctx, gameID,
		func(g *Session) error {
			if g.Status != StatusActive {
				return NewError(CodeInvalidStatus, "game is not active")
			}
			color := g.PlayerColor(userID)
			if color == "" {
				return NewError(CodeNotAPlayer, "not a player in this game")
			}
			if color != g.Turn {
				return NewError(CodeNotYourTurn, "not your turn")
			}
			out.PriorDrawOffer = g.DrawOffer

			verdict, oerr := m.oracle.Apply(g.Position, rules.Move{
				From:      in.From,
				To:        in.To,
				Promotion: in.Promotion,
			})
			if oerr != nil {
				return NewError(CodeIllegalMove, oerr.Error())
			}

			ops := []UpdateOp{
				AppendMove(MoveRecord{
					Sequence:  len(g.Moves),
					Notation:  verdict.SAN,
					Timestamp: time.Now(),
				}),
				SetPosition(verdict.FEN),
				SetTurn(color.Opponent()),
			}
			if g.DrawOffer == color {
				ops = append(ops, SetDrawOffer(""))
			}
			switch {
			case verdict.Checkmate:
				ops = append(ops, SetStatus(StatusCheckmate), SetResult(Result{Winner: color, Reason: "checkmate"}), SetDrawOffer(""))
			case verdict.Stalemate:
				ops = append(ops, SetStatus(StatusStalemate), SetResult(Result{Reason: "stalemate"}), SetDrawOffer(""))
			case verdict.Draw:
				ops = append(ops, SetStatus(StatusDraw), SetResult(Result{Reason: "draw"}), SetDrawOffer(""))
			}
			if oerr := applyOps(g, ops...); oerr != nil {
				return oerr
			}
			out.SAN = verdict.SAN
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	out.Session = g
	obslog.L().Info("game_move",
		zap.String("game_id", g.ID),
		zap.String("user_id", userID),
		zap.String("san", out.SAN),
		zap.Int("move_count", g.MoveCount()),
		zap.String("status", string(g.Status)),
	)
	return out, nil
}

// Resign ends an active game in favor of the opponent.
func (m *Machine) Resign(ctx context.Context, gameID, userID string) (*Session, error) {
	g, err := m.store.Update(ctx, gameID,
		func(g *Session) error {
			if g.Status != StatusActive {
				return NewError(CodeInvalidStatus, "game is not active")
			}
			color := g.PlayerColor(userID)
			if color == "" {
				return NewError(CodeNotAPlayer, "not a player in this game")
			}
			return applyOps(g,
				SetStatus(StatusResigned),
				SetResult(Result{Winner: color.Opponent(), Reason: "resignation"}),
				SetDrawOffer(""),
			)
		},
	)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_resign",
		zap.String("game_id", g.ID),
		zap.String("user_id", userID),
		zap.String("winner", string(g.Result.Winner)),
	)
	return g, nil
}

// OfferOrAcceptDraw records a draw offer, or accepts an outstanding
// offer from the other color. Re-offering by the same color is a no-op.
func (m *Machine) OfferOrAcceptDraw(ctx context.Context, gameID, userID string) (*DrawOutcome, error) {
	out := &DrawOutcome{}
	g, err := m.store.Update(ctx, gameID,
		func(g *Session) error {
			if g.Status != StatusActive {
				return NewError(CodeInvalidStatus, "game is not active")
			}
			color := g.PlayerColor(userID)
			if color == "" {
				return NewError(CodeNotAPlayer, "not a player in this game")
			}
			out.Offered = color
			switch g.DrawOffer {
			case "":
				return SetDrawOffer(color)(g)
			case color:
				// idempotent re-offer
				return nil
			default:
				out.Accepted = true
				return applyOps(g,
					SetStatus(StatusDraw),
					SetResult(Result{Reason: "agreement"}),
					SetDrawOffer(""),
				)
			}
		},
	)
	if err != nil {
		return nil, err
	}
	out.Session = g
	obslog.L().Info("game_draw_offer",
		zap.String("game_id", g.ID),
		zap.String("user_id", userID),
		zap.Bool("accepted", out.Accepted),
	)
	return out, nil
}

// Abort cancels a waiting game. Only the creator may abort.
func (m *Machine) Abort(ctx context.Context, gameID, userID string) (*Session, error) {
	g, err := m.store.Update(ctx, gameID,
		func(g *Session) error {
			if g.Status != StatusWaiting {
				return NewError(CodeInvalidStatus, "only waiting games can be aborted")
			}
			if g.CreatorID != userID {
				return NewError(CodeNotAPlayer, "only the creator can abort")
			}
			return SetStatus(StatusAborted)(g)
		},
	)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_abort", zap.String("game_id", g.ID), zap.String("user_id", userID))
	return g, nil
}

// Timeout flags the given color as exhausted. System-invoked by the
// clock manager, never by a user.
func (m *Machine) Timeout(ctx context.Context, gameID string, color Color) (*Session, error) {
	g, err := m.store.Update(ctx, gameID,
		func(g *Session) error {
			if g.Status != StatusActive {
				return NewError(CodeInvalidStatus, "game is not active")
			}
			return applyOps(g,
				SetStatus(StatusTimeout),
				SetResult(Result{Winner: color.Opponent(), Reason: "timeout"}),
				SetDrawOffer(""),
			)
		},
	)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_timeout",
		zap.String("game_id", g.ID),
		zap.String("flagged", string(color)),
		zap.String("winner", string(g.Result.Winner)),
	)
	return g, nil
}

// PersistClockSnapshot writes the last-known remaining times so the
// clock survives a process restart.
func (m *Machine) PersistClockSnapshot(ctx context.Context, gameID string, snap ClockSnapshot) error {
	_, err := m.store.Update(ctx, gameID, SetClockSnapshot(snap))
	return err
}

func applyOps(g *Session, ops ...UpdateOp) error {
	for _, op := range ops {
		if err := op(g); err != nil {
			return err
		}
	}
	return nil
}

func newInviteToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func randomColor() Color {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return Black
	}
	return White
}
