package game

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/Theodhor-90/chess-sub000/internal/rules"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb, err := NewRedisClient(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewMachine(NewStore(rdb), rules.NewEngine(), ClockConfig{InitialTimeSeconds: 300, IncrementSeconds: 2})
}

// newActiveGame creates and joins a game, returning it with the white
// and black user ids resolved.
func newActiveGame(t *testing.T, m *Machine) (g *Session, white, black string) {
	t.Helper()
	ctx := context.Background()
	created, err := m.Create(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	g, err = m.Join(ctx, created.ID, "bob", created.InviteToken)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	return g, g.WhiteID, g.BlackID
}

func TestCreateDefaults(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	g, err := m.Create(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.Status != StatusWaiting {
		t.Fatalf("expected waiting, got %s", g.Status)
	}
	if g.Position != rules.StartFEN || g.Turn != White {
		t.Fatalf("unexpected initial position/turn: %q %q", g.Position, g.Turn)
	}
	if g.Clock.InitialTimeSeconds != 300 || g.Clock.IncrementSeconds != 2 {
		t.Fatalf("defaults not applied: %+v", g.Clock)
	}
	if g.InviteToken == "" {
		t.Fatalf("missing invite token")
	}
	if g.PlayerColor("alice") == "" {
		t.Fatalf("creator not seated")
	}
	if g.WhiteID != "" && g.BlackID != "" {
		t.Fatalf("both slots filled at creation")
	}

	custom, err := m.Create(ctx, "carol", &ClockConfig{InitialTimeSeconds: 60})
	if err != nil {
		t.Fatalf("Create custom: %v", err)
	}
	if custom.Clock.InitialTimeSeconds != 60 || custom.Clock.IncrementSeconds != 0 {
		t.Fatalf("explicit clock config ignored: %+v", custom.Clock)
	}
}

func TestGetByInviteToken(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	g, err := m.Create(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	found, err := m.GetByInviteToken(ctx, g.InviteToken)
	if err != nil {
		t.Fatalf("GetByInviteToken: %v", err)
	}
	if found.ID != g.ID {
		t.Fatalf("resolved wrong game: %s", found.ID)
	}
	if _, err := m.GetByInviteToken(ctx, "bogus"); !IsCode(err, CodeGameNotFound) {
		t.Fatalf("expected GameNotFound for unknown token, got %v", err)
	}
}

func TestJoinGuards(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	g, err := m.Create(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Join(ctx, g.ID, "bob", "wrong-token"); !IsCode(err, CodeInvalidInviteToken) {
		t.Fatalf("expected InvalidInviteToken, got %v", err)
	}
	if _, err := m.Join(ctx, g.ID, "alice", g.InviteToken); !IsCode(err, CodeCannotJoinOwnGame) {
		t.Fatalf("expected CannotJoinOwnGame, got %v", err)
	}
	if _, err := m.Join(ctx, "missing", "bob", g.InviteToken); !IsCode(err, CodeGameNotFound) {
		t.Fatalf("expected GameNotFound, got %v", err)
	}

	joined, err := m.Join(ctx, g.ID, "bob", g.InviteToken)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.Status != StatusActive {
		t.Fatalf("expected active after join, got %s", joined.Status)
	}
	if joined.WhiteID == "" || joined.BlackID == "" {
		t.Fatalf("both seats should be filled: %+v", joined)
	}

	if _, err := m.Join(ctx, g.ID, "carol", g.InviteToken); !IsCode(err, CodeInvalidStatus) {
		t.Fatalf("expected InvalidStatus for third join, got %v", err)
	}
}

func TestMoveTurnAlternation(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, black := newActiveGame(t, m)

	if _, err := m.Move(ctx, g.ID, black, MoveInput{From: "e7", To: "e5"}); !IsCode(err, CodeNotYourTurn) {
		t.Fatalf("expected NotYourTurn for black's first move, got %v", err)
	}
	if _, err := m.Move(ctx, g.ID, "stranger", MoveInput{From: "e2", To: "e4"}); !IsCode(err, CodeNotAPlayer) {
		t.Fatalf("expected NotAPlayer, got %v", err)
	}

	out, err := m.Move(ctx, g.ID, white, MoveInput{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("white move: %v", err)
	}
	if out.SAN != "e4" || out.Session.Turn != Black || out.Session.MoveCount() != 1 {
		t.Fatalf("unexpected move outcome: san=%q turn=%q count=%d", out.SAN, out.Session.Turn, out.Session.MoveCount())
	}
	if out.Session.Moves[0].Sequence != 0 {
		t.Fatalf("first move sequence should be 0, got %d", out.Session.Moves[0].Sequence)
	}

	if _, err := m.Move(ctx, g.ID, white, MoveInput{From: "d2", To: "d4"}); !IsCode(err, CodeNotYourTurn) {
		t.Fatalf("expected NotYourTurn for white moving twice, got %v", err)
	}

	out2, err := m.Move(ctx, g.ID, black, MoveInput{From: "e7", To: "e5"})
	if err != nil {
		t.Fatalf("black move: %v", err)
	}
	if out2.Session.Turn != White || out2.Session.MoveCount() != 2 {
		t.Fatalf("turn did not return to white: %+v", out2.Session)
	}
}

func TestMoveIllegalLeavesStateUntouched(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, _ := newActiveGame(t, m)

	if _, err := m.Move(ctx, g.ID, white, MoveInput{From: "e2", To: "e5"}); !IsCode(err, CodeIllegalMove) {
		t.Fatalf("expected IllegalMove, got %v", err)
	}
	got, err := m.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MoveCount() != 0 || got.Position != rules.StartFEN || got.Turn != White {
		t.Fatalf("rejected move mutated state: %+v", got)
	}
}

func TestMoveCheckmateEndsGame(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, black := newActiveGame(t, m)

	moves := []struct {
		user     string
		from, to string
	}{
		{white, "e2", "e4"},
		{black, "e7", "e5"},
		{white, "d1", "h5"},
		{black, "b8", "c6"},
		{white, "f1", "c4"},
		{black, "g8", "f6"},
		{white, "h5", "f7"},
	}
	var out *MoveOutcome
	for i, mv := range moves {
		var err error
		out, err = m.Move(ctx, g.ID, mv.user, MoveInput{From: mv.from, To: mv.to})
		if err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
	}
	final := out.Session
	if final.Status != StatusCheckmate {
		t.Fatalf("expected checkmate, got %s", final.Status)
	}
	if final.Result == nil || final.Result.Winner != White || final.Result.Reason != "checkmate" {
		t.Fatalf("unexpected result: %+v", final.Result)
	}
	if _, err := m.Move(ctx, g.ID, black, MoveInput{From: "a7", To: "a6"}); !IsCode(err, CodeInvalidStatus) {
		t.Fatalf("expected InvalidStatus after game over, got %v", err)
	}
}

func TestResign(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, black := newActiveGame(t, m)

	if _, err := m.Resign(ctx, g.ID, "stranger"); !IsCode(err, CodeNotAPlayer) {
		t.Fatalf("expected NotAPlayer, got %v", err)
	}
	got, err := m.Resign(ctx, g.ID, black)
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if got.Status != StatusResigned {
		t.Fatalf("expected resigned, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Winner != White || got.Result.Reason != "resignation" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if _, err := m.Resign(ctx, g.ID, white); !IsCode(err, CodeInvalidStatus) {
		t.Fatalf("expected InvalidStatus on double resign, got %v", err)
	}
}

func TestDrawOfferAcceptFlow(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, black := newActiveGame(t, m)

	out, err := m.OfferOrAcceptDraw(ctx, g.ID, white)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if out.Accepted || out.Session.DrawOffer != White {
		t.Fatalf("expected recorded white offer: %+v", out)
	}

	// Same color re-offering changes nothing.
	again, err := m.OfferOrAcceptDraw(ctx, g.ID, white)
	if err != nil {
		t.Fatalf("re-offer: %v", err)
	}
	if again.Accepted || again.Session.DrawOffer != White {
		t.Fatalf("re-offer should be a no-op: %+v", again)
	}

	accepted, err := m.OfferOrAcceptDraw(ctx, g.ID, black)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !accepted.Accepted || accepted.Session.Status != StatusDraw {
		t.Fatalf("expected accepted draw: %+v", accepted)
	}
	if accepted.Session.Result == nil || accepted.Session.Result.Reason != "agreement" || accepted.Session.Result.Winner != "" {
		t.Fatalf("unexpected draw result: %+v", accepted.Session.Result)
	}
}

func TestDrawOfferClearedByOfferersMove(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, _ := newActiveGame(t, m)

	if _, err := m.OfferOrAcceptDraw(ctx, g.ID, white); err != nil {
		t.Fatalf("offer: %v", err)
	}
	out, err := m.Move(ctx, g.ID, white, MoveInput{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if out.PriorDrawOffer != White {
		t.Fatalf("expected prior offer to surface, got %q", out.PriorDrawOffer)
	}
	if out.Session.DrawOffer != "" {
		t.Fatalf("offer should be cleared by the offerer's own move")
	}
}

func TestDrawOfferSurvivesOpponentMove(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, white, black := newActiveGame(t, m)

	if _, err := m.Move(ctx, g.ID, white, MoveInput{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("white move: %v", err)
	}
	if _, err := m.OfferOrAcceptDraw(ctx, g.ID, white); err != nil {
		t.Fatalf("offer: %v", err)
	}
	out, err := m.Move(ctx, g.ID, black, MoveInput{From: "e7", To: "e5"})
	if err != nil {
		t.Fatalf("black move: %v", err)
	}
	if out.PriorDrawOffer != White {
		t.Fatalf("expected prior white offer, got %q", out.PriorDrawOffer)
	}
	if out.Session.DrawOffer != White {
		t.Fatalf("stored offer should survive the opponent's move, got %q", out.Session.DrawOffer)
	}
}

func TestAbort(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	g, err := m.Create(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Abort(ctx, g.ID, "bob"); !IsCode(err, CodeNotAPlayer) {
		t.Fatalf("expected NotAPlayer for non-creator abort, got %v", err)
	}
	got, err := m.Abort(ctx, g.ID, "alice")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if got.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", got.Status)
	}

	active, _, _ := newActiveGame(t, m)
	if _, err := m.Abort(ctx, active.ID, active.CreatorID); !IsCode(err, CodeInvalidStatus) {
		t.Fatalf("expected InvalidStatus aborting an active game, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, _, _ := newActiveGame(t, m)

	got, err := m.Timeout(ctx, g.ID, White)
	if err != nil {
		t.Fatalf("Timeout: %v", err)
	}
	if got.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Winner != Black || got.Result.Reason != "timeout" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if _, err := m.Timeout(ctx, g.ID, White); !IsCode(err, CodeInvalidStatus) {
		t.Fatalf("expected InvalidStatus for second timeout, got %v", err)
	}
}

func TestListByUser(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()
	g, _, black := newActiveGame(t, m)

	list, err := m.ListByUser(ctx, black)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 1 || list[0].ID != g.ID {
		t.Fatalf("expected joined game in the joiner's index: %+v", list)
	}
}
