package rules

import (
	"strings"
	"testing"
)

func TestApplyLegalMove(t *testing.T) {
	e := NewEngine()
	v, err := e.Apply(StartFEN, Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("Apply e2e4: %v", err)
	}
	if v.SAN != "e4" {
		t.Fatalf("expected SAN e4, got %q", v.SAN)
	}
	if !strings.Contains(v.FEN, "4P3") {
		t.Fatalf("pawn not on e4 in resulting FEN: %s", v.FEN)
	}
	if !strings.Contains(v.FEN, " b ") {
		t.Fatalf("expected black to move in resulting FEN: %s", v.FEN)
	}
	if v.Checkmate || v.Stalemate || v.Draw {
		t.Fatalf("unexpected termination flags: %+v", v)
	}
}

func TestApplyIllegalMove(t *testing.T) {
	e := NewEngine()
	if _, err := e.Apply(StartFEN, Move{From: "e2", To: "e5"}); err == nil {
		t.Fatalf("expected error for e2e5 from the initial position")
	}
	if _, err := e.Apply(StartFEN, Move{From: "e7", To: "e5"}); err == nil {
		t.Fatalf("expected error for moving black's pawn on white's turn")
	}
	if _, err := e.Apply(StartFEN, Move{}); err == nil {
		t.Fatalf("expected error for empty move")
	}
}

func TestApplyInvalidFEN(t *testing.T) {
	e := NewEngine()
	if _, err := e.Apply("not a position", Move{From: "e2", To: "e4"}); err == nil {
		t.Fatalf("expected error for malformed FEN")
	}
}

func TestApplyCheckmate(t *testing.T) {
	e := NewEngine()
	fen := StartFEN
	moves := []Move{
		{From: "e2", To: "e4"},
		{From: "e7", To: "e5"},
		{From: "d1", To: "h5"},
		{From: "b8", To: "c6"},
		{From: "f1", To: "c4"},
		{From: "g8", To: "f6"},
		{From: "h5", To: "f7"},
	}
	var v *Verdict
	for i, mv := range moves {
		var err error
		v, err = e.Apply(fen, mv)
		if err != nil {
			t.Fatalf("move %d (%s%s): %v", i, mv.From, mv.To, err)
		}
		fen = v.FEN
	}
	if !v.Checkmate {
		t.Fatalf("expected checkmate after scholar's mate, got %+v", v)
	}
	if v.SAN != "Qxf7#" {
		t.Fatalf("expected SAN Qxf7#, got %q", v.SAN)
	}
}

func TestApplyStalemate(t *testing.T) {
	e := NewEngine()
	// White queen to b6 leaves the cornered black king with no moves.
	v, err := e.Apply("k7/8/2K5/8/8/8/8/1Q6 w - - 0 1", Move{From: "b1", To: "b6"})
	if err != nil {
		t.Fatalf("Apply Qb6: %v", err)
	}
	if !v.Stalemate {
		t.Fatalf("expected stalemate, got %+v", v)
	}
	if v.Checkmate || v.Draw {
		t.Fatalf("unexpected flags alongside stalemate: %+v", v)
	}
}

func TestApplyPromotion(t *testing.T) {
	e := NewEngine()
	v, err := e.Apply("8/P6k/8/8/8/8/7K/8 w - - 0 1", Move{From: "a7", To: "a8", Promotion: "q"})
	if err != nil {
		t.Fatalf("Apply a7a8q: %v", err)
	}
	if !strings.HasPrefix(v.SAN, "a8=Q") {
		t.Fatalf("expected promotion SAN, got %q", v.SAN)
	}
	if !strings.HasPrefix(v.FEN, "Q7/") {
		t.Fatalf("expected queen on a8, got FEN %s", v.FEN)
	}
}
