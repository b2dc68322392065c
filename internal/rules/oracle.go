// Package rules adjudicates chess moves. It is the only place that
// knows chess; callers hand in a FEN position and a candidate move and
// get back the resulting position, the SAN notation, and termination
// flags. Deterministic, side-effect-free.
package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Move is a candidate move in coordinate form. Promotion is a single
// lowercase piece letter (q, r, b, n) or empty.
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI renders the move in UCI coordinate notation.
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// Verdict is the oracle's acceptance of a move.
type Verdict struct {
	FEN       string
	SAN       string
	Checkmate bool
	Stalemate bool
	Draw      bool
}

// Oracle validates a move against a position.
type Oracle interface {
	Apply(fen string, mv Move) (*Verdict, error)
}

// Engine is the library-backed Oracle implementation. Stateless.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Apply validates mv against fen and returns the verdict, or an error
// carrying the rejection reason.
func (e *Engine) Apply(fen string, mv Move) (*Verdict, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid position: %w", err)
	}
	g := nchess.NewGame(opt)
	pos := g.Position()

	uci := mv.UCI()
	if uci == "" {
		return nil, fmt.Errorf("empty move")
	}
	decoded, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, fmt.Errorf("invalid move %s: %w", uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	if err := g.Move(decoded, nil); err != nil {
		return nil, fmt.Errorf("illegal move %s: %w", uci, err)
	}

	v := &Verdict{FEN: g.FEN(), SAN: san}
	switch g.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		v.Checkmate = g.Method() == nchess.Checkmate
	case nchess.Draw:
		if g.Method() == nchess.Stalemate {
			v.Stalemate = true
		} else {
			v.Draw = true
		}
	}
	return v, nil
}
