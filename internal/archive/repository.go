// Package archive persists finished games to Postgres for long-term
// record keeping, including a rendered PGN text.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/Theodhor-90/chess-sub000/internal/game"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a terminal game into the archive. Non-terminal
// games are ignored.
func (r *Repository) SaveResult(ctx context.Context, g *game.Session) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	if !g.Status.Terminal() {
		return nil
	}

	winner := ""
	reason := string(g.Status)
	if g.Result != nil {
		winner = string(g.Result.Winner)
		reason = g.Result.Reason
	}
	pgnResult := mapResultToPGN(g)
	pgn := buildPGN(g, pgnResult, reason)

	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    game_id, white_id, black_id,
	    status, winner, reason,
	    final_fen, move_count, pgn,
	    initial_seconds, increment_seconds,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    status=EXCLUDED.status,
	    winner=EXCLUDED.winner,
	    reason=EXCLUDED.reason,
	    final_fen=EXCLUDED.final_fen,
	    move_count=EXCLUDED.move_count,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.WhiteID, g.BlackID,
		string(g.Status), winner, reason,
		g.Position, g.MoveCount(), pgn,
		g.Clock.InitialTimeSeconds, g.Clock.IncrementSeconds,
		g.CreatedAt, g.UpdatedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("archive game %s: %w", g.ID, err)
	}
	return nil
}

func mapResultToPGN(g *game.Session) string {
	if g.Result == nil {
		return "*"
	}
	switch g.Result.Winner {
	case game.White:
		return "1-0"
	case game.Black:
		return "0-1"
	}
	switch g.Status {
	case game.StatusDraw, game.StatusStalemate:
		return "1/2-1/2"
	}
	return "*"
}

func buildPGN(g *game.Session, pgnResult, termination string) string {
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Online game\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackID)))
	b.WriteString(fmt.Sprintf("[TimeControl \"%d+%d\"]\n", g.Clock.InitialTimeSeconds, g.Clock.IncrementSeconds))
	if strings.TrimSpace(termination) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(termination))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	san := g.SANHistory()
	for i := 0; i < len(san); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(san[i])))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
