package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionTTL = 7 * 24 * time.Hour

// Store owns durable reads and writes of the Session aggregate. Every
// read reconstructs the full aggregate from the stored JSON; there is
// no cache layer, so crash recovery is a plain re-read.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// NewRedisClient dials the redis instance named by a redis:// URL and
// verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func gameKey(id string) string      { return "game:" + strings.TrimSpace(id) }
func inviteKey(token string) string { return "game:invite:" + strings.TrimSpace(token) }
func userIdxKey(userID string) string {
	return "game:index:user:" + strings.TrimSpace(userID)
}

// UpdateOp is one explicit mutation applied to the aggregate inside an
// update transaction. Ops returning an error abort the transaction with
// nothing written.
type UpdateOp func(*Session) error

func SetStatus(st Status) UpdateOp {
	return func(g *Session) error { g.Status = st; return nil }
}

func SetPosition(fen string) UpdateOp {
	return func(g *Session) error { g.Position = fen; return nil }
}

func SetTurn(c Color) UpdateOp {
	return func(g *Session) error { g.Turn = c; return nil }
}

// SetPlayer fills one color slot. A filled slot never changes user.
func SetPlayer(c Color, userID string) UpdateOp {
	return func(g *Session) error {
		switch c {
		case White:
			if g.WhiteID != "" && g.WhiteID != userID {
				return fmt.Errorf("white slot already taken")
			}
			g.WhiteID = userID
		case Black:
			if g.BlackID != "" && g.BlackID != userID {
				return fmt.Errorf("black slot already taken")
			}
			g.BlackID = userID
		default:
			return fmt.Errorf("invalid color %q", c)
		}
		return nil
	}
}

func SetClockSnapshot(snap ClockSnapshot) UpdateOp {
	return func(g *Session) error { c := snap; g.ClockSnap = &c; return nil }
}

// SetDrawOffer records the offering color; empty clears the offer.
func SetDrawOffer(c Color) UpdateOp {
	return func(g *Session) error { g.DrawOffer = c; return nil }
}

func SetResult(r Result) UpdateOp {
	return func(g *Session) error { res := r; g.Result = &res; return nil }
}

// AppendMove appends one move record. The sequence number must equal
// the current move count.
func AppendMove(rec MoveRecord) UpdateOp {
	return func(g *Session) error {
		if rec.Sequence != len(g.Moves) {
			return fmt.Errorf("move sequence %d does not follow count %d", rec.Sequence, len(g.Moves))
		}
		g.Moves = append(g.Moves, rec)
		return nil
	}
}

// Create persists a freshly allocated aggregate and its lookup indexes.
func (s *Store) Create(ctx context.Context, g *Session) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, gameKey(g.ID), raw, sessionTTL).Err(); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, inviteKey(g.InviteToken), g.ID, sessionTTL).Err(); err != nil {
		return err
	}
	return s.IndexPlayer(ctx, g.ID, g.CreatorID)
}

// IndexPlayer adds the game to a user's lookup index.
func (s *Store) IndexPlayer(ctx context.Context, gameID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	key := userIdxKey(userID)
	if err := s.rdb.SAdd(ctx, key, gameID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, sessionTTL).Err()
}

// Get returns the aggregate, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Session
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetByInviteToken resolves the invite-token index, then reads the game.
func (s *Store) GetByInviteToken(ctx context.Context, token string) (*Session, error) {
	id, err := s.rdb.Get(ctx, inviteKey(token)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ListByUser returns the user's games, most recently updated first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.rdb.SMembers(ctx, userIdxKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var list []*Session
	for _, id := range ids {
		g, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if g != nil {
			list = append(list, g)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

// Update applies the ops to the aggregate atomically under an
// optimistic WATCH transaction and returns the updated aggregate.
// Either every op commits or nothing changes. A missing game fails with
// GameNotFound. Concurrent writers are retried a few times before the
// conflict is surfaced.
func (s *Store) Update(ctx context.Context, id string, ops ...UpdateOp) (*Session, error) {
	key := gameKey(id)
	var updated *Session
	for attempt := 0; attempt < 3; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return NewError(CodeGameNotFound, "game not found")
			}
			if err != nil {
				return err
			}
			var g Session
			if jerr := json.Unmarshal(raw, &g); jerr != nil {
				return jerr
			}
			for _, op := range ops {
				if oerr := op(&g); oerr != nil {
					return oerr
				}
			}
			g.UpdatedAt = time.Now()
			newRaw, merr := json.Marshal(&g)
			if merr != nil {
				return merr
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, newRaw, sessionTTL)
			if _, perr := pipe.Exec(ctx); perr != nil {
				return perr
			}
			updated = &g
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("game %s: too many concurrent updates", id)
}
