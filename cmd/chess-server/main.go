package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Theodhor-90/chess-sub000/internal/archive"
	"github.com/Theodhor-90/chess-sub000/internal/clock"
	appcfg "github.com/Theodhor-90/chess-sub000/internal/config"
	"github.com/Theodhor-90/chess-sub000/internal/game"
	"github.com/Theodhor-90/chess-sub000/internal/obslog"
	"github.com/Theodhor-90/chess-sub000/internal/room"
	"github.com/Theodhor-90/chess-sub000/internal/rules"
	"github.com/Theodhor-90/chess-sub000/internal/timectrl"
	"github.com/Theodhor-90/chess-sub000/internal/ws"
	"github.com/Theodhor-90/chess-sub000/pkg/wire"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := game.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	store := game.NewStore(rdb)

	catalog, err := timectrl.New(cfg.TimeControlDir)
	if err != nil {
		log.Fatalf("time control catalog error: %v", err)
	}
	defaults, err := catalog.Resolve(cfg.TimeControl)
	if err != nil {
		log.Fatalf("time control %q: %v", cfg.TimeControl, err)
	}
	if cfg.ClockInitialSeconds > 0 {
		defaults.InitialTimeSeconds = cfg.ClockInitialSeconds
		defaults.IncrementSeconds = cfg.ClockIncrementSeconds
	}

	machine := game.NewMachine(store, rules.NewEngine(), defaults)
	clocks := clock.NewManager(clockwork.NewRealClock())

	var archiver room.Archiver
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		archiver = repo
	}

	hub := room.NewHub(machine, clocks, archiver)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(hub))
	mux.HandleFunc("/games", handleGames(machine, catalog))
	mux.HandleFunc("/games/join", handleJoin(machine))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = srv.Shutdown(sctx)
	cancel()
	clocks.StopAll()
	_ = rdb.Close()
	if repo != nil {
		_ = repo.Close()
	}
	_ = obslog.L().Sync()
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func handleGames(machine *game.Machine, catalog *timectrl.Catalog) http.HandlerFunc {
	type request struct {
		TimeControl string `json:"time_control,omitempty"`
	}
	type createResponse struct {
		GameID      string `json:"game_id"`
		InviteToken string `json:"invite_token"`
		Color       string `json:"color"`
	}
	type listEntry struct {
		GameID    string `json:"game_id"`
		Status    string `json:"status"`
		Color     string `json:"color"`
		MoveCount int    `json:"move_count"`
		UpdatedAt string `json:"updated_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		if uid == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodPost:
			var req request
			if r.Body != nil {
				_ = json.NewDecoder(r.Body).Decode(&req)
			}
			var cc *game.ClockConfig
			if req.TimeControl != "" {
				resolved, err := catalog.Resolve(req.TimeControl)
				if err != nil {
					writeError(w, http.StatusBadRequest, "UnknownTimeControl", err.Error())
					return
				}
				cc = &resolved
			}
			g, err := machine.Create(r.Context(), uid, cc)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, createResponse{GameID: g.ID, InviteToken: g.InviteToken, Color: string(g.PlayerColor(uid))})
		case http.MethodGet:
			games, err := machine.ListByUser(r.Context(), uid)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			out := make([]listEntry, 0, len(games))
			for _, g := range games {
				out = append(out, listEntry{
					GameID:    g.ID,
					Status:    string(g.Status),
					Color:     string(g.PlayerColor(uid)),
					MoveCount: g.MoveCount(),
					UpdatedAt: g.UpdatedAt.Format(time.RFC3339),
				})
			}
			writeJSON(w, http.StatusOK, out)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// handleJoin seats the caller in a waiting game. The game id may be
// omitted; the invite token alone is enough to locate the game.
func handleJoin(machine *game.Machine) http.HandlerFunc {
	type request struct {
		GameID      string `json:"game_id,omitempty"`
		InviteToken string `json:"invite_token"`
	}
	type response struct {
		GameID string `json:"game_id"`
		Color  string `json:"color"`
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		uid := userID(r)
		if uid == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "invalid json body")
			return
		}
		gameID := req.GameID
		if gameID == "" {
			found, err := machine.GetByInviteToken(r.Context(), req.InviteToken)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			gameID = found.ID
		}
		g, err := machine.Join(r.Context(), gameID, uid, req.InviteToken)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response{GameID: g.ID, Color: string(g.PlayerColor(uid)), Status: string(g.Status)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, wire.ErrorPayload{Code: code, Message: msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := game.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case game.CodeGameNotFound:
		status = http.StatusNotFound
	case game.CodeInvalidInviteToken, game.CodeNotAPlayer:
		status = http.StatusForbidden
	case game.CodeInvalidStatus, game.CodeCannotJoinOwnGame, game.CodeNotYourTurn:
		status = http.StatusConflict
	case game.CodeIllegalMove:
		status = http.StatusBadRequest
	case "":
		obslog.L().Error("request_error", zap.Error(err))
		writeError(w, status, "Internal", "internal error")
		return
	}
	writeError(w, status, string(code), err.Error())
}
