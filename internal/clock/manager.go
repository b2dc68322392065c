// Package clock simulates per-game countdown timers. The manager owns
// an explicit registry keyed by game id; nothing is process-global, so
// tests can run isolated managers against a fake clock. Consumers learn
// about ticks and flag falls through the Events channel instead of
// callbacks.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Theodhor-90/chess-sub000/internal/game"
	"github.com/Theodhor-90/chess-sub000/internal/obslog"
)

const (
	tickInterval = 100 * time.Millisecond
	// A move always costs at least this much, regardless of measured
	// elapsed time or reported round-trip latency.
	minMoveDeductionMs = 100
	// Tick events are published every tenth internal tick (~1s).
	ticksPerEvent = 10
)

// State is a point-in-time snapshot of one game's clocks.
type State struct {
	WhiteRemainingMs int64      `json:"white_remaining_ms"`
	BlackRemainingMs int64      `json:"black_remaining_ms"`
	ActiveColor      game.Color `json:"active_color"`
}

// EventKind discriminates clock events.
type EventKind string

const (
	EventTick    EventKind = "tick"
	EventTimeout EventKind = "timeout"
)

// Event is published on the manager's event stream. For timeouts,
// Color is the side whose time ran out; the timer is already stopped
// and deregistered by the time the event is observable.
type Event struct {
	Kind   EventKind
	GameID string
	Color  game.Color
	State  State
}

type timer struct {
	cfg       game.ClockConfig
	white     int64
	black     int64
	active    game.Color
	lastTick  time.Time
	tickCount int
	stop      chan struct{}
	stopOnce  sync.Once
}

func (t *timer) halt() { t.stopOnce.Do(func() { close(t.stop) }) }

func (t *timer) remaining(c game.Color) *int64 {
	if c == game.White {
		return &t.white
	}
	return &t.black
}

func (t *timer) snapshot() State {
	return State{WhiteRemainingMs: t.white, BlackRemainingMs: t.black, ActiveColor: t.active}
}

// Manager runs one countdown timer per active game.
type Manager struct {
	clk    clockwork.Clock
	mu     sync.Mutex
	timers map[string]*timer
	events chan Event
}

func NewManager(clk clockwork.Clock) *Manager {
	return &Manager{
		clk:    clk,
		timers: make(map[string]*timer),
		events: make(chan Event, 256),
	}
}

// Events is the manager's outbound stream. One consumer is expected.
func (m *Manager) Events() <-chan Event { return m.events }

// Start begins ticking for a game. Idempotent: a second call while the
// clock is already running is a no-op. Remaining times come from the
// persisted snapshot when given, else from the config.
func (m *Manager) Start(gameID string, cfg game.ClockConfig, active game.Color, persisted *game.ClockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timers[gameID]; ok {
		return
	}
	t := &timer{
		cfg:      cfg,
		white:    int64(cfg.InitialTimeSeconds) * 1000,
		black:    int64(cfg.InitialTimeSeconds) * 1000,
		active:   active,
		lastTick: m.clk.Now(),
		stop:     make(chan struct{}),
	}
	if persisted != nil {
		t.white = persisted.WhiteRemainingMs
		t.black = persisted.BlackRemainingMs
	}
	m.timers[gameID] = t
	obslog.L().Info("clock_start",
		zap.String("game_id", gameID),
		zap.Int64("white_ms", t.white),
		zap.Int64("black_ms", t.black),
		zap.String("active", string(active)),
	)
	// The ticker must exist before Start returns so that time advanced
	// immediately afterwards is observed by the first deadline.
	ticker := m.clk.NewTicker(tickInterval)
	go m.run(gameID, t, ticker)
}

func (m *Manager) run(gameID string, t *timer, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			if stopped := m.tick(gameID, t); stopped {
				return
			}
		}
	}
}

// tick deducts wall-clock time from the active side and detects
// exhaustion. The timer is removed from the registry before the
// timeout event is published, so no double-timeout is possible.
func (m *Manager) tick(gameID string, t *timer) bool {
	m.mu.Lock()
	if m.timers[gameID] != t {
		// stopped concurrently
		m.mu.Unlock()
		return true
	}
	now := m.clk.Now()
	elapsed := now.Sub(t.lastTick).Milliseconds()
	t.lastTick = now
	t.tickCount++

	rem := t.remaining(t.active)
	*rem -= elapsed
	if *rem <= 0 {
		*rem = 0
		delete(m.timers, gameID)
		t.halt()
		flagged := t.active
		st := t.snapshot()
		m.mu.Unlock()
		obslog.L().Info("clock_timeout", zap.String("game_id", gameID), zap.String("flagged", string(flagged)))
		m.events <- Event{Kind: EventTimeout, GameID: gameID, Color: flagged, State: st}
		return true
	}

	var ev *Event
	if t.tickCount%ticksPerEvent == 0 {
		ev = &Event{Kind: EventTick, GameID: gameID, State: t.snapshot()}
	}
	m.mu.Unlock()

	if ev != nil {
		select {
		case m.events <- *ev:
		default:
			// consumer lagging; tick updates are droppable
		}
	}
	return false
}

// SwitchClock charges the mover for the elapsed thinking time, less
// half the measured round trip as lag compensation, floored at the
// per-move minimum; then applies the increment and hands the clock to
// the opponent. Returns nil when no clock is running for the game.
func (m *Manager) SwitchClock(gameID string, mover game.Color, roundTripTimeMs int64) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[gameID]
	if !ok {
		return nil
	}
	now := m.clk.Now()
	elapsed := now.Sub(t.lastTick).Milliseconds()
	deduction := elapsed - roundTripTimeMs/2
	if deduction < minMoveDeductionMs {
		deduction = minMoveDeductionMs
	}
	rem := t.remaining(mover)
	*rem -= deduction
	if *rem < 0 {
		*rem = 0
	}
	*rem += int64(t.cfg.IncrementSeconds) * 1000
	t.active = mover.Opponent()
	t.lastTick = now
	st := t.snapshot()
	return &st
}

// GetState returns a live-computed snapshot: the stored remainders
// minus whatever has elapsed since the last tick for the active side.
// Does not mutate the timer. Nil when no clock is running.
func (m *Manager) GetState(gameID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[gameID]
	if !ok {
		return nil
	}
	st := t.snapshot()
	elapsed := m.clk.Now().Sub(t.lastTick).Milliseconds()
	switch t.active {
	case game.White:
		st.WhiteRemainingMs -= elapsed
		if st.WhiteRemainingMs < 0 {
			st.WhiteRemainingMs = 0
		}
	case game.Black:
		st.BlackRemainingMs -= elapsed
		if st.BlackRemainingMs < 0 {
			st.BlackRemainingMs = 0
		}
	}
	return &st
}

// RemainingTimes returns the raw stored remainders without the
// elapsed adjustment, intended for persistence. Nil when absent.
func (m *Manager) RemainingTimes(gameID string) *game.ClockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[gameID]
	if !ok {
		return nil
	}
	return &game.ClockSnapshot{WhiteRemainingMs: t.white, BlackRemainingMs: t.black}
}

// Stop cancels the timer and discards its state. No-op when no clock
// is running for the game.
func (m *Manager) Stop(gameID string) {
	m.mu.Lock()
	t, ok := m.timers[gameID]
	if ok {
		delete(m.timers, gameID)
	}
	m.mu.Unlock()
	if ok {
		t.halt()
		obslog.L().Debug("clock_stop", zap.String("game_id", gameID))
	}
}

// StopAll halts every running clock. Used at shutdown; remaining
// times are expected to have been persisted by the caller.
func (m *Manager) StopAll() {
	m.mu.Lock()
	timers := m.timers
	m.timers = make(map[string]*timer)
	m.mu.Unlock()
	for _, t := range timers {
		t.halt()
	}
}
