package state

import (
	"FlipTradeBot/internal/models"
	"fmt"
	"sort"
	"sync"
	"time"
)

const maxActivity = 500

type trendView struct {
	current   models.Trend
	updatedAt time.Time
}

type heartbeat struct {
	lastTick time.Time
	lastErr  error
	cycles   int64
	missed   int64
}

// State is the engine context shared by the scan pipeline and the status
// surface. Every accessor copies in or out under the lock so readers never
// observe a partially applied transition.
type State struct {
	mu sync.RWMutex

	haStates  map[string]models.HAState
	positions map[string]models.Position
	cooldowns map[string]models.Cooldown
	trends    map[string]trendView
	prices    map[string]float64
	symbols   []string

	report    models.ScanReport
	heartbeat heartbeat
	activity  []models.ActivityEvent

	interval       time.Duration
	healthMultiple int
	now            func() time.Time
}

func New(interval time.Duration, healthMultiple int) *State {
	if healthMultiple < 1 {
		healthMultiple = 1
	}
	return &State{
		haStates:       make(map[string]models.HAState),
		positions:      make(map[string]models.Position),
		cooldowns:      make(map[string]models.Cooldown),
		trends:         make(map[string]trendView),
		prices:         make(map[string]float64),
		interval:       interval,
		healthMultiple: healthMultiple,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests and the backtester use it.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *State) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Positions

func (s *State) Position(symbol string) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok
}

func (s *State) Positions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *State) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// OpenPosition records a NONE -> OPEN transition.
func (s *State) OpenPosition(p models.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.Symbol]; ok {
		return fmt.Errorf("state: %s already has an open position", p.Symbol)
	}
	s.positions[p.Symbol] = p
	return nil
}

// UpdatePosition records an OPEN self-transition. Take-profit flags may only
// be added and the trailing stop may only tighten.
func (s *State) UpdatePosition(p models.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.positions[p.Symbol]
	if !ok {
		return fmt.Errorf("state: %s has no open position", p.Symbol)
	}
	if cur.Side != p.Side || cur.TradeID != p.TradeID {
		return fmt.Errorf("state: %s update does not match the open position", p.Symbol)
	}
	for i := range cur.TPHit {
		if cur.TPHit[i] && !p.TPHit[i] {
			return fmt.Errorf("state: %s TP%d cannot be unset", p.Symbol, i+1)
		}
	}
	if cur.TrailingActive {
		if !p.TrailingActive {
			return fmt.Errorf("state: %s trailing stop cannot be deactivated", p.Symbol)
		}
		loosened := p.TrailingStop < cur.TrailingStop
		if !p.IsLong() {
			loosened = p.TrailingStop > cur.TrailingStop
		}
		if loosened {
			return fmt.Errorf("state: %s trailing stop cannot loosen", p.Symbol)
		}
	}
	s.positions[p.Symbol] = p
	return nil
}

// ClosePosition records an OPEN -> NONE transition and returns the position
// that was removed.
func (s *State) ClosePosition(symbol string) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return models.Position{}, fmt.Errorf("state: %s has no open position", symbol)
	}
	delete(s.positions, symbol)
	return p, nil
}

// ReplacePositions swaps the whole open set. Only reconciliation uses it.
func (s *State) ReplacePositions(positions []models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]models.Position, len(positions))
	for _, p := range positions {
		s.positions[p.Symbol] = p
	}
}

// HA states

func (s *State) HAState(symbol string) (models.HAState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.haStates[symbol]
	return h, ok
}

func (s *State) PutHAState(h models.HAState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haStates[h.Symbol] = h
}

func (s *State) DropHAState(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.haStates, symbol)
}

// Cooldowns

// InCooldown reports whether entries on symbol are suppressed at now.
// Expired entries are dropped on the way.
func (s *State) InCooldown(symbol string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cooldowns[symbol]
	if !ok {
		return false
	}
	if !c.Active(now) {
		delete(s.cooldowns, symbol)
		return false
	}
	return true
}

func (s *State) SetCooldown(c models.Cooldown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[c.Symbol] = c
}

func (s *State) Cooldowns() []models.Cooldown {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Cooldown, 0, len(s.cooldowns))
	for _, c := range s.cooldowns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Prices and trends

func (s *State) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *State) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

func (s *State) SetTrend(symbol string, current models.Trend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trends[symbol] = trendView{current: current, updatedAt: s.now()}
}

func (s *State) SetSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append([]string(nil), symbols...)
}

// SymbolStatuses returns the per-symbol trend view for every symbol in the
// current universe.
func (s *State) SymbolStatuses() []models.SymbolStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]models.SymbolStatus, 0, len(s.symbols))
	for _, sym := range s.symbols {
		st := models.SymbolStatus{Symbol: sym, LastPrice: s.prices[sym]}
		if tv, ok := s.trends[sym]; ok {
			st.CurrentTrend = tv.current
			st.UpdatedAt = tv.updatedAt
		}
		if h, ok := s.haStates[sym]; ok {
			st.RecordedTrend = h.LastTrend
		}
		st.IsFlipReady = st.CurrentTrend != "" && st.RecordedTrend != "" && st.CurrentTrend != st.RecordedTrend
		if c, ok := s.cooldowns[sym]; ok && c.Active(now) {
			st.InCooldown = true
		}
		out = append(out, st)
	}
	return out
}

// Scan report and heartbeat

func (s *State) SetReport(r models.ScanReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Errors = append([]models.SymbolError(nil), r.Errors...)
	s.report = r
}

func (s *State) Report() models.ScanReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.report
	r.Errors = append([]models.SymbolError(nil), r.Errors...)
	return r
}

// Beat records the end of a cycle. It is called whatever the outcome; err is
// non-nil only for cycle-fatal failures.
func (s *State) Beat(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeat.lastTick = at
	s.heartbeat.lastErr = err
	s.heartbeat.cycles++
}

// Miss counts a tick that was skipped because a cycle was still running.
func (s *State) Miss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeat.missed++
}

// Heartbeat reports liveness: the last tick must be recent and the last cycle
// must not have failed outright.
func (s *State) Heartbeat() models.Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hb := models.Heartbeat{
		LastTickTime: s.heartbeat.lastTick,
		Cycles:       s.heartbeat.cycles,
		Missed:       s.heartbeat.missed,
	}
	if s.heartbeat.lastErr != nil {
		hb.LastError = s.heartbeat.lastErr.Error()
	}
	fresh := !hb.LastTickTime.IsZero() &&
		s.now().Sub(hb.LastTickTime) <= time.Duration(s.healthMultiple)*s.interval
	hb.Healthy = fresh && s.heartbeat.lastErr == nil
	return hb
}

// Activity feed

func (s *State) Record(kind, symbol, format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, models.ActivityEvent{
		Time:    s.now(),
		Kind:    kind,
		Symbol:  symbol,
		Message: fmt.Sprintf(format, args...),
	})
	if n := len(s.activity); n > maxActivity {
		s.activity = append([]models.ActivityEvent(nil), s.activity[n-maxActivity:]...)
	}
}

// Activity returns up to limit events, newest first.
func (s *State) Activity(limit int) []models.ActivityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.activity)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.ActivityEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.activity[i])
	}
	return out
}
