package position

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/services/trading"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	mgr   *Manager
	st    *state.State
	repos *repositories.Repositories
	clk   *clock
}

func newHarness(t *testing.T, exec Executor, mutate func(*config.TradingConfig)) *harness {
	t.Helper()
	db, err := repositories.Open(config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default().Trading
	for i := range cfg.TPATRMultiples {
		cfg.TPATRMultiples[i] = 0.8 * float64(i+1)
	}
	if mutate != nil {
		mutate(&cfg)
	}

	clk := &clock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	st := state.New(5*time.Minute, 3)
	st.SetClock(clk.Now)
	repos := repositories.New(db)
	return &harness{
		mgr:   NewManager(cfg, st, repos, exec, trading.NewLedger(cfg)),
		st:    st,
		repos: repos,
		clk:   clk,
	}
}

func flip(symbol string, dir models.Trend) models.FlipSignal {
	return models.FlipSignal{Symbol: symbol, Direction: dir}
}

var allowed = strategy.EntryDecision{Allowed: true}

func TestOpenOnFlip(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	// ATR 2.5 with a 2x stop puts the stop at 95
	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	pos, ok := h.st.Position("BTCUSDT")
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Side != models.SideLong || pos.EntryPrice != 100 || pos.StopLoss != 95 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if pos.SizeUSD != 80 || math.Abs(pos.Quantity-0.8) > 1e-12 {
		t.Fatalf("size should be trade size x leverage: %+v", pos)
	}

	stored, err := h.repos.Positions.FindBySymbol("BTCUSDT")
	if err != nil || stored == nil {
		t.Fatalf("position not persisted: %v", err)
	}
	trade, err := h.repos.Trades.FindByID(pos.TradeID)
	if err != nil || trade == nil || trade.Status != models.TradeStatusOpen {
		t.Fatalf("open trade not journaled: %+v %v", trade, err)
	}

	// a repeated flip in the same direction is a no-op
	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBullish), 101, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	if again, _ := h.st.Position("BTCUSDT"); again.TradeID != pos.TradeID {
		t.Fatal("same-direction flip replaced the position")
	}
}

func TestTrailingStopClosesBeforeOriginalStop(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	pos, _ := h.st.Position("BTCUSDT")
	if math.Abs(pos.TakeProfits[0]-102) > 1e-9 {
		t.Fatalf("TP1 = %v, want 102", pos.TakeProfits[0])
	}
	tradeID := pos.TradeID

	if err := h.mgr.OnPrice(ctx, "BTCUSDT", 101); err != nil {
		t.Fatal(err)
	}
	pos, _ = h.st.Position("BTCUSDT")
	if pos.TPHit[0] || pos.TrailingActive {
		t.Fatal("nothing should trigger at 101")
	}

	if err := h.mgr.OnPrice(ctx, "BTCUSDT", 103); err != nil {
		t.Fatal(err)
	}
	pos, _ = h.st.Position("BTCUSDT")
	if !pos.TPHit[0] || pos.TPHit[1] {
		t.Fatalf("expected only TP1 hit: %v", pos.TPHit)
	}
	if !pos.TrailingActive || math.Abs(pos.TrailingStop-101.97) > 1e-9 {
		t.Fatalf("trailing stop = %v active=%v, want 101.97", pos.TrailingStop, pos.TrailingActive)
	}
	if math.Abs(pos.Remaining-0.72) > 1e-9 {
		t.Fatalf("TP1 should realize a 10%% slice, remaining %v", pos.Remaining)
	}

	if err := h.mgr.OnPrice(ctx, "BTCUSDT", 96); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("BTCUSDT"); ok {
		t.Fatal("position should be closed by the trailing stop")
	}
	trade, err := h.repos.Trades.FindByID(tradeID)
	if err != nil || trade == nil {
		t.Fatalf("trade: %v", err)
	}
	if trade.Status != models.TradeStatusClosed || trade.Reason != models.ExitTrailingStop {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if math.Abs(trade.ExitPrice-101.97) > 1e-9 {
		t.Fatalf("exit at %v, want the trailing stop 101.97", trade.ExitPrice)
	}
	// 0.08 * 3 from TP1 plus 0.72 * 1.97 on the remainder
	if want := 0.08*3 + 0.72*1.97; math.Abs(trade.PnLUSD-want) > 1e-6 {
		t.Fatalf("pnl = %v, want %v", trade.PnLUSD, want)
	}
	if h.st.InCooldown("BTCUSDT", h.clk.Now()) {
		t.Fatal("a winning close must not start a cooldown")
	}
}

func TestCooldownAfterLosingClose(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("ETHUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	closedAt := h.clk.Now()
	if err := h.mgr.OnPrice(ctx, "ETHUSDT", 94); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("ETHUSDT"); ok {
		t.Fatal("stop loss should have closed the position")
	}

	active, err := h.repos.Cooldowns.FindActive(closedAt)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected a stored cooldown: %v %v", active, err)
	}
	if want := closedAt.Add(time.Hour); !active[0].Until.Equal(want) {
		t.Fatalf("cooldown until %s, want %s", active[0].Until, want)
	}

	h.clk.Advance(30 * time.Minute)
	if err := h.mgr.HandleFlip(ctx, flip("ETHUSDT", models.TrendBearish), 93, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("ETHUSDT"); ok {
		t.Fatal("flip inside the cooldown must not open")
	}

	h.clk.Advance(31 * time.Minute)
	if err := h.mgr.HandleFlip(ctx, flip("ETHUSDT", models.TrendBearish), 93, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	pos, ok := h.st.Position("ETHUSDT")
	if !ok || pos.Side != models.SideShort {
		t.Fatal("flip after the cooldown should open a short")
	}
}

func TestOpposingFlipClosesThenReverses(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("SOLUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	first, _ := h.st.Position("SOLUSDT")

	// a winning flip-close leaves no cooldown, so the short opens immediately
	if err := h.mgr.HandleFlip(ctx, flip("SOLUSDT", models.TrendBearish), 101, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	pos, ok := h.st.Position("SOLUSDT")
	if !ok || pos.Side != models.SideShort {
		t.Fatalf("expected reversal to short, got %+v", pos)
	}
	old, _ := h.repos.Trades.FindByID(first.TradeID)
	if old.Status != models.TradeStatusClosed || old.Reason != models.ExitFlip {
		t.Fatalf("first trade not flip-closed: %+v", old)
	}

	// a losing flip-close starts a cooldown and blocks the reversal
	if err := h.mgr.HandleFlip(ctx, flip("SOLUSDT", models.TrendBullish), 104, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("SOLUSDT"); ok {
		t.Fatal("reversal after a losing close must wait for the cooldown")
	}
}

func TestLadderIsMonotonic(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	prices := []float64{102.5, 101.9, 104.2, 103.5, 106.1, 105.9, 108.4, 112.3, 110.5, 115.9}
	var prev models.Position
	prev, _ = h.st.Position("BTCUSDT")
	for _, p := range prices {
		if err := h.mgr.OnPrice(ctx, "BTCUSDT", p); err != nil {
			t.Fatalf("price %v: %v", p, err)
		}
		cur, ok := h.st.Position("BTCUSDT")
		if !ok {
			break
		}
		for i := range cur.TPHit {
			if prev.TPHit[i] && !cur.TPHit[i] {
				t.Fatalf("TP%d cleared at price %v", i+1, p)
			}
		}
		if prev.TrailingActive && cur.TrailingStop < prev.TrailingStop {
			t.Fatalf("trailing stop loosened %v -> %v", prev.TrailingStop, cur.TrailingStop)
		}
		if err := cur.Validate(); err != nil {
			t.Fatal(err)
		}
		prev = cur
	}
}

func TestFinalTakeProfitClosesRemainder(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBearish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	pos, _ := h.st.Position("BTCUSDT")
	// one move through every level of the short ladder
	if err := h.mgr.OnPrice(ctx, "BTCUSDT", pos.TakeProfits[9]-0.1); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("BTCUSDT"); ok {
		t.Fatal("TP10 should close the position")
	}
	trade, _ := h.repos.Trades.FindByID(pos.TradeID)
	if trade.Reason != models.ExitFinalTP || trade.PnLUSD <= 0 {
		t.Fatalf("unexpected trade %+v", trade)
	}
}

type failingExecutor struct{ PaperExecutor }

func (failingExecutor) Open(context.Context, string, string, float64, int, float64) (Fill, error) {
	return Fill{}, errors.New("exchange rejected order")
}

func TestFailedOrderLeavesNoPosition(t *testing.T) {
	h := newHarness(t, failingExecutor{}, nil)
	err := h.mgr.HandleFlip(context.Background(), flip("BTCUSDT", models.TrendBullish), 100, 2.5, allowed)
	var ee *models.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if _, ok := h.st.Position("BTCUSDT"); ok {
		t.Fatal("failed order must not leave an open position")
	}
	if stored, _ := h.repos.Positions.FindBySymbol("BTCUSDT"); stored != nil {
		t.Fatal("failed order must not persist a position")
	}
}

func TestPositionLimitAndFilter(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, func(c *config.TradingConfig) { c.MaxOpenPositions = 1 })
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.HandleFlip(ctx, flip("ETHUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	if h.st.OpenCount() != 1 {
		t.Fatalf("position limit ignored: %d open", h.st.OpenCount())
	}

	rejected := strategy.EntryDecision{Allowed: false, Reason: "RSI too low"}
	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBearish), 101, 2.5, rejected); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("BTCUSDT"); ok {
		t.Fatal("opposing flip should close even when the new entry is filtered")
	}
}

type staticPrices map[string]float64

func (s staticPrices) LastPrice(_ context.Context, symbol string) (float64, error) {
	p, ok := s[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func TestCloseAll(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()
	for _, s := range []string{"BTCUSDT", "ETHUSDT"} {
		if err := h.mgr.HandleFlip(ctx, flip(s, models.TrendBullish), 100, 2.5, allowed); err != nil {
			t.Fatal(err)
		}
	}
	closed, errs := h.mgr.CloseAll(ctx, staticPrices{"BTCUSDT": 101, "ETHUSDT": 99}, models.ExitEmergency)
	if closed != 2 || len(errs) != 0 {
		t.Fatalf("closed %d errs %v", closed, errs)
	}
	if h.st.OpenCount() != 0 {
		t.Fatal("positions left open")
	}
	trades, _ := h.repos.Trades.FindRecent("", 0)
	for _, tr := range trades {
		if tr.Reason != models.ExitEmergency {
			t.Fatalf("unexpected reason %q", tr.Reason)
		}
	}
}

func TestLiveLadderWithLotRounding(t *testing.T) {
	ex := &fakePlacer{step: 0.01, min: 0.01}
	h := newHarness(t, NewLiveExecutor(ex), nil)
	ctx := context.Background()

	// 80 USD at 3000 floors to 0.02, so every 10% slice is under the minimum
	if err := h.mgr.HandleFlip(ctx, flip("ETHUSDT", models.TrendBullish), 3000, 30, allowed); err != nil {
		t.Fatal(err)
	}
	pos, _ := h.st.Position("ETHUSDT")
	if math.Abs(pos.Quantity-0.02) > 1e-12 || pos.StopLoss != 2940 {
		t.Fatalf("unexpected entry %+v", pos)
	}
	if len(ex.stops) != 1 || ex.stops[0].price != 2940 || ex.stops[0].buy || pos.StopOrderID != 1 {
		t.Fatalf("entry should rest a sell stop at 2940: %+v id=%d", ex.stops, pos.StopOrderID)
	}

	// TP1 at 3024: the slice is carried, the level still counts
	if err := h.mgr.OnPrice(ctx, "ETHUSDT", 3030); err != nil {
		t.Fatalf("TP1 with an unfillable slice: %v", err)
	}
	pos, _ = h.st.Position("ETHUSDT")
	if !pos.TPHit[0] || !pos.TrailingActive || pos.TrailingStop != 3000 {
		t.Fatalf("TP1 should arm the trailing stop at entry: hit=%v trailing=%v at %v", pos.TPHit[0], pos.TrailingActive, pos.TrailingStop)
	}
	if math.Abs(pos.Remaining-0.02) > 1e-12 || len(ex.orders) != 1 {
		t.Fatalf("no reduce order should be sent: remaining %v, orders %+v", pos.Remaining, ex.orders)
	}
	if len(ex.stops) != 2 || ex.stops[1].price != 3000 || len(ex.cancelled) != 1 || ex.cancelled[0] != 1 {
		t.Fatalf("stop should move to break-even: stops %+v cancelled %v", ex.stops, ex.cancelled)
	}
	if stored, _ := h.repos.Positions.FindBySymbol("ETHUSDT"); stored == nil || stored.StopOrderID != 2 {
		t.Fatalf("stop order id not persisted: %+v", stored)
	}

	// TP2..TP5: the accumulated half fills at TP5
	if err := h.mgr.OnPrice(ctx, "ETHUSDT", 3130); err != nil {
		t.Fatal(err)
	}
	pos, _ = h.st.Position("ETHUSDT")
	if pos.HitCount() != 5 {
		t.Fatalf("hit count = %d, want 5", pos.HitCount())
	}
	if math.Abs(pos.Remaining-0.01) > 1e-12 || math.Abs(pos.RealizedPnL-1.3) > 1e-9 {
		t.Fatalf("remaining %v realized %v", pos.Remaining, pos.RealizedPnL)
	}
	if last := ex.orders[len(ex.orders)-1]; !last.reduceOnly || math.Abs(last.qty-0.01) > 1e-12 {
		t.Fatalf("unexpected reduce order %+v", last)
	}
	if math.Abs(pos.TrailingStop-3098.7) > 1e-9 || pos.StopOrderID != 3 {
		t.Fatalf("trailing %v stop order %d", pos.TrailingStop, pos.StopOrderID)
	}
	tradeID := pos.TradeID

	if err := h.mgr.OnPrice(ctx, "ETHUSDT", 3090); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.st.Position("ETHUSDT"); ok {
		t.Fatal("trailing stop should close the remainder")
	}
	if n := len(ex.cancelled); n != 3 || ex.cancelled[2] != 3 {
		t.Fatalf("closing should cancel the resting stop: %v", ex.cancelled)
	}
	trade, _ := h.repos.Trades.FindByID(tradeID)
	if trade == nil || math.Abs(trade.PnLUSD-(1.3+0.01*98.7)) > 1e-6 {
		t.Fatalf("unexpected trade %+v", trade)
	}
}

func TestPaperExecutorPlacesNoStops(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	if err := h.mgr.HandleFlip(context.Background(), flip("BTCUSDT", models.TrendBearish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	if pos, _ := h.st.Position("BTCUSDT"); pos.StopOrderID != 0 {
		t.Fatalf("paper position carries stop order %d", pos.StopOrderID)
	}
}

func TestUnpersistedPositionInsertedOnNextChange(t *testing.T) {
	h := newHarness(t, PaperExecutor{}, nil)
	ctx := context.Background()

	if err := h.mgr.HandleFlip(ctx, flip("BTCUSDT", models.TrendBullish), 100, 2.5, allowed); err != nil {
		t.Fatal(err)
	}
	// as if the insert had failed: only memory knows the position
	if err := h.repos.Positions.DeleteBySymbol("BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	pos, _ := h.st.Position("BTCUSDT")
	pos.ID = 0
	if err := h.st.UpdatePosition(pos); err != nil {
		t.Fatal(err)
	}

	if err := h.mgr.OnPrice(ctx, "BTCUSDT", 103); err != nil {
		t.Fatal(err)
	}
	stored, err := h.repos.Positions.FindBySymbol("BTCUSDT")
	if err != nil || stored == nil || !stored.TPHit[0] {
		t.Fatalf("ladder change should insert the position: %+v %v", stored, err)
	}
}
