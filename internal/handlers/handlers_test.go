package handlers

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/operations/position"
	"FlipTradeBot/internal/operations/price"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/services/trading"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeExchange serves bars whose open time is not after the clock, including
// the one still forming.
type fakeExchange struct {
	clock  *testClock
	mu     sync.Mutex
	bars   map[string][]models.Candle
	prices map[string]float64
	fail   map[string]error
	top    []string
	ranked int
}

func newFakeExchange(clock *testClock) *fakeExchange {
	return &fakeExchange{
		clock:  clock,
		bars:   make(map[string][]models.Candle),
		prices: make(map[string]float64),
		fail:   make(map[string]error),
	}
}

func (f *fakeExchange) FetchCandles(_ context.Context, symbol, timeframe string, since time.Time, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	now := f.clock.Now()
	var out []models.Candle
	for _, b := range f.bars[symbol] {
		if b.TimeFrame != timeframe || b.OpenTime.Before(since) || b.OpenTime.After(now) {
			continue
		}
		if len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeExchange) LastPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, &models.FetchError{Symbol: symbol, Op: "price", Err: errors.New("no ticker")}
	}
	return p, nil
}

func (f *fakeExchange) TopSymbols(_ context.Context, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranked++
	if f.top == nil {
		return nil, errors.New("ranking unavailable")
	}
	if n < len(f.top) {
		return append([]string(nil), f.top[:n]...), nil
	}
	return append([]string(nil), f.top...), nil
}

func (f *fakeExchange) addBar(symbol string, i int, o, h, l, c float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := t0.Add(time.Duration(i) * 4 * time.Hour)
	f.bars[symbol] = append(f.bars[symbol], models.Candle{
		Symbol:    symbol,
		TimeFrame: models.TimeFrame4h,
		OpenTime:  open,
		CloseTime: open.Add(4*time.Hour - time.Millisecond),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1,
	})
}

// scenarioBars are three raw bars whose smoothed trends are bearish, bearish,
// bullish.
func (f *fakeExchange) scenarioBars(symbol string) {
	f.addBar(symbol, 0, 100, 101, 94, 95)
	f.addBar(symbol, 1, 95, 96, 90, 91)
	f.addBar(symbol, 2, 91, 110, 90, 108)
}

type switchableExecutor struct {
	position.PaperExecutor
	mu   sync.Mutex
	fail bool
}

func (e *switchableExecutor) setFail(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = v
}

func (e *switchableExecutor) Open(ctx context.Context, symbol, side string, notional float64, leverage int, ref float64) (position.Fill, error) {
	e.mu.Lock()
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return position.Fill{}, errors.New("order rejected")
	}
	return e.PaperExecutor.Open(ctx, symbol, side, notional, leverage, ref)
}

type engine struct {
	clock  *testClock
	ex     *fakeExchange
	exec   *switchableExecutor
	st     *state.State
	repos  *repositories.Repositories
	prices *PriceHandler
	scan   *StrategyHandler
}

func newEngine(t *testing.T, symbols ...string) *engine {
	t.Helper()
	cfg := config.Default()
	cfg.Trading.Symbols = symbols
	cfg.Trading.TrendTimeframe = models.TimeFrame4h
	cfg.Trading.ATRTimeframe = models.TimeFrame4h
	cfg.Scheduler.SymbolTimeout = 5 * time.Second

	db, err := repositories.Open(config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	repos := repositories.New(db)

	clock := &testClock{now: t0}
	ex := newFakeExchange(clock)
	st := state.New(cfg.Scheduler.Interval, cfg.Scheduler.HealthMultiple)
	st.SetClock(clock.Now)

	store := price.NewCandleStore(repos.Candles, ex, cfg.Scheduler.CandleHistory, cfg.Scheduler.CandleRetention)
	store.SetClock(clock.Now)

	exec := &switchableExecutor{}
	mgr := position.NewManager(cfg.Trading, st, repos, exec, trading.NewLedger(cfg.Trading))
	filter, err := strategy.NewStrategyManager(cfg.Trading.Strategy)
	if err != nil {
		t.Fatal(err)
	}

	prices := NewPriceHandler(ex, mgr, st)
	scan := NewStrategyHandler(cfg, st, repos, store,
		NewUniverse(ex, symbols, 0),
		prices,
		NewPositionHandler(cfg.Trading, store, filter, mgr, st),
	)
	return &engine{clock: clock, ex: ex, exec: exec, st: st, repos: repos, prices: prices, scan: scan}
}

func (e *engine) run(t *testing.T) models.ScanReport {
	t.Helper()
	report, err := e.scan.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	return report
}

func TestFlipOpensPositionOnCompletedBar(t *testing.T) {
	e := newEngine(t, "BTCUSDT")
	e.ex.scenarioBars("BTCUSDT")
	e.ex.prices["BTCUSDT"] = 108

	// bar 2 is still forming: trends are bearish, bearish
	e.clock.Set(t0.Add(9 * time.Hour))
	report := e.run(t)
	if report.Flips != 0 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := e.st.Position("BTCUSDT"); ok {
		t.Fatal("no position expected before bar 2 completes")
	}
	hs, ok := e.st.HAState("BTCUSDT")
	if !ok || hs.LastTrend != models.TrendBearish {
		t.Fatalf("recorded trend = %+v", hs)
	}

	// bar 2 completes bullish
	e.clock.Set(t0.Add(12 * time.Hour))
	report = e.run(t)
	if report.Flips != 1 {
		t.Fatalf("flips = %d, want 1 (%+v)", report.Flips, report.Errors)
	}
	pos, ok := e.st.Position("BTCUSDT")
	if !ok || pos.Side != models.SideLong || pos.EntryPrice != 108 {
		t.Fatalf("expected LONG at 108, got %+v", pos)
	}
	stored, err := e.repos.HAStates.Find("BTCUSDT")
	if err != nil || stored == nil || stored.LastTrend != models.TrendBullish {
		t.Fatalf("stored HA state = %+v, %v", stored, err)
	}

	// the same flip is not acted on twice
	report = e.run(t)
	if report.Flips != 0 {
		t.Fatalf("flip repeated: %+v", report)
	}
	if n := e.st.OpenCount(); n != 1 {
		t.Fatalf("open positions = %d", n)
	}
}

func TestCloseFallsBackToScannedPrice(t *testing.T) {
	e := newEngine(t, "BTCUSDT")
	e.ex.scenarioBars("BTCUSDT")
	e.ex.prices["BTCUSDT"] = 108
	e.clock.Set(t0.Add(12 * time.Hour))
	if report := e.run(t); report.Flips != 1 {
		t.Fatalf("flips = %d (%+v)", report.Flips, report.Errors)
	}

	// ticker gone: the last scanned price is used
	delete(e.ex.prices, "BTCUSDT")
	ctx := context.Background()
	if err := e.prices.Close(ctx, "BTCUSDT", models.ExitManual); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.st.Position("BTCUSDT"); ok {
		t.Fatal("position still open")
	}
	trades, err := e.repos.Trades.FindRecent("BTCUSDT", 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades = %+v, %v", trades, err)
	}
	if trades[0].Reason != models.ExitManual || trades[0].ExitPrice != 108 {
		t.Fatalf("trade = %+v", trades[0])
	}

	if err := e.prices.Close(ctx, "ETHUSDT", models.ExitManual); err == nil {
		t.Fatal("expected an error without any price for ETHUSDT")
	}
}

func TestFirstSightingActsOnFreshFlip(t *testing.T) {
	e := newEngine(t, "BTCUSDT")
	e.ex.scenarioBars("BTCUSDT")
	e.ex.prices["BTCUSDT"] = 108
	e.clock.Set(t0.Add(12 * time.Hour))

	report := e.run(t)
	if report.Flips != 1 {
		t.Fatalf("flips = %d, want 1", report.Flips)
	}
	if _, ok := e.st.Position("BTCUSDT"); !ok {
		t.Fatal("a flip on the newest completed bar should open on first sighting")
	}
}

func TestSymbolFailuresAreIsolated(t *testing.T) {
	e := newEngine(t, "BADUSDT", "BTCUSDT", "NEWUSDT")
	e.ex.scenarioBars("BTCUSDT")
	e.ex.prices["BTCUSDT"] = 108
	e.ex.fail["BADUSDT"] = &models.FetchError{Symbol: "BADUSDT", Op: "klines", Err: errors.New("connection reset")}
	e.ex.addBar("NEWUSDT", 2, 10, 11, 9, 10)
	e.clock.Set(t0.Add(12 * time.Hour))

	report := e.run(t)
	if report.SymbolsScanned != 3 {
		t.Fatalf("scanned %d symbols", report.SymbolsScanned)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("errors = %+v, want two", report.Errors)
	}
	if report.Errors[0].Symbol != "BADUSDT" || report.Errors[0].Kind != "fetch" {
		t.Fatalf("unexpected error %+v", report.Errors[0])
	}
	if report.Errors[1].Symbol != "NEWUSDT" || report.Errors[1].Kind != "data" {
		t.Fatalf("unexpected error %+v", report.Errors[1])
	}
	if _, ok := e.st.Position("BTCUSDT"); !ok {
		t.Fatal("healthy symbol should still trade")
	}
	if got := e.st.Report(); len(got.Errors) != 2 {
		t.Fatal("report not published to state")
	}
}

func TestFailedEntryIsRetried(t *testing.T) {
	e := newEngine(t, "BTCUSDT")
	e.ex.scenarioBars("BTCUSDT")
	e.ex.prices["BTCUSDT"] = 108
	e.clock.Set(t0.Add(12 * time.Hour))

	e.exec.setFail(true)
	report := e.run(t)
	if len(report.Errors) != 1 || report.Errors[0].Kind != "execution" {
		t.Fatalf("expected an execution error, got %+v", report.Errors)
	}
	if _, ok := e.st.Position("BTCUSDT"); ok {
		t.Fatal("failed order must not open a position")
	}
	hs, _ := e.st.HAState("BTCUSDT")
	if hs.LastTrend != models.TrendBearish || hs.PendingTrend != models.TrendBullish {
		t.Fatalf("flip should stay pending: %+v", hs)
	}

	e.exec.setFail(false)
	e.clock.Set(t0.Add(12*time.Hour + 5*time.Minute))
	report = e.run(t)
	if len(report.Errors) != 0 {
		t.Fatalf("retry failed: %+v", report.Errors)
	}
	if _, ok := e.st.Position("BTCUSDT"); !ok {
		t.Fatal("pending flip should open on retry")
	}
	hs, _ = e.st.HAState("BTCUSDT")
	if hs.LastTrend != models.TrendBullish || hs.PendingTrend != "" {
		t.Fatalf("flip should be recorded after retry: %+v", hs)
	}
}

func TestUniverseFailureIsCycleFatal(t *testing.T) {
	e := newEngine(t)
	e.scan.universe = NewUniverse(e.ex, nil, 5)
	_, err := e.scan.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	if e.st.Report().Fatal == "" {
		t.Fatal("fatal error not reported")
	}
}

func TestUniverseCachesRanking(t *testing.T) {
	clock := &testClock{now: t0}
	ex := newFakeExchange(clock)
	ex.top = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	u := NewUniverse(ex, nil, 2)
	u.SetClock(clock.Now)

	got, err := u.Symbols(context.Background())
	if err != nil || len(got) != 2 || got[0] != "BTCUSDT" {
		t.Fatalf("symbols = %v, %v", got, err)
	}
	clock.Set(t0.Add(30 * time.Minute))
	if _, err := u.Symbols(context.Background()); err != nil || ex.ranked != 1 {
		t.Fatalf("ranking should be cached, fetched %d times", ex.ranked)
	}

	// stale cache survives a failed refresh
	ex.top = nil
	clock.Set(t0.Add(2 * time.Hour))
	got, err = u.Symbols(context.Background())
	if err != nil || len(got) != 2 || ex.ranked != 2 {
		t.Fatalf("symbols = %v, %v after %d rankings", got, err, ex.ranked)
	}
}

func TestWithHeld(t *testing.T) {
	got := withHeld([]string{"A", "B"}, []string{"B", "C"})
	if len(got) != 3 || got[2] != "C" {
		t.Fatalf("withHeld = %v", got)
	}
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) RunCycle(ctx context.Context) (models.ScanReport, error) {
	r.started <- struct{}{}
	<-r.release
	return models.ScanReport{}, nil
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	st := state.New(time.Minute, 3)
	r := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScheduler(r, st, time.Minute, time.Second)
	ctx := context.Background()

	if !s.Tick(ctx, time.Now()) {
		t.Fatal("first tick should start a cycle")
	}
	<-r.started
	if s.Tick(ctx, time.Now()) {
		t.Fatal("overlapping tick must be skipped")
	}
	if s.Trigger() {
		t.Fatal("manual trigger must not start a second cycle")
	}
	if hb := st.Heartbeat(); hb.Missed != 1 || hb.Cycles != 0 {
		t.Fatalf("heartbeat = %+v", hb)
	}

	close(r.release)
	s.Wait()
	hb := st.Heartbeat()
	if hb.Cycles != 1 || !hb.Healthy {
		t.Fatalf("heartbeat after cycle = %+v", hb)
	}

	if s.Tick(ctx, time.Now().Add(-time.Minute)) {
		t.Fatal("tick past the grace window must be skipped")
	}
	if hb := st.Heartbeat(); hb.Missed != 2 {
		t.Fatalf("missed = %d, want 2", hb.Missed)
	}
}

type failingRunner struct{}

func (failingRunner) RunCycle(context.Context) (models.ScanReport, error) {
	return models.ScanReport{}, models.ErrGate
}

func TestHeartbeatAfterFatalCycle(t *testing.T) {
	st := state.New(time.Minute, 3)
	s := NewScheduler(failingRunner{}, st, time.Minute, time.Second)
	s.Tick(context.Background(), time.Now())
	s.Wait()

	hb := st.Heartbeat()
	if hb.LastTickTime.IsZero() {
		t.Fatal("heartbeat must advance even when the cycle fails")
	}
	if hb.Healthy || hb.LastError == "" {
		t.Fatalf("fatal cycle should mark the heartbeat unhealthy: %+v", hb)
	}
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRunner) RunCycle(context.Context) (models.ScanReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return models.ScanReport{}, nil
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	st := state.New(time.Hour, 3)
	r := &countingRunner{}
	s := NewScheduler(r, st, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := r.calls
		r.mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial cycle never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
