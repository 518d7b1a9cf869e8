package backtest

import (
	"FlipTradeBot/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// replayClock is the simulated time shared by every component of a run.
type replayClock struct {
	mu  sync.RWMutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// replaySource serves stored history as if it were the exchange, exposing only
// bars that have closed at the replay clock.
type replaySource struct {
	clock  *replayClock
	symbol string
	series map[string][]models.Candle
	finest string
}

func newReplaySource(clock *replayClock, symbol string, series map[string][]models.Candle) (*replaySource, error) {
	src := &replaySource{clock: clock, symbol: symbol, series: make(map[string][]models.Candle)}
	var finestDur time.Duration
	for tf, candles := range series {
		dur, ok := models.TimeFrameDuration(tf)
		if !ok {
			return nil, fmt.Errorf("unknown timeframe %q", tf)
		}
		sorted := append([]models.Candle(nil), candles...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })
		src.series[tf] = sorted
		if src.finest == "" || dur < finestDur {
			src.finest, finestDur = tf, dur
		}
	}
	if src.finest == "" {
		return nil, fmt.Errorf("no history for %s", symbol)
	}
	return src, nil
}

func (s *replaySource) FetchCandles(_ context.Context, symbol, timeframe string, since time.Time, limit int) ([]models.Candle, error) {
	if symbol != s.symbol {
		return nil, nil
	}
	now := s.clock.Now()
	var out []models.Candle
	for _, c := range s.series[timeframe] {
		if c.OpenTime.Before(since) {
			continue
		}
		if !c.IsCompleted(now) || len(out) == limit {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// LastPrice is the close of the newest completed bar on the finest timeframe.
func (s *replaySource) LastPrice(_ context.Context, symbol string) (float64, error) {
	now := s.clock.Now()
	candles := s.series[s.finest]
	i := sort.Search(len(candles), func(i int) bool { return !candles[i].IsCompleted(now) })
	if symbol != s.symbol || i == 0 {
		return 0, &models.FetchError{Symbol: symbol, Op: "price", Err: models.ErrNoCandles}
	}
	return candles[i-1].Close, nil
}

func (s *replaySource) TopSymbols(context.Context, int) ([]string, error) {
	return []string{s.symbol}, nil
}
