package price

import (
	"FlipTradeBot/internal/models"
	"context"
	"fmt"
	"time"
)

// pageLimit is the exchange's maximum klines per request.
const pageLimit = 500

// CandleSource is the exchange side of the store.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]models.Candle, error)
}

// fetchSince pages forward from since until the exchange returns a short page
// or the newest bar reaches now.
func fetchSince(ctx context.Context, src CandleSource, symbol, timeframe string, since, now time.Time) ([]models.Candle, error) {
	dur, ok := models.TimeFrameDuration(timeframe)
	if !ok {
		return nil, &models.DataError{Symbol: symbol, Err: fmt.Errorf("unknown timeframe %q", timeframe)}
	}

	var all []models.Candle
	for {
		batch, err := src.FetchCandles(ctx, symbol, timeframe, since, pageLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageLimit {
			break
		}

		next := batch[len(batch)-1].OpenTime.Add(dur)
		if !next.After(since) || next.After(now) {
			break
		}
		since = next

		log.WithField("symbol", symbol).WithField("fetched", len(all)).Debug("paging candles")
	}
	return all, nil
}

// checkBatch rejects bars that belong to another series or are malformed.
func checkBatch(symbol, timeframe string, candles []models.Candle) error {
	for _, c := range candles {
		if c.Symbol != symbol || c.TimeFrame != timeframe {
			return fmt.Errorf("candle for %s %s in %s %s batch", c.Symbol, c.TimeFrame, symbol, timeframe)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Completed returns the leading run of candles whose close time has elapsed at
// now. The input must be ascending by open time.
func Completed(candles []models.Candle, now time.Time) []models.Candle {
	n := len(candles)
	for n > 0 && !candles[n-1].IsCompleted(now) {
		n--
	}
	return candles[:n]
}
