package price

import (
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/repositories"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "candles")

// CandleStore keeps per-symbol candle series in the database and tops them up
// incrementally from the exchange.
type CandleStore struct {
	repo      *repositories.CandleRepository
	src       CandleSource
	history   int
	retention int
	now       func() time.Time
}

func NewCandleStore(repo *repositories.CandleRepository, src CandleSource, history, retention int) *CandleStore {
	if history <= 0 {
		history = 200
	}
	if retention < history {
		retention = history
	}
	return &CandleStore{
		repo:      repo,
		src:       src,
		history:   history,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *CandleStore) SetClock(now func() time.Time) {
	s.now = now
}

// GetLatest returns the newest stored bar, or nil when none is stored.
func (s *CandleStore) GetLatest(symbol, timeframe string) (*models.Candle, error) {
	c, err := s.repo.GetLatest(symbol, timeframe)
	if err != nil {
		return nil, &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: err}
	}
	return c, nil
}

// Merge stores candles for one series. A bar with an already stored open time
// replaces the stored one.
func (s *CandleStore) Merge(symbol, timeframe string, candles []models.Candle) error {
	if err := checkBatch(symbol, timeframe, candles); err != nil {
		return &models.DataError{Symbol: symbol, Err: err}
	}
	if err := s.repo.Merge(candles); err != nil {
		return &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: err}
	}
	return nil
}

// Refresh fetches the bars newer than the stored series, merges them and
// returns the newest history bars, oldest first. The fetch starts one bar
// before the latest stored bar so a bar that was still forming is rewritten.
func (s *CandleStore) Refresh(ctx context.Context, symbol, timeframe string) ([]models.Candle, error) {
	dur, ok := models.TimeFrameDuration(timeframe)
	if !ok {
		return nil, &models.DataError{Symbol: symbol, Err: fmt.Errorf("unknown timeframe %q", timeframe)}
	}
	now := s.now()
	seriesLog := log.WithFields(logrus.Fields{"symbol": symbol, "timeframe": timeframe})

	latest, err := s.repo.GetLatest(symbol, timeframe)
	if err != nil {
		seriesLog.WithError(err).Error("stored candles unreadable, rebuilding series")
		if derr := s.repo.DeleteSeries(symbol, timeframe); derr != nil {
			return nil, &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: derr}
		}
		latest = nil
	}

	since := now.Add(-time.Duration(s.history) * dur).Truncate(dur)
	if latest != nil {
		since = latest.OpenTime.Add(-dur)
	}

	fetched, err := fetchSince(ctx, s.src, symbol, timeframe, since, now)
	if err != nil {
		return nil, err
	}
	if err := s.Merge(symbol, timeframe, fetched); err != nil {
		return nil, err
	}
	if err := s.repo.Prune(symbol, timeframe, s.retention); err != nil {
		seriesLog.WithError(err).Warn("failed to prune candles")
	}

	series, err := s.repo.GetSeries(symbol, timeframe, s.history)
	if err != nil {
		return nil, &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: err}
	}
	if err := checkSeries(symbol, timeframe, series); err != nil {
		seriesLog.WithError(err).Error("stored candles corrupt, dropping series")
		if derr := s.repo.DeleteSeries(symbol, timeframe); derr != nil {
			seriesLog.WithError(derr).Error("failed to drop corrupt series")
		}
		return nil, &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: err}
	}
	if len(series) == 0 {
		return nil, &models.DataError{Symbol: symbol, Err: models.ErrNoCandles}
	}

	seriesLog.WithFields(logrus.Fields{"fetched": len(fetched), "stored": len(series)}).Debug("candles refreshed")
	return series, nil
}

// Backfill pages older bars in from the exchange until the series reaches
// back to from. It returns the number of bars fetched, 0 when the stored
// series already covers from. Backfill does not prune.
func (s *CandleStore) Backfill(ctx context.Context, symbol, timeframe string, from time.Time) (int, error) {
	dur, ok := models.TimeFrameDuration(timeframe)
	if !ok {
		return 0, &models.DataError{Symbol: symbol, Err: fmt.Errorf("unknown timeframe %q", timeframe)}
	}
	from = from.UTC().Truncate(dur)

	earliest, err := s.repo.GetEarliest(symbol, timeframe)
	if err != nil {
		return 0, &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: err}
	}
	until := s.now()
	if earliest != nil {
		if !earliest.OpenTime.After(from) {
			return 0, nil
		}
		until = earliest.OpenTime
	}

	fetched, err := fetchSince(ctx, s.src, symbol, timeframe, from, until)
	if err != nil {
		return 0, err
	}
	if err := s.Merge(symbol, timeframe, fetched); err != nil {
		return 0, err
	}
	log.WithFields(logrus.Fields{"symbol": symbol, "timeframe": timeframe, "from": from, "fetched": len(fetched)}).
		Info("candles backfilled")
	return len(fetched), nil
}

// History returns the stored series without contacting the exchange.
func (s *CandleStore) History(symbol, timeframe string, limit int) ([]models.Candle, error) {
	series, err := s.repo.GetSeries(symbol, timeframe, limit)
	if err != nil {
		return nil, &models.PersistenceError{Symbol: symbol, Kind: "candles", Err: err}
	}
	return series, nil
}

func checkSeries(symbol, timeframe string, series []models.Candle) error {
	if err := checkBatch(symbol, timeframe, series); err != nil {
		return err
	}
	for i := 1; i < len(series); i++ {
		if !series[i].OpenTime.After(series[i-1].OpenTime) {
			return errors.New("series out of order")
		}
	}
	return nil
}
