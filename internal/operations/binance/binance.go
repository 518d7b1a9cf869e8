package binance

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "binance")

// retryable API codes: rate limit, disconnect, timeout
var retryCodes = map[int64]bool{-1003: true, -1001: true, -1007: true}

// reduce-only order rejected, the position is already flat
const codeReduceOnlyRejected = -2022

type lotSize struct {
	step decimal.Decimal
	min  decimal.Decimal
	tick decimal.Decimal
}

type Client struct {
	client  *futures.Client
	gate    *Gate
	retries int
	backoff time.Duration

	mu       sync.Mutex
	lotSizes map[string]lotSize
}

func NewClient(cfg config.ExchangeConfig, gate *Gate) *Client {
	// Create custom HTTP client with timeouts
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	futuresClient := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	futuresClient.HTTPClient = httpClient
	if cfg.BaseURL != "" {
		futuresClient.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	backoff := cfg.FetchBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	return &Client{
		client:   futuresClient,
		gate:     gate,
		retries:  cfg.FetchRetries,
		backoff:  backoff,
		lotSizes: make(map[string]lotSize),
	}
}

// withRetry passes every attempt through the gate and retries transient
// failures with exponential backoff. The final failure is a FetchError.
func (c *Client) withRetry(ctx context.Context, symbol, op string, call func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if gerr := c.gate.Wait(ctx); gerr != nil {
			if errors.Is(gerr, models.ErrGate) {
				return gerr
			}
			return &models.FetchError{Symbol: symbol, Op: op, Err: gerr}
		}

		if err = call(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == c.retries {
			break
		}

		// Calculate backoff duration with exponential increase
		waitTime := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		log.WithFields(logrus.Fields{"symbol": symbol, "op": op, "attempt": attempt + 1}).
			WithError(err).Debugf("retrying in %s", waitTime)

		select {
		case <-ctx.Done():
			return &models.FetchError{Symbol: symbol, Op: op, Err: ctx.Err()}
		case <-time.After(waitTime):
		}
	}
	return &models.FetchError{Symbol: symbol, Op: op, Err: err}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return retryCodes[apiErr.Code]
	}
	return true
}

// FetchCandles returns up to limit bars with open time >= since, oldest first.
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]models.Candle, error) {
	var klines []*futures.Kline
	err := c.withRetry(ctx, symbol, "klines", func(ctx context.Context) error {
		svc := c.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit)
		if !since.IsZero() {
			svc = svc.StartTime(since.UnixMilli())
		}
		var err error
		klines, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := toCandle(symbol, timeframe, k)
		if err != nil {
			return nil, &models.DataError{Symbol: symbol, Err: err}
		}
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, nil
}

func toCandle(symbol, timeframe string, k *futures.Kline) (models.Candle, error) {
	var values [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("kline %d: bad number %q", k.OpenTime, raw)
		}
		values[i] = f
	}
	candle := models.Candle{
		Symbol:    symbol,
		TimeFrame: timeframe,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}
	return candle, candle.Validate()
}

// LastPrice returns the latest traded price for symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*futures.SymbolPrice
	err := c.withRetry(ctx, symbol, "price", func(ctx context.Context) error {
		var err error
		prices, err = c.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		f, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || f <= 0 {
			return 0, &models.DataError{Symbol: symbol, Err: fmt.Errorf("bad price %q", p.Price)}
		}
		return f, nil
	}
	return 0, &models.DataError{Symbol: symbol, Err: errors.New("symbol missing from price response")}
}

// TopSymbols returns the n USDT perpetuals with the highest 24h quote volume.
func (c *Client) TopSymbols(ctx context.Context, n int) ([]string, error) {
	var stats []*futures.PriceChangeStats
	err := c.withRetry(ctx, "", "ticker24h", func(ctx context.Context) error {
		var err error
		stats, err = c.client.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	type ranked struct {
		symbol string
		volume float64
	}
	var rows []ranked
	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, "USDT") {
			continue
		}
		v, err := strconv.ParseFloat(s.QuoteVolume, 64)
		if err != nil {
			continue
		}
		rows = append(rows, ranked{s.Symbol, v})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].volume > rows[j].volume })
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]string, 0, n)
	for _, r := range rows[:n] {
		out = append(out, r.symbol)
	}
	return out, nil
}

// SetLeverage changes the leverage multiple for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.withRetry(ctx, symbol, "leverage", func(ctx context.Context) error {
		_, err := c.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
}

// PlaceMarketOrder sends one market order and returns the average fill
// price and the quantity the exchange executed. The quantity is floored to
// the symbol's lot step first. Orders are never retried.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, buy bool, qty float64, reduceOnly bool) (float64, float64, error) {
	quantity, err := c.roundQuantity(ctx, symbol, qty)
	if err != nil {
		return 0, 0, err
	}
	if err := c.gate.Wait(ctx); err != nil {
		return 0, 0, err
	}

	side := futures.SideTypeSell
	if buy {
		side = futures.SideTypeBuy
	}
	res, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		ReduceOnly(reduceOnly).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if reduceOnly && errors.As(err, &apiErr) && apiErr.Code == codeReduceOnlyRejected {
			return 0, 0, fmt.Errorf("%s: %w", symbol, models.ErrNothingToReduce)
		}
		return 0, 0, err
	}

	fill, err := strconv.ParseFloat(res.AvgPrice, 64)
	if err != nil {
		fill = 0
	}
	filled, err := strconv.ParseFloat(res.ExecutedQuantity, 64)
	if err != nil || filled <= 0 {
		filled, _ = quantity.Float64()
	}
	log.WithFields(logrus.Fields{"symbol": symbol, "side": side, "qty": filled, "fill": fill}).
		Info("market order filled")
	return fill, filled, nil
}

// PlaceStopMarket rests a STOP_MARKET order that closes the whole position
// when the mark price crosses stopPrice. It returns the order id.
func (c *Client) PlaceStopMarket(ctx context.Context, symbol string, buy bool, stopPrice float64) (int64, error) {
	lot, err := c.lotSize(ctx, symbol)
	if err != nil {
		return 0, err
	}
	stop := RoundToTick(stopPrice, lot.tick)
	if !stop.IsPositive() {
		return 0, fmt.Errorf("invalid stop price %v for %s", stopPrice, symbol)
	}
	if err := c.gate.Wait(ctx); err != nil {
		return 0, err
	}

	side := futures.SideTypeSell
	if buy {
		side = futures.SideTypeBuy
	}
	res, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stop.String()).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	log.WithFields(logrus.Fields{"symbol": symbol, "side": side, "stop": stop.String(), "order": res.OrderID}).
		Info("stop order placed")
	return res.OrderID, nil
}

// CancelOrder cancels one open order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return c.withRetry(ctx, symbol, "cancelOrder", func(ctx context.Context) error {
		_, err := c.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		return err
	})
}

// OpenPositions lists every non-flat position on the account.
func (c *Client) OpenPositions(ctx context.Context) ([]models.ExchangePosition, error) {
	var risks []*futures.PositionRisk
	err := c.withRetry(ctx, "", "positionRisk", func(ctx context.Context) error {
		var err error
		risks, err = c.client.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []models.ExchangePosition
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		leverage, _ := strconv.Atoi(r.Leverage)
		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
		}
		out = append(out, models.ExchangePosition{
			Symbol:     r.Symbol,
			Side:       side,
			Quantity:   math.Abs(amt),
			EntryPrice: entry,
			MarkPrice:  mark,
			Leverage:   leverage,
		})
	}
	return out, nil
}

// QuantityFor converts a USD notional at price into a lot-step quantity.
func (c *Client) QuantityFor(ctx context.Context, symbol string, notional, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v for %s", price, symbol)
	}
	qty, err := c.roundQuantity(ctx, symbol, notional/price)
	if err != nil {
		return 0, err
	}
	f, _ := qty.Float64()
	return f, nil
}

func (c *Client) roundQuantity(ctx context.Context, symbol string, qty float64) (decimal.Decimal, error) {
	lot, err := c.lotSize(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundToStep(qty, lot.step, lot.min, symbol)
}

// RoundToStep floors qty to a multiple of step and rejects results under min.
// Float noise past eight decimals is dropped before flooring.
func RoundToStep(qty float64, step, min decimal.Decimal, symbol string) (decimal.Decimal, error) {
	q := decimal.NewFromFloat(qty).Round(8)
	if step.IsPositive() {
		q = q.Div(step).Floor().Mul(step)
	}
	if q.LessThan(min) || !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("quantity %s for %s under %s: %w", q.String(), symbol, min.String(), models.ErrBelowMinQuantity)
	}
	return q, nil
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price float64, tick decimal.Decimal) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	if !tick.IsPositive() {
		return p
	}
	return p.Div(tick).Round(0).Mul(tick)
}

func (c *Client) lotSize(ctx context.Context, symbol string) (lotSize, error) {
	c.mu.Lock()
	lot, ok := c.lotSizes[symbol]
	c.mu.Unlock()
	if ok {
		return lot, nil
	}

	var info *futures.ExchangeInfo
	err := c.withRetry(ctx, symbol, "exchangeInfo", func(ctx context.Context) error {
		var err error
		info, err = c.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return lotSize{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		f := s.LotSizeFilter()
		if f == nil {
			continue
		}
		step, err1 := decimal.NewFromString(f.StepSize)
		min, err2 := decimal.NewFromString(f.MinQuantity)
		if err1 != nil || err2 != nil {
			continue
		}
		lot := lotSize{step: step, min: min}
		if pf := s.PriceFilter(); pf != nil {
			if tick, err := decimal.NewFromString(pf.TickSize); err == nil {
				lot.tick = tick
			}
		}
		c.lotSizes[s.Symbol] = lot
	}
	lot, ok = c.lotSizes[symbol]
	if !ok {
		return lotSize{}, &models.DataError{Symbol: symbol, Err: errors.New("no lot size filter")}
	}
	return lot, nil
}
