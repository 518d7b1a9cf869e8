package binance

import (
	"FlipTradeBot/internal/models"
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gate is the single process-wide admission point for exchange calls.
// Consecutive admissions are at least the configured interval apart.
type Gate struct {
	limiter  *rate.Limiter
	interval time.Duration
}

func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Gate{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Wait blocks until the caller may issue one request. Context expiry is
// returned as such; any other limiter failure wraps models.ErrGate.
func (g *Gate) Wait(ctx context.Context) error {
	err := g.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %v", models.ErrGate, err)
}
