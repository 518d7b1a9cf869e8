package indicators

import "math"

type RSIService struct {
	ema *EMAService
}

func NewRSIService() *RSIService {
	return &RSIService{
		ema: NewEMAService(),
	}
}

// Calculate returns the RSI line for prices. Gains and losses are smoothed
// with an EMA of the same period; entries before index period are zero.
func (s *RSIService) Calculate(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}

	gains := make([]float64, len(prices))
	losses := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = math.Abs(change)
		}
	}

	avgGain := s.ema.Calculate(gains, period)
	avgLoss := s.ema.Calculate(losses, period)

	rsi := make([]float64, len(prices))
	for i := period; i < len(prices); i++ {
		switch {
		case avgLoss[i] == 0 && avgGain[i] == 0:
			rsi[i] = 50
		case avgLoss[i] == 0:
			rsi[i] = 100
		default:
			rs := avgGain[i] / avgLoss[i]
			rsi[i] = 100 - (100 / (1 + rs))
		}
	}
	return rsi
}

// Latest returns the newest RSI value, false when there is not enough data.
func (s *RSIService) Latest(prices []float64, period int) (float64, bool) {
	rsi := s.Calculate(prices, period)
	if len(rsi) == 0 {
		return 0, false
	}
	return rsi[len(rsi)-1], true
}
