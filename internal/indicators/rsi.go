package indicators

import (
	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
)

// RSI computes the relative strength index over a candle window
type RSI struct {
	period int
}

// NewRSI creates an RSI indicator with the given lookback period
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Period returns the number of candles required for one value
func (r *RSI) Period() int {
	return r.period + 1
}

// Calculate returns the RSI series for the window, nil when the window
// is too short
func (r *RSI) Calculate(candles []entities.Candle) []float64 {
	closes := ClosePrices(candles)
	if len(closes) < r.period+1 {
		return nil
	}

	changes := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		changes[i-1] = closes[i] - closes[i-1]
	}

	gains := make([]float64, len(changes))
	losses := make([]float64, len(changes))
	for i, change := range changes {
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	avgGain := EMA(gains, r.period)
	avgLoss := EMA(losses, r.period)
	if avgGain == nil || avgLoss == nil {
		return nil
	}

	result := make([]float64, len(avgGain))
	for i := range avgGain {
		if avgLoss[i] == 0 {
			result[i] = 100
		} else {
			rs := avgGain[i] / avgLoss[i]
			result[i] = 100 - 100/(1+rs)
		}
	}

	return result
}

// Latest returns the most recent RSI value, or 50 (neutral) when the
// window is too short
func (r *RSI) Latest(candles []entities.Candle) float64 {
	values := r.Calculate(candles)
	if len(values) == 0 {
		return 50
	}
	return values[len(values)-1]
}
