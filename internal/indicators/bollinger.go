package indicators

import (
	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
)

// BollingerBands computes an SMA middle band with stddev-scaled upper
// and lower bands
type BollingerBands struct {
	period     int
	multiplier float64
}

// NewBollingerBands creates a Bollinger band indicator
func NewBollingerBands(period int, multiplier float64) *BollingerBands {
	return &BollingerBands{
		period:     period,
		multiplier: multiplier,
	}
}

// Period returns the number of candles required for one value
func (bb *BollingerBands) Period() int {
	return bb.period
}

// BollingerResult holds the aligned band series
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Calculate returns the three bands, nil when the window is too short
func (bb *BollingerBands) Calculate(candles []entities.Candle) *BollingerResult {
	closes := ClosePrices(candles)
	if len(closes) < bb.period {
		return nil
	}

	middle := SMA(closes, bb.period)
	stdDev := StdDev(closes, bb.period)
	if middle == nil || stdDev == nil {
		return nil
	}

	upper := make([]float64, len(middle))
	lower := make([]float64, len(middle))
	for i := range middle {
		band := stdDev[i] * bb.multiplier
		upper[i] = middle[i] + band
		lower[i] = middle[i] - band
	}

	return &BollingerResult{
		Upper:  upper,
		Middle: middle,
		Lower:  lower,
	}
}

// Latest returns the most recent upper, middle and lower band values.
// All zero when the window is too short.
func (bb *BollingerBands) Latest(candles []entities.Candle) (upper, middle, lower float64) {
	result := bb.Calculate(candles)
	if result == nil || len(result.Middle) == 0 {
		return 0, 0, 0
	}
	n := len(result.Middle) - 1
	return result.Upper[n], result.Middle[n], result.Lower[n]
}
