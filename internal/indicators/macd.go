package indicators

import (
	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
)

// MACD computes moving average convergence/divergence
type MACD struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

// NewMACD creates a MACD indicator with the given periods
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		FastPeriod:   fast,
		SlowPeriod:   slow,
		SignalPeriod: signal,
	}
}

// Period returns the number of candles required for one value
func (m *MACD) Period() int {
	return m.SlowPeriod + m.SignalPeriod
}

// MACDResult holds the aligned MACD, signal and histogram series
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// Calculate returns the MACD components, nil when the window is too
// short
func (m *MACD) Calculate(candles []entities.Candle) *MACDResult {
	closes := ClosePrices(candles)
	if len(closes) < m.SlowPeriod+m.SignalPeriod {
		return nil
	}

	fastEMA := EMA(closes, m.FastPeriod)
	slowEMA := EMA(closes, m.SlowPeriod)
	if fastEMA == nil || slowEMA == nil {
		return nil
	}

	// Align the fast series to the slow one
	offset := len(fastEMA) - len(slowEMA)
	macdLine := make([]float64, len(slowEMA))
	for i := range macdLine {
		macdLine[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signalLine := EMA(macdLine, m.SignalPeriod)
	if signalLine == nil {
		return nil
	}

	offset2 := len(macdLine) - len(signalLine)
	histogram := make([]float64, len(signalLine))
	for i := range histogram {
		histogram[i] = macdLine[i+offset2] - signalLine[i]
	}

	return &MACDResult{
		MACD:      macdLine[offset2:],
		Signal:    signalLine,
		Histogram: histogram,
	}
}

// Latest returns the most recent MACD, signal and histogram values.
// All zero when the window is too short.
func (m *MACD) Latest(candles []entities.Candle) (macd, signal, histogram float64) {
	result := m.Calculate(candles)
	if result == nil || len(result.MACD) == 0 {
		return 0, 0, 0
	}
	n := len(result.MACD) - 1
	return result.MACD[n], result.Signal[n], result.Histogram[n]
}
