package backtest

import (
	"math"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
)

// profitFactorCap is reported when a run has winning trades and no
// losing ones
const profitFactorCap = 9999.0

// tradingDaysPerYear annualizes per-trade returns for the sharpe ratio
const tradingDaysPerYear = 252

// computeMetrics derives performance statistics from the exits in the
// trade log and the realized balance curve
func computeMetrics(tradeLog []entities.SimulatedTrade, equity []float64) entities.BacktestMetrics {
	var (
		returns     []float64
		wins        int
		closed      int
		grossProfit float64
		grossLoss   float64
	)

	for _, trade := range tradeLog {
		if trade.Action != entities.SimulatedExit {
			continue
		}
		closed++
		returns = append(returns, trade.Return)
		if trade.Profit > 0 {
			wins++
			grossProfit += trade.Profit
		} else {
			grossLoss += -trade.Profit
		}
	}

	m := entities.BacktestMetrics{
		TotalTrades: closed,
		MaxDrawdown: maxDrawdown(equity),
	}
	if closed == 0 {
		return m
	}

	m.WinRate = float64(wins) / float64(closed) * 100
	m.SharpeRatio = sharpeRatio(returns)

	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = profitFactorCap
	}

	return m
}

// maxDrawdown returns the largest percentage decline from a running
// peak of the balance curve
func maxDrawdown(equity []float64) float64 {
	var peak, maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpeRatio annualizes the mean per-trade return over its standard
// deviation. Fewer than two trades, or zero variance, yields zero.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}
