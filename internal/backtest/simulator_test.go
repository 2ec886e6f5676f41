package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/internal/indicators"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
)

func testSimulator() *Simulator {
	return NewSimulator(indicators.DefaultConfig(), logger.New("error", "test"))
}

// candleSeries builds hourly candles from a close price series
func candleSeries(closes []float64) []entities.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]entities.Candle, len(closes))
	for i, c := range closes {
		candles[i] = entities.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

// flatDropRise is 30 flat candles, a steep 6-candle decline, then a
// sustained 20-candle rally. The decline pushes RSI to oversold and
// the rally to overbought.
func flatDropRise() []entities.Candle {
	closes := make([]float64, 0, 56)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 1; i <= 6; i++ {
		closes = append(closes, 100-float64(i)*5)
	}
	for i := 1; i <= 20; i++ {
		closes = append(closes, 70+float64(i)*5)
	}
	return candleSeries(closes)
}

// stubRule enters on the first evaluation and never signals an exit
type stubRule struct {
	limits RiskLimits
}

func (r *stubRule) ID() string             { return "stub" }
func (r *stubRule) RiskLimits() RiskLimits { return r.limits }
func (r *stubRule) Evaluate(_ indicators.Snapshot, holding bool) Action {
	if !holding {
		return Enter
	}
	return Hold
}

func TestRunRejectsShortSeries(t *testing.T) {
	sim := testSimulator()
	rule, err := NewRule(DefaultRuleConfig())
	require.NoError(t, err)

	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100
	}

	run, err := sim.Run(context.Background(), "BTC-USD", candleSeries(closes), rule, 10000)

	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInsufficientData))
}

func TestRunRejectsNonPositiveBalance(t *testing.T) {
	sim := testSimulator()
	rule, err := NewRule(DefaultRuleConfig())
	require.NoError(t, err)

	_, err = sim.Run(context.Background(), "BTC-USD", flatDropRise(), rule, 0)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}

func TestRunRSIReversionRoundTrip(t *testing.T) {
	sim := testSimulator()
	rule, err := NewRule(DefaultRuleConfig())
	require.NoError(t, err)

	run, err := sim.Run(context.Background(), "BTC-USD", flatDropRise(), rule, 10000)
	require.NoError(t, err)

	require.Len(t, run.TradeLog, 2)

	enter := run.TradeLog[0]
	assert.Equal(t, entities.SimulatedEnter, enter.Action)
	assert.InDelta(t, 95.0, enter.Price, 1e-9)
	assert.InDelta(t, 10000.0/95.0, enter.Quantity, 1e-9)
	assert.Zero(t, enter.Balance)

	exit := run.TradeLog[1]
	assert.Equal(t, entities.SimulatedExit, exit.Action)
	assert.Equal(t, entities.ExitReasonSignal, exit.Reason)
	assert.Greater(t, exit.Price, enter.Price)
	assert.Greater(t, exit.Profit, 0.0)
	assert.InDelta(t, exit.Profit/10000.0, exit.Return, 1e-9)

	assert.InDelta(t, exit.Balance, run.FinalBalance, 1e-9)
	assert.Greater(t, run.FinalBalance, run.InitialBalance)

	assert.Equal(t, 1, run.Metrics.TotalTrades)
	assert.InDelta(t, 100.0, run.Metrics.WinRate, 1e-9)
}

func TestRunStopLossOverridesRule(t *testing.T) {
	sim := testSimulator()
	rule := &stubRule{limits: RiskLimits{StopLossPct: 0.10}}

	closes := make([]float64, 0, 33)
	for i := 0; i < 31; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 95, 85)

	run, err := sim.Run(context.Background(), "ETH-USD", candleSeries(closes), rule, 10000)
	require.NoError(t, err)

	require.Len(t, run.TradeLog, 2)
	exit := run.TradeLog[1]
	assert.Equal(t, entities.ExitReasonStopLoss, exit.Reason)
	assert.InDelta(t, 85.0, exit.Price, 1e-9)
	assert.Less(t, exit.Profit, 0.0)
	assert.Less(t, run.FinalBalance, run.InitialBalance)
}

func TestRunTakeProfitOverridesRule(t *testing.T) {
	sim := testSimulator()
	rule := &stubRule{limits: RiskLimits{TakeProfitPct: 0.15}}

	closes := make([]float64, 0, 33)
	for i := 0; i < 31; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 110, 120)

	run, err := sim.Run(context.Background(), "ETH-USD", candleSeries(closes), rule, 10000)
	require.NoError(t, err)

	require.Len(t, run.TradeLog, 2)
	exit := run.TradeLog[1]
	assert.Equal(t, entities.ExitReasonTakeProfit, exit.Reason)
	assert.InDelta(t, 120.0, exit.Price, 1e-9)
	assert.Greater(t, exit.Profit, 0.0)
}

func TestRunMarksOpenPositionToLastClose(t *testing.T) {
	sim := testSimulator()
	rule := &stubRule{}

	closes := make([]float64, 0, 35)
	for i := 0; i < 31; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 102, 104, 110)

	run, err := sim.Run(context.Background(), "SOL-USD", candleSeries(closes), rule, 10000)
	require.NoError(t, err)

	// The position is never closed, so the log holds only the entry
	require.Len(t, run.TradeLog, 1)
	assert.Equal(t, entities.SimulatedEnter, run.TradeLog[0].Action)

	qty := run.TradeLog[0].Quantity
	assert.InDelta(t, qty*110, run.FinalBalance, 1e-9)
	assert.Equal(t, 0, run.Metrics.TotalTrades)
}

func TestRunIsDeterministic(t *testing.T) {
	sim := testSimulator()
	rule, err := NewRule(DefaultRuleConfig())
	require.NoError(t, err)

	series := flatDropRise()

	first, err := sim.Run(context.Background(), "BTC-USD", series, rule, 10000)
	require.NoError(t, err)
	second, err := sim.Run(context.Background(), "BTC-USD", series, rule, 10000)
	require.NoError(t, err)

	assert.Equal(t, first.TradeLog, second.TradeLog)
	assert.Equal(t, first.FinalBalance, second.FinalBalance)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	sim := testSimulator()
	rule, err := NewRule(DefaultRuleConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sim.Run(ctx, "BTC-USD", flatDropRise(), rule, 10000)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
