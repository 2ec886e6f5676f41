package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/internal/indicators"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
	"github.com/coinpilot/coinpilot-core/pkg/metrics"
)

// WarmupCandles is the minimum series length before the first rule
// evaluation. Series shorter than this are rejected.
const WarmupCandles = 30

// Action is a strategy decision at one simulation step
type Action int

const (
	Hold Action = iota
	Enter
	Exit
)

// RiskLimits are the stop-loss / take-profit thresholds relative to
// the entry price. Zero disables a threshold.
type RiskLimits struct {
	StopLossPct   float64 `json:"stop_loss_pct" mapstructure:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct" mapstructure:"take_profit_pct"`
}

// StrategyRule is the pluggable decision function driven by the
// simulator. Implementations must be pure: same snapshot in, same
// action out.
type StrategyRule interface {
	ID() string
	Evaluate(snap indicators.Snapshot, holding bool) Action
	RiskLimits() RiskLimits
}

// Simulator replays a historical price series through a strategy rule
type Simulator struct {
	indicatorCfg indicators.Config
	logger       *logger.Logger
}

// NewSimulator creates a simulator with the given indicator parameters
func NewSimulator(indicatorCfg indicators.Config, log *logger.Logger) *Simulator {
	return &Simulator{
		indicatorCfg: indicatorCfg,
		logger:       log,
	}
}

// openPosition is the simulator's single in-flight position
type openPosition struct {
	quantity   float64
	entryPrice float64
	entryCost  float64
}

// Run replays the series through the rule with an all-in single
// position model and returns the immutable run artifact. The result is
// deterministic for a given (series, rule) pair; ctx cancellation is
// honored between steps.
func (s *Simulator) Run(
	ctx context.Context,
	symbol string,
	series []entities.Candle,
	rule StrategyRule,
	initialBalance float64,
) (*entities.BacktestRun, error) {
	started := time.Now()

	if len(series) < WarmupCandles {
		metrics.BacktestsRun.WithLabelValues(rule.ID(), "rejected").Inc()
		return nil, errors.InsufficientData(
			fmt.Sprintf("price series has %d candles, need at least %d", len(series), WarmupCandles))
	}
	if initialBalance <= 0 {
		return nil, errors.ValidationError("initial balance must be positive")
	}

	limits := rule.RiskLimits()
	balance := initialBalance
	var pos *openPosition
	tradeLog := make([]entities.SimulatedTrade, 0)
	// Realized balance curve for drawdown: starts at the initial
	// balance, extended on every exit
	equity := []float64{initialBalance}

	for i := WarmupCandles; i < len(series); i++ {
		select {
		case <-ctx.Done():
			metrics.BacktestsRun.WithLabelValues(rule.ID(), "cancelled").Inc()
			return nil, fmt.Errorf("backtest cancelled at step %d: %w", i, ctx.Err())
		default:
		}

		candle := series[i]

		// Stop-loss / take-profit run before the rule and override it
		if pos != nil {
			if reason, triggered := s.riskExit(pos, candle.Close, limits); triggered {
				balance = s.closePosition(&tradeLog, &equity, pos, candle, i, reason)
				pos = nil
				continue
			}
		}

		// Indicators see the whole prefix up to the current candle;
		// a fixed 30-bar window cannot feed MACD(12,26,9), which needs
		// 35 closes before its signal line exists.
		snap := indicators.Compute(series[:i+1], s.indicatorCfg)

		switch rule.Evaluate(snap, pos != nil) {
		case Enter:
			if pos == nil && balance > 0 {
				pos = &openPosition{
					quantity:   balance / candle.Close,
					entryPrice: candle.Close,
					entryCost:  balance,
				}
				tradeLog = append(tradeLog, entities.SimulatedTrade{
					Index:     i,
					Timestamp: candle.Timestamp,
					Action:    entities.SimulatedEnter,
					Price:     candle.Close,
					Quantity:  pos.quantity,
					Balance:   0,
				})
				balance = 0
			}
		case Exit:
			if pos != nil {
				balance = s.closePosition(&tradeLog, &equity, pos, candle, i, entities.ExitReasonSignal)
				pos = nil
			}
		}
	}

	// A position still open at the end is marked to the last close,
	// not force-closed
	finalBalance := balance
	if pos != nil {
		finalBalance = pos.quantity * series[len(series)-1].Close
		equity = append(equity, finalBalance)
	}

	run := &entities.BacktestRun{
		ID:             uuid.New(),
		StrategyID:     rule.ID(),
		Symbol:         symbol,
		StartDate:      series[0].Timestamp,
		EndDate:        series[len(series)-1].Timestamp,
		InitialBalance: initialBalance,
		FinalBalance:   finalBalance,
		TradeLog:       tradeLog,
		Metrics:        computeMetrics(tradeLog, equity),
		CreatedAt:      time.Now().UTC(),
	}

	metrics.BacktestsRun.WithLabelValues(rule.ID(), "completed").Inc()
	metrics.BacktestDuration.Observe(time.Since(started).Seconds())

	s.logger.Debugw("Backtest completed",
		"strategy", rule.ID(),
		"symbol", symbol,
		"candles", len(series),
		"trades", len(tradeLog),
		"final_balance", finalBalance)

	return run, nil
}

// riskExit reports whether the close price crossed a stop-loss or
// take-profit threshold
func (s *Simulator) riskExit(pos *openPosition, close float64, limits RiskLimits) (entities.ExitReason, bool) {
	if limits.StopLossPct > 0 && close <= pos.entryPrice*(1-limits.StopLossPct) {
		return entities.ExitReasonStopLoss, true
	}
	if limits.TakeProfitPct > 0 && close >= pos.entryPrice*(1+limits.TakeProfitPct) {
		return entities.ExitReasonTakeProfit, true
	}
	return "", false
}

// closePosition converts the open position back to cash at the candle
// close and appends the exit to the trade log
func (s *Simulator) closePosition(
	tradeLog *[]entities.SimulatedTrade,
	equity *[]float64,
	pos *openPosition,
	candle entities.Candle,
	index int,
	reason entities.ExitReason,
) float64 {
	proceeds := pos.quantity * candle.Close
	profit := proceeds - pos.entryCost

	*tradeLog = append(*tradeLog, entities.SimulatedTrade{
		Index:     index,
		Timestamp: candle.Timestamp,
		Action:    entities.SimulatedExit,
		Price:     candle.Close,
		Quantity:  pos.quantity,
		Balance:   proceeds,
		Profit:    profit,
		Return:    profit / pos.entryCost,
		Reason:    reason,
	})
	*equity = append(*equity, proceeds)

	return proceeds
}
