package entities

import (
	"time"

	"github.com/google/uuid"
)

// SimulatedTradeAction is the action recorded in a backtest trade log
type SimulatedTradeAction string

const (
	SimulatedEnter SimulatedTradeAction = "ENTER"
	SimulatedExit  SimulatedTradeAction = "EXIT"
)

// ExitReason records why a simulated position was closed
type ExitReason string

const (
	ExitReasonSignal     ExitReason = "signal"
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
)

// SimulatedTrade is one entry in a backtest trade log. Profit and
// Return are populated on EXIT rows only.
type SimulatedTrade struct {
	Index     int                  `json:"index"`
	Timestamp time.Time            `json:"timestamp"`
	Action    SimulatedTradeAction `json:"action"`
	Price     float64              `json:"price"`
	Quantity  float64              `json:"quantity"`
	Balance   float64              `json:"balance"`
	Profit    float64              `json:"profit,omitempty"`
	Return    float64              `json:"return,omitempty"`
	Reason    ExitReason           `json:"reason,omitempty"`
}

// BacktestMetrics summarizes the performance of a backtest run
type BacktestMetrics struct {
	WinRate      float64 `json:"win_rate" db:"win_rate"`
	MaxDrawdown  float64 `json:"max_drawdown" db:"max_drawdown"`
	SharpeRatio  float64 `json:"sharpe_ratio" db:"sharpe_ratio"`
	ProfitFactor float64 `json:"profit_factor" db:"profit_factor"`
	TotalTrades  int     `json:"total_trades" db:"total_trades"`
}

// BacktestRun is the immutable artifact of one simulation
type BacktestRun struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	StrategyID     string           `json:"strategy_id" db:"strategy_id"`
	Symbol         string           `json:"symbol" db:"symbol"`
	StartDate      time.Time        `json:"start_date" db:"start_date"`
	EndDate        time.Time        `json:"end_date" db:"end_date"`
	InitialBalance float64          `json:"initial_balance" db:"initial_balance"`
	FinalBalance   float64          `json:"final_balance" db:"final_balance"`
	TradeLog       []SimulatedTrade `json:"trade_log"`
	Metrics        BacktestMetrics  `json:"metrics"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}
