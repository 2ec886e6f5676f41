package backtest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
)

const defaultListLimit = 20

// RunStore archives completed runs and serves them back
type RunStore interface {
	Save(ctx context.Context, run *entities.BacktestRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.BacktestRun, error)
	ListByStrategy(ctx context.Context, strategyID string, limit int) ([]*entities.BacktestRun, error)
}

// CandleSource supplies the historical bars a simulation replays
type CandleSource interface {
	HistoricalCandles(ctx context.Context, asset, timeframe string, limit int) ([]entities.Candle, error)
}

// Service runs simulations and archives every completed run as an
// immutable artifact
type Service struct {
	simulator *Simulator
	store     RunStore
	candles   CandleSource
	logger    *logger.Logger
}

// NewService creates a new backtest service
func NewService(simulator *Simulator, store RunStore, candles CandleSource, logger *logger.Logger) *Service {
	return &Service{
		simulator: simulator,
		store:     store,
		candles:   candles,
		logger:    logger,
	}
}

// RunAndArchive builds the strategy rule, replays the series through it
// and persists the resulting run
func (s *Service) RunAndArchive(
	ctx context.Context,
	symbol string,
	series []entities.Candle,
	cfg RuleConfig,
	initialBalance float64,
) (*entities.BacktestRun, error) {
	rule, err := NewRule(cfg)
	if err != nil {
		return nil, err
	}

	run, err := s.simulator.Run(ctx, symbol, series, rule, initialBalance)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("archive backtest run: %w", err)
	}

	s.logger.Info("Backtest archived",
		"run_id", run.ID.String(),
		"strategy", run.StrategyID,
		"symbol", run.Symbol,
		"final_balance", run.FinalBalance,
		"total_trades", run.Metrics.TotalTrades)

	return run, nil
}

// RunFromFeed fetches the symbol's recent bars from the candle source
// and runs RunAndArchive over them
func (s *Service) RunFromFeed(
	ctx context.Context,
	symbol, timeframe string,
	lookback int,
	cfg RuleConfig,
	initialBalance float64,
) (*entities.BacktestRun, error) {
	if lookback <= 0 {
		return nil, errors.ValidationError("lookback must be positive")
	}

	series, err := s.candles.HistoricalCandles(ctx, symbol, timeframe, lookback)
	if err != nil {
		return nil, fmt.Errorf("load candles for %s: %w", symbol, err)
	}

	return s.RunAndArchive(ctx, symbol, series, cfg, initialBalance)
}

// GetRun loads one archived run including its trade log
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*entities.BacktestRun, error) {
	return s.store.GetByID(ctx, id)
}

// ListRuns returns the most recent runs of one strategy
func (s *Service) ListRuns(ctx context.Context, strategyID string, limit int) ([]*entities.BacktestRun, error) {
	if strategyID == "" {
		return nil, errors.ValidationError("strategy id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	runs, err := s.store.ListByStrategy(ctx, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	return runs, nil
}
