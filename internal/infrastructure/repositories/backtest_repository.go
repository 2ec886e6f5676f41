package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/coinpilot/coinpilot-core/internal/backtest"
	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
)

// BacktestRepository archives completed backtest runs
type BacktestRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ backtest.RunStore = (*BacktestRepository)(nil)

// NewBacktestRepository creates a new backtest repository
func NewBacktestRepository(db *sqlx.DB, logger *zap.Logger) *BacktestRepository {
	return &BacktestRepository{
		db:     db,
		logger: logger,
	}
}

// Save archives one run. The trade log is stored as JSONB.
func (r *BacktestRepository) Save(ctx context.Context, run *entities.BacktestRun) error {
	tradeLog, err := json.Marshal(run.TradeLog)
	if err != nil {
		return fmt.Errorf("marshal trade log: %w", err)
	}

	query := `
		INSERT INTO backtest_runs (
			id, strategy_id, symbol, start_date, end_date,
			initial_balance, final_balance, trade_log,
			win_rate, max_drawdown, sharpe_ratio, profit_factor, total_trades,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.StrategyID,
		run.Symbol,
		run.StartDate,
		run.EndDate,
		run.InitialBalance,
		run.FinalBalance,
		tradeLog,
		run.Metrics.WinRate,
		run.Metrics.MaxDrawdown,
		run.Metrics.SharpeRatio,
		run.Metrics.ProfitFactor,
		run.Metrics.TotalTrades,
		run.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to save backtest run",
			zap.Error(err),
			zap.String("run_id", run.ID.String()),
		)
		return fmt.Errorf("failed to save backtest run: %w", err)
	}

	return nil
}

// GetByID loads one archived run including its trade log
func (r *BacktestRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.BacktestRun, error) {
	query := `
		SELECT id, strategy_id, symbol, start_date, end_date,
		       initial_balance, final_balance, trade_log,
		       win_rate, max_drawdown, sharpe_ratio, profit_factor, total_trades,
		       created_at
		FROM backtest_runs
		WHERE id = $1
	`

	var (
		run      entities.BacktestRun
		tradeLog []byte
	)
	row := r.db.QueryRowxContext(ctx, query, id)
	err := row.Scan(
		&run.ID,
		&run.StrategyID,
		&run.Symbol,
		&run.StartDate,
		&run.EndDate,
		&run.InitialBalance,
		&run.FinalBalance,
		&tradeLog,
		&run.Metrics.WinRate,
		&run.Metrics.MaxDrawdown,
		&run.Metrics.SharpeRatio,
		&run.Metrics.ProfitFactor,
		&run.Metrics.TotalTrades,
		&run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.ErrCodeBacktestNotFound, "backtest run")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest run: %w", err)
	}

	if err := json.Unmarshal(tradeLog, &run.TradeLog); err != nil {
		return nil, fmt.Errorf("unmarshal trade log: %w", err)
	}

	return &run, nil
}

// ListByStrategy returns recent runs of one strategy without their
// trade logs
func (r *BacktestRepository) ListByStrategy(ctx context.Context, strategyID string, limit int) ([]*entities.BacktestRun, error) {
	query := `
		SELECT id, strategy_id, symbol, start_date, end_date,
		       initial_balance, final_balance,
		       win_rate, max_drawdown, sharpe_ratio, profit_factor, total_trades,
		       created_at
		FROM backtest_runs
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryxContext(ctx, query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*entities.BacktestRun
	for rows.Next() {
		run := &entities.BacktestRun{}
		err := rows.Scan(
			&run.ID,
			&run.StrategyID,
			&run.Symbol,
			&run.StartDate,
			&run.EndDate,
			&run.InitialBalance,
			&run.FinalBalance,
			&run.Metrics.WinRate,
			&run.Metrics.MaxDrawdown,
			&run.Metrics.SharpeRatio,
			&run.Metrics.ProfitFactor,
			&run.Metrics.TotalTrades,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backtest runs: %w", err)
	}

	return runs, nil
}
