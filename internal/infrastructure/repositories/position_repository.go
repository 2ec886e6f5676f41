package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/database"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
)

// PositionRepository handles position, tax-lot and realized-gain
// persistence
type PositionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sqlx.DB, logger *zap.Logger) *PositionRepository {
	return &PositionRepository{
		db:     db,
		logger: logger,
	}
}

// GetPosition loads one position by its natural key
func (r *PositionRepository) GetPosition(ctx context.Context, ownerID uuid.UUID, asset, venue string) (*entities.Position, error) {
	query := `
		SELECT id, owner_id, asset, venue, amount, average_cost, current_price, created_at, updated_at
		FROM positions
		WHERE owner_id = $1 AND asset = $2 AND venue = $3
	`

	var position entities.Position
	err := r.db.GetContext(ctx, &position, query, ownerID, asset, venue)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.ErrCodePositionNotFound, "position")
	}
	if err != nil {
		r.logger.Error("failed to query position",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
			zap.String("asset", asset),
		)
		return nil, fmt.Errorf("failed to query position: %w", err)
	}

	return &position, nil
}

// ListPositions returns all non-empty positions for an owner
func (r *PositionRepository) ListPositions(ctx context.Context, ownerID uuid.UUID) ([]*entities.Position, error) {
	query := `
		SELECT id, owner_id, asset, venue, amount, average_cost, current_price, created_at, updated_at
		FROM positions
		WHERE owner_id = $1 AND amount > 0
		ORDER BY asset, venue
	`

	var positions []*entities.Position
	if err := r.db.SelectContext(ctx, &positions, query, ownerID); err != nil {
		r.logger.Error("failed to list positions",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
		)
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	return positions, nil
}

// ListAllPositions returns every non-empty position across owners,
// used by the reconciliation sweep
func (r *PositionRepository) ListAllPositions(ctx context.Context) ([]*entities.Position, error) {
	query := `
		SELECT id, owner_id, asset, venue, amount, average_cost, current_price, created_at, updated_at
		FROM positions
		WHERE amount > 0
		ORDER BY owner_id, asset, venue
	`

	var positions []*entities.Position
	if err := r.db.SelectContext(ctx, &positions, query); err != nil {
		r.logger.Error("failed to list all positions", zap.Error(err))
		return nil, fmt.Errorf("failed to list all positions: %w", err)
	}

	return positions, nil
}

// GetOpenLots returns the owner's open lots for one asset in FIFO
// order
func (r *PositionRepository) GetOpenLots(ctx context.Context, ownerID uuid.UUID, asset string) ([]*entities.TaxLot, error) {
	query := `
		SELECT id, owner_id, asset, open_amount, unit_cost, opened_at, created_at, updated_at
		FROM tax_lots
		WHERE owner_id = $1 AND asset = $2 AND open_amount > 0
		ORDER BY opened_at ASC, created_at ASC
	`

	var lots []*entities.TaxLot
	if err := r.db.SelectContext(ctx, &lots, query, ownerID, asset); err != nil {
		r.logger.Error("failed to query open lots",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
			zap.String("asset", asset),
		)
		return nil, fmt.Errorf("failed to query open lots: %w", err)
	}

	return lots, nil
}

// SumOpenLots returns the total open amount across the owner's lots
// for one asset
func (r *PositionRepository) SumOpenLots(ctx context.Context, ownerID uuid.UUID, asset string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(open_amount), 0)
		FROM tax_lots
		WHERE owner_id = $1 AND asset = $2
	`

	var total decimal.Decimal
	if err := r.db.GetContext(ctx, &total, query, ownerID, asset); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum open lots: %w", err)
	}

	return total, nil
}

// SaveTrade persists one applied trade: the updated position, an
// optional new lot, the lots consumed by a sell and the realized gain
// events, all in a single transaction. When the context already
// carries a transaction the writes join it, so callers can commit the
// trade together with their own rows.
func (r *PositionRepository) SaveTrade(
	ctx context.Context,
	position *entities.Position,
	newLot *entities.TaxLot,
	consumedLots []*entities.TaxLot,
	gains []*entities.RealizedGainEvent,
) error {
	if tx, ok := database.TxFromContext(ctx); ok {
		if err := r.writeTrade(ctx, tx, position, newLot, consumedLots, gains); err != nil {
			return err
		}
		r.logTradePersisted(position, gains)
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.writeTrade(ctx, tx, position, newLot, consumedLots, gains); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trade transaction: %w", err)
	}

	r.logTradePersisted(position, gains)
	return nil
}

func (r *PositionRepository) writeTrade(
	ctx context.Context,
	tx sqlx.ExtContext,
	position *entities.Position,
	newLot *entities.TaxLot,
	consumedLots []*entities.TaxLot,
	gains []*entities.RealizedGainEvent,
) error {
	upsert := `
		INSERT INTO positions (id, owner_id, asset, venue, amount, average_cost, current_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id, asset, venue) DO UPDATE SET
			amount = EXCLUDED.amount,
			average_cost = EXCLUDED.average_cost,
			current_price = EXCLUDED.current_price,
			updated_at = EXCLUDED.updated_at
	`
	_, err := tx.ExecContext(ctx, upsert,
		position.ID,
		position.OwnerID,
		position.Asset,
		position.Venue,
		position.Amount,
		position.AverageCost,
		position.CurrentPrice,
		position.CreatedAt,
		position.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	if newLot != nil {
		insertLot := `
			INSERT INTO tax_lots (id, owner_id, asset, open_amount, unit_cost, opened_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err = tx.ExecContext(ctx, insertLot,
			newLot.ID,
			newLot.OwnerID,
			newLot.Asset,
			newLot.OpenAmount,
			newLot.UnitCost,
			newLot.OpenedAt,
			newLot.CreatedAt,
			newLot.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert tax lot: %w", err)
		}
	}

	for _, lot := range consumedLots {
		updateLot := `
			UPDATE tax_lots
			SET open_amount = $1, updated_at = $2
			WHERE id = $3
		`
		if _, err = tx.ExecContext(ctx, updateLot, lot.OpenAmount, lot.UpdatedAt, lot.ID); err != nil {
			return fmt.Errorf("update consumed lot: %w", err)
		}
	}

	for _, gain := range gains {
		insertGain := `
			INSERT INTO realized_gains (id, owner_id, asset, amount, buy_price, sell_price, gain_loss, holding_period_days, is_long_term, sold_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err = tx.ExecContext(ctx, insertGain,
			gain.ID,
			gain.OwnerID,
			gain.Asset,
			gain.Amount,
			gain.BuyPrice,
			gain.SellPrice,
			gain.GainLoss,
			gain.HoldingPeriodDays,
			gain.IsLongTerm,
			gain.SoldAt,
			gain.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert realized gain: %w", err)
		}
	}

	return nil
}

func (r *PositionRepository) logTradePersisted(position *entities.Position, gains []*entities.RealizedGainEvent) {
	r.logger.Info("trade persisted",
		zap.String("position_id", position.ID.String()),
		zap.String("owner_id", position.OwnerID.String()),
		zap.String("asset", position.Asset),
		zap.Int("gains", len(gains)),
	)
}

// GetTaxYearSummary aggregates the owner's realized gains for one
// calendar year
func (r *PositionRepository) GetTaxYearSummary(ctx context.Context, ownerID uuid.UUID, year int) (*entities.TaxYearSummary, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN NOT is_long_term AND gain_loss > 0 THEN gain_loss ELSE 0 END), 0) AS short_term_gains,
			COALESCE(SUM(CASE WHEN NOT is_long_term AND gain_loss < 0 THEN gain_loss ELSE 0 END), 0) AS short_term_losses,
			COALESCE(SUM(CASE WHEN is_long_term AND gain_loss > 0 THEN gain_loss ELSE 0 END), 0) AS long_term_gains,
			COALESCE(SUM(CASE WHEN is_long_term AND gain_loss < 0 THEN gain_loss ELSE 0 END), 0) AS long_term_losses,
			COUNT(*) AS event_count
		FROM realized_gains
		WHERE owner_id = $1 AND EXTRACT(YEAR FROM sold_at) = $2
	`

	summary := entities.TaxYearSummary{OwnerID: ownerID, TaxYear: year}
	row := r.db.QueryRowxContext(ctx, query, ownerID, year)
	err := row.Scan(
		&summary.ShortTermGains,
		&summary.ShortTermLosses,
		&summary.LongTermGains,
		&summary.LongTermLosses,
		&summary.EventCount,
	)
	if err != nil {
		r.logger.Error("failed to aggregate tax year summary",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
			zap.Int("year", year),
		)
		return nil, fmt.Errorf("failed to aggregate tax year summary: %w", err)
	}

	return &summary, nil
}
