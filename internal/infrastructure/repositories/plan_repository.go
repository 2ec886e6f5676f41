package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/database"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
)

// PlanRepository handles recurring plan persistence
type PlanRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *sqlx.DB, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new recurring plan
func (r *PlanRepository) Create(ctx context.Context, plan *entities.RecurringPlan) error {
	query := `
		INSERT INTO recurring_plans (
			id, owner_id, asset, venue, currency, amount, frequency, status,
			payer_ref, goal_amount, next_execution, scheduled_slot,
			total_invested, total_asset_qty, average_price, failure_count,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		plan.ID,
		plan.OwnerID,
		plan.Asset,
		plan.Venue,
		plan.Currency,
		plan.Amount,
		plan.Frequency,
		plan.Status,
		plan.PayerRef,
		plan.GoalAmount,
		plan.NextExecution,
		plan.ScheduledSlot,
		plan.TotalInvested,
		plan.TotalAssetQty,
		plan.AveragePrice,
		plan.FailureCount,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create plan",
			zap.Error(err),
			zap.String("plan_id", plan.ID.String()),
		)
		return fmt.Errorf("failed to create plan: %w", err)
	}

	return nil
}

// GetByID loads one plan
func (r *PlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RecurringPlan, error) {
	query := `
		SELECT id, owner_id, asset, venue, currency, amount, frequency, status,
		       payer_ref, goal_amount, next_execution, scheduled_slot, total_invested,
		       total_asset_qty, average_price, failure_count, created_at, updated_at
		FROM recurring_plans
		WHERE id = $1
	`

	var plan entities.RecurringPlan
	err := r.db.GetContext(ctx, &plan, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.ErrCodePlanNotFound, "plan")
	}
	if err != nil {
		r.logger.Error("failed to query plan",
			zap.Error(err),
			zap.String("plan_id", id.String()),
		)
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}

	return &plan, nil
}

// Update persists the plan's mutable fields. It joins a transaction
// carried by the context when one is present.
func (r *PlanRepository) Update(ctx context.Context, plan *entities.RecurringPlan) error {
	query := `
		UPDATE recurring_plans
		SET status = $1,
		    next_execution = $2,
		    scheduled_slot = $3,
		    total_invested = $4,
		    total_asset_qty = $5,
		    average_price = $6,
		    failure_count = $7,
		    updated_at = $8
		WHERE id = $9
	`

	result, err := database.Ext(ctx, r.db).ExecContext(ctx, query,
		plan.Status,
		plan.NextExecution,
		plan.ScheduledSlot,
		plan.TotalInvested,
		plan.TotalAssetQty,
		plan.AveragePrice,
		plan.FailureCount,
		plan.UpdatedAt,
		plan.ID,
	)
	if err != nil {
		r.logger.Error("failed to update plan",
			zap.Error(err),
			zap.String("plan_id", plan.ID.String()),
		)
		return fmt.Errorf("failed to update plan: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NotFound(errors.ErrCodePlanNotFound, "plan")
	}

	return nil
}

// ListDue returns active plans whose next execution has arrived,
// oldest schedules first
func (r *PlanRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*entities.RecurringPlan, error) {
	query := `
		SELECT id, owner_id, asset, venue, currency, amount, frequency, status,
		       payer_ref, goal_amount, next_execution, scheduled_slot, total_invested,
		       total_asset_qty, average_price, failure_count, created_at, updated_at
		FROM recurring_plans
		WHERE status = $1 AND next_execution <= $2
		ORDER BY next_execution ASC
		LIMIT $3
	`

	var plans []*entities.RecurringPlan
	err := r.db.SelectContext(ctx, &plans, query, entities.PlanStatusActive, asOf, limit)
	if err != nil {
		r.logger.Error("failed to list due plans", zap.Error(err))
		return nil, fmt.Errorf("failed to list due plans: %w", err)
	}

	return plans, nil
}

// ListByOwner returns all of an owner's plans, newest first
func (r *PlanRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*entities.RecurringPlan, error) {
	query := `
		SELECT id, owner_id, asset, venue, currency, amount, frequency, status,
		       payer_ref, goal_amount, next_execution, scheduled_slot, total_invested,
		       total_asset_qty, average_price, failure_count, created_at, updated_at
		FROM recurring_plans
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	var plans []*entities.RecurringPlan
	if err := r.db.SelectContext(ctx, &plans, query, ownerID); err != nil {
		r.logger.Error("failed to list plans by owner",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
		)
		return nil, fmt.Errorf("failed to list plans by owner: %w", err)
	}

	return plans, nil
}
