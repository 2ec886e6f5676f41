package sip

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
	"github.com/coinpilot/coinpilot-core/pkg/metrics"
)

// PlanRepository persists recurring investment plans
type PlanRepository interface {
	Create(ctx context.Context, plan *entities.RecurringPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.RecurringPlan, error)
	Update(ctx context.Context, plan *entities.RecurringPlan) error
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]*entities.RecurringPlan, error)
}

// PaymentGateway charges the payer's funding source. Charges with the
// same idempotency key must be applied at most once. RevokeMandate
// withdraws the recurring-payment authorization behind a payer
// reference.
type PaymentGateway interface {
	Charge(ctx context.Context, payerRef string, amount decimal.Decimal, currency, idempotencyKey string) (string, error)
	RevokeMandate(ctx context.Context, payerRef string) error
}

// PriceFeed provides the spot price used to size the purchase
type PriceFeed interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Ledger applies the purchase to the owner's position
type Ledger interface {
	ApplyTrade(ctx context.Context, req entities.TradeRequest) (*entities.TradeResult, error)
}

// NotificationSink delivers plan lifecycle events to the owner.
// Delivery is best effort; failures are logged and never block the
// sweep.
type NotificationSink interface {
	Notify(ctx context.Context, ownerID uuid.UUID, event string, plan *entities.RecurringPlan) error
}

// Transactor runs a function inside a single storage transaction so
// the ledger write and the plan update commit or roll back together
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PlanLocker grants short-lived exclusive claims on a plan so that
// concurrent sweepers never double-execute it
type PlanLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CreatePlanRequest describes a new recurring investment plan
type CreatePlanRequest struct {
	OwnerID    uuid.UUID              `json:"owner_id"`
	Asset      string                 `json:"asset"`
	Venue      string                 `json:"venue"`
	Currency   string                 `json:"currency"`
	Amount     decimal.Decimal        `json:"amount"`
	Frequency  entities.PlanFrequency `json:"frequency"`
	PayerRef   string                 `json:"payer_ref"`
	GoalAmount *decimal.Decimal       `json:"goal_amount,omitempty"`
	StartAt    time.Time              `json:"start_at"`
}

// Config tunes the sweep behavior
type Config struct {
	BatchLimit int           `mapstructure:"batch_limit"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	ClaimTTL   time.Duration `mapstructure:"claim_ttl"`
}

// DefaultConfig returns the standard sweep tuning
func DefaultConfig() Config {
	return Config{
		BatchLimit: 100,
		RetryDelay: time.Hour,
		ClaimTTL:   5 * time.Minute,
	}
}

// Service manages the recurring investment plan lifecycle and executes
// due plans
type Service struct {
	planRepo PlanRepository
	payments PaymentGateway
	prices   PriceFeed
	ledger   Ledger
	notifier NotificationSink
	locker   PlanLocker
	tx       Transactor
	config   Config
	logger   *logger.Logger
}

// NewService creates a new recurring investment service
func NewService(
	planRepo PlanRepository,
	payments PaymentGateway,
	prices PriceFeed,
	ledger Ledger,
	notifier NotificationSink,
	locker PlanLocker,
	tx Transactor,
	config Config,
	logger *logger.Logger,
) *Service {
	if config.BatchLimit <= 0 {
		config.BatchLimit = DefaultConfig().BatchLimit
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultConfig().RetryDelay
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = DefaultConfig().ClaimTTL
	}

	return &Service{
		planRepo: planRepo,
		payments: payments,
		prices:   prices,
		ledger:   ledger,
		notifier: notifier,
		locker:   locker,
		tx:       tx,
		config:   config,
		logger:   logger,
	}
}

// CreatePlan validates and persists a new active plan. The first
// execution is due at StartAt, or immediately when StartAt is zero.
func (s *Service) CreatePlan(ctx context.Context, req CreatePlanRequest) (*entities.RecurringPlan, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	plan := &entities.RecurringPlan{
		ID:            uuid.New(),
		OwnerID:       req.OwnerID,
		Asset:         req.Asset,
		Venue:         req.Venue,
		Currency:      req.Currency,
		Amount:        req.Amount,
		Frequency:     req.Frequency,
		Status:        entities.PlanStatusActive,
		PayerRef:      req.PayerRef,
		GoalAmount:    req.GoalAmount,
		NextExecution: req.StartAt,
		ScheduledSlot: req.StartAt,
		TotalInvested: decimal.Zero,
		TotalAssetQty: decimal.Zero,
		AveragePrice:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.planRepo.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	s.logger.Info("Recurring plan created",
		"plan_id", plan.ID.String(),
		"owner_id", plan.OwnerID.String(),
		"asset", plan.Asset,
		"amount", plan.Amount.String(),
		"frequency", string(plan.Frequency))

	return plan, nil
}

// PausePlan moves an active plan to PAUSED
func (s *Service) PausePlan(ctx context.Context, planID uuid.UUID) (*entities.RecurringPlan, error) {
	return s.transition(ctx, planID, entities.PlanStatusPaused, entities.PlanEventPaused)
}

// ResumePlan moves a paused plan back to ACTIVE. The failure count is
// cleared and an overdue schedule becomes due immediately.
func (s *Service) ResumePlan(ctx context.Context, planID uuid.UUID) (*entities.RecurringPlan, error) {
	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if !plan.Status.CanTransitionTo(entities.PlanStatusActive) {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot resume plan in status %s", plan.Status))
	}

	now := time.Now().UTC()
	plan.Status = entities.PlanStatusActive
	plan.FailureCount = 0
	if plan.NextExecution.Before(now) {
		plan.NextExecution = now
		plan.ScheduledSlot = now
	}
	plan.UpdatedAt = now

	if err := s.planRepo.Update(ctx, plan); err != nil {
		return nil, fmt.Errorf("resume plan: %w", err)
	}

	s.logger.Info("Recurring plan resumed", "plan_id", planID.String())
	return plan, nil
}

// CancelPlan moves a plan to its terminal CANCELLED state and revokes
// the recurring-payment mandate behind it. A revocation failure is
// logged but never undoes the cancellation.
func (s *Service) CancelPlan(ctx context.Context, planID uuid.UUID) (*entities.RecurringPlan, error) {
	plan, err := s.transition(ctx, planID, entities.PlanStatusCancelled, entities.PlanEventCancelled)
	if err != nil {
		return nil, err
	}

	if err := s.payments.RevokeMandate(ctx, plan.PayerRef); err != nil {
		s.logger.Warn("Mandate revocation failed",
			"plan_id", planID.String(),
			"payer_ref", plan.PayerRef,
			"error", err)
	}

	return plan, nil
}

// GetPlan returns one plan by id
func (s *Service) GetPlan(ctx context.Context, planID uuid.UUID) (*entities.RecurringPlan, error) {
	return s.planRepo.GetByID(ctx, planID)
}

// ExecuteDuePlans runs one sweep: claim, charge, buy and reschedule
// every plan whose next execution has arrived. Returns the number of
// successful and failed executions.
func (s *Service) ExecuteDuePlans(ctx context.Context) (executed, failed int, err error) {
	started := time.Now()

	plans, err := s.planRepo.ListDue(ctx, started.UTC(), s.config.BatchLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("list due plans: %w", err)
	}

	metrics.PlansDue.Set(float64(len(plans)))
	if len(plans) == 0 {
		return 0, 0, nil
	}

	s.logger.Info("Executing due plans", "count", len(plans))

	for _, plan := range plans {
		select {
		case <-ctx.Done():
			metrics.SweepDuration.Observe(time.Since(started).Seconds())
			return executed, failed, ctx.Err()
		default:
		}

		if execErr := s.executeOnce(ctx, plan); execErr != nil {
			failed++
			s.logger.Error("Plan execution failed",
				"error", execErr,
				"plan_id", plan.ID.String())
		} else {
			executed++
		}
	}

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	s.logger.Info("Sweep finished", "executed", executed, "failed", failed)

	return executed, failed, nil
}

// executeOnce runs a single plan execution under an exclusive claim.
// The payment idempotency key is derived from the scheduled execution
// time, so a retried execution can never charge twice.
func (s *Service) executeOnce(ctx context.Context, plan *entities.RecurringPlan) error {
	claimKey := planClaimKey(plan.ID)
	acquired, err := s.locker.Acquire(ctx, claimKey, s.config.ClaimTTL)
	if err != nil {
		return fmt.Errorf("acquire plan claim: %w", err)
	}
	if !acquired {
		s.logger.Debug("Plan claimed by another sweeper, skipping", "plan_id", plan.ID.String())
		return nil
	}
	defer func() {
		if releaseErr := s.locker.Release(ctx, claimKey); releaseErr != nil {
			s.logger.Warn("Failed to release plan claim", "plan_id", plan.ID.String(), "error", releaseErr)
		}
	}()

	price, err := s.prices.GetPrice(ctx, plan.Asset)
	if err != nil {
		return s.recordFailure(ctx, plan, fmt.Errorf("price lookup: %w", err))
	}
	if !price.IsPositive() {
		return s.recordFailure(ctx, plan, errors.PriceUnavailable(
			fmt.Sprintf("non-positive price %s for %s", price.String(), plan.Asset)))
	}

	// The key is derived from the scheduled slot, which only advances
	// when an execution commits. A retry of a failed slot therefore
	// presents the same key and the gateway dedupes the charge.
	idempotencyKey := fmt.Sprintf("%s:%d", plan.ID.String(), plan.ScheduledSlot.Unix())
	paymentID, err := s.payments.Charge(ctx, plan.PayerRef, plan.Amount, plan.Currency, idempotencyKey)
	if err != nil {
		return s.recordFailure(ctx, plan, errors.Wrap(err, errors.ErrCodePaymentFailed, "charge payer"))
	}

	quantity := plan.Amount.Div(price)

	// Ledger write and plan reschedule commit together. A rollback
	// leaves the plan on its original slot, so the next sweep replays
	// the whole slot without double-applying either side.
	candidate := *plan
	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		_, err := s.ledger.ApplyTrade(txCtx, entities.TradeRequest{
			OwnerID:  candidate.OwnerID,
			Asset:    candidate.Asset,
			Venue:    candidate.Venue,
			Side:     entities.TradeSideBuy,
			Quantity: quantity,
			Price:    price,
			TradedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("apply purchase to ledger: %w", err)
		}

		candidate.RecordExecution(candidate.Amount, quantity)
		candidate.UpdatedAt = time.Now().UTC()
		if candidate.GoalReached(price) {
			candidate.Status = entities.PlanStatusGoalAchieved
		}

		if err := s.planRepo.Update(txCtx, &candidate); err != nil {
			return fmt.Errorf("persist plan execution: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return s.recordFailure(ctx, plan, txErr)
	}

	*plan = candidate
	goalHit := plan.Status == entities.PlanStatusGoalAchieved

	metrics.PlanExecutions.WithLabelValues("success").Inc()
	s.logger.Info("Plan executed",
		"plan_id", plan.ID.String(),
		"payment_id", paymentID,
		"spent", plan.Amount.String(),
		"quantity", quantity.String(),
		"price", price.String())

	s.notify(ctx, plan, entities.PlanEventExecuted)
	if goalHit {
		s.logger.Info("Plan goal achieved", "plan_id", plan.ID.String())
		s.notify(ctx, plan, entities.PlanEventGoalAchieved)
	}

	return nil
}

// recordFailure bumps the failure count, schedules a retry and pauses
// the plan once the consecutive failure limit is hit. Only the retry
// time moves; the scheduled slot stays on the failed slot so the retry
// charges under the same idempotency key.
func (s *Service) recordFailure(ctx context.Context, plan *entities.RecurringPlan, cause error) error {
	now := time.Now().UTC()
	plan.FailureCount++
	plan.NextExecution = now.Add(s.config.RetryDelay)
	plan.UpdatedAt = now

	paused := false
	if plan.FailureCount >= entities.MaxConsecutiveFailures {
		plan.Status = entities.PlanStatusPaused
		paused = true
	}

	if err := s.planRepo.Update(ctx, plan); err != nil {
		return fmt.Errorf("persist plan failure: %w", err)
	}

	metrics.PlanExecutions.WithLabelValues("failed").Inc()

	s.notify(ctx, plan, entities.PlanEventFailed)
	if paused {
		s.logger.Warn("Plan paused after consecutive failures",
			"plan_id", plan.ID.String(),
			"failure_count", plan.FailureCount)
		s.notify(ctx, plan, entities.PlanEventPaused)
	}

	return cause
}

func (s *Service) transition(ctx context.Context, planID uuid.UUID, target entities.PlanStatus, event string) (*entities.RecurringPlan, error) {
	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if !plan.Status.CanTransitionTo(target) {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot move plan from %s to %s", plan.Status, target))
	}

	plan.Status = target
	plan.UpdatedAt = time.Now().UTC()

	if err := s.planRepo.Update(ctx, plan); err != nil {
		return nil, fmt.Errorf("update plan status: %w", err)
	}

	s.logger.Info("Plan status changed", "plan_id", planID.String(), "status", string(target))
	s.notify(ctx, plan, event)

	return plan, nil
}

func (s *Service) notify(ctx context.Context, plan *entities.RecurringPlan, event string) {
	if err := s.notifier.Notify(ctx, plan.OwnerID, event, plan); err != nil {
		s.logger.Warn("Notification delivery failed",
			"plan_id", plan.ID.String(),
			"event", event,
			"error", err)
	}
}

func validateCreate(req *CreatePlanRequest) error {
	if req.OwnerID == uuid.Nil {
		return errors.ValidationError("owner id is required")
	}
	if req.Asset == "" {
		return errors.ValidationError("asset is required")
	}
	if req.Venue == "" {
		return errors.ValidationError("venue is required")
	}
	if req.PayerRef == "" {
		return errors.ValidationError("payer reference is required")
	}
	if !req.Amount.IsPositive() {
		return errors.ValidationError("amount must be positive")
	}
	if !req.Frequency.Valid() {
		return errors.ValidationError(fmt.Sprintf("unknown frequency %q", req.Frequency))
	}
	if req.GoalAmount != nil && !req.GoalAmount.IsPositive() {
		return errors.ValidationError("goal amount must be positive")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.StartAt.IsZero() {
		req.StartAt = time.Now().UTC()
	}
	return nil
}

func planClaimKey(planID uuid.UUID) string {
	return "sip:claim:" + planID.String()
}
