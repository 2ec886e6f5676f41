package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanFrequency is the cadence of a recurring investment plan
type PlanFrequency string

const (
	FrequencyDaily   PlanFrequency = "DAILY"
	FrequencyWeekly  PlanFrequency = "WEEKLY"
	FrequencyMonthly PlanFrequency = "MONTHLY"
)

// Valid reports whether the frequency is one of the supported cadences
func (f PlanFrequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// NextAfter advances a due time by one period. Advancing from the
// previous due time, not from now, keeps schedules from drifting.
func (f PlanFrequency) NextAfter(t time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	}
	return t
}

// PlanStatus is the lifecycle state of a recurring investment plan
type PlanStatus string

const (
	PlanStatusActive       PlanStatus = "ACTIVE"
	PlanStatusPaused       PlanStatus = "PAUSED"
	PlanStatusCancelled    PlanStatus = "CANCELLED"
	PlanStatusGoalAchieved PlanStatus = "GOAL_ACHIEVED"
)

// CanTransitionTo enforces the plan state machine. CANCELLED and
// GOAL_ACHIEVED are terminal.
func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	switch s {
	case PlanStatusActive:
		return target == PlanStatusActive || target == PlanStatusPaused ||
			target == PlanStatusCancelled || target == PlanStatusGoalAchieved
	case PlanStatusPaused:
		return target == PlanStatusActive || target == PlanStatusCancelled
	}
	return false
}

// MaxConsecutiveFailures is the failure count at which a plan is
// automatically paused
const MaxConsecutiveFailures = 3

// RecurringPlan converts a fixed fiat amount into an asset purchase on
// a schedule (systematic investment plan)
type RecurringPlan struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	OwnerID       uuid.UUID        `json:"owner_id" db:"owner_id"`
	Asset         string           `json:"asset" db:"asset"`
	Venue         string           `json:"venue" db:"venue"`
	Currency      string           `json:"currency" db:"currency"`
	Amount        decimal.Decimal  `json:"amount" db:"amount"`
	Frequency     PlanFrequency    `json:"frequency" db:"frequency"`
	Status        PlanStatus       `json:"status" db:"status"`
	PayerRef      string           `json:"payer_ref" db:"payer_ref"`
	GoalAmount    *decimal.Decimal `json:"goal_amount,omitempty" db:"goal_amount"`
	NextExecution time.Time        `json:"next_execution" db:"next_execution"`
	ScheduledSlot time.Time        `json:"scheduled_slot" db:"scheduled_slot"`
	TotalInvested decimal.Decimal  `json:"total_invested" db:"total_invested"`
	TotalAssetQty decimal.Decimal  `json:"total_asset_qty" db:"total_asset_qty"`
	AveragePrice  decimal.Decimal  `json:"average_price" db:"average_price"`
	FailureCount  int              `json:"failure_count" db:"failure_count"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// RecordExecution folds a successful purchase into the plan totals and
// advances the schedule. The slot only moves forward here: retries of a
// failed slot keep the original ScheduledSlot so downstream idempotency
// keys stay stable across attempts.
func (p *RecurringPlan) RecordExecution(spent, purchasedQty decimal.Decimal) {
	p.TotalInvested = p.TotalInvested.Add(spent)
	p.TotalAssetQty = p.TotalAssetQty.Add(purchasedQty)
	if !p.TotalAssetQty.IsZero() {
		p.AveragePrice = p.TotalInvested.Div(p.TotalAssetQty)
	}
	p.FailureCount = 0
	p.ScheduledSlot = p.Frequency.NextAfter(p.ScheduledSlot)
	p.NextExecution = p.ScheduledSlot
}

// GoalReached reports whether the plan's holdings at the given price
// meet the configured goal
func (p *RecurringPlan) GoalReached(price decimal.Decimal) bool {
	if p.GoalAmount == nil {
		return false
	}
	return p.TotalAssetQty.Mul(price).GreaterThanOrEqual(*p.GoalAmount)
}

// PlanEvent types consumed by the notification sink
const (
	PlanEventExecuted     = "plan.executed"
	PlanEventFailed       = "plan.payment_failed"
	PlanEventPaused       = "plan.paused"
	PlanEventGoalAchieved = "plan.goal_achieved"
	PlanEventCancelled    = "plan.cancelled"
)
