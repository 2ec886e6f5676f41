package sip

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
)

// MockPlanRepository is a mock implementation of PlanRepository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) Create(ctx context.Context, plan *entities.RecurringPlan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RecurringPlan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RecurringPlan), args.Error(1)
}

func (m *MockPlanRepository) Update(ctx context.Context, plan *entities.RecurringPlan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*entities.RecurringPlan, error) {
	args := m.Called(ctx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.RecurringPlan), args.Error(1)
}

// MockPaymentGateway is a mock implementation of PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Charge(ctx context.Context, payerRef string, amount decimal.Decimal, currency, idempotencyKey string) (string, error) {
	args := m.Called(ctx, payerRef, amount, currency, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentGateway) RevokeMandate(ctx context.Context, payerRef string) error {
	args := m.Called(ctx, payerRef)
	return args.Error(0)
}

// MockPriceFeed is a mock implementation of PriceFeed
type MockPriceFeed struct {
	mock.Mock
}

func (m *MockPriceFeed) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockLedger is a mock implementation of Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) ApplyTrade(ctx context.Context, req entities.TradeRequest) (*entities.TradeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TradeResult), args.Error(1)
}

// MockNotificationSink is a mock implementation of NotificationSink
type MockNotificationSink struct {
	mock.Mock
}

func (m *MockNotificationSink) Notify(ctx context.Context, ownerID uuid.UUID, event string, plan *entities.RecurringPlan) error {
	args := m.Called(ctx, ownerID, event, plan)
	return args.Error(0)
}

// MockPlanLocker is a mock implementation of PlanLocker
type MockPlanLocker struct {
	mock.Mock
}

func (m *MockPlanLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockPlanLocker) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// inlineTransactor runs the function in place, standing in for the
// database transaction manager
type inlineTransactor struct{}

func (inlineTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testDeps struct {
	repo     *MockPlanRepository
	payments *MockPaymentGateway
	prices   *MockPriceFeed
	ledger   *MockLedger
	notifier *MockNotificationSink
	locker   *MockPlanLocker
}

func newTestService() (*Service, *testDeps) {
	deps := &testDeps{
		repo:     new(MockPlanRepository),
		payments: new(MockPaymentGateway),
		prices:   new(MockPriceFeed),
		ledger:   new(MockLedger),
		notifier: new(MockNotificationSink),
		locker:   new(MockPlanLocker),
	}
	svc := NewService(
		deps.repo, deps.payments, deps.prices, deps.ledger,
		deps.notifier, deps.locker, inlineTransactor{},
		DefaultConfig(), logger.New("error", "test"))
	return svc, deps
}

func activePlan() *entities.RecurringPlan {
	due := time.Now().UTC().Add(-time.Minute)
	return &entities.RecurringPlan{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Asset:         "BTC",
		Venue:         "coinbase",
		Currency:      "USD",
		Amount:        decimal.RequireFromString("100"),
		Frequency:     entities.FrequencyDaily,
		Status:        entities.PlanStatusActive,
		PayerRef:      "pm_123",
		NextExecution: due,
		ScheduledSlot: due,
		TotalInvested: decimal.Zero,
		TotalAssetQty: decimal.Zero,
	}
}

func allowLock(deps *testDeps) {
	deps.locker.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	deps.locker.On("Release", mock.Anything, mock.Anything).Return(nil)
}

func TestCreatePlan(t *testing.T) {
	svc, deps := newTestService()
	deps.repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	plan, err := svc.CreatePlan(context.Background(), CreatePlanRequest{
		OwnerID:   uuid.New(),
		Asset:     "BTC",
		Venue:     "coinbase",
		Amount:    decimal.RequireFromString("50"),
		Frequency: entities.FrequencyWeekly,
		PayerRef:  "pm_123",
	})
	require.NoError(t, err)

	assert.Equal(t, entities.PlanStatusActive, plan.Status)
	assert.Equal(t, "USD", plan.Currency)
	assert.Zero(t, plan.FailureCount)
	assert.False(t, plan.NextExecution.IsZero())
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _ := newTestService()

	base := func() CreatePlanRequest {
		return CreatePlanRequest{
			OwnerID:   uuid.New(),
			Asset:     "BTC",
			Venue:     "coinbase",
			Amount:    decimal.RequireFromString("50"),
			Frequency: entities.FrequencyDaily,
			PayerRef:  "pm_123",
		}
	}

	negativeGoal := decimal.RequireFromString("-1")

	tests := []struct {
		name   string
		mutate func(*CreatePlanRequest)
	}{
		{"missing owner", func(r *CreatePlanRequest) { r.OwnerID = uuid.Nil }},
		{"missing asset", func(r *CreatePlanRequest) { r.Asset = "" }},
		{"missing venue", func(r *CreatePlanRequest) { r.Venue = "" }},
		{"missing payer", func(r *CreatePlanRequest) { r.PayerRef = "" }},
		{"zero amount", func(r *CreatePlanRequest) { r.Amount = decimal.Zero }},
		{"bad frequency", func(r *CreatePlanRequest) { r.Frequency = "HOURLY" }},
		{"negative goal", func(r *CreatePlanRequest) { r.GoalAmount = &negativeGoal }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)

			_, err := svc.CreatePlan(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
		})
	}
}

func TestPausePlan(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()

	deps.repo.On("GetByID", mock.Anything, plan.ID).Return(plan, nil)
	deps.repo.On("Update", mock.Anything, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventPaused, plan).Return(nil)

	got, err := svc.PausePlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PlanStatusPaused, got.Status)
}

func TestPausePlanInvalidFromTerminal(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	plan.Status = entities.PlanStatusCancelled

	deps.repo.On("GetByID", mock.Anything, plan.ID).Return(plan, nil)

	_, err := svc.PausePlan(context.Background(), plan.ID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition))
	deps.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestResumePlanResetsFailuresAndSchedule(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	plan.Status = entities.PlanStatusPaused
	plan.FailureCount = 3
	plan.NextExecution = time.Now().UTC().Add(-48 * time.Hour)

	deps.repo.On("GetByID", mock.Anything, plan.ID).Return(plan, nil)
	deps.repo.On("Update", mock.Anything, plan).Return(nil)

	got, err := svc.ResumePlan(context.Background(), plan.ID)
	require.NoError(t, err)

	assert.Equal(t, entities.PlanStatusActive, got.Status)
	assert.Zero(t, got.FailureCount)
	assert.WithinDuration(t, time.Now().UTC(), got.NextExecution, 5*time.Second)
	// Re-basing the slot keeps the resumed plan from replaying missed
	// periods under stale idempotency keys
	assert.Equal(t, got.NextExecution, got.ScheduledSlot)
}

func TestResumePlanFromGoalAchieved(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	plan.Status = entities.PlanStatusGoalAchieved

	deps.repo.On("GetByID", mock.Anything, plan.ID).Return(plan, nil)

	_, err := svc.ResumePlan(context.Background(), plan.ID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition))
}

func TestCancelPausedPlan(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	plan.Status = entities.PlanStatusPaused

	deps.repo.On("GetByID", mock.Anything, plan.ID).Return(plan, nil)
	deps.repo.On("Update", mock.Anything, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventCancelled, plan).Return(nil)
	deps.payments.On("RevokeMandate", mock.Anything, plan.PayerRef).Return(nil)

	got, err := svc.CancelPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PlanStatusCancelled, got.Status)
	deps.payments.AssertCalled(t, "RevokeMandate", mock.Anything, plan.PayerRef)
}

func TestExecuteDuePlansSuccess(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	scheduledAt := plan.ScheduledSlot

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.RequireFromString("50000"), nil)

	wantKey := fmt.Sprintf("%s:%d", plan.ID.String(), scheduledAt.Unix())
	deps.payments.On("Charge", mock.Anything, "pm_123", plan.Amount, "USD", wantKey).
		Return("pay_1", nil)

	deps.ledger.On("ApplyTrade", mock.Anything, mock.MatchedBy(func(req entities.TradeRequest) bool {
		return req.Side == entities.TradeSideBuy &&
			req.OwnerID == plan.OwnerID &&
			req.Quantity.Equal(decimal.RequireFromString("0.002")) &&
			req.Price.Equal(decimal.RequireFromString("50000"))
	})).Return(&entities.TradeResult{}, nil)

	deps.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventExecuted, plan).Return(nil)

	executed, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, executed)
	assert.Zero(t, failed)

	assert.True(t, plan.TotalInvested.Equal(decimal.RequireFromString("100")))
	assert.True(t, plan.TotalAssetQty.Equal(decimal.RequireFromString("0.002")))
	assert.Zero(t, plan.FailureCount)
	// The schedule advances from the scheduled slot, not from now
	assert.Equal(t, scheduledAt.AddDate(0, 0, 1), plan.ScheduledSlot)
	assert.Equal(t, plan.ScheduledSlot, plan.NextExecution)
	assert.Equal(t, entities.PlanStatusActive, plan.Status)
}

func TestExecuteDuePlansPaymentFailure(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.RequireFromString("50000"), nil)
	deps.payments.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", fmt.Errorf("card declined"))

	deps.repo.On("Update", mock.Anything, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventFailed, plan).Return(nil)

	executed, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, executed)
	assert.Equal(t, 1, failed)

	assert.Equal(t, 1, plan.FailureCount)
	assert.Equal(t, entities.PlanStatusActive, plan.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), plan.NextExecution, 5*time.Second)
	deps.ledger.AssertNotCalled(t, "ApplyTrade", mock.Anything, mock.Anything)
}

func TestExecuteDuePlansPausesAfterMaxFailures(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	plan.FailureCount = entities.MaxConsecutiveFailures - 1

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.Zero, errors.PriceUnavailable("feed down"))

	deps.repo.On("Update", mock.Anything, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventFailed, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventPaused, plan).Return(nil)

	_, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	assert.Equal(t, entities.MaxConsecutiveFailures, plan.FailureCount)
	assert.Equal(t, entities.PlanStatusPaused, plan.Status)
	deps.notifier.AssertCalled(t, "Notify", mock.Anything, plan.OwnerID, entities.PlanEventPaused, plan)
}

func TestExecuteDuePlansSuccessResetsFailureCount(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	plan.FailureCount = 2

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.RequireFromString("50000"), nil)
	deps.payments.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("pay_1", nil)
	deps.ledger.On("ApplyTrade", mock.Anything, mock.Anything).Return(&entities.TradeResult{}, nil)
	deps.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventExecuted, plan).Return(nil)

	executed, _, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, executed)
	assert.Zero(t, plan.FailureCount)
}

func TestExecuteDuePlansSkipsClaimedPlan(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	deps.locker.On("Acquire", mock.Anything, planClaimKey(plan.ID), mock.Anything).
		Return(false, nil)

	_, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	deps.payments.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	deps.ledger.AssertNotCalled(t, "ApplyTrade", mock.Anything, mock.Anything)
}

func TestExecuteDuePlansGoalAchieved(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	goal := decimal.RequireFromString("100")
	plan.GoalAmount = &goal

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	// A 100 USD buy at price 1 puts holdings exactly at the goal value
	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.RequireFromString("1"), nil)
	deps.payments.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("pay_1", nil)
	deps.ledger.On("ApplyTrade", mock.Anything, mock.Anything).Return(&entities.TradeResult{}, nil)
	deps.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventExecuted, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventGoalAchieved, plan).Return(nil)

	executed, _, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, executed)

	assert.Equal(t, entities.PlanStatusGoalAchieved, plan.Status)
	deps.notifier.AssertCalled(t, "Notify", mock.Anything, plan.OwnerID, entities.PlanEventGoalAchieved, plan)
}

func TestExecuteDuePlansEmptySweep(t *testing.T) {
	svc, deps := newTestService()

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{}, nil)

	executed, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, executed)
	assert.Zero(t, failed)
}

func TestCancelPlanSurvivesMandateRevocationFailure(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()

	deps.repo.On("GetByID", mock.Anything, plan.ID).Return(plan, nil)
	deps.repo.On("Update", mock.Anything, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventCancelled, plan).Return(nil)
	deps.payments.On("RevokeMandate", mock.Anything, plan.PayerRef).
		Return(fmt.Errorf("processor unavailable"))

	got, err := svc.CancelPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PlanStatusCancelled, got.Status)
}

func TestRetryAfterLedgerFailureReusesChargeKey(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	slot := plan.ScheduledSlot

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.RequireFromString("50000"), nil)

	var chargeKeys []string
	deps.payments.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { chargeKeys = append(chargeKeys, args.String(4)) }).
		Return("pay_1", nil)

	deps.ledger.On("ApplyTrade", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("ledger write failed")).Once()
	deps.ledger.On("ApplyTrade", mock.Anything, mock.Anything).
		Return(&entities.TradeResult{}, nil).Once()

	deps.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventFailed, plan).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventExecuted, plan).Return(nil)

	// First sweep: the charge settles but the ledger write fails, so
	// the slot stays put and only the retry time moves.
	_, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, slot, plan.ScheduledSlot)
	assert.True(t, plan.TotalInvested.IsZero())

	// Retry sweep: the charge presents the exact same idempotency key,
	// so the processor dedupes it and the payer is debited once.
	executed, _, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, executed)

	require.Len(t, chargeKeys, 2)
	assert.Equal(t, chargeKeys[0], chargeKeys[1])
	assert.Equal(t, fmt.Sprintf("%s:%d", plan.ID.String(), slot.Unix()), chargeKeys[0])
	assert.Equal(t, slot.AddDate(0, 0, 1), plan.ScheduledSlot)
}

func TestPlanUpdateFailureLeavesPlanOnItsSlot(t *testing.T) {
	svc, deps := newTestService()
	plan := activePlan()
	slot := plan.ScheduledSlot

	deps.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*entities.RecurringPlan{plan}, nil)
	allowLock(deps)

	deps.prices.On("GetPrice", mock.Anything, "BTC").
		Return(decimal.RequireFromString("50000"), nil)
	deps.payments.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("pay_1", nil)
	deps.ledger.On("ApplyTrade", mock.Anything, mock.Anything).Return(&entities.TradeResult{}, nil)

	// The reschedule write fails inside the transaction; the failure
	// bookkeeping write afterwards succeeds.
	deps.repo.On("Update", mock.Anything, mock.Anything).
		Return(fmt.Errorf("connection reset")).Once()
	deps.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	deps.notifier.On("Notify", mock.Anything, plan.OwnerID, entities.PlanEventFailed, plan).Return(nil)

	_, failed, err := svc.ExecuteDuePlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// The rolled-back execution leaves no trace on the plan itself
	assert.True(t, plan.TotalInvested.IsZero())
	assert.True(t, plan.TotalAssetQty.IsZero())
	assert.Equal(t, slot, plan.ScheduledSlot)
	assert.Equal(t, 1, plan.FailureCount)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), plan.NextExecution, 5*time.Second)
}
