package backtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
)

// MockRunStore is a mock implementation of RunStore
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) Save(ctx context.Context, run *entities.BacktestRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.BacktestRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.BacktestRun), args.Error(1)
}

func (m *MockRunStore) ListByStrategy(ctx context.Context, strategyID string, limit int) ([]*entities.BacktestRun, error) {
	args := m.Called(ctx, strategyID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.BacktestRun), args.Error(1)
}

// MockCandleSource is a mock implementation of CandleSource
type MockCandleSource struct {
	mock.Mock
}

func (m *MockCandleSource) HistoricalCandles(ctx context.Context, asset, timeframe string, limit int) ([]entities.Candle, error) {
	args := m.Called(ctx, asset, timeframe, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Candle), args.Error(1)
}

func newTestBacktestService(store RunStore) *Service {
	return newTestBacktestServiceWithFeed(store, new(MockCandleSource))
}

func newTestBacktestServiceWithFeed(store RunStore, candles CandleSource) *Service {
	return NewService(testSimulator(), store, candles, logger.New("error", "test"))
}

func TestRunAndArchivePersistsRun(t *testing.T) {
	store := new(MockRunStore)
	svc := newTestBacktestService(store)

	store.On("Save", mock.Anything, mock.MatchedBy(func(run *entities.BacktestRun) bool {
		return run.StrategyID == StrategyRSIReversion && run.Symbol == "BTC"
	})).Return(nil)

	run, err := svc.RunAndArchive(context.Background(), "BTC", flatDropRise(), DefaultRuleConfig(), 10000)
	require.NoError(t, err)

	assert.Equal(t, "BTC", run.Symbol)
	assert.NotEmpty(t, run.TradeLog)
	store.AssertExpectations(t)
}

func TestRunAndArchiveRejectsBadRuleConfig(t *testing.T) {
	store := new(MockRunStore)
	svc := newTestBacktestService(store)

	cfg := DefaultRuleConfig()
	cfg.Strategy = "martingale"

	_, err := svc.RunAndArchive(context.Background(), "BTC", flatDropRise(), cfg, 10000)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRunAndArchivePropagatesStoreFailure(t *testing.T) {
	store := new(MockRunStore)
	svc := newTestBacktestService(store)

	store.On("Save", mock.Anything, mock.Anything).Return(fmt.Errorf("connection reset"))

	_, err := svc.RunAndArchive(context.Background(), "BTC", flatDropRise(), DefaultRuleConfig(), 10000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive backtest run")
}

func TestListRunsDefaultsLimit(t *testing.T) {
	store := new(MockRunStore)
	svc := newTestBacktestService(store)

	store.On("ListByStrategy", mock.Anything, StrategyRSIReversion, defaultListLimit).
		Return([]*entities.BacktestRun{}, nil)

	_, err := svc.ListRuns(context.Background(), StrategyRSIReversion, 0)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestListRunsRequiresStrategy(t *testing.T) {
	store := new(MockRunStore)
	svc := newTestBacktestService(store)

	_, err := svc.ListRuns(context.Background(), "", 10)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}

func TestGetRunDelegatesToStore(t *testing.T) {
	store := new(MockRunStore)
	svc := newTestBacktestService(store)

	id := uuid.New()
	stored := &entities.BacktestRun{ID: id, StrategyID: StrategyRSIReversion}
	store.On("GetByID", mock.Anything, id).Return(stored, nil)

	run, err := svc.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
}

func TestRunFromFeedFetchesSeries(t *testing.T) {
	store := new(MockRunStore)
	feed := new(MockCandleSource)
	svc := newTestBacktestServiceWithFeed(store, feed)

	feed.On("HistoricalCandles", mock.Anything, "BTC", "4h", 120).
		Return(flatDropRise(), nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	run, err := svc.RunFromFeed(context.Background(), "BTC", "4h", 120, DefaultRuleConfig(), 10000)
	require.NoError(t, err)

	assert.Equal(t, "BTC", run.Symbol)
	assert.NotEmpty(t, run.TradeLog)
	feed.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunFromFeedSourceFailure(t *testing.T) {
	store := new(MockRunStore)
	feed := new(MockCandleSource)
	svc := newTestBacktestServiceWithFeed(store, feed)

	feed.On("HistoricalCandles", mock.Anything, "BTC", "4h", 120).
		Return(nil, errors.PriceUnavailable("provider down"))

	_, err := svc.RunFromFeed(context.Background(), "BTC", "4h", 120, DefaultRuleConfig(), 10000)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePriceUnavailable))
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRunFromFeedRequiresLookback(t *testing.T) {
	store := new(MockRunStore)
	feed := new(MockCandleSource)
	svc := newTestBacktestServiceWithFeed(store, feed)

	_, err := svc.RunFromFeed(context.Background(), "BTC", "4h", 0, DefaultRuleConfig(), 10000)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
	feed.AssertNotCalled(t, "HistoricalCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
