package ledger

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

// PositionRepository persists positions, tax lots and realized gains.
// SaveTrade must apply all of its arguments in a single transaction.
type PositionRepository interface {
	GetPosition(ctx context.Context, ownerID uuid.UUID, asset, venue string) (*entities.Position, error)
	ListPositions(ctx context.Context, ownerID uuid.UUID) ([]*entities.Position, error)
	ListAllPositions(ctx context.Context) ([]*entities.Position, error)
	GetOpenLots(ctx context.Context, ownerID uuid.UUID, asset string) ([]*entities.TaxLot, error)
	SumOpenLots(ctx context.Context, ownerID uuid.UUID, asset string) (decimal.Decimal, error)
	SaveTrade(ctx context.Context, position *entities.Position, newLot *entities.TaxLot, consumedLots []*entities.TaxLot, gains []*entities.RealizedGainEvent) error
	GetTaxYearSummary(ctx context.Context, ownerID uuid.UUID, year int) (*entities.TaxYearSummary, error)
}

// PriceFeed provides spot prices for marking positions to market
type PriceFeed interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// ReconciliationReport compares a position's amount against the sum of
// its open tax lots
type ReconciliationReport struct {
	OwnerID        uuid.UUID       `json:"owner_id"`
	Asset          string          `json:"asset"`
	Venue          string          `json:"venue"`
	PositionAmount decimal.Decimal `json:"position_amount"`
	LotTotal       decimal.Decimal `json:"lot_total"`
	Consistent     bool            `json:"consistent"`
}

// Service is the position and tax-lot accounting engine. Unrealized
// P&L uses the weighted-average cost basis kept on the position;
// realized gains use FIFO lot matching. Trades for the same
// (owner, asset, venue) are applied strictly one at a time.
type Service struct {
	positionRepo PositionRepository
	priceFeed    PriceFeed
	logger       *logger.Logger
	tradeLocks   *keyedMutex
}

// NewService creates a new ledger service
func NewService(positionRepo PositionRepository, priceFeed PriceFeed, logger *logger.Logger) *Service {
	return &Service{
		positionRepo: positionRepo,
		priceFeed:    priceFeed,
		logger:       logger,
		tradeLocks:   newKeyedMutex(),
	}
}

// ApplyTrade applies a buy or sell to the owner's position. Buys fold
// into the weighted-average cost and open a new tax lot; sells reduce
// the amount, consume lots front to back and emit realized gain
// events. Position, lots and gains are persisted atomically.
func (s *Service) ApplyTrade(ctx context.Context, req entities.TradeRequest) (*entities.TradeResult, error) {
	started := time.Now()

	if err := validateTrade(&req); err != nil {
		return nil, err
	}

	key := tradeKey(req.OwnerID, req.Asset, req.Venue)
	s.tradeLocks.Lock(key)
	defer s.tradeLocks.Unlock(key)

	position, err := s.positionRepo.GetPosition(ctx, req.OwnerID, req.Asset, req.Venue)
	if err != nil && !errors.HasCode(err, errors.ErrCodePositionNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}

	var result *entities.TradeResult
	switch req.Side {
	case entities.TradeSideBuy:
		result, err = s.applyBuy(ctx, position, req)
	case entities.TradeSideSell:
		result, err = s.applySell(ctx, position, req)
	}
	if err != nil {
		return nil, err
	}

	metrics.TradesApplied.WithLabelValues(string(req.Side), req.Asset, req.Venue).Inc()
	metrics.TradeApplyDuration.Observe(time.Since(started).Seconds())

	s.logger.Info("Trade applied",
		"owner_id", req.OwnerID.String(),
		"asset", req.Asset,
		"venue", req.Venue,
		"side", string(req.Side),
		"quantity", req.Quantity.String(),
		"price", req.Price.String())

	return result, nil
}

func (s *Service) applyBuy(ctx context.Context, position *entities.Position, req entities.TradeRequest) (*entities.TradeResult, error) {
	now := time.Now().UTC()

	if position == nil {
		position = &entities.Position{
			ID:        uuid.New(),
			OwnerID:   req.OwnerID,
			Asset:     req.Asset,
			Venue:     req.Venue,
			Amount:    decimal.Zero,
			CreatedAt: now,
		}
	}

	position.ApplyBuy(req.Quantity, req.Price)
	position.CurrentPrice = req.Price
	position.UpdatedAt = now

	lot := &entities.TaxLot{
		ID:         uuid.New(),
		OwnerID:    req.OwnerID,
		Asset:      req.Asset,
		OpenAmount: req.Quantity,
		UnitCost:   req.Price,
		OpenedAt:   req.TradedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.positionRepo.SaveTrade(ctx, position, lot, nil, nil); err != nil {
		return nil, fmt.Errorf("persist buy: %w", err)
	}

	return &entities.TradeResult{Position: position}, nil
}

func (s *Service) applySell(ctx context.Context, position *entities.Position, req entities.TradeRequest) (*entities.TradeResult, error) {
	if position == nil || position.Amount.LessThan(req.Quantity) {
		held := decimal.Zero
		if position != nil {
			held = position.Amount
		}
		return nil, errors.InsufficientHoldings(
			fmt.Sprintf("sell of %s %s exceeds held amount %s", req.Quantity.String(), req.Asset, held.String())).
			AddDetail("owner_id", req.OwnerID.String()).
			AddDetail("asset", req.Asset)
	}

	lots, err := s.positionRepo.GetOpenLots(ctx, req.OwnerID, req.Asset)
	if err != nil {
		return nil, fmt.Errorf("load open lots: %w", err)
	}

	gains, consumed, err := consumeLots(lots, req)
	if err != nil {
		s.logger.Error("Sell rejected by lot matcher",
			"error", err,
			"owner_id", req.OwnerID.String(),
			"asset", req.Asset)
		metrics.ReconciliationMismatches.Inc()
		return nil, err
	}

	position.ApplySell(req.Quantity)
	position.CurrentPrice = req.Price
	position.UpdatedAt = time.Now().UTC()

	if err := s.positionRepo.SaveTrade(ctx, position, nil, consumed, gains); err != nil {
		return nil, fmt.Errorf("persist sell: %w", err)
	}

	for _, gain := range gains {
		term := "short"
		if gain.IsLongTerm {
			term = "long"
		}
		metrics.RealizedGains.WithLabelValues(gain.Asset, term).Inc()
	}

	return &entities.TradeResult{Position: position, RealizedGains: gains}, nil
}

// GetPosition returns the position marked to the current market price.
// When the price feed is unavailable the last stored price is kept.
func (s *Service) GetPosition(ctx context.Context, ownerID uuid.UUID, asset, venue string) (*entities.Position, error) {
	position, err := s.positionRepo.GetPosition(ctx, ownerID, asset, venue)
	if err != nil {
		return nil, err
	}

	s.markToMarket(ctx, position)
	return position, nil
}

// ListPositions returns all of the owner's positions marked to market
func (s *Service) ListPositions(ctx context.Context, ownerID uuid.UUID) ([]*entities.Position, error) {
	positions, err := s.positionRepo.ListPositions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	for _, position := range positions {
		s.markToMarket(ctx, position)
	}
	return positions, nil
}

// Reconcile checks that the position amount equals the sum of its open
// tax lots. A mismatch indicates ledger corruption and is reported,
// never repaired automatically.
func (s *Service) Reconcile(ctx context.Context, ownerID uuid.UUID, asset, venue string) (*ReconciliationReport, error) {
	position, err := s.positionRepo.GetPosition(ctx, ownerID, asset, venue)
	if err != nil {
		return nil, err
	}

	lotTotal, err := s.positionRepo.SumOpenLots(ctx, ownerID, asset)
	if err != nil {
		return nil, fmt.Errorf("sum open lots: %w", err)
	}

	report := &ReconciliationReport{
		OwnerID:        ownerID,
		Asset:          asset,
		Venue:          venue,
		PositionAmount: position.Amount,
		LotTotal:       lotTotal,
		Consistent:     position.Amount.Equal(lotTotal),
	}

	if !report.Consistent {
		metrics.ReconciliationMismatches.Inc()
		s.logger.Error("Ledger reconciliation mismatch",
			"owner_id", ownerID.String(),
			"asset", asset,
			"position_amount", position.Amount.String(),
			"lot_total", lotTotal.String())
	}

	return report, nil
}

// ReconcileAll runs the reconciliation check over every open position.
// It keeps going past per-position failures so a single bad row cannot
// mask corruption elsewhere.
func (s *Service) ReconcileAll(ctx context.Context) ([]*ReconciliationReport, error) {
	positions, err := s.positionRepo.ListAllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	reports := make([]*ReconciliationReport, 0, len(positions))
	mismatches := 0
	for _, position := range positions {
		select {
		case <-ctx.Done():
			return reports, ctx.Err()
		default:
		}

		report, err := s.Reconcile(ctx, position.OwnerID, position.Asset, position.Venue)
		if err != nil {
			s.logger.Error("Reconciliation check failed",
				"owner_id", position.OwnerID.String(),
				"asset", position.Asset,
				"error", err)
			continue
		}
		if !report.Consistent {
			mismatches++
		}
		reports = append(reports, report)
	}

	s.logger.Info("Reconciliation sweep completed",
		"positions_checked", len(reports),
		"mismatches", mismatches)

	return reports, nil
}

// GetTaxYearSummary aggregates the owner's realized gains for a year
func (s *Service) GetTaxYearSummary(ctx context.Context, ownerID uuid.UUID, year int) (*entities.TaxYearSummary, error) {
	if year < 2009 || year > time.Now().Year() {
		return nil, errors.ValidationError(fmt.Sprintf("invalid tax year %d", year))
	}

	summary, err := s.positionRepo.GetTaxYearSummary(ctx, ownerID, year)
	if err != nil {
		return nil, fmt.Errorf("get tax year summary: %w", err)
	}
	return summary, nil
}

func (s *Service) markToMarket(ctx context.Context, position *entities.Position) {
	price, err := s.priceFeed.GetPrice(ctx, position.Asset)
	if err != nil {
		s.logger.Warn("Price feed unavailable, keeping stored price",
			"asset", position.Asset,
			"error", err)
		return
	}
	position.CurrentPrice = price
}

func validateTrade(req *entities.TradeRequest) error {
	if req.OwnerID == uuid.Nil {
		return errors.ValidationError("owner id is required")
	}
	if req.Asset == "" {
		return errors.ValidationError("asset is required")
	}
	if req.Venue == "" {
		return errors.ValidationError("venue is required")
	}
	if req.Side != entities.TradeSideBuy && req.Side != entities.TradeSideSell {
		return errors.ValidationError(fmt.Sprintf("unknown trade side %q", req.Side))
	}
	if !req.Quantity.IsPositive() {
		return errors.ValidationError("quantity must be positive")
	}
	if !req.Price.IsPositive() {
		return errors.ValidationError("price must be positive")
	}
	if req.TradedAt.IsZero() {
		req.TradedAt = time.Now().UTC()
	}
	return nil
}

func tradeKey(ownerID uuid.UUID, asset, venue string) string {
	return ownerID.String() + "|" + asset + "|" + venue
}
