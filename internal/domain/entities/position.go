package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeSide identifies the direction of a ledger trade
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Position tracks holdings of one asset for one owner on one venue.
// AverageCost is a weighted average across all open buys; sells reduce
// Amount but never move AverageCost. Realized gains use FIFO tax lots
// instead (dual-method design).
type Position struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OwnerID      uuid.UUID       `json:"owner_id" db:"owner_id"`
	Asset        string          `json:"asset" db:"asset"`
	Venue        string          `json:"venue" db:"venue"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	AverageCost  decimal.Decimal `json:"average_cost" db:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// MarketValue returns amount * current price
func (p *Position) MarketValue() decimal.Decimal {
	return p.Amount.Mul(p.CurrentPrice)
}

// UnrealizedPnL returns (current price - average cost) * amount
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AverageCost).Mul(p.Amount)
}

// ApplyBuy folds a purchase into the weighted-average cost basis
func (p *Position) ApplyBuy(quantity, price decimal.Decimal) {
	newAmount := p.Amount.Add(quantity)
	if newAmount.IsZero() {
		return
	}
	totalCost := p.Amount.Mul(p.AverageCost).Add(quantity.Mul(price))
	p.AverageCost = totalCost.Div(newAmount)
	p.Amount = newAmount
}

// ApplySell reduces the held amount; the cost basis is untouched
func (p *Position) ApplySell(quantity decimal.Decimal) {
	p.Amount = p.Amount.Sub(quantity)
}

// TradeRequest describes a single trade to apply to the ledger
type TradeRequest struct {
	OwnerID  uuid.UUID       `json:"owner_id"`
	Asset    string          `json:"asset"`
	Venue    string          `json:"venue"`
	Side     TradeSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	TradedAt time.Time       `json:"traded_at"`
}

// TradeResult is returned by the ledger after a trade is applied
type TradeResult struct {
	Position      *Position            `json:"position"`
	RealizedGains []*RealizedGainEvent `json:"realized_gains,omitempty"`
}
