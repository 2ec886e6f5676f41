package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LongTermHoldingDays is the minimum holding period for long-term
// gain classification
const LongTermHoldingDays = 365

// TaxLot records one purchase. Lots form a per-(owner, asset) FIFO
// queue ordered by OpenedAt; sells consume them front to back.
type TaxLot struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OwnerID    uuid.UUID       `json:"owner_id" db:"owner_id"`
	Asset      string          `json:"asset" db:"asset"`
	OpenAmount decimal.Decimal `json:"open_amount" db:"open_amount"`
	UnitCost   decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// RealizedGainEvent is emitted for each lot span consumed by a sell.
// Immutable once created; aggregated into yearly tax summaries.
type RealizedGainEvent struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	OwnerID            uuid.UUID       `json:"owner_id" db:"owner_id"`
	Asset              string          `json:"asset" db:"asset"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	BuyPrice           decimal.Decimal `json:"buy_price" db:"buy_price"`
	SellPrice          decimal.Decimal `json:"sell_price" db:"sell_price"`
	GainLoss           decimal.Decimal `json:"gain_loss" db:"gain_loss"`
	HoldingPeriodDays  int             `json:"holding_period_days" db:"holding_period_days"`
	IsLongTerm         bool            `json:"is_long_term" db:"is_long_term"`
	SoldAt             time.Time       `json:"sold_at" db:"sold_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// TaxYearSummary aggregates realized gains for one owner and tax year
type TaxYearSummary struct {
	OwnerID         uuid.UUID       `json:"owner_id" db:"owner_id"`
	TaxYear         int             `json:"tax_year" db:"tax_year"`
	ShortTermGains  decimal.Decimal `json:"short_term_gains" db:"short_term_gains"`
	ShortTermLosses decimal.Decimal `json:"short_term_losses" db:"short_term_losses"`
	LongTermGains   decimal.Decimal `json:"long_term_gains" db:"long_term_gains"`
	LongTermLosses  decimal.Decimal `json:"long_term_losses" db:"long_term_losses"`
	EventCount      int             `json:"event_count" db:"event_count"`
}
