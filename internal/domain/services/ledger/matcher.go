package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
)

// consumeLots matches a sell against the open lots front to back and
// emits one realized gain event per lot span consumed. Lots must be
// ordered by OpenedAt ascending. The lots are mutated in place; the
// returned slice holds only the lots touched by this sell.
//
// When the open lots cannot cover the sell quantity the whole sell is
// rejected and no lot is modified.
func consumeLots(lots []*entities.TaxLot, sell entities.TradeRequest) ([]*entities.RealizedGainEvent, []*entities.TaxLot, error) {
	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.OpenAmount)
	}
	if available.LessThan(sell.Quantity) {
		return nil, nil, errors.UnreconciledSale(
			fmt.Sprintf("sell of %s %s exceeds %s held across open lots",
				sell.Quantity.String(), sell.Asset, available.String())).
			AddDetail("owner_id", sell.OwnerID.String()).
			AddDetail("asset", sell.Asset)
	}

	remaining := sell.Quantity
	var gains []*entities.RealizedGainEvent
	var consumed []*entities.TaxLot

	for _, lot := range lots {
		if remaining.IsZero() {
			break
		}
		if lot.OpenAmount.IsZero() {
			continue
		}

		matched := decimal.Min(lot.OpenAmount, remaining)
		holdingDays := int(sell.TradedAt.Sub(lot.OpenedAt).Hours() / 24)

		gains = append(gains, &entities.RealizedGainEvent{
			ID:                uuid.New(),
			OwnerID:           sell.OwnerID,
			Asset:             sell.Asset,
			Amount:            matched,
			BuyPrice:          lot.UnitCost,
			SellPrice:         sell.Price,
			GainLoss:          sell.Price.Sub(lot.UnitCost).Mul(matched),
			HoldingPeriodDays: holdingDays,
			IsLongTerm:        holdingDays >= entities.LongTermHoldingDays,
			SoldAt:            sell.TradedAt,
			CreatedAt:         time.Now().UTC(),
		})

		lot.OpenAmount = lot.OpenAmount.Sub(matched)
		lot.UpdatedAt = time.Now().UTC()
		consumed = append(consumed, lot)
		remaining = remaining.Sub(matched)
	}

	return gains, consumed, nil
}
