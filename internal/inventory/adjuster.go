package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/shared"
)

// Observer receives stock events for metrics.
type Observer interface {
	StockRejected(locationType string)
}

// Adjuster applies signed deltas to balances. It never opens a transaction itself:
// callers pass the TxRepository bound to their transaction.
type Adjuster struct {
	observer Observer
}

// NewAdjuster builds an Adjuster. observer may be nil.
func NewAdjuster(observer Observer) *Adjuster {
	return &Adjuster{observer: observer}
}

// Adjust locks (creating when absent) the balance row for loc/productID, adds delta
// rounded to QtyPlaces and persists the result. A result below zero fails with
// *InsufficientStockError and nothing is written.
func (a *Adjuster) Adjust(ctx context.Context, tx TxRepository, loc LocationKey, productID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := loc.Validate(); err != nil {
		return decimal.Zero, err
	}
	if productID <= 0 {
		return decimal.Zero, shared.NewValidationError("product_id", "must be a positive integer")
	}
	delta = Round(delta)

	balance, err := tx.LocateBalanceForUpdate(ctx, loc, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("locate balance %s/%d: %w", loc, productID, err)
	}

	next := Round(balance.OnHand.Add(delta))
	if next.IsNegative() {
		if a.observer != nil {
			a.observer.StockRejected(string(loc.Type))
		}
		return balance.OnHand, &InsufficientStockError{
			Location:  loc,
			ProductID: productID,
			OnHand:    balance.OnHand,
			Requested: delta.Neg(),
			Shortfall: next.Neg(),
		}
	}

	if err := tx.UpdateOnHand(ctx, loc, productID, balance.OnHand, next); err != nil {
		return balance.OnHand, fmt.Errorf("update balance %s/%d: %w", loc, productID, err)
	}
	return next, nil
}
