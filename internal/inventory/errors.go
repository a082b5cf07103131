package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/shared"
)

// ErrInsufficientStock is matched by every InsufficientStockError.
var ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrBusinessRule)

// ErrConcurrentUpdate is returned when a balance changed between read and conditional write.
var ErrConcurrentUpdate = fmt.Errorf("inventory: balance changed concurrently: %w", shared.ErrConflict)

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory balance not found")

// InsufficientStockError describes a debit that would drive a balance negative.
type InsufficientStockError struct {
	Location  LocationKey
	ProductID int64
	OnHand    decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock at %s for product %d: on hand %s, requested %s, short by %s",
		e.Location, e.ProductID, e.OnHand.StringFixed(QtyPlaces), e.Requested.StringFixed(QtyPlaces), e.Shortfall.StringFixed(QtyPlaces))
}

// Unwrap lets errors.Is match ErrInsufficientStock and shared.ErrBusinessRule.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
