package delivery

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/shared"
)

// ============================================================================
// DELIVERY STATUS
// ============================================================================

// Status represents the lifecycle of a consignment delivery.
type Status string

const (
	StatusDraft     Status = "DRAFT"     // Created, nothing moved yet
	StatusSent      Status = "SENT"      // Goods on the way
	StatusReceived  Status = "RECEIVED"  // Receipt confirmed, stock posted
	StatusCancelled Status = "CANCELLED" // Abandoned before receipt
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusReceived, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanReceive checks if receipt may be confirmed in this status.
func (s Status) CanReceive() bool {
	return s == StatusDraft || s == StatusSent
}

// CanCancel checks if the delivery can still be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusDraft || s == StatusSent
}

func (s Status) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusSent:
		return 1
	case StatusReceived:
		return 2
	default:
		return -1
	}
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	ErrNotFound = fmt.Errorf("delivery not found: %w", shared.ErrNotFound)
	// ErrAlreadyPosted guards against posting the same delivery twice.
	ErrAlreadyPosted = fmt.Errorf("delivery already received: %w", shared.ErrConflict)
	ErrInvalidStatus = fmt.Errorf("invalid delivery status transition: %w", shared.ErrConflict)
	// ErrReceiptNotConfirmed rejects mirroring RECEIVED onto a delivery whose stock was never posted.
	ErrReceiptNotConfirmed = fmt.Errorf("delivery receipt not confirmed: %w", shared.ErrConflict)
	ErrUnknownLine         = fmt.Errorf("delivery line does not belong to delivery: %w", shared.ErrValidation)
)

// ============================================================================
// ENTITIES
// ============================================================================

// Delivery is a transfer of goods between a branch and a consignment partner.
type Delivery struct {
	ID         int64
	Mode       Mode
	Status     Status
	Note       string
	CreatedBy  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ReceivedAt *time.Time
	Lines      []Line
}

// Line is one product moved by a delivery.
type Line struct {
	ID          int64
	LineNo      int
	ProductID   int64
	Qty         decimal.Decimal
	QtyReceived *decimal.Decimal
}

// EffectiveQty is the received quantity when recorded, the shipped quantity otherwise.
func (l Line) EffectiveQty() decimal.Decimal {
	if l.QtyReceived != nil {
		return inventory.Round(*l.QtyReceived)
	}
	return inventory.Round(l.Qty)
}

// CreateInput carries the data needed to record a new delivery.
type CreateInput struct {
	Mode    Mode
	Note    string
	Lines   []LineInput
	ActorID int64
}

// LineInput is a requested line of a new delivery.
type LineInput struct {
	ProductID int64
	Qty       decimal.Decimal
}

// ReceiveInput confirms the receipt of a delivery.
type ReceiveInput struct {
	DeliveryID int64
	// Received overrides the shipped quantity per line id. Lines absent from the map
	// are received in full.
	Received       map[int64]decimal.Decimal
	ActorID        int64
	IdempotencyKey string
}

// ReceiveResult is the outcome of a confirmed receipt.
type ReceiveResult struct {
	Delivery Delivery
	Posting  PostingResult
}
