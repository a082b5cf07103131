package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/shared"
)

// QtyPlaces is the number of fractional digits kept for every stock quantity.
const QtyPlaces = 3

// Round normalises a quantity to QtyPlaces fractional digits.
func Round(qty decimal.Decimal) decimal.Decimal {
	return qty.Round(QtyPlaces)
}

// LocationType distinguishes own branches from consignment partners.
type LocationType string

const (
	// LocationBranch is a shop branch owned by the business.
	LocationBranch LocationType = "BRANCH"
	// LocationConsignment is a consignment partner holding our goods.
	LocationConsignment LocationType = "CONSIGNMENT"
)

// IsValid reports whether the type is known.
func (t LocationType) IsValid() bool {
	return t == LocationBranch || t == LocationConsignment
}

// ParseLocationType accepts the canonical names plus the lower-case URL forms.
func ParseLocationType(s string) (LocationType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BRANCH", "BRANCHES":
		return LocationBranch, nil
	case "CONSIGNMENT", "PARTNER", "PARTNERS":
		return LocationConsignment, nil
	default:
		return "", shared.NewValidationError("location_type", fmt.Sprintf("must be BRANCH or CONSIGNMENT, got %q", s))
	}
}

// LocationKey identifies one stock-holding location.
type LocationKey struct {
	Type LocationType `json:"type"`
	ID   int64        `json:"id"`
}

// Branch returns the key of a branch.
func Branch(id int64) LocationKey {
	return LocationKey{Type: LocationBranch, ID: id}
}

// Partner returns the key of a consignment partner.
func Partner(id int64) LocationKey {
	return LocationKey{Type: LocationConsignment, ID: id}
}

func (k LocationKey) String() string {
	return fmt.Sprintf("%s#%d", k.Type, k.ID)
}

// Validate checks the key resolves to a known type and a positive id.
func (k LocationKey) Validate() error {
	if !k.Type.IsValid() {
		return shared.NewValidationError("location_type", fmt.Sprintf("unknown location type %q", k.Type))
	}
	if k.ID <= 0 {
		return shared.NewValidationError("location_id", "must be a positive integer")
	}
	return nil
}

// Move is the direction of a ledger entry.
type Move string

const (
	// MoveIn credits a location.
	MoveIn Move = "IN"
	// MoveOut debits a location.
	MoveOut Move = "OUT"
)

// Balance is the running on-hand quantity of one product at one location.
type Balance struct {
	Location  LocationKey     `json:"location"`
	ProductID int64           `json:"product_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LedgerEntry is one immutable side of one stock movement.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	At        time.Time       `json:"at"`
	Move      Move            `json:"move"`
	Location  LocationKey     `json:"location"`
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	RefType   string          `json:"ref_type"`
	RefID     int64           `json:"ref_id"`
	Note      string          `json:"note,omitempty"`
	PostingID uuid.UUID       `json:"posting_id"`
	ActorID   int64           `json:"actor_id,omitempty"`
}

// Signed returns the quantity with the sign implied by Move.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Move == MoveOut {
		return e.Qty.Neg()
	}
	return e.Qty
}

// LedgerFilter narrows ledger queries.
type LedgerFilter struct {
	Location  *LocationKey
	ProductID int64
	RefType   string
	RefID     int64
	From      time.Time
	To        time.Time
	Limit     int
}

// ManualAdjustment corrects a balance outside of a delivery, e.g. after a stock count.
type ManualAdjustment struct {
	Location  LocationKey
	ProductID int64
	Delta     decimal.Decimal
	RefID     int64
	Note      string
	ActorID   int64
}

// Drift reports a balance that disagrees with the net of its ledger entries.
type Drift struct {
	ProductID int64           `json:"product_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	LedgerNet decimal.Decimal `json:"ledger_net"`
	Diff      decimal.Decimal `json:"diff"`
}

const (
	// RefTypeDelivery tags entries written by delivery postings.
	RefTypeDelivery = "delivery"
	// RefTypeAdjustment tags entries written by manual adjustments.
	RefTypeAdjustment = "adjustment"
)
