package delivery

import (
	"fmt"
	"strings"

	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/shared"
)

// ModeName is the wire name of a delivery direction.
type ModeName string

const (
	ModeSend   ModeName = "SEND"
	ModeReturn ModeName = "RETURN"
)

var (
	ErrUnsupportedMode = fmt.Errorf("unsupported delivery mode: %w", shared.ErrValidation)
	ErrMissingPartner  = fmt.Errorf("delivery has no consignment partner: %w", shared.ErrValidation)
)

// Mode is the direction of a delivery. It is either Send or Return and carries only the
// locations valid for that direction.
type Mode interface {
	Name() ModeName
	// Source is debited (OUT) when the delivery is posted.
	Source() inventory.LocationKey
	// Destination is credited (IN) when the delivery is posted.
	Destination() inventory.LocationKey
	BranchID() int64
	PartnerID() int64
}

// Send moves goods from an own branch to a consignment partner.
type Send struct {
	FromBranchID int64
	ToPartnerID  int64
}

func (Send) Name() ModeName { return ModeSend }
func (m Send) Source() inventory.LocationKey { return inventory.Branch(m.FromBranchID) }
func (m Send) Destination() inventory.LocationKey { return inventory.Partner(m.ToPartnerID) }
func (m Send) BranchID() int64 { return m.FromBranchID }
func (m Send) PartnerID() int64 { return m.ToPartnerID }

// Return brings goods back from a consignment partner to an own branch.
type Return struct {
	FromPartnerID int64
	ToBranchID    int64
}

func (Return) Name() ModeName { return ModeReturn }
func (m Return) Source() inventory.LocationKey { return inventory.Partner(m.FromPartnerID) }
func (m Return) Destination() inventory.LocationKey { return inventory.Branch(m.ToBranchID) }
func (m Return) BranchID() int64 { return m.ToBranchID }
func (m Return) PartnerID() int64 { return m.FromPartnerID }

// ValidateMode checks that both locations of mode resolve.
func ValidateMode(mode Mode) error {
	if mode == nil {
		return ErrUnsupportedMode
	}
	if mode.BranchID() <= 0 {
		field := "fromBranchId"
		if mode.Name() == ModeReturn {
			field = "toBranchId"
		}
		return shared.NewValidationError(field, "must be a positive integer")
	}
	if mode.PartnerID() <= 0 {
		return ErrMissingPartner
	}
	return nil
}

// Header is the loosely typed delivery header accepted on the wire.
type Header struct {
	Mode          string `json:"mode"`
	FromBranchID  *int64 `json:"fromBranchId,omitempty"`
	ToBranchID    *int64 `json:"toBranchId,omitempty"`
	FromPartnerID *int64 `json:"fromPartnerId,omitempty"`
	PartnerID     *int64 `json:"partnerId,omitempty"`
	ToPartnerID   *int64 `json:"toPartnerId,omitempty"`
}

// ParseMode resolves a wire header into a Mode. For RETURN the partner is taken from the
// first present of fromPartnerId, partnerId and toPartnerId.
func ParseMode(h Header) (Mode, error) {
	switch ModeName(strings.ToUpper(strings.TrimSpace(h.Mode))) {
	case ModeSend:
		partner := h.ToPartnerID
		if partner == nil {
			return nil, ErrMissingPartner
		}
		mode := Send{FromBranchID: deref(h.FromBranchID), ToPartnerID: *partner}
		if err := ValidateMode(mode); err != nil {
			return nil, err
		}
		return mode, nil
	case ModeReturn:
		partner := firstPresent(h.FromPartnerID, h.PartnerID, h.ToPartnerID)
		if partner == nil {
			return nil, ErrMissingPartner
		}
		mode := Return{FromPartnerID: *partner, ToBranchID: deref(h.ToBranchID)}
		if err := ValidateMode(mode); err != nil {
			return nil, err
		}
		return mode, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, h.Mode)
	}
}

// HeaderOf renders mode in the canonical wire form.
func HeaderOf(mode Mode) Header {
	switch m := mode.(type) {
	case Send:
		return Header{Mode: string(ModeSend), FromBranchID: &m.FromBranchID, ToPartnerID: &m.ToPartnerID}
	case Return:
		return Header{Mode: string(ModeReturn), FromPartnerID: &m.FromPartnerID, ToBranchID: &m.ToBranchID}
	default:
		return Header{}
	}
}

// modeFromColumns rebuilds a Mode from its stored form.
func modeFromColumns(name string, branchID, partnerID int64) (Mode, error) {
	switch ModeName(name) {
	case ModeSend:
		return Send{FromBranchID: branchID, ToPartnerID: partnerID}, nil
	case ModeReturn:
		return Return{FromPartnerID: partnerID, ToBranchID: branchID}, nil
	default:
		return nil, fmt.Errorf("%w: stored mode %q", ErrUnsupportedMode, name)
	}
}

func firstPresent(ids ...*int64) *int64 {
	for _, id := range ids {
		if id != nil {
			return id
		}
	}
	return nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
