// Package documents issues numbered business documents and drives their status lifecycle.
package documents

import (
	"fmt"
	"strings"
	"time"

	"github.com/consignhub/consignhub/internal/shared"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus normalises a status name.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", shared.NewValidationError("status", fmt.Sprintf("unknown document status %q", raw))
	}
	return s, nil
}

// KindDelivery marks documents generated for deliveries (delivery notes).
const KindDelivery = "delivery"

// LinkType names the kind of delivery record a document was generated from.
type LinkType string

const (
	LinkBranchDelivery      LinkType = "branch_delivery"
	LinkConsignmentDelivery LinkType = "consignment_delivery"
)

// Document is a numbered business record.
type Document struct {
	ID                    int64     `json:"id"`
	Kind                  string    `json:"kind"`
	DocType               string    `json:"doc_type"`
	DocNo                 string    `json:"doc_no"`
	Status                Status    `json:"status"`
	BranchDeliveryID      *int64    `json:"branch_delivery_id,omitempty"`
	ConsignmentDeliveryID *int64    `json:"consignment_delivery_id,omitempty"`
	Note                  string    `json:"note,omitempty"`
	CreatedBy             int64     `json:"created_by,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Link returns the delivery record the document points at, if any.
func (d Document) Link() (LinkType, int64, bool) {
	switch {
	case d.BranchDeliveryID != nil:
		return LinkBranchDelivery, *d.BranchDeliveryID, true
	case d.ConsignmentDeliveryID != nil:
		return LinkConsignmentDelivery, *d.ConsignmentDeliveryID, true
	}
	return "", 0, false
}

// CreateInput describes a new document.
type CreateInput struct {
	Kind                  string
	DocType               string
	BranchDeliveryID      *int64
	ConsignmentDeliveryID *int64
	Note                  string
	ActorID               int64
}

// Validate checks required fields and that at most one delivery is linked.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Kind) == "" {
		return shared.NewValidationError("kind", "is required")
	}
	if strings.TrimSpace(in.DocType) == "" {
		return shared.NewValidationError("doc_type", "is required")
	}
	if in.BranchDeliveryID != nil && in.ConsignmentDeliveryID != nil {
		return shared.NewValidationError("delivery link", "only one of branch_delivery_id and consignment_delivery_id may be set")
	}
	for field, id := range map[string]*int64{"branch_delivery_id": in.BranchDeliveryID, "consignment_delivery_id": in.ConsignmentDeliveryID} {
		if id != nil && *id <= 0 {
			return shared.NewValidationError(field, "must be a positive integer")
		}
	}
	return nil
}

// ListFilter narrows document listings.
type ListFilter struct {
	Kind    string
	DocType string
	Status  Status
	Limit   int
	Offset  int
}
