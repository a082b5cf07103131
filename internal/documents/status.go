package documents

import (
	"fmt"

	"github.com/consignhub/consignhub/internal/shared"
)

// ErrInvalidTransition is matched by every InvalidTransitionError.
var ErrInvalidTransition = fmt.Errorf("documents: invalid status transition: %w", shared.ErrConflict)

// ErrUnsupportedKind rejects status changes on documents the state machine does not own.
var ErrUnsupportedKind = fmt.Errorf("documents: unsupported document kind: %w", shared.ErrValidation)

// InvalidTransitionError names the rejected status pair.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("documents: cannot move from %s to %s", e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition and shared.ErrConflict.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// forward lists the only legal move out of each status.
var forward = map[Status]Status{
	StatusDraft: StatusSent,
	StatusSent:  StatusReceived,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	next, ok := forward[from]
	return ok && next == to
}

// CheckTransition validates a requested status change for doc.
func CheckTransition(doc Document, requested Status) error {
	if doc.Kind != KindDelivery {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, doc.Kind)
	}
	if !CanTransition(doc.Status, requested) {
		return &InvalidTransitionError{From: doc.Status, To: requested}
	}
	return nil
}

// MirrorOutcome reports what happened to the best-effort copy of a new status onto
// the linked delivery record.
type MirrorOutcome struct {
	Attempted bool     `json:"attempted"`
	Succeeded bool     `json:"succeeded"`
	Target    LinkType `json:"target,omitempty"`
	TargetID  int64    `json:"target_id,omitempty"`
	Err       error    `json:"-"`
	// Queued is set when a failed mirror was handed to the background retry queue.
	Queued bool `json:"queued"`
}

// Message returns the mirror failure text, empty on success.
func (m MirrorOutcome) Message() string {
	if m.Err == nil {
		return ""
	}
	return m.Err.Error()
}

// TransitionResult is the primary status change plus the mirror outcome.
type TransitionResult struct {
	Document Document      `json:"document"`
	Mirror   MirrorOutcome `json:"mirror"`
}
