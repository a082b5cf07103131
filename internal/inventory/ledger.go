package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/consignhub/consignhub/internal/shared"
)

// LedgerWriter appends immutable movement records.
type LedgerWriter struct {
	now func() time.Time
}

// NewLedgerWriter builds a writer stamping entries with now (UTC wall clock when nil).
func NewLedgerWriter(now func() time.Time) *LedgerWriter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &LedgerWriter{now: now}
}

// Validate checks the fields required of every ledger entry.
func (e LedgerEntry) Validate() error {
	if e.Move != MoveIn && e.Move != MoveOut {
		return shared.NewValidationError("move", fmt.Sprintf("must be IN or OUT, got %q", e.Move))
	}
	if err := e.Location.Validate(); err != nil {
		return err
	}
	if e.ProductID <= 0 {
		return shared.NewValidationError("product_id", "must be a positive integer")
	}
	if !Round(e.Qty).IsPositive() {
		return shared.NewValidationError("qty", "must be greater than zero")
	}
	if e.RefType == "" {
		return shared.NewValidationError("ref_type", "is required")
	}
	if e.RefID <= 0 {
		return shared.NewValidationError("ref_id", "must be a positive integer")
	}
	return nil
}

// Write inserts one entry and returns the stored row. There is no merging or dedup.
func (w *LedgerWriter) Write(ctx context.Context, tx TxRepository, entry LedgerEntry) (LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return LedgerEntry{}, err
	}
	entry.Qty = Round(entry.Qty)
	if entry.At.IsZero() {
		entry.At = w.now()
	}
	stored, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return stored, nil
}
