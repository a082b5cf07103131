package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/shared"
)

// PostingResult summarises the stock effects of one posting.
type PostingResult struct {
	PostingID uuid.UUID               `json:"posting_id"`
	Entries   []inventory.LedgerEntry `json:"entries"`
	Posted    int                     `json:"posted_lines"`
	Skipped   int                     `json:"skipped_lines"`
}

// StockTransactor opens inventory transactions.
type StockTransactor interface {
	WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error
}

// Poster applies the stock effects of a delivery: for every line an OUT at the source
// and an IN at the destination.
type Poster struct {
	adjuster *inventory.Adjuster
	ledger   *inventory.LedgerWriter
	newID    func() uuid.UUID
}

// NewPoster builds a Poster. Nil collaborators get defaults.
func NewPoster(adjuster *inventory.Adjuster, ledger *inventory.LedgerWriter) *Poster {
	if adjuster == nil {
		adjuster = inventory.NewAdjuster(nil)
	}
	if ledger == nil {
		ledger = inventory.NewLedgerWriter(nil)
	}
	return &Poster{adjuster: adjuster, ledger: ledger, newID: uuid.New}
}

// Post moves stock for every line of d inside tx. Lines are processed in the given order
// and lines whose effective quantity is not positive are skipped. Post does not guard
// against double posting; callers own that check. Any error leaves tx unusable for commit.
func (p *Poster) Post(ctx context.Context, tx inventory.TxRepository, d Delivery, lines []Line, actorID int64) (PostingResult, error) {
	if err := ValidateMode(d.Mode); err != nil {
		return PostingResult{}, err
	}
	if d.ID <= 0 {
		return PostingResult{}, shared.NewValidationError("delivery_id", "must be a positive integer")
	}
	source, destination := d.Mode.Source(), d.Mode.Destination()
	result := PostingResult{PostingID: p.newID(), Entries: make([]inventory.LedgerEntry, 0, 2*len(lines))}

	for i, line := range lines {
		qty := line.EffectiveQty()
		if !qty.IsPositive() {
			result.Skipped++
			continue
		}
		if line.ProductID <= 0 {
			return PostingResult{}, fmt.Errorf("delivery %d line %d: %w", d.ID, i+1, shared.NewValidationError("product_id", "must be a positive integer"))
		}

		if _, err := p.adjuster.Adjust(ctx, tx, source, line.ProductID, qty.Neg()); err != nil {
			return PostingResult{}, fmt.Errorf("delivery %d line %d: debit %s: %w", d.ID, i+1, source, err)
		}
		out, err := p.ledger.Write(ctx, tx, p.entry(d, inventory.MoveOut, source, line, result.PostingID, actorID))
		if err != nil {
			return PostingResult{}, fmt.Errorf("delivery %d line %d: ledger OUT: %w", d.ID, i+1, err)
		}

		if _, err := p.adjuster.Adjust(ctx, tx, destination, line.ProductID, qty); err != nil {
			return PostingResult{}, fmt.Errorf("delivery %d line %d: credit %s: %w", d.ID, i+1, destination, err)
		}
		in, err := p.ledger.Write(ctx, tx, p.entry(d, inventory.MoveIn, destination, line, result.PostingID, actorID))
		if err != nil {
			return PostingResult{}, fmt.Errorf("delivery %d line %d: ledger IN: %w", d.ID, i+1, err)
		}

		result.Entries = append(result.Entries, out, in)
		result.Posted++
	}
	return result, nil
}

// PostAtomic runs Post in its own transaction. Nothing is committed unless every line posts.
func (p *Poster) PostAtomic(ctx context.Context, store StockTransactor, d Delivery, lines []Line, actorID int64) (PostingResult, error) {
	var result PostingResult
	err := store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		result, err = p.Post(ctx, tx, d, lines, actorID)
		return err
	})
	if err != nil {
		return PostingResult{}, err
	}
	return result, nil
}

func (p *Poster) entry(d Delivery, move inventory.Move, loc inventory.LocationKey, line Line, postingID uuid.UUID, actorID int64) inventory.LedgerEntry {
	return inventory.LedgerEntry{
		Move:      move,
		Location:  loc,
		ProductID: line.ProductID,
		Qty:       line.EffectiveQty(),
		RefType:   inventory.RefTypeDelivery,
		RefID:     d.ID,
		Note:      fmt.Sprintf("%s delivery %d", d.Mode.Name(), d.ID),
		PostingID: postingID,
		ActorID:   actorID,
	}
}
