package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/shared"
)

const (
	defaultLedgerLimit = 200
	maxLedgerLimit     = 1000
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBalances(ctx context.Context, loc LocationKey) ([]Balance, error)
	GetBalance(ctx context.Context, loc LocationKey, productID int64) (Balance, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	LedgerNet(ctx context.Context, loc LocationKey) (map[int64]decimal.Decimal, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes balance queries and manual adjustments.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	adjuster *Adjuster
	ledger   *LedgerWriter
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, adjuster *Adjuster, ledger *LedgerWriter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if adjuster == nil {
		adjuster = NewAdjuster(nil)
	}
	if ledger == nil {
		ledger = NewLedgerWriter(nil)
	}
	return &Service{repo: repo, audit: audit, logger: logger, adjuster: adjuster, ledger: ledger}
}

// Balances lists the balances held at loc.
func (s *Service) Balances(ctx context.Context, loc LocationKey) ([]Balance, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListBalances(ctx, loc)
}

// Balance returns one balance. A key never touched reads as zero.
func (s *Service) Balance(ctx context.Context, loc LocationKey, productID int64) (Balance, error) {
	if err := loc.Validate(); err != nil {
		return Balance{}, err
	}
	if productID <= 0 {
		return Balance{}, shared.NewValidationError("product_id", "must be a positive integer")
	}
	bal, err := s.repo.GetBalance(ctx, loc, productID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{Location: loc, ProductID: productID, OnHand: decimal.Zero}, nil
	}
	return bal, err
}

// Ledger lists ledger entries.
func (s *Service) Ledger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.Location != nil {
		if err := filter.Location.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLedgerLimit
	}
	if filter.Limit > maxLedgerLimit {
		filter.Limit = maxLedgerLimit
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.NewValidationError("to", "must not be before from")
	}
	return s.repo.ListLedger(ctx, filter)
}

// Adjust applies a manual correction and writes the matching ledger entry in one transaction.
func (s *Service) Adjust(ctx context.Context, input ManualAdjustment) (LedgerEntry, Balance, error) {
	delta := Round(input.Delta)
	if delta.IsZero() {
		return LedgerEntry{}, Balance{}, shared.NewValidationError("delta", "must be non zero")
	}
	move := MoveIn
	if delta.IsNegative() {
		move = MoveOut
	}
	var (
		entry  LedgerEntry
		onHand decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		onHand, err = s.adjuster.Adjust(ctx, tx, input.Location, input.ProductID, delta)
		if err != nil {
			return err
		}
		entry, err = s.ledger.Write(ctx, tx, LedgerEntry{
			Move:      move,
			Location:  input.Location,
			ProductID: input.ProductID,
			Qty:       delta.Abs(),
			RefType:   RefTypeAdjustment,
			RefID:     input.RefID,
			Note:      input.Note,
			PostingID: uuid.New(),
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("inventory:adjust:%s", move),
			Entity:   "stock_ledger",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"location":   input.Location.String(),
				"product_id": input.ProductID,
				"delta":      delta.String(),
				"note":       input.Note,
			},
		}); err != nil {
			s.logger.Warn("audit inventory adjustment", slog.Any("error", err))
		}
	}
	return entry, Balance{Location: input.Location, ProductID: input.ProductID, OnHand: onHand, UpdatedAt: entry.At}, nil
}

// Reconcile compares every balance at loc with the net of its ledger entries and
// returns the products that disagree.
func (s *Service) Reconcile(ctx context.Context, loc LocationKey) ([]Drift, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	balances, err := s.repo.ListBalances(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	net, err := s.repo.LedgerNet(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("ledger net: %w", err)
	}
	seen := make(map[int64]bool, len(balances))
	drifts := []Drift{}
	for _, bal := range balances {
		seen[bal.ProductID] = true
		ledgerNet := Round(net[bal.ProductID])
		if !Round(bal.OnHand).Equal(ledgerNet) {
			drifts = append(drifts, Drift{ProductID: bal.ProductID, OnHand: bal.OnHand, LedgerNet: ledgerNet, Diff: bal.OnHand.Sub(ledgerNet)})
		}
	}
	for productID, sum := range net {
		if seen[productID] || Round(sum).IsZero() {
			continue
		}
		drifts = append(drifts, Drift{ProductID: productID, OnHand: decimal.Zero, LedgerNet: sum, Diff: sum.Neg()})
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].ProductID < drifts[j].ProductID })
	return drifts, nil
}
