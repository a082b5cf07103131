// Package inventorytest provides an in-memory transactional inventory store for tests.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/inventory"
)

type balanceKey struct {
	loc       inventory.LocationKey
	productID int64
}

// Store implements inventory.RepositoryPort. Transactions are serialised by a mutex and
// rolled back by restoring a snapshot, so failed callbacks leave no trace.
type Store struct {
	mu       sync.Mutex
	balances map[balanceKey]inventory.Balance
	ledger   []inventory.LedgerEntry
	nextID   int64

	// FailInsert, when set, is consulted before each ledger insert.
	FailInsert func(entry inventory.LedgerEntry) error
}

var _ inventory.RepositoryPort = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{balances: make(map[balanceKey]inventory.Balance)}
}

// Seed sets a balance directly, bypassing the ledger.
func (s *Store) Seed(loc inventory.LocationKey, productID int64, onHand string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{loc, productID}] = inventory.Balance{
		Location:  loc,
		ProductID: productID,
		OnHand:    decimal.RequireFromString(onHand),
		UpdatedAt: time.Now().UTC(),
	}
}

// OnHand reads a balance, zero when the row does not exist.
func (s *Store) OnHand(loc inventory.LocationKey, productID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey{loc, productID}].OnHand
}

// HasBalance reports whether a balance row exists for the key.
func (s *Store) HasBalance(loc inventory.LocationKey, productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.balances[balanceKey{loc, productID}]
	return ok
}

// Entries returns a copy of the ledger.
func (s *Store) Entries() []inventory.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.LedgerEntry, len(s.ledger))
	copy(out, s.ledger)
	return out
}

type snapshot struct {
	balances map[balanceKey]inventory.Balance
	ledgerN  int
	nextID   int64
}

func (s *Store) snapshot() snapshot {
	balances := make(map[balanceKey]inventory.Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	return snapshot{balances: balances, ledgerN: len(s.ledger), nextID: s.nextID}
}

func (s *Store) restore(snap snapshot) {
	s.balances = snap.balances
	s.ledger = s.ledger[:snap.ledgerN]
	s.nextID = snap.nextID
}

// WithTx runs fn atomically.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) ListBalances(_ context.Context, loc inventory.LocationKey) ([]inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.Balance{}
	for k, bal := range s.balances {
		if k.loc == loc {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) GetBalance(_ context.Context, loc inventory.LocationKey, productID int64) (inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[balanceKey{loc, productID}]
	if !ok {
		return inventory.Balance{Location: loc, ProductID: productID}, inventory.ErrBalanceNotFound
	}
	return bal, nil
}

func (s *Store) ListLedger(_ context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.LedgerEntry{}
	for _, e := range s.ledger {
		switch {
		case filter.Location != nil && e.Location != *filter.Location:
			continue
		case filter.ProductID != 0 && e.ProductID != filter.ProductID:
			continue
		case filter.RefType != "" && e.RefType != filter.RefType:
			continue
		case filter.RefID != 0 && e.RefID != filter.RefID:
			continue
		case !filter.From.IsZero() && e.At.Before(filter.From):
			continue
		case !filter.To.IsZero() && e.At.After(filter.To):
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LedgerNet(_ context.Context, loc inventory.LocationKey) (map[int64]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net := make(map[int64]decimal.Decimal)
	for _, e := range s.ledger {
		if e.Location == loc {
			net[e.ProductID] = net[e.ProductID].Add(e.Signed())
		}
	}
	return net, nil
}

// ListLocations returns every location holding a balance row.
func (s *Store) ListLocations(_ context.Context) ([]inventory.LocationKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[inventory.LocationKey]bool{}
	var out []inventory.LocationKey
	for k := range s.balances {
		if !seen[k.loc] {
			seen[k.loc] = true
			out = append(out, k.loc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memoryTx struct {
	store *Store
}

func (tx *memoryTx) LocateBalanceForUpdate(_ context.Context, loc inventory.LocationKey, productID int64) (inventory.Balance, error) {
	key := balanceKey{loc, productID}
	bal, ok := tx.store.balances[key]
	if !ok {
		bal = inventory.Balance{Location: loc, ProductID: productID, OnHand: decimal.Zero, UpdatedAt: time.Now().UTC()}
		tx.store.balances[key] = bal
	}
	return bal, nil
}

func (tx *memoryTx) UpdateOnHand(_ context.Context, loc inventory.LocationKey, productID int64, prev, next decimal.Decimal) error {
	key := balanceKey{loc, productID}
	bal, ok := tx.store.balances[key]
	if !ok || !bal.OnHand.Equal(prev) {
		return inventory.ErrConcurrentUpdate
	}
	bal.OnHand = next
	bal.UpdatedAt = time.Now().UTC()
	tx.store.balances[key] = bal
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(_ context.Context, entry inventory.LedgerEntry) (inventory.LedgerEntry, error) {
	if tx.store.FailInsert != nil {
		if err := tx.store.FailInsert(entry); err != nil {
			return inventory.LedgerEntry{}, fmt.Errorf("memory store: %w", err)
		}
	}
	tx.store.nextID++
	entry.ID = tx.store.nextID
	tx.store.ledger = append(tx.store.ledger, entry)
	return entry, nil
}
