package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/platform/db"
)

// Repository persists balances and the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the adjuster and ledger writer.
type TxRepository interface {
	// LocateBalanceForUpdate returns the row for loc/productID, creating it with zero
	// on first touch, and holds a row lock until the transaction ends.
	LocateBalanceForUpdate(ctx context.Context, loc LocationKey, productID int64) (Balance, error)
	// UpdateOnHand writes next only if the stored value still equals prev.
	UpdateOnHand(ctx context.Context, loc LocationKey, productID int64, prev, next decimal.Decimal) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the inventory statements to an open transaction so other
// packages can include stock movements in their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func balanceTable(t LocationType) (table, keyColumn string, err error) {
	switch t {
	case LocationBranch:
		return "branch_inventory", "branch_id", nil
	case LocationConsignment:
		return "consignment_inventory", "partner_id", nil
	default:
		return "", "", fmt.Errorf("inventory: no balance table for location type %q", t)
	}
}

func (r *txRepository) LocateBalanceForUpdate(ctx context.Context, loc LocationKey, productID int64) (Balance, error) {
	table, key, err := balanceTable(loc.Type)
	if err != nil {
		return Balance{}, err
	}
	if _, err := r.tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s, product_id, on_hand, updated_at)
VALUES ($1, $2, 0, NOW())
ON CONFLICT (%s, product_id) DO NOTHING`, table, key, key), loc.ID, productID); err != nil {
		return Balance{}, err
	}
	bal := Balance{Location: loc, ProductID: productID}
	err = r.tx.QueryRow(ctx, fmt.Sprintf(`SELECT on_hand, updated_at FROM %s WHERE %s=$1 AND product_id=$2 FOR UPDATE`, table, key), loc.ID, productID).
		Scan(&bal.OnHand, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bal, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpdateOnHand(ctx context.Context, loc LocationKey, productID int64, prev, next decimal.Decimal) error {
	table, key, err := balanceTable(loc.Type)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET on_hand=$3, updated_at=NOW() WHERE %s=$1 AND product_id=$2 AND on_hand=$4`, table, key),
		loc.ID, productID, next, prev)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (at, move, location_type, location_id, product_id, qty, ref_type, ref_id, note, posting_id, actor_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id, at`,
		entry.At, string(entry.Move), string(entry.Location.Type), entry.Location.ID, entry.ProductID, entry.Qty,
		entry.RefType, entry.RefID, entry.Note, nullUUID(entry.PostingID), nullInt(entry.ActorID)).
		Scan(&entry.ID, &entry.At)
	return entry, err
}

// ListBalances returns every balance held at loc ordered by product.
func (r *Repository) ListBalances(ctx context.Context, loc LocationKey) ([]Balance, error) {
	table, key, err := balanceTable(loc.Type)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT product_id, on_hand, updated_at FROM %s WHERE %s=$1 ORDER BY product_id`, table, key), loc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		bal := Balance{Location: loc}
		if err := rows.Scan(&bal.ProductID, &bal.OnHand, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// GetBalance returns one balance or ErrBalanceNotFound.
func (r *Repository) GetBalance(ctx context.Context, loc LocationKey, productID int64) (Balance, error) {
	table, key, err := balanceTable(loc.Type)
	if err != nil {
		return Balance{}, err
	}
	bal := Balance{Location: loc, ProductID: productID}
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT on_hand, updated_at FROM %s WHERE %s=$1 AND product_id=$2`, table, key), loc.ID, productID).
		Scan(&bal.OnHand, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bal, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

// ListLedger returns ledger entries matching filter, oldest first.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var locType, locID any
	if filter.Location != nil {
		locType, locID = string(filter.Location.Type), filter.Location.ID
	}
	rows, err := r.pool.Query(ctx, `SELECT id, at, move, location_type, location_id, product_id, qty, ref_type, ref_id, note, posting_id, COALESCE(actor_id, 0)
FROM stock_ledger
WHERE ($1::text IS NULL OR location_type = $1)
  AND ($2::bigint IS NULL OR location_id = $2)
  AND ($3::bigint IS NULL OR product_id = $3)
  AND ($4::text IS NULL OR ref_type = $4)
  AND ($5::bigint IS NULL OR ref_id = $5)
  AND at BETWEEN COALESCE($6, '-infinity'::timestamptz) AND COALESCE($7, 'infinity'::timestamptz)
ORDER BY at ASC, id ASC
LIMIT $8`, locType, locID, nullInt(filter.ProductID), nullString(filter.RefType), nullInt(filter.RefID), nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var (
			entry     LedgerEntry
			move      string
			locTypeS  string
			postingID uuid.NullUUID
		)
		if err := rows.Scan(&entry.ID, &entry.At, &move, &locTypeS, &entry.Location.ID, &entry.ProductID, &entry.Qty,
			&entry.RefType, &entry.RefID, &entry.Note, &postingID, &entry.ActorID); err != nil {
			return nil, err
		}
		entry.Move = Move(move)
		entry.Location.Type = LocationType(locTypeS)
		if postingID.Valid {
			entry.PostingID = postingID.UUID
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LedgerNet sums IN minus OUT per product at loc.
func (r *Repository) LedgerNet(ctx context.Context, loc LocationKey) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, SUM(CASE WHEN move = 'IN' THEN qty ELSE -qty END)
FROM stock_ledger
WHERE location_type = $1 AND location_id = $2
GROUP BY product_id`, string(loc.Type), loc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	net := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			productID int64
			sum       decimal.Decimal
		)
		if err := rows.Scan(&productID, &sum); err != nil {
			return nil, err
		}
		net[productID] = sum
	}
	return net, rows.Err()
}

// ListLocations returns every location holding at least one balance row.
func (r *Repository) ListLocations(ctx context.Context) ([]LocationKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT 'BRANCH', branch_id FROM branch_inventory
UNION
SELECT 'CONSIGNMENT', partner_id FROM consignment_inventory
ORDER BY 1, 2`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locations []LocationKey
	for rows.Next() {
		var (
			t  string
			id int64
		)
		if err := rows.Scan(&t, &id); err != nil {
			return nil, err
		}
		locations = append(locations, LocationKey{Type: LocationType(t), ID: id})
	}
	return locations, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullUUID(value uuid.UUID) any {
	if value == uuid.Nil {
		return nil
	}
	return value.String()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
