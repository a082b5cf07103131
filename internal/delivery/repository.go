package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for consignment deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Delivery, error)
	SetReceivedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error
	SetStatus(ctx context.Context, id int64, status Status) error
	MarkReceived(ctx context.Context, id int64, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// Run executes fn inside one repeatable-read transaction shared by the delivery
// statements and the inventory statements.
func (r *Repository) Run(ctx context.Context, fn func(ctx context.Context, tx TxRepository, stock inventory.TxRepository) error) error {
	if r == nil {
		return errors.New("delivery repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx}, inventory.NewTxRepository(tx))
	})
}

// ============================================================================
// DELIVERY OPERATIONS
// ============================================================================

const deliveryColumns = `id, mode, branch_id, partner_id, status, note, COALESCE(created_by, 0), created_at, updated_at, received_at`

// Create inserts the delivery with its lines and returns the stored record.
func (r *Repository) Create(ctx context.Context, d Delivery) (Delivery, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO consignment_deliveries (mode, branch_id, partner_id, status, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), NOW(), NOW())
RETURNING id, created_at, updated_at`,
			string(d.Mode.Name()), d.Mode.BranchID(), d.Mode.PartnerID(), string(d.Status), d.Note, d.CreatedBy).
			Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
		for i := range d.Lines {
			line := &d.Lines[i]
			line.LineNo = i + 1
			if err := tx.QueryRow(ctx, `INSERT INTO consignment_delivery_lines (delivery_id, line_no, product_id, qty)
VALUES ($1, $2, $3, $4) RETURNING id`, d.ID, line.LineNo, line.ProductID, line.Qty).Scan(&line.ID); err != nil {
				return fmt.Errorf("insert delivery line %d: %w", line.LineNo, err)
			}
		}
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// Get retrieves a delivery with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM consignment_deliveries WHERE id=$1`, id))
	if err != nil {
		return Delivery{}, err
	}
	d.Lines, err = queryLines(ctx, r.pool, id)
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(t.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM consignment_deliveries WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Delivery{}, err
	}
	d.Lines, err = queryLines(ctx, t.tx, id)
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (t *txRepo) SetReceivedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE consignment_delivery_lines SET qty_received=$2 WHERE id=$1`, lineID, qty)
	return err
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE consignment_deliveries SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) MarkReceived(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE consignment_deliveries SET status=$2, received_at=$3, updated_at=NOW() WHERE id=$1`, id, string(StatusReceived), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var (
		d         Delivery
		mode      string
		status    string
		branchID  int64
		partnerID int64
	)
	err := row.Scan(&d.ID, &mode, &branchID, &partnerID, &status, &d.Note, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &d.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrNotFound
		}
		return Delivery{}, err
	}
	d.Status = Status(status)
	d.Mode, err = modeFromColumns(mode, branchID, partnerID)
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func queryLines(ctx context.Context, q querier, deliveryID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, line_no, product_id, qty, qty_received
FROM consignment_delivery_lines WHERE delivery_id=$1 ORDER BY line_no`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var (
			line     Line
			received decimal.NullDecimal
		)
		if err := rows.Scan(&line.ID, &line.LineNo, &line.ProductID, &line.Qty, &received); err != nil {
			return nil, err
		}
		if received.Valid {
			qty := received.Decimal
			line.QtyReceived = &qty
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ============================================================================
// BRANCH DELIVERIES
// ============================================================================

// BranchRepository updates inter-branch delivery records owned elsewhere. Only the
// status column is written from this service.
type BranchRepository struct {
	pool *pgxpool.Pool
}

// NewBranchRepository constructs a BranchRepository.
func NewBranchRepository(pool *pgxpool.Pool) *BranchRepository {
	return &BranchRepository{pool: pool}
}

// MirrorStatus copies a document status onto a branch delivery.
func (r *BranchRepository) MirrorStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE branch_deliveries SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
