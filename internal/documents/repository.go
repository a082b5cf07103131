package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consignhub/consignhub/internal/platform/db"
	"github.com/consignhub/consignhub/internal/shared"
)

var (
	// ErrNotFound indicates a missing document.
	ErrNotFound = fmt.Errorf("document not found: %w", shared.ErrNotFound)
	// ErrDuplicateNumber is returned when the (doc_type, doc_no) pair is already taken.
	ErrDuplicateNumber = fmt.Errorf("document number already issued: %w", shared.ErrConflict)
)

// Repository persists documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the statements run inside a document transaction.
type TxRepository interface {
	LastNumberFinder
	Insert(ctx context.Context, doc Document) (Document, error)
	GetForUpdate(ctx context.Context, id int64) (Document, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("documents repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const documentColumns = `id, kind, doc_type, doc_no, status, branch_delivery_id, consignment_delivery_id, note, COALESCE(created_by, 0), created_at, updated_at`

func (r *txRepository) LastDocNo(ctx context.Context, docType, prefix string) (string, error) {
	var docNo string
	err := r.tx.QueryRow(ctx, `SELECT doc_no FROM documents
WHERE doc_type = $1 AND doc_no LIKE $2 || '%'
ORDER BY doc_no DESC
LIMIT 1`, docType, prefix).Scan(&docNo)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return docNo, err
}

func (r *txRepository) Insert(ctx context.Context, doc Document) (Document, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO documents (kind, doc_type, doc_no, status, branch_delivery_id, consignment_delivery_id, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), NOW(), NOW())
RETURNING id, created_at, updated_at`,
		doc.Kind, doc.DocType, doc.DocNo, string(doc.Status), doc.BranchDeliveryID, doc.ConsignmentDeliveryID, doc.Note, doc.CreatedBy).
		Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Document{}, fmt.Errorf("%w: %s", ErrDuplicateNumber, doc.DocNo)
		}
		return Document{}, err
	}
	return doc, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one document.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
}

// List returns documents matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE ($1 = '' OR kind = $1)
  AND ($2 = '' OR doc_type = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, filter.Kind, filter.DocType, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc    Document
		status string
	)
	err := row.Scan(&doc.ID, &doc.Kind, &doc.DocType, &doc.DocNo, &status, &doc.BranchDeliveryID, &doc.ConsignmentDeliveryID,
		&doc.Note, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.Status = Status(status)
	return doc, nil
}
