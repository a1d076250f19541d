package transfers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists store transfers in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// WithTx runs fn inside a retried RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfers repository not initialised")
	}
	return r.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads a transfer header with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	if r == nil {
		return Transfer{}, errors.New("transfers repository not initialised")
	}
	tr, err := scanTransfer(r.pool.QueryRow(ctx, transferSelect+` WHERE id=$1`, id))
	if err != nil {
		return Transfer{}, err
	}
	tr.Items, err = loadItems(ctx, r.pool, id)
	return tr, err
}

// List returns transfer headers, newest first. StoreID matches either side.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	if r == nil {
		return nil, errors.New("transfers repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, transferSelect+`
WHERE ($1 = '' OR status=$1)
  AND ($2::bigint = 0 OR from_store_id=$2 OR to_store_id=$2)
ORDER BY id DESC
LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.StoreID, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tr)
	}
	return result, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) Ledger() ledger.TxStore {
	return ledger.NewTxStore(t.tx)
}

func (t *txRepository) Insert(ctx context.Context, tr *Transfer) error {
	return t.tx.QueryRow(ctx, `INSERT INTO store_transfers
(number, from_store_id, to_store_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING id`,
		tr.Number, tr.FromStoreID, tr.ToStoreID, string(tr.Status), tr.Note, tr.CreatedBy, tr.CreatedAt).Scan(&tr.ID)
}

func (t *txRepository) InsertItem(ctx context.Context, item *TransferItem) error {
	return t.tx.QueryRow(ctx, `INSERT INTO store_transfer_items
(transfer_id, product_id, quantity, unit_cost)
VALUES ($1,$2,$3,$4)
RETURNING id`,
		item.TransferID, item.ProductID, item.Quantity, item.UnitCost).Scan(&item.ID)
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRow(ctx, transferSelect+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, err
	}
	tr.Items, err = loadItems(ctx, t.tx, id)
	return tr, err
}

func (t *txRepository) UpdateHeader(ctx context.Context, tr Transfer) error {
	tag, err := t.tx.Exec(ctx, `UPDATE store_transfers SET
status=$2, note=$3, cancel_reason=$4,
completed_by=$5, cancelled_by=$6, completed_at=$7, cancelled_at=$8, updated_at=$9
WHERE id=$1`,
		tr.ID, string(tr.Status), tr.Note, tr.CancelReason,
		nullInt(tr.CompletedBy), nullInt(tr.CancelledBy), nullTime(tr.CompletedAt), nullTime(tr.CancelledAt), tr.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const transferSelect = `SELECT id, number, from_store_id, to_store_id, status,
COALESCE(note,''), COALESCE(cancel_reason,''),
created_by, COALESCE(completed_by,0), COALESCE(cancelled_by,0),
completed_at, cancelled_at, created_at, updated_at
FROM store_transfers`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		tr                       Transfer
		status                   string
		completedAt, cancelledAt *time.Time
	)
	err := row.Scan(&tr.ID, &tr.Number, &tr.FromStoreID, &tr.ToStoreID, &status,
		&tr.Note, &tr.CancelReason,
		&tr.CreatedBy, &tr.CompletedBy, &tr.CancelledBy,
		&completedAt, &cancelledAt, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.ErrNotFound
		}
		return Transfer{}, err
	}
	tr.Status = TransferStatus(status)
	if completedAt != nil {
		tr.CompletedAt = *completedAt
	}
	if cancelledAt != nil {
		tr.CancelledAt = *cancelledAt
	}
	return tr, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, transferID int64) ([]TransferItem, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, quantity, unit_cost
FROM store_transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransferItem
	for rows.Next() {
		var item TransferItem
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.Quantity, &item.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
