package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists stock rows and ledger entries in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository. The runner supplies the retrying
// transaction discipline every mutation batch runs under.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// WithTx executes fn inside a retried RepeatableRead transaction, handing it
// a TxStore bound to that transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return r.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// GetQuantity returns the current row quantity, 0 when the row is absent.
func (r *Repository) GetQuantity(ctx context.Context, key RowKey) (float64, error) {
	if r == nil {
		return 0, errors.New("ledger repository not initialised")
	}
	var qty float64
	err := r.pool.QueryRow(ctx, `SELECT quantity FROM stock_rows
WHERE product_id=$1 AND store_id=$2 AND variant_id IS NOT DISTINCT FROM $3`,
		key.ProductID, key.StoreID, nullInt(key.VariantID)).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

// ListEntries returns ledger entries matching the filter, oldest first.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, COALESCE(variant_id,0), tx_type, qty_before, qty_after, qty_changed, unit_cost,
COALESCE(order_id,0), COALESCE(order_item_id,0), COALESCE(transfer_id,0), ref_module, note, actor_id, posted_at
FROM stock_ledger
WHERE ($1::bigint = 0 OR product_id=$1)
  AND ($2::bigint = 0 OR store_id=$2)
  AND ($3::bigint = 0 OR variant_id=$3)
  AND (NOT $4::bool OR variant_id IS NULL)
  AND ($5::bigint = 0 OR order_id=$5)
  AND ($6::bigint = 0 OR transfer_id=$6)
  AND posted_at BETWEEN COALESCE($7, '-infinity') AND COALESCE($8, 'infinity')
ORDER BY id ASC
LIMIT $9`,
		filter.ProductID, filter.StoreID, filter.VariantID, filter.GeneralOnly, filter.OrderID, filter.TransferID,
		nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListStock returns all stock rows for a store, or all stores when storeID
// is 0. Used by the reporting read side.
func (r *Repository) ListStock(ctx context.Context, storeID int64) ([]StockRow, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, store_id, COALESCE(variant_id,0), quantity, updated_at
FROM stock_rows
WHERE ($1::bigint = 0 OR store_id=$1)
ORDER BY product_id, store_id, COALESCE(variant_id,0)`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []StockRow
	for rows.Next() {
		var row StockRow
		if err := rows.Scan(&row.Key.ProductID, &row.Key.StoreID, &row.Key.VariantID, &row.Quantity, &row.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an already opened transaction. Workflow
// repositories use it so their status writes commit together with the
// ledger effect.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) GetRowForUpdate(ctx context.Context, key RowKey) (StockRow, error) {
	var row StockRow
	err := s.tx.QueryRow(ctx, `SELECT product_id, store_id, COALESCE(variant_id,0), quantity, updated_at
FROM stock_rows
WHERE product_id=$1 AND store_id=$2 AND variant_id IS NOT DISTINCT FROM $3
FOR UPDATE`, key.ProductID, key.StoreID, nullInt(key.VariantID)).
		Scan(&row.Key.ProductID, &row.Key.StoreID, &row.Key.VariantID, &row.Quantity, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRow{Key: key}, ErrRowNotFound
		}
		return StockRow{}, err
	}
	return row, nil
}

func (s *txStore) UpsertRow(ctx context.Context, row StockRow) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_rows (product_id, store_id, variant_id, quantity, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (product_id, store_id, COALESCE(variant_id, 0))
DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		row.Key.ProductID, row.Key.StoreID, nullInt(row.Key.VariantID), row.Quantity)
	return err
}

func (s *txStore) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_ledger
(product_id, store_id, variant_id, tx_type, qty_before, qty_after, qty_changed, unit_cost, order_id, order_item_id, transfer_id, ref_module, note, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id`,
		entry.ProductID, entry.StoreID, nullInt(entry.VariantID), string(entry.Type),
		entry.QtyBefore, entry.QtyAfter, entry.QtyChanged, entry.UnitCost,
		nullInt(entry.OrderID), nullInt(entry.OrderItemID), nullInt(entry.TransferID),
		entry.RefModule, entry.Note, entry.ActorID, entry.PostedAt).Scan(&id)
	return id, err
}

func (s *txStore) ListEntriesByOrder(ctx context.Context, orderID int64) ([]Entry, error) {
	rows, err := s.tx.Query(ctx, entrySelect+` WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *txStore) ListEntriesByTransfer(ctx context.Context, transferID int64) ([]Entry, error) {
	rows, err := s.tx.Query(ctx, entrySelect+` WHERE transfer_id=$1 ORDER BY id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

const entrySelect = `SELECT id, product_id, store_id, COALESCE(variant_id,0), tx_type, qty_before, qty_after, qty_changed, unit_cost,
COALESCE(order_id,0), COALESCE(order_item_id,0), COALESCE(transfer_id,0), ref_module, note, actor_id, posted_at
FROM stock_ledger`

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var txType string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.StoreID, &e.VariantID, &txType,
			&e.QtyBefore, &e.QtyAfter, &e.QtyChanged, &e.UnitCost,
			&e.OrderID, &e.OrderItemID, &e.TransferID, &e.RefModule, &e.Note, &e.ActorID, &e.PostedAt); err != nil {
			return nil, err
		}
		e.Type = TransactionType(txType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
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
