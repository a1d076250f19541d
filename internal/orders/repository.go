package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// querier covers the read methods shared by pool and transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithTx runs fn inside a retried RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("orders repository not initialised")
	}
	return r.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads an order header with its items and modifiers.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	if r == nil {
		return Order{}, errors.New("orders repository not initialised")
	}
	o, err := scanOrder(r.pool.QueryRow(ctx, orderSelect+` WHERE id=$1`, id))
	if err != nil {
		return Order{}, err
	}
	o.Items, err = loadItems(ctx, r.pool, id)
	return o, err
}

// List returns order headers matching the filter, newest first. Items are
// not loaded; use Get for the full document.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	if r == nil {
		return nil, errors.New("orders repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, orderSelect+`
WHERE ($1 = '' OR status=$1)
  AND ($2 = '' OR order_type=$2)
ORDER BY id DESC
LIMIT $3 OFFSET $4`,
		string(filter.Status), string(filter.Type), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) Ledger() ledger.TxStore {
	return ledger.NewTxStore(t.tx)
}

func (t *txRepository) Insert(ctx context.Context, o *Order) error {
	return t.tx.QueryRow(ctx, `INSERT INTO orders
(number, order_type, status, customer_id, supplier_id, total_amount, note, created_by, order_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
RETURNING id`,
		o.Number, string(o.Type), string(o.Status), nullInt(o.CustomerID), nullInt(o.SupplierID),
		o.TotalAmount, o.Note, o.CreatedBy, o.OrderDate, o.CreatedAt).Scan(&o.ID)
}

func (t *txRepository) InsertItem(ctx context.Context, item *OrderItem) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO order_items
(order_id, product_id, variant_id, store_id, quantity, unit_cost, unit_price, discount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id`,
		item.OrderID, item.ProductID, nullInt(item.VariantID), item.StoreID,
		item.Quantity, item.UnitCost, item.UnitPrice, item.Discount).Scan(&item.ID)
	if err != nil {
		return err
	}
	for i := range item.Modifiers {
		m := &item.Modifiers[i]
		m.OrderItemID = item.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO order_item_modifiers
(order_item_id, price_adjustment, cost_adjustment, quantity_multiplier)
VALUES ($1,$2,$3,$4)
RETURNING id`,
			m.OrderItemID, m.PriceAdjustment, m.CostAdjustment, m.QuantityMultiplier).Scan(&m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) DeleteItems(ctx context.Context, orderID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_item_modifiers
WHERE order_item_id IN (SELECT id FROM order_items WHERE order_id=$1)`, orderID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID)
	return err
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, orderSelect+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	o.Items, err = loadItems(ctx, t.tx, id)
	return o, err
}

func (t *txRepository) UpdateHeader(ctx context.Context, o Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET
status=$2, total_amount=$3, note=$4, cancel_reason=$5,
approved_by=$6, cancelled_by=$7, approved_at=$8, cancelled_at=$9, updated_at=$10
WHERE id=$1`,
		o.ID, string(o.Status), o.TotalAmount, o.Note, o.CancelReason,
		nullInt(o.ApprovedBy), nullInt(o.CancelledBy), nullTime(o.ApprovedAt), nullTime(o.CancelledAt), o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const orderSelect = `SELECT id, number, order_type, status,
COALESCE(customer_id,0), COALESCE(supplier_id,0), total_amount,
COALESCE(note,''), COALESCE(cancel_reason,''),
created_by, COALESCE(approved_by,0), COALESCE(cancelled_by,0),
order_date, approved_at, cancelled_at, created_at, updated_at
FROM orders`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                       Order
		orderType, status       string
		approvedAt, cancelledAt *time.Time
	)
	err := row.Scan(&o.ID, &o.Number, &orderType, &status,
		&o.CustomerID, &o.SupplierID, &o.TotalAmount,
		&o.Note, &o.CancelReason,
		&o.CreatedBy, &o.ApprovedBy, &o.CancelledBy,
		&o.OrderDate, &approvedAt, &cancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	o.Type = OrderType(orderType)
	o.Status = OrderStatus(status)
	if approvedAt != nil {
		o.ApprovedAt = *approvedAt
	}
	if cancelledAt != nil {
		o.CancelledAt = *cancelledAt
	}
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, COALESCE(variant_id,0), store_id, quantity, unit_cost, unit_price, discount
FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	index := make(map[int64]int)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.StoreID,
			&item.Quantity, &item.UnitCost, &item.UnitPrice, &item.Discount); err != nil {
			return nil, err
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	mrows, err := q.Query(ctx, `SELECT id, order_item_id, price_adjustment, cost_adjustment, quantity_multiplier
FROM order_item_modifiers
WHERE order_item_id IN (SELECT id FROM order_items WHERE order_id=$1)
ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var m ItemModifier
		if err := mrows.Scan(&m.ID, &m.OrderItemID, &m.PriceAdjustment, &m.CostAdjustment, &m.QuantityMultiplier); err != nil {
			return nil, err
		}
		if i, ok := index[m.OrderItemID]; ok {
			items[i].Modifiers = append(items[i].Modifiers, m)
		}
	}
	return items, mrows.Err()
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
