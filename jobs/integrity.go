package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Drift is one stock row whose quantity no longer equals the sum of its
// ledger entries. A non-empty scan result means something bypassed the
// ledger engine and needs manual investigation.
type Drift struct {
	ProductID   int64
	StoreID     int64
	VariantID   int64
	RowQuantity float64
	LedgerSum   float64
}

// Scanner runs the reconstructability checks directly against PostgreSQL.
type Scanner struct {
	pool *pgxpool.Pool
}

// NewScanner constructs Scanner.
func NewScanner(pool *pgxpool.Pool) *Scanner {
	return &Scanner{pool: pool}
}

// Scan compares every stock row against the sum of its ledger entries.
// storeID 0 scans all stores.
func (s *Scanner) Scan(ctx context.Context, storeID int64) ([]Drift, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("jobs: scanner not configured")
	}
	rows, err := s.pool.Query(ctx, `SELECT r.product_id, r.store_id, COALESCE(r.variant_id,0),
r.quantity, COALESCE(l.total, 0)
FROM stock_rows r
LEFT JOIN (
    SELECT product_id, store_id, COALESCE(variant_id,0) AS variant_id, SUM(qty_changed) AS total
    FROM stock_ledger
    GROUP BY 1, 2, 3
) l ON l.product_id = r.product_id
   AND l.store_id = r.store_id
   AND l.variant_id = COALESCE(r.variant_id,0)
WHERE ($1::bigint = 0 OR r.store_id = $1)
  AND ABS(r.quantity - COALESCE(l.total, 0)) > 1e-9
ORDER BY r.product_id, r.store_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.StoreID, &d.VariantID, &d.RowQuantity, &d.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// Snapshot copies all current stock rows into stock_snapshots under the
// given date, replacing an existing snapshot for the same date.
func (s *Scanner) Snapshot(ctx context.Context, at time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("jobs: scanner not configured")
	}
	day := at.Truncate(24 * time.Hour)
	if _, err := s.pool.Exec(ctx, `DELETE FROM stock_snapshots WHERE snapshot_date=$1`, day); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO stock_snapshots (snapshot_date, product_id, store_id, variant_id, quantity)
SELECT $1, product_id, store_id, variant_id, quantity FROM stock_rows`, day)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
