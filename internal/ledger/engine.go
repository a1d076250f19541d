package ledger

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"
)

// qtyEpsilon absorbs float noise when comparing quantities.
const qtyEpsilon = 1e-9

// TxStore is the row-level persistence surface the engine drives. All
// methods run inside the transaction the caller opened.
type TxStore interface {
	GetRowForUpdate(ctx context.Context, key RowKey) (StockRow, error)
	UpsertRow(ctx context.Context, row StockRow) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	ListEntriesByOrder(ctx context.Context, orderID int64) ([]Entry, error)
	ListEntriesByTransfer(ctx context.Context, transferID int64) ([]Entry, error)
}

// Engine applies mutation batches to stock rows. It is the single write
// path: every quantity change goes through Apply so the paired ledger entry
// can never be skipped.
type Engine struct {
	// AllowNegativeAdjustment lifts the non-negativity guard for
	// ADJUSTMENT_OUT movements only. Sales, transfers and allocation moves
	// are always guarded.
	AllowNegativeAdjustment bool
	// Now supplies entry timestamps, defaulting to time.Now().UTC.
	Now func() time.Time
}

// Apply locks every touched row in (product, store, variant) order, replays
// the mutations sequentially against the locked quantities, and writes the
// entries plus the final row values. Nothing is written when any guarded
// mutation falls short: the returned InsufficientStockError lists every
// offending mutation.
func (e *Engine) Apply(ctx context.Context, store TxStore, actorID int64, muts []Mutation) ([]Entry, error) {
	if len(muts) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, m := range muts {
		if err := validateMutation(m); err != nil {
			return nil, err
		}
	}

	keys := collectKeys(muts)
	running := make(map[RowKey]float64, len(keys))
	for _, key := range keys {
		row, err := store.GetRowForUpdate(ctx, key)
		if err != nil && !errors.Is(err, ErrRowNotFound) {
			return nil, err
		}
		running[key] = row.Quantity
	}

	entries := make([]Entry, 0, len(muts))
	var short []ShortItem
	for _, m := range muts {
		key := m.Key()
		before := running[key]
		after := before + m.Delta
		if after < -qtyEpsilon && e.guarded(m) {
			short = append(short, ShortItem{
				ProductID: m.ProductID,
				StoreID:   m.StoreID,
				VariantID: m.VariantID,
				Requested: -m.Delta,
				Available: math.Max(before, 0),
			})
			continue
		}
		if math.Abs(after) < qtyEpsilon {
			after = 0
		}
		running[key] = after
		entries = append(entries, Entry{
			ProductID:   m.ProductID,
			StoreID:     m.StoreID,
			VariantID:   m.VariantID,
			Type:        m.Type,
			QtyBefore:   before,
			QtyAfter:    after,
			QtyChanged:  after - before,
			UnitCost:    m.UnitCost,
			OrderID:     m.OrderID,
			OrderItemID: m.OrderItemID,
			TransferID:  m.TransferID,
			RefModule:   m.RefModule,
			Note:        m.Note,
			ActorID:     actorID,
		})
	}
	if len(short) > 0 {
		return nil, &InsufficientStockError{Items: short}
	}

	now := e.now()
	for i := range entries {
		entries[i].PostedAt = now
		id, err := store.InsertEntry(ctx, entries[i])
		if err != nil {
			return nil, err
		}
		entries[i].ID = id
	}
	for _, key := range keys {
		row := StockRow{Key: key, Quantity: running[key], UpdatedAt: now}
		if err := store.UpsertRow(ctx, row); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// guarded reports whether the mutation must not take its row below zero.
// Inbound movements are never rejected; ADJUSTMENT_OUT follows the
// configuration toggle.
func (e *Engine) guarded(m Mutation) bool {
	if m.Delta >= 0 {
		return false
	}
	if m.Type == TypeAdjustmentOut {
		return !e.AllowNegativeAdjustment
	}
	return true
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func validateMutation(m Mutation) error {
	if m.ProductID == 0 || m.StoreID == 0 {
		return errors.New("ledger: product and store required")
	}
	if !m.Type.Valid() {
		return ErrInvalidType
	}
	if math.Abs(m.Delta) < qtyEpsilon {
		return ErrInvalidQuantity
	}
	if dir := m.Type.direction(); (dir > 0 && m.Delta < 0) || (dir < 0 && m.Delta > 0) {
		return ErrInvalidQuantity
	}
	if m.UnitCost < 0 {
		return ErrInvalidUnitCost
	}
	return nil
}

func collectKeys(muts []Mutation) []RowKey {
	seen := make(map[RowKey]struct{}, len(muts))
	keys := make([]RowKey, 0, len(muts))
	for _, m := range muts {
		key := m.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}
