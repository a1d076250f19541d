package allocation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type stubLedger struct {
	engine ledger.Engine
	store  memLedgerStore
}

type memLedgerStore struct {
	rows    map[ledger.RowKey]float64
	entries *[]ledger.Entry
	nextID  *int64
}

func newStubLedger() *stubLedger {
	entries := []ledger.Entry{}
	var nextID int64
	return &stubLedger{store: memLedgerStore{
		rows:    make(map[ledger.RowKey]float64),
		entries: &entries,
		nextID:  &nextID,
	}}
}

func (s memLedgerStore) GetRowForUpdate(ctx context.Context, key ledger.RowKey) (ledger.StockRow, error) {
	qty, ok := s.rows[key]
	if !ok {
		return ledger.StockRow{Key: key}, ledger.ErrRowNotFound
	}
	return ledger.StockRow{Key: key, Quantity: qty}, nil
}

func (s memLedgerStore) UpsertRow(ctx context.Context, row ledger.StockRow) error {
	s.rows[row.Key] = row.Quantity
	return nil
}

func (s memLedgerStore) InsertEntry(ctx context.Context, entry ledger.Entry) (int64, error) {
	*s.nextID++
	entry.ID = *s.nextID
	*s.entries = append(*s.entries, entry)
	return entry.ID, nil
}

func (s memLedgerStore) ListEntriesByOrder(ctx context.Context, orderID int64) ([]ledger.Entry, error) {
	return nil, nil
}

func (s memLedgerStore) ListEntriesByTransfer(ctx context.Context, transferID int64) ([]ledger.Entry, error) {
	return nil, nil
}

func (s *stubLedger) GetQuantity(ctx context.Context, productID, storeID, variantID int64) (float64, error) {
	return s.store.rows[ledger.RowKey{ProductID: productID, StoreID: storeID, VariantID: variantID}], nil
}

func (s *stubLedger) MutateBatch(ctx context.Context, actorID int64, muts []ledger.Mutation) ([]ledger.Entry, error) {
	return s.engine.Apply(ctx, s.store, actorID, muts)
}

func TestSplitThenRecallRestoresRows(t *testing.T) {
	lg := newStubLedger()
	general := ledger.RowKey{ProductID: 1, StoreID: 1}
	variant := ledger.RowKey{ProductID: 1, StoreID: 1, VariantID: 5}
	lg.store.rows[general] = 50
	svc := NewService(lg, nil)
	ctx := context.Background()

	require.NoError(t, svc.SplitToVariant(ctx, 1, 1, 1, 5, 20))
	require.InDelta(t, 30.0, lg.store.rows[general], 1e-9)
	require.InDelta(t, 20.0, lg.store.rows[variant], 1e-9)

	require.NoError(t, svc.RecallFromVariant(ctx, 1, 1, 1, 5, 20))
	require.InDelta(t, 50.0, lg.store.rows[general], 1e-9)
	require.InDelta(t, 0.0, lg.store.rows[variant], 1e-9)

	// two offsetting pairs on the ledger, nothing deleted
	require.Len(t, *lg.store.entries, 4)
	var sum float64
	for _, e := range *lg.store.entries {
		sum += e.QtyChanged
	}
	require.InDelta(t, 0.0, sum, 1e-9)
}

func TestSplitRejectsInsufficientGeneralStock(t *testing.T) {
	lg := newStubLedger()
	lg.store.rows[ledger.RowKey{ProductID: 1, StoreID: 1}] = 5
	svc := NewService(lg, nil)

	err := svc.SplitToVariant(context.Background(), 1, 1, 1, 5, 8)
	require.ErrorIs(t, err, ErrAllocation)
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, *lg.store.entries)
	require.InDelta(t, 5.0, lg.store.rows[ledger.RowKey{ProductID: 1, StoreID: 1}], 1e-9)
}

func TestRecallRejectsInsufficientVariantStock(t *testing.T) {
	lg := newStubLedger()
	lg.store.rows[ledger.RowKey{ProductID: 1, StoreID: 1, VariantID: 5}] = 2
	svc := NewService(lg, nil)

	err := svc.RecallFromVariant(context.Background(), 1, 1, 1, 5, 3)
	require.ErrorIs(t, err, ErrAllocation)
}

func TestSetVariantStock(t *testing.T) {
	lg := newStubLedger()
	general := ledger.RowKey{ProductID: 1, StoreID: 1}
	variant := ledger.RowKey{ProductID: 1, StoreID: 1, VariantID: 5}
	lg.store.rows[general] = 40
	lg.store.rows[variant] = 10
	svc := NewService(lg, nil)
	ctx := context.Background()

	// raise: splits the difference out of general
	require.NoError(t, svc.SetVariantStock(ctx, 1, 1, 1, 5, 25))
	require.InDelta(t, 25.0, lg.store.rows[variant], 1e-9)
	require.InDelta(t, 25.0, lg.store.rows[general], 1e-9)

	// lower: recalls the difference back
	require.NoError(t, svc.SetVariantStock(ctx, 1, 1, 1, 5, 5))
	require.InDelta(t, 5.0, lg.store.rows[variant], 1e-9)
	require.InDelta(t, 45.0, lg.store.rows[general], 1e-9)

	// no-op when already at target
	require.NoError(t, svc.SetVariantStock(ctx, 1, 1, 1, 5, 5))
	require.Len(t, *lg.store.entries, 4)

	require.ErrorIs(t, svc.SetVariantStock(ctx, 1, 1, 1, 0, 5), ErrInvalidInput)
}
