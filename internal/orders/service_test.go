package orders

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// memRepo backs the workflow with in-memory state. WithTx snapshots the
// whole state and restores it when fn fails, mirroring a rollback.
type memRepo struct {
	orders  map[int64]*Order
	nextID  int64
	itemID  int64
	stock   map[ledger.RowKey]float64
	entries []ledger.Entry
	entryID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders: make(map[int64]*Order),
		stock:  make(map[ledger.RowKey]float64),
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapOrders := make(map[int64]*Order, len(r.orders))
	for id, o := range r.orders {
		clone := *o
		clone.Items = append([]OrderItem(nil), o.Items...)
		snapOrders[id] = &clone
	}
	snapStock := make(map[ledger.RowKey]float64, len(r.stock))
	for k, v := range r.stock {
		snapStock[k] = v
	}
	snapEntries := append([]ledger.Entry(nil), r.entries...)
	snapIDs := [3]int64{r.nextID, r.itemID, r.entryID}

	if err := fn(ctx, &memTx{r: r}); err != nil {
		r.orders = snapOrders
		r.stock = snapStock
		r.entries = snapEntries
		r.nextID, r.itemID, r.entryID = snapIDs[0], snapIDs[1], snapIDs[2]
		return err
	}
	return nil
}

func (r *memRepo) Get(ctx context.Context, id int64) (Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return Order{}, shared.ErrNotFound
	}
	clone := *o
	clone.Items = append([]OrderItem(nil), o.Items...)
	return clone, nil
}

func (r *memRepo) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Type != "" && o.Type != filter.Type {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

type memTx struct {
	r *memRepo
}

func (t *memTx) Insert(ctx context.Context, o *Order) error {
	t.r.nextID++
	o.ID = t.r.nextID
	clone := *o
	clone.Items = nil
	t.r.orders[o.ID] = &clone
	return nil
}

func (t *memTx) InsertItem(ctx context.Context, item *OrderItem) error {
	t.r.itemID++
	item.ID = t.r.itemID
	o, ok := t.r.orders[item.OrderID]
	if !ok {
		return shared.ErrNotFound
	}
	o.Items = append(o.Items, *item)
	return nil
}

func (t *memTx) DeleteItems(ctx context.Context, orderID int64) error {
	o, ok := t.r.orders[orderID]
	if !ok {
		return shared.ErrNotFound
	}
	o.Items = nil
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, ok := t.r.orders[id]
	if !ok {
		return Order{}, shared.ErrNotFound
	}
	clone := *o
	clone.Items = append([]OrderItem(nil), o.Items...)
	return clone, nil
}

func (t *memTx) UpdateHeader(ctx context.Context, o Order) error {
	stored, ok := t.r.orders[o.ID]
	if !ok {
		return shared.ErrNotFound
	}
	items := stored.Items
	*stored = o
	stored.Items = items
	return nil
}

func (t *memTx) Ledger() ledger.TxStore {
	return &memTxLedger{r: t.r}
}

type memTxLedger struct {
	r *memRepo
}

func (s *memTxLedger) GetRowForUpdate(ctx context.Context, key ledger.RowKey) (ledger.StockRow, error) {
	qty, ok := s.r.stock[key]
	if !ok {
		return ledger.StockRow{Key: key}, ledger.ErrRowNotFound
	}
	return ledger.StockRow{Key: key, Quantity: qty}, nil
}

func (s *memTxLedger) UpsertRow(ctx context.Context, row ledger.StockRow) error {
	s.r.stock[row.Key] = row.Quantity
	return nil
}

func (s *memTxLedger) InsertEntry(ctx context.Context, entry ledger.Entry) (int64, error) {
	s.r.entryID++
	entry.ID = s.r.entryID
	s.r.entries = append(s.r.entries, entry)
	return entry.ID, nil
}

func (s *memTxLedger) ListEntriesByOrder(ctx context.Context, orderID int64) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range s.r.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memTxLedger) ListEntriesByTransfer(ctx context.Context, transferID int64) ([]ledger.Entry, error) {
	return nil, nil
}

// stubStock drives the real ledger engine against whatever store the
// workflow hands it, exactly like the production service does.
type stubStock struct {
	engine   ledger.Engine
	finished int
}

func (s *stubStock) ApplyBatch(ctx context.Context, store ledger.TxStore, actorID int64, muts []ledger.Mutation) ([]ledger.Entry, error) {
	return s.engine.Apply(ctx, store, actorID, muts)
}

func (s *stubStock) FinishBatch(ctx context.Context, actorID int64, entries []ledger.Entry) {
	s.finished += len(entries)
}

type stubIdem struct {
	keys map[string]bool
}

func (s *stubIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys == nil {
		s.keys = make(map[string]bool)
	}
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *stubIdem) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

func newTestService(repo *memRepo) (*Service, *stubStock, *stubIdem) {
	stock := &stubStock{}
	idem := &stubIdem{}
	svc := NewService(slog.Default(), repo, stock, nil, nil, idem)
	return svc, stock, idem
}

func seedSale(t *testing.T, svc *Service, items []ItemInput) Order {
	t.Helper()
	o, err := svc.Create(context.Background(), 7, CreateOrderInput{
		Type:       OrderTypeSale,
		CustomerID: 3,
		Submit:     true,
		Items:      items,
	})
	require.NoError(t, err)
	require.Equal(t, OrderStatusPending, o.Status)
	return o
}

func TestApproveSaleAppliesStockAndCompletes(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 1, StoreID: 2}
	repo.stock[key] = 100
	svc, stock, _ := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{
		ProductID: 1, StoreID: 2, Quantity: 10, UnitPrice: 6,
		Modifiers: []ModifierInput{{QuantityMultiplier: 2}},
	}})

	approved, err := svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusCompleted, approved.Status)
	require.Equal(t, int64(7), approved.ApprovedBy)
	require.InDelta(t, 120.0, approved.TotalAmount, 1e-9)

	require.InDelta(t, 80.0, repo.stock[key], 1e-9)
	require.Len(t, repo.entries, 1)
	require.Equal(t, ledger.TypeSale, repo.entries[0].Type)
	require.Equal(t, o.ID, repo.entries[0].OrderID)
	require.Equal(t, 1, stock.finished)
}

func TestApproveShortfallLeavesOrderAndStockUntouched(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 1, StoreID: 2}
	repo.stock[key] = 5
	svc, stock, idem := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 10, UnitPrice: 1}})

	_, err := svc.Approve(ctx, 7, o.ID)
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Items, 1)
	require.InDelta(t, 5.0, insufficient.Items[0].Available, 1e-9)

	reloaded, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusPending, reloaded.Status)
	require.InDelta(t, 5.0, repo.stock[key], 1e-9)
	require.Empty(t, repo.entries)
	require.Zero(t, stock.finished)
	// failed approval releases the key so a corrected retry goes through
	require.Empty(t, idem.keys)
}

func TestApproveRequiresPending(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o, err := svc.Create(ctx, 7, CreateOrderInput{
		Type:       OrderTypePurchase,
		SupplierID: 4,
		Items:      []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 3, UnitCost: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, OrderStatusDraft, o.Status)

	_, err = svc.Approve(ctx, 7, o.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Submit(ctx, 7, o.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
}

func TestApproveIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	repo.stock[ledger.RowKey{ProductID: 1, StoreID: 2}] = 10
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 4, UnitPrice: 1}})
	_, err := svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, 7, o.ID)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.entries, 1)
}

func TestCancelCompletedSaleRestoresStock(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 1, StoreID: 2}
	repo.stock[key] = 50
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 20, UnitPrice: 3}})
	_, err := svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
	require.InDelta(t, 30.0, repo.stock[key], 1e-9)

	cancelled, err := svc.Cancel(ctx, 9, o.ID, "customer refund")
	require.NoError(t, err)
	require.Equal(t, OrderStatusCancelled, cancelled.Status)
	require.Equal(t, "customer refund", cancelled.CancelReason)
	require.Equal(t, int64(9), cancelled.CancelledBy)

	require.InDelta(t, 50.0, repo.stock[key], 1e-9)
	require.Len(t, repo.entries, 2)
	require.Equal(t, ledger.TypeReturnIn, repo.entries[1].Type)
	require.InDelta(t, 20.0, repo.entries[1].QtyChanged, 1e-9)
}

func TestCancelCompletedPurchaseRemovesStock(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 5, StoreID: 1}
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o, err := svc.Create(ctx, 7, CreateOrderInput{
		Type:       OrderTypePurchase,
		SupplierID: 4,
		Submit:     true,
		Items:      []ItemInput{{ProductID: 5, StoreID: 1, Quantity: 30, UnitCost: 2}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
	require.InDelta(t, 30.0, repo.stock[key], 1e-9)

	_, err = svc.Cancel(ctx, 7, o.ID, "")
	require.NoError(t, err)
	require.InDelta(t, 0.0, repo.stock[key], 1e-9)
	require.Equal(t, ledger.TypeReturnOut, repo.entries[1].Type)
}

func TestCancelPurchaseRejectedWhenStockAlreadyGone(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 5, StoreID: 1}
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o, err := svc.Create(ctx, 7, CreateOrderInput{
		Type:       OrderTypePurchase,
		SupplierID: 4,
		Submit:     true,
		Items:      []ItemInput{{ProductID: 5, StoreID: 1, Quantity: 30, UnitCost: 2}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)

	// the received goods were sold on, the reversal cannot fund itself
	repo.stock[key] = 10

	_, err = svc.Cancel(ctx, 7, o.ID, "")
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	reloaded, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusCompleted, reloaded.Status)
	require.InDelta(t, 10.0, repo.stock[key], 1e-9)
}

func TestCancelDraftHasNoStockEffect(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o, err := svc.Create(ctx, 7, CreateOrderInput{
		Type:       OrderTypeSale,
		CustomerID: 3,
		Items:      []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 5, UnitPrice: 1}},
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, 7, o.ID, "changed mind")
	require.NoError(t, err)
	require.Equal(t, OrderStatusCancelled, cancelled.Status)
	require.Empty(t, repo.entries)

	_, err = svc.Cancel(ctx, 7, o.ID, "again")
	require.Error(t, err)
}

func TestEditApprovedReplacesEffectAtomically(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 1, StoreID: 2}
	repo.stock[key] = 20
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 10, UnitPrice: 4}})
	_, err := svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
	require.InDelta(t, 10.0, repo.stock[key], 1e-9)

	// raise beyond what reversal plus row can fund: whole edit aborts
	_, err = svc.EditApproved(ctx, 7, o.ID, EditApprovedInput{
		RequestID: "edit-1",
		Items:     []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 25, UnitPrice: 4}},
	})
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.InDelta(t, 10.0, repo.stock[key], 1e-9)

	reloaded, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Items, 1)
	require.InDelta(t, 10.0, reloaded.Items[0].Quantity, 1e-9)

	// a fundable edit lands completely
	edited, err := svc.EditApproved(ctx, 7, o.ID, EditApprovedInput{
		RequestID: "edit-2",
		Items:     []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 15, UnitPrice: 4}},
	})
	require.NoError(t, err)
	require.InDelta(t, 5.0, repo.stock[key], 1e-9)
	require.InDelta(t, 60.0, edited.TotalAmount, 1e-9)
	require.Equal(t, OrderStatusCompleted, edited.Status)
}

func TestEditApprovedDeduplicatesRetries(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 1, StoreID: 2}
	repo.stock[key] = 40
	svc, _, idem := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 10, UnitPrice: 4}})
	_, err := svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
	require.InDelta(t, 30.0, repo.stock[key], 1e-9)

	input := EditApprovedInput{
		RequestID: "edit-1",
		Items:     []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 15, UnitPrice: 4}},
	}
	_, err = svc.EditApproved(ctx, 7, o.ID, input)
	require.NoError(t, err)
	require.InDelta(t, 25.0, repo.stock[key], 1e-9)

	// a replayed request must not reverse and re-apply a second time
	_, err = svc.EditApproved(ctx, 7, o.ID, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.InDelta(t, 25.0, repo.stock[key], 1e-9)

	// a failed edit releases its key so the caller can retry
	_, err = svc.EditApproved(ctx, 7, o.ID, EditApprovedInput{
		RequestID: "edit-2",
		Items:     []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 100, UnitPrice: 4}},
	})
	require.Error(t, err)
	require.NotContains(t, idem.keys, fmt.Sprintf("order:edit:%d:edit-2", o.ID))

	// a fresh request id goes through
	_, err = svc.EditApproved(ctx, 7, o.ID, EditApprovedInput{
		RequestID: "edit-3",
		Items:     []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 20, UnitPrice: 4}},
	})
	require.NoError(t, err)
	require.InDelta(t, 20.0, repo.stock[key], 1e-9)
}

func TestEditThenCancelReversesNetEffect(t *testing.T) {
	repo := newMemRepo()
	key := ledger.RowKey{ProductID: 1, StoreID: 2}
	repo.stock[key] = 40
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	o := seedSale(t, svc, []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 10, UnitPrice: 4}})
	_, err := svc.Approve(ctx, 7, o.ID)
	require.NoError(t, err)
	_, err = svc.EditApproved(ctx, 7, o.ID, EditApprovedInput{
		RequestID: "edit-1",
		Items:     []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 25, UnitPrice: 4}},
	})
	require.NoError(t, err)
	require.InDelta(t, 15.0, repo.stock[key], 1e-9)

	// cancel nets sale, reversal and edit entries back to the start
	_, err = svc.Cancel(ctx, 7, o.ID, "")
	require.NoError(t, err)
	require.InDelta(t, 40.0, repo.stock[key], 1e-9)
}

func TestCreateValidatesParty(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	items := []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 1}}

	_, err := svc.Create(context.Background(), 7, CreateOrderInput{Type: OrderTypeSale, Items: items})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), 7, CreateOrderInput{Type: OrderTypePurchase, Items: items})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestOrderNumbersAreUniquePerType(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		o, err := svc.Create(ctx, 7, CreateOrderInput{
			Type:       OrderTypeSale,
			CustomerID: 3,
			Items:      []ItemInput{{ProductID: 1, StoreID: 2, Quantity: 1}},
		})
		require.NoError(t, err)
		require.False(t, seen[o.Number], fmt.Sprintf("duplicate number %s", o.Number))
		seen[o.Number] = true
	}
}
