package reports

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type stubStock struct {
	rows       []ledger.StockRow
	entries    []ledger.Entry
	loads      int
	lastFilter ledger.EntryFilter
}

func (s *stubStock) ListStock(ctx context.Context, storeID int64) ([]ledger.StockRow, error) {
	s.loads++
	if storeID == 0 {
		return s.rows, nil
	}
	var out []ledger.StockRow
	for _, row := range s.rows {
		if row.Key.StoreID == storeID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubStock) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	s.lastFilter = filter
	return s.entries, nil
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestStockSummaryAggregates(t *testing.T) {
	stock := &stubStock{rows: []ledger.StockRow{
		{Key: ledger.RowKey{ProductID: 1, StoreID: 2}, Quantity: 10},
		{Key: ledger.RowKey{ProductID: 1, StoreID: 2, VariantID: 5}, Quantity: 4},
		{Key: ledger.RowKey{ProductID: 3, StoreID: 2}, Quantity: 6},
	}}
	svc := NewService(stock, newTestCache(t))

	summary, err := svc.StockSummary(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, summary.Rows, 3)
	require.InDelta(t, 20.0, summary.TotalUnits, 1e-9)
	require.InDelta(t, 14.0, summary.ByProduct["1"], 1e-9)
	require.InDelta(t, 6.0, summary.ByProduct["3"], 1e-9)
}

func TestStockSummaryServedFromCacheUntilBump(t *testing.T) {
	stock := &stubStock{rows: []ledger.StockRow{
		{Key: ledger.RowKey{ProductID: 1, StoreID: 2}, Quantity: 10},
	}}
	svc := NewService(stock, newTestCache(t))
	ctx := context.Background()

	_, err := svc.StockSummary(ctx, 2)
	require.NoError(t, err)
	_, err = svc.StockSummary(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 1, stock.loads)

	// a committed mutation bumps the version, the next read reloads
	stock.rows[0].Quantity = 7
	require.NoError(t, svc.Bump(ctx))
	summary, err := svc.StockSummary(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, stock.loads)
	require.InDelta(t, 7.0, summary.TotalUnits, 1e-9)
}

func TestStockSummaryWorksWithoutRedis(t *testing.T) {
	stock := &stubStock{rows: []ledger.StockRow{
		{Key: ledger.RowKey{ProductID: 1, StoreID: 2}, Quantity: 3},
	}}
	svc := NewService(stock, NewCache(nil, time.Minute))

	summary, err := svc.StockSummary(context.Background(), 0)
	require.NoError(t, err)
	require.InDelta(t, 3.0, summary.TotalUnits, 1e-9)
	require.NoError(t, svc.Bump(context.Background()))
}

func TestLedgerReportNetsQuantity(t *testing.T) {
	stock := &stubStock{entries: []ledger.Entry{
		{QtyChanged: 10, Type: ledger.TypePurchase},
		{QtyChanged: -4, Type: ledger.TypeSale},
	}}
	svc := NewService(stock, NewCache(nil, time.Minute))

	report, err := svc.LedgerReport(context.Background(), ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)
	require.InDelta(t, 6.0, report.NetQty, 1e-9)
}

func TestLedgerReportGeneralOnlyQuery(t *testing.T) {
	stock := &stubStock{}
	svc := NewService(stock, NewCache(nil, time.Minute))
	router := chi.NewRouter()
	NewHandler(slog.Default(), svc).MountRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/reports/ledger?general_only=true&store_id=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, stock.lastFilter.GeneralOnly)
	require.EqualValues(t, 2, stock.lastFilter.StoreID)
	require.EqualValues(t, 0, stock.lastFilter.VariantID)
}
