package reports

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// StockPort is the ledger read surface the report side consumes.
type StockPort interface {
	ListStock(ctx context.Context, storeID int64) ([]ledger.StockRow, error)
	ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error)
}

// StockSummary aggregates the stock rows of one store.
type StockSummary struct {
	StoreID    int64              `json:"storeId"`
	Rows       []StockRowView     `json:"rows"`
	TotalUnits float64            `json:"totalUnits"`
	ByProduct  map[string]float64 `json:"byProduct"`
	AsOf       time.Time          `json:"asOf"`
}

// StockRowView is one stock row in a summary.
type StockRowView struct {
	ProductID int64     `json:"productId"`
	StoreID   int64     `json:"storeId"`
	VariantID int64     `json:"variantId,omitempty"`
	Quantity  float64   `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LedgerReport is a slice of the movement history.
type LedgerReport struct {
	Entries []ledger.Entry `json:"entries"`
	NetQty  float64        `json:"netQuantity"`
}

// Service builds cached stock reports off the ledger read surface.
type Service struct {
	stock StockPort
	cache *Cache
	now   func() time.Time
}

// NewService constructs Service. cache may be nil.
func NewService(stock StockPort, cache *Cache) *Service {
	return &Service{stock: stock, cache: cache, now: func() time.Time { return time.Now().UTC() }}
}

// StockSummary returns the current stock position of a store, or of all
// stores when storeID is 0. Served from cache until the next version bump.
func (s *Service) StockSummary(ctx context.Context, storeID int64) (StockSummary, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "stock", strconv.FormatInt(storeID, 10))
	if err != nil {
		return StockSummary{}, err
	}
	var out StockSummary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.buildStockSummary(ctx, storeID)
	})
	return out, err
}

func (s *Service) buildStockSummary(ctx context.Context, storeID int64) (StockSummary, error) {
	rows, err := s.stock.ListStock(ctx, storeID)
	if err != nil {
		return StockSummary{}, err
	}
	summary := StockSummary{
		StoreID:   storeID,
		ByProduct: make(map[string]float64),
		AsOf:      s.now(),
	}
	for _, row := range rows {
		summary.Rows = append(summary.Rows, StockRowView{
			ProductID: row.Key.ProductID,
			StoreID:   row.Key.StoreID,
			VariantID: row.Key.VariantID,
			Quantity:  row.Quantity,
			UpdatedAt: row.UpdatedAt,
		})
		summary.TotalUnits += row.Quantity
		summary.ByProduct[fmt.Sprintf("%d", row.Key.ProductID)] += row.Quantity
	}
	return summary, nil
}

// LedgerReport returns movement history matching the filter together with
// the net quantity change over the window. Uncached: the filter space is
// too wide to be worth versioned keys.
func (s *Service) LedgerReport(ctx context.Context, filter ledger.EntryFilter) (LedgerReport, error) {
	entries, err := s.stock.ListEntries(ctx, filter)
	if err != nil {
		return LedgerReport{}, err
	}
	report := LedgerReport{Entries: entries}
	for _, e := range entries {
		report.NetQty += e.QtyChanged
	}
	if report.Entries == nil {
		report.Entries = []ledger.Entry{}
	}
	return report, nil
}

// Bump invalidates cached summaries. The ledger service calls this after
// every committed batch.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
