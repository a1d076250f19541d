package ledger

import (
	"errors"
	"fmt"
	"time"
)

// TransactionType enumerates supported stock movements. The vocabulary is
// closed; the engine never invents new codes at runtime.
type TransactionType string

const (
	TypePurchase      TransactionType = "PURCHASE"
	TypeSale          TransactionType = "SALE"
	TypeReturnIn      TransactionType = "RETURN_IN"
	TypeReturnOut     TransactionType = "RETURN_OUT"
	TypeAdjustmentIn  TransactionType = "ADJUSTMENT_IN"
	TypeAdjustmentOut TransactionType = "ADJUSTMENT_OUT"
	TypeTransferIn    TransactionType = "TRANSFER_IN"
	TypeTransferOut   TransactionType = "TRANSFER_OUT"
	TypeDamageLoss    TransactionType = "DAMAGE_LOSS"
	TypeSample        TransactionType = "SAMPLE"
	TypeAllocate      TransactionType = "ALLOCATE"
	TypeRecall        TransactionType = "RECALL"
)

// Valid reports whether t belongs to the closed vocabulary.
func (t TransactionType) Valid() bool {
	switch t {
	case TypePurchase, TypeSale, TypeReturnIn, TypeReturnOut,
		TypeAdjustmentIn, TypeAdjustmentOut, TypeTransferIn, TypeTransferOut,
		TypeDamageLoss, TypeSample, TypeAllocate, TypeRecall:
		return true
	}
	return false
}

// direction constraints per type: +1 inbound only, -1 outbound only,
// 0 either way (allocation legs).
func (t TransactionType) direction() int {
	switch t {
	case TypePurchase, TypeReturnIn, TypeAdjustmentIn, TypeTransferIn:
		return 1
	case TypeSale, TypeReturnOut, TypeAdjustmentOut, TypeTransferOut, TypeDamageLoss, TypeSample:
		return -1
	default:
		return 0
	}
}

// RowKey identifies one stock row. VariantID 0 addresses the product's
// undifferentiated (general) stock in the store.
type RowKey struct {
	ProductID int64
	StoreID   int64
	VariantID int64
}

func (k RowKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.ProductID, k.StoreID, k.VariantID)
}

// less orders keys by (product, store, variant); every batch locks rows in
// this order so overlapping batches cannot deadlock on each other.
func (k RowKey) less(other RowKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	if k.StoreID != other.StoreID {
		return k.StoreID < other.StoreID
	}
	return k.VariantID < other.VariantID
}

// StockRow holds the current quantity for one (product, store, variant) cell.
// Mutated only through the ledger engine.
type StockRow struct {
	Key       RowKey
	Quantity  float64
	UpdatedAt time.Time
}

// Entry is one immutable audit record of a stock mutation.
type Entry struct {
	ID          int64
	ProductID   int64
	StoreID     int64
	VariantID   int64
	Type        TransactionType
	QtyBefore   float64
	QtyAfter    float64
	QtyChanged  float64
	UnitCost    float64
	OrderID     int64
	OrderItemID int64
	TransferID  int64
	RefModule   string
	Note        string
	ActorID     int64
	PostedAt    time.Time
}

// Mutation describes one requested stock movement.
type Mutation struct {
	ProductID   int64
	StoreID     int64
	VariantID   int64
	Delta       float64
	Type        TransactionType
	UnitCost    float64
	OrderID     int64
	OrderItemID int64
	TransferID  int64
	RefModule   string
	Note        string
}

// Key returns the stock row addressed by the mutation.
func (m Mutation) Key() RowKey {
	return RowKey{ProductID: m.ProductID, StoreID: m.StoreID, VariantID: m.VariantID}
}

// ShortItem describes one mutation rejected for insufficient stock.
type ShortItem struct {
	ProductID int64   `json:"productId"`
	StoreID   int64   `json:"storeId"`
	VariantID int64   `json:"variantId,omitempty"`
	Requested float64 `json:"requestedQuantity"`
	Available float64 `json:"availableQuantity"`
}

// InsufficientStockError rejects a batch whose outbound movements would
// drive a stock row negative. Items lists every offending mutation so the
// caller can correct quantities and retry.
type InsufficientStockError struct {
	Items []ShortItem
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for %d item(s)", len(e.Items))
}

// Availability is the result of a stock validation request.
type Availability struct {
	IsValid   bool    `json:"isValid"`
	Available float64 `json:"availableQuantity"`
}

// EntryFilter narrows ledger entry listings. VariantID 0 matches any
// variant; GeneralOnly restricts to general stock (no variant) instead.
type EntryFilter struct {
	ProductID   int64
	StoreID     int64
	VariantID   int64
	GeneralOnly bool
	OrderID     int64
	TransferID  int64
	From        time.Time
	To          time.Time
	Limit       int
}

var (
	// ErrInvalidQuantity indicates a zero or wrongly signed delta.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero and match the movement direction")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
	// ErrInvalidType indicates an unknown transaction type code.
	ErrInvalidType = errors.New("ledger: unknown transaction type")
	// ErrEmptyBatch indicates a batch with no mutations.
	ErrEmptyBatch = errors.New("ledger: batch requires at least one mutation")
	// ErrRowNotFound indicates a missing stock row.
	ErrRowNotFound = errors.New("ledger: stock row not found")
)
