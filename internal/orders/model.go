package orders

import "time"

// OrderType distinguishes purchase and sale orders.
type OrderType string

const (
	OrderTypePurchase OrderType = "PURCHASE"
	OrderTypeSale     OrderType = "SALE"
)

// OrderStatus enumerates the workflow states. Draft and pending carry no
// stock effect; only the transition to completed touches the ledger.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is the order header.
type Order struct {
	ID           int64       `json:"id"`
	Number       string      `json:"number"`
	Type         OrderType   `json:"type"`
	Status       OrderStatus `json:"status"`
	CustomerID   int64       `json:"customer_id,omitempty"`
	SupplierID   int64       `json:"supplier_id,omitempty"`
	TotalAmount  float64     `json:"total_amount"`
	Note         string      `json:"note,omitempty"`
	CancelReason string      `json:"cancel_reason,omitempty"`
	CreatedBy    int64       `json:"created_by"`
	ApprovedBy   int64       `json:"approved_by,omitempty"`
	CancelledBy  int64       `json:"cancelled_by,omitempty"`
	OrderDate    time.Time   `json:"order_date"`
	ApprovedAt   time.Time   `json:"approved_at,omitzero"`
	CancelledAt  time.Time   `json:"cancelled_at,omitzero"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	Items []OrderItem `json:"items,omitempty"`
}

// OrderItem is one line of an order. VariantID 0 addresses general stock.
type OrderItem struct {
	ID        int64          `json:"id"`
	OrderID   int64          `json:"order_id"`
	ProductID int64          `json:"product_id"`
	VariantID int64          `json:"variant_id,omitempty"`
	StoreID   int64          `json:"store_id"`
	Quantity  float64        `json:"quantity"`
	UnitCost  float64        `json:"unit_cost"`
	UnitPrice float64        `json:"unit_price"`
	Discount  float64        `json:"discount"`
	Modifiers []ItemModifier `json:"modifiers,omitempty"`
}

// ItemModifier adjusts an item's effective price, cost or quantity.
// A zero QuantityMultiplier counts as 1.
type ItemModifier struct {
	ID                 int64   `json:"id"`
	OrderItemID        int64   `json:"order_item_id"`
	PriceAdjustment    float64 `json:"price_adjustment"`
	CostAdjustment     float64 `json:"cost_adjustment"`
	QuantityMultiplier float64 `json:"quantity_multiplier"`
}
