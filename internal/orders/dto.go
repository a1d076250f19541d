package orders

// ModifierInput is a modifier attached to an item on create or edit.
type ModifierInput struct {
	PriceAdjustment    float64 `json:"priceAdjustment"`
	CostAdjustment     float64 `json:"costAdjustment"`
	QuantityMultiplier float64 `json:"quantityMultiplier" validate:"gte=0"`
}

// ItemInput is one order line as submitted by a client.
type ItemInput struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	VariantID int64           `json:"variantId" validate:"gte=0"`
	StoreID   int64           `json:"storeId" validate:"required,gt=0"`
	Quantity  float64         `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64         `json:"unitCost" validate:"gte=0"`
	UnitPrice float64         `json:"unitPrice" validate:"gte=0"`
	Discount  float64         `json:"discount" validate:"gte=0"`
	Modifiers []ModifierInput `json:"modifiers" validate:"dive"`
}

// CreateOrderInput creates a new order. Submit=true creates it as PENDING,
// otherwise it starts as DRAFT.
type CreateOrderInput struct {
	Type       OrderType   `json:"type" validate:"required,oneof=PURCHASE SALE"`
	CustomerID int64       `json:"customerId" validate:"gte=0"`
	SupplierID int64       `json:"supplierId" validate:"gte=0"`
	Note       string      `json:"note"`
	Submit     bool        `json:"submit"`
	Items      []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// UpdateDraftInput replaces a draft order's note and items.
type UpdateDraftInput struct {
	Note  string      `json:"note"`
	Items []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// EditApprovedInput replaces the items of a completed order. Stock is
// re-derived atomically: the old effect is reversed and the new items are
// applied in one batch.
type EditApprovedInput struct {
	// RequestID deduplicates retried edits; a replayed request must not
	// reverse and re-apply the stock effect twice.
	RequestID string      `json:"requestId" validate:"required"`
	Items     []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// CancelInput optionally records a reason.
type CancelInput struct {
	Reason string `json:"reason"`
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	Status OrderStatus
	Type   OrderType
	Limit  int
	Offset int
}

func itemsFromInput(orderID int64, inputs []ItemInput) []OrderItem {
	items := make([]OrderItem, 0, len(inputs))
	for _, in := range inputs {
		item := OrderItem{
			OrderID:   orderID,
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			StoreID:   in.StoreID,
			Quantity:  in.Quantity,
			UnitCost:  in.UnitCost,
			UnitPrice: in.UnitPrice,
			Discount:  in.Discount,
		}
		for _, m := range in.Modifiers {
			item.Modifiers = append(item.Modifiers, ItemModifier{
				PriceAdjustment:    m.PriceAdjustment,
				CostAdjustment:     m.CostAdjustment,
				QuantityMultiplier: m.QuantityMultiplier,
			})
		}
		items = append(items, item)
	}
	return items
}
