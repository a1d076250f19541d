package transfers

// ItemInput is one transfer line as submitted by a client.
type ItemInput struct {
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64 `json:"unitCost" validate:"gte=0"`
}

// CreateTransferInput creates a draft transfer between two stores.
type CreateTransferInput struct {
	FromStoreID int64       `json:"fromStoreId" validate:"required,gt=0"`
	ToStoreID   int64       `json:"toStoreId" validate:"required,gt=0"`
	Note        string      `json:"note"`
	Items       []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// CancelInput optionally records a reason.
type CancelInput struct {
	Reason string `json:"reason"`
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	Status  TransferStatus
	StoreID int64
	Limit   int
	Offset  int
}

func itemsFromInput(transferID int64, inputs []ItemInput) []TransferItem {
	items := make([]TransferItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, TransferItem{
			TransferID: transferID,
			ProductID:  in.ProductID,
			Quantity:   in.Quantity,
			UnitCost:   in.UnitCost,
		})
	}
	return items
}
