package transfers

import "time"

// TransferStatus enumerates store transfer states. There is no pending
// stage: a draft either completes or gets cancelled.
type TransferStatus string

const (
	StatusDraft     TransferStatus = "DRAFT"
	StatusCompleted TransferStatus = "COMPLETED"
	StatusCancelled TransferStatus = "CANCELLED"
)

// Transfer moves general stock between two stores. Variant stock has to be
// recalled to general before it can travel.
type Transfer struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	FromStoreID  int64          `json:"from_store_id"`
	ToStoreID    int64          `json:"to_store_id"`
	Status       TransferStatus `json:"status"`
	Note         string         `json:"note,omitempty"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	CreatedBy    int64          `json:"created_by"`
	CompletedBy  int64          `json:"completed_by,omitempty"`
	CancelledBy  int64          `json:"cancelled_by,omitempty"`
	CompletedAt  time.Time      `json:"completed_at,omitzero"`
	CancelledAt  time.Time      `json:"cancelled_at,omitzero"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	Items []TransferItem `json:"items,omitempty"`
}

// TransferItem is one product line of a transfer.
type TransferItem struct {
	ID         int64   `json:"id"`
	TransferID int64   `json:"transfer_id"`
	ProductID  int64   `json:"product_id"`
	Quantity   float64 `json:"quantity"`
	UnitCost   float64 `json:"unit_cost"`
}
