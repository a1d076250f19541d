package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires the stock query and adjustment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleGetQuantity)
	r.Get("/stock/validate", h.handleValidateStock)
	r.Post("/stock/adjustments", h.handleAdjustment)
}

func (h *Handler) handleGetQuantity(w http.ResponseWriter, r *http.Request) {
	productID := queryInt(r, "product_id")
	storeID := queryInt(r, "store_id")
	variantID := queryInt(r, "variant_id")
	if productID == 0 || storeID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and store_id are required")
		return
	}
	qty, err := h.service.GetQuantity(r.Context(), productID, storeID, variantID)
	if err != nil {
		h.logger.Error("get quantity", slog.Any("error", err))
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"productId": productID,
		"storeId":   storeID,
		"variantId": variantID,
		"quantity":  qty,
	})
}

func (h *Handler) handleValidateStock(w http.ResponseWriter, r *http.Request) {
	productID := queryInt(r, "product_id")
	storeID := queryInt(r, "store_id")
	variantID := queryInt(r, "variant_id")
	quantity, _ := strconv.ParseFloat(r.URL.Query().Get("quantity"), 64)
	if productID == 0 || storeID == 0 || quantity <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id, store_id and a positive quantity are required")
		return
	}
	availability, err := h.service.ValidateStock(r.Context(), productID, storeID, variantID, quantity)
	if err != nil {
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

type adjustmentRequest struct {
	ProductID      int64   `json:"product_id" validate:"required,gt=0"`
	StoreID        int64   `json:"store_id" validate:"required,gt=0"`
	VariantID      int64   `json:"variant_id" validate:"gte=0"`
	QuantityChange float64 `json:"quantity_change" validate:"required"`
	UnitCost       float64 `json:"unit_cost" validate:"gte=0"`
	Note           string  `json:"note" validate:"max=500"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	txType := TypeAdjustmentIn
	if req.QuantityChange < 0 {
		txType = TypeAdjustmentOut
	}
	entry, err := h.service.Mutate(r.Context(), shared.ActorFromContext(r.Context()), Mutation{
		ProductID: req.ProductID,
		StoreID:   req.StoreID,
		VariantID: req.VariantID,
		Delta:     req.QuantityChange,
		Type:      txType,
		UnitCost:  req.UnitCost,
		RefModule: "ADJUSTMENT",
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Error("post adjustment", slog.Any("error", err))
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, EntryResponse(entry))
}

// EntryResponse shapes a ledger entry for the JSON surface.
func EntryResponse(e Entry) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"productId":   e.ProductID,
		"storeId":     e.StoreID,
		"variantId":   e.VariantID,
		"type":        e.Type,
		"qtyBefore":   e.QtyBefore,
		"qtyAfter":    e.QtyAfter,
		"qtyChanged":  e.QtyChanged,
		"unitCost":    e.UnitCost,
		"orderId":     e.OrderID,
		"orderItemId": e.OrderItemID,
		"transferId":  e.TransferID,
		"postedAt":    e.PostedAt,
	}
}

// RespondError maps ledger errors, surfacing the insufficient item list on
// stock validation failures. Other handlers reuse it for batch operations
// that flow through the ledger.
func RespondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error(), map[string]any{
			"insufficientItems": insufficient.Items,
		})
		return
	}
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrInvalidType), errors.Is(err, ErrEmptyBatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
