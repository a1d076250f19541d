package allocation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires allocation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the allocation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocations/split", h.handleSplit)
	r.Post("/allocations/recall", h.handleRecall)
	r.Put("/allocations/variant-stock", h.handleSetVariantStock)
}

type moveRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	StoreID   int64   `json:"store_id" validate:"required,gt=0"`
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
}

type setStockRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	StoreID   int64   `json:"store_id" validate:"required,gt=0"`
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"gte=0"`
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.service.SplitToVariant)
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.service.RecallFromVariant)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, productID, storeID, variantID int64, quantity float64) error) {
	var req moveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := op(r.Context(), shared.ActorFromContext(r.Context()), req.ProductID, req.StoreID, req.VariantID, req.Quantity)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleSetVariantStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.service.SetVariantStock(r.Context(), shared.ActorFromContext(r.Context()), req.ProductID, req.StoreID, req.VariantID, req.Quantity)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAllocation):
		ledger.RespondError(w, err)
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("allocation request failed", slog.Any("error", err))
		ledger.RespondError(w, err)
	}
}
