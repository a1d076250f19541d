package reports

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires the reporting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/stock", h.handleStockSummary)
		r.Get("/ledger", h.handleLedgerReport)
	})
}

func (h *Handler) handleStockSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.StockSummary(r.Context(), queryInt(r, "store_id"))
	if err != nil {
		h.logger.Error("stock summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleLedgerReport(w http.ResponseWriter, r *http.Request) {
	filter := ledger.EntryFilter{
		ProductID:   queryInt(r, "product_id"),
		StoreID:     queryInt(r, "store_id"),
		VariantID:   queryInt(r, "variant_id"),
		GeneralOnly: queryBool(r, "general_only"),
		OrderID:     queryInt(r, "order_id"),
		TransferID:  queryInt(r, "transfer_id"),
		From:        queryTime(r, "from"),
		To:          queryTime(r, "to"),
		Limit:       int(queryInt(r, "limit")),
	}
	report, err := h.service.LedgerReport(r.Context(), filter)
	if err != nil {
		h.logger.Error("ledger report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func queryTime(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
