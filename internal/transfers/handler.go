package transfers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires the store transfer endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfers handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{transferID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/complete", h.handleComplete)
			r.Post("/cancel", h.handleCancel)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateTransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tr, err := h.service.Create(r.Context(), shared.ActorFromContext(r.Context()), input)
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tr)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status:  TransferStatus(r.URL.Query().Get("status")),
		StoreID: queryInt(r, "store_id"),
		Limit:   int(queryInt(r, "limit")),
		Offset:  int(queryInt(r, "offset")),
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tr, err := h.service.Get(r.Context(), pathID(r))
	if err != nil {
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	tr, err := h.service.Complete(r.Context(), shared.ActorFromContext(r.Context()), pathID(r))
	if err != nil {
		h.logger.Error("complete transfer", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var input CancelInput
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
	}
	tr, err := h.service.Cancel(r.Context(), shared.ActorFromContext(r.Context()), pathID(r), input.Reason)
	if err != nil {
		h.logger.Error("cancel transfer", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	return id
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
