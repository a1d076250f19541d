package orders

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

// Handler wires the order workflow endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpdateDraft)
			r.Put("/items", h.handleEditApproved)
			r.Post("/submit", h.handleSubmit)
			r.Post("/approve", h.handleApprove)
			r.Post("/cancel", h.handleCancel)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateOrderInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	o, err := h.service.Create(r.Context(), shared.ActorFromContext(r.Context()), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: OrderStatus(r.URL.Query().Get("status")),
		Type:   OrderType(r.URL.Query().Get("type")),
		Limit:  int(queryInt(r, "limit")),
		Offset: int(queryInt(r, "offset")),
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	o, err := h.service.Get(r.Context(), id)
	if err != nil {
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var input UpdateDraftInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	o, err := h.service.UpdateDraft(r.Context(), shared.ActorFromContext(r.Context()), pathID(r), input)
	if err != nil {
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleEditApproved(w http.ResponseWriter, r *http.Request) {
	var input EditApprovedInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	o, err := h.service.EditApproved(r.Context(), shared.ActorFromContext(r.Context()), pathID(r), input)
	if err != nil {
		h.logger.Error("edit approved order", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Submit(r.Context(), shared.ActorFromContext(r.Context()), pathID(r))
	if err != nil {
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Approve(r.Context(), shared.ActorFromContext(r.Context()), pathID(r))
	if err != nil {
		h.logger.Error("approve order", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var input CancelInput
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
	}
	o, err := h.service.Cancel(r.Context(), shared.ActorFromContext(r.Context()), pathID(r), input.Reason)
	if err != nil {
		h.logger.Error("cancel order", slog.Any("error", err))
		ledger.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	return id
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
