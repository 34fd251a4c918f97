package returns

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/platform/httpx"
)

// Handler manages return endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchase-orders/{id}/returns", h.handleProcess)
	r.Get("/purchase-orders/{id}/returns", h.handleList)
}

type processReturnRequest struct {
	OrderItemID string `json:"order_item_id" validate:"required,uuid"`
	ReturnType  string `json:"return_type" validate:"required,oneof=damage defect wrong_item excess other"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required"`
	Actor       string `json:"actor" validate:"required"`
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	itemID, _ := uuid.Parse(req.OrderItemID)
	ret, err := h.service.ProcessReturn(r.Context(), itemID, ReturnType(req.ReturnType), req.Quantity, req.Reason, req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid order id", err.Error())
		return
	}
	list, err := h.service.ListReturns(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": list})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid return", err.Error())
	case errors.Is(err, ErrExceedsReceived):
		httpx.Problem(w, http.StatusConflict, "Quantity exceeded", err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	default:
		h.logger.Error("return request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected failure")
	}
}
