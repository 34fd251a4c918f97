package receiving

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/platform/httpx"
	"github.com/lats-pos/receiving/internal/shared"
)

// Handler manages receiving endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchase-orders/{id}/receive", h.handleReceiveBatch)
	r.Post("/purchase-orders/{id}/receive/complete", h.handleComplete)
	r.Get("/purchase-orders/{id}/receive/summary", h.handleSummary)
	r.Get("/purchase-orders/{id}/received-items", h.handleReceivedItems)
}

type unitPayload struct {
	Serial   string `json:"serial" validate:"required"`
	IMEI     string `json:"imei"`
	MAC      string `json:"mac"`
	Barcode  string `json:"barcode"`
	Location string `json:"location"`
	Shelf    string `json:"shelf"`
	Bin      string `json:"bin"`
}

type itemUpdatePayload struct {
	ItemID           string        `json:"item_id" validate:"required,uuid"`
	ReceivedQuantity int           `json:"received_quantity" validate:"required,gt=0"`
	Units            []unitPayload `json:"units" validate:"dive"`
}

type receiveBatchRequest struct {
	Items []itemUpdatePayload `json:"items" validate:"required,min=1,dive"`
	Actor string              `json:"actor" validate:"required"`
}

func (h *Handler) handleReceiveBatch(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req receiveBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	updates := make([]ItemUpdate, 0, len(req.Items))
	for _, item := range req.Items {
		itemID, _ := uuid.Parse(item.ItemID)
		update := ItemUpdate{ItemID: itemID, ReceivedQuantity: item.ReceivedQuantity}
		for _, u := range item.Units {
			update.Units = append(update.Units, UnitInput{
				Serial: u.Serial, IMEI: u.IMEI, MAC: u.MAC, Barcode: u.Barcode,
				Location: u.Location, Shelf: u.Shelf, Bin: u.Bin,
			})
		}
		updates = append(updates, update)
	}
	result, err := h.service.UpdateReceivedQuantities(r.Context(), orderID, updates, req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type completeRequest struct {
	Actor string `json:"actor" validate:"required"`
	Notes string `json:"notes"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	result, err := h.service.CompleteReceive(r.Context(), orderID, req.Actor, req.Notes)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetSummary(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleReceivedItems(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListReceivedItems(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid order id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid batch", err.Error())
	case errors.Is(err, ErrExceedsOrdered):
		httpx.Problem(w, http.StatusConflict, "Quantity exceeded", err.Error())
	case errors.Is(err, ErrOrderState):
		httpx.Problem(w, http.StatusConflict, "Order not receivable", err.Error())
	case errors.Is(err, shared.ErrAlreadySubmitted):
		httpx.Problem(w, http.StatusConflict, "Already submitted", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already completed", err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, order.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid transition", err.Error())
	default:
		h.logger.Error("receiving request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected failure")
	}
}
