package quality

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/platform/httpx"
)

// Handler manages quality check endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers quality check routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quality-checks", h.handleCreate)
	r.Get("/quality-checks/{id}", h.handleGet)
	r.Get("/quality-checks/{id}/items", h.handleListItems)
	r.Get("/quality-checks/{id}/summary", h.handleSummary)
	r.Post("/quality-checks/{id}/complete", h.handleComplete)
	r.Post("/quality-checks/{id}/receive", h.handleReceive)
	r.Post("/quality-check-items/{id}", h.handleUpdateItem)
	r.Get("/purchase-orders/{id}/quality-check", h.handleGetByOrder)
}

type createCheckRequest struct {
	PurchaseOrderID string `json:"purchase_order_id" validate:"required,uuid"`
	TemplateID      string `json:"template_id" validate:"required,uuid"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	orderID, _ := uuid.Parse(req.PurchaseOrderID)
	templateID, _ := uuid.Parse(req.TemplateID)
	check, items, err := h.service.CreateCheckFromTemplate(r.Context(), orderID, templateID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"check": check, "items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	check, err := h.service.GetCheck(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) handleGetByOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	check, err := h.service.GetCheckByOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListItems(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetSummary(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type updateItemRequest struct {
	QuantityChecked int    `json:"quantity_checked" validate:"gte=0"`
	QuantityPassed  int    `json:"quantity_passed" validate:"gte=0"`
	QuantityFailed  int    `json:"quantity_failed" validate:"gte=0"`
	Result          string `json:"result" validate:"required,oneof=pass fail mixed"`
	Notes           string `json:"notes"`
	FailureReason   string `json:"failure_reason"`
	DefectType      string `json:"defect_type"`
	ActionTaken     string `json:"action_taken"`
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	item, err := h.service.UpdateCheckItem(r.Context(), id, UpdateItemInput{
		QuantityChecked: req.QuantityChecked,
		QuantityPassed:  req.QuantityPassed,
		QuantityFailed:  req.QuantityFailed,
		Result:          ItemResult(req.Result),
		Notes:           req.Notes,
		FailureReason:   req.FailureReason,
		DefectType:      req.DefectType,
		ActionTaken:     req.ActionTaken,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type completeCheckRequest struct {
	Signature   string `json:"signature" validate:"required"`
	CompletedBy string `json:"completed_by" validate:"required"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req completeCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	check, err := h.service.CompleteCheck(r.Context(), id, req.Signature, req.CompletedBy)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

type receiveCheckedRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req receiveCheckedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	quantities, err := h.service.ReceiveCheckedItems(r.Context(), id, req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"received": quantities})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid input", err.Error())
	case errors.Is(err, ErrCheckCompleted):
		httpx.Problem(w, http.StatusConflict, "Check completed", err.Error())
	case errors.Is(err, ErrItemsPending):
		httpx.Problem(w, http.StatusConflict, "Items pending", err.Error())
	case errors.Is(err, ErrSignatureRequired):
		httpx.Problem(w, http.StatusBadRequest, "Signature required", err.Error())
	default:
		h.logger.Error("quality request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected failure")
	}
}
