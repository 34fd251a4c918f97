package draft

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

// Handler manages draft product endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers draft product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/shipments/{id}/drafts", h.handleList)
	r.Get("/shipments/{id}/validation-status", h.handleStatus)
	r.Post("/shipments/{id}/drafts/generate", h.handleGenerate)
	r.Post("/shipments/{id}/promote", h.handlePromote)
	r.Post("/drafts/{id}/validate", h.handleValidate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "shipment")
	if !ok {
		return
	}
	drafts, err := h.service.ListByShipment(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "shipment")
	if !ok {
		return
	}
	status, err := h.service.ShipmentValidationStatus(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

type generateRequest struct {
	PurchaseOrderID string `json:"purchase_order_id" validate:"required,uuid"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	shipmentID, ok := h.pathID(w, r, "shipment")
	if !ok {
		return
	}
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	orderID, _ := uuid.Parse(req.PurchaseOrderID)
	created, err := h.service.CreateDraftProducts(r.Context(), orderID, shipmentID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"created": created})
}

func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "shipment")
	if !ok {
		return
	}
	promoted, err := h.service.PromoteValidatedProducts(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"promoted": promoted})
}

type validateRequest struct {
	Status              string   `json:"status" validate:"required,oneof=approved rejected"`
	Errors              []string `json:"errors" validate:"dive,required"`
	NameOverride        string   `json:"name_override"`
	DescriptionOverride string   `json:"description_override"`
	CategoryOverride    string   `json:"category_override"`
	SupplierOverride    string   `json:"supplier_override"`
	PriceOverride       float64  `json:"price_override" validate:"gte=0"`
	Notes               string   `json:"notes"`
	ValidatedBy         string   `json:"validated_by" validate:"required"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	draftID, ok := h.pathID(w, r, "draft")
	if !ok {
		return
	}
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	v, err := h.service.ValidateDraftProduct(r.Context(), Validation{
		DraftID:             draftID,
		Status:              ValidationStatus(req.Status),
		Errors:              req.Errors,
		NameOverride:        req.NameOverride,
		DescriptionOverride: req.DescriptionOverride,
		CategoryOverride:    req.CategoryOverride,
		SupplierOverride:    req.SupplierOverride,
		PriceOverride:       req.PriceOverride,
		Notes:               req.Notes,
		ValidatedBy:         req.ValidatedBy,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid "+label+" id", err.Error())
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
	case errors.Is(err, ErrNotReady):
		httpx.Problem(w, http.StatusConflict, "Not ready", err.Error())
	case errors.Is(err, order.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	default:
		h.logger.Error("draft request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "unexpected failure")
	}
}
