package draft

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the draft product lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusPromoted  Status = "promoted"
)

// Product is a provisional catalog entry generated from a purchase order
// line when a shipment is assigned. It carries intake pricing in the base
// currency and waits for manual validation before promotion.
type Product struct {
	ID              uuid.UUID
	ShipmentID      uuid.UUID
	PurchaseOrderID uuid.UUID
	OrderItemID     uuid.UUID
	ProductID       uuid.UUID
	VariantID       uuid.UUID
	Name            string
	Quantity        int
	CostPrice       float64
	SuggestedPrice  float64
	Currency        string
	Status          Status
	CreatedAt       time.Time
}

// ValidationStatus enumerates the review outcome for a draft.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// Validation is a reviewer's verdict on one draft product, with staged
// overrides applied to the catalog only at promotion time. Errors lists
// the problems a reviewer found; an approved verdict must carry none.
type Validation struct {
	ID                  uuid.UUID
	DraftID             uuid.UUID
	ShipmentID          uuid.UUID
	ProductID           uuid.UUID
	Status              ValidationStatus
	Errors              []string
	NameOverride        string
	DescriptionOverride string
	CategoryOverride    string
	SupplierOverride    string
	PriceOverride       float64
	Notes               string
	ValidatedBy         string
	ValidatedAt         time.Time
}

// ShipmentStatus summarises validation progress for a shipment.
type ShipmentStatus struct {
	ShipmentID uuid.UUID
	Total      int
	Validated  int
	Rejected   int
	Ready      bool
}

// ShipmentRef pairs a shipment with its purchase order, for repair scans.
type ShipmentRef struct {
	OrderID    uuid.UUID
	ShipmentID uuid.UUID
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("draft: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("draft: invalid input")
	// ErrNotReady occurs when promotion is requested before any draft was approved.
	ErrNotReady = errors.New("draft: shipment has no validated products")
)
