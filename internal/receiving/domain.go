package receiving

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// UnitInput identifies one serialized unit arriving in a receive batch.
type UnitInput struct {
	Serial   string
	IMEI     string
	MAC      string
	Barcode  string
	Location string
	Shelf    string
	Bin      string
}

// ItemUpdate is the per-line payload of a receive batch. ReceivedQuantity is
// the delta for this batch, not a running total. When Units are present the
// line takes the serialized path and no bulk adjustment is written.
type ItemUpdate struct {
	ItemID           uuid.UUID
	ReceivedQuantity int
	Units            []UnitInput
}

// BatchResult reports what a submitted batch did.
type BatchResult struct {
	PurchaseOrderID uuid.UUID
	ItemsUpdated    int
	UnitsCreated    int
	BulkAdjusted    int
	FullyReceived   bool
}

// Summary is the read model for one order's receiving progress.
type Summary struct {
	PurchaseOrderID uuid.UUID `json:"purchase_order_id"`
	OrderedTotal    int       `json:"ordered_total"`
	ReceivedTotal   int       `json:"received_total"`
	ReturnedTotal   int       `json:"returned_total"`
	SerializedUnits int       `json:"serialized_units"`
	BulkAdjustments int       `json:"bulk_adjustments"`
	FullyReceived   bool      `json:"fully_received"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// ReceivedItem is one row of the merged received-goods view: either a
// serialized unit or a bulk adjustment.
type ReceivedItem struct {
	Kind       string    `json:"kind"` // "unit" or "adjustment"
	ID         uuid.UUID `json:"id"`
	VariantID  uuid.UUID `json:"variant_id"`
	Serial     string    `json:"serial,omitempty"`
	Quantity   int       `json:"quantity"`
	ReceivedAt time.Time `json:"received_at"`
}

var (
	// ErrExceedsOrdered occurs when an increment would push a line past its
	// ordered quantity.
	ErrExceedsOrdered = errors.New("receiving: received quantity exceeds ordered")
	// ErrOrderState occurs when the order is not in a receivable status.
	ErrOrderState = errors.New("receiving: order not ready for receiving")
	// ErrValidation indicates invalid batch input.
	ErrValidation = errors.New("receiving: invalid input")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("receiving: not found")
)
