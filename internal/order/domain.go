package order

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the purchase order lifecycle.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusSent           Status = "sent"
	StatusConfirmed      Status = "confirmed"
	StatusShipped        Status = "shipped"
	StatusQualityChecked Status = "quality_checked"
	StatusReceived       Status = "received"
	StatusCancelled      Status = "cancelled"
)

// statusRank orders the forward-only lifecycle. Cancelled sits outside the
// rank and is handled separately.
var statusRank = map[Status]int{
	StatusDraft:          0,
	StatusSent:           1,
	StatusConfirmed:      2,
	StatusShipped:        3,
	StatusQualityChecked: 4,
	StatusReceived:       5,
}

// CanTransition reports whether moving from one status to the next is
// allowed. Transitions are monotonic forward; cancelled is reachable only
// from sent or confirmed.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusCancelled {
		return from == StatusSent || from == StatusConfirmed
	}
	if from == StatusCancelled {
		return false
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID           uuid.UUID
	Number       string
	SupplierID   uuid.UUID
	Status       Status
	Currency     string
	BaseCurrency string
	ExchangeRate float64
	TotalPaid    float64
	ExpectedDate time.Time
	ShippedAt    time.Time
	ReceivedAt   time.Time
	Notes        string
	CreatedAt    time.Time
}

// Item is one purchase order line.
type Item struct {
	ID               uuid.UUID
	PurchaseOrderID  uuid.UUID
	ProductID        uuid.UUID
	VariantID        uuid.UUID
	Quantity         int
	ReceivedQuantity int
	ReturnedQuantity int
	CostPrice        float64
	Notes            string
}

// ShipmentStatus enumerates shipment states.
type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentArrived   ShipmentStatus = "arrived"
)

// Shipment is assigned to a purchase order when the supplier dispatches the
// goods; draft products hang off a shipment.
type Shipment struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	Carrier         string
	TrackingNumber  string
	Status          ShipmentStatus
	AssignedAt      time.Time
}

var (
	// ErrInvalidTransition occurs when a status change violates the workflow.
	ErrInvalidTransition = errors.New("order: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("order: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("order: invalid input")
)
