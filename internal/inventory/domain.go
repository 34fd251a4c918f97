package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ItemStatus enumerates the lifecycle of a serialized inventory unit.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemReserved  ItemStatus = "reserved"
	ItemSold      ItemStatus = "sold"
	ItemDamaged   ItemStatus = "damaged"
	ItemReturned  ItemStatus = "returned"
	ItemRepair    ItemStatus = "repair"
	ItemWarranty  ItemStatus = "warranty"
)

var validItemStatuses = map[ItemStatus]struct{}{
	ItemAvailable: {}, ItemReserved: {}, ItemSold: {}, ItemDamaged: {},
	ItemReturned: {}, ItemRepair: {}, ItemWarranty: {},
}

// ValidItemStatus reports whether s is a known unit status.
func ValidItemStatus(s ItemStatus) bool {
	_, ok := validItemStatuses[s]
	return ok
}

// Item is one serialized inventory unit tracked individually.
type Item struct {
	ID              uuid.UUID
	ProductID       uuid.UUID
	VariantID       uuid.UUID
	PurchaseOrderID uuid.UUID
	Serial          string
	IMEI            string
	MAC             string
	Barcode         string
	Status          ItemStatus
	CostPrice       float64
	SellingPrice    float64
	Location        string
	Shelf           string
	Bin             string
	WarrantyStart   time.Time
	WarrantyEnd     time.Time
	Metadata        map[string]string
	CreatedAt       time.Time
}

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementReceive MovementType = "receive"
	MovementReturn  MovementType = "return"
	MovementAdjust  MovementType = "adjustment"
)

// Movement is the append-only record of a stock level change. Serialized
// paths write one movement per unit, carrying the unit reference and its
// status transition; bulk paths leave ItemID unset.
type Movement struct {
	ID         uuid.UUID
	VariantID  uuid.UUID
	ItemID     uuid.UUID
	Type       MovementType
	Quantity   int
	FromStatus ItemStatus
	ToStatus   ItemStatus
	Reference  uuid.UUID
	Notes      string
	OccurredAt time.Time
}

// AdjustmentType classifies a bulk quantity adjustment.
type AdjustmentType string

const (
	AdjustReceive AdjustmentType = "receive"
	AdjustReturn  AdjustmentType = "return"
)

// Adjustment is a bulk stock change for non-serialized goods, tied back to
// the purchase order line that caused it.
type Adjustment struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	OrderItemID     uuid.UUID
	VariantID       uuid.UUID
	Type            AdjustmentType
	Quantity        int
	Reason          string
	CreatedAt       time.Time
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("inventory: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrDuplicateSerial occurs when a serial number is already tracked.
	ErrDuplicateSerial = errors.New("inventory: duplicate serial number")
	// ErrInsufficientStock occurs when a decrement would drive stock negative.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)
