package returns

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ReturnType classifies why goods go back to the supplier.
type ReturnType string

const (
	ReturnDamage    ReturnType = "damage"
	ReturnDefect    ReturnType = "defect"
	ReturnWrongItem ReturnType = "wrong_item"
	ReturnExcess    ReturnType = "excess"
	ReturnOther     ReturnType = "other"
)

var validReturnTypes = map[ReturnType]struct{}{
	ReturnDamage: {}, ReturnDefect: {}, ReturnWrongItem: {},
	ReturnExcess: {}, ReturnOther: {},
}

// ValidReturnType reports whether t is a known return classification.
func ValidReturnType(t ReturnType) bool {
	_, ok := validReturnTypes[t]
	return ok
}

// ReturnOrder records goods sent back to the supplier against a received
// purchase order line.
type ReturnOrder struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	OrderItemID     uuid.UUID
	VariantID       uuid.UUID
	Type            ReturnType
	Quantity        int
	Reason          string
	Actor           string
	CreatedAt       time.Time
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("returns: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("returns: invalid input")
	// ErrExceedsReceived occurs when a return would exceed what was received.
	ErrExceedsReceived = errors.New("returns: quantity exceeds received")
)
