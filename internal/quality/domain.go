package quality

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CheckStatus enumerates the quality check lifecycle.
type CheckStatus string

const (
	CheckInProgress CheckStatus = "in_progress"
	CheckCompleted  CheckStatus = "completed"
)

// OverallResult is the aggregate verdict computed at completion.
type OverallResult string

const (
	ResultPass  OverallResult = "pass"
	ResultFail  OverallResult = "fail"
	ResultMixed OverallResult = "mixed"
)

// ItemResult is the per-item verdict.
type ItemResult string

const (
	ItemPending ItemResult = "pending"
	ItemPass    ItemResult = "pass"
	ItemFail    ItemResult = "fail"
	ItemMixed   ItemResult = "mixed"
)

// Template is a reusable set of inspection criteria.
type Template struct {
	ID          uuid.UUID
	Name        string
	Description string
	Criteria    []Criterion
}

// Criterion is one inspection point within a template.
type Criterion struct {
	ID       uuid.UUID
	Name     string
	Required bool
}

// Check is one quality inspection of a purchase order, fanned out as
// criteria x order lines.
type Check struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	TemplateID      uuid.UUID
	Status          CheckStatus
	OverallResult   OverallResult
	Signature       string
	CompletedBy     string
	CompletedAt     time.Time
	CreatedAt       time.Time
}

// CheckItem is one (criterion, order line) cell of a check. LineQuantity is
// denormalized from the order line so quantity invariants hold without a
// join at write time.
type CheckItem struct {
	ID              uuid.UUID
	CheckID         uuid.UUID
	OrderItemID     uuid.UUID
	CriterionID     uuid.UUID
	CriterionName   string
	Required        bool
	LineQuantity    int
	QuantityChecked int
	QuantityPassed  int
	QuantityFailed  int
	Result          ItemResult
	Notes           string
	FailureReason   string
	DefectType      string
	ActionTaken     string
	UpdatedAt       time.Time
}

// Summary aggregates check progress.
type Summary struct {
	CheckID       uuid.UUID
	Status        CheckStatus
	OverallResult OverallResult
	TotalItems    int
	Passed        int
	Failed        int
	Pending       int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("quality: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("quality: invalid input")
	// ErrCheckCompleted occurs when editing a check that was already signed off.
	ErrCheckCompleted = errors.New("quality: check already completed")
	// ErrItemsPending occurs when completion is requested with unresolved items.
	ErrItemsPending = errors.New("quality: unresolved check items remain")
	// ErrSignatureRequired occurs when completion lacks an inspector signature.
	ErrSignatureRequired = errors.New("quality: signature required")
)

// AggregateResult computes the overall verdict from resolved items: any
// required criterion with failures fails the check, a clean sheet passes
// it, and non-required failures alone yield mixed. A mixed item verdict
// counts as a failure for aggregation.
func AggregateResult(items []CheckItem) OverallResult {
	anyFail := false
	for _, it := range items {
		if it.Result == ItemFail || it.Result == ItemMixed || it.QuantityFailed > 0 {
			if it.Required {
				return ResultFail
			}
			anyFail = true
		}
	}
	if anyFail {
		return ResultMixed
	}
	return ResultPass
}
