package draft

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/order"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	InsertProduct(ctx context.Context, p Product) (bool, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]Product, error)
	UpdateProductStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpsertValidation(ctx context.Context, v Validation) error
	GetValidation(ctx context.Context, draftID uuid.UUID) (Validation, error)
	CountByShipment(ctx context.Context, shipmentID uuid.UUID) (total, approved, rejected int, err error)
	Promote(ctx context.Context, p Product, v Validation) error
	ListIncompleteShipments(ctx context.Context) ([]ShipmentRef, error)
}

// OrderPort reads purchase order data needed for the fan-out.
type OrderPort interface {
	GetOrder(ctx context.Context, id uuid.UUID) (order.PurchaseOrder, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]order.Item, error)
}

// CatalogPort resolves product names for draft labelling.
type CatalogPort interface {
	ProductName(ctx context.Context, productID uuid.UUID) (string, error)
}

// ServiceConfig groups intake pricing settings.
type ServiceConfig struct {
	BaseCurrency     string
	DefaultMarginPct float64
}

// Service generates and validates draft products for incoming shipments.
type Service struct {
	repo    RepositoryPort
	orders  OrderPort
	catalog CatalogPort
	cfg     ServiceConfig
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, orders OrderPort, catalog CatalogPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "TZS"
	}
	if cfg.DefaultMarginPct <= 0 {
		cfg.DefaultMarginPct = 30
	}
	return &Service{repo: repo, orders: orders, catalog: catalog, cfg: cfg, logger: logger}
}

// CreateDraftProducts fans one draft out per purchase order line. The insert
// is keyed on (shipment, order item) so repeated calls top up missing rows
// without duplicating existing ones. Costs are converted to the base
// currency exactly once, at fan-out time.
func (s *Service) CreateDraftProducts(ctx context.Context, orderID, shipmentID uuid.UUID) (int, error) {
	po, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	switch po.Status {
	case order.StatusDraft, order.StatusCancelled, order.StatusReceived:
		return 0, fmt.Errorf("%w: order %s not open for intake", ErrValidation, po.Status)
	}
	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("%w: order has no items", ErrValidation)
	}

	rate := po.ExchangeRate
	if po.Currency != s.cfg.BaseCurrency && rate <= 0 {
		s.logger.Warn("missing exchange rate, costs kept in order currency",
			"order_id", orderID, "currency", po.Currency)
		rate = 1
	}
	if po.Currency == s.cfg.BaseCurrency {
		rate = 1
	}

	created := 0
	now := time.Now().UTC()
	for _, item := range items {
		name := s.productName(ctx, item.ProductID)
		cost := item.CostPrice * rate
		p := Product{
			ID:              uuid.New(),
			ShipmentID:      shipmentID,
			PurchaseOrderID: orderID,
			OrderItemID:     item.ID,
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Name:            name,
			Quantity:        item.Quantity,
			CostPrice:       cost,
			SuggestedPrice:  cost * (1 + s.cfg.DefaultMarginPct/100),
			Currency:        s.cfg.BaseCurrency,
			Status:          StatusDraft,
			CreatedAt:       now,
		}
		inserted, err := s.repo.InsertProduct(ctx, p)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// ValidateDraftProduct records a reviewer verdict with optional staged
// overrides. Overrides touch the catalog only at promotion.
func (s *Service) ValidateDraftProduct(ctx context.Context, v Validation) (Validation, error) {
	if v.DraftID == uuid.Nil {
		return Validation{}, fmt.Errorf("%w: draft id required", ErrValidation)
	}
	if v.Status != ValidationApproved && v.Status != ValidationRejected {
		return Validation{}, fmt.Errorf("%w: verdict must be approved or rejected", ErrValidation)
	}
	if v.ValidatedBy == "" {
		return Validation{}, fmt.Errorf("%w: validator identity required", ErrValidation)
	}
	if v.Status == ValidationApproved && len(v.Errors) > 0 {
		return Validation{}, fmt.Errorf("%w: approved verdict cannot carry errors", ErrValidation)
	}
	if v.PriceOverride < 0 {
		return Validation{}, fmt.Errorf("%w: price override cannot be negative", ErrValidation)
	}
	p, err := s.repo.GetProduct(ctx, v.DraftID)
	if err != nil {
		return Validation{}, err
	}
	v.ID = uuid.New()
	v.ShipmentID = p.ShipmentID
	v.ProductID = p.ProductID
	v.ValidatedAt = time.Now().UTC()
	if err := s.repo.UpsertValidation(ctx, v); err != nil {
		return Validation{}, err
	}
	status := StatusDraft
	if v.Status == ValidationApproved {
		status = StatusValidated
	}
	if p.Status != StatusPromoted {
		if err := s.repo.UpdateProductStatus(ctx, p.ID, status); err != nil {
			return Validation{}, err
		}
	}
	return v, nil
}

// ShipmentValidationStatus reports how far review has progressed. The
// shipment is ready for promotion only when every draft was approved; a
// single rejection keeps it blocked until the draft is revised.
func (s *Service) ShipmentValidationStatus(ctx context.Context, shipmentID uuid.UUID) (ShipmentStatus, error) {
	total, approved, rejected, err := s.repo.CountByShipment(ctx, shipmentID)
	if err != nil {
		return ShipmentStatus{}, err
	}
	if total == 0 {
		return ShipmentStatus{}, fmt.Errorf("%w: shipment %s has no drafts", ErrNotFound, shipmentID)
	}
	return ShipmentStatus{
		ShipmentID: shipmentID,
		Total:      total,
		Validated:  approved,
		Rejected:   rejected,
		Ready:      approved == total && total > 0,
	}, nil
}

// PromoteValidatedProducts applies every approved draft's staged overrides
// to the catalog. Rejected and pending drafts are skipped.
func (s *Service) PromoteValidatedProducts(ctx context.Context, shipmentID uuid.UUID) (int, error) {
	drafts, err := s.repo.ListByShipment(ctx, shipmentID)
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		return 0, fmt.Errorf("%w: shipment %s has no drafts", ErrNotFound, shipmentID)
	}
	promoted := 0
	for _, p := range drafts {
		if p.Status != StatusValidated {
			continue
		}
		v, err := s.repo.GetValidation(ctx, p.ID)
		if err != nil {
			return promoted, err
		}
		if v.Status != ValidationApproved {
			continue
		}
		if err := s.repo.Promote(ctx, p, v); err != nil {
			return promoted, err
		}
		promoted++
	}
	if promoted == 0 {
		return 0, ErrNotReady
	}
	return promoted, nil
}

// RepairShipmentDrafts re-runs the fan-out for a shipment whose draft
// generation partially failed. The idempotent insert makes this safe.
func (s *Service) RepairShipmentDrafts(ctx context.Context, orderID, shipmentID uuid.UUID) (int, error) {
	created, err := s.CreateDraftProducts(ctx, orderID, shipmentID)
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.logger.Info("draft fan-out repaired",
			"order_id", orderID, "shipment_id", shipmentID, "created", created)
	}
	return created, nil
}

// RepairAllShipments scans for shipments with a partial fan-out and tops
// each one up. One broken shipment does not stop the sweep.
func (s *Service) RepairAllShipments(ctx context.Context) (int, error) {
	refs, err := s.repo.ListIncompleteShipments(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, ref := range refs {
		n, err := s.RepairShipmentDrafts(ctx, ref.OrderID, ref.ShipmentID)
		if err != nil {
			s.logger.Warn("draft repair failed",
				"order_id", ref.OrderID, "shipment_id", ref.ShipmentID, "error", err)
			continue
		}
		created += n
	}
	return created, nil
}

func (s *Service) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]Product, error) {
	return s.repo.ListByShipment(ctx, shipmentID)
}

func (s *Service) productName(ctx context.Context, productID uuid.UUID) string {
	if s.catalog == nil {
		return "Unnamed product"
	}
	name, err := s.catalog.ProductName(ctx, productID)
	if err != nil || name == "" {
		s.logger.Warn("product name lookup failed", "product_id", productID, "error", err)
		return "Unnamed product"
	}
	return name
}
