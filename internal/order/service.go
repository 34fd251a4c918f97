package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	List(ctx context.Context, status Status, limit, offset int) ([]PurchaseOrder, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	ListItems(ctx context.Context, orderID uuid.UUID) ([]Item, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (Item, error)
	CreateShipment(ctx context.Context, sh Shipment) error
	GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (Shipment, error)
}

// AuditPort records workflow actions against an order.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]shared.AuditEntry, error)
}

// DraftPort fans draft products out of an assigned shipment.
type DraftPort interface {
	CreateDraftProducts(ctx context.Context, orderID, shipmentID uuid.UUID) (int, error)
}

type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	drafts DraftPort
	logger *slog.Logger
}

func NewService(repo RepositoryPort, audit AuditPort, drafts DraftPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, drafts: drafts, logger: logger}
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, status Status, limit, offset int) ([]PurchaseOrder, error) {
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) ListItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	if _, err := s.repo.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, orderID)
}

// UpdateStatus transitions the order through its workflow. The repository
// enforces the expected current status so racing writers cannot skip states.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor string) (PurchaseOrder, error) {
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !CanTransition(po.Status, to) {
		return PurchaseOrder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, po.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, po.Status, to); err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, id, "status_changed", actor, map[string]any{
		"from": string(po.Status),
		"to":   string(to),
	})
	return s.repo.Get(ctx, id)
}

// MarkReceived is the terminal transition driven by the receiving pipeline.
func (s *Service) MarkReceived(ctx context.Context, id uuid.UUID, actor string) error {
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if po.Status == StatusReceived {
		return nil
	}
	if !CanTransition(po.Status, StatusReceived) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, po.Status, StatusReceived)
	}
	if err := s.repo.UpdateStatus(ctx, id, po.Status, StatusReceived); err != nil {
		return err
	}
	s.recordAudit(ctx, id, "order_received", actor, map[string]any{
		"from": string(po.Status),
	})
	return nil
}

// AssignShipment attaches carrier details to a confirmed order, moves it to
// shipped and fans draft products out for intake validation.
func (s *Service) AssignShipment(ctx context.Context, orderID uuid.UUID, carrier, tracking, actor string) (Shipment, error) {
	po, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Shipment{}, err
	}
	if po.Status != StatusConfirmed {
		return Shipment{}, fmt.Errorf("%w: shipment requires confirmed order, got %s", ErrInvalidTransition, po.Status)
	}
	sh := Shipment{
		ID:              uuid.New(),
		PurchaseOrderID: orderID,
		Carrier:         carrier,
		TrackingNumber:  tracking,
		Status:          ShipmentInTransit,
		AssignedAt:      time.Now().UTC(),
	}
	if err := s.repo.CreateShipment(ctx, sh); err != nil {
		return Shipment{}, err
	}
	if err := s.repo.UpdateStatus(ctx, orderID, StatusConfirmed, StatusShipped); err != nil {
		return Shipment{}, err
	}
	s.recordAudit(ctx, orderID, "shipment_assigned", actor, map[string]any{
		"shipment_id": sh.ID.String(),
		"carrier":     carrier,
	})
	if s.drafts != nil {
		created, err := s.drafts.CreateDraftProducts(ctx, orderID, sh.ID)
		if err != nil {
			// Draft fan-out is repairable by the background job; the
			// shipment itself is committed.
			s.logger.Warn("draft fan-out failed after shipment assignment",
				"order_id", orderID, "shipment_id", sh.ID, "error", err)
		} else {
			s.logger.Info("draft products created",
				"order_id", orderID, "shipment_id", sh.ID, "count", created)
		}
	}
	return sh, nil
}

func (s *Service) GetShipment(ctx context.Context, orderID uuid.UUID) (Shipment, error) {
	return s.repo.GetShipmentByOrder(ctx, orderID)
}

// Timeline returns the audit entries for an order, newest first.
func (s *Service) Timeline(ctx context.Context, orderID uuid.UUID) ([]shared.AuditEntry, error) {
	if _, err := s.repo.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListByOrder(ctx, orderID)
}

func (s *Service) recordAudit(ctx context.Context, orderID uuid.UUID, action, actor string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditEntry{
		ID:              uuid.New(),
		PurchaseOrderID: orderID,
		Action:          action,
		Actor:           actor,
		Details:         details,
		OccurredAt:      time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", "order_id", orderID, "action", action, "error", err)
	}
}
