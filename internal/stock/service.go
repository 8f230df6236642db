package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andino-erp/andino-erp/internal/refdata"
	"github.com/andino-erp/andino-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetItem(ctx context.Context, itemID int64) (Item, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	Deactivate(ctx context.Context, itemID int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	ListByEntity(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// ProductPort resolves catalog data for an item.
type ProductPort interface {
	GetProduct(ctx context.Context, itemID int64) (refdata.Product, error)
}

// Service posts standalone inventory receipts and issues and manages
// reservations outside of the order flows.
type Service struct {
	repo        RepositoryPort
	products    ProductPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, products ProductPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, products: products, audit: audit, idempotency: idem}
}

// ReceiptInput describes a standalone inventory receipt document.
type ReceiptInput struct {
	ItemID   int64
	Qty      string
	UnitCost string
	Note     string
	ActorID  int64
	RefID    string
}

// IssueInput describes a standalone inventory issue document.
type IssueInput struct {
	ItemID  int64
	Qty     string
	Note    string
	ActorID int64
	RefID   string
}

// ReservationInput describes a reserve or release request.
type ReservationInput struct {
	ItemID  int64
	Qty     string
	Note    string
	ActorID int64
	RefID   string
}

// PostReceipt receives goods outside of any purchase order.
func (s *Service) PostReceipt(ctx context.Context, input ReceiptInput) (Movement, error) {
	in, err := s.movementInput(input.ItemID, input.Qty, input.UnitCost, input.Note, input.ActorID, input.RefID)
	if err != nil {
		return Movement{}, err
	}
	return s.post(ctx, "RECEIPT", in, Receive)
}

// PostIssue issues goods outside of any sale or production order.
func (s *Service) PostIssue(ctx context.Context, input IssueInput) (Movement, error) {
	in, err := s.movementInput(input.ItemID, input.Qty, "0", input.Note, input.ActorID, input.RefID)
	if err != nil {
		return Movement{}, err
	}
	return s.post(ctx, "ISSUE", in, Issue)
}

// ReserveStock places a soft hold on available stock. Items with a recipe
// are refused; their demand is covered by production orders instead.
func (s *Service) ReserveStock(ctx context.Context, input ReservationInput) (Movement, error) {
	in, err := s.movementInput(input.ItemID, input.Qty, "0", input.Note, input.ActorID, input.RefID)
	if err != nil {
		return Movement{}, err
	}
	if s.products != nil {
		product, err := s.products.GetProduct(ctx, input.ItemID)
		if err != nil {
			return Movement{}, err
		}
		if product.RequiresProduction() {
			return Movement{}, ErrRecipeReservation
		}
	}
	return s.post(ctx, "RESERVE", in, Reserve)
}

// ReleaseStock removes a matching reservation.
func (s *Service) ReleaseStock(ctx context.Context, input ReservationInput) (Movement, error) {
	in, err := s.movementInput(input.ItemID, input.Qty, "0", input.Note, input.ActorID, input.RefID)
	if err != nil {
		return Movement{}, err
	}
	return s.post(ctx, "RELEASE", in, Release)
}

// GetItem returns current quantities and average cost for display.
func (s *Service) GetItem(ctx context.Context, itemID int64) (Item, error) {
	if itemID == 0 {
		return Item{}, errors.New("stock: item required")
	}
	return s.repo.GetItem(ctx, itemID)
}

// DeactivateItem soft-deletes an item. The movement trail stays intact, and
// any further mutation against the item fails with ErrItemInactive.
func (s *Service) DeactivateItem(ctx context.Context, itemID, actorID int64) error {
	if itemID == 0 {
		return errors.New("stock: item required")
	}
	if err := s.repo.Deactivate(ctx, itemID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "stock:DEACTIVATE",
			Entity:   "stock_item",
			EntityID: fmt.Sprintf("%d", itemID),
		})
	}
	return nil
}

// ListMovements lists the movement trail.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID == 0 {
		return nil, errors.New("stock: item required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// ItemOverview bundles one item with its recent movements and audit trail.
type ItemOverview struct {
	Item      Item
	Movements []Movement
	Audit     []shared.AuditLog
}

// GetItemOverview loads the overview parts concurrently.
func (s *Service) GetItemOverview(ctx context.Context, itemID int64, limit int) (ItemOverview, error) {
	if itemID == 0 {
		return ItemOverview{}, errors.New("stock: item required")
	}
	var overview ItemOverview
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		overview.Item = item
		return nil
	})
	g.Go(func() error {
		movements, err := s.repo.ListMovements(ctx, MovementFilter{ItemID: itemID, Limit: limit})
		if err != nil {
			return err
		}
		overview.Movements = movements
		return nil
	})
	if s.audit != nil {
		g.Go(func() error {
			trail, err := s.audit.ListByEntity(ctx, "stock_item", fmt.Sprintf("%d", itemID), limit)
			if err != nil {
				return err
			}
			overview.Audit = trail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ItemOverview{}, err
	}
	return overview, nil
}

type mutation func(ctx context.Context, store TxStore, in MovementInput) (Movement, error)

func (s *Service) post(ctx context.Context, action string, in MovementInput, fn mutation) (Movement, error) {
	key := fmt.Sprintf("%s:%s", action, in.RefID)
	insertedKey := false
	if s.idempotency != nil && in.RefID != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var err error
		movement, err = fn(ctx, store, in)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Movement{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   fmt.Sprintf("stock:%s", action),
			Entity:   "stock_item",
			EntityID: fmt.Sprintf("%d", in.ItemID),
			Meta: map[string]any{
				"qty":           in.Qty.String(),
				"on_hand_after": movement.OnHandAfter.String(),
				"note":          in.Note,
			},
		})
	}
	return movement, nil
}

func (s *Service) movementInput(itemID int64, qty, unitCost, note string, actorID int64, refID string) (MovementInput, error) {
	if itemID == 0 {
		return MovementInput{}, errors.New("stock: item required")
	}
	q, err := shared.ParseAmount(qty)
	if err != nil {
		return MovementInput{}, ErrInvalidQuantity
	}
	c, err := shared.ParseAmount(unitCost)
	if err != nil {
		return MovementInput{}, ErrInvalidUnitCost
	}
	if refID != "" {
		if _, err := uuid.Parse(refID); err != nil {
			return MovementInput{}, fmt.Errorf("stock: invalid ref id: %w", err)
		}
	}
	return MovementInput{
		ItemID:    itemID,
		Qty:       q,
		UnitCost:  c,
		RefModule: "STOCK",
		RefID:     refID,
		ActorID:   actorID,
		Note:      note,
	}, nil
}
