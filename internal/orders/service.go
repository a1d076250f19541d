package orders

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const idempotencyModule = "orders"

// RepositoryPort abstracts order persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
}

// TxRepository is the transactional surface. Ledger() binds the stock
// engine to the same transaction so a status flip and its stock effect
// commit or roll back together.
type TxRepository interface {
	Insert(ctx context.Context, o *Order) error
	InsertItem(ctx context.Context, item *OrderItem) error
	DeleteItems(ctx context.Context, orderID int64) error
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateHeader(ctx context.Context, o Order) error
	Ledger() ledger.TxStore
}

// LedgerPort is the slice of the stock service the workflow drives.
type LedgerPort interface {
	ApplyBatch(ctx context.Context, store ledger.TxStore, actorID int64, muts []ledger.Mutation) ([]ledger.Entry, error)
	FinishBatch(ctx context.Context, actorID int64, entries []ledger.Entry)
}

// AuditPort records audit trail rows.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records submit/approve/cancel history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort deduplicates approve/cancel retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service implements the purchase/sale order workflow.
type Service struct {
	logger    *slog.Logger
	repo      RepositoryPort
	stock     LedgerPort
	audit     AuditPort
	approvals ApprovalPort
	idem      IdempotencyPort
	now       func() time.Time
}

// NewService builds Service. audit, approvals and idem may be nil in tests.
func NewService(logger *slog.Logger, repo RepositoryPort, stock LedgerPort, audit AuditPort, approvals ApprovalPort, idem IdempotencyPort) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		stock:     stock,
		audit:     audit,
		approvals: approvals,
		idem:      idem,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new order as DRAFT, or as PENDING when input.Submit is
// set. No stock is touched either way.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateOrderInput) (Order, error) {
	switch input.Type {
	case OrderTypeSale:
		if input.CustomerID == 0 {
			return Order{}, fmt.Errorf("%w: sale order requires customerId", shared.ErrValidation)
		}
	case OrderTypePurchase:
		if input.SupplierID == 0 {
			return Order{}, fmt.Errorf("%w: purchase order requires supplierId", shared.ErrValidation)
		}
	}

	now := s.now()
	status := OrderStatusDraft
	if input.Submit {
		status = OrderStatusPending
	}
	o := Order{
		Number:     generateNumber(input.Type, now),
		Type:       input.Type,
		Status:     status,
		CustomerID: input.CustomerID,
		SupplierID: input.SupplierID,
		Note:       input.Note,
		CreatedBy:  actorID,
		OrderDate:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	items := itemsFromInput(0, input.Items)
	o.TotalAmount = CalculateOrderTotal(items)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, &o); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = o.ID
			if err := tx.InsertItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	o.Items = items

	s.recordAudit(ctx, actorID, "order:create", o.ID, map[string]any{"number": o.Number, "type": o.Type, "status": o.Status})
	if input.Submit {
		s.recordApproval(ctx, actorID, o.ID, shared.ApprovalSubmit, "")
	}
	return o, nil
}

// UpdateDraft replaces a draft order's note and items.
func (s *Service) UpdateDraft(ctx context.Context, actorID, id int64, input UpdateDraftInput) (Order, error) {
	var out Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != OrderStatusDraft {
			return fmt.Errorf("%w: order %d is %s, only drafts can be edited freely", shared.ErrInvalidState, id, o.Status)
		}
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		items := itemsFromInput(id, input.Items)
		for i := range items {
			if err := tx.InsertItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		o.Note = input.Note
		o.TotalAmount = CalculateOrderTotal(items)
		o.UpdatedAt = s.now()
		if err := tx.UpdateHeader(ctx, o); err != nil {
			return err
		}
		o.Items = items
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actorID, "order:update_draft", id, map[string]any{"total": out.TotalAmount})
	return out, nil
}

// Submit moves a draft to PENDING.
func (s *Service) Submit(ctx context.Context, actorID, id int64) (Order, error) {
	var out Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != OrderStatusDraft {
			return fmt.Errorf("%w: submit requires DRAFT, order %d is %s", shared.ErrInvalidState, id, o.Status)
		}
		o.Status = OrderStatusPending
		o.UpdatedAt = s.now()
		if err := tx.UpdateHeader(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordApproval(ctx, actorID, id, shared.ApprovalSubmit, "")
	s.recordAudit(ctx, actorID, "order:submit", id, nil)
	return out, nil
}

// Approve completes a pending order and applies its stock effect. The row
// lock, the availability check and the status flip share one transaction;
// a shortfall in any line rejects the whole order untouched.
func (s *Service) Approve(ctx context.Context, actorID, id int64) (Order, error) {
	idemKey := fmt.Sprintf("order:approve:%d", id)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return Order{}, err
		}
	}

	var (
		out     Order
		entries []ledger.Entry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != OrderStatusPending {
			return fmt.Errorf("%w: approve requires PENDING, order %d is %s", shared.ErrInvalidState, id, o.Status)
		}
		entries, err = s.stock.ApplyBatch(ctx, tx.Ledger(), actorID, stockMutations(o))
		if err != nil {
			return err
		}
		o.Status = OrderStatusCompleted
		o.ApprovedBy = actorID
		o.ApprovedAt = s.now()
		o.TotalAmount = CalculateOrderTotal(o.Items)
		o.UpdatedAt = o.ApprovedAt
		if err := tx.UpdateHeader(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		if s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Order{}, err
	}

	s.stock.FinishBatch(ctx, actorID, entries)
	s.recordApproval(ctx, actorID, id, shared.ApprovalApprove, "")
	s.recordAudit(ctx, actorID, "order:approve", id, map[string]any{"entries": len(entries)})
	return out, nil
}

// Cancel cancels an order. Drafts and pending orders are closed without
// stock effect. Completed orders get their net stock effect reversed with
// RETURN_IN/RETURN_OUT movements in the same transaction; when the reversal
// itself would drive a row negative the cancellation is rejected.
func (s *Service) Cancel(ctx context.Context, actorID, id int64, reason string) (Order, error) {
	idemKey := fmt.Sprintf("order:cancel:%d", id)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return Order{}, err
		}
	}

	var (
		out     Order
		entries []ledger.Entry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch o.Status {
		case OrderStatusDraft, OrderStatusPending:
			// nothing hit the ledger yet
		case OrderStatusCompleted:
			posted, err := tx.Ledger().ListEntriesByOrder(ctx, id)
			if err != nil {
				return err
			}
			muts := reversalMutations(id, posted, fmt.Sprintf("cancel order %s", o.Number))
			if len(muts) > 0 {
				entries, err = s.stock.ApplyBatch(ctx, tx.Ledger(), actorID, muts)
				if err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: order %d is already %s", shared.ErrInvalidState, id, o.Status)
		}
		o.Status = OrderStatusCancelled
		o.CancelledBy = actorID
		o.CancelledAt = s.now()
		o.CancelReason = reason
		o.UpdatedAt = o.CancelledAt
		if err := tx.UpdateHeader(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		if s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Order{}, err
	}

	if len(entries) > 0 {
		s.stock.FinishBatch(ctx, actorID, entries)
	}
	s.recordApproval(ctx, actorID, id, shared.ApprovalCancel, reason)
	s.recordAudit(ctx, actorID, "order:cancel", id, map[string]any{"reason": reason, "reversed_entries": len(entries)})
	return out, nil
}

// EditApproved replaces the items of a completed order. The prior net stock
// effect is reversed and the new items are applied as one ledger batch, so
// the edit either lands completely or leaves stock untouched.
func (s *Service) EditApproved(ctx context.Context, actorID, id int64, input EditApprovedInput) (Order, error) {
	idemKey := fmt.Sprintf("order:edit:%d:%s", id, input.RequestID)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return Order{}, err
		}
	}

	var (
		out     Order
		entries []ledger.Entry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != OrderStatusCompleted {
			return fmt.Errorf("%w: item edit after approval requires COMPLETED, order %d is %s", shared.ErrInvalidState, id, o.Status)
		}
		posted, err := tx.Ledger().ListEntriesByOrder(ctx, id)
		if err != nil {
			return err
		}
		muts := reversalMutations(id, posted, fmt.Sprintf("edit order %s", o.Number))

		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		items := itemsFromInput(id, input.Items)
		for i := range items {
			if err := tx.InsertItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		o.Items = items
		muts = append(muts, stockMutations(o)...)

		entries, err = s.stock.ApplyBatch(ctx, tx.Ledger(), actorID, muts)
		if err != nil {
			return err
		}
		o.TotalAmount = CalculateOrderTotal(items)
		o.UpdatedAt = s.now()
		if err := tx.UpdateHeader(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		if s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Order{}, err
	}

	s.stock.FinishBatch(ctx, actorID, entries)
	s.recordAudit(ctx, actorID, "order:edit_approved", id, map[string]any{"items": len(out.Items), "total": out.TotalAmount})
	return out, nil
}

// Get loads one order with its items.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns order headers matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	return s.repo.List(ctx, filter)
}

// stockMutations maps an order's items to ledger movements: purchases add
// stock, sales remove it. Effective quantities include item modifiers.
func stockMutations(o Order) []ledger.Mutation {
	muts := make([]ledger.Mutation, 0, len(o.Items))
	for _, item := range o.Items {
		vals := CalculateLineValues(item)
		m := ledger.Mutation{
			ProductID:   item.ProductID,
			StoreID:     item.StoreID,
			VariantID:   item.VariantID,
			UnitCost:    vals.UnitCost,
			OrderID:     o.ID,
			OrderItemID: item.ID,
			RefModule:   idempotencyModule,
		}
		if o.Type == OrderTypePurchase {
			m.Type = ledger.TypePurchase
			m.Delta = vals.Quantity
		} else {
			m.Type = ledger.TypeSale
			m.Delta = -vals.Quantity
		}
		muts = append(muts, m)
	}
	return muts
}

// reversalMutations nets the posted entries per stock row and emits the
// inverse movement for every row with a non-zero net. Working from the
// ledger rather than the stored items keeps cancellation correct even after
// the order was edited post approval.
func reversalMutations(orderID int64, posted []ledger.Entry, note string) []ledger.Mutation {
	net := make(map[ledger.RowKey]float64)
	cost := make(map[ledger.RowKey]float64)
	order := make([]ledger.RowKey, 0)
	for _, e := range posted {
		key := ledger.RowKey{ProductID: e.ProductID, StoreID: e.StoreID, VariantID: e.VariantID}
		if _, seen := net[key]; !seen {
			order = append(order, key)
		}
		net[key] += e.QtyChanged
		if e.UnitCost != 0 {
			cost[key] = e.UnitCost
		}
	}

	muts := make([]ledger.Mutation, 0, len(order))
	for _, key := range order {
		delta := net[key]
		if math.Abs(delta) < 1e-9 {
			continue
		}
		m := ledger.Mutation{
			ProductID: key.ProductID,
			StoreID:   key.StoreID,
			VariantID: key.VariantID,
			Delta:     -delta,
			UnitCost:  cost[key],
			OrderID:   orderID,
			RefModule: idempotencyModule,
			Note:      note,
		}
		if delta > 0 {
			m.Type = ledger.TypeReturnOut
		} else {
			m.Type = ledger.TypeReturnIn
		}
		muts = append(muts, m)
	}
	return muts
}

func generateNumber(t OrderType, at time.Time) string {
	prefix := "SO"
	if t == OrderTypePurchase {
		prefix = "PO"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "orders",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, actorID, orderID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  idempotencyModule,
		RefID:   orderID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	}); err != nil && s.logger != nil {
		s.logger.Warn("approval write failed", slog.Any("error", err))
	}
}
