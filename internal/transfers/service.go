package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const idempotencyModule = "transfers"

// RepositoryPort abstracts transfer persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, error)
}

// TxRepository is the transactional surface; Ledger() binds the stock
// engine to the same transaction.
type TxRepository interface {
	Insert(ctx context.Context, t *Transfer) error
	InsertItem(ctx context.Context, item *TransferItem) error
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	UpdateHeader(ctx context.Context, t Transfer) error
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

// IdempotencyPort deduplicates complete/cancel retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service implements the store transfer workflow. Transfers move general
// stock only; both legs of every line post in one ledger batch.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	stock  LedgerPort
	audit  AuditPort
	idem   IdempotencyPort
	now    func() time.Time
}

// NewService builds Service. audit and idem may be nil in tests.
func NewService(logger *slog.Logger, repo RepositoryPort, stock LedgerPort, audit AuditPort, idem IdempotencyPort) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
		stock:  stock,
		audit:  audit,
		idem:   idem,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a draft transfer. No stock moves until Complete.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateTransferInput) (Transfer, error) {
	if input.FromStoreID == input.ToStoreID {
		return Transfer{}, fmt.Errorf("%w: source and destination store must differ", shared.ErrValidation)
	}

	now := s.now()
	tr := Transfer{
		Number:      generateNumber(now),
		FromStoreID: input.FromStoreID,
		ToStoreID:   input.ToStoreID,
		Status:      StatusDraft,
		Note:        input.Note,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	items := itemsFromInput(0, input.Items)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, &tr); err != nil {
			return err
		}
		for i := range items {
			items[i].TransferID = tr.ID
			if err := tx.InsertItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	tr.Items = items

	s.recordAudit(ctx, actorID, "transfer:create", tr.ID, map[string]any{
		"number": tr.Number, "from": tr.FromStoreID, "to": tr.ToStoreID,
	})
	return tr, nil
}

// Complete executes a draft transfer: every item posts a TRANSFER_OUT leg
// at the source and a TRANSFER_IN leg at the destination in one batch. A
// shortfall at the source rejects the whole transfer.
func (s *Service) Complete(ctx context.Context, actorID, id int64) (Transfer, error) {
	idemKey := fmt.Sprintf("transfer:complete:%d", id)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return Transfer{}, err
		}
	}

	var (
		out     Transfer
		entries []ledger.Entry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tr, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusDraft {
			return fmt.Errorf("%w: complete requires DRAFT, transfer %d is %s", shared.ErrInvalidState, id, tr.Status)
		}
		entries, err = s.stock.ApplyBatch(ctx, tx.Ledger(), actorID, movementLegs(tr, false))
		if err != nil {
			return err
		}
		tr.Status = StatusCompleted
		tr.CompletedBy = actorID
		tr.CompletedAt = s.now()
		tr.UpdatedAt = tr.CompletedAt
		if err := tx.UpdateHeader(ctx, tr); err != nil {
			return err
		}
		out = tr
		return nil
	})
	if err != nil {
		if s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Transfer{}, err
	}

	s.stock.FinishBatch(ctx, actorID, entries)
	s.recordAudit(ctx, actorID, "transfer:complete", id, map[string]any{"entries": len(entries)})
	return out, nil
}

// Cancel closes a transfer. Drafts close without stock effect. Completed
// transfers post the symmetric reversal: TRANSFER_OUT at the destination,
// TRANSFER_IN back at the source. The reversal is rejected when the goods
// are no longer available at the destination.
func (s *Service) Cancel(ctx context.Context, actorID, id int64, reason string) (Transfer, error) {
	idemKey := fmt.Sprintf("transfer:cancel:%d", id)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return Transfer{}, err
		}
	}

	var (
		out     Transfer
		entries []ledger.Entry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tr, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch tr.Status {
		case StatusDraft:
			// nothing posted yet
		case StatusCompleted:
			entries, err = s.stock.ApplyBatch(ctx, tx.Ledger(), actorID, movementLegs(tr, true))
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: transfer %d is already %s", shared.ErrInvalidState, id, tr.Status)
		}
		tr.Status = StatusCancelled
		tr.CancelledBy = actorID
		tr.CancelledAt = s.now()
		tr.CancelReason = reason
		tr.UpdatedAt = tr.CancelledAt
		if err := tx.UpdateHeader(ctx, tr); err != nil {
			return err
		}
		out = tr
		return nil
	})
	if err != nil {
		if s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Transfer{}, err
	}

	if len(entries) > 0 {
		s.stock.FinishBatch(ctx, actorID, entries)
	}
	s.recordAudit(ctx, actorID, "transfer:cancel", id, map[string]any{"reason": reason, "reversed": len(entries) > 0})
	return out, nil
}

// Get loads one transfer with its items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns transfer headers matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	return s.repo.List(ctx, filter)
}

// movementLegs builds the paired ledger movements for a transfer. With
// reverse set the stores swap roles, which is exactly the cancellation of a
// completed transfer.
func movementLegs(tr Transfer, reverse bool) []ledger.Mutation {
	from, to := tr.FromStoreID, tr.ToStoreID
	note := ""
	if reverse {
		from, to = to, from
		note = fmt.Sprintf("cancel transfer %s", tr.Number)
	}
	muts := make([]ledger.Mutation, 0, 2*len(tr.Items))
	for _, item := range tr.Items {
		muts = append(muts,
			ledger.Mutation{
				ProductID:  item.ProductID,
				StoreID:    from,
				Delta:      -item.Quantity,
				Type:       ledger.TypeTransferOut,
				UnitCost:   item.UnitCost,
				TransferID: tr.ID,
				RefModule:  idempotencyModule,
				Note:       note,
			},
			ledger.Mutation{
				ProductID:  item.ProductID,
				StoreID:    to,
				Delta:      item.Quantity,
				Type:       ledger.TypeTransferIn,
				UnitCost:   item.UnitCost,
				TransferID: tr.ID,
				RefModule:  idempotencyModule,
				Note:       note,
			},
		)
	}
	return muts
}

func generateNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TR-%s-%s", at.Format("20060102"), suffix)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "store_transfers",
		EntityID: fmt.Sprintf("%d", transferID),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
