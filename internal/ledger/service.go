package ledger

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetQuantity(ctx context.Context, key RowKey) (float64, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	MutationApplied(txType string)
	ShortfallRejected(items int)
}

// InvalidatorPort flushes cached report reads after a successful mutation.
type InvalidatorPort interface {
	Bump(ctx context.Context) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeAdjustment bool
}

// Service is the only write path to stock rows. Order and transfer
// workflows reuse its engine inside their own transactions via ApplyBatch.
type Service struct {
	repo    RepositoryPort
	engine  Engine
	audit   AuditPort
	metrics MetricsPort
	reports InvalidatorPort
	reads   singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, reports InvalidatorPort, cfg ServiceConfig) *Service {
	return &Service{
		repo:    repo,
		engine:  Engine{AllowNegativeAdjustment: cfg.AllowNegativeAdjustment},
		audit:   audit,
		metrics: metrics,
		reports: reports,
	}
}

// GetQuantity returns the current quantity of a stock row, 0 when absent.
func (s *Service) GetQuantity(ctx context.Context, productID, storeID, variantID int64) (float64, error) {
	if productID == 0 || storeID == 0 {
		return 0, errors.New("ledger: product and store required")
	}
	return s.repo.GetQuantity(ctx, RowKey{ProductID: productID, StoreID: storeID, VariantID: variantID})
}

// ValidateStock checks whether the requested quantity fits the current row
// value. Concurrent checks against the same row are collapsed; approval
// paths never rely on this advisory read, they re-validate under row locks.
func (s *Service) ValidateStock(ctx context.Context, productID, storeID, variantID int64, quantity float64) (Availability, error) {
	if quantity <= 0 {
		return Availability{}, ErrInvalidQuantity
	}
	key := RowKey{ProductID: productID, StoreID: storeID, VariantID: variantID}
	// the collapsed read may serve other callers, so it must not die with
	// the leader's context
	v, err, _ := s.reads.Do(key.String(), func() (any, error) {
		return s.repo.GetQuantity(context.WithoutCancel(ctx), key)
	})
	if err != nil {
		return Availability{}, err
	}
	available := v.(float64)
	return Availability{IsValid: available+qtyEpsilon >= quantity, Available: available}, nil
}

// Mutate applies a single stock movement and returns the written entry.
func (s *Service) Mutate(ctx context.Context, actorID int64, m Mutation) (Entry, error) {
	entries, err := s.MutateBatch(ctx, actorID, []Mutation{m})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// MutateBatch applies several movements as one atomic unit. On any failure
// no row in the batch is changed.
func (s *Service) MutateBatch(ctx context.Context, actorID int64, muts []Mutation) ([]Entry, error) {
	var entries []Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var applyErr error
		entries, applyErr = s.engine.Apply(ctx, store, actorID, muts)
		return applyErr
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	s.finishBatch(ctx, actorID, entries)
	return entries, nil
}

// ApplyBatch runs the engine against a store bound to the caller's open
// transaction. The caller owns commit/rollback; it must call FinishBatch
// after its transaction committed.
func (s *Service) ApplyBatch(ctx context.Context, store TxStore, actorID int64, muts []Mutation) ([]Entry, error) {
	entries, err := s.engine.Apply(ctx, store, actorID, muts)
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	return entries, nil
}

// FinishBatch records metrics/audit and invalidates report caches for a
// batch that was committed by a workflow-owned transaction.
func (s *Service) FinishBatch(ctx context.Context, actorID int64, entries []Entry) {
	s.finishBatch(ctx, actorID, entries)
}

// ListEntries exposes the append-only ledger to the audit/report surface.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, filter)
}

func (s *Service) finishBatch(ctx context.Context, actorID int64, entries []Entry) {
	for _, entry := range entries {
		if s.metrics != nil {
			s.metrics.MutationApplied(string(entry.Type))
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   fmt.Sprintf("ledger:%s", entry.Type),
				Entity:   "stock_ledger",
				EntityID: fmt.Sprintf("%d", entry.ID),
				Meta: map[string]any{
					"product_id":  entry.ProductID,
					"store_id":    entry.StoreID,
					"variant_id":  entry.VariantID,
					"qty_changed": entry.QtyChanged,
					"qty_after":   entry.QtyAfter,
				},
			})
		}
	}
	if s.reports != nil {
		_ = s.reports.Bump(ctx)
	}
}

func (s *Service) observeFailure(err error) {
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) && s.metrics != nil {
		s.metrics.ShortfallRejected(len(insufficient.Items))
	}
}
